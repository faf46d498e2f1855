// Package scheduler orchestrates tool-call batches: validation, policy
// admission, human confirmation, and execution, one call at a time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ToolGate/ToolGate/internal/audit"
	"github.com/ToolGate/ToolGate/internal/bus"
	"github.com/ToolGate/ToolGate/internal/confirm"
	"github.com/ToolGate/ToolGate/internal/policy"
	"github.com/ToolGate/ToolGate/internal/tools"
)

// ErrCancelled rejects batches that were still queued when CancelAll ran.
var ErrCancelled = errors.New("scheduler cancelled")

// Executor runs one validated, approved call to completion. onOutput
// receives streaming chunks (text and, for process tools, the PID). The
// returned status is success, error, or cancelled; the response payload
// is meaningful only for success and error.
type Executor interface {
	Execute(ctx context.Context, call ToolCall, onOutput func(tools.OutputChunk)) (Status, Response)
}

// Options wires the scheduler's collaborators. Registry, Engine, Bus,
// and Executor are required; the rest are optional.
type Options struct {
	Registry *tools.Registry
	Engine   *policy.Engine
	Bus      *bus.Bus
	Executor Executor
	State    *State

	// Modify handles modify-with-editor confirmation outcomes. Nil means
	// that outcome cancels the call.
	Modify confirm.ModifyFunc

	// RulePersistPath is where proceed-always-and-save rules are
	// appended. Empty disables persistence.
	RulePersistPath string

	// ConfirmTimeout caps how long a confirmation may wait for a human.
	// Zero means wait until the batch is aborted.
	ConfirmTimeout time.Duration

	// Audit records decisions and approvals when set. Failures degrade
	// gracefully; auditing never fails a call.
	Audit *audit.Service
}

// BatchResult is the deferred outcome of one Schedule call. It settles
// exactly once, when every call in the batch is terminal or the batch
// was rejected by CancelAll.
type BatchResult struct {
	done  chan struct{}
	calls []ToolCall
	err   error
}

// Wait blocks until the batch settles or ctx expires.
func (r *BatchResult) Wait(ctx context.Context) ([]ToolCall, error) {
	select {
	case <-r.done:
		return r.calls, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done is closed when the batch has settled.
func (r *BatchResult) Done() <-chan struct{} { return r.done }

type queueItem struct {
	ctx      context.Context
	requests []Request
	result   *BatchResult
}

// Scheduler serializes batches: one batch is processed at a time and
// later Schedule calls queue FIFO behind it.
type Scheduler struct {
	opts Options

	mu          sync.Mutex
	running     bool
	cancelling  bool
	queue       []*queueItem
	activeAbort context.CancelFunc

	unbind func()
}

func New(opts Options) *Scheduler {
	if opts.State == nil {
		opts.State = NewState()
	}
	s := &Scheduler{opts: opts}
	if opts.Engine != nil && opts.Bus != nil {
		s.unbind = policy.BindUpdates(opts.Engine, opts.Bus, opts.RulePersistPath)
	}
	return s
}

// State exposes the call state manager for observers.
func (s *Scheduler) State() *State { return s.opts.State }

// Close detaches the scheduler from the policy update topic.
func (s *Scheduler) Close() {
	if s.unbind != nil {
		s.unbind()
	}
}

// Schedule submits a batch. If a batch is already active the new one is
// queued and runs strictly after it. The returned result settles when
// the batch finishes.
func (s *Scheduler) Schedule(ctx context.Context, requests []Request) *BatchResult {
	item := &queueItem{ctx: ctx, requests: requests, result: &BatchResult{done: make(chan struct{})}}
	s.mu.Lock()
	if s.cancelling {
		s.mu.Unlock()
		item.result.err = ErrCancelled
		close(item.result.done)
		return item.result
	}
	if s.running {
		s.queue = append(s.queue, item)
		s.mu.Unlock()
		return item.result
	}
	s.running = true
	s.mu.Unlock()
	go s.run(item)
	return item.result
}

// CancelAll aborts the active batch and rejects everything still queued.
// Idempotent: concurrent calls are no-ops while one is in progress.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	if s.cancelling {
		s.mu.Unlock()
		return
	}
	s.cancelling = true
	queued := s.queue
	s.queue = nil
	abort := s.activeAbort
	s.mu.Unlock()

	for _, item := range queued {
		item.result.err = ErrCancelled
		close(item.result.done)
	}
	if abort != nil {
		abort()
	}

	s.mu.Lock()
	s.cancelling = false
	s.mu.Unlock()
}

// run drains the cross-batch queue. Only one run loop exists at a time,
// guarded by the running flag.
func (s *Scheduler) run(item *queueItem) {
	for {
		s.runBatch(item)
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		item = s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()
	}
}

func (s *Scheduler) runBatch(item *queueItem) {
	ctx, abort := context.WithCancel(item.ctx)
	defer abort()
	s.mu.Lock()
	s.activeAbort = abort
	s.mu.Unlock()

	ids := s.admit(item.requests)

	for _, id := range ids {
		call, ok := s.opts.State.Get(id)
		if !ok || call.Status.Terminal() {
			continue
		}
		if ctx.Err() != nil {
			s.finalizeCancelled(id)
			continue
		}
		if cascade := s.process(ctx, id); cascade {
			// A user Cancel aborts the rest of this batch.
			abort()
		}
	}

	item.result.calls = s.opts.State.Snapshot(ids)
	close(item.result.done)
}

// admit resolves and validates every request, tracking each resulting
// call. Unknown tools and build failures become immediately terminal.
func (s *Scheduler) admit(requests []Request) []string {
	ids := make([]string, 0, len(requests))
	for _, req := range requests {
		if req.CallID == "" {
			req.CallID = uuid.NewString()
		}
		ids = append(ids, req.CallID)
		call := &ToolCall{Request: req, Status: StatusValidating, StartedAt: time.Now()}

		tool, ok := s.opts.Registry.Get(req.Tool)
		if !ok {
			msg := fmt.Sprintf("tool %q is not registered", req.Tool)
			if sugg := s.opts.Registry.Suggest(req.Tool); sugg != "" {
				msg += fmt.Sprintf(", did you mean %q?", sugg)
			}
			call.Status = StatusError
			call.Response = &Response{ErrorKind: ErrToolNotRegistered, Error: msg}
			call.CompletedAt = time.Now()
			s.opts.State.Track(call)
			continue
		}
		inv, err := tool.Build(req.Args)
		if err != nil {
			call.Status = StatusError
			call.Response = &Response{ErrorKind: ErrInvalidToolParams, Error: err.Error()}
			call.CompletedAt = time.Now()
			s.opts.State.Track(call)
			continue
		}
		call.Invocation = inv
		s.opts.State.Track(call)
	}
	return ids
}

// process drives one call through policy check, confirmation, and
// execution. Returns true when the rest of the batch must be cancelled.
func (s *Scheduler) process(ctx context.Context, callID string) (cascade bool) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("tool call pipeline panicked", "call_id", callID, "panic", r)
			s.finalizeError(callID, ErrUnhandledException, fmt.Sprint(r))
		}
	}()

	call, _ := s.opts.State.Get(callID)
	res := s.opts.Engine.Check(ctx, policy.Action{
		Tool:       call.Request.Tool,
		ServerName: call.Request.ServerName,
		Args:       call.Request.Args,
	})
	s.auditDecision(call, res)

	switch res.Decision {
	case policy.Deny:
		msg := "denied by policy"
		if res.Rule != nil && res.Rule.ToolName != "" {
			msg = fmt.Sprintf("denied by policy rule for %q", res.Rule.ToolName)
		}
		s.finalizeError(callID, ErrPolicyViolation, msg)
		return false
	case policy.AskUser:
		proceed, userCancelled := s.confirmCall(ctx, callID)
		if !proceed {
			return userCancelled
		}
	}

	s.opts.State.UpdateStatus(callID, StatusScheduled, nil)
	if ctx.Err() != nil {
		s.finalizeCancelled(callID)
		return false
	}
	s.opts.State.UpdateStatus(callID, StatusExecuting, nil)

	call, _ = s.opts.State.Get(callID)
	status, resp := s.opts.Executor.Execute(ctx, call, func(chunk tools.OutputChunk) {
		s.opts.State.Patch(callID, func(c *ToolCall) {
			if chunk.PID != 0 {
				c.PID = chunk.PID
			}
			c.LiveOutput += chunk.Text
		})
	})
	s.opts.State.UpdateStatus(callID, status, func(c *ToolCall) {
		if status != StatusCancelled {
			r := resp
			c.Response = &r
		}
		c.CompletedAt = time.Now()
	})
	return false
}

// confirmCall runs the confirmation handshake for one ASK_USER call.
// proceed is true when the call may continue to execution; cascade is
// true when the user cancelled and the rest of the batch must stop.
func (s *Scheduler) confirmCall(ctx context.Context, callID string) (proceed, cascade bool) {
	call, _ := s.opts.State.Get(callID)
	cctx := ctx
	if s.opts.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, s.opts.ConfirmTimeout)
		defer cancel()
	}

	details := confirm.CallDetails{
		CallID:      call.Request.CallID,
		Tool:        call.Request.Tool,
		ServerName:  call.Request.ServerName,
		Args:        call.Request.Args,
		Description: call.Invocation.Describe(),
	}
	approvalID := s.auditApprovalPending(details)

	res, details, err := confirm.Resolve(cctx, details, confirm.Deps{Bus: s.opts.Bus, Modify: s.opts.Modify})
	if err != nil {
		// Aborted or timed out with no answer.
		s.auditApprovalResolved(approvalID, "timeout")
		s.finalizeCancelled(callID)
		return false, false
	}
	if !res.Outcome.Proceeds() {
		s.auditApprovalResolved(approvalID, "denied")
		s.finalizeCancelled(callID)
		return false, true
	}
	s.auditApprovalResolved(approvalID, "approved")

	if upd, ok := confirm.PolicyUpdateFor(res.Outcome, details); ok {
		s.opts.Bus.Publish(bus.TopicUpdatePolicy, upd)
	}

	// Rebuild the invocation so edited arguments take effect.
	tool, ok := s.opts.Registry.Get(call.Request.Tool)
	if !ok {
		s.finalizeError(callID, ErrToolNotRegistered, fmt.Sprintf("tool %q is not registered", call.Request.Tool))
		return false, false
	}
	inv, err := tool.Build(details.Args)
	if err != nil {
		s.finalizeError(callID, ErrInvalidToolParams, err.Error())
		return false, false
	}
	s.opts.State.Patch(callID, func(c *ToolCall) {
		c.Request.Args = details.Args
		c.Invocation = inv
	})
	return true, false
}

func (s *Scheduler) finalizeError(callID string, kind ErrorKind, msg string) {
	s.opts.State.UpdateStatus(callID, StatusError, func(c *ToolCall) {
		c.Response = &Response{ErrorKind: kind, Error: msg}
		c.CompletedAt = time.Now()
	})
}

func (s *Scheduler) finalizeCancelled(callID string) {
	s.opts.State.UpdateStatus(callID, StatusCancelled, func(c *ToolCall) {
		c.CompletedAt = time.Now()
	})
}

func (s *Scheduler) auditDecision(call ToolCall, res policy.CheckResult) {
	if s.opts.Audit == nil {
		return
	}
	rec := &audit.DecisionRecord{
		CallID:   call.Request.CallID,
		Tool:     call.Request.Tool,
		Decision: string(res.Decision),
	}
	if res.Rule != nil {
		rec.RuleTool = res.Rule.ToolName
		rec.RuleSource = res.Rule.Source
	}
	if err := s.opts.Audit.LogDecision(rec); err != nil {
		slog.Warn("audit decision failed", "call_id", call.Request.CallID, "error", err)
	}
}

func (s *Scheduler) auditApprovalPending(details confirm.CallDetails) string {
	if s.opts.Audit == nil {
		return ""
	}
	id := uuid.NewString()
	args := policy.CanonicalArgs(details.Args)
	if err := s.opts.Audit.InsertApproval(id, details.CallID, details.Tool, args); err != nil {
		slog.Warn("audit approval failed", "call_id", details.CallID, "error", err)
		return ""
	}
	return id
}

func (s *Scheduler) auditApprovalResolved(approvalID, status string) {
	if s.opts.Audit == nil || approvalID == "" {
		return
	}
	if err := s.opts.Audit.ResolveApproval(approvalID, status); err != nil {
		slog.Warn("audit approval update failed", "approval_id", approvalID, "error", err)
	}
}
