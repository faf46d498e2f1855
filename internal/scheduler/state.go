package scheduler

import (
	"log/slog"
	"sync"
)

// Observer receives a snapshot of a call after every status change or
// executing-payload patch. Snapshots are copies; observers must not
// retain pointers into scheduler state.
type Observer func(call ToolCall)

// State owns all mutable per-call records. Every mutation funnels
// through UpdateStatus or Patch, so observers always see consistent
// snapshots and illegal transitions are rejected in one place.
type State struct {
	mu        sync.Mutex
	calls     map[string]*ToolCall
	order     []string
	observers []Observer
}

func NewState() *State {
	return &State{calls: make(map[string]*ToolCall)}
}

// Observe registers an observer for all subsequent call updates.
func (s *State) Observe(fn Observer) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

// Track registers a new call and notifies observers of its initial
// status.
func (s *State) Track(call *ToolCall) {
	s.mu.Lock()
	s.calls[call.Request.CallID] = call
	s.order = append(s.order, call.Request.CallID)
	snap := *call
	obs := s.observers
	s.mu.Unlock()
	for _, fn := range obs {
		fn(snap)
	}
}

// UpdateStatus moves a call to a new status, applying mutate (when set)
// to fill the status-specific payload. Transitions out of a terminal
// status are dropped: a cancelled call stays cancelled even if the
// executor reports a late result.
func (s *State) UpdateStatus(callID string, status Status, mutate func(*ToolCall)) {
	s.mu.Lock()
	call, ok := s.calls[callID]
	if !ok {
		s.mu.Unlock()
		slog.Warn("status update for unknown call", "call_id", callID, "status", status)
		return
	}
	if call.Status.Terminal() {
		s.mu.Unlock()
		return
	}
	call.Status = status
	if mutate != nil {
		mutate(call)
	}
	snap := *call
	obs := s.observers
	s.mu.Unlock()
	for _, fn := range obs {
		fn(snap)
	}
}

// Patch updates a call's payload without changing its status. Used for
// PID and live-output updates while executing. No-op on terminal calls.
func (s *State) Patch(callID string, mutate func(*ToolCall)) {
	s.mu.Lock()
	call, ok := s.calls[callID]
	if !ok || call.Status.Terminal() {
		s.mu.Unlock()
		return
	}
	mutate(call)
	snap := *call
	obs := s.observers
	s.mu.Unlock()
	for _, fn := range obs {
		fn(snap)
	}
}

// Get returns a snapshot of one call.
func (s *State) Get(callID string) (ToolCall, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	call, ok := s.calls[callID]
	if !ok {
		return ToolCall{}, false
	}
	return *call, true
}

// Snapshot returns copies of the given calls in order.
func (s *State) Snapshot(callIDs []string) []ToolCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ToolCall, 0, len(callIDs))
	for _, id := range callIDs {
		if call, ok := s.calls[id]; ok {
			out = append(out, *call)
		}
	}
	return out
}
