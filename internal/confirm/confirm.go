// Package confirm implements the asynchronous human-approval handshake
// for tool calls awaiting confirmation.
package confirm

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ToolGate/ToolGate/internal/bus"
)

// Outcome is the human's resolved choice for a confirmation request.
type Outcome string

const (
	ProceedOnce          Outcome = "proceed_once"
	ProceedAlways        Outcome = "proceed_always"
	ProceedAlwaysAndSave Outcome = "proceed_always_and_save"
	ProceedAlwaysServer  Outcome = "proceed_always_server"
	ProceedAlwaysTool    Outcome = "proceed_always_tool"
	ModifyWithEditor     Outcome = "modify_with_editor"
	Cancel               Outcome = "cancel"
)

// Proceeds reports whether the outcome lets the call run.
func (o Outcome) Proceeds() bool {
	switch o {
	case ProceedOnce, ProceedAlways, ProceedAlwaysAndSave, ProceedAlwaysServer, ProceedAlwaysTool:
		return true
	}
	return false
}

// Result is the resolved confirmation: the outcome plus any payload the
// responder attached.
type Result struct {
	Outcome Outcome
	Payload map[string]any
}

// Await subscribes to the confirmation response topic and resolves on the
// first response matching correlationID. Responses for other ids are
// ignored. The subscription is removed on every exit path, and an
// already-expired context fails fast without subscribing at all.
//
// Timeouts are the caller's concern: pass a context with a deadline.
func Await(ctx context.Context, b *bus.Bus, correlationID string) (Result, error) {
	return awaitResponse(ctx, b, correlationID, nil)
}

// awaitResponse subscribes to the response topic and then runs publish
// (when set) before blocking, so a responder that answers synchronously
// during the request publish is not missed.
func awaitResponse(ctx context.Context, b *bus.Bus, correlationID string, publish func()) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	responses := make(chan bus.ConfirmationResponse, 1)
	unsubscribe := b.Subscribe(bus.TopicConfirmationResponse, func(msg any) {
		resp, ok := msg.(bus.ConfirmationResponse)
		if !ok || resp.CorrelationID != correlationID {
			return
		}
		select {
		case responses <- resp:
		default: // already resolved; later duplicates are dropped
		}
	})
	defer unsubscribe()

	if publish != nil {
		publish()
	}

	select {
	case resp := <-responses:
		return mapResponse(resp), nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// mapResponse translates a raw bus response into an outcome. A bare
// confirmed=true means proceed once; a bare confirmed=false means cancel.
func mapResponse(resp bus.ConfirmationResponse) Result {
	out := Outcome(resp.Outcome)
	if out == "" {
		if resp.Confirmed {
			out = ProceedOnce
		} else {
			out = Cancel
		}
	}
	return Result{Outcome: out, Payload: resp.Payload}
}

// CallDetails is the serializable description of a call published with a
// confirmation request.
type CallDetails struct {
	CallID      string
	Tool        string
	ServerName  string
	Args        map[string]any
	Description string
}

// ModifyFunc produces revised arguments for a call when the human picks
// modify-with-editor.
type ModifyFunc func(ctx context.Context, details CallDetails) (map[string]any, error)

// Deps are the collaborators Resolve needs.
type Deps struct {
	Bus    *bus.Bus
	Modify ModifyFunc
}

// Resolve drives the full confirmation exchange for one call: publish the
// request, await the answer, and on modify-with-editor run the
// modification handler and re-enter confirmation with the revised call.
// The returned CallDetails reflect any modifications the human made.
func Resolve(ctx context.Context, details CallDetails, deps Deps) (Result, CallDetails, error) {
	for {
		correlationID := uuid.NewString()
		res, err := awaitResponse(ctx, deps.Bus, correlationID, func() {
			deps.Bus.Publish(bus.TopicConfirmationRequest, bus.ConfirmationRequest{
				CorrelationID: correlationID,
				CallID:        details.CallID,
				Tool:          details.Tool,
				ServerName:    details.ServerName,
				Arguments:     details.Args,
				Description:   details.Description,
				Timestamp:     time.Now(),
			})
		})
		if err != nil {
			return Result{}, details, err
		}
		if res.Outcome != ModifyWithEditor {
			return res, details, nil
		}

		if deps.Modify == nil {
			// No editor available: the safest reading of "modify" with
			// nothing to modify in is a cancel.
			return Result{Outcome: Cancel, Payload: res.Payload}, details, nil
		}
		revised, err := deps.Modify(ctx, details)
		if err != nil {
			return Result{}, details, fmt.Errorf("modifying call %s: %w", details.CallID, err)
		}
		details.Args = revised
	}
}

// PolicyUpdateFor translates a proceed-always outcome into the policy
// update the scheduler publishes on the UPDATE_POLICY topic. Returns
// false for outcomes that do not change policy.
func PolicyUpdateFor(outcome Outcome, details CallDetails) (bus.PolicyUpdate, bool) {
	upd := bus.PolicyUpdate{Tool: details.Tool}
	switch outcome {
	case ProceedAlways, ProceedAlwaysAndSave:
		// Shell calls are scoped to the approved command as a prefix;
		// everything else is tool-wide.
		if cmd, ok := details.Args["command"].(string); ok && cmd != "" {
			upd.CommandPrefix = cmd
		}
	case ProceedAlwaysTool:
		// Tool-wide, no argument scoping.
	case ProceedAlwaysServer:
		if details.ServerName == "" {
			return bus.PolicyUpdate{}, false
		}
		upd.ServerName = details.ServerName
		upd.Tool = ""
	default:
		return bus.PolicyUpdate{}, false
	}
	upd.Persist = outcome == ProceedAlwaysAndSave
	return upd, true
}
