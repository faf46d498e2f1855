// Package hooks runs user-configured commands around tool execution.
package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"time"

	"github.com/ToolGate/ToolGate/internal/policy"
)

const (
	EventBeforeTool = "before_tool"
	EventAfterTool  = "after_tool"
)

// Result is the aggregate verdict of the hooks fired for one event.
type Result struct {
	Blocked      bool           `json:"blocked,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	ModifiedArgs map[string]any `json:"modifiedArgs,omitempty"`
}

// Runner fires hook events around tool execution. A blocked before
// result short-circuits the call; ModifiedArgs replace the call's
// arguments when set.
type Runner interface {
	FireBeforeToolEvent(ctx context.Context, tool string, args map[string]any) (Result, error)
	FireAfterToolEvent(ctx context.Context, tool string, args map[string]any, output string) (Result, error)
}

// Hook is one configured hook command.
type Hook struct {
	Name          string        `json:"name"`
	Event         string        `json:"event"`
	Command       string        `json:"command"`
	ProjectScoped bool          `json:"projectScoped,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty"`
}

// event is the JSON payload written to a hook's stdin.
type event struct {
	Event  string         `json:"event"`
	Tool   string         `json:"tool"`
	Args   map[string]any `json:"args,omitempty"`
	Output string         `json:"output,omitempty"`
}

// CommandRunner executes configured hook commands, each gated through
// the policy engine's hook check.
type CommandRunner struct {
	engine *policy.Engine
	hooks  []Hook
}

func NewCommandRunner(engine *policy.Engine, hooks []Hook) *CommandRunner {
	return &CommandRunner{engine: engine, hooks: hooks}
}

func (r *CommandRunner) FireBeforeToolEvent(ctx context.Context, tool string, args map[string]any) (Result, error) {
	return r.fire(ctx, event{Event: EventBeforeTool, Tool: tool, Args: args})
}

func (r *CommandRunner) FireAfterToolEvent(ctx context.Context, tool string, args map[string]any, output string) (Result, error) {
	return r.fire(ctx, event{Event: EventAfterTool, Tool: tool, Args: args, Output: output})
}

// fire runs every hook registered for the event in order. The first
// blocking result wins; modified args accumulate across hooks.
func (r *CommandRunner) fire(ctx context.Context, ev event) (Result, error) {
	var agg Result
	for _, h := range r.hooks {
		if h.Event != ev.Event {
			continue
		}
		decision := r.engine.CheckHook(policy.HookRequest{
			Name:          h.Name,
			Event:         h.Event,
			Command:       h.Command,
			ProjectScoped: h.ProjectScoped,
		})
		if decision != policy.Allow {
			slog.Warn("hook not permitted", "hook", h.Name, "decision", decision)
			continue
		}
		res, err := r.runHook(ctx, h, ev)
		if err != nil {
			return Result{}, fmt.Errorf("hook %q: %w", h.Name, err)
		}
		if res.Blocked {
			return res, nil
		}
		if res.ModifiedArgs != nil {
			agg.ModifiedArgs = res.ModifiedArgs
			ev.Args = res.ModifiedArgs
		}
	}
	return agg, nil
}

func (r *CommandRunner) runHook(ctx context.Context, h Hook, ev event) (Result, error) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := json.Marshal(ev)
	if err != nil {
		return Result{}, err
	}
	cmd := exec.CommandContext(hctx, "sh", "-c", h.Command)
	cmd.Stdin = bytes.NewReader(payload)
	out, err := cmd.Output()
	if err != nil {
		return Result{}, err
	}
	// An empty or non-JSON response means the hook has nothing to say.
	var res Result
	if len(bytes.TrimSpace(out)) == 0 {
		return res, nil
	}
	if err := json.Unmarshal(out, &res); err != nil {
		slog.Warn("hook produced unparsable output", "hook", h.Name, "error", err)
		return Result{}, nil
	}
	return res, nil
}
