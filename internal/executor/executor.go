// Package executor runs one validated, approved tool call to
// completion: hook events around the invocation, streaming output,
// and shell-output truncation.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ToolGate/ToolGate/internal/hooks"
	"github.com/ToolGate/ToolGate/internal/scheduler"
	"github.com/ToolGate/ToolGate/internal/tools"
)

// Truncation bounds the inline content returned for shell tools. Zero
// fields fall back to the defaults.
type Truncation struct {
	MaxBytes int
	MaxLines int
}

const (
	defaultMaxBytes = 40960
	defaultMaxLines = 400
)

// Service executes calls for the scheduler.
type Service struct {
	registry *tools.Registry
	hooks    hooks.Runner
	truncate Truncation
	// outputDir receives full shell output when the inline copy is
	// truncated. Empty disables side files.
	outputDir string
}

func New(registry *tools.Registry, hookRunner hooks.Runner, truncate Truncation, outputDir string) *Service {
	if truncate.MaxBytes <= 0 {
		truncate.MaxBytes = defaultMaxBytes
	}
	if truncate.MaxLines <= 0 {
		truncate.MaxLines = defaultMaxLines
	}
	return &Service{registry: registry, hooks: hookRunner, truncate: truncate, outputDir: outputDir}
}

// Execute runs the call's invocation. An aborted context yields a
// cancelled status regardless of what the tool returned; a blocking
// before-hook yields a policy-violation error without running the tool.
func (s *Service) Execute(ctx context.Context, call scheduler.ToolCall, onOutput func(tools.OutputChunk)) (scheduler.Status, scheduler.Response) {
	inv := call.Invocation
	args := call.Request.Args

	if s.hooks != nil {
		res, err := s.hooks.FireBeforeToolEvent(ctx, call.Request.Tool, args)
		if err != nil {
			return scheduler.StatusError, scheduler.Response{
				ErrorKind: scheduler.ErrUnhandledException,
				Error:     fmt.Sprintf("before-tool hook failed: %v", err),
			}
		}
		if res.Blocked {
			reason := res.Reason
			if reason == "" {
				reason = "blocked by hook"
			}
			return scheduler.StatusError, scheduler.Response{
				ErrorKind: scheduler.ErrPolicyViolation,
				Error:     reason,
			}
		}
		if res.ModifiedArgs != nil {
			rebuilt, err := s.rebuild(call.Request.Tool, res.ModifiedArgs)
			if err != nil {
				return scheduler.StatusError, scheduler.Response{
					ErrorKind: scheduler.ErrInvalidToolParams,
					Error:     fmt.Sprintf("hook-modified args: %v", err),
				}
			}
			inv = rebuilt
			args = res.ModifiedArgs
		}
	}

	out, runErr := inv.Run(ctx, onOutput)

	if ctx.Err() != nil {
		return scheduler.StatusCancelled, scheduler.Response{}
	}

	if s.hooks != nil {
		if _, err := s.hooks.FireAfterToolEvent(ctx, call.Request.Tool, args, out); err != nil {
			slog.Warn("after-tool hook failed", "call_id", call.Request.CallID, "error", err)
		}
	}

	if runErr != nil {
		return scheduler.StatusError, scheduler.Response{
			ErrorKind: scheduler.ErrUnhandledException,
			Error:     runErr.Error(),
		}
	}

	resp := scheduler.Response{Content: out}
	if _, isShell := inv.(tools.ShellCommander); isShell {
		resp.Content, resp.OutputFile = s.truncateOutput(call.Request.CallID, out)
	}
	return scheduler.StatusSuccess, resp
}

func (s *Service) rebuild(toolName string, args map[string]any) (tools.Invocation, error) {
	if s.registry == nil {
		return nil, fmt.Errorf("no registry to rebuild %q", toolName)
	}
	tool, ok := s.registry.Get(toolName)
	if !ok {
		return nil, fmt.Errorf("tool %q is not registered", toolName)
	}
	return tool.Build(args)
}

// truncateOutput bounds shell output by bytes and lines. When trimmed,
// the full output is persisted to a side file and referenced from the
// inline content. Side-file failures degrade to truncation without a
// reference; they never fail the call.
func (s *Service) truncateOutput(callID, out string) (string, string) {
	trimmed, wasTrimmed := clip(out, s.truncate.MaxBytes, s.truncate.MaxLines)
	if !wasTrimmed {
		return out, ""
	}

	var sideFile string
	if s.outputDir != "" {
		if err := os.MkdirAll(s.outputDir, 0o755); err == nil {
			path := filepath.Join(s.outputDir, callID+".out")
			if err := os.WriteFile(path, []byte(out), 0o644); err == nil {
				sideFile = path
			} else {
				slog.Warn("failed to persist full output", "call_id", callID, "error", err)
			}
		} else {
			slog.Warn("failed to create output dir", "dir", s.outputDir, "error", err)
		}
	}

	note := fmt.Sprintf("\n... [output truncated, %d bytes total", len(out))
	if sideFile != "" {
		note += ", full output: " + sideFile
	}
	note += "]"
	return trimmed + note, sideFile
}

// clip returns out bounded to maxBytes and maxLines, cutting at a line
// boundary where possible.
func clip(out string, maxBytes, maxLines int) (string, bool) {
	clipped := false
	if lines := strings.Count(out, "\n"); lines > maxLines {
		idx := 0
		for i := 0; i < maxLines; i++ {
			next := strings.IndexByte(out[idx:], '\n')
			if next < 0 {
				break
			}
			idx += next + 1
		}
		out = out[:idx]
		clipped = true
	}
	if len(out) > maxBytes {
		out = out[:maxBytes]
		clipped = true
	}
	return out, clipped
}
