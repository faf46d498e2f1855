package tools

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// ExecTool executes shell commands. Admission decisions for the command
// string are the policy engine's job; the tool itself only runs what the
// pipeline has already approved.
type ExecTool struct {
	Timeout time.Duration
	WorkDir string
}

// NewExecTool creates a new ExecTool.
func NewExecTool(timeout time.Duration, workDir string) *ExecTool {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &ExecTool{Timeout: timeout, WorkDir: workDir}
}

func (t *ExecTool) Name() string { return "exec" }

func (t *ExecTool) Description() string {
	return "Execute a shell command and return its output."
}

func (t *ExecTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command to execute",
			},
			"working_dir": map[string]any{
				"type":        "string",
				"description": "Optional working directory for the command",
			},
		},
		"required": []string{"command"},
	}
}

func (t *ExecTool) Build(params map[string]any) (Invocation, error) {
	command := GetString(params, "command", "")
	if strings.TrimSpace(command) == "" {
		return nil, fmt.Errorf("exec: command is required")
	}
	workDir := GetString(params, "working_dir", t.WorkDir)
	return &execInvocation{command: command, workDir: workDir, timeout: t.Timeout}, nil
}

type execInvocation struct {
	command string
	workDir string
	timeout time.Duration
}

func (i *execInvocation) Describe() string { return "$ " + i.command }

// Command implements ShellCommander.
func (i *execInvocation) Command() string { return i.command }

// streamBuffer accumulates output while forwarding each write as a chunk.
type streamBuffer struct {
	mu   sync.Mutex
	buf  bytes.Buffer
	emit func(OutputChunk)
}

func (w *streamBuffer) Write(p []byte) (int, error) {
	w.mu.Lock()
	w.buf.Write(p)
	w.mu.Unlock()
	if w.emit != nil && len(p) > 0 {
		w.emit(OutputChunk{Text: string(p)})
	}
	return len(p), nil
}

func (w *streamBuffer) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.String()
}

func (i *execInvocation) Run(ctx context.Context, emit func(OutputChunk)) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, i.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", i.command)
	if i.workDir != "" {
		cmd.Dir = i.workDir
	}

	stdout := &streamBuffer{emit: emit}
	var stderr bytes.Buffer
	cmd.Stdout = stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("starting command: %w", err)
	}
	if emit != nil && cmd.Process != nil {
		emit(OutputChunk{PID: cmd.Process.Pid})
	}

	err := cmd.Wait()

	var result strings.Builder
	result.WriteString(stdout.String())
	if stderr.Len() > 0 {
		if result.Len() > 0 {
			result.WriteString("\n")
		}
		result.WriteString("STDERR:\n")
		result.WriteString(stderr.String())
	}

	if ctx.Err() == context.DeadlineExceeded {
		return result.String(), fmt.Errorf("command timed out after %v", i.timeout)
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			result.WriteString(fmt.Sprintf("\nExit code: %d", exitErr.ExitCode()))
			return result.String(), nil
		}
		return result.String(), fmt.Errorf("executing command: %w", err)
	}

	if result.Len() == 0 {
		return "(no output)", nil
	}
	return result.String(), nil
}
