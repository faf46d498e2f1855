package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	r.Register(&ReadFileTool{})
	r.Register(&WriteFileTool{})

	if _, ok := r.Get("read_file"); !ok {
		t.Fatal("read_file should be registered")
	}
	if _, ok := r.Get("nope"); ok {
		t.Fatal("unknown tool should not resolve")
	}
	names := r.Names()
	if len(names) != 2 || names[0] != "read_file" || names[1] != "write_file" {
		t.Fatalf("unexpected names: %v", names)
	}
}

func TestSuggestFindsCloseName(t *testing.T) {
	r := NewRegistry()
	r.Register(&ReadFileTool{})
	r.Register(&WriteFileTool{})
	r.Register(NewExecTool(0, ""))

	if got := r.Suggest("read_fil"); got != "read_file" {
		t.Fatalf("expected read_file, got %q", got)
	}
	if got := r.Suggest("exce"); got != "exec" {
		t.Fatalf("expected exec, got %q", got)
	}
	if got := r.Suggest("completely_unrelated_name"); got != "" {
		t.Fatalf("expected no suggestion, got %q", got)
	}
}

func TestReadFileBuildRequiresPath(t *testing.T) {
	tool := &ReadFileTool{}
	if _, err := tool.Build(map[string]any{}); err == nil {
		t.Fatal("expected build error for missing path")
	}
}

func TestWriteThenReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "note.txt")

	wInv, err := (&WriteFileTool{}).Build(map[string]any{"path": path, "content": "hello"})
	if err != nil {
		t.Fatalf("build write: %v", err)
	}
	if _, err := wInv.Run(context.Background(), nil); err != nil {
		t.Fatalf("write: %v", err)
	}

	rInv, err := (&ReadFileTool{}).Build(map[string]any{"path": path})
	if err != nil {
		t.Fatalf("build read: %v", err)
	}
	out, err := rInv.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if out != "hello" {
		t.Fatalf("unexpected content: %q", out)
	}
}

func TestEditFileReplacesOnce(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(path, []byte("aaa bbb aaa"), 0o644); err != nil {
		t.Fatal(err)
	}

	inv, err := (&EditFileTool{}).Build(map[string]any{
		"path": path, "old_text": "aaa", "new_text": "ccc",
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := inv.Run(context.Background(), nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	content, _ := os.ReadFile(path)
	if string(content) != "ccc bbb aaa" {
		t.Fatalf("unexpected content: %q", content)
	}
}

func TestEditFileMissingOldText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.txt")
	if err := os.WriteFile(path, []byte("content"), 0o644); err != nil {
		t.Fatal(err)
	}
	inv, err := (&EditFileTool{}).Build(map[string]any{
		"path": path, "old_text": "absent", "new_text": "x",
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if _, err := inv.Run(context.Background(), nil); err == nil {
		t.Fatal("expected error for missing old_text")
	}
}

func TestExecToolRunsAndStreams(t *testing.T) {
	tool := NewExecTool(10*time.Second, "")
	inv, err := tool.Build(map[string]any{"command": "echo streaming"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	sc, ok := inv.(ShellCommander)
	if !ok {
		t.Fatal("exec invocation must implement ShellCommander")
	}
	if sc.Command() != "echo streaming" {
		t.Fatalf("unexpected command: %q", sc.Command())
	}

	var pid int
	var streamed strings.Builder
	out, err := inv.Run(context.Background(), func(c OutputChunk) {
		if c.PID != 0 {
			pid = c.PID
		}
		streamed.WriteString(c.Text)
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "streaming") {
		t.Fatalf("unexpected output: %q", out)
	}
	if pid == 0 {
		t.Fatal("expected a PID chunk")
	}
	if !strings.Contains(streamed.String(), "streaming") {
		t.Fatalf("expected streamed output, got %q", streamed.String())
	}
}

func TestExecToolNonZeroExit(t *testing.T) {
	tool := NewExecTool(10*time.Second, "")
	inv, err := tool.Build(map[string]any{"command": "exit 3"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	out, err := inv.Run(context.Background(), nil)
	if err != nil {
		t.Fatalf("non-zero exit should not be a tool error: %v", err)
	}
	if !strings.Contains(out, "Exit code: 3") {
		t.Fatalf("expected exit code in output, got %q", out)
	}
}

func TestExecToolBuildRequiresCommand(t *testing.T) {
	tool := NewExecTool(0, "")
	if _, err := tool.Build(map[string]any{"command": "  "}); err == nil {
		t.Fatal("expected build error for blank command")
	}
}
