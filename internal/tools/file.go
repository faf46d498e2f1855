package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// expandHome expands a leading ~ to the user's home directory.
func expandHome(path string) string {
	if strings.HasPrefix(path, "~") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

// ReadFileTool reads the contents of a file.
type ReadFileTool struct{}

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Description() string {
	return "Read the contents of a file at the specified path."
}

func (t *ReadFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "The path to the file to read",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Build(params map[string]any) (Invocation, error) {
	path := GetString(params, "path", "")
	if path == "" {
		return nil, fmt.Errorf("read_file: path is required")
	}
	return &readFileInvocation{path: expandHome(path)}, nil
}

type readFileInvocation struct {
	path string
}

func (i *readFileInvocation) Describe() string { return "read " + i.path }

func (i *readFileInvocation) Run(ctx context.Context, emit func(OutputChunk)) (string, error) {
	content, err := os.ReadFile(i.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file not found: %s", i.path)
		}
		return "", fmt.Errorf("reading %s: %w", i.path, err)
	}
	return string(content), nil
}

// WriteFileTool writes content to a file, creating parent directories.
type WriteFileTool struct{}

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Description() string {
	return "Write content to a file, creating it if necessary."
}

func (t *WriteFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "The path to the file to write",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "The content to write",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Build(params map[string]any) (Invocation, error) {
	path := GetString(params, "path", "")
	if path == "" {
		return nil, fmt.Errorf("write_file: path is required")
	}
	content, ok := params["content"].(string)
	if !ok {
		return nil, fmt.Errorf("write_file: content is required")
	}
	return &writeFileInvocation{path: expandHome(path), content: content}, nil
}

type writeFileInvocation struct {
	path    string
	content string
}

func (i *writeFileInvocation) Describe() string { return "write " + i.path }

func (i *writeFileInvocation) Run(ctx context.Context, emit func(OutputChunk)) (string, error) {
	if dir := filepath.Dir(i.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(i.path, []byte(i.content), 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", i.path, err)
	}
	return fmt.Sprintf("Wrote %d bytes to %s", len(i.content), i.path), nil
}

// EditFileTool replaces an exact substring in a file.
type EditFileTool struct{}

func (t *EditFileTool) Name() string { return "edit_file" }

func (t *EditFileTool) Description() string {
	return "Replace an exact text snippet in a file with new text."
}

func (t *EditFileTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "The path to the file to edit",
			},
			"old_text": map[string]any{
				"type":        "string",
				"description": "The exact text to replace",
			},
			"new_text": map[string]any{
				"type":        "string",
				"description": "The replacement text",
			},
		},
		"required": []string{"path", "old_text", "new_text"},
	}
}

func (t *EditFileTool) Build(params map[string]any) (Invocation, error) {
	path := GetString(params, "path", "")
	if path == "" {
		return nil, fmt.Errorf("edit_file: path is required")
	}
	oldText := GetString(params, "old_text", "")
	if oldText == "" {
		return nil, fmt.Errorf("edit_file: old_text is required")
	}
	newText := GetString(params, "new_text", "")
	return &editFileInvocation{path: expandHome(path), oldText: oldText, newText: newText}, nil
}

type editFileInvocation struct {
	path    string
	oldText string
	newText string
}

func (i *editFileInvocation) Describe() string { return "edit " + i.path }

func (i *editFileInvocation) Run(ctx context.Context, emit func(OutputChunk)) (string, error) {
	content, err := os.ReadFile(i.path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", i.path, err)
	}
	text := string(content)
	if !strings.Contains(text, i.oldText) {
		return "", fmt.Errorf("old_text not found in %s", i.path)
	}
	text = strings.Replace(text, i.oldText, i.newText, 1)
	if err := os.WriteFile(i.path, []byte(text), 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", i.path, err)
	}
	return fmt.Sprintf("Edited %s", i.path), nil
}

// ListDirTool lists directory entries.
type ListDirTool struct{}

func (t *ListDirTool) Name() string { return "list_dir" }

func (t *ListDirTool) Description() string {
	return "List the entries of a directory."
}

func (t *ListDirTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": "The directory to list",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ListDirTool) Build(params map[string]any) (Invocation, error) {
	path := GetString(params, "path", "")
	if path == "" {
		return nil, fmt.Errorf("list_dir: path is required")
	}
	return &listDirInvocation{path: expandHome(path)}, nil
}

type listDirInvocation struct {
	path string
}

func (i *listDirInvocation) Describe() string { return "list " + i.path }

func (i *listDirInvocation) Run(ctx context.Context, emit func(OutputChunk)) (string, error) {
	entries, err := os.ReadDir(i.path)
	if err != nil {
		return "", fmt.Errorf("listing %s: %w", i.path, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		return "(empty directory)", nil
	}
	return strings.Join(names, "\n"), nil
}
