// Package tools provides the tool framework for the admission pipeline.
package tools

import (
	"context"
	"sort"
	"strings"
)

// OutputChunk is a unit of streaming output from a running invocation.
// PID is set once on the first chunk of process-backed tools so the
// scheduler can surface a kill handle; Text may be empty on that chunk.
type OutputChunk struct {
	Text string
	PID  int
}

// Invocation is a validated, ready-to-run tool call. Build errors are
// surfaced before any policy or confirmation work happens.
type Invocation interface {
	// Describe returns a short human-readable summary for confirmation
	// prompts, e.g. the command line or the target path.
	Describe() string
	// Run executes the call. emit may be nil; when set it receives
	// streaming output chunks. The returned string is the final result
	// content.
	Run(ctx context.Context, emit func(OutputChunk)) (string, error)
}

// Tool is the interface that all registered tools must implement.
type Tool interface {
	// Name returns the tool identifier used in function calls.
	Name() string
	// Description returns a human-readable description.
	Description() string
	// Parameters returns the JSON Schema for tool parameters.
	Parameters() map[string]any
	// Build validates params and returns a runnable invocation.
	Build(params map[string]any) (Invocation, error)
}

// ShellCommander is implemented by invocations that execute a shell
// command. The policy engine uses it to decompose and vet the command,
// and the executor uses it to decide output-truncation behavior.
type ShellCommander interface {
	Command() string
}

// Registry manages tool registration and lookup.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry creates a new tool registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool to the registry.
func (r *Registry) Register(tool Tool) {
	r.tools[tool.Name()] = tool
}

// Get returns a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns all registered tool names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns tool definitions in function-call format.
func (r *Registry) Definitions() []map[string]any {
	result := make([]map[string]any, 0, len(r.tools))
	for _, name := range r.Names() {
		tool := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        tool.Name(),
				"description": tool.Description(),
				"parameters":  tool.Parameters(),
			},
		})
	}
	return result
}

// Suggest returns the registered name closest to the requested one, for
// "did you mean" hints on unknown tools. Returns "" when nothing is close
// enough to be a plausible typo.
func (r *Registry) Suggest(name string) string {
	best := ""
	bestDist := len(name)/2 + 1 // beyond this it is not a typo
	for candidate := range r.tools {
		d := editDistance(strings.ToLower(name), strings.ToLower(candidate))
		if d < bestDist {
			best = candidate
			bestDist = d
		}
	}
	return best
}

// editDistance is the Levenshtein distance between two strings.
func editDistance(a, b string) int {
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, min(curr[j-1]+1, prev[j-1]+cost))
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}

// GetString extracts a string parameter with a default value.
func GetString(params map[string]any, key string, defaultVal string) string {
	if v, ok := params[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return defaultVal
}

// GetInt extracts an int parameter with a default value.
func GetInt(params map[string]any, key string, defaultVal int) int {
	if v, ok := params[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return defaultVal
}

// GetBool extracts a bool parameter with a default value.
func GetBool(params map[string]any, key string, defaultVal bool) bool {
	if v, ok := params[key]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return defaultVal
}
