// Package policy provides rule-based admission decisions for tool calls.
package policy

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Decision is the verdict for a proposed tool call.
type Decision string

const (
	Allow   Decision = "allow"
	Deny    Decision = "deny"
	AskUser Decision = "ask_user"
)

// ApprovalMode is the agent-wide approval posture.
type ApprovalMode string

const (
	ModeDefault  ApprovalMode = "default"
	ModeAutoEdit ApprovalMode = "auto_edit"
	ModePlan     ApprovalMode = "plan"
	ModeYolo     ApprovalMode = "yolo"
)

// Priority tiers. The integer part of a rule priority is its trust tier;
// the fractional part orders rules within a tier. Admin rules therefore
// always outrank user rules, which always outrank bundled defaults.
const (
	TierDefault = 1.0
	TierUser    = 2.0
	TierAdmin   = 3.0

	// UserAlwaysPriority is where confirmation-synthesized "always allow"
	// rules land: near the top of the user tier, below anything admin.
	UserAlwaysPriority = 2.95
)

// Rule is one admission rule. Rules are immutable once added to an engine.
type Rule struct {
	// ToolName matches the bare tool name, a server-qualified
	// "server__tool" name, or a "server__*" wildcard. Empty matches any
	// tool.
	ToolName string `json:"toolName,omitempty"`
	// McpName is the rule-file shorthand for a server wildcard; it is
	// folded into ToolName at load time.
	McpName string `json:"mcpName,omitempty"`
	// ArgsPattern is a regex applied to the canonicalized JSON encoding
	// of the call arguments.
	ArgsPattern string `json:"argsPattern,omitempty"`
	// CommandPrefix is the rule-file shorthand for a shell command prefix;
	// it is folded into ArgsPattern at load time.
	CommandPrefix string `json:"commandPrefix,omitempty"`
	// Modes restricts the rule to specific approval modes. Empty means
	// the rule applies in every mode.
	Modes            []ApprovalMode `json:"modes,omitempty"`
	Decision         Decision       `json:"decision"`
	Priority         float64        `json:"priority"`
	AllowRedirection bool           `json:"allowRedirection,omitempty"`
	Source           string         `json:"source,omitempty"`

	argsRe *regexp.Regexp
}

// normalize folds rule-file shorthands into the canonical fields and
// compiles the args pattern.
func (r *Rule) normalize() error {
	if r.McpName != "" && r.ToolName == "" {
		r.ToolName = r.McpName + "__*"
	}
	if r.CommandPrefix != "" && r.ArgsPattern == "" {
		r.ArgsPattern = `"command":"` + regexp.QuoteMeta(r.CommandPrefix)
	}
	if r.ArgsPattern != "" {
		re, err := regexp.Compile(r.ArgsPattern)
		if err != nil {
			return fmt.Errorf("rule %q: bad argsPattern: %w", r.ToolName, err)
		}
		r.argsRe = re
	}
	switch r.Decision {
	case Allow, Deny, AskUser:
	default:
		return fmt.Errorf("rule %q: unknown decision %q", r.ToolName, r.Decision)
	}
	return nil
}

// appliesInMode reports whether the rule is active for the given mode.
func (r *Rule) appliesInMode(mode ApprovalMode) bool {
	if len(r.Modes) == 0 {
		return true
	}
	for _, m := range r.Modes {
		if m == mode {
			return true
		}
	}
	return false
}

// matchesTool reports whether the rule's tool selector matches the action.
//
// A "server__*" wildcard matches only when the action's declared server
// context equals the wildcard's server segment exactly. A tool whose bare
// name merely starts with "server__" must not match a wildcard for a
// server it does not belong to.
func (r *Rule) matchesTool(a Action) bool {
	if r.ToolName == "" {
		return true
	}
	if server, ok := strings.CutSuffix(r.ToolName, "__*"); ok {
		return a.ServerName != "" && a.ServerName == server
	}
	if r.ToolName == a.Tool {
		return true
	}
	if a.ServerName != "" && r.ToolName == a.ServerName+"__"+a.Tool {
		return true
	}
	return false
}

// CheckResult is a decision plus the rule responsible for it. Rule is nil
// when the decision came from the engine default.
type CheckResult struct {
	Decision Decision
	Rule     *Rule
}

// Action describes a proposed tool call to the policy engine.
type Action struct {
	Tool       string
	ServerName string
	Args       map[string]any
	// Command is the shell command string for shell-execution tools.
	// When empty it is derived from Args["command"].
	Command string
}

// command returns the shell command string for the action, if any.
func (a Action) command() string {
	if a.Command != "" {
		return a.Command
	}
	if s, ok := a.Args["command"].(string); ok {
		return s
	}
	return ""
}

// CanonicalArgs returns a stable string encoding of call arguments for
// pattern matching. encoding/json sorts map keys, so equal argument maps
// always produce identical strings. HTML escaping is off so shell
// metacharacters like > and & stay literal in patterns.
func CanonicalArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	var sb strings.Builder
	enc := json.NewEncoder(&sb)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(args); err != nil {
		return "{}"
	}
	return strings.TrimRight(sb.String(), "\n")
}
