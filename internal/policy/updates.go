package policy

import (
	"log/slog"
	"regexp"

	"github.com/ToolGate/ToolGate/internal/bus"
)

// RuleFromUpdate converts an UPDATE_POLICY message into an allow rule at
// the fixed user-tier "always" priority.
func RuleFromUpdate(u bus.PolicyUpdate) Rule {
	r := Rule{
		ToolName: u.Tool,
		Decision: Allow,
		Priority: UserAlwaysPriority,
		Source:   "user-always",
	}
	if u.ServerName != "" {
		r.ToolName = u.ServerName + "__*"
	}
	switch {
	case u.ArgsPattern != "":
		r.ArgsPattern = u.ArgsPattern
	case u.CommandPrefix != "":
		r.ArgsPattern = `"command":"` + regexp.QuoteMeta(u.CommandPrefix)
	}
	return r
}

// BindUpdates subscribes the engine to the policy update topic. Updates
// add an in-memory rule immediately and, when the message asks for
// persistence, append it to the rule file at persistPath. Returns the
// unsubscribe function.
func BindUpdates(e *Engine, b *bus.Bus, persistPath string) func() {
	return b.Subscribe(bus.TopicUpdatePolicy, func(msg any) {
		upd, ok := msg.(bus.PolicyUpdate)
		if !ok {
			return
		}
		r := RuleFromUpdate(upd)
		if err := e.AddRule(r); err != nil {
			slog.Warn("Policy update rejected", "tool", upd.Tool, "error", err)
			return
		}
		if upd.Persist && persistPath != "" {
			if err := AppendRuleFile(persistPath, r); err != nil {
				slog.Warn("Policy rule persistence failed", "tool", upd.Tool, "error", err)
			}
		}
	})
}
