package cli

import (
	"fmt"

	"github.com/ToolGate/ToolGate/internal/config"
	"github.com/ToolGate/ToolGate/internal/policy"
	"github.com/ToolGate/ToolGate/internal/tools"
)

// buildEngine assembles a policy engine from the configured rule files:
// admin rules at tier 3, user rules at tier 2, and previously auto-saved
// always-allow rules.
func buildEngine(cfg *config.Config) (*policy.Engine, error) {
	e := policy.NewEngine(policy.Options{
		Mode:             policy.ApprovalMode(cfg.Policy.Mode),
		DefaultDecision:  policy.Decision(cfg.Policy.DefaultDecision),
		NonInteractive:   cfg.Policy.NonInteractive,
		ShellTools:       cfg.Policy.ShellTools,
		HooksEnabled:     cfg.Hooks.Enabled,
		WorkspaceTrusted: cfg.Hooks.WorkspaceTrusted,
	})

	type source struct {
		path string
		tier float64
		name string
	}
	for _, src := range []source{
		{cfg.Policy.AdminRuleFile, policy.TierAdmin, "admin"},
		{cfg.Policy.UserRuleFile, policy.TierUser, "user"},
		{cfg.Policy.AutoRuleFile, policy.TierUser, "auto-saved"},
	} {
		if src.path == "" {
			continue
		}
		rules, err := policy.LoadRuleFile(src.path, src.tier, src.name)
		if err != nil {
			return nil, fmt.Errorf("loading %s rules: %w", src.name, err)
		}
		e.AddRules(rules)
	}
	return e, nil
}

// buildRegistry registers the built-in tools.
func buildRegistry(cfg *config.Config) *tools.Registry {
	reg := tools.NewRegistry()
	reg.Register(&tools.ReadFileTool{})
	reg.Register(&tools.WriteFileTool{})
	reg.Register(&tools.EditFileTool{})
	reg.Register(&tools.ListDirTool{})
	reg.Register(tools.NewExecTool(cfg.Executor.ExecTimeout, cfg.Paths.Workspace))
	return reg
}
