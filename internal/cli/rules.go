package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ToolGate/ToolGate/internal/config"
	"github.com/ToolGate/ToolGate/internal/policy"
)

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "List the loaded policy rules in priority order",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		engine, err := buildEngine(cfg)
		if err != nil {
			return err
		}

		rules := engine.Rules()
		if len(rules) == 0 {
			fmt.Println("No rules loaded.")
			return nil
		}
		printHeader("📜 Policy Rules")
		fmt.Printf("%-8s %-10s %-28s %-12s %s\n", "Priority", "Decision", "Tool", "Source", "Pattern")
		for _, r := range rules {
			decision := string(r.Decision)
			switch r.Decision {
			case policy.Allow:
				decision = color.GreenString(decision)
			case policy.Deny:
				decision = color.RedString(decision)
			default:
				decision = color.YellowString(decision)
			}
			tool := r.ToolName
			if tool == "" {
				tool = "*"
			}
			pattern := r.ArgsPattern
			if pattern == "" && r.CommandPrefix != "" {
				pattern = "prefix:" + r.CommandPrefix
			}
			fmt.Printf("%-8.2f %-10s %-28s %-12s %s\n", r.Priority, decision, tool, r.Source, pattern)
		}
		return nil
	},
}
