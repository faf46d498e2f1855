package cli

import (
	"encoding/json"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ToolGate/ToolGate/internal/config"
	"github.com/ToolGate/ToolGate/internal/policy"
)

var (
	checkArgs    string
	checkCommand string
	checkServer  string
)

var checkCmd = &cobra.Command{
	Use:   "check <tool>",
	Short: "Evaluate a tool call against the loaded policy rules",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		engine, err := buildEngine(cfg)
		if err != nil {
			return err
		}

		action := policy.Action{Tool: args[0], ServerName: checkServer, Command: checkCommand}
		if checkArgs != "" {
			if err := json.Unmarshal([]byte(checkArgs), &action.Args); err != nil {
				return fmt.Errorf("parsing --args: %w", err)
			}
		}
		if checkCommand != "" && action.Args == nil {
			action.Args = map[string]any{"command": checkCommand}
		}

		res := engine.Check(cmd.Context(), action)
		switch res.Decision {
		case policy.Allow:
			fmt.Println(color.GreenString("ALLOW"))
		case policy.Deny:
			fmt.Println(color.RedString("DENY"))
		default:
			fmt.Println(color.YellowString("ASK_USER"))
		}
		if res.Rule != nil {
			fmt.Printf("Matched rule: tool=%q priority=%v source=%q\n",
				res.Rule.ToolName, res.Rule.Priority, res.Rule.Source)
		} else {
			fmt.Println("No rule matched; engine default applied.")
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().StringVar(&checkArgs, "args", "", "tool arguments as JSON")
	checkCmd.Flags().StringVar(&checkCommand, "command", "", "shell command for shell tools")
	checkCmd.Flags().StringVar(&checkServer, "server", "", "declared MCP server name")
}
