package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ToolGate/ToolGate/internal/config"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("🏷️ ToolGate Version")
		fmt.Printf("Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("📊 ToolGate Status")
		fmt.Printf("Version: %s\n", version)

		configPath, err := config.ConfigPath()
		if err == nil {
			if _, statErr := os.Stat(configPath); statErr == nil {
				fmt.Println("Config:  ✓ Found (" + configPath + ")")
			} else {
				fmt.Println("Config:  ✗ Not found, defaults apply (" + configPath + ")")
			}
		}

		cfg, err := config.Load()
		if err != nil {
			fmt.Printf("Status:  ✗ Config unreadable: %v\n", err)
			return
		}
		fmt.Printf("Mode:    %s\n", cfg.Policy.Mode)
		if _, err := os.Stat(cfg.Audit.DBPath); err == nil {
			fmt.Println("Audit:   ✓ Database found (" + cfg.Audit.DBPath + ")")
		} else if cfg.Audit.Enabled {
			fmt.Println("Audit:   ✗ No database yet (" + cfg.Audit.DBPath + ")")
		} else {
			fmt.Println("Audit:   disabled")
		}
		if cfg.Journal.Enabled {
			fmt.Printf("Journal: ✓ Enabled (%v → %s)\n", cfg.Journal.Brokers, cfg.Journal.Topic)
		} else {
			fmt.Println("Journal: disabled")
		}
		fmt.Println("Status:  Ready")
	},
}
