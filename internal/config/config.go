// Package config provides configuration types and loading for toolgate.
package config

import "time"

// Config is the root configuration struct.
// Top-level groups: Paths, Policy, Confirm, Executor, Hooks, Audit, Journal.
type Config struct {
	Paths    PathsConfig    `json:"paths"`
	Policy   PolicyConfig   `json:"policy"`
	Confirm  ConfirmConfig  `json:"confirm"`
	Executor ExecutorConfig `json:"executor"`
	Hooks    HooksConfig    `json:"hooks"`
	Audit    AuditConfig    `json:"audit"`
	Journal  JournalConfig  `json:"journal"`
}

// PathsConfig groups all filesystem path settings.
type PathsConfig struct {
	Workspace string `json:"workspace" envconfig:"WORKSPACE"`
	// OutputDir receives full tool output when the inline copy is
	// truncated. Defaults to <config dir>/outputs.
	OutputDir string `json:"outputDir" envconfig:"OUTPUT_DIR"`
}

// PolicyConfig groups admission-rule settings.
type PolicyConfig struct {
	// Mode is the approval posture: default, auto_edit, plan, or yolo.
	Mode string `json:"mode" envconfig:"MODE"`
	// DefaultDecision applies when no rule matches: allow, deny, or
	// ask_user.
	DefaultDecision string `json:"defaultDecision" envconfig:"DEFAULT_DECISION"`
	NonInteractive  bool   `json:"nonInteractive" envconfig:"NON_INTERACTIVE"`
	// AdminRuleFile and UserRuleFile are loaded at tiers 3 and 2.
	AdminRuleFile string `json:"adminRuleFile" envconfig:"ADMIN_RULE_FILE"`
	UserRuleFile  string `json:"userRuleFile" envconfig:"USER_RULE_FILE"`
	// AutoRuleFile receives rules persisted by proceed-always-and-save.
	AutoRuleFile string `json:"autoRuleFile" envconfig:"AUTO_RULE_FILE"`
	// ShellTools names the tools whose command argument is decomposed
	// per sub-command.
	ShellTools []string `json:"shellTools"`
}

// ConfirmConfig groups confirmation-handshake settings.
type ConfirmConfig struct {
	// Timeout caps how long a confirmation waits for a human. Zero
	// waits until the batch is aborted.
	Timeout time.Duration `json:"timeout" envconfig:"TIMEOUT"`
}

// ExecutorConfig groups tool-execution settings.
type ExecutorConfig struct {
	// ExecTimeout bounds a single shell command.
	ExecTimeout time.Duration `json:"execTimeout" envconfig:"EXEC_TIMEOUT"`
	// MaxOutputBytes and MaxOutputLines bound inline shell output.
	MaxOutputBytes int `json:"maxOutputBytes" envconfig:"MAX_OUTPUT_BYTES"`
	MaxOutputLines int `json:"maxOutputLines" envconfig:"MAX_OUTPUT_LINES"`
}

// HooksConfig groups hook-execution settings.
type HooksConfig struct {
	Enabled bool `json:"enabled" envconfig:"ENABLED"`
	// WorkspaceTrusted permits project-scoped hooks.
	WorkspaceTrusted bool   `json:"workspaceTrusted" envconfig:"WORKSPACE_TRUSTED"`
	Hooks            []Hook `json:"hooks,omitempty"`
}

// Hook is one configured hook command.
type Hook struct {
	Name          string        `json:"name"`
	Event         string        `json:"event"`
	Command       string        `json:"command"`
	ProjectScoped bool          `json:"projectScoped,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty"`
}

// AuditConfig groups the local SQLite audit trail settings.
type AuditConfig struct {
	Enabled bool `json:"enabled" envconfig:"ENABLED"`
	// DBPath defaults to <config dir>/audit.db.
	DBPath string `json:"dbPath" envconfig:"DB_PATH"`
	// StaleApprovalAge bounds how long a pending approval may survive a
	// restart before it is marked timed out.
	StaleApprovalAge time.Duration `json:"staleApprovalAge" envconfig:"STALE_APPROVAL_AGE"`
}

// JournalConfig groups the Kafka lifecycle mirror settings.
type JournalConfig struct {
	Enabled bool     `json:"enabled" envconfig:"ENABLED"`
	Brokers []string `json:"brokers" envconfig:"BROKERS"`
	Topic   string   `json:"topic" envconfig:"TOPIC"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Policy: PolicyConfig{
			Mode:            "default",
			DefaultDecision: "ask_user",
			ShellTools:      []string{"exec", "shell", "run_command"},
		},
		Confirm: ConfirmConfig{
			Timeout: 5 * time.Minute,
		},
		Executor: ExecutorConfig{
			ExecTimeout:    2 * time.Minute,
			MaxOutputBytes: 40960,
			MaxOutputLines: 400,
		},
		Audit: AuditConfig{
			Enabled:          true,
			StaleApprovalAge: 24 * time.Hour,
		},
		Journal: JournalConfig{
			Topic: "toolgate.calls",
		},
	}
}
