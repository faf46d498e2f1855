package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".toolgate"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// ConfigPath returns the path to the config file. TOOLGATE_CONFIG
// overrides the location; TOOLGATE_HOME relocates the config directory.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("TOOLGATE_CONFIG")); explicit != "" {
		if strings.HasPrefix(explicit, "~") {
			home, err := resolveHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(home, explicit[1:]), nil
		}
		return explicit, nil
	}
	home, err := resolveHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

// BaseDir returns the directory holding the config file, where the
// audit database, output files, and auto-saved rules live by default.
func BaseDir() (string, error) {
	path, err := ConfigPath()
	if err != nil {
		return "", err
	}
	return filepath.Dir(path), nil
}

func resolveHomeDir() (string, error) {
	if h := strings.TrimSpace(os.Getenv("TOOLGATE_HOME")); h != "" {
		if strings.HasPrefix(h, "~") {
			base, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(base, h[1:]), nil
		}
		return h, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return home, nil
}

// Load reads the config file (when present), overlays TOOLGATE_*
// environment variables, and fills path defaults. A missing file is
// not an error; defaults apply.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// Defaults apply.
	default:
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	envconfig.Process("TOOLGATE_PATHS", &cfg.Paths)
	envconfig.Process("TOOLGATE_POLICY", &cfg.Policy)
	envconfig.Process("TOOLGATE_CONFIRM", &cfg.Confirm)
	envconfig.Process("TOOLGATE_EXECUTOR", &cfg.Executor)
	envconfig.Process("TOOLGATE_HOOKS", &cfg.Hooks)
	envconfig.Process("TOOLGATE_AUDIT", &cfg.Audit)
	envconfig.Process("TOOLGATE_JOURNAL", &cfg.Journal)

	base := filepath.Dir(path)
	if cfg.Paths.OutputDir == "" {
		cfg.Paths.OutputDir = filepath.Join(base, "outputs")
	}
	if cfg.Audit.DBPath == "" {
		cfg.Audit.DBPath = filepath.Join(base, "audit.db")
	}
	if cfg.Policy.AutoRuleFile == "" {
		cfg.Policy.AutoRuleFile = filepath.Join(base, "policies.auto.json")
	}
	if cfg.Policy.UserRuleFile == "" {
		cfg.Policy.UserRuleFile = filepath.Join(base, "policies.json")
	}
	return cfg, nil
}

// Save writes the config as indented JSON, creating the directory.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
