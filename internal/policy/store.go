package policy

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
)

// ruleFilePayload is the on-disk rule file shape.
type ruleFilePayload struct {
	Rules []Rule `json:"rules"`
}

// LoadRuleFile reads a JSON rule file and normalizes each rule into the
// given trust tier: the integer part of every priority is replaced by the
// tier base so a user file cannot smuggle admin-tier rules. A missing
// file yields no rules and no error; malformed entries are skipped with
// a warning.
func LoadRuleFile(path string, tier float64, source string) ([]*Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading rule file %s: %w", path, err)
	}

	var payload ruleFilePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parsing rule file %s: %w", path, err)
	}

	rules := make([]*Rule, 0, len(payload.Rules))
	for i := range payload.Rules {
		r := payload.Rules[i]
		frac := r.Priority - math.Floor(r.Priority)
		r.Priority = tier + frac
		if r.Source == "" {
			r.Source = source
		}
		if err := r.normalize(); err != nil {
			slog.Warn("Skipping invalid policy rule", "file", path, "index", i, "error", err)
			continue
		}
		rules = append(rules, &r)
	}
	return rules, nil
}

// AppendRuleFile appends a rule to the on-disk rule file atomically:
// the updated file is written to a temp file in the same directory and
// renamed over the original.
func AppendRuleFile(path string, r Rule) error {
	var payload ruleFilePayload
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &payload); err != nil {
			return fmt.Errorf("parsing rule file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("reading rule file %s: %w", path, err)
	}

	payload.Rules = append(payload.Rules, r)
	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding rule file: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating rule dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".policies-*.json")
	if err != nil {
		return fmt.Errorf("creating temp rule file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("writing temp rule file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp rule file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replacing rule file %s: %w", path, err)
	}
	return nil
}
