// Package audit persists the admission trail: tool calls, policy
// decisions, and confirmation exchanges, in a local SQLite database.
package audit

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

type Service struct {
	db *sql.DB
}

func New(dbPath string) (*Service, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open audit db: %w", err)
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Service{db: db}, nil
}

func (s *Service) DB() *sql.DB { return s.db }

func (s *Service) Close() error {
	return s.db.Close()
}

// RecordCallStart registers a tool call entering the pipeline.
func (s *Service) RecordCallStart(callID, tool string) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO tool_calls (call_id, tool) VALUES (?, ?)`, callID, tool)
	return err
}

// RecordCallStatus updates a call's lifecycle status. For terminal
// statuses the completion timestamp is set as well.
func (s *Service) RecordCallStatus(callID, status, errorKind string) error {
	switch status {
	case "success", "error", "cancelled":
		_, err := s.db.Exec(
			`UPDATE tool_calls SET status = ?, error_kind = NULLIF(?, ''), completed_at = CURRENT_TIMESTAMP WHERE call_id = ?`,
			status, errorKind, callID)
		return err
	}
	_, err := s.db.Exec(`UPDATE tool_calls SET status = ? WHERE call_id = ?`, status, callID)
	return err
}

// RecordCallOutput attaches the side file holding full tool output.
func (s *Service) RecordCallOutput(callID, outputFile string) error {
	_, err := s.db.Exec(`UPDATE tool_calls SET output_file = ? WHERE call_id = ?`, outputFile, callID)
	return err
}

// GetCall returns the audited record for one call.
func (s *Service) GetCall(callID string) (*CallRecord, error) {
	row := s.db.QueryRow(`SELECT call_id, tool, status, COALESCE(error_kind,''), COALESCE(output_file,''), started_at, completed_at
		FROM tool_calls WHERE call_id = ?`, callID)
	var rec CallRecord
	var completed sql.NullTime
	if err := row.Scan(&rec.CallID, &rec.Tool, &rec.Status, &rec.ErrorKind, &rec.OutputFile, &rec.StartedAt, &completed); err != nil {
		return nil, err
	}
	if completed.Valid {
		rec.CompletedAt = &completed.Time
	}
	return &rec, nil
}

// LogDecision records a policy evaluation result.
func (s *Service) LogDecision(rec *DecisionRecord) error {
	_, err := s.db.Exec(`INSERT INTO policy_decisions (call_id, tool, decision, rule_tool, rule_source)
		VALUES (?, ?, ?, NULLIF(?, ''), NULLIF(?, ''))`,
		rec.CallID, rec.Tool, rec.Decision, rec.RuleTool, rec.RuleSource)
	return err
}

// ListDecisions returns the decisions logged for a call, oldest first.
func (s *Service) ListDecisions(callID string) ([]DecisionRecord, error) {
	rows, err := s.db.Query(`SELECT call_id, tool, decision, COALESCE(rule_tool,''), COALESCE(rule_source,''), created_at
		FROM policy_decisions WHERE call_id = ? ORDER BY id ASC`, callID)
	if err != nil {
		return nil, fmt.Errorf("list policy decisions: %w", err)
	}
	defer rows.Close()
	var out []DecisionRecord
	for rows.Next() {
		var r DecisionRecord
		if err := rows.Scan(&r.CallID, &r.Tool, &r.Decision, &r.RuleTool, &r.RuleSource, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// InsertApproval persists a new confirmation request as pending.
func (s *Service) InsertApproval(correlationID, callID, tool, argsJSON string) error {
	_, err := s.db.Exec(`INSERT INTO approvals (correlation_id, call_id, tool, args_json) VALUES (?, ?, ?, ?)`,
		correlationID, callID, tool, argsJSON)
	return err
}

// ResolveApproval records the confirmation outcome.
func (s *Service) ResolveApproval(correlationID, status string) error {
	_, err := s.db.Exec(`UPDATE approvals SET status = ?, resolved_at = CURRENT_TIMESTAMP WHERE correlation_id = ?`,
		status, correlationID)
	return err
}

// GetPendingApprovals returns all confirmations still awaiting an answer.
func (s *Service) GetPendingApprovals() ([]ApprovalRecord, error) {
	rows, err := s.db.Query(`SELECT correlation_id, call_id, tool, COALESCE(args_json,''), status, created_at, resolved_at
		FROM approvals WHERE status = 'pending' ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list pending approvals: %w", err)
	}
	defer rows.Close()
	var out []ApprovalRecord
	for rows.Next() {
		var r ApprovalRecord
		var resolved sql.NullTime
		if err := rows.Scan(&r.CorrelationID, &r.CallID, &r.Tool, &r.ArgsJSON, &r.Status, &r.CreatedAt, &resolved); err != nil {
			return nil, err
		}
		if resolved.Valid {
			r.ResolvedAt = &resolved.Time
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ExpireStaleApprovals marks pending approvals older than the cutoff as
// timed out. Run at startup so requests orphaned by a crash do not sit
// pending forever.
func (s *Service) ExpireStaleApprovals(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`UPDATE approvals SET status = 'timeout', resolved_at = CURRENT_TIMESTAMP
		WHERE status = 'pending' AND created_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
