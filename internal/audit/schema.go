package audit

import "time"

// Schema creates the audit tables.
const Schema = `
CREATE TABLE IF NOT EXISTS tool_calls (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	call_id TEXT UNIQUE NOT NULL,
	tool TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'validating',
	error_kind TEXT,
	output_file TEXT,
	started_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	completed_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_tool_calls_status ON tool_calls(status);

CREATE TABLE IF NOT EXISTS policy_decisions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	call_id TEXT NOT NULL,
	tool TEXT NOT NULL,
	decision TEXT NOT NULL,
	rule_tool TEXT,
	rule_source TEXT,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_policy_decisions_call ON policy_decisions(call_id);

CREATE TABLE IF NOT EXISTS approvals (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	correlation_id TEXT UNIQUE NOT NULL,
	call_id TEXT NOT NULL,
	tool TEXT NOT NULL,
	args_json TEXT,
	status TEXT NOT NULL DEFAULT 'pending',
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
	resolved_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_approvals_status ON approvals(status);
`

// CallRecord is one audited tool call.
type CallRecord struct {
	CallID      string     `json:"call_id"`
	Tool        string     `json:"tool"`
	Status      string     `json:"status"`
	ErrorKind   string     `json:"error_kind,omitempty"`
	OutputFile  string     `json:"output_file,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// DecisionRecord is one audited policy decision.
type DecisionRecord struct {
	CallID     string    `json:"call_id"`
	Tool       string    `json:"tool"`
	Decision   string    `json:"decision"`
	RuleTool   string    `json:"rule_tool,omitempty"`
	RuleSource string    `json:"rule_source,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// ApprovalRecord is one audited confirmation exchange.
type ApprovalRecord struct {
	CorrelationID string     `json:"correlation_id"`
	CallID        string     `json:"call_id"`
	Tool          string     `json:"tool"`
	ArgsJSON      string     `json:"args_json,omitempty"`
	Status        string     `json:"status"` // pending, approved, denied, cancelled, timeout
	CreatedAt     time.Time  `json:"created_at"`
	ResolvedAt    *time.Time `json:"resolved_at,omitempty"`
}
