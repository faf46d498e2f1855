package audit

import (
	"path/filepath"
	"testing"
	"time"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCallLifecycle(t *testing.T) {
	s := newTestService(t)

	if err := s.RecordCallStart("call-1", "exec"); err != nil {
		t.Fatal(err)
	}
	// Re-registering the same call is a no-op, not an error.
	if err := s.RecordCallStart("call-1", "exec"); err != nil {
		t.Fatal(err)
	}

	if err := s.RecordCallStatus("call-1", "executing", ""); err != nil {
		t.Fatal(err)
	}
	rec, err := s.GetCall("call-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != "executing" || rec.CompletedAt != nil {
		t.Fatalf("unexpected record mid-flight: %+v", rec)
	}

	if err := s.RecordCallStatus("call-1", "error", "unhandled-exception"); err != nil {
		t.Fatal(err)
	}
	rec, err = s.GetCall("call-1")
	if err != nil {
		t.Fatal(err)
	}
	if rec.Status != "error" || rec.ErrorKind != "unhandled-exception" {
		t.Fatalf("unexpected terminal record: %+v", rec)
	}
	if rec.CompletedAt == nil {
		t.Fatal("terminal status must set completed_at")
	}
}

func TestDecisionLog(t *testing.T) {
	s := newTestService(t)

	if err := s.LogDecision(&DecisionRecord{CallID: "c1", Tool: "exec", Decision: "ask_user"}); err != nil {
		t.Fatal(err)
	}
	if err := s.LogDecision(&DecisionRecord{CallID: "c1", Tool: "exec", Decision: "allow", RuleTool: "exec", RuleSource: "user"}); err != nil {
		t.Fatal(err)
	}
	if err := s.LogDecision(&DecisionRecord{CallID: "c2", Tool: "read_file", Decision: "allow"}); err != nil {
		t.Fatal(err)
	}

	decs, err := s.ListDecisions("c1")
	if err != nil {
		t.Fatal(err)
	}
	if len(decs) != 2 {
		t.Fatalf("expected 2 decisions for c1, got %d", len(decs))
	}
	if decs[0].Decision != "ask_user" || decs[1].Decision != "allow" {
		t.Fatalf("decisions out of order: %+v", decs)
	}
	if decs[1].RuleSource != "user" {
		t.Fatalf("rule attribution lost: %+v", decs[1])
	}
}

func TestApprovalFlow(t *testing.T) {
	s := newTestService(t)

	if err := s.InsertApproval("corr-1", "c1", "exec", `{"command":"ls"}`); err != nil {
		t.Fatal(err)
	}
	if err := s.InsertApproval("corr-2", "c2", "write_file", ""); err != nil {
		t.Fatal(err)
	}

	pending, err := s.GetPendingApprovals()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}

	if err := s.ResolveApproval("corr-1", "approved"); err != nil {
		t.Fatal(err)
	}
	pending, err = s.GetPendingApprovals()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 || pending[0].CorrelationID != "corr-2" {
		t.Fatalf("unexpected pending set: %+v", pending)
	}
}

func TestExpireStaleApprovals(t *testing.T) {
	s := newTestService(t)

	if err := s.InsertApproval("old", "c1", "exec", ""); err != nil {
		t.Fatal(err)
	}

	// A cutoff in the future sweeps everything pending.
	n, err := s.ExpireStaleApprovals(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired, got %d", n)
	}
	pending, err := s.GetPendingApprovals()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected no pending after sweep, got %+v", pending)
	}

	// Already-resolved rows are untouched by a second sweep.
	n, err = s.ExpireStaleApprovals(time.Now().Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("second sweep must be a no-op, expired %d", n)
	}
}
