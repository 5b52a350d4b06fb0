package domain

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

func TestResultMergeAndBlocking(t *testing.T) {
	var result Result
	result.Merge(Result{Violations: []Violation{{Rule: "warn", Severity: SeverityWarn}}})
	if result.HasBlocking() {
		t.Fatalf("expected no blocking violations")
	}
	result.Merge(Result{Violations: []Violation{{Rule: "block", Severity: SeverityBlock, Message: "slot 3 used twice"}}})
	if !result.HasBlocking() {
		t.Fatalf("expected blocking violation")
	}
	if got := len(result.Blocking()); got != 1 {
		t.Fatalf("expected one blocking violation, got %d", got)
	}
	err := RuleViolationError{Result: result}
	if !strings.Contains(err.Error(), "slot 3 used twice") {
		t.Fatalf("expected error to carry the blocking message, got %q", err.Error())
	}
	if !err.BlockedBy("block") || err.BlockedBy("warn") {
		t.Fatalf("unexpected BlockedBy answers")
	}
}

func TestRuleViolationErrorWithoutBlocking(t *testing.T) {
	err := RuleViolationError{}
	if err.Error() != "transaction blocked by rules" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestResultMergeEmptyInput(t *testing.T) {
	original := Result{Violations: []Violation{{Rule: "existing", Severity: SeverityWarn}}}
	original.Merge(Result{})
	if len(original.Violations) != 1 || original.Violations[0].Rule != "existing" {
		t.Fatalf("expected original violations to remain, got %+v", original.Violations)
	}
}

func TestRulesEngineEvaluate(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(staticRule{"warn"})
	res, err := engine.Evaluate(context.Background(), emptyView{}, nil)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(res.Violations) != 1 {
		t.Fatalf("expected violation")
	}
	if names := engine.Rules(); len(names) != 1 || names[0] != "warn" {
		t.Fatalf("unexpected rule names %v", names)
	}
}

type staticRule struct{ name string }

func (r staticRule) Name() string { return r.name }

func (r staticRule) Evaluate(context.Context, TransactionView, []Change) (Result, error) {
	return Result{Violations: []Violation{{Rule: r.name, Severity: SeverityWarn}}}, nil
}

type emptyView struct{}

func (emptyView) FindNode(int64) (Node, bool)             { return Node{}, false }
func (emptyView) ListNodes() []Node                       { return nil }
func (emptyView) ListChildren(*int64) []Node              { return nil }
func (emptyView) FindOutcome(int64) (Outcome, bool)       { return Outcome{}, false }
func (emptyView) ListOutcomes() []Outcome                 { return nil }
func (emptyView) FindAuditEntry(int64) (AuditEntry, bool) { return AuditEntry{}, false }
func (emptyView) ListAuditEntries() []AuditEntry          { return nil }
func (emptyView) FindDraft(string) (Draft, bool)          { return Draft{}, false }
func (emptyView) ListDrafts() []Draft                     { return nil }

func TestRulesEngineEvaluateError(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(errorRule{})
	if _, err := engine.Evaluate(context.Background(), emptyView{}, nil); err == nil {
		t.Fatalf("expected evaluation error")
	}
}

type errorRule struct{}

func (errorRule) Name() string { return "error" }

func (errorRule) Evaluate(context.Context, TransactionView, []Change) (Result, error) {
	return Result{}, fmt.Errorf("boom")
}
