package domain

import (
	"context"
	"fmt"
	"testing"
)

func TestResultMergeAndBlocking(t *testing.T) {
	var result Result
	result.Merge(Result{Violations: []Violation{{Rule: "warn", Severity: SeverityWarn}}})
	if result.HasBlocking() {
		t.Fatalf("expected no blocking violations")
	}
	result.Merge(Result{Violations: []Violation{{Rule: "block", Severity: SeverityBlock}}})
	if !result.HasBlocking() {
		t.Fatalf("expected blocking violation")
	}
	err := RuleViolationError{Result: result}
	if err.Error() != "transaction blocked by rules" {
		t.Fatalf("unexpected error string %q", err.Error())
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
}

type staticRule struct{ name string }

func (r staticRule) Name() string { return r.name }

func (r staticRule) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	return Result{Violations: []Violation{{Rule: r.name, Severity: SeverityWarn}}}, nil
}

type emptyView struct{}

func (emptyView) ListAnalyses() []Analysis          { return nil }
func (emptyView) FindAnalysis(int) (Analysis, bool) { return Analysis{}, false }
func (emptyView) FindLocalOpt(int) (LocalOpt, bool) { return LocalOpt{}, false }
func (emptyView) ListTags() []Tag                   { return nil }
func (emptyView) FindTag(string) (Tag, bool)        { return Tag{}, false }
func (emptyView) CurrentAnalysisID() (int, bool)    { return 0, false }

func TestRulesEngineEvaluateError(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(errorRule{})
	if _, err := engine.Evaluate(context.Background(), emptyView{}, nil); err == nil {
		t.Fatalf("expected evaluation error")
	}
}

type errorRule struct{}

func (errorRule) Name() string { return "error" }

func (errorRule) Evaluate(ctx context.Context, view RuleView, changes []Change) (Result, error) {
	return Result{}, fmt.Errorf("boom")
}

func TestRulesEngineRulesListsNames(t *testing.T) {
	engine := NewRulesEngine()
	engine.Register(staticRule{"a"})
	engine.Register(staticRule{"b"})
	names := engine.Rules()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("unexpected rule names %v", names)
	}
}

func TestRuleViolationErrorUsesBlockingMessage(t *testing.T) {
	err := RuleViolationError{Result: Result{Violations: []Violation{
		{Rule: "warn", Severity: SeverityWarn, Message: "ignored"},
		{Rule: "block", Severity: SeverityBlock, Message: "bad sort"},
	}}}
	if err.Error() != "transaction blocked by rules: bad sort" {
		t.Fatalf("unexpected error string %q", err.Error())
	}
}
