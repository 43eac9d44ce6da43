package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/rulecheck/internal/model"
)

// mockEvaluator implements Evaluator
type mockEvaluator struct {
	mu       sync.Mutex
	calls    map[string]int
	failRule string
}

func (m *mockEvaluator) EvaluateRuleWithRetry(ctx context.Context, l2RuleID, claimID string) (model.DecisionRecord, error) {
	time.Sleep(5 * time.Millisecond) // Simulate work

	m.mu.Lock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[claimID+"/"+l2RuleID]++
	m.mu.Unlock()

	if l2RuleID == m.failRule {
		return model.DecisionRecord{}, errors.New("oracle unavailable")
	}
	if l2RuleID == "L2_02_01" {
		return model.CannotDetermine("malformed structured response"), nil
	}
	return model.DecisionRecord{Verdict: model.VerdictPass, Reasoning: "ok", Comparisons: []model.ComparisonRecord{}}, nil
}

type staticRules struct {
	rules []model.RuleDescriptor
	err   error
}

func (s staticRules) L2Rules(ctx context.Context) ([]model.RuleDescriptor, error) {
	return s.rules, s.err
}

func threeRules() staticRules {
	return staticRules{rules: []model.RuleDescriptor{
		{ID: "L2_01_01", Tier: model.TierL2},
		{ID: "L2_02_01", Tier: model.TierL2},
		{ID: "L2_03_01", Tier: model.TierL2},
	}}
}

func TestBatchProcessor_ProcessClaims(t *testing.T) {
	evaluator := &mockEvaluator{failRule: "L2_03_01"}
	processor := NewBatchProcessor(evaluator, threeRules(), 2, nil)

	report, err := processor.ProcessClaims(context.Background(), []string{"CLM-2", "CLM-1"})
	if err != nil {
		t.Fatalf("ProcessClaims failed: %v", err)
	}

	if report.RunID == "" {
		t.Error("expected a run id")
	}
	if report.Rules != 3 {
		t.Errorf("expected 3 rules, got %d", report.Rules)
	}
	if len(report.Claims) != 2 || report.Claims[0].ClaimID != "CLM-2" {
		t.Fatalf("expected claims in input order, got %+v", report.Claims)
	}

	for _, claim := range report.Claims {
		if claim.RunID != report.RunID {
			t.Errorf("claim %s has run id %s", claim.ClaimID, claim.RunID)
		}
		if len(claim.Results) != 3 {
			t.Fatalf("claim %s: expected 3 results, got %d", claim.ClaimID, len(claim.Results))
		}
		for i, want := range []string{"L2_01_01", "L2_02_01", "L2_03_01"} {
			if claim.Results[i].RuleID != want {
				t.Errorf("claim %s: result %d is %s, want %s", claim.ClaimID, i, claim.Results[i].RuleID, want)
			}
		}

		want := ClaimSummary{Passed: 1, Undetermined: 1, Errors: 1}
		if claim.Summary != want {
			t.Errorf("claim %s: summary %+v, want %+v", claim.ClaimID, claim.Summary, want)
		}

		failed := claim.Results[2]
		if failed.Error == nil || failed.ErrorMessage == "" || failed.Decision != nil {
			t.Errorf("expected failed result to carry the error, got %+v", failed)
		}
	}

	if len(evaluator.calls) != 6 {
		t.Errorf("expected 6 distinct evaluations, got %d", len(evaluator.calls))
	}
}

func TestBatchProcessor_ProcessClaims_Empty(t *testing.T) {
	processor := NewBatchProcessor(&mockEvaluator{}, threeRules(), 2, nil)

	report, err := processor.ProcessClaims(context.Background(), []string{})
	if err != nil {
		t.Fatalf("ProcessClaims failed: %v", err)
	}
	if len(report.Claims) != 0 {
		t.Errorf("expected 0 claims, got %d", len(report.Claims))
	}
}

func TestBatchProcessor_ProcessClaims_RuleListingFails(t *testing.T) {
	processor := NewBatchProcessor(&mockEvaluator{}, staticRules{err: errors.New("database locked")}, 2, nil)

	if _, err := processor.ProcessClaims(context.Background(), []string{"CLM-1"}); err == nil {
		t.Error("expected error when rules cannot be listed")
	}
}

func manyRules(n int) staticRules {
	var rules staticRules
	for i := 1; i <= n; i++ {
		rules.rules = append(rules.rules, model.RuleDescriptor{ID: fmt.Sprintf("L2_%02d_01", i), Tier: model.TierL2})
	}
	return rules
}

func TestBatchProcessor_ProcessClaims_InterruptedReportsEveryPair(t *testing.T) {
	processor := NewBatchProcessor(&mockEvaluator{}, manyRules(20), 1, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	report, err := processor.ProcessClaims(ctx, []string{"c1", "c2"})
	if !errors.Is(err, ErrBatchInterrupted) {
		t.Fatalf("expected ErrBatchInterrupted, got %v", err)
	}
	if report == nil || len(report.Claims) != 2 {
		t.Fatalf("expected a report with 2 claims, got %+v", report)
	}

	notRun := 0
	for _, claim := range report.Claims {
		if len(claim.Results) != 20 {
			t.Errorf("claim %s: expected 20 results, got %d", claim.ClaimID, len(claim.Results))
		}
		s := claim.Summary
		if total := s.Passed + s.Failed + s.Undetermined + s.Errors; total != 20 {
			t.Errorf("claim %s: summary counts %d results, want 20", claim.ClaimID, total)
		}
		for _, res := range claim.Results {
			if errors.Is(res.Error, ErrBatchInterrupted) {
				notRun++
				if !errors.Is(res.Error, context.DeadlineExceeded) || res.ErrorMessage == "" {
					t.Errorf("%s/%s: unexpected error %v", res.ClaimID, res.RuleID, res.Error)
				}
			}
		}
	}
	if notRun == 0 {
		t.Error("expected unevaluated pairs to be reported")
	}

	last := report.Claims[1]
	if last.Summary.Errors == 0 {
		t.Errorf("claim c2 should not look clean: %+v", last.Summary)
	}
}

func TestBatchProcessor_ProcessClaims_DeduplicatesClaims(t *testing.T) {
	evaluator := &mockEvaluator{}
	processor := NewBatchProcessor(evaluator, threeRules(), 2, nil)

	report, err := processor.ProcessClaims(context.Background(), []string{"CLM-1", "CLM-2", "CLM-1"})
	if err != nil {
		t.Fatalf("ProcessClaims failed: %v", err)
	}
	if len(report.Claims) != 2 {
		t.Fatalf("expected 2 claims, got %d", len(report.Claims))
	}
	for _, claim := range report.Claims {
		if len(claim.Results) != 3 {
			t.Errorf("claim %s: expected 3 results, got %d", claim.ClaimID, len(claim.Results))
		}
	}
	for pair, n := range evaluator.calls {
		if n != 1 {
			t.Errorf("%s evaluated %d times", pair, n)
		}
	}
}

// stubProcedures implements ProcedureChecker; claims listed in missing fail the check
type stubProcedures struct {
	missing map[string]bool
	err     error
}

func (s stubProcedures) EvaluateProcedure(ctx context.Context, name, claimID string) (model.ProcedureResult, error) {
	if s.err != nil {
		return model.ProcedureResult{}, s.err
	}
	result := model.ProcedureResult{Procedure: name, ClaimID: claimID, Passed: true, Missing: []string{}}
	if s.missing[claimID] {
		result.Passed = false
		result.Missing = []string{"Is the Claim form submitted?"}
	}
	return result, nil
}

func TestBatchProcessor_ProcessClaims_WithProcedure(t *testing.T) {
	evaluator := &mockEvaluator{}
	processor := NewBatchProcessor(evaluator, threeRules(), 2, nil).
		WithProcedure(stubProcedures{missing: map[string]bool{"CLM-2": true}}, "Cataract Surgery")

	report, err := processor.ProcessClaims(context.Background(), []string{"CLM-1", "CLM-2"})
	if err != nil {
		t.Fatalf("ProcessClaims failed: %v", err)
	}

	for _, claim := range report.Claims {
		if claim.Procedure == nil {
			t.Fatalf("claim %s: expected a procedure result", claim.ClaimID)
		}
		if claim.Procedure.Procedure != "Cataract Surgery" || claim.Procedure.ClaimID != claim.ClaimID {
			t.Errorf("claim %s: unexpected procedure result %+v", claim.ClaimID, claim.Procedure)
		}
		if len(claim.Results) != 3 {
			t.Errorf("claim %s: L2 results must be kept, got %d", claim.ClaimID, len(claim.Results))
		}
	}
	if !report.Claims[0].Procedure.Passed || report.Claims[1].Procedure.Passed {
		t.Errorf("expected CLM-1 to pass and CLM-2 to fail")
	}
}

func TestBatchProcessor_ProcessClaims_ProcedureErrorRecorded(t *testing.T) {
	processor := NewBatchProcessor(&mockEvaluator{}, threeRules(), 2, nil).
		WithProcedure(stubProcedures{err: errors.New("procedure not defined")}, "Bypass")

	report, err := processor.ProcessClaims(context.Background(), []string{"CLM-1"})
	if err != nil {
		t.Fatalf("ProcessClaims failed: %v", err)
	}

	claim := report.Claims[0]
	if claim.Procedure != nil || claim.ProcedureError != "procedure not defined" {
		t.Errorf("expected the error on the report, got %+v / %q", claim.Procedure, claim.ProcedureError)
	}
	if want := (ClaimSummary{Passed: 2, Undetermined: 1}); claim.Summary != want {
		t.Errorf("expected L2 rules to run, got %+v", claim.Summary)
	}
}

func TestBatchProcessor_ProcessClaims_NoProcedureByDefault(t *testing.T) {
	processor := NewBatchProcessor(&mockEvaluator{}, threeRules(), 2, nil)

	report, err := processor.ProcessClaims(context.Background(), []string{"CLM-1"})
	if err != nil {
		t.Fatalf("ProcessClaims failed: %v", err)
	}
	if report.Claims[0].Procedure != nil || report.Claims[0].ProcedureError != "" {
		t.Errorf("expected no procedure check, got %+v", report.Claims[0])
	}
}

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "claims.txt")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReadClaimIDsFromFile(t *testing.T) {
	path := writeFile(t, "CLM-1\n# comment\nCLM-2\n   \n  CLM-3   \nCLM-1\n")

	ids, err := ReadClaimIDsFromFile(path)
	if err != nil {
		t.Fatalf("ReadClaimIDsFromFile failed: %v", err)
	}

	expected := []string{"CLM-1", "CLM-2", "CLM-3"}
	if len(ids) != len(expected) {
		t.Fatalf("expected %d ids, got %d", len(expected), len(ids))
	}
	for i, id := range ids {
		if id != expected[i] {
			t.Errorf("expected id %s at index %d, got %s", expected[i], i, id)
		}
	}
}

func TestReadClaimIDsFromFile_NonExistent(t *testing.T) {
	if _, err := ReadClaimIDsFromFile("non_existent_file.txt"); err == nil {
		t.Error("expected error for non-existent file, got nil")
	}
}

func TestBatchProcessor_ProcessFile(t *testing.T) {
	path := writeFile(t, "CLM-1\nCLM-2\n")
	processor := NewBatchProcessor(&mockEvaluator{}, threeRules(), 4, nil)

	report, err := processor.ProcessFile(context.Background(), path)
	if err != nil {
		t.Fatalf("ProcessFile failed: %v", err)
	}
	if len(report.Claims) != 2 {
		t.Errorf("expected 2 claims, got %d", len(report.Claims))
	}
}

func TestEvaluationResult_GetError(t *testing.T) {
	r1 := &EvaluationResult{ClaimID: "CLM-1", RuleID: "L2_01_01"}
	if r1.GetError() != nil {
		t.Errorf("expected nil error, got %v", r1.GetError())
	}

	expected := errors.New("evaluation failed")
	r2 := &EvaluationResult{ClaimID: "CLM-1", RuleID: "L2_01_01", Error: expected}
	if r2.GetError() != expected {
		t.Errorf("expected %v, got %v", expected, r2.GetError())
	}
}
