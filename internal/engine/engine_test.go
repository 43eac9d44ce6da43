package engine

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/ppiankov/rulecheck/internal/llm"
	"github.com/ppiankov/rulecheck/internal/model"
	"github.com/ppiankov/rulecheck/internal/prompt"
	"github.com/ppiankov/rulecheck/internal/store"
)

const (
	claimID       = "CLM-001"
	compoundValue = "Claim form : L1_01_06, Aadhar card : L1_05_01"
	compoundReply = `{
		"primary_source": "Claim form",
		"comparisons": [
			{"l1_rule_id": "L1_05_01", "expected": "Ravi Kumar", "actual": "RAVI KUMAR", "match": true}
		],
		"overall_decision": "Pass",
		"overall_reasoning": "Names agree."
	}`
)

// scriptedProvider is a deterministic oracle
type scriptedProvider struct {
	calls    atomic.Int32
	prompts  []string
	generate func(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error)
}

func (p *scriptedProvider) Name() string                         { return "scripted" }
func (p *scriptedProvider) IsAvailable(ctx context.Context) bool { return true }

func (p *scriptedProvider) Generate(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
	p.calls.Add(1)
	p.prompts = append(p.prompts, req.Prompt)
	return p.generate(ctx, req)
}

func replying(text string) *scriptedProvider {
	return &scriptedProvider{generate: func(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
		return &llm.GenerateResponse{Text: text}, nil
	}}
}

func newStore() *store.MemoryStore {
	s := store.NewMemoryStore()
	s.AddRule(model.RuleDescriptor{ID: "L1_01_06", Tier: model.TierL1, Description: "Insured name on claim form"})
	s.AddRule(model.RuleDescriptor{ID: "L1_05_01", Tier: model.TierL1, Description: "Name on Aadhar card"})
	s.AddRule(model.RuleDescriptor{ID: "L2_01_01", Tier: model.TierL2, Description: "Insured name must match across documents", L1Value: compoundValue})
	s.AddRule(model.RuleDescriptor{ID: "L2_02_01", Tier: model.TierL2, Description: "Claim form must be signed", L1Value: "Yes"})
	s.AddFact(model.EvidenceFact{RuleID: "L1_01_06", ClaimID: claimID, Value: "Ravi Kumar", SourceReference: "claim_form.pdf"})
	s.AddFact(model.EvidenceFact{RuleID: "L1_05_01", ClaimID: claimID, Value: "RAVI KUMAR"})
	return s
}

func newEngine(st store.Store, provider llm.Provider, timeout time.Duration, retry RetryPolicy) *Engine {
	gw := llm.NewGateway(provider, llm.Config{Timeout: timeout}, nil, nil)
	return New(st, prompt.NewCompiler(prompt.EmbeddedSource()), gw, nil, Options{FetchWorkers: 4, Retry: retry})
}

func TestEvaluate_Simple(t *testing.T) {
	provider := replying("  PASS.\n")
	e := newEngine(newStore(), provider, time.Second, RetryPolicy{})

	got, err := e.Evaluate(context.Background(), "Claim form must be signed", "Yes", claimID)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	if got.Verdict != model.VerdictPass {
		t.Errorf("expected PASS, got %s (%s)", got.Verdict, got.Reasoning)
	}
	if len(got.Comparisons) != 0 {
		t.Errorf("SIMPLE decisions carry no comparisons, got %v", got.Comparisons)
	}
	if !strings.Contains(provider.prompts[0], `Data: "Yes"`) {
		t.Errorf("expected literal hint in prompt, got %q", provider.prompts[0])
	}
}

func TestEvaluate_Compound(t *testing.T) {
	provider := replying(compoundReply)
	e := newEngine(newStore(), provider, time.Second, RetryPolicy{})

	got, err := e.Evaluate(context.Background(), "Insured name must match across documents", compoundValue, claimID)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}

	want := model.DecisionRecord{
		Verdict:       model.VerdictPass,
		Reasoning:     "Names agree.",
		PrimarySource: "Claim form",
		Comparisons: []model.ComparisonRecord{
			{L1RuleID: "L1_05_01", Expected: "Ravi Kumar", Actual: "RAVI KUMAR", Match: true, SourceReference: "Aadhar card"},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("decision mismatch (-want +got):\n%s", diff)
	}

	p := provider.prompts[0]
	for _, fragment := range []string{"Ravi Kumar", "RAVI KUMAR", "Name on Aadhar card", "L1_01_06, L1_05_01"} {
		if !strings.Contains(p, fragment) {
			t.Errorf("prompt is missing %q", fragment)
		}
	}
}

func TestEvaluate_Idempotent(t *testing.T) {
	e := newEngine(newStore(), replying(compoundReply), time.Second, RetryPolicy{})

	first, err := e.Evaluate(context.Background(), "Insured name must match", compoundValue, claimID)
	if err != nil {
		t.Fatalf("first evaluation failed: %v", err)
	}
	second, err := e.Evaluate(context.Background(), "Insured name must match", compoundValue, claimID)
	if err != nil {
		t.Fatalf("second evaluation failed: %v", err)
	}

	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("evaluations differ (-first +second):\n%s", diff)
	}
}

func TestEvaluate_UnknownIdentifierDowngrades(t *testing.T) {
	reply := `{"primary_source": "Claim form", "comparisons": [
		{"l1_rule_id": "L1_05_01", "expected": "a", "actual": "a", "match": true},
		{"l1_rule_id": "L1_42_01", "expected": "a", "actual": "a", "match": true}
	], "overall_decision": "Pass", "overall_reasoning": "ok"}`
	e := newEngine(newStore(), replying(reply), time.Second, RetryPolicy{})

	got, err := e.Evaluate(context.Background(), "names", compoundValue, claimID)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if got.Verdict != model.VerdictCannotDetermine {
		t.Errorf("expected CANNOT_DETERMINE, got %s", got.Verdict)
	}
	if !strings.Contains(got.Reasoning, "L1_42_01") {
		t.Errorf("reasoning should name the unknown id, got %q", got.Reasoning)
	}
}

func TestEvaluate_MalformedReplyIsNotAnError(t *testing.T) {
	e := newEngine(newStore(), replying(`{"overall_decision": "Pass"`), time.Second, RetryPolicy{})

	got, err := e.Evaluate(context.Background(), "names", compoundValue, claimID)
	if err != nil {
		t.Fatalf("malformed reply must not be an error: %v", err)
	}
	if got.Verdict != model.VerdictCannotDetermine {
		t.Errorf("expected CANNOT_DETERMINE, got %s", got.Verdict)
	}
}

func TestEvaluate_MissingEvidencePropagates(t *testing.T) {
	provider := replying(compoundReply)
	e := newEngine(newStore(), provider, time.Second, RetryPolicy{})

	_, err := e.Evaluate(context.Background(), "names", "Pan Card : L1_07_01", claimID)
	if !errors.Is(err, store.ErrEvidenceNotFound) {
		t.Fatalf("expected ErrEvidenceNotFound, got %v", err)
	}
	if provider.calls.Load() != 0 {
		t.Error("oracle must not be called when evidence is missing")
	}
}

func TestEvaluate_StoreUnavailablePropagates(t *testing.T) {
	e := newEngine(newStore(), replying(compoundReply), time.Second, RetryPolicy{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := e.Evaluate(ctx, "names", compoundValue, claimID); !errors.Is(err, store.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestEvaluate_MissingTemplatePropagates(t *testing.T) {
	gw := llm.NewGateway(replying(compoundReply), llm.Config{Timeout: time.Second}, nil, nil)
	e := New(newStore(), prompt.NewCompiler(prompt.DirSource(t.TempDir())), gw, nil, Options{})

	if _, err := e.Evaluate(context.Background(), "names", compoundValue, claimID); !errors.Is(err, prompt.ErrTemplateMissing) {
		t.Fatalf("expected ErrTemplateMissing, got %v", err)
	}
}

func TestEvaluate_OracleTimeout(t *testing.T) {
	provider := &scriptedProvider{generate: func(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	e := newEngine(newStore(), provider, 20*time.Millisecond, RetryPolicy{})

	_, err := e.Evaluate(context.Background(), "Claim form must be signed", "Yes", claimID)
	if !errors.Is(err, llm.ErrOracleTimeout) {
		t.Fatalf("expected ErrOracleTimeout, got %v", err)
	}
}

func TestEvaluateRule(t *testing.T) {
	e := newEngine(newStore(), replying(compoundReply), time.Second, RetryPolicy{})

	got, err := e.EvaluateRule(context.Background(), "L2_01_01", claimID)
	if err != nil {
		t.Fatalf("EvaluateRule failed: %v", err)
	}
	if got.Verdict != model.VerdictPass {
		t.Errorf("expected PASS, got %s (%s)", got.Verdict, got.Reasoning)
	}

	if _, err := e.EvaluateRule(context.Background(), "L1_01_06", claimID); err == nil {
		t.Error("expected error when evaluating an L1 rule")
	}
	if _, err := e.EvaluateRule(context.Background(), "L2_99_99", claimID); !errors.Is(err, store.ErrRuleNotFound) {
		t.Errorf("expected ErrRuleNotFound, got %v", err)
	}
}

func TestEvaluateWithRetry_RetriesTransientFaults(t *testing.T) {
	var failures atomic.Int32
	failures.Store(2)
	provider := &scriptedProvider{generate: func(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
		if failures.Add(-1) >= 0 {
			return nil, errors.New("503 service unavailable")
		}
		return &llm.GenerateResponse{Text: "Fail"}, nil
	}}
	retry := RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 5 * time.Millisecond}
	e := newEngine(newStore(), provider, time.Second, retry)

	got, err := e.EvaluateWithRetry(context.Background(), "Claim form must be signed", "Yes", claimID)
	if err != nil {
		t.Fatalf("EvaluateWithRetry failed: %v", err)
	}
	if got.Verdict != model.VerdictFail {
		t.Errorf("expected FAIL, got %s", got.Verdict)
	}
	if provider.calls.Load() != 3 {
		t.Errorf("expected 3 oracle calls, got %d", provider.calls.Load())
	}
}

func TestEvaluateWithRetry_GivesUp(t *testing.T) {
	provider := &scriptedProvider{generate: func(ctx context.Context, req llm.GenerateRequest) (*llm.GenerateResponse, error) {
		return nil, errors.New("connection refused")
	}}
	retry := RetryPolicy{MaxAttempts: 2, InitialBackoff: time.Millisecond}
	e := newEngine(newStore(), provider, time.Second, retry)

	_, err := e.EvaluateWithRetry(context.Background(), "Claim form must be signed", "Yes", claimID)
	if !errors.Is(err, llm.ErrOracleUnavailable) {
		t.Fatalf("expected ErrOracleUnavailable, got %v", err)
	}
	if provider.calls.Load() != 2 {
		t.Errorf("expected 2 oracle calls, got %d", provider.calls.Load())
	}
}

func TestEvaluateRuleWithRetry_DoesNotRetryMissingEvidence(t *testing.T) {
	st := newStore()
	st.AddRule(model.RuleDescriptor{ID: "L2_03_01", Tier: model.TierL2, L1Value: "Pan Card : L1_07_01"})
	retry := RetryPolicy{MaxAttempts: 5, InitialBackoff: time.Millisecond}
	e := newEngine(st, replying(compoundReply), time.Second, retry)

	start := time.Now()
	_, err := e.EvaluateRuleWithRetry(context.Background(), "L2_03_01", claimID)
	if !errors.Is(err, store.ErrEvidenceNotFound) {
		t.Fatalf("expected ErrEvidenceNotFound, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Error("missing evidence should fail without backoff")
	}
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{store.ErrStoreUnavailable, true},
		{llm.ErrOracleTimeout, true},
		{llm.ErrOracleUnavailable, true},
		{store.ErrEvidenceNotFound, false},
		{store.ErrRuleNotFound, false},
		{prompt.ErrTemplateMissing, false},
		{errors.New("boom"), false},
	}

	for _, tt := range tests {
		if got := Retryable(tt.err); got != tt.want {
			t.Errorf("Retryable(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
