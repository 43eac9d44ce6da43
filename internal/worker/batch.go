package worker

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ppiankov/rulecheck/internal/model"
)

// Evaluator evaluates one L2 rule for one claim. engine.Engine satisfies it.
type Evaluator interface {
	EvaluateRuleWithRetry(ctx context.Context, l2RuleID, claimID string) (model.DecisionRecord, error)
}

// RuleLister lists the L2 rules to evaluate. store.Store satisfies it.
type RuleLister interface {
	L2Rules(ctx context.Context) ([]model.RuleDescriptor, error)
}

// ProcedureChecker checks a claim's submitted documents against a procedure.
// checkrule.Evaluator satisfies it.
type ProcedureChecker interface {
	EvaluateProcedure(ctx context.Context, name, claimID string) (model.ProcedureResult, error)
}

// EvaluationJob evaluates one (claim, rule) pair
type EvaluationJob struct {
	ClaimID   string
	RuleID    string
	Evaluator Evaluator
}

// Execute executes the evaluation job
func (j *EvaluationJob) Execute(ctx context.Context) Result {
	start := time.Now()
	decision, err := j.Evaluator.EvaluateRuleWithRetry(ctx, j.RuleID, j.ClaimID)

	result := &EvaluationResult{
		ClaimID: j.ClaimID,
		RuleID:  j.RuleID,
		Elapsed: time.Since(start),
	}
	if err != nil {
		result.Error = err
		result.ErrorMessage = err.Error()
		return result
	}
	result.Decision = &decision
	return result
}

// EvaluationResult is the outcome of one evaluation job
type EvaluationResult struct {
	ClaimID      string                `json:"claim_id"`
	RuleID       string                `json:"rule_id"`
	Decision     *model.DecisionRecord `json:"decision,omitempty"`
	Error        error                 `json:"-"`
	ErrorMessage string                `json:"error,omitempty"`
	Elapsed      time.Duration         `json:"elapsed_ns"`
}

// GetError returns the error from the evaluation result
func (r *EvaluationResult) GetError() error {
	return r.Error
}

// ClaimSummary counts outcomes for one claim
type ClaimSummary struct {
	Passed       int `json:"passed"`
	Failed       int `json:"failed"`
	Undetermined int `json:"cannot_determine"`
	Errors       int `json:"errors"`
}

// ClaimReport holds every rule result for one claim, ordered by rule id
type ClaimReport struct {
	RunID   string              `json:"run_id"`
	ClaimID string              `json:"claim_id"`
	Summary ClaimSummary        `json:"summary"`
	Results []*EvaluationResult `json:"results"`

	// Procedure is set when the batch checks a procedure; L2 results are kept either way
	Procedure      *model.ProcedureResult `json:"procedure,omitempty"`
	ProcedureError string                 `json:"procedure_error,omitempty"`
}

// BatchReport is the outcome of one batch run
type BatchReport struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Rules      int            `json:"rules"`
	Claims     []*ClaimReport `json:"claims"`
}

// BatchProcessor evaluates every L2 rule for many claims concurrently.
// A failed evaluation is recorded in its result and never stops the batch.
type BatchProcessor struct {
	evaluator   Evaluator
	rules       RuleLister
	concurrency int
	logger      *zap.Logger

	procedures ProcedureChecker
	procedure  string
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(evaluator Evaluator, rules RuleLister, concurrency int, log *zap.Logger) *BatchProcessor {
	if log == nil {
		log = zap.NewNop()
	}
	return &BatchProcessor{
		evaluator:   evaluator,
		rules:       rules,
		concurrency: concurrency,
		logger:      log,
	}
}

// WithProcedure makes every claim report carry the document check of the named procedure
func (b *BatchProcessor) WithProcedure(checker ProcedureChecker, name string) *BatchProcessor {
	b.procedures = checker
	b.procedure = name
	return b
}

// ErrBatchInterrupted means the batch context ended before every pair was evaluated.
// The report is still returned; pairs that never ran carry this error.
var ErrBatchInterrupted = errors.New("batch interrupted")

// ProcessClaims evaluates all L2 rules for each claim id.
// Every (claim, rule) pair appears in the report exactly once.
func (b *BatchProcessor) ProcessClaims(ctx context.Context, claimIDs []string) (*BatchReport, error) {
	claimIDs = dedupe(claimIDs)
	report := &BatchReport{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
		Claims:    []*ClaimReport{},
	}

	if len(claimIDs) == 0 {
		report.FinishedAt = time.Now().UTC()
		return report, nil
	}

	rules, err := b.rules.L2Rules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list L2 rules: %w", err)
	}
	report.Rules = len(rules)

	log := b.logger.With(zap.String("run_id", report.RunID))
	log.Info("batch started",
		zap.Int("claims", len(claimIDs)),
		zap.Int("rules", len(rules)),
		zap.Int("workers", b.concurrency),
	)

	// Create worker pool
	pool := NewPool(ctx, b.concurrency)
	pool.Start()

	// Submit jobs; stop at the first refusal, the pool is shutting down
	submitted := true
	for _, claimID := range claimIDs {
		for _, rule := range rules {
			if !pool.Submit(&EvaluationJob{ClaimID: claimID, RuleID: rule.ID, Evaluator: b.evaluator}) {
				submitted = false
				break
			}
		}
		if !submitted {
			break
		}
	}

	var results []Result
	if submitted {
		results = pool.Wait()
	} else {
		pool.Shutdown()
		results = pool.Results()
	}

	byClaim := make(map[string]*ClaimReport, len(claimIDs))
	for _, claimID := range claimIDs {
		claim := &ClaimReport{RunID: report.RunID, ClaimID: claimID, Results: []*EvaluationResult{}}
		byClaim[claimID] = claim
		report.Claims = append(report.Claims, claim)
	}

	done := make(map[string]bool, len(results))
	for _, r := range results {
		res := r.(*EvaluationResult)
		done[res.ClaimID+"/"+res.RuleID] = true
		claim := byClaim[res.ClaimID]
		claim.Results = append(claim.Results, res)
		claim.Summary.add(res)
	}

	// Pairs that never ran are reported as errors, never silently dropped
	cause := ctx.Err()
	if cause == nil {
		cause = context.Canceled
	}
	missing := 0
	for _, claimID := range claimIDs {
		claim := byClaim[claimID]
		for _, rule := range rules {
			if done[claimID+"/"+rule.ID] {
				continue
			}
			missing++
			res := &EvaluationResult{
				ClaimID: claimID,
				RuleID:  rule.ID,
				Error:   fmt.Errorf("%w: not evaluated: %w", ErrBatchInterrupted, cause),
			}
			res.ErrorMessage = res.Error.Error()
			claim.Results = append(claim.Results, res)
			claim.Summary.add(res)
		}
	}

	for _, claim := range report.Claims {
		sort.Slice(claim.Results, func(i, j int) bool {
			return claim.Results[i].RuleID < claim.Results[j].RuleID
		})
	}

	b.checkProcedures(ctx, report)

	report.FinishedAt = time.Now().UTC()
	log.Info("batch finished",
		zap.Int("results", len(results)),
		zap.Int("not_evaluated", missing),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)),
	)

	if missing > 0 {
		return report, fmt.Errorf("%w: %d of %d evaluations did not run",
			ErrBatchInterrupted, missing, len(claimIDs)*len(rules))
	}
	return report, nil
}

// checkProcedures attaches the procedure check to each claim report.
// A failed check is recorded on its report and never stops the batch.
func (b *BatchProcessor) checkProcedures(ctx context.Context, report *BatchReport) {
	if b.procedures == nil || b.procedure == "" {
		return
	}

	for _, claim := range report.Claims {
		result, err := b.procedures.EvaluateProcedure(ctx, b.procedure, claim.ClaimID)
		if err != nil {
			claim.ProcedureError = err.Error()
			b.logger.Warn("procedure check failed",
				zap.String("claim_id", claim.ClaimID),
				zap.String("procedure", b.procedure),
				zap.Error(err),
			)
			continue
		}
		claim.Procedure = &result
	}
}

// dedupe drops repeated claim ids, keeping first occurrences in order
func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func (s *ClaimSummary) add(r *EvaluationResult) {
	if r.Error != nil || r.Decision == nil {
		s.Errors++
		return
	}
	switch r.Decision.Verdict {
	case model.VerdictPass:
		s.Passed++
	case model.VerdictFail:
		s.Failed++
	default:
		s.Undetermined++
	}
}

// ProcessFile reads claim ids from a file and processes them
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath string) (*BatchReport, error) {
	claimIDs, err := ReadClaimIDsFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read claim ids: %w", err)
	}

	return b.ProcessClaims(ctx, claimIDs)
}

// ReadClaimIDsFromFile reads claim ids from a file (one per line)
func ReadClaimIDsFromFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var ids []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Deduplicate claim ids
		if !seen[line] {
			seen[line] = true
			ids = append(ids, line)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}

	return ids, nil
}
