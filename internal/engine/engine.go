// Package engine runs the rule evaluation pipeline:
// parse references, fetch evidence, compile the prompt, ask the oracle,
// interpret the answer and reduce it to a DecisionRecord.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/rulecheck/internal/interpret"
	"github.com/ppiankov/rulecheck/internal/llm"
	"github.com/ppiankov/rulecheck/internal/metrics"
	"github.com/ppiankov/rulecheck/internal/model"
	"github.com/ppiankov/rulecheck/internal/prompt"
	"github.com/ppiankov/rulecheck/internal/reduce"
	"github.com/ppiankov/rulecheck/internal/refparse"
	"github.com/ppiankov/rulecheck/internal/store"
)

// Options tunes an Engine
type Options struct {
	// FetchWorkers bounds concurrent evidence fetches within one evaluation
	FetchWorkers int

	// Retry is applied by the *WithRetry methods only
	Retry RetryPolicy
}

// Engine evaluates L2 rules for claims.
// It holds no per-evaluation state and is safe for concurrent use.
type Engine struct {
	store       store.Store
	parser      *refparse.Parser
	compiler    *prompt.Compiler
	gateway     *llm.Gateway
	interpreter *interpret.Interpreter
	reducer     *reduce.Reducer
	options     Options
	logger      *zap.Logger
}

// New creates an engine over its collaborators
func New(st store.Store, compiler *prompt.Compiler, gateway *llm.Gateway, log *zap.Logger, opts Options) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.FetchWorkers <= 0 {
		opts.FetchWorkers = 8
	}

	return &Engine{
		store:       st,
		parser:      refparse.NewParser(log),
		compiler:    compiler,
		gateway:     gateway,
		interpreter: interpret.New(log),
		reducer:     reduce.New(log),
		options:     opts,
		logger:      log,
	}
}

// Evaluate judges one L2 rule for one claim.
// An error is returned only for infrastructure faults; a bad oracle answer
// is a CANNOT_DETERMINE decision.
func (e *Engine) Evaluate(ctx context.Context, description, l1Value, claimID string) (model.DecisionRecord, error) {
	start := time.Now()

	decision, mode, err := e.evaluate(ctx, description, l1Value, claimID)
	if err != nil {
		metrics.EvaluationErrorsTotal.WithLabelValues(errorKind(err)).Inc()
		e.logger.Warn("evaluation failed",
			zap.String("claim_id", claimID),
			zap.String("mode", string(mode)),
			zap.Error(err),
		)
		return model.DecisionRecord{}, err
	}

	metrics.EvaluationsTotal.WithLabelValues(string(mode), string(decision.Verdict)).Inc()
	e.logger.Info("evaluation completed",
		zap.String("claim_id", claimID),
		zap.String("mode", string(mode)),
		zap.String("verdict", string(decision.Verdict)),
		zap.Int("comparisons", len(decision.Comparisons)),
		zap.Duration("elapsed", time.Since(start)),
	)

	return decision, nil
}

func (e *Engine) evaluate(ctx context.Context, description, l1Value, claimID string) (model.DecisionRecord, model.Mode, error) {
	// 1. Classify the L1 value
	parsed := e.parser.Parse(l1Value)

	// 2. Resolve referenced evidence (COMPOUND only)
	var refs []model.RuleReference
	if parsed.Mode == model.ModeCompound {
		resolved, err := e.resolve(ctx, parsed.References, claimID)
		if err != nil {
			return model.DecisionRecord{}, parsed.Mode, fmt.Errorf("resolve references: %w", err)
		}
		refs = resolved
	}

	// 3. Compile the prompt
	promptCtx, err := e.compiler.Compile(parsed.Mode, description, parsed.Literal, refs)
	if err != nil {
		return model.DecisionRecord{}, parsed.Mode, fmt.Errorf("compile prompt: %w", err)
	}

	// 4. Ask the oracle
	resp, err := e.gateway.Send(ctx, promptCtx)
	if err != nil {
		return model.DecisionRecord{}, parsed.Mode, fmt.Errorf("send prompt: %w", err)
	}

	// 5. Interpret and reduce
	decision := e.interpreter.Interpret(resp)
	decision = e.reducer.Reduce(parsed.Mode, decision, refs)

	return decision, parsed.Mode, nil
}

// resolve fetches the fact and description of every reference concurrently.
// The first failure cancels the remaining fetches.
func (e *Engine) resolve(ctx context.Context, references []refparse.Reference, claimID string) ([]model.RuleReference, error) {
	refs := make([]model.RuleReference, len(references))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.options.FetchWorkers)

	for i, ref := range references {
		g.Go(func() error {
			fact, err := e.store.Fetch(gctx, ref.ID, claimID)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", ref.ID, err)
			}

			rule, err := e.store.Rule(gctx, ref.ID)
			if err != nil {
				return fmt.Errorf("describe %s: %w", ref.ID, err)
			}

			refs[i] = model.RuleReference{
				ID:          ref.ID,
				Tier:        model.TierL1,
				Label:       ref.Label,
				Description: rule.Description,
				Resolved:    fact,
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return refs, nil
}

// EvaluateRule looks up an L2 rule and evaluates it for claimID
func (e *Engine) EvaluateRule(ctx context.Context, l2RuleID, claimID string) (model.DecisionRecord, error) {
	rule, err := e.store.Rule(ctx, l2RuleID)
	if err != nil {
		metrics.EvaluationErrorsTotal.WithLabelValues(errorKind(err)).Inc()
		return model.DecisionRecord{}, fmt.Errorf("lookup rule %s: %w", l2RuleID, err)
	}
	if rule.Tier != model.TierL2 {
		return model.DecisionRecord{}, fmt.Errorf("rule %s is not an L2 rule", l2RuleID)
	}

	return e.Evaluate(ctx, rule.Description, rule.L1Value, claimID)
}

// EvaluateWithRetry is Evaluate under the engine's retry policy
func (e *Engine) EvaluateWithRetry(ctx context.Context, description, l1Value, claimID string) (model.DecisionRecord, error) {
	var decision model.DecisionRecord
	err := e.options.Retry.Do(ctx, e.logger, func() error {
		d, err := e.Evaluate(ctx, description, l1Value, claimID)
		decision = d
		return err
	})
	return decision, err
}

// EvaluateRuleWithRetry is EvaluateRule under the engine's retry policy
func (e *Engine) EvaluateRuleWithRetry(ctx context.Context, l2RuleID, claimID string) (model.DecisionRecord, error) {
	var decision model.DecisionRecord
	err := e.options.Retry.Do(ctx, e.logger, func() error {
		d, err := e.EvaluateRule(ctx, l2RuleID, claimID)
		decision = d
		return err
	})
	return decision, err
}

// errorKind labels an evaluation error for metrics
func errorKind(err error) string {
	switch {
	case errors.Is(err, store.ErrEvidenceNotFound):
		return "evidence_not_found"
	case errors.Is(err, store.ErrStoreUnavailable):
		return "store_unavailable"
	case errors.Is(err, prompt.ErrTemplateMissing):
		return "template_missing"
	case errors.Is(err, llm.ErrOracleTimeout):
		return "oracle_timeout"
	case errors.Is(err, llm.ErrOracleUnavailable):
		return "oracle_unavailable"
	default:
		return "other"
	}
}
