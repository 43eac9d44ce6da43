package checkrule

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ppiankov/rulecheck/internal/metrics"
	"github.com/ppiankov/rulecheck/internal/model"
	"github.com/ppiankov/rulecheck/internal/store"
)

// NotSubmitted is the L1 value shown under a check rule whose document is missing
const NotSubmitted = "Not submitted"

// Evaluator decides whether a claim carries the documents its procedure needs
type Evaluator struct {
	procedures store.ProcedureStore
	facts      store.Store
	logger     *zap.Logger
}

// New creates an evaluator; facts supplies the L1 values listed per check rule
func New(procedures store.ProcedureStore, facts store.Store, log *zap.Logger) *Evaluator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Evaluator{procedures: procedures, facts: facts, logger: log}
}

// Procedures lists the known procedures
func (e *Evaluator) Procedures(ctx context.Context) ([]model.Procedure, error) {
	return e.procedures.Procedures(ctx)
}

// EvaluateProcedure checks claimID against the named procedure.
// A procedure without an expression needs every check rule it lists.
func (e *Evaluator) EvaluateProcedure(ctx context.Context, name, claimID string) (model.ProcedureResult, error) {
	procedure, err := e.procedures.Procedure(ctx, name)
	if err != nil {
		metrics.ProcedureChecksTotal.WithLabelValues("error").Inc()
		return model.ProcedureResult{}, err
	}

	expression := procedure.Expression
	if expression == "" {
		expression = procedure.CheckRules
	}

	result, err := e.EvaluateExpression(ctx, expression, claimID)
	if err != nil {
		return model.ProcedureResult{}, fmt.Errorf("procedure %s: %w", procedure.Name, err)
	}
	result.Procedure = procedure.Name
	return result, nil
}

// EvaluateExpression checks claimID against a check rule expression.
// An expression naming no check rules passes.
func (e *Evaluator) EvaluateExpression(ctx context.Context, expression, claimID string) (model.ProcedureResult, error) {
	result := model.ProcedureResult{
		ClaimID:    claimID,
		Expression: expression,
		Passed:     true,
		Missing:    []string{},
		Checks:     []model.CheckStatus{},
	}

	expr, err := Parse(expression)
	if err != nil {
		metrics.ProcedureChecksTotal.WithLabelValues("error").Inc()
		return model.ProcedureResult{}, err
	}
	ids := IDs(expr)
	if len(ids) == 0 {
		e.logger.Debug("no check rules in expression, passing",
			zap.String("claim_id", claimID),
			zap.String("expression", expression),
		)
		metrics.ProcedureChecksTotal.WithLabelValues("passed").Inc()
		return result, nil
	}

	defined, err := e.procedures.CheckRules(ctx, ids)
	if err != nil {
		metrics.ProcedureChecksTotal.WithLabelValues("error").Inc()
		return model.ProcedureResult{}, err
	}

	submitted := make(map[string]bool, len(ids))
	for _, id := range ids {
		status, err := e.checkStatus(ctx, id, defined, claimID)
		if err != nil {
			metrics.ProcedureChecksTotal.WithLabelValues("error").Inc()
			return model.ProcedureResult{}, err
		}

		submitted[id] = status.Submitted
		result.Checks = append(result.Checks, status)
		switch {
		case !status.Defined:
			result.Missing = append(result.Missing, id+": Rule definition not found in database.")
		case !status.Submitted:
			result.Missing = append(result.Missing, status.Description)
		}
	}

	result.Passed = expr.Eval(submitted)
	outcome := "passed"
	if !result.Passed {
		outcome = "failed"
	}
	metrics.ProcedureChecksTotal.WithLabelValues(outcome).Inc()

	e.logger.Info("procedure checked",
		zap.String("claim_id", claimID),
		zap.String("expression", expression),
		zap.Bool("passed", result.Passed),
		zap.Int("missing", len(result.Missing)),
	)
	return result, nil
}

func (e *Evaluator) checkStatus(ctx context.Context, id string, defined map[string]model.CheckRule, claimID string) (model.CheckStatus, error) {
	status := model.CheckStatus{CheckRuleID: id, L1Values: []model.L1Value{}}

	check, ok := defined[id]
	if !ok {
		e.logger.Warn("check rule not defined",
			zap.String("check_rule_id", id),
			zap.String("claim_id", claimID),
		)
		return status, nil
	}
	status.Defined = true
	status.Description = check.Description

	submitted, err := e.procedures.DocumentSubmitted(ctx, claimID, check.Description)
	if err != nil {
		return model.CheckStatus{}, err
	}
	status.Submitted = submitted

	rules, err := e.procedures.L1RulesForCheck(ctx, id)
	if err != nil {
		return model.CheckStatus{}, err
	}
	for _, rule := range rules {
		value := model.L1Value{
			RuleID:         rule.ID,
			Description:    rule.Description,
			Value:          NotSubmitted,
			SourceDocument: rule.SourceDocument,
		}
		if submitted {
			value.Value, err = e.l1Value(ctx, rule.ID, claimID)
			if err != nil {
				return model.CheckStatus{}, err
			}
		}
		status.L1Values = append(status.L1Values, value)
	}
	return status, nil
}

func (e *Evaluator) l1Value(ctx context.Context, ruleID, claimID string) (string, error) {
	fact, err := e.facts.Fetch(ctx, ruleID, claimID)
	if errors.Is(err, store.ErrEvidenceNotFound) {
		return model.EvidenceFact{}.Display(), nil
	}
	if err != nil {
		return "", err
	}
	return fact.Display(), nil
}
