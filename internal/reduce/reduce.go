// Package reduce applies the final invariants to an interpreted decision.
package reduce

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/ppiankov/rulecheck/internal/metrics"
	"github.com/ppiankov/rulecheck/internal/model"
	"github.com/ppiankov/rulecheck/internal/refparse"
)

// Reducer finalises DecisionRecords
type Reducer struct {
	logger *zap.Logger
}

// New creates a reducer (nil logger disables logging)
func New(logger *zap.Logger) *Reducer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reducer{logger: logger}
}

// Reduce returns the final decision for an evaluation.
//
// SIMPLE decisions never carry comparisons. COMPOUND comparisons are tagged with
// the source of the reference they name; a comparison naming a rule outside refs,
// or a PASS/FAIL without any comparison, turns the decision into CANNOT_DETERMINE.
func (r *Reducer) Reduce(mode model.Mode, decision model.DecisionRecord, refs []model.RuleReference) model.DecisionRecord {
	if mode != model.ModeCompound {
		decision.Comparisons = []model.ComparisonRecord{}
		decision.PrimarySource = ""
		return decision
	}

	byID := make(map[string]model.RuleReference, len(refs))
	for _, ref := range refs {
		byID[ref.ID] = ref
	}

	kept := make([]model.ComparisonRecord, 0, len(decision.Comparisons))
	var unknown []string
	for _, c := range decision.Comparisons {
		id, err := refparse.CanonicalID(c.L1RuleID)
		ref, ok := byID[id]
		if err != nil || !ok {
			unknown = append(unknown, c.L1RuleID)
			continue
		}
		c.L1RuleID = id
		c.SourceReference = ref.Source()
		kept = append(kept, c)
	}
	decision.Comparisons = kept

	if len(unknown) > 0 {
		return r.downgrade(decision,
			fmt.Sprintf("comparisons name rule ids outside the referenced set: %s", strings.Join(unknown, ", ")))
	}

	if decision.Verdict.IsDecisive() && len(kept) == 0 {
		return r.downgrade(decision,
			fmt.Sprintf("%s verdict without any comparison", decision.Verdict))
	}

	return decision
}

func (r *Reducer) downgrade(decision model.DecisionRecord, reason string) model.DecisionRecord {
	metrics.DowngradesTotal.WithLabelValues("reducer").Inc()
	r.logger.Warn("decision downgraded",
		zap.String("from", string(decision.Verdict)),
		zap.String("reason", reason),
	)

	decision.Verdict = model.VerdictCannotDetermine
	decision.Reasoning = reason
	return decision
}
