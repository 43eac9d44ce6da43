// Package store is the read-only query surface over rule and claim evidence data.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ppiankov/rulecheck/internal/model"
)

var (
	// ErrEvidenceNotFound means no fact exists for the requested (rule, claim) pair
	ErrEvidenceNotFound = errors.New("evidence not found")

	// ErrRuleNotFound means the rule itself is not defined. It matches ErrEvidenceNotFound.
	ErrRuleNotFound = fmt.Errorf("rule not defined: %w", ErrEvidenceNotFound)

	// ErrStoreUnavailable means the underlying store could not be reached or queried
	ErrStoreUnavailable = errors.New("evidence store unavailable")
)

// Store is the evidence source consumed by the engine.
// Implementations never mutate stored state and are safe for concurrent use.
type Store interface {
	// Fetch returns the fact extracted for ruleID on claimID
	Fetch(ctx context.Context, ruleID, claimID string) (model.EvidenceFact, error)

	// Rule returns the stored descriptor of an L1 or L2 rule
	Rule(ctx context.Context, ruleID string) (model.RuleDescriptor, error)

	// L2Rules returns every L2 rule, ordered by id
	L2Rules(ctx context.Context) ([]model.RuleDescriptor, error)
}
