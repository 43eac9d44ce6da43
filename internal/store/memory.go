package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ppiankov/rulecheck/internal/model"
)

// MemoryStore is a map-backed Store for tests and dry runs
type MemoryStore struct {
	mu         sync.RWMutex
	rules      map[string]model.RuleDescriptor
	facts      map[factKey]model.EvidenceFact
	procedures map[string]model.Procedure
	checks     map[string]model.CheckRule
	submitted  map[submissionKey]bool
}

type submissionKey struct {
	claimID string
	keyword string
}

type factKey struct {
	ruleID  string
	claimID string
}

// NewMemoryStore creates an empty memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rules:      make(map[string]model.RuleDescriptor),
		facts:      make(map[factKey]model.EvidenceFact),
		procedures: make(map[string]model.Procedure),
		checks:     make(map[string]model.CheckRule),
		submitted:  make(map[submissionKey]bool),
	}
}

// AddRule registers a rule descriptor
func (s *MemoryStore) AddRule(rule model.RuleDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[rule.ID] = rule
}

// AddFact registers a fact for its (rule, claim) pair
func (s *MemoryStore) AddFact(fact model.EvidenceFact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.facts[factKey{fact.RuleID, fact.ClaimID}] = fact
}

// Fetch returns the fact for the pair
func (s *MemoryStore) Fetch(ctx context.Context, ruleID, claimID string) (model.EvidenceFact, error) {
	if err := ctx.Err(); err != nil {
		return model.EvidenceFact{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	fact, ok := s.facts[factKey{ruleID, claimID}]
	if !ok {
		return model.EvidenceFact{}, fmt.Errorf("%w: rule %s, claim %s", ErrEvidenceNotFound, ruleID, claimID)
	}
	return fact, nil
}

// Rule returns the descriptor for ruleID
func (s *MemoryStore) Rule(ctx context.Context, ruleID string) (model.RuleDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return model.RuleDescriptor{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.rules[ruleID]
	if !ok {
		return model.RuleDescriptor{}, fmt.Errorf("%w: %s", ErrRuleNotFound, ruleID)
	}
	return rule, nil
}

// L2Rules returns all L2 rules ordered by id
func (s *MemoryStore) L2Rules(ctx context.Context) ([]model.RuleDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var rules []model.RuleDescriptor
	for _, rule := range s.rules {
		if rule.Tier == model.TierL2 {
			rules = append(rules, rule)
		}
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules, nil
}

// AddProcedure registers a procedure under its lowercased name
func (s *MemoryStore) AddProcedure(p model.Procedure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.procedures[strings.ToLower(p.Name)] = p
}

// AddCheckRule registers a check rule definition
func (s *MemoryStore) AddCheckRule(c model.CheckRule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checks[c.ID] = c
}

// SetSubmitted marks the document named by a check description as present for claimID
func (s *MemoryStore) SetSubmitted(claimID, checkDescription string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted[submissionKey{claimID, DocumentKeyword(checkDescription)}] = true
}

// Procedures returns every procedure ordered by name
func (s *MemoryStore) Procedures(ctx context.Context) ([]model.Procedure, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	procedures := make([]model.Procedure, 0, len(s.procedures))
	for _, p := range s.procedures {
		procedures = append(procedures, p)
	}
	sort.Slice(procedures, func(i, j int) bool { return procedures[i].Name < procedures[j].Name })
	return procedures, nil
}

// Procedure returns the named procedure
func (s *MemoryStore) Procedure(ctx context.Context, name string) (model.Procedure, error) {
	if err := ctx.Err(); err != nil {
		return model.Procedure{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.procedures[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return model.Procedure{}, fmt.Errorf("%w: %s", ErrProcedureNotFound, name)
	}
	return p, nil
}

// CheckRules returns the requested check rules keyed by id
func (s *MemoryStore) CheckRules(ctx context.Context, ids []string) (map[string]model.CheckRule, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]model.CheckRule, len(ids))
	for _, id := range ids {
		if c, ok := s.checks[id]; ok {
			out[id] = c
		}
	}
	return out, nil
}

// L1RulesForCheck returns the L1 rules under checkRuleID ordered by id
func (s *MemoryStore) L1RulesForCheck(ctx context.Context, checkRuleID string) ([]model.RuleDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var rules []model.RuleDescriptor
	for _, rule := range s.rules {
		if rule.Tier == model.TierL1 && rule.CheckRuleID == checkRuleID {
			rules = append(rules, rule)
		}
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules, nil
}

// DocumentSubmitted reports what SetSubmitted recorded
func (s *MemoryStore) DocumentSubmitted(ctx context.Context, claimID, checkDescription string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.submitted[submissionKey{claimID, DocumentKeyword(checkDescription)}], nil
}
