package store

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/rulecheck/internal/cache"
	"github.com/ppiankov/rulecheck/internal/model"
)

// CachedStore memoizes facts and rule descriptors of an underlying Store.
// Only successful lookups are cached; errors always reach the caller.
type CachedStore struct {
	next   Store
	cache  cache.Cache
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedStore wraps next with c. A zero ttl uses the cache default.
func NewCachedStore(next Store, c cache.Cache, ttl time.Duration, log *zap.Logger) *CachedStore {
	if log == nil {
		log = zap.NewNop()
	}
	return &CachedStore{next: next, cache: c, ttl: ttl, logger: log}
}

// Fetch returns the cached fact or fetches and caches it
func (s *CachedStore) Fetch(ctx context.Context, ruleID, claimID string) (model.EvidenceFact, error) {
	key := cache.Key("fact", ruleID, claimID)

	var fact model.EvidenceFact
	if s.load(key, &fact) {
		return fact, nil
	}

	fact, err := s.next.Fetch(ctx, ruleID, claimID)
	if err != nil {
		return model.EvidenceFact{}, err
	}
	s.store(key, fact)
	return fact, nil
}

// Rule returns the cached descriptor or looks it up and caches it
func (s *CachedStore) Rule(ctx context.Context, ruleID string) (model.RuleDescriptor, error) {
	key := cache.Key("rule", ruleID)

	var rule model.RuleDescriptor
	if s.load(key, &rule) {
		return rule, nil
	}

	rule, err := s.next.Rule(ctx, ruleID)
	if err != nil {
		return model.RuleDescriptor{}, err
	}
	s.store(key, rule)
	return rule, nil
}

// L2Rules is not cached; it is called once per batch
func (s *CachedStore) L2Rules(ctx context.Context) ([]model.RuleDescriptor, error) {
	return s.next.L2Rules(ctx)
}

func (s *CachedStore) load(key string, dest interface{}) bool {
	data, ok := s.cache.Get(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(data, dest); err != nil {
		s.logger.Warn("discarding corrupt cache entry", zap.String("key", key), zap.Error(err))
		_ = s.cache.Delete(key)
		return false
	}
	return true
}

func (s *CachedStore) store(key string, value interface{}) {
	data, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := s.cache.Set(key, data, s.ttl); err != nil {
		s.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
}
