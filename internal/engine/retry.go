package engine

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/ppiankov/rulecheck/internal/llm"
	"github.com/ppiankov/rulecheck/internal/model"
	"github.com/ppiankov/rulecheck/internal/store"
)

// RetryPolicy retries a whole evaluation on infrastructure faults.
// Missing evidence and missing templates are never retried.
type RetryPolicy struct {
	MaxAttempts    int // 1 or less disables retries
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// RetryPolicyFromModel converts model.RetryConfig
func RetryPolicyFromModel(cfg model.RetryConfig) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    cfg.MaxAttempts,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
	}
}

// Retryable reports whether err is a transient infrastructure fault
func Retryable(err error) bool {
	if errors.Is(err, store.ErrEvidenceNotFound) {
		return false
	}
	return errors.Is(err, store.ErrStoreUnavailable) ||
		errors.Is(err, llm.ErrOracleUnavailable) ||
		errors.Is(err, llm.ErrOracleTimeout)
}

// Do runs op until it succeeds, fails permanently, runs out of attempts or ctx ends
func (p RetryPolicy) Do(ctx context.Context, log *zap.Logger, op func() error) error {
	if p.MaxAttempts <= 1 {
		return op()
	}
	if log == nil {
		log = zap.NewNop()
	}

	b := backoff.NewExponentialBackOff()
	if p.InitialBackoff > 0 {
		b.InitialInterval = p.InitialBackoff
	}
	if p.MaxBackoff > 0 {
		b.MaxInterval = p.MaxBackoff
	}
	b.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.MaxAttempts-1)), ctx)

	var lastErr error
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		lastErr = op()
		if lastErr != nil && !Retryable(lastErr) {
			return backoff.Permanent(lastErr)
		}
		return lastErr
	}, policy, func(err error, wait time.Duration) {
		log.Warn("retrying evaluation",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
			zap.Error(err),
		)
	})

	// backoff reports the context error alone when ctx ends between attempts
	if err != nil && lastErr != nil && err != lastErr && errors.Is(err, ctx.Err()) {
		return errors.Join(lastErr, err)
	}
	return err
}
