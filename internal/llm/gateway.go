package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/rulecheck/internal/metrics"
	"github.com/ppiankov/rulecheck/internal/model"
)

// Waiter blocks until a call for key may proceed.
// worker.Limiter satisfies it.
type Waiter interface {
	Wait(ctx context.Context, key string) error
}

// Gateway sends compiled prompts to a provider.
// Each Send makes exactly one provider call; retrying is the caller's decision.
type Gateway struct {
	provider Provider
	config   Config
	limiter  Waiter
	logger   *zap.Logger
}

// NewGateway creates a gateway. limiter and log may be nil.
func NewGateway(provider Provider, config Config, limiter Waiter, log *zap.Logger) *Gateway {
	if log == nil {
		log = zap.NewNop()
	}
	return &Gateway{
		provider: provider,
		config:   config,
		limiter:  limiter,
		logger:   log,
	}
}

// Provider returns the underlying provider
func (g *Gateway) Provider() Provider {
	return g.provider
}

// Send submits the prompt and returns the raw payload tagged with the requested format.
// Errors wrap ErrOracleTimeout or ErrOracleUnavailable.
func (g *Gateway) Send(ctx context.Context, prompt model.PromptContext) (model.OracleResponse, error) {
	name := g.provider.Name()

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx, name); err != nil {
			return model.OracleResponse{}, classifyWait(ctx, err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, g.config.timeout())
	defer cancel()

	start := time.Now()
	resp, err := g.provider.Generate(callCtx, GenerateRequest{
		Prompt:    prompt.Text,
		Format:    prompt.Format,
		Model:     g.config.Model,
		MaxTokens: g.config.MaxTokens,
	})
	elapsed := time.Since(start)

	if err != nil {
		err = classify(callCtx, err)
		outcome := "unavailable"
		if errors.Is(err, ErrOracleTimeout) {
			outcome = "timeout"
		}
		metrics.OracleDuration.WithLabelValues(name, outcome).Observe(elapsed.Seconds())
		g.logger.Warn("oracle call failed",
			zap.String("provider", name),
			zap.String("mode", string(prompt.Mode)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return model.OracleResponse{}, err
	}

	metrics.OracleDuration.WithLabelValues(name, "ok").Observe(elapsed.Seconds())
	if resp.TokensUsed > 0 {
		metrics.OracleTokensTotal.WithLabelValues(name).Add(float64(resp.TokensUsed))
	}

	g.logger.Debug("oracle call completed",
		zap.String("provider", name),
		zap.String("model", resp.Model),
		zap.String("format", string(prompt.Format)),
		zap.Int("tokens", resp.TokensUsed),
		zap.Duration("elapsed", elapsed),
	)

	return model.OracleResponse{
		Format:     prompt.Format,
		RawPayload: resp.Text,
	}, nil
}

// Check reports whether the provider is reachable within the configured timeout
func (g *Gateway) Check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, g.config.timeout())
	defer cancel()

	if !g.provider.IsAvailable(ctx) {
		return fmt.Errorf("%w: provider %s is not available", ErrOracleUnavailable, g.provider.Name())
	}
	return nil
}

// classify maps a provider or limiter error onto the oracle sentinels
func classify(ctx context.Context, err error) error {
	if isTimeout(ctx, err) {
		return fmt.Errorf("%w: %w", ErrOracleTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrOracleUnavailable, err)
}

// classifyWait maps a limiter error. rate.Limiter refuses a wait that would
// outrun the deadline before ctx itself has ended, so any refusal under a
// live deadline counts as a timeout.
func classifyWait(ctx context.Context, err error) error {
	if _, ok := ctx.Deadline(); ok && !errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("%w: %w", ErrOracleTimeout, err)
	}
	return classify(ctx, err)
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
