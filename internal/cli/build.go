package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ppiankov/rulecheck/internal/cache"
	"github.com/ppiankov/rulecheck/internal/checkrule"
	"github.com/ppiankov/rulecheck/internal/engine"
	"github.com/ppiankov/rulecheck/internal/llm"
	"github.com/ppiankov/rulecheck/internal/model"
	"github.com/ppiankov/rulecheck/internal/prompt"
	"github.com/ppiankov/rulecheck/internal/store"
	"github.com/ppiankov/rulecheck/internal/worker"
)

// flagKeys maps command flags to config keys.
// Bound per command at run time, since several commands share a key.
var flagKeys = map[string]string{
	"provider":    "oracle.provider",
	"model":       "oracle.model",
	"timeout":     "oracle.timeout",
	"rps":         "oracle.requests_per_second",
	"rules-db":    "store.rules_db",
	"claims-db":   "store.claims_db",
	"templates":   "templates.dir",
	"cache-dir":   "cache.dir",
	"concurrency": "concurrency.workers",
	"http-proxy":  "oracle.http_proxy",
	"https-proxy": "oracle.https_proxy",
}

// addStoreFlags registers the flags of commands that only read the databases
func addStoreFlags(cmd *cobra.Command) {
	d := model.DefaultConfig()
	cmd.Flags().String("rules-db", d.Store.RulesDB, "path to the rules database")
	cmd.Flags().String("claims-db", d.Store.ClaimsDB, "path to the claims database")
	cmd.Flags().String("cache-dir", "", "directory for the on-disk evidence cache")
	cmd.Flags().Bool("no-cache", false, "disable evidence caching")
}

// addOracleFlags registers the flags shared by every evaluating command
func addOracleFlags(cmd *cobra.Command) {
	d := model.DefaultConfig()
	addStoreFlags(cmd)
	cmd.Flags().String("provider", d.Oracle.Provider, "oracle provider (gemini, openai, anthropic, ollama)")
	cmd.Flags().String("model", d.Oracle.Model, "oracle model name")
	cmd.Flags().Duration("timeout", d.Oracle.Timeout, "timeout for a single oracle call")
	cmd.Flags().Float64("rps", d.Oracle.RequestsPerSecond, "oracle requests per second (0 = unlimited)")
	cmd.Flags().String("templates", "", "directory overriding the embedded prompt templates")
	cmd.Flags().String("http-proxy", "", "HTTP proxy URL (overrides HTTP_PROXY env var)")
	cmd.Flags().String("https-proxy", "", "HTTPS proxy URL (overrides HTTPS_PROXY env var)")
	cmd.Flags().Bool("no-retry", false, "disable retries of failed evaluations")
}

// commandConfig binds cmd's flags and returns the merged configuration
func commandConfig(cmd *cobra.Command) (*model.Config, error) {
	v := viper.GetViper()
	for flag, key := range flagKeys {
		if f := cmd.Flags().Lookup(flag); f != nil {
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", flag, err)
			}
		}
	}

	cfg, err := loadConfig(v)
	if err != nil {
		return nil, err
	}

	if noCache, _ := cmd.Flags().GetBool("no-cache"); noCache {
		cfg.Cache.Enabled = false
	}
	if noRetry, _ := cmd.Flags().GetBool("no-retry"); noRetry {
		cfg.Retry.MaxAttempts = 1
	}
	return cfg, nil
}

// wiring holds the components of one CLI invocation
type wiring struct {
	engine *engine.Engine
	store  store.Store
	oracle *llm.Gateway
	checks *checkrule.Evaluator
	close  func() error
}

// openStores opens the databases and puts the evidence cache in front of them when enabled
func openStores(cfg *model.Config, log *zap.Logger) (*store.SQLStore, store.Store, error) {
	sqlStore, err := store.OpenSQLStore(cfg.Store.RulesDB, cfg.Store.ClaimsDB, log)
	if err != nil {
		return nil, nil, err
	}

	var st store.Store = sqlStore
	if cfg.Cache.Enabled {
		c := cache.New(cfg.Cache.MemoryTTL, cfg.Cache.Dir, cfg.Cache.DiskTTL)
		st = store.NewCachedStore(sqlStore, c, 0, log)
	}
	return sqlStore, st, nil
}

// buildWiring connects store, cache, oracle and engine from cfg
func buildWiring(ctx context.Context, cfg *model.Config, log *zap.Logger) (*wiring, error) {
	sqlStore, st, err := openStores(cfg, log)
	if err != nil {
		return nil, err
	}

	oracleConfig := llm.ConfigFromModel(cfg.Oracle)
	provider, err := llm.NewProvider(ctx, oracleConfig)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("create oracle provider: %w", err), sqlStore.Close())
	}

	var limiter llm.Waiter
	if cfg.Oracle.RequestsPerSecond > 0 {
		limiter = worker.NewLimiter(cfg.Oracle.RequestsPerSecond, cfg.Oracle.Burst)
	}
	gateway := llm.NewGateway(provider, oracleConfig, limiter, log)

	eng := engine.New(st, prompt.NewCompiler(prompt.DirSource(cfg.Templates.Dir)), gateway, log, engine.Options{
		FetchWorkers: cfg.Concurrency.FetchWorkers,
		Retry:        engine.RetryPolicyFromModel(cfg.Retry),
	})

	log.Debug("engine ready",
		zap.String("provider", provider.Name()),
		zap.String("model", cfg.Oracle.Model),
		zap.Bool("cache", cfg.Cache.Enabled),
		zap.Int("retry_attempts", cfg.Retry.MaxAttempts),
	)

	return &wiring{
		engine: eng,
		store:  st,
		oracle: gateway,
		checks: checkrule.New(sqlStore, st, log),
		close:  sqlStore.Close,
	}, nil
}
