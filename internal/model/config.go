package model

import "time"

// Config is the process-wide configuration. It is built once at startup
// and passed explicitly to the components that need it.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Oracle      OracleConfig      `yaml:"oracle" mapstructure:"oracle"`
	Templates   TemplateConfig    `yaml:"templates" mapstructure:"templates"`
	Cache       CacheConfig       `yaml:"cache" mapstructure:"cache"`
	Retry       RetryConfig       `yaml:"retry" mapstructure:"retry"`
	Concurrency ConcurrencyConfig `yaml:"concurrency" mapstructure:"concurrency"`
	Output      OutputConfig      `yaml:"output" mapstructure:"output"`
}

// StoreConfig locates the rules and claims databases
type StoreConfig struct {
	RulesDB  string `yaml:"rules_db" mapstructure:"rules_db"`
	ClaimsDB string `yaml:"claims_db" mapstructure:"claims_db"`
}

// OracleConfig selects and configures the reasoning oracle
type OracleConfig struct {
	Provider    string        `yaml:"provider" mapstructure:"provider"` // gemini, openai, anthropic, ollama
	Model       string        `yaml:"model" mapstructure:"model"`
	APIKey      string        `yaml:"-" mapstructure:"api_key"` // Never written to config files
	BaseURL     string        `yaml:"base_url,omitempty" mapstructure:"base_url"`
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`
	MaxTokens   int           `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float32       `yaml:"temperature" mapstructure:"temperature"`

	// Client-side rate limit across all evaluations (0 disables)
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst             int     `yaml:"burst" mapstructure:"burst"`

	HTTPProxy  string `yaml:"http_proxy,omitempty" mapstructure:"http_proxy"`
	HTTPSProxy string `yaml:"https_proxy,omitempty" mapstructure:"https_proxy"`
	NoProxy    string `yaml:"no_proxy,omitempty" mapstructure:"no_proxy"`
}

// TemplateConfig overrides the embedded prompt templates with a directory
type TemplateConfig struct {
	Dir string `yaml:"dir,omitempty" mapstructure:"dir"`
}

// CacheConfig controls evidence fact caching
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	MemoryTTL time.Duration `yaml:"memory_ttl" mapstructure:"memory_ttl"`
	Dir       string        `yaml:"dir,omitempty" mapstructure:"dir"` // Disk layer, disabled when empty
	DiskTTL   time.Duration `yaml:"disk_ttl" mapstructure:"disk_ttl"`
}

// RetryConfig is the caller-level retry policy around a whole evaluation
type RetryConfig struct {
	MaxAttempts    int           `yaml:"max_attempts" mapstructure:"max_attempts"` // 1 disables retries
	InitialBackoff time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
}

// ConcurrencyConfig bounds parallel work
type ConcurrencyConfig struct {
	FetchWorkers int `yaml:"fetch_workers" mapstructure:"fetch_workers"` // Per-evaluation reference fetches
	Workers      int `yaml:"workers" mapstructure:"workers"`             // Batch evaluations
}

// OutputConfig controls CLI output
type OutputConfig struct {
	Verbose bool `yaml:"verbose" mapstructure:"verbose"`
	Pretty  bool `yaml:"pretty" mapstructure:"pretty"`
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			RulesDB:  "databases/rules.db",
			ClaimsDB: "databases/claims_database.db",
		},
		Oracle: OracleConfig{
			Provider:          "gemini",
			Model:             "gemini-2.5-flash",
			Timeout:           60 * time.Second,
			MaxTokens:         2048,
			Temperature:       0,
			RequestsPerSecond: 0,
			Burst:             1,
		},
		Cache: CacheConfig{
			Enabled:   true,
			MemoryTTL: 10 * time.Minute,
			DiskTTL:   24 * time.Hour,
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     10 * time.Second,
		},
		Concurrency: ConcurrencyConfig{
			FetchWorkers: 8,
			Workers:      4,
		},
		Output: OutputConfig{
			Pretty: true,
		},
	}
}
