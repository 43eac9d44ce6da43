package llm

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/ppiankov/rulecheck/internal/model"
)

var (
	// ErrOracleUnavailable means the oracle could not be reached or returned an error
	ErrOracleUnavailable = errors.New("reasoning oracle unavailable")

	// ErrOracleTimeout means the oracle did not answer within the allowed time
	ErrOracleTimeout = errors.New("reasoning oracle timed out")
)

// systemInstruction frames every oracle call
const systemInstruction = "You are an insurance claim auditor. You judge whether claim evidence satisfies a business rule. Use only the evidence you are given and never invent rule identifiers."

// jsonInstruction is appended for providers without a native JSON mode
const jsonInstruction = "\n\nRespond with a single JSON object only. Do not wrap it in markdown."

// Provider defines the interface for reasoning oracle providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Generate sends one prompt and returns the raw answer text.
	// Implementations perform exactly one outbound call and never retry.
	Generate(ctx context.Context, req GenerateRequest) (*GenerateResponse, error)

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool
}

// GenerateRequest contains the input for one oracle call
type GenerateRequest struct {
	// Prompt is the finished prompt text
	Prompt string

	// Format is the requested output shape. STRUCTURED is passed as a
	// generation constraint where the provider supports one.
	Format model.Format

	// Model overrides the configured model (provider-specific)
	Model string

	// MaxTokens limits the response length
	MaxTokens int
}

// GenerateResponse contains the oracle's raw output
type GenerateResponse struct {
	// Text is the raw answer
	Text string

	// Model is the model that generated the response
	Model string

	// TokensUsed tracks token consumption
	TokensUsed int
}

// Config holds oracle provider configuration
type Config struct {
	// Provider name: "gemini", "openai", "anthropic", "ollama"
	Provider string

	// Model name (provider-specific)
	Model string

	// APIKey for hosted providers
	APIKey string

	// BaseURL for custom endpoints (e.g., Ollama, proxies, test servers)
	BaseURL string

	// Timeout bounds a single oracle call
	Timeout time.Duration

	// MaxTokens for response generation
	MaxTokens int

	// Temperature for generation; 0 keeps verdicts as stable as the provider allows
	Temperature float32

	// Client-side rate limit (0 disables)
	RequestsPerSecond float64
	Burst             int

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:  "gemini",
		Model:     "gemini-2.5-flash",
		Timeout:   60 * time.Second,
		MaxTokens: 2048,
	}
}

func (c Config) timeout() time.Duration {
	if c.Timeout <= 0 {
		return 60 * time.Second
	}
	return c.Timeout
}

func (c Config) maxTokens(requested int) int {
	if requested > 0 {
		return requested
	}
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return 2048
}

// httpClient builds the HTTP client shared by the raw-HTTP providers
func (c Config) httpClient() *http.Client {
	return &http.Client{
		Timeout: c.timeout(),
		Transport: &http.Transport{
			Proxy: NewProxyFunc(c.HTTPProxy, c.HTTPSProxy, c.NoProxy),
		},
	}
}
