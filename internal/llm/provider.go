package llm

import (
	"context"
	"errors"
)

// Provider defines the interface for LLM providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Complete runs a single prompt and returns the raw model output
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool
}

// CompletionRequest contains the input for one LLM call
type CompletionRequest struct {
	System string
	Prompt string

	// Model overrides the configured model
	Model string

	// MaxTokens limits the response length
	MaxTokens int

	Temperature float32

	// JSON asks the provider to constrain output to a JSON object
	JSON bool
}

// CompletionResponse contains the model output
type CompletionResponse struct {
	Text       string
	Model      string
	TokensUsed int
}

var (
	// ErrTimeout is returned when a call exceeds its deadline. Retrying is safe.
	ErrTimeout = errors.New("llm call timed out")

	// ErrMalformedOutput is returned when the reply is not the expected JSON shape
	ErrMalformedOutput = errors.New("llm returned malformed output")
)

// Config holds LLM provider configuration
type Config struct {
	// Provider name: "openai", "anthropic", "ollama", ""
	Provider string

	// Model name (provider-specific)
	Model string

	// APIKey for OpenAI/Anthropic
	APIKey string

	// BaseURL for custom endpoints (e.g., Ollama)
	BaseURL string

	// Timeout for API requests
	Timeout int // seconds

	MaxTokens   int
	Temperature float32

	// Retries for transient HTTP failures (5xx, 429, connection errors)
	Retries int

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:    "", // Disabled by default
		Timeout:     60,
		MaxTokens:   2000,
		Temperature: 0.1,
		Retries:     2,
	}
}

func (c Config) maxTokens(req int) int {
	if req > 0 {
		return req
	}
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return 2000
}
