package llm

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ppiankov/petitrace/internal/cache"
	"github.com/ppiankov/petitrace/internal/model"
	"github.com/ppiankov/petitrace/internal/worker"
)

// NewProvider creates a new LLM provider based on configuration
func NewProvider(config Config) (Provider, error) {
	switch strings.ToLower(config.Provider) {
	case "openai":
		return NewOpenAIProvider(config)

	case "anthropic", "claude":
		return NewAnthropicProvider(config)

	case "ollama":
		return NewOllamaProvider(config)

	case "":
		// No provider configured - LLM disabled
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (supported: openai, anthropic, ollama)", config.Provider)
	}
}

// ConfigFromModel converts model.LLMConfig to llm.Config, filling
// credentials from the provider's conventional environment variables
func ConfigFromModel(mc model.LLMConfig) Config {
	cfg := DefaultConfig()
	cfg.Provider = mc.Provider
	cfg.Model = mc.Model
	cfg.APIKey = mc.APIKey
	cfg.BaseURL = mc.BaseURL
	if mc.Timeout > 0 {
		cfg.Timeout = mc.Timeout
	}
	if mc.MaxTokens > 0 {
		cfg.MaxTokens = mc.MaxTokens
	}
	cfg.Temperature = mc.Temperature
	cfg.HTTPProxy = mc.HTTPProxy
	cfg.HTTPSProxy = mc.HTTPSProxy
	cfg.NoProxy = mc.NoProxy

	switch strings.ToLower(cfg.Provider) {
	case "openai":
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	case "anthropic", "claude":
		if cfg.APIKey == "" {
			cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		}
	case "ollama":
		if cfg.BaseURL == "" {
			cfg.BaseURL = os.Getenv("OLLAMA_BASE_URL")
		}
	}
	return cfg
}

// NewClientFromConfig builds the rate-limited, cached client described by
// cfg. An empty provider gives a disabled client, not an error.
func NewClientFromConfig(cfg model.Config) (*Client, error) {
	provider, err := NewProvider(ConfigFromModel(cfg.LLM))
	if err != nil {
		return nil, err
	}
	return NewClient(provider, ClientOptions{
		Timeout:     time.Duration(cfg.LLM.Timeout) * time.Second,
		Limiter:     worker.NewLimiter(cfg.LLM.RequestsPerSecond, 1),
		Cache:       cache.New(cfg.Cache),
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}), nil
}
