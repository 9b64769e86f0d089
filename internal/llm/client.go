package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/petitrace/internal/cache"
	"github.com/ppiankov/petitrace/internal/model"
	"github.com/ppiankov/petitrace/internal/util"
	"github.com/ppiankov/petitrace/internal/worker"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
)

// Client wraps a Provider with a mandatory timeout, rate limiting,
// response caching and JSON shape validation. A nil Client or one with
// a nil provider is disabled.
type Client struct {
	provider    Provider
	timeout     time.Duration
	limiter     *worker.Limiter
	cache       cache.Replies
	model       string
	temperature float32
	maxTokens   int
}

// ClientOptions configures NewClient
type ClientOptions struct {
	Timeout     time.Duration
	Limiter     *worker.Limiter
	Cache       cache.Replies
	Model       string
	Temperature float32
	MaxTokens   int
}

// NewClient creates a client around provider, which may be nil
func NewClient(provider Provider, opts ClientOptions) *Client {
	if opts.Timeout < time.Second {
		opts.Timeout = 60 * time.Second
	}
	return &Client{
		provider:    provider,
		timeout:     opts.Timeout,
		limiter:     opts.Limiter,
		cache:       opts.Cache,
		model:       opts.Model,
		temperature: opts.Temperature,
		maxTokens:   opts.MaxTokens,
	}
}

// Enabled reports whether calls will reach a provider
func (c *Client) Enabled() bool {
	return c != nil && c.provider != nil
}

// ProviderName returns the provider name, or "" when disabled
func (c *Client) ProviderName() string {
	if !c.Enabled() {
		return ""
	}
	return c.provider.Name()
}

// CompleteJSON sends the prompt and returns the parsed JSON reply.
// Every path in required must exist in the reply or ErrMalformedOutput
// is returned. A call that outlives the client timeout fails with
// ErrTimeout; cancellation of ctx is returned as ctx.Err().
func (c *Client) CompleteJSON(ctx context.Context, system, prompt string, required ...string) (gjson.Result, error) {
	if !c.Enabled() {
		return gjson.Result{}, model.ErrLLMDisabled
	}

	key := cache.Key(c.provider.Name(), c.model, system, prompt)
	if c.cache != nil {
		if raw, ok := c.cache.Lookup(key); ok {
			if res, err := parseReply(raw, required); err == nil {
				return res, nil
			}
			_ = c.cache.Evict(key)
		}
	}

	if err := c.limiter.Wait(ctx, c.provider.Name()); err != nil {
		return gjson.Result{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.provider.Complete(callCtx, CompletionRequest{
		System:      system,
		Prompt:      prompt,
		Model:       c.model,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		JSON:        true,
	})
	if err != nil {
		if ctx.Err() != nil {
			return gjson.Result{}, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() == context.DeadlineExceeded {
			return gjson.Result{}, fmt.Errorf("%w after %s: %v", ErrTimeout, c.timeout, err)
		}
		return gjson.Result{}, err
	}

	util.Log.WithFields(logrus.Fields{
		"provider": c.provider.Name(),
		"model":    resp.Model,
		"tokens":   resp.TokensUsed,
		"elapsed":  time.Since(start).Round(time.Millisecond),
	}).Debug("llm call complete")

	res, err := parseReply(resp.Text, required)
	if err != nil {
		return gjson.Result{}, err
	}

	if c.cache != nil {
		if err := c.cache.Store(key, res.Raw); err != nil {
			util.Log.WithError(err).Debug("llm cache write failed")
		}
	}
	return res, nil
}

// parseReply extracts the JSON document from a model reply, tolerating
// markdown fences and leading prose
func parseReply(text string, required []string) (gjson.Result, error) {
	raw := extractJSON(text)
	if raw == "" || !gjson.Valid(raw) {
		return gjson.Result{}, fmt.Errorf("%w: reply is not valid JSON", ErrMalformedOutput)
	}
	res := gjson.Parse(raw)
	for _, path := range required {
		if !res.Get(path).Exists() {
			return gjson.Result{}, fmt.Errorf("%w: missing %q", ErrMalformedOutput, path)
		}
	}
	return res, nil
}

func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
	}
	if gjson.Valid(text) {
		return text
	}
	start := strings.IndexAny(text, "{[")
	if start < 0 {
		return ""
	}
	closer := byte('}')
	if text[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(text, closer)
	if end <= start {
		return ""
	}
	return text[start : end+1]
}
