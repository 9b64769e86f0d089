package worker

import (
	"context"
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter paces requests per key. Keys are LLM provider names or OCR
// service hosts, so one slow upstream never starves another.
type Limiter struct {
	mu     sync.Mutex
	perKey map[string]*rate.Limiter
	limit  rate.Limit
	burst  int
}

// NewLimiter creates a limiter allowing requestsPerSecond per key. A
// non-positive rate disables limiting.
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	if burst <= 0 {
		burst = 1
	}
	limit := rate.Limit(requestsPerSecond)
	if requestsPerSecond <= 0 {
		limit = rate.Inf
	}
	return &Limiter{perKey: make(map[string]*rate.Limiter), limit: limit, burst: burst}
}

// Wait blocks until a request for key is allowed or ctx is done.
// A nil Limiter never blocks.
func (l *Limiter) Wait(ctx context.Context, key string) error {
	if l == nil {
		return ctx.Err()
	}
	return l.forKey(key).Wait(ctx)
}

func (l *Limiter) forKey(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	rl, ok := l.perKey[key]
	if !ok {
		rl = rate.NewLimiter(l.limit, l.burst)
		l.perKey[key] = rl
	}
	return rl
}

// HostKey returns the host of a URL for use as a limiter key
func HostKey(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return rawURL
	}
	return parsed.Host
}
