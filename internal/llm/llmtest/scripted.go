// Package llmtest provides a scripted llm.Provider for deterministic tests.
package llmtest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/ppiankov/petitrace/internal/llm"
)

// Reply is one scripted answer
type Reply struct {
	Text  string
	Err   error
	Block bool // wait for ctx to end, simulating a hung upstream
}

// Scripted answers prompts from a rule list. The first rule whose
// substring appears in the prompt wins; rules are consumed in order when
// Once is set. Unmatched prompts get Default.
type Scripted struct {
	mu      sync.Mutex
	rules   []rule
	Default Reply
	Calls   []llm.CompletionRequest
}

type rule struct {
	contains string
	reply    Reply
	once     bool
	used     bool
}

// On registers a reply for prompts containing substr
func (s *Scripted) On(substr string, r Reply) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, rule{contains: substr, reply: r})
	return s
}

// Once registers a reply used a single time
func (s *Scripted) Once(substr string, r Reply) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = append(s.rules, rule{contains: substr, reply: r, once: true})
	return s
}

// Name returns "scripted"
func (s *Scripted) Name() string { return "scripted" }

// IsAvailable is always true
func (s *Scripted) IsAvailable(ctx context.Context) bool { return true }

// CallCount returns how many completions were requested
func (s *Scripted) CallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

// Complete returns the scripted reply
func (s *Scripted) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.mu.Lock()
	s.Calls = append(s.Calls, req)
	reply := s.Default
	for i := range s.rules {
		r := &s.rules[i]
		if r.used || !strings.Contains(req.Prompt, r.contains) {
			continue
		}
		if r.once {
			r.used = true
		}
		reply = r.reply
		break
	}
	s.mu.Unlock()

	if reply.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if reply.Err != nil {
		return nil, reply.Err
	}
	if reply.Text == "" {
		return nil, errors.New("scripted: no reply for prompt")
	}
	return &llm.CompletionResponse{Text: reply.Text, Model: "scripted"}, nil
}
