// Package cache keeps validated LLM replies so that re-running extraction
// or merge suggestion over the same exhibits does not pay for the same
// prompt twice.
package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"time"

	"github.com/ppiankov/petitrace/internal/model"
	"github.com/ppiankov/petitrace/internal/util"
)

// keyVersion changes whenever prompts or reply parsing change shape, so
// stale replies are never served
const keyVersion = "v1"

// Replies stores LLM replies by request key
type Replies interface {
	Lookup(key string) (string, bool)
	Store(key, reply string) error
	Evict(key string) error
	Purge() error
}

// Key identifies one completion request. Parts are length-prefixed so
// ("ab","c") and ("a","bc") differ.
func Key(provider, model, system, prompt string) string {
	h := sha256.New()
	for _, p := range []string{keyVersion, provider, model, system, prompt} {
		var n [8]byte
		binary.LittleEndian.PutUint64(n[:], uint64(len(p)))
		h.Write(n[:])
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// New builds the reply cache described by cfg, or nil when caching is
// disabled. Without a directory replies live only as long as the process.
func New(cfg model.CacheConfig) Replies {
	if !cfg.Enabled {
		return nil
	}
	hot := NewMemory(time.Duration(cfg.MemoryTTLMinutes) * time.Minute)
	if cfg.Dir == "" {
		return hot
	}
	return &Tiered{
		hot:  hot,
		cold: NewDisk(util.ExpandPath(cfg.Dir), time.Duration(cfg.DiskTTLHours)*time.Hour),
	}
}

// Tiered answers from memory first and falls back to disk. Disk hits are
// promoted to memory.
type Tiered struct {
	hot  *Memory
	cold *Disk
}

// Lookup returns a cached reply
func (t *Tiered) Lookup(key string) (string, bool) {
	if reply, ok := t.hot.Lookup(key); ok {
		return reply, true
	}
	reply, ok := t.cold.Lookup(key)
	if ok {
		_ = t.hot.Store(key, reply)
	}
	return reply, ok
}

// Store writes the reply to both tiers
func (t *Tiered) Store(key, reply string) error {
	_ = t.hot.Store(key, reply)
	return t.cold.Store(key, reply)
}

// Evict drops a reply that failed validation
func (t *Tiered) Evict(key string) error {
	_ = t.hot.Evict(key)
	return t.cold.Evict(key)
}

// Purge empties both tiers
func (t *Tiered) Purge() error {
	_ = t.hot.Purge()
	return t.cold.Purge()
}
