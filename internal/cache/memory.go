package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Memory keeps replies in process until their TTL lapses
type Memory struct {
	items *gocache.Cache
}

// NewMemory creates a memory cache whose entries live for ttl. Zero keeps
// them until the process exits.
func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	return &Memory{items: gocache.New(ttl, 10*time.Minute)}
}

func (m *Memory) Lookup(key string) (string, bool) {
	v, ok := m.items.Get(key)
	if !ok {
		return "", false
	}
	reply, ok := v.(string)
	return reply, ok
}

func (m *Memory) Store(key, reply string) error {
	m.items.SetDefault(key, reply)
	return nil
}

func (m *Memory) Evict(key string) error {
	m.items.Delete(key)
	return nil
}

func (m *Memory) Purge() error {
	m.items.Flush()
	return nil
}

// Len counts live entries
func (m *Memory) Len() int {
	return m.items.ItemCount()
}
