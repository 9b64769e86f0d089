package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Disk keeps one JSON file per reply, sharded by the first byte of the key
type Disk struct {
	dir string
	ttl time.Duration
	now func() time.Time
}

// NewDisk creates a disk cache under dir whose entries live for ttl
func NewDisk(dir string, ttl time.Duration) *Disk {
	return &Disk{dir: dir, ttl: ttl, now: time.Now}
}

type diskEntry struct {
	Reply     string    `json:"reply"`
	StoredAt  time.Time `json:"stored_at"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

func (d *Disk) Lookup(key string) (string, bool) {
	path := d.path(key)
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	var e diskEntry
	if err := json.Unmarshal(data, &e); err != nil {
		_ = os.Remove(path)
		return "", false
	}
	if !e.ExpiresAt.IsZero() && d.now().After(e.ExpiresAt) {
		_ = os.Remove(path)
		return "", false
	}
	return e.Reply, true
}

func (d *Disk) Store(key, reply string) error {
	e := diskEntry{Reply: reply, StoredAt: d.now().UTC()}
	if d.ttl > 0 {
		e.ExpiresAt = e.StoredAt.Add(d.ttl)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}

	path := d.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}

	// write-then-rename so concurrent readers never see a torn entry
	tmp, err := os.CreateTemp(filepath.Dir(path), "reply-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("rename cache file: %w", err)
	}
	return nil
}

func (d *Disk) Evict(key string) error {
	if err := os.Remove(d.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (d *Disk) Purge() error {
	return os.RemoveAll(d.dir)
}

func (d *Disk) path(key string) string {
	shard := "00"
	if len(key) >= 2 {
		shard = key[:2]
	}
	return filepath.Join(d.dir, shard, key+".json")
}
