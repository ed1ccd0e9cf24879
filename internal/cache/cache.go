// Package cache keeps source string to translation mappings per target
// language and persists them between runs.
package cache

import (
	"sync"

	"github.com/fabio-bix/json-transcribe/internal/placeholder"
)

// Cache maps a source string to its translation for one target language.
// Entries are only ever added or overwritten.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]string
	dirty   bool
}

func New() *Cache {
	return &Cache{entries: make(map[string]string)}
}

// NewFrom seeds a cache with previously persisted entries.
func NewFrom(entries map[string]string) *Cache {
	c := New()
	for k, v := range entries {
		c.entries[k] = v
	}
	return c
}

// Get returns a usable translation for source. Entries that still carry
// placeholder tokens are reported as misses so the next Put replaces them.
func (c *Cache) Get(source string) (string, bool) {
	if c == nil {
		return "", false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[source]
	if !ok || v == "" || placeholder.HasResidue(v) {
		return "", false
	}
	return v, true
}

func (c *Cache) Put(source, translated string) {
	if c == nil || source == "" || translated == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if prev, ok := c.entries[source]; ok && prev == translated {
		return
	}
	c.entries[source] = translated
	c.dirty = true
}

func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Snapshot returns a copy of all entries.
func (c *Cache) Snapshot() map[string]string {
	if c == nil {
		return map[string]string{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	ret := make(map[string]string, len(c.entries))
	for k, v := range c.entries {
		ret[k] = v
	}
	return ret
}

// Dirty reports whether entries changed since the last successful save.
func (c *Cache) Dirty() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dirty
}

// snapshotForSave copies the entries and clears the dirty flag in one step.
func (c *Cache) snapshotForSave() (map[string]string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil, false
	}
	ret := make(map[string]string, len(c.entries))
	for k, v := range c.entries {
		ret[k] = v
	}
	c.dirty = false
	return ret, true
}

func (c *Cache) markDirty() {
	c.mu.Lock()
	c.dirty = true
	c.mu.Unlock()
}
