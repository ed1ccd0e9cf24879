package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/fabio-bix/json-transcribe/pkg/log"
	"golang.org/x/sync/singleflight"
)

// Manager hands out one shared Cache per target language. A nil store keeps
// caches for the lifetime of the process only.
type Manager struct {
	store Store

	mu     sync.RWMutex
	caches map[string]*Cache
	group  singleflight.Group
	saveMu sync.Mutex
}

func NewManager(store Store) *Manager {
	return &Manager{
		store:  store,
		caches: make(map[string]*Cache),
	}
}

// For returns the cache for lang, loading it from the store on first use.
// Concurrent first calls for the same language share a single load.
func (m *Manager) For(ctx context.Context, lang string) (*Cache, error) {
	lang = normalizeLang(lang)

	m.mu.RLock()
	c, ok := m.caches[lang]
	m.mu.RUnlock()
	if ok {
		return c, nil
	}

	v, err, _ := m.group.Do(lang, func() (any, error) {
		m.mu.RLock()
		existing, ok := m.caches[lang]
		m.mu.RUnlock()
		if ok {
			return existing, nil
		}

		entries := map[string]string{}
		if m.store != nil {
			loaded, err := m.store.Load(ctx, lang)
			if err != nil {
				return nil, fmt.Errorf("load cache %s: %w", lang, err)
			}
			entries = loaded
		}
		loadedCache := NewFrom(entries)
		log.Debug("Loaded %d cached translations for %s", loadedCache.Len(), lang)

		m.mu.Lock()
		m.caches[lang] = loadedCache
		m.mu.Unlock()
		return loadedCache, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Cache), nil
}

// Checkpoint writes the cache of lang when it changed since the last write.
func (m *Manager) Checkpoint(ctx context.Context, lang string) error {
	if m.store == nil {
		return nil
	}
	lang = normalizeLang(lang)

	m.mu.RLock()
	c, ok := m.caches[lang]
	m.mu.RUnlock()
	if !ok {
		return nil
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	entries, changed := c.snapshotForSave()
	if !changed {
		return nil
	}
	if err := m.store.Save(ctx, lang, entries); err != nil {
		c.markDirty()
		log.Warn("Cache checkpoint for %s failed: %v", lang, err)
		return fmt.Errorf("save cache %s: %w", lang, err)
	}
	log.Debug("Cache checkpoint for %s: %d entries", lang, len(entries))
	return nil
}

// Flush checkpoints every loaded language.
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.RLock()
	langs := make([]string, 0, len(m.caches))
	for lang := range m.caches {
		langs = append(langs, lang)
	}
	m.mu.RUnlock()

	var firstErr error
	for _, lang := range langs {
		if err := m.Checkpoint(ctx, lang); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func normalizeLang(lang string) string {
	return strings.ToLower(strings.TrimSpace(lang))
}
