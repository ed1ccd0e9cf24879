package persistence

import "time"

// CacheEntry is one persisted translation.
type CacheEntry struct {
	Lang       string
	Source     string
	Translated string
	UpdatedAt  time.Time
}
