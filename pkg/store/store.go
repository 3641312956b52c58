// Package store defines the persistent backing store for cache entries.
//
// The tiered cache works without a store. When one is configured, entries are
// written through to it and exact-tier misses are read back from it, so that
// cached results survive restarts and can be shared between processes.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/guardian-crm/guardian/pkg/models"
)

// ErrNotFound is returned by Get when no record exists for a key.
var ErrNotFound = errors.New("store: record not found")

// Store persists cache entries by key. Implementations must be safe for
// concurrent use; last write wins.
type Store interface {
	Get(ctx context.Context, key string) (*models.CacheEntry, error)
	Upsert(ctx context.Context, key string, entry *models.CacheEntry) error
	Delete(ctx context.Context, key string) error
	// DeleteByFilter removes every record matching f and reports how many.
	DeleteByFilter(ctx context.Context, f Filter) (int, error)
	Close() error
}

// Lister is implemented by stores that can enumerate their records.
type Lister interface {
	List(ctx context.Context, f Filter) ([]*models.CacheEntry, error)
}

// Filter selects records. Zero fields match everything.
type Filter struct {
	TenantID    string
	Tier        models.Tier
	KeyContains string
	// ExpiredAt, when set, matches only records whose TTL has elapsed at that instant.
	ExpiredAt time.Time
}

// Match reports whether e matches f. KeyContains is tested against the
// entry's cache key, never the tier-qualified record key.
func (f Filter) Match(e *models.CacheEntry) bool {
	if f.TenantID != "" && e.TenantID != f.TenantID {
		return false
	}
	if f.Tier != "" && e.Tier != f.Tier {
		return false
	}
	if f.KeyContains != "" && !strings.Contains(e.Key, f.KeyContains) {
		return false
	}
	if !f.ExpiredAt.IsZero() && !e.Expired(f.ExpiredAt) {
		return false
	}
	return true
}

// RecordKey namespaces a cache key by tier. Each tier keeps its own record
// for the same input.
func RecordKey(tier models.Tier, key string) string {
	return string(tier) + "/" + key
}
