// Package cache implements the tiered AI result cache.
//
// Three tiers answer lookups in order of precision: exact matches on the
// normalized input, semantic matches on similar inputs, and template matches
// that re-render cached content for a new set of variables. Each tier keeps
// one LRU per action type, sized by that action's MaxEntries, so eviction in
// one tier never touches another. Entries are copied on read; callers never
// hold a pointer into the cache.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/guardian-crm/guardian/pkg/config"
	"github.com/guardian-crm/guardian/pkg/keys"
	"github.com/guardian-crm/guardian/pkg/logging"
	"github.com/guardian-crm/guardian/pkg/models"
	"github.com/guardian-crm/guardian/pkg/similarity"
	"github.com/guardian-crm/guardian/pkg/store"
)

const defaultMaxEntries = 1000

var (
	// ErrInvalidFeedback is returned for feedback scores outside 1..5.
	ErrInvalidFeedback = errors.New("feedback score must be between 1 and 5")
	// ErrEntryNotFound is returned when feedback targets an unknown key.
	ErrEntryNotFound = errors.New("cache entry not found")
)

// PolicySource resolves the static policy of an action type.
// *config.Config implements it.
type PolicySource interface {
	Policy(action models.ActionType) config.ActionPolicy
}

type tierKey struct {
	tier   models.Tier
	action models.ActionType
}

type counters struct {
	hits, misses, evictions int64
}

// Tiered is the exact, semantic and template cache.
type Tiered struct {
	policies PolicySource
	scorer   *similarity.Scorer
	persist  store.Store
	now      func() time.Time
	version  string

	mu       sync.Mutex
	tiers    map[tierKey]*lru.Cache[string, *models.CacheEntry]
	counters map[models.Tier]*counters

	sweeping atomic.Bool
}

// Option configures a Tiered cache.
type Option func(*Tiered)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tiered) { t.now = now }
}

// WithPersistence writes entries through to s and reads exact misses back from it.
func WithPersistence(s store.Store) Option {
	return func(t *Tiered) { t.persist = s }
}

// WithEmbedder replaces the bag-of-words embedding used by the semantic tier.
func WithEmbedder(e similarity.Embedder) Option {
	return func(t *Tiered) { t.scorer = similarity.NewScorer(e) }
}

// WithVersion sets the cache schema version. Entries written under another
// version are treated as misses.
func WithVersion(v string) Option {
	return func(t *Tiered) { t.version = v }
}

// New creates an empty cache governed by policies.
func New(policies PolicySource, opts ...Option) *Tiered {
	t := &Tiered{
		policies: policies,
		scorer:   similarity.NewScorer(nil),
		now:      time.Now,
		version:  "1",
		tiers:    make(map[tierKey]*lru.Cache[string, *models.CacheEntry]),
		counters: make(map[models.Tier]*counters, len(models.Tiers)),
	}
	for _, tier := range models.Tiers {
		t.counters[tier] = &counters{}
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// tier returns the LRU for a tier and action, creating it on first use.
// Callers must hold t.mu.
func (t *Tiered) tier(tier models.Tier, action models.ActionType) *lru.Cache[string, *models.CacheEntry] {
	k := tierKey{tier: tier, action: action}
	if c, ok := t.tiers[k]; ok {
		return c
	}
	size := t.policies.Policy(action).MaxEntries
	if size <= 0 {
		size = defaultMaxEntries
	}
	// lru.New only fails for non-positive sizes.
	c, _ := lru.New[string, *models.CacheEntry](size)
	t.tiers[k] = c
	return c
}

func (t *Tiered) live(e *models.CacheEntry, tenantID string, now time.Time) bool {
	return e.TenantID == tenantID && e.Version == t.version && !e.Expired(now)
}

// hit bumps usage on the stored entry and returns a copy for the caller.
// Callers must hold t.mu.
func (t *Tiered) hit(e *models.CacheEntry, now time.Time) *models.CacheEntry {
	e.Usage.HitCount++
	e.Usage.LastAccessed = now
	t.counters[e.Tier].hits++
	return e.Clone()
}

// LookupExact returns the live entry stored for exactly this input.
func (t *Tiered) LookupExact(ctx context.Context, tenantID string, action models.ActionType, input map[string]any) (*models.CacheEntry, bool) {
	key := keys.Normalize(tenantID, action, input)
	now := t.now()

	t.mu.Lock()
	c := t.tier(models.TierExact, action)
	if e, ok := c.Get(key); ok {
		if t.live(e, tenantID, now) {
			out := t.hit(e, now)
			t.mu.Unlock()
			return out, true
		}
		c.Remove(key)
	}
	t.mu.Unlock()

	if e := t.load(ctx, models.TierExact, key); e != nil && t.live(e, tenantID, now) {
		t.mu.Lock()
		defer t.mu.Unlock()
		t.insert(e)
		return t.hit(e, now), true
	}

	t.mu.Lock()
	t.counters[models.TierExact].misses++
	t.mu.Unlock()
	return nil, false
}

// load reads one record from the persistent store, absorbing failures.
func (t *Tiered) load(ctx context.Context, tier models.Tier, key string) *models.CacheEntry {
	if t.persist == nil {
		return nil
	}
	e, err := t.persist.Get(ctx, store.RecordKey(tier, key))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logging.Warn().
				Add(logging.Component("cache")).
				Add(logging.Tier(tier)).
				Add(logging.ErrorField(err)).
				Msg("persistent store read failed")
		}
		return nil
	}
	return e
}

// insert adds e to its tier, evicting the least recently used entry when the
// tier is full. Callers must hold t.mu.
func (t *Tiered) insert(e *models.CacheEntry) {
	if evicted := t.tier(e.Tier, e.Action).Add(e.Key, e); evicted {
		t.counters[e.Tier].evictions++
	}
}

// Put stores a provider result. The exact tier is always written; the
// semantic and template tiers are written when the action's policy enables
// them.
func (t *Tiered) Put(ctx context.Context, tenantID string, action models.ActionType, input map[string]any, result models.Result, meta models.EntryMetadata) {
	policy := t.policies.Policy(action)
	now := t.now()
	key := keys.Normalize(tenantID, action, input)

	base := models.CacheEntry{
		Key:       key,
		TenantID:  tenantID,
		Action:    action,
		Version:   t.version,
		CreatedAt: now,
		TTL:       policy.TTL,
		Metadata:  meta,
	}

	exact := base
	exact.Tier = models.TierExact
	exact.Result = result.Clone()
	entries := []*models.CacheEntry{&exact}

	if policy.Semantic {
		sanitized := Sanitize(input)
		sem := base
		sem.Tier = models.TierSemantic
		sem.Result = result.Clone()
		sem.Input = sanitized
		sem.Embedding = t.scorer.Embed(sanitized)
		sem.SimilarityThreshold = policy.SimilarityThreshold
		entries = append(entries, &sem)
	}

	if text := result.Text(); policy.Template && text != "" {
		vars := ExtractVariables(input)
		content := Templatize(text, vars)
		tpl := base
		tpl.Key = keys.Normalize(tenantID, action, variablesAsInput(vars))
		tpl.Tier = models.TierTemplate
		tpl.Result = result.WithText(content)
		tpl.Variables = vars
		tpl.Content = content
		entries = append(entries, &tpl)
	}

	t.mu.Lock()
	for _, e := range entries {
		t.insert(e)
	}
	t.mu.Unlock()

	if t.persist == nil {
		return
	}
	for _, e := range entries {
		if err := t.persist.Upsert(ctx, store.RecordKey(e.Tier, e.Key), e.Clone()); err != nil {
			logging.Warn().
				Add(logging.Component("cache")).
				Add(logging.Tenant(tenantID)).
				Add(logging.Tier(e.Tier)).
				Add(logging.ErrorField(err)).
				Msg("persistent store write failed")
		}
	}
}

// Invalidate removes every entry in every tier whose key contains pattern,
// limited to one tenant when tenantID is set. It returns the number of
// in-memory entries removed.
func (t *Tiered) Invalidate(ctx context.Context, pattern, tenantID string) int {
	f := store.Filter{TenantID: tenantID, KeyContains: pattern}
	removed := 0
	t.mu.Lock()
	for _, c := range t.tiers {
		for _, k := range c.Keys() {
			e, ok := c.Peek(k)
			if !ok || !f.Match(e) {
				continue
			}
			c.Remove(k)
			removed++
		}
	}
	t.mu.Unlock()

	if t.persist != nil {
		if _, err := t.persist.DeleteByFilter(ctx, f); err != nil {
			logging.Warn().
				Add(logging.Component("cache")).
				Add(logging.Str("pattern", pattern)).
				Add(logging.ErrorField(err)).
				Msg("persistent store invalidation failed")
		}
	}
	return removed
}

// CleanupExpired removes expired and stale-version entries from every tier
// and returns how many were removed. A call that overlaps a running sweep
// returns 0 immediately.
func (t *Tiered) CleanupExpired(ctx context.Context) int {
	if !t.sweeping.CompareAndSwap(false, true) {
		return 0
	}
	defer t.sweeping.Store(false)

	now := t.now()
	removed := 0
	t.mu.Lock()
	for _, c := range t.tiers {
		for _, k := range c.Keys() {
			e, ok := c.Peek(k)
			if !ok {
				continue
			}
			if e.Expired(now) || e.Version != t.version {
				c.Remove(k)
				removed++
			}
		}
	}
	t.mu.Unlock()

	if t.persist != nil {
		if _, err := t.persist.DeleteByFilter(ctx, store.Filter{ExpiredAt: now}); err != nil {
			logging.Warn().
				Add(logging.Component("cache")).
				Add(logging.ErrorField(err)).
				Msg("persistent store cleanup failed")
		}
	}
	return removed
}

// AddFeedback records a 1 to 5 user rating on every tier's entry for key.
func (t *Tiered) AddFeedback(key string, score int) error {
	if score < 1 || score > 5 {
		return ErrInvalidFeedback
	}
	found := false
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, c := range t.tiers {
		if e, ok := c.Peek(key); ok {
			e.Usage.Feedback = score
			found = true
		}
	}
	if !found {
		return fmt.Errorf("feedback for %s: %w", key, ErrEntryNotFound)
	}
	return nil
}

// Entries returns copies of the live entries of one tier for a tenant.
func (t *Tiered) Entries(tier models.Tier, action models.ActionType, tenantID string) []*models.CacheEntry {
	now := t.now()
	t.mu.Lock()
	defer t.mu.Unlock()
	c := t.tier(tier, action)
	var out []*models.CacheEntry
	for _, k := range c.Keys() {
		if e, ok := c.Peek(k); ok && t.live(e, tenantID, now) {
			out = append(out, e.Clone())
		}
	}
	return out
}

// Warm loads live entries from the persistent store into memory, oldest
// first, and returns how many were loaded. Stores that cannot enumerate
// their records load nothing.
func (t *Tiered) Warm(ctx context.Context) (int, error) {
	l, ok := t.persist.(store.Lister)
	if !ok {
		return 0, nil
	}
	entries, err := l.List(ctx, store.Filter{})
	if err != nil {
		return 0, fmt.Errorf("warm cache: %w", err)
	}
	now := t.now()
	loaded := 0
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range entries {
		if e.Version != t.version || e.Expired(now) {
			continue
		}
		t.insert(e)
		loaded++
	}
	return loaded, nil
}

// Stats reports entry counts and hit/miss counters per tier.
func (t *Tiered) Stats() models.CacheStats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := models.CacheStats{Tiers: make(map[models.Tier]models.TierStats, len(models.Tiers))}
	for _, tier := range models.Tiers {
		c := t.counters[tier]
		stats.Tiers[tier] = models.TierStats{Hits: c.hits, Misses: c.misses, Evictions: c.evictions}
		stats.Hits += c.hits
		stats.Misses += c.misses
	}
	for k, c := range t.tiers {
		ts := stats.Tiers[k.tier]
		ts.Entries += int64(c.Len())
		stats.Tiers[k.tier] = ts
		stats.Entries += int64(c.Len())
	}
	return stats
}

// Close stops nothing on its own; it releases the persistent store.
func (t *Tiered) Close() error {
	if t.persist == nil {
		return nil
	}
	return t.persist.Close()
}
