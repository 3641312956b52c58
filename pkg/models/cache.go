package models

import (
	"maps"
	"slices"
	"time"
)

// EntryUsage tracks how often a cache entry has been served.
type EntryUsage struct {
	HitCount     int64     `json:"hit_count"`
	LastAccessed time.Time `json:"last_accessed"`
	// Feedback is a user rating from 1 to 5, or 0 when none was given.
	Feedback int `json:"feedback,omitempty"`
}

// EntryMetadata describes the provider call that produced a cached result.
type EntryMetadata struct {
	Model          string        `json:"model,omitempty"`
	Tokens         int           `json:"tokens"`
	Cost           float64       `json:"cost"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// CacheEntry stores one cached AI result in a single tier.
type CacheEntry struct {
	Key       string        `json:"key"`
	Tier      Tier          `json:"tier"`
	TenantID  string        `json:"tenant_id"`
	Action    ActionType    `json:"action"`
	Version   string        `json:"version"`
	Result    Result        `json:"result"`
	CreatedAt time.Time     `json:"created_at"`
	TTL       time.Duration `json:"ttl"`
	Usage     EntryUsage    `json:"usage"`
	Metadata  EntryMetadata `json:"metadata"`

	// Semantic tier.
	Embedding           []float64      `json:"embedding,omitempty"`
	Input               map[string]any `json:"input,omitempty"`
	SimilarityThreshold float64        `json:"similarity_threshold,omitempty"`

	// Template tier.
	Variables map[string]string `json:"variables,omitempty"`
	Content   string            `json:"content,omitempty"`
}

// ExpiresAt returns the instant after which the entry is no longer live.
func (e *CacheEntry) ExpiresAt() time.Time {
	return e.CreatedAt.Add(e.TTL)
}

// Expired reports whether the entry is past its TTL at now.
func (e *CacheEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt())
}

// Clone returns a deep copy of e.
func (e *CacheEntry) Clone() *CacheEntry {
	c := *e
	c.Result = e.Result.Clone()
	c.Embedding = slices.Clone(e.Embedding)
	c.Input = maps.Clone(e.Input)
	c.Variables = maps.Clone(e.Variables)
	return &c
}

// TierStats reports the state of one cache tier.
type TierStats struct {
	Entries   int64 `json:"entries"`
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
}

// CacheStats reports cache performance metrics.
type CacheStats struct {
	Entries int64              `json:"entries"`
	Hits    int64              `json:"hits"`
	Misses  int64              `json:"misses"`
	Tiers   map[Tier]TierStats `json:"tiers,omitempty"`
}
