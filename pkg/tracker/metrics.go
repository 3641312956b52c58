// Package tracker records per request usage and answers aggregate queries.
//
// Metrics keeps the live in-process aggregates used for hit rates and cost
// savings. SQLiteTracker persists the individual records for reporting and
// budget enforcement.
package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/guardian-crm/guardian/pkg/logging"
	"github.com/guardian-crm/guardian/pkg/models"
)

// Recorder receives every usage record Metrics sees.
type Recorder interface {
	Record(ctx context.Context, rec models.UsageRecord) error
}

type lastCall struct {
	cost   float64
	tokens int
}

type aggregate struct {
	stats        models.UsageStats
	responseTime time.Duration
}

func newAggregate() *aggregate {
	return &aggregate{stats: models.UsageStats{
		ByTier:   make(map[models.Tier]models.Breakdown),
		ByAction: make(map[models.ActionType]models.Breakdown),
	}}
}

// Metrics aggregates usage records in memory, per tenant.
type Metrics struct {
	sink Recorder
	now  func() time.Time

	mu      sync.Mutex
	tenants map[string]*aggregate
	last    map[string]lastCall
}

// MetricsOption configures Metrics.
type MetricsOption func(*Metrics)

// WithRecorder forwards records to r. Its failures are logged, never returned.
func WithRecorder(r Recorder) MetricsOption {
	return func(m *Metrics) { m.sink = r }
}

// WithClock overrides the time source used to stamp records.
func WithClock(now func() time.Time) MetricsOption {
	return func(m *Metrics) { m.now = now }
}

// NewMetrics creates an empty collector.
func NewMetrics(opts ...MetricsOption) *Metrics {
	m := &Metrics{
		now:     time.Now,
		tenants: make(map[string]*aggregate),
		last:    make(map[string]lastCall),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Record adds one usage record. A cache hit adds the last known provider
// cost and tokens of its tenant and action to the savings.
func (m *Metrics) Record(ctx context.Context, rec models.UsageRecord) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.now()
	}
	if rec.Tier == "" {
		rec.Tier = models.TierMiss
	}

	m.mu.Lock()
	agg, ok := m.tenants[rec.TenantID]
	if !ok {
		agg = newAggregate()
		m.tenants[rec.TenantID] = agg
	}
	key := rec.TenantID + ":" + string(rec.Action)
	hit := rec.Hit()

	var saved lastCall
	if hit {
		saved = m.last[key]
	} else if rec.Success && !rec.Degraded && rec.Tokens > 0 {
		m.last[key] = lastCall{cost: rec.Cost, tokens: rec.Tokens}
	}
	agg.add(rec, saved)
	m.mu.Unlock()

	if m.sink == nil {
		return
	}
	if err := m.sink.Record(ctx, rec); err != nil {
		logging.Warn().
			Add(logging.Component("tracker")).
			Add(logging.Tenant(rec.TenantID)).
			Add(logging.ErrorField(err)).
			Msg("usage record not persisted")
	}
}

func (a *aggregate) add(rec models.UsageRecord, saved lastCall) {
	s := &a.stats
	hit := rec.Hit()

	s.TotalRequests++
	if hit {
		s.Hits++
		s.CostSavings += saved.cost
		s.TokensSaved += int64(saved.tokens)
	} else {
		s.Misses++
	}
	if rec.Degraded {
		s.DegradedRequests++
	}
	s.TotalCost += rec.Cost
	s.TotalTokens += int64(rec.Tokens)
	a.responseTime += rec.ResponseTime

	s.ByTier[rec.Tier] = addBreakdown(s.ByTier[rec.Tier], rec, hit)
	s.ByAction[rec.Action] = addBreakdown(s.ByAction[rec.Action], rec, hit)
}

func addBreakdown(b models.Breakdown, rec models.UsageRecord, hit bool) models.Breakdown {
	b.Requests++
	if hit {
		b.Hits++
	}
	b.Cost += rec.Cost
	b.Tokens += int64(rec.Tokens)
	return b
}

// Stats returns the aggregates of one tenant, or of every tenant when
// tenantID is empty.
func (m *Metrics) Stats(tenantID string) models.UsageStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := newAggregate()
	for id, agg := range m.tenants {
		if tenantID != "" && id != tenantID {
			continue
		}
		out.merge(agg)
	}
	s := out.stats
	if seen := s.Hits + s.Misses; seen > 0 {
		s.HitRate = float64(s.Hits) / float64(seen)
	}
	if s.TotalRequests > 0 {
		s.AvgResponseTimeMs = float64(out.responseTime.Milliseconds()) / float64(s.TotalRequests)
	}
	return s
}

func (a *aggregate) merge(o *aggregate) {
	s, t := &a.stats, o.stats
	s.TotalRequests += t.TotalRequests
	s.Hits += t.Hits
	s.Misses += t.Misses
	s.CostSavings += t.CostSavings
	s.TokensSaved += t.TokensSaved
	s.TotalCost += t.TotalCost
	s.TotalTokens += t.TotalTokens
	s.DegradedRequests += t.DegradedRequests
	a.responseTime += o.responseTime
	for tier, b := range t.ByTier {
		s.ByTier[tier] = mergeBreakdown(s.ByTier[tier], b)
	}
	for action, b := range t.ByAction {
		s.ByAction[action] = mergeBreakdown(s.ByAction[action], b)
	}
}

func mergeBreakdown(a, b models.Breakdown) models.Breakdown {
	a.Requests += b.Requests
	a.Hits += b.Hits
	a.Cost += b.Cost
	a.Tokens += b.Tokens
	return a
}

// Reset drops all aggregates.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tenants = make(map[string]*aggregate)
	m.last = make(map[string]lastCall)
}
