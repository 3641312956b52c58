package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/guardian-crm/guardian/pkg/models"
	"github.com/guardian-crm/guardian/pkg/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "cache_test.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newEntry(tenant string, tier models.Tier, created time.Time, ttl time.Duration) *models.CacheEntry {
	return &models.CacheEntry{
		Key:       tenant + ":lead_scoring:00000000000000aa",
		Tier:      tier,
		TenantID:  tenant,
		Action:    models.ActionLeadScoring,
		Version:   "1",
		CreatedAt: created,
		TTL:       ttl,
		Result: models.Result{
			Action:    models.ActionLeadScoring,
			LeadScore: &models.LeadScore{Score: 80, Category: "Hot", Reasoning: "fit"},
		},
		Embedding: []float64{1, 0, 2},
		Input:     map[string]any{"name": "sarah"},
	}
}

func put(t *testing.T, s *Store, e *models.CacheEntry) string {
	t.Helper()
	key := store.RecordKey(e.Tier, e.Key)
	if err := s.Upsert(context.Background(), key, e); err != nil {
		t.Fatal(err)
	}
	return key
}

func TestPutAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := put(t, s, newEntry("org-1", models.TierSemantic, time.Now(), time.Hour))

	got, err := s.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if got.Result.LeadScore == nil || got.Result.LeadScore.Score != 80 {
		t.Errorf("unexpected result: %+v", got.Result)
	}
	if len(got.Embedding) != 3 || got.Embedding[2] != 2 {
		t.Errorf("embedding not round-tripped: %v", got.Embedding)
	}
	if got.TTL != time.Hour {
		t.Errorf("expected 1h TTL, got %v", got.TTL)
	}

	_, err = s.Get(ctx, store.RecordKey(models.TierExact, got.Key))
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("expected ErrNotFound for other tier, got %v", err)
	}
}

func TestUpsertReplaces(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e := newEntry("org-1", models.TierExact, time.Now(), time.Hour)
	key := put(t, s, e)

	e.Result.LeadScore.Score = 60
	put(t, s, e)

	got, err := s.Get(ctx, key)
	if err != nil {
		t.Fatal(err)
	}
	if got.Result.LeadScore.Score != 60 {
		t.Errorf("expected last write to win, got %d", got.Result.LeadScore.Score)
	}
	if n, _ := s.Count(ctx, ""); n != 1 {
		t.Errorf("expected 1 record, got %d", n)
	}
}

func TestDeleteByFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	put(t, s, newEntry("org-1", models.TierExact, now, time.Hour))
	put(t, s, newEntry("org-1", models.TierSemantic, now, time.Hour))
	put(t, s, newEntry("org-2", models.TierExact, now, time.Hour))

	if n, err := s.DeleteByFilter(ctx, store.Filter{KeyContains: "exact/"}); err != nil || n != 0 {
		t.Errorf("record key prefix should not match: n=%d err=%v", n, err)
	}

	n, err := s.DeleteByFilter(ctx, store.Filter{TenantID: "org-1", KeyContains: "lead_scoring"})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("expected 2 deleted, got %d", n)
	}
	if c, _ := s.Count(ctx, models.TierExact); c != 1 {
		t.Errorf("expected org-2 exact entry to remain, got %d", c)
	}
}

func TestClearExpired(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	put(t, s, newEntry("org-1", models.TierExact, now.Add(-2*time.Hour), time.Hour))
	live := put(t, s, newEntry("org-2", models.TierExact, now, time.Hour))

	n, err := s.Clear(ctx, true)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("expected 1 expired record removed, got %d", n)
	}
	if _, err := s.Get(ctx, live); err != nil {
		t.Errorf("live record should remain: %v", err)
	}

	if _, err := s.Clear(ctx, false); err != nil {
		t.Fatal(err)
	}
	if c, _ := s.Count(ctx, ""); c != 0 {
		t.Errorf("expected 0 entries after clear, got %d", c)
	}
}

func TestList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	put(t, s, newEntry("org-1", models.TierExact, now, time.Hour))
	put(t, s, newEntry("org-1", models.TierSemantic, now, time.Hour))

	entries, err := s.List(ctx, store.Filter{Tier: models.TierSemantic})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Tier != models.TierSemantic {
		t.Errorf("unexpected list result: %+v", entries)
	}
}
