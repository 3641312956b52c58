package tracker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/guardian-crm/guardian/pkg/models"
)

func newTestTracker(t *testing.T) *SQLiteTracker {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	tr, err := New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestRecordAndQuery(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rec := models.UsageRecord{
		RequestID:    "req-1",
		TenantID:     "org-1",
		Action:       models.ActionLeadScoring,
		Tier:         models.TierMiss,
		Cost:         0.0042,
		Tokens:       150,
		ResponseTime: 850 * time.Millisecond,
		Success:      true,
		CreatedAt:    now,
	}
	if err := tr.Record(ctx, rec); err != nil {
		t.Fatal(err)
	}

	records, err := tr.QueryByTenant(ctx, "org-1", now.Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	got := records[0]
	if got.Tokens != 150 || got.Tier != models.TierMiss || got.Action != models.ActionLeadScoring {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.ResponseTime != 850*time.Millisecond {
		t.Errorf("expected 850ms, got %v", got.ResponseTime)
	}
	if !got.Success || got.Degraded {
		t.Errorf("flags not round-tripped: %+v", got)
	}

	other, err := tr.QueryByTenant(ctx, "org-2", now.Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Errorf("expected no records for org-2, got %d", len(other))
	}
}

func TestTotalByTenant(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := range 3 {
		_ = tr.Record(ctx, models.UsageRecord{
			TenantID: "org-1", Action: models.ActionEmailGeneration, Tier: models.TierMiss,
			Tokens: 150, Success: true,
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		})
	}
	// Hits spend no tokens.
	_ = tr.Record(ctx, models.UsageRecord{
		TenantID: "org-1", Action: models.ActionLeadScoring, Tier: models.TierExact, Success: true, CreatedAt: now,
	})
	// Too old.
	_ = tr.Record(ctx, models.UsageRecord{
		TenantID: "org-1", Action: models.ActionEmailGeneration, Tier: models.TierMiss,
		Tokens: 1000, Success: true, CreatedAt: now.Add(-48 * time.Hour),
	})

	total, err := tr.TotalByTenant(ctx, "org-1", now.Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if total != 450 {
		t.Errorf("expected 450, got %d", total)
	}

	byAction, err := tr.TotalByTenantAndAction(ctx, "org-1", models.ActionLeadScoring, now.Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if byAction != 0 {
		t.Errorf("expected 0 lead scoring tokens, got %d", byAction)
	}
}

func TestSummary(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	records := []models.UsageRecord{
		{TenantID: "org-1", Action: models.ActionLeadScoring, Tier: models.TierMiss, Tokens: 200, Cost: 0.01, Success: true},
		{TenantID: "org-1", Action: models.ActionLeadScoring, Tier: models.TierExact, Success: true},
		{TenantID: "org-1", Action: models.ActionLeadScoring, Tier: models.TierSemantic, Success: true},
		{TenantID: "org-1", Action: models.ActionLeadScoring, Tier: models.TierMiss, Success: true, Degraded: true},
		{TenantID: "org-2", Action: models.ActionEmailGeneration, Tier: models.TierMiss, Tokens: 300, Cost: 0.02, Success: true},
	}
	for _, r := range records {
		r.CreatedAt = now
		if err := tr.Record(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	summaries, err := tr.Summary(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	s := summaries[0]
	if s.TenantID != "org-1" || s.RequestCount != 4 || s.CacheHits != 2 || s.Degraded != 1 || s.TotalTokens != 200 {
		t.Errorf("unexpected org-1 summary: %+v", s)
	}

	filtered, err := tr.Summary(ctx, "org-2")
	if err != nil {
		t.Fatal(err)
	}
	if len(filtered) != 1 || filtered[0].Action != models.ActionEmailGeneration {
		t.Errorf("unexpected filtered summary: %+v", filtered)
	}
}
