package tracker

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/guardian-crm/guardian/pkg/models"
)

// Tracker persists and queries usage records.
type Tracker interface {
	// Record stores a usage record.
	Record(ctx context.Context, rec models.UsageRecord) error
	// QueryByTenant returns usage records for a tenant since a given time.
	QueryByTenant(ctx context.Context, tenantID string, since time.Time) ([]models.UsageRecord, error)
	// TotalByTenant returns provider tokens spent by a tenant since a given time.
	TotalByTenant(ctx context.Context, tenantID string, since time.Time) (int64, error)
	// TotalByTenantAndAction returns provider tokens spent by a tenant on one action since a given time.
	TotalByTenantAndAction(ctx context.Context, tenantID string, action models.ActionType, since time.Time) (int64, error)
	// Summary returns aggregated usage, optionally filtered by tenant.
	Summary(ctx context.Context, tenantID string) ([]models.UsageSummary, error)
	// Close releases resources.
	Close() error
}

// SQLiteTracker implements Tracker with a SQLite database.
type SQLiteTracker struct {
	db *sql.DB
}

const createTable = `
CREATE TABLE IF NOT EXISTS usage_records (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	request_id TEXT NOT NULL DEFAULT '',
	tenant_id TEXT NOT NULL,
	action TEXT NOT NULL,
	tier TEXT NOT NULL,
	cost REAL NOT NULL DEFAULT 0,
	tokens INTEGER NOT NULL DEFAULT 0,
	response_time_ms INTEGER NOT NULL DEFAULT 0,
	success INTEGER NOT NULL DEFAULT 1,
	degraded INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_usage_tenant_time ON usage_records(tenant_id, created_at);
`

// New creates a SQLiteTracker and runs auto-migration.
func New(dbPath string) (*SQLiteTracker, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open tracker db: %w", err)
	}

	if _, err := db.Exec(createTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate tracker db: %w", err)
	}

	return &SQLiteTracker{db: db}, nil
}

// Record stores a usage record.
func (t *SQLiteTracker) Record(ctx context.Context, rec models.UsageRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := t.db.ExecContext(ctx,
		`INSERT INTO usage_records (request_id, tenant_id, action, tier, cost, tokens, response_time_ms, success, degraded, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RequestID, rec.TenantID, string(rec.Action), string(rec.Tier), rec.Cost, rec.Tokens,
		rec.ResponseTime.Milliseconds(), rec.Success, rec.Degraded, rec.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record usage: %w", err)
	}
	return nil
}

// QueryByTenant returns usage records for a tenant since a given time, newest first.
func (t *SQLiteTracker) QueryByTenant(ctx context.Context, tenantID string, since time.Time) ([]models.UsageRecord, error) {
	rows, err := t.db.QueryContext(ctx,
		`SELECT id, request_id, tenant_id, action, tier, cost, tokens, response_time_ms, success, degraded, created_at
		 FROM usage_records WHERE tenant_id = ? AND created_at >= ? ORDER BY created_at DESC, id DESC`,
		tenantID, since.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	var records []models.UsageRecord
	for rows.Next() {
		var (
			r      models.UsageRecord
			action string
			tier   string
			respMs int64
		)
		if err := rows.Scan(&r.ID, &r.RequestID, &r.TenantID, &action, &tier, &r.Cost, &r.Tokens, &respMs, &r.Success, &r.Degraded, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		r.Action = models.ActionType(action)
		r.Tier = models.Tier(tier)
		r.ResponseTime = time.Duration(respMs) * time.Millisecond
		records = append(records, r)
	}
	return records, rows.Err()
}

// TotalByTenant returns provider tokens spent by a tenant since a given time.
// Cache hits carry no tokens and do not count.
func (t *SQLiteTracker) TotalByTenant(ctx context.Context, tenantID string, since time.Time) (int64, error) {
	var total int64
	err := t.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(tokens), 0) FROM usage_records WHERE tenant_id = ? AND created_at >= ?`,
		tenantID, since.UTC(),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total usage: %w", err)
	}
	return total, nil
}

// TotalByTenantAndAction returns provider tokens spent by a tenant on one action since a given time.
func (t *SQLiteTracker) TotalByTenantAndAction(ctx context.Context, tenantID string, action models.ActionType, since time.Time) (int64, error) {
	var total int64
	err := t.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(tokens), 0) FROM usage_records WHERE tenant_id = ? AND action = ? AND created_at >= ?`,
		tenantID, string(action), since.UTC(),
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total usage by action: %w", err)
	}
	return total, nil
}

// Summary returns aggregated usage grouped by tenant and action.
func (t *SQLiteTracker) Summary(ctx context.Context, tenantID string) ([]models.UsageSummary, error) {
	query := `SELECT tenant_id, action, COUNT(*),
		SUM(CASE WHEN tier != 'miss' THEN 1 ELSE 0 END), SUM(degraded), SUM(tokens), SUM(cost)
		FROM usage_records`
	var args []any
	if tenantID != "" {
		query += ` WHERE tenant_id = ?`
		args = append(args, tenantID)
	}
	query += ` GROUP BY tenant_id, action ORDER BY tenant_id, action`

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("summary: %w", err)
	}
	defer rows.Close()

	var summaries []models.UsageSummary
	for rows.Next() {
		var (
			s      models.UsageSummary
			action string
		)
		if err := rows.Scan(&s.TenantID, &action, &s.RequestCount, &s.CacheHits, &s.Degraded, &s.TotalTokens, &s.TotalCost); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		s.Action = models.ActionType(action)
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// Close releases the database connection.
func (t *SQLiteTracker) Close() error {
	return t.db.Close()
}
