// Package sqlite persists cache entries in a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/guardian-crm/guardian/pkg/models"
	"github.com/guardian-crm/guardian/pkg/store"
)

// Store is a store.Store backed by SQLite.
type Store struct {
	db *sql.DB
}

const createCacheTable = `
CREATE TABLE IF NOT EXISTS cache_entries (
	record_key TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	action TEXT NOT NULL,
	tier TEXT NOT NULL,
	entry BLOB NOT NULL,
	created_at DATETIME NOT NULL,
	expires_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_tenant_tier ON cache_entries(tenant_id, tier);
CREATE INDEX IF NOT EXISTS idx_cache_expires ON cache_entries(expires_at);
`

// New opens (or creates) the database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if _, err := db.Exec(createCacheTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}

	return &Store{db: db}, nil
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, key string) (*models.CacheEntry, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT entry FROM cache_entries WHERE record_key = ?`, key,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cache get: %w", err)
	}

	var e models.CacheEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	return &e, nil
}

// Upsert implements store.Store.
func (s *Store) Upsert(ctx context.Context, key string, e *models.CacheEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO cache_entries (record_key, tenant_id, action, tier, entry, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		key, e.TenantID, string(e.Action), string(e.Tier), data, e.CreatedAt.UTC(), e.ExpiresAt().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("cache put: %w", err)
	}
	return nil
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE record_key = ?`, key); err != nil {
		return fmt.Errorf("cache delete: %w", err)
	}
	return nil
}

// DeleteByFilter implements store.Store.
func (s *Store) DeleteByFilter(ctx context.Context, f store.Filter) (int, error) {
	where, args := filterClause(f)
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`+where, args...)
	if err != nil {
		return 0, fmt.Errorf("cache delete by filter: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cache delete by filter: %w", err)
	}
	return int(n), nil
}

// List implements store.Lister.
func (s *Store) List(ctx context.Context, f store.Filter) ([]*models.CacheEntry, error) {
	where, args := filterClause(f)
	rows, err := s.db.QueryContext(ctx, `SELECT entry FROM cache_entries`+where+` ORDER BY created_at ASC`, args...)
	if err != nil {
		return nil, fmt.Errorf("cache list: %w", err)
	}
	defer rows.Close()

	var entries []*models.CacheEntry
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan cache entry: %w", err)
		}
		var e models.CacheEntry
		if err := json.Unmarshal(data, &e); err != nil {
			return nil, fmt.Errorf("decode cache entry: %w", err)
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Count returns the number of stored records, optionally for one tier.
func (s *Store) Count(ctx context.Context, tier models.Tier) (int64, error) {
	where, args := filterClause(store.Filter{Tier: tier})
	var count int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("cache count: %w", err)
	}
	return count, nil
}

// Clear removes records. If expiredOnly is true, only expired records are removed.
func (s *Store) Clear(ctx context.Context, expiredOnly bool) (int, error) {
	var f store.Filter
	if expiredOnly {
		f.ExpiredAt = time.Now()
	}
	return s.DeleteByFilter(ctx, f)
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func filterClause(f store.Filter) (string, []any) {
	var conds []string
	var args []any
	if f.TenantID != "" {
		conds = append(conds, "tenant_id = ?")
		args = append(args, f.TenantID)
	}
	if f.Tier != "" {
		conds = append(conds, "tier = ?")
		args = append(args, string(f.Tier))
	}
	if f.KeyContains != "" {
		// record_key is "<tier>/<key>"; match the key part only.
		conds = append(conds, "instr(substr(record_key, length(tier) + 2), ?) > 0")
		args = append(args, f.KeyContains)
	}
	if !f.ExpiredAt.IsZero() {
		conds = append(conds, "expires_at < ?")
		args = append(args, f.ExpiredAt.UnixMilli())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
