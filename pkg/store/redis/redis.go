// Package redis persists cache entries in Redis so several processes can
// share one cache.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/guardian-crm/guardian/pkg/models"
	"github.com/guardian-crm/guardian/pkg/store"
)

// Config configures the Redis store.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// DialTimeout bounds the connection check in New.
	DialTimeout time.Duration
}

// Store is a store.Store backed by Redis. Records expire through native
// Redis TTLs in addition to the cache's own expiry checks.
type Store struct {
	client    *redis.Client
	keyPrefix string
	now       func() time.Time
}

// New connects to Redis and verifies the connection.
func New(cfg Config) (*Store, error) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewFromClient(client, cfg.KeyPrefix), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client *redis.Client, keyPrefix string) *Store {
	return &Store{client: client, keyPrefix: keyPrefix, now: time.Now}
}

func (s *Store) prefixKey(key string) string {
	return s.keyPrefix + key
}

// Get implements store.Store.
func (s *Store) Get(ctx context.Context, key string) (*models.CacheEntry, error) {
	data, err := s.client.Get(ctx, s.prefixKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var e models.CacheEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	return &e, nil
}

// Upsert implements store.Store. Entries already past their TTL are not written.
func (s *Store) Upsert(ctx context.Context, key string, e *models.CacheEntry) error {
	ttl := e.ExpiresAt().Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	if err := s.client.Set(ctx, s.prefixKey(key), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Delete implements store.Store.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefixKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// DeleteByFilter implements store.Store. It scans every key under the prefix.
func (s *Store) DeleteByFilter(ctx context.Context, f store.Filter) (int, error) {
	var batch []string
	deleted := 0
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := s.client.Del(ctx, batch...).Result()
		if err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
		deleted += int(n)
		batch = batch[:0]
		return nil
	}

	err := s.scan(ctx, f, func(full string, _ *models.CacheEntry) error {
		batch = append(batch, full)
		if len(batch) >= 100 {
			return flush()
		}
		return nil
	})
	if err != nil {
		return deleted, err
	}
	if err := flush(); err != nil {
		return deleted, err
	}
	return deleted, nil
}

// List implements store.Lister.
func (s *Store) List(ctx context.Context, f store.Filter) ([]*models.CacheEntry, error) {
	var out []*models.CacheEntry
	err := s.scan(ctx, f, func(_ string, e *models.CacheEntry) error {
		out = append(out, e)
		return nil
	})
	return out, err
}

func (s *Store) scan(ctx context.Context, f store.Filter, fn func(full string, e *models.CacheEntry) error) error {
	iter := s.client.Scan(ctx, 0, s.keyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		full := iter.Val()
		data, err := s.client.Get(ctx, full).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return fmt.Errorf("redis get: %w", err)
		}
		var e models.CacheEntry
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		if !f.Match(&e) {
			continue
		}
		if err := fn(full, &e); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}
