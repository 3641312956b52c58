package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/guardian-crm/guardian/pkg/logging"
	"github.com/guardian-crm/guardian/pkg/models"
)

// GuardSettings configures the breaker in front of a store.
type GuardSettings struct {
	Name string
	// MaxFailures is the number of consecutive failures that opens the breaker.
	MaxFailures uint32
	// Timeout is how long the breaker stays open before probing the store again.
	Timeout time.Duration
}

// Guarded short-circuits calls to a failing store. While its breaker is open
// every call fails fast with gobreaker.ErrOpenState, which the cache treats
// like any other store failure.
type Guarded struct {
	next Store
	cb   *gobreaker.CircuitBreaker
}

// Guard wraps next in a circuit breaker.
func Guard(next Store, s GuardSettings) *Guarded {
	if s.Name == "" {
		s.Name = "store"
	}
	if s.MaxFailures == 0 {
		s.MaxFailures = 5
	}
	if s.Timeout == 0 {
		s.Timeout = 30 * time.Second
	}
	maxFailures := s.MaxFailures

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        s.Name,
		MaxRequests: 1,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logging.Warn().
				Add(logging.Component("store")).
				Add(logging.Str("breaker", name)).
				Add(logging.Str("from_state", from.String())).
				Add(logging.Str("to_state", to.String())).
				Msg("store breaker state change")
		},
	})
	return &Guarded{next: next, cb: cb}
}

// State returns the breaker state.
func (g *Guarded) State() gobreaker.State {
	return g.cb.State()
}

// Get implements Store. A missing record does not count as a failure.
func (g *Guarded) Get(ctx context.Context, key string) (*models.CacheEntry, error) {
	v, err := g.cb.Execute(func() (interface{}, error) {
		e, err := g.next.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("guarded get: %w", err)
	}
	e, _ := v.(*models.CacheEntry)
	if e == nil {
		return nil, ErrNotFound
	}
	return e, nil
}

// Upsert implements Store.
func (g *Guarded) Upsert(ctx context.Context, key string, entry *models.CacheEntry) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, g.next.Upsert(ctx, key, entry)
	})
	if err != nil {
		return fmt.Errorf("guarded upsert: %w", err)
	}
	return nil
}

// Delete implements Store.
func (g *Guarded) Delete(ctx context.Context, key string) error {
	_, err := g.cb.Execute(func() (interface{}, error) {
		return nil, g.next.Delete(ctx, key)
	})
	if err != nil {
		return fmt.Errorf("guarded delete: %w", err)
	}
	return nil
}

// DeleteByFilter implements Store.
func (g *Guarded) DeleteByFilter(ctx context.Context, f Filter) (int, error) {
	v, err := g.cb.Execute(func() (interface{}, error) {
		return g.next.DeleteByFilter(ctx, f)
	})
	if err != nil {
		return 0, fmt.Errorf("guarded delete by filter: %w", err)
	}
	n, _ := v.(int)
	return n, nil
}

// List implements Lister when the wrapped store does.
func (g *Guarded) List(ctx context.Context, f Filter) ([]*models.CacheEntry, error) {
	l, ok := g.next.(Lister)
	if !ok {
		return nil, nil
	}
	v, err := g.cb.Execute(func() (interface{}, error) {
		return l.List(ctx, f)
	})
	if err != nil {
		return nil, fmt.Errorf("guarded list: %w", err)
	}
	entries, _ := v.([]*models.CacheEntry)
	return entries, nil
}

// Close closes the wrapped store.
func (g *Guarded) Close() error {
	return g.next.Close()
}
