package cache

import (
	"context"
	"sync"
	"time"

	"github.com/guardian-crm/guardian/pkg/logging"
)

// Sweeper periodically removes expired entries from a cache.
type Sweeper struct {
	cache    *Tiered
	interval time.Duration
	done     chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// StartSweeper runs CleanupExpired every interval until Close is called.
func (t *Tiered) StartSweeper(interval time.Duration) *Sweeper {
	s := &Sweeper{
		cache:    t,
		interval: interval,
		done:     make(chan struct{}),
	}
	s.wg.Add(1)
	go s.loop()
	return s
}

func (s *Sweeper) loop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if n := s.cache.CleanupExpired(context.Background()); n > 0 {
				logging.Debug().
					Add(logging.Component("cache")).
					Add(logging.Int("removed", n)).
					Msg("expired entries swept")
			}
		}
	}
}

// Close stops the sweeper and waits for an in-progress sweep to finish.
func (s *Sweeper) Close() {
	s.once.Do(func() { close(s.done) })
	s.wg.Wait()
}
