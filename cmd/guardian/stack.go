package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/guardian-crm/guardian/pkg/breaker"
	"github.com/guardian-crm/guardian/pkg/budget"
	"github.com/guardian-crm/guardian/pkg/cache"
	"github.com/guardian-crm/guardian/pkg/config"
	"github.com/guardian-crm/guardian/pkg/logging"
	"github.com/guardian-crm/guardian/pkg/models"
	"github.com/guardian-crm/guardian/pkg/orchestrator"
	"github.com/guardian-crm/guardian/pkg/provider"
	"github.com/guardian-crm/guardian/pkg/similarity"
	"github.com/guardian-crm/guardian/pkg/store"
	redisstore "github.com/guardian-crm/guardian/pkg/store/redis"
	sqlitestore "github.com/guardian-crm/guardian/pkg/store/sqlite"
	"github.com/guardian-crm/guardian/pkg/tracker"
)

// loadConfig reads the config file and initializes logging. A missing file
// at the default path falls back to the built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) && path == "guardian.yaml" {
		cfg, err = config.Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logging.Init(cfg.Log)
	return cfg, nil
}

// openBackend opens the configured persistent store without a breaker.
func openBackend(cfg *config.Config) (store.Store, error) {
	var (
		s   store.Store
		err error
	)
	switch cfg.Store.Backend {
	case "sqlite":
		s, err = sqlitestore.New(cfg.DBPath)
	case "redis":
		s, err = redisstore.New(redisstore.Config{
			Addr:      cfg.Store.Redis.Addr,
			Password:  cfg.Store.Redis.Password,
			DB:        cfg.Store.Redis.DB,
			KeyPrefix: cfg.Store.Redis.KeyPrefix,
		})
	default:
		return store.NewMemory(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Store.Backend, err)
	}
	return s, nil
}

// openStore opens the store used by the cache. Remote and on-disk backends
// are wrapped in a breaker so a failing backend is skipped quickly.
func openStore(cfg *config.Config) (store.Store, error) {
	s, err := openBackend(cfg)
	if err != nil {
		return nil, err
	}
	if _, ok := s.(*store.Memory); ok {
		return s, nil
	}
	return store.Guard(s, store.GuardSettings{
		Name:        cfg.Store.Backend,
		MaxFailures: cfg.Store.Breaker.MaxFailures,
		Timeout:     cfg.Store.Breaker.Timeout,
	}), nil
}

// stack is the fully wired service.
type stack struct {
	cfg      *config.Config
	tracker  *tracker.SQLiteTracker
	enforcer *budget.Enforcer
	orch     *orchestrator.Orchestrator
	sweeper  *cache.Sweeper
}

func openStack(ctx context.Context, cfg *config.Config) (*stack, error) {
	tr, err := tracker.New(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("init tracker: %w", err)
	}
	st, err := openStore(cfg)
	if err != nil {
		_ = tr.Close()
		return nil, err
	}

	tiered := cache.New(cfg,
		cache.WithPersistence(st),
		cache.WithVersion(cfg.Cache.Version),
		cache.WithEmbedder(similarity.HeuristicBagOfWordsEmbedding{Dimensions: cfg.Cache.EmbeddingDimensions}),
	)
	if n, err := tiered.Warm(ctx); err != nil {
		logging.Warn().Add(logging.Component("cache")).Add(logging.ErrorField(err)).Msg("cache warm-up failed")
	} else if n > 0 {
		logging.Info().Add(logging.Component("cache")).Add(logging.Int("entries", n)).Msg("cache warmed")
	}

	s := &stack{cfg: cfg, tracker: tr}
	opts := []orchestrator.Option{
		orchestrator.WithPolicies(cfg),
		orchestrator.WithCache(tiered),
		orchestrator.WithBreakers(breaker.NewManager(breaker.FromConfig(cfg))),
		orchestrator.WithMetrics(tracker.NewMetrics(tracker.WithRecorder(tr))),
		orchestrator.WithLogger(logging.Get()),
	}
	if cfg.Budget.Enabled {
		s.enforcer = budget.New(cfg.Budget.Policies, tr)
		opts = append(opts, orchestrator.WithBudget(s.enforcer))
	}
	s.orch = orchestrator.New(provider.New(cfg), opts...)

	if cfg.Cache.SweepInterval > 0 {
		s.sweeper = tiered.StartSweeper(cfg.Cache.SweepInterval)
	}
	return s, nil
}

// guardian returns the orchestrator, forcing cache bypass when the cache is
// disabled in the config.
func (s *stack) guardian() guardianService {
	return guardianService{Orchestrator: s.orch, bypass: !s.cfg.Cache.Enabled}
}

func (s *stack) Close() error {
	if s.sweeper != nil {
		s.sweeper.Close()
	}
	return errors.Join(s.orch.Close(), s.tracker.Close())
}

type guardianService struct {
	*orchestrator.Orchestrator
	bypass bool
}

func (g guardianService) Process(ctx context.Context, tenantID string, action models.ActionType, input map[string]any, opts orchestrator.Options) (*models.Envelope, error) {
	opts.BypassCache = opts.BypassCache || g.bypass
	return g.Orchestrator.Process(ctx, tenantID, action, input, opts)
}
