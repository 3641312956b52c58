package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/guardian-crm/guardian/pkg/config"
	"github.com/guardian-crm/guardian/pkg/models"
	"github.com/guardian-crm/guardian/pkg/store"
	"github.com/spf13/cobra"
)

type clearer interface {
	Clear(ctx context.Context, expiredOnly bool) (int, error)
}

// tierCounter is implemented by stores that can count records per tier
// without loading them.
type tierCounter interface {
	Count(ctx context.Context, tier models.Tier) (int64, error)
}

func newCacheCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the persisted response cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show persisted entries per tier",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(configPath, func(cfg *config.Config, s store.Store) error {
				counts, err := countByTier(cmd.Context(), s)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintf(w, "Backend:\t%s\n", cfg.Store.Backend)
				fmt.Fprintln(w, "TIER\tENTRIES")
				var total int64
				for _, tier := range models.Tiers {
					fmt.Fprintf(w, "%s\t%d\n", tier, counts[tier])
					total += counts[tier]
				}
				fmt.Fprintf(w, "total\t%d\n", total)
				return w.Flush()
			})
		},
	}

	var expiredOnly bool
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear persisted cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(configPath, func(_ *config.Config, s store.Store) error {
				n, err := clearEntries(cmd.Context(), s, expiredOnly)
				if err != nil {
					return err
				}
				if expiredOnly {
					fmt.Printf("%d expired cache entries cleared.\n", n)
				} else {
					fmt.Printf("%d cache entries cleared.\n", n)
				}
				return nil
			})
		},
	}
	clearCmd.Flags().BoolVar(&expiredOnly, "expired", false, "only clear expired entries")

	var pattern, tenantID string
	invalidateCmd := &cobra.Command{
		Use:   "invalidate",
		Short: "Remove persisted entries whose key contains a pattern",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(configPath, func(_ *config.Config, s store.Store) error {
				n, err := s.DeleteByFilter(cmd.Context(), store.Filter{TenantID: tenantID, KeyContains: pattern})
				if err != nil {
					return err
				}
				fmt.Printf("Invalidated %d cache entries.\n", n)
				return nil
			})
		},
	}
	invalidateCmd.Flags().StringVar(&pattern, "pattern", "", "substring of the cache key")
	invalidateCmd.Flags().StringVar(&tenantID, "tenant", "", "restrict to one tenant")
	_ = invalidateCmd.MarkFlagRequired("pattern")

	addConfigFlag(cmd, &configPath)
	cmd.AddCommand(statsCmd, clearCmd, invalidateCmd)
	return cmd
}

// withBackend opens the persistent store for an admin command. The memory
// backend keeps nothing between runs, so there is nothing to manage.
func withBackend(configPath string, fn func(*config.Config, store.Store) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	s, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = s.Close() }()

	if _, ok := s.(*store.Memory); ok {
		fmt.Println("Cache backend is memory; nothing is persisted.")
		return nil
	}
	return fn(cfg, s)
}

func countByTier(ctx context.Context, s store.Store) (map[models.Tier]int64, error) {
	counts := make(map[models.Tier]int64, len(models.Tiers))
	if c, ok := s.(tierCounter); ok {
		for _, tier := range models.Tiers {
			n, err := c.Count(ctx, tier)
			if err != nil {
				return nil, err
			}
			counts[tier] = n
		}
		return counts, nil
	}

	l, ok := s.(store.Lister)
	if !ok {
		return nil, fmt.Errorf("%T cannot enumerate entries", s)
	}
	entries, err := l.List(ctx, store.Filter{})
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		counts[e.Tier]++
	}
	return counts, nil
}

func clearEntries(ctx context.Context, s store.Store, expiredOnly bool) (int, error) {
	if c, ok := s.(clearer); ok {
		return c.Clear(ctx, expiredOnly)
	}
	var f store.Filter
	if expiredOnly {
		f.ExpiredAt = time.Now()
	}
	return s.DeleteByFilter(ctx, f)
}
