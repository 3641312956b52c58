package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/guardian-crm/guardian/pkg/tracker"
	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	var (
		configPath string
		tenantID   string
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show persisted usage per tenant and action",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = tr.Close() }()

			summaries, err := tr.Summary(cmd.Context(), tenantID)
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println("No usage data found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TENANT\tACTION\tREQUESTS\tCACHE HITS\tHIT RATE\tDEGRADED\tTOKENS\tCOST")
			for _, s := range summaries {
				rate := float64(0)
				if s.RequestCount > 0 {
					rate = float64(s.CacheHits) / float64(s.RequestCount) * 100
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%.1f%%\t%d\t%d\t$%.4f\n",
					s.TenantID, s.Action, s.RequestCount, s.CacheHits, rate, s.Degraded, s.TotalTokens, s.TotalCost)
			}
			return w.Flush()
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&tenantID, "tenant", "", "filter by tenant ID")
	return cmd
}
