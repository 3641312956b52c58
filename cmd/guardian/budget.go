package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/guardian-crm/guardian/pkg/budget"
	"github.com/guardian-crm/guardian/pkg/tracker"
	"github.com/spf13/cobra"
)

func newBudgetCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Inspect token budgets",
	}

	var tenantID string
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show budget usage vs limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if !cfg.Budget.Enabled {
				fmt.Println("Budget enforcement is disabled.")
				return nil
			}

			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = tr.Close() }()

			tenant := tenantID
			if tenant == "" {
				tenant = "*"
			}
			statuses, err := budget.New(cfg.Budget.Policies, tr).Status(cmd.Context(), tenant)
			if err != nil {
				return err
			}
			if len(statuses) == 0 {
				fmt.Println("No budget policies found for this tenant.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TENANT\tACTION\tPERIOD\tMAX TOKENS\tUSED\tREMAINING")
			for _, s := range statuses {
				action := string(s.Policy.Action)
				if action == "" {
					action = "*"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\n",
					s.Policy.TenantID, action, s.Policy.Period, s.Policy.MaxTokens, s.Used, s.Remaining)
			}
			return w.Flush()
		},
	}
	statusCmd.Flags().StringVar(&tenantID, "tenant", "", "filter by tenant ID")

	addConfigFlag(cmd, &configPath)
	cmd.AddCommand(statusCmd)
	return cmd
}
