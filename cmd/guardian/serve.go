package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/guardian-crm/guardian/pkg/api"
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		listen     string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the Guardian HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := openStack(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			return api.New(s.guardian(), s.tracker, s.enforcer, cfg.Listen).ListenAndServe(ctx)
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	return cmd
}
