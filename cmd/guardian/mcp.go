package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/guardian-crm/guardian/pkg/logging"
	"github.com/guardian-crm/guardian/pkg/mcp"
	"github.com/spf13/cobra"
)

func newMCPCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve Guardian as an MCP server on stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := openStack(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			logging.Info().Add(logging.Component("mcp")).Add(logging.Str("version", version)).Msg("mcp server starting")
			err = mcp.New(s.guardian(), s.tracker, s.enforcer, version).Run(ctx, os.Stdin, os.Stdout)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}
