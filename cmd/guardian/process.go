package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/guardian-crm/guardian/pkg/models"
	"github.com/guardian-crm/guardian/pkg/orchestrator"
	"github.com/spf13/cobra"
)

func newProcessCmd() *cobra.Command {
	var (
		configPath  string
		tenantID    string
		action      string
		inputPath   string
		model       string
		bypassCache bool
		rawErrors   bool
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Run one AI request through the cache and circuit breaker",
		Long: `Reads a JSON object from --input (a file, or - for stdin), runs it through
the cache tiers and the circuit breaker for the tenant and action, and prints
the response envelope as JSON.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(cmd.InOrStdin(), inputPath)
			if err != nil {
				return err
			}

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			s, err := openStack(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()

			env, err := s.guardian().Process(cmd.Context(), tenantID, models.ActionType(action), input, orchestrator.Options{
				BypassCache: bypassCache,
				RawErrors:   rawErrors,
				Timeout:     timeout,
				Model:       model,
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(env); err != nil {
				return err
			}
			if !env.Success {
				return fmt.Errorf("request failed: %s", env.Metadata.Error)
			}
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant ID")
	cmd.Flags().StringVar(&action, "action", "", "action type (lead_scoring, email_generation, whatsapp_generation, content_analysis)")
	cmd.Flags().StringVar(&inputPath, "input", "-", "path to a JSON input file, or - for stdin")
	cmd.Flags().StringVar(&model, "model", "", "override the routed model")
	cmd.Flags().BoolVar(&bypassCache, "bypass-cache", false, "skip cache lookups")
	cmd.Flags().BoolVar(&rawErrors, "raw-errors", false, "return provider errors instead of a degraded envelope")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "provider call timeout (default 30s)")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("action")
	return cmd
}

func readInput(stdin io.Reader, path string) (map[string]any, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}

	var input map[string]any
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, fmt.Errorf("parse input: %w", err)
	}
	if input == nil {
		input = map[string]any{}
	}
	return input, nil
}
