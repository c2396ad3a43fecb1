package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nimbus-chat/nimbus/internal/bridge"
)

// NewDoctorCmd returns a health-check command validating config and environment.
func NewDoctorCmd(opts *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config OK. Providers: %d, models: %d\n", len(cfg.Providers), len(cfg.Models))
			fmt.Fprintf(out, "Transport: %s, metrics: %v\n", cfg.Server.Transport, cfg.Server.MetricsEnabled)

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Second)
			defer cancel()
			br := bridge.New(func(string) {})
			br.Start(ctx)
			if err := br.WaitReady(ctx); err != nil {
				return fmt.Errorf("client tool bridge failed to initialize: %w", err)
			}
			fmt.Fprintf(out, "Client tools: %d\n", len(br.ListTools()))
			return nil
		},
	}
}
