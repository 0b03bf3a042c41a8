package main

import (
	"encoding/json"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sipeed/execclient/pkg/app"
	"github.com/sipeed/execclient/pkg/logger"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll for messages until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			c, err := app.NewContainer(cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.InfoCF("cli", "Execution client running", map[string]interface{}{
				"scope":  c.ScopeKey(),
				"ledger": c.Ledger != nil,
			})
			if err := c.Run(ctx); err != nil {
				logger.ErrorCF("cli", "Execution client stopped with error", map[string]interface{}{
					"error": err.Error(),
				})
				return err
			}
			logger.InfoC("cli", "Execution client stopped")
			return nil
		},
	}
}

func newTickCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tick",
		Short: "Run a single polling cycle and print its result",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			c, err := app.NewContainer(cfg)
			if err != nil {
				return err
			}
			res, err := c.TickOnce(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
}
