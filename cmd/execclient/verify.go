package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sipeed/execclient/pkg/providers"
)

func newVerifyCmd(root *rootOptions) *cobra.Command {
	var prompt string
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check that the configured completion provider can be built and, optionally, answers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}

			provider, err := providers.CreateProvider(cfg.Completion)
			if err != nil {
				return fmt.Errorf("create provider: %w", err)
			}
			model := cfg.Completion.Model
			if model == "" {
				model = provider.GetDefaultModel()
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "✓ Provider created: %s\n", provider.Name())
			fmt.Fprintf(out, "✓ Model: %s\n", model)

			if prompt == "" {
				return nil
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			text, err := provider.Generate(ctx, prompt)
			if err != nil {
				return fmt.Errorf("generate: %w", err)
			}
			_, err = fmt.Fprintf(out, "✓ Completion: %s\n", text)
			return err
		},
	}
	cmd.Flags().StringVar(&prompt, "prompt", "", "send this prompt and print the completion")
	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "completion timeout")
	return cmd
}
