package main

import (
	"github.com/spf13/cobra"

	"github.com/sipeed/execclient/pkg/config"
	"github.com/sipeed/execclient/pkg/logger"
)

const defaultConfigPath = "~/.execclient/config.yaml"

func Execute() error {
	return newRootCmd().Execute()
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "execclient",
		Short:         "Execution client: answers messages to AI characters",
		Long:          "execclient polls the on-chain program and the local message store for unanswered messages, runs each through the plugin pipeline and a completion provider, and commits the response back to where the message came from.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", defaultConfigPath, "path to the YAML config file")

	rootCmd.AddCommand(
		newVersionCmd(),
		newRunCmd(opts),
		newTickCmd(opts),
		newDeriveCmd(opts),
		newVerifyCmd(opts),
	)
	return rootCmd
}

// loadConfig reads the config and installs the configured logger.
func (o *rootOptions) loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, err
	}
	if err := logger.Init(logger.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format}); err != nil {
		return nil, err
	}
	return cfg, nil
}
