package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/openrouter-alt/gateway/internal/app"
	"github.com/openrouter-alt/gateway/internal/config"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "gateway",
		Short:         "OpenAI-compatible gateway for the LMArena backend",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "gateway.yaml", "path to the configuration file")

	rootCmd.AddCommand(
		newServeCmd(&configPath),
		newMigrateCmd(&configPath),
	)
	return rootCmd
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, errLoad := config.Load(*configPath)
			if errLoad != nil {
				return errLoad
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return app.RunServer(ctx, cfg)
		},
	}
}

func newMigrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database schema migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, errLoad := config.Load(*configPath)
			if errLoad != nil {
				return errLoad
			}
			return app.Migrate(cmd.Context(), cfg)
		},
	}
}
