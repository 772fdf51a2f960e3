package main

import (
	"github.com/spf13/cobra"

	"github.com/vovakirdan/jobchat/internal/app"
	"github.com/vovakirdan/jobchat/internal/config"
)

var serveFlags config.Config

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the chat server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg.UpdateFrom(serveFlags)
		if err := config.Validate(cfg); err != nil {
			return err
		}

		ctx := cmd.Context()
		application, err := app.New(ctx, &cfg, logger)
		if err != nil {
			return err
		}

		logger.Info().Str("addr", cfg.Addr).Str("version", version).Msg("starting jobchat server")
		if err := application.Run(ctx); err != nil {
			return err
		}
		logger.Info().Msg("server stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	f.StringVar(&serveFlags.Addr, "addr", "", "HTTP listen address")
	f.StringVar(&serveFlags.DatabasePath, "db", "", "SQLite database path")
	f.StringVar(&serveFlags.RedisURL, "redis", "", "Redis URL for cross-node push")
	f.DurationVar(&serveFlags.ReadHeaderTimeout, "read-header-timeout", 0, "HTTP read header timeout")
	f.DurationVar(&serveFlags.ShutdownTimeout, "shutdown-timeout", 0, "graceful shutdown timeout")
}
