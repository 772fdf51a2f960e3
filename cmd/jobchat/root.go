package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/jobchat/internal/config"
	applog "github.com/vovakirdan/jobchat/internal/log"
)

var version = "dev"

var (
	configPath string
	cfg        config.Config
	logger     *zerolog.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "jobchat",
	Short: "Job chat server and terminal client",
	Long: `jobchat serves the per-job message threads of the photography marketplace
and ships a terminal client for registering, booking and chatting.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		bootstrap := applog.NewWithWriter(os.Stderr, "warn", "console")
		loaded, path, err := config.Load(bootstrap, configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
			cfg.LogLevel = lvl
		}
		logger = applog.NewWithWriter(os.Stderr, cfg.LogLevel, cfg.LogFormat)
		logger.Debug().Str("config", path).Msg("configuration loaded")
		return nil
	},
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default $JOBCHAT_CONFIG_DEFAULT_PATH or ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "override log level (debug, info, warn, error)")
}
