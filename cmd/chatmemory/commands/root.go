// Package commands provides the chatmemory CLI.
package commands

import (
	"context"
	"fmt"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ent0n29/chatmemory/internal/app"
	"github.com/ent0n29/chatmemory/internal/config"
	"github.com/ent0n29/chatmemory/internal/logging"
)

var Version = "0.1.0"

// Global flags
var (
	logLevel  string
	logPretty bool
)

var rootCmd = &cobra.Command{
	Use:   "chatmemory",
	Short: "Per-user conversational memory for chat assistants",
	Long: `chatmemory stores every user's recent chat turns, assembles a bounded
context window for the language model and sweeps expired history.

Run 'chatmemory serve' to start the HTTP service with the retention sweeper.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR), overrides LOG_LEVEL")
	rootCmd.PersistentFlags().BoolVar(&logPretty, "pretty", false, "Human readable console logs")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(contextCmd)
	rootCmd.AddCommand(clearCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig merges flags over the environment and builds the logger.
func loadConfig() (config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, zerolog.Nop(), fmt.Errorf("config error: %w", err)
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if logPretty {
		cfg.LogPretty = true
	}
	logger := logging.New(logging.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	return cfg, logger, nil
}

// build wires the service. One-shot commands keep their metrics in a private
// registry since nothing scrapes them.
func build(ctx context.Context, exportMetrics bool) (*app.BuildResult, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	var opts app.Options
	if !exportMetrics {
		opts.Registerer = prometheus.NewRegistry()
	}
	return app.Build(ctx, cfg, logger, opts)
}

func parseExternalID(raw string) (int64, error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid external id %q: %w", raw, err)
	}
	return id, nil
}
