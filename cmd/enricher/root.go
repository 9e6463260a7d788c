package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jdziat/recipe-enricher/pkg/app"
	"github.com/jdziat/recipe-enricher/pkg/config"
	"github.com/jdziat/recipe-enricher/pkg/observability"
)

var (
	cfgFiles []string
	envFiles []string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "enricher",
	Short: "Import recipes from links, videos, photos and text, then enrich them",
	Long: `enricher runs durable background queues that turn recipe sources into
structured recipes and add tags, categories, allergen warnings and nutrition.

Configuration comes from TOML files (--config, repeatable, later files win),
then ENRICHER_* environment variables. A .env file is loaded first when present.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringArrayVarP(&cfgFiles, "config", "c", nil, "TOML config file (repeatable)")
	rootCmd.PersistentFlags().StringArrayVar(&envFiles, "env-file", []string{".env"}, "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override logging.level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd, migrateCmd, importCmd, statsCmd, versionCmd)
}

// loadConfig reads .env files and the config files named on the command line.
func loadConfig() (*config.Config, *slog.Logger, error) {
	if err := config.LoadDotEnv(envFiles...); err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(cfgFiles...)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	logger := observability.NewLogger(os.Stderr, cfg.Logging.Format, cfg.Logging.Level)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// buildApp loads configuration and wires an App. The caller closes it.
func buildApp(ctx context.Context) (*app.App, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if claude, gemini := cfg.ProviderKeys(); cfg.AI.Enabled && !claude && !gemini {
		logger.Warn("ai is enabled but no provider key is configured; model calls will fail")
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("build app: %w", err)
	}
	return a, nil
}
