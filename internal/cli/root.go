// Package cli implements the fuzzyhnsw command tree.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Bing-dwendwen/fuzzyhnsw"
	"github.com/Bing-dwendwen/fuzzyhnsw/internal/config"
	"github.com/Bing-dwendwen/fuzzyhnsw/internal/logger"
)

var (
	configPath      string
	logLevel        string
	logFormat       string
	indexConfigPath string
)

// Resolved by the root command before any subcommand runs.
var (
	appConfig config.Config
	appLogger = logger.Noop()
)

var rootCmd = &cobra.Command{
	Use:   "fuzzyhnsw",
	Short: "Approximate nearest neighbour recall for fuzzy hashes",
	Long: `fuzzyhnsw encodes TLSH-style fuzzy-hash digests into fixed-width integer
vectors, indexes them in an HNSW graph and measures how often a digest finds
itself again (recall).`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "TOML configuration file")
	flags.StringVar(&logLevel, "log-level", "", "log level: debug, info, warn or error")
	flags.StringVar(&logFormat, "log-format", "", "log format: text or json")
	flags.StringVar(&indexConfigPath, "index-config", "", "JSON index config file, replaces the [index] section")
}

// Execute runs the command tree with ctx.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func loadConfig(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	if indexConfigPath != "" {
		data, err := os.ReadFile(indexConfigPath)
		if err != nil {
			return fmt.Errorf("read index config: %w", err)
		}
		ic, err := fuzzyhnsw.ParseConfig(data)
		if err != nil {
			return fmt.Errorf("%s: %w", indexConfigPath, err)
		}
		cfg.Index = ic
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	l, err := logger.FromConfig(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	appConfig = cfg
	appLogger = l
	return nil
}
