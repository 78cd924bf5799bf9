// Package cli defines the nciplot command line interface.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	nciplot "github.com/insilichem/tangram-nciplot"
	"github.com/insilichem/tangram-nciplot/internal/config"
	"github.com/insilichem/tangram-nciplot/internal/events"
	"github.com/insilichem/tangram-nciplot/internal/report"
	"github.com/insilichem/tangram-nciplot/internal/workflow"
)

var (
	// cfgFile stores the path to the config file (if specified via flag)
	cfgFile  string
	logLevel string

	rootCmd = &cobra.Command{
		Use:   "nciplot",
		Short: "Run NCIPlot and read its results",
		Long: `Drives a local NCIPlot installation: writes input files, runs the binary one job at a
time, and extracts the isosurface values and output file paths from what it prints.`,
		Version:       nciplot.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./nciplot.yaml, then the user config directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
}

// loadConfig loads the configuration and installs the configured logger
// as the slog default.
func loadConfig() (*config.LoadResult, *slog.Logger, error) {
	loaded, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	logCfg := loaded.Config.Log
	if logLevel != "" {
		logCfg.Level = logLevel
	}
	logger := logCfg.Logger(os.Stderr)
	slog.SetDefault(logger)
	if loaded.Path != "" {
		logger.Debug("config loaded", "path", loaded.Path)
	}
	return loaded, logger, nil
}

// newStore returns the run record store described by cfg.
func newStore(cfg *config.Config) report.Store {
	return report.NewLRUStore(cfg.CacheSize(), report.NewDiskStore(cfg.Cache.Dir))
}

// newPublisher returns the run event publisher described by cfg. Without
// brokers every event is dropped.
func newPublisher(cfg *config.Config) (workflow.Publisher, func() error, error) {
	if len(cfg.Events.Brokers) == 0 {
		return events.Nop{}, events.Nop{}.Close, nil
	}
	p, err := events.NewPublisher(events.Config{Brokers: cfg.Events.Brokers, Topic: cfg.EventsTopic()})
	if err != nil {
		return nil, nil, fmt.Errorf("configuring events: %w", err)
	}
	return p, p.Close, nil
}
