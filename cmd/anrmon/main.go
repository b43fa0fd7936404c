// Package main is the CLI entry point for anrmon.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/eliteGoblin/focusd/anr_mon/internal/config"
	"github.com/eliteGoblin/focusd/anr_mon/internal/infra"
)

var (
	// Version info (set via ldflags)
	Version   = "0.1.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "anrmon",
	Short: "Application-not-responding watchdog",
	Long: `anrmon watches an application's main loop and records an event whenever
the loop stops responding for longer than the detection timeout.

Captured events are kept in an encrypted offline cache that can be
inspected with the events command.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Prints version, commit, and build time. Use --json for machine-readable output.`,
	Run:   runVersion,
}

var (
	configPath string
	jsonOutput bool
)

func init() {
	defaults := config.Default()
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configPath, "config", "", "Path to a YAML config file")
	flags.Bool("enabled", defaults.Enabled, "Enable ANR detection")
	flags.Duration("timeout", defaults.Timeout, "ANR detection timeout")
	flags.String("strategy", defaults.Strategy, "Detection strategy (threaded|cooperative)")
	flags.String("data-dir", defaults.DataDir, "Directory for the event cache and its key")
	flags.Int("max-events", defaults.MaxEvents, "Maximum cached events (0 = unlimited)")
	flags.String("log-file", defaults.LogFile, "Write logs to this file instead of stderr")
	flags.Bool("debug", defaults.Debug, "Enable debug logging")
	flags.Duration("frame-interval", defaults.FrameInterval, "Main loop frame pacing")

	versionCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output version info as JSON")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadOptions layers defaults, config file, environment and flags.
func loadOptions(cmd *cobra.Command) (*config.Options, error) {
	v := config.New()
	if err := config.ReadFile(v, configPath); err != nil {
		return nil, err
	}
	if err := config.BindFlags(v, cmd.Flags()); err != nil {
		return nil, err
	}
	return config.Load(v)
}

func createLogger(opts *config.Options) *zap.Logger {
	var zc zap.Config
	if opts.Debug {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	if opts.LogFile != "" {
		logFile := infra.NewDataDir().ExpandHome(opts.LogFile)
		_ = os.MkdirAll(filepath.Dir(logFile), 0700)
		zc.OutputPaths = []string{logFile}
		zc.ErrorOutputPaths = []string{logFile}
	}
	zc.EncoderConfig.TimeKey = "time"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zc.Build()
	if err != nil {
		// Fallback to stderr if file logging fails
		logger, _ = zap.NewProduction()
	}
	return logger
}

// openStore opens the encrypted event cache, creating its key on first use.
func openStore(opts *config.Options, logger *zap.Logger) (*infra.EncryptedEventStore, error) {
	dataDir, err := infra.NewDataDir().Ensure(opts.DataDir)
	if err != nil {
		return nil, err
	}
	key, err := infra.EnsureKey(infra.NewFileKeyProvider(dataDir), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load event cache key: %w", err)
	}
	return infra.NewEncryptedEventStore(dataDir, key, infra.EventStoreConfig{MaxEvents: opts.MaxEvents}, logger)
}

func runVersion(cmd *cobra.Command, args []string) {
	out := cmd.OutOrStdout()
	if jsonOutput {
		_ = json.NewEncoder(out).Encode(map[string]string{
			"version":    Version,
			"commit":     Commit,
			"build_time": BuildTime,
		})
		return
	}
	fmt.Fprintf(out, "anrmon %s (commit: %s, built: %s)\n", Version, Commit, BuildTime)
}
