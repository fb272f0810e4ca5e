package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/goesfill/internal/cache"
	"github.com/BadgerOps/goesfill/internal/config"
	"github.com/BadgerOps/goesfill/internal/engine"
	"github.com/BadgerOps/goesfill/internal/remote"
	"github.com/BadgerOps/goesfill/internal/timeindex"
)

var (
	// Global flags
	cfgPath    string
	archiveDir string
	logLevel   string
	logFormat  string
	quiet      bool
	globalCfg  *config.Config
	logger     *slog.Logger

	// Global components
	globalCache  *cache.ResultCache
	globalEngine *engine.Engine
)

// initializeComponents opens the result cache, builds both remote stores and the engine
func initializeComponents() error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	rc, err := cache.Open(globalCfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to open result cache: %w", err)
	}
	globalCache = rc

	index := timeindex.New(timeindex.Options{
		Cadence:      globalCfg.Cadence(),
		RecentWindow: globalCfg.RecentWindow(),
	})

	fast, err := remote.NewFastStore(remote.FastOptions{
		BaseURL:       globalCfg.Fast.BaseURL,
		Band:          globalCfg.Fast.Band,
		RetryAttempts: globalCfg.Fast.RetryAttempts,
		Headers:       globalCfg.Fast.Headers,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to configure fast store: %w", err)
	}

	archive, err := remote.NewArchiveStore(remote.ArchiveOptions{
		Region:          globalCfg.Archive.Region,
		Endpoint:        globalCfg.Archive.Endpoint,
		Buckets:         globalCfg.ArchiveBuckets(),
		Band:            globalCfg.Archive.Band,
		RetryAttempts:   globalCfg.Archive.RetryAttempts,
		AccessKeyID:     globalCfg.Archive.AccessKeyID,
		SecretAccessKey: globalCfg.Archive.SecretAccessKey,
		ForcePathStyle:  globalCfg.Archive.ForcePathStyle,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to configure archive store: %w", err)
	}

	globalEngine, err = engine.New(engine.Options{
		Index:    index,
		Cache:    globalCache,
		Fast:     fast,
		Archive:  archive,
		Fallback: globalCfg.Fetch.Fallback,
		Logger:   logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	logger.Debug("components initialized", "cache", globalCache.Path(), "archive_dir", globalCfg.ArchiveDir)
	return nil
}

// shouldSkipComponentInit checks if a command should skip component initialization
func shouldSkipComponentInit(cmd *cobra.Command) bool {
	skipInitCmds := map[string]bool{
		"help":    true,
		"version": true,
		"config":  true,
	}
	for c := cmd; c != nil; c = c.Parent() {
		if skipInitCmds[c.Name()] {
			return true
		}
	}
	return false
}

// closeCache closes the global cache connection
func closeCache() {
	if globalCache != nil {
		if err := globalCache.Close(); err != nil {
			logger.Error("failed to close result cache", "error", err)
		}
		globalCache = nil
	}
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "goesfill",
		Short: "Find and fill gaps in a local GOES imagery archive",
		Long: `goesfill reconciles a local directory of GOES ABI observations against the
expected observation grid for a satellite, product and time range. Missing
observations are downloaded from the fast CDN when recent and from the
NOAA S3 archive otherwise, with bounded concurrency and optional fallback
between the two.`,
		Example: `  goesfill scan --satellite goes16 --product FD --start 2023-01-01 --end 2023-01-02
  goesfill fetch --satellite goes18 --product CONUS --auto-range
  goesfill detect --directory /data/goes16
  goesfill cache stats
  goesfill serve --listen 127.0.0.1:8080
  goesfill watch --cron "*/10 * * * *"`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Initialize logging
			setupLogging()

			// Skip config loading for commands that don't need it
			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			// Load config
			if cfgPath == "" {
				var err error
				cfgPath, err = config.FindConfigFile()
				if err != nil {
					logger.Debug("config file not found, using defaults", "error", err)
				}
			}

			if cfgPath != "" {
				var err error
				globalCfg, err = config.Load(cfgPath)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
			} else {
				globalCfg = config.DefaultConfig()
			}

			// Override with command-line flags if provided
			if archiveDir != "" {
				globalCfg.ArchiveDir = archiveDir
			}

			if !quiet {
				logger.Debug("config loaded", "path", cfgPath, "archive_dir", globalCfg.ArchiveDir)
			}

			// Initialize components after config is loaded
			if !shouldSkipComponentInit(cmd) {
				if err := initializeComponents(); err != nil {
					return fmt.Errorf("failed to initialize components: %w", err)
				}
			}

			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeCache()
		},
	}

	// Add persistent flags
	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&archiveDir, "archive-dir", "", "override archive directory")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	cmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	// Add subcommands
	cmd.AddCommand(
		newScanCmd(),
		newFetchCmd(),
		newDetectCmd(),
		newCacheCmd(),
		newRunsCmd(),
		newServeCmd(),
		newWatchCmd(),
		newConfigCmd(),
	)

	return cmd
}

// setupLogging initializes the slog logger based on flags
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if quiet && level < slog.LevelError {
		level = slog.LevelError
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":    true,
		"version": true,
	}
	return skipConfigCmds[cmdName]
}
