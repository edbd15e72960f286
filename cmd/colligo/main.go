package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/colligo/internal/app"
	"github.com/ternarybob/colligo/internal/common"
	"github.com/ternarybob/colligo/internal/services/scheduler"
)

// configPaths is a custom flag type that allows multiple -config flags
type configPaths []string

func (c *configPaths) String() string {
	return fmt.Sprintf("%v", *c)
}

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles  configPaths
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
	runSchedule  = flag.Bool("schedule", false, "Run on the configured cron schedule instead of a single pass")
	runOnceFlag  = flag.Bool("once", false, "Run a single pass even when scheduling is enabled in config")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Colligo version %s\n", common.GetVersion())
		os.Exit(0)
	}

	// Startup sequence (REQUIRED ORDER):
	// 1. Load config (defaults -> file1 -> file2 -> ... -> env)
	// 2. Initialize logger
	// 3. Print banner
	// 4. Assemble and run

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("colligo.toml"); err == nil {
			configFiles = append(configFiles, "colligo.toml")
		} else if _, err := os.Stat("deployments/local/colligo.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/colligo.toml")
		}
	}

	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Strs("paths", configFiles).Err(err).Msg("Failed to load configuration")
		os.Exit(1)
	}

	logger := common.InitLogger(config)
	common.PrintBanner(common.GetVersion())

	if err := config.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("Configuration validation failed")
		os.Exit(1)
	}

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to assemble application")
		os.Exit(1)
	}
	defer application.Close()

	if (*runSchedule || config.Schedule.Enabled) && !*runOnceFlag {
		runScheduled(application, config, logger)
		return
	}

	runOnce(application, logger)
}

// runOnce executes a single harvest pass and prints its summary.
func runOnce(application *app.App, logger arbor.ILogger) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	summary, err := application.RunOnce(ctx)
	if summary != nil {
		fmt.Printf("scanned=%d eligible=%d downloaded=%d relayed=%d skipped=%d failed=%d\n",
			summary.Scanned, summary.Eligible, summary.Downloaded, summary.Relayed,
			summary.Skipped, summary.Failed)
	}
	if err != nil {
		logger.Error().Err(err).Msg("Harvest run failed")
		application.Close()
		os.Exit(1)
	}
}

// runScheduled keeps the process alive and runs passes on the configured
// cron expression until interrupted.
func runScheduled(application *app.App, config *common.Config, logger arbor.ILogger) {
	sched := scheduler.NewService(func(ctx context.Context) error {
		_, err := application.RunOnce(ctx)
		return err
	}, logger)

	if err := sched.Start(config.Schedule.Cron); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start scheduler")
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutting down")
	sched.Stop()
}
