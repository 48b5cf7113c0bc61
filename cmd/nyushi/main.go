package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/nyushi/internal/app"
	"github.com/ternarybob/nyushi/internal/common"
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
	runOnce      = flag.Bool("once", false, "Sync, drain the pipeline, then exit")
	showStatus   = flag.Bool("status", false, "Print task and sync summary, then exit")
	showVersion  = flag.Bool("version", false, "Print version information")
	showVersionV = flag.Bool("v", false, "Print version information (shorthand)")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	common.InstallCrashHandler("")
	defer common.RecoverWithCrashFile()

	flag.Parse()

	if *showVersion || *showVersionV {
		fmt.Printf("Nyushi version %s\n", common.GetFullVersion())
		os.Exit(0)
	}

	// Startup sequence (REQUIRED ORDER):
	// 1. Load config (defaults -> file1 -> file2 -> ... -> env)
	// 2. Initialize logger
	// 3. Print banner

	// Auto-discover config file if not specified
	if len(configFiles) == 0 {
		if _, err := os.Stat("nyushi.toml"); err == nil {
			configFiles = append(configFiles, "nyushi.toml")
		} else if _, err := os.Stat("deployments/local/nyushi.toml"); err == nil {
			configFiles = append(configFiles, "deployments/local/nyushi.toml")
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

	logger.Info().
		Strs("config_files", configFiles).
		Str("badger_path", config.Storage.Badger.Path).
		Str("upstream_path", config.Upstream.Path).
		Str("llm_provider", string(config.LLM.DefaultProvider)).
		Msg("Application configuration loaded")

	application, err := app.New(config, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize application")
	}
	defer application.Close()

	if *showStatus {
		if err := application.PrintStatus(context.Background()); err != nil {
			logger.Fatal().Err(err).Msg("Failed to read status")
		}
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Cancel the pipeline on interrupt; workers finish their current item
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info().Msg("Interrupt signal received, shutting down")
		cancel()
	}()

	if *runOnce {
		if err := application.RunOnce(ctx); err != nil && ctx.Err() == nil {
			logger.Fatal().Err(err).Msg("Batch run failed")
		}
		logger.Info().Msg("Batch run finished")
		return
	}

	logger.Info().Msg("Pipeline running - Press Ctrl+C to stop")
	if err := application.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal().Err(err).Msg("Pipeline failed")
	}
	logger.Info().Msg("Pipeline stopped")
}
