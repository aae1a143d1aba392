package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/allabolag/scraper/internal/checkpoint"
	"github.com/allabolag/scraper/internal/common"
	"github.com/allabolag/scraper/internal/jobcontroller"
	"github.com/allabolag/scraper/internal/migrator"
	"github.com/allabolag/scraper/internal/production"
	"github.com/allabolag/scraper/internal/proxy"
	"github.com/allabolag/scraper/internal/ratelimiter"
	"github.com/allabolag/scraper/internal/scraper"
	"github.com/allabolag/scraper/internal/server"
	"github.com/allabolag/scraper/internal/session"
	"github.com/allabolag/scraper/internal/storage/badger"
	"github.com/allabolag/scraper/internal/validator"
	"github.com/ternarybob/arbor"
)

// configPaths is a custom flag type that allows multiple -config flags.
type configPaths []string

func (c *configPaths) String() string { return fmt.Sprintf("%v", *c) }

func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

var (
	configFiles configPaths
	serverPort  = flag.Int("port", 0, "Server port (overrides config)")
	serverHost  = flag.String("host", "", "Server host (overrides config)")
	showVersion = flag.Bool("version", false, "Print version information")
)

func init() {
	flag.Var(&configFiles, "config", "Configuration file path (can be specified multiple times, later files override earlier ones)")
	flag.Var(&configFiles, "c", "Configuration file path (shorthand)")
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("allabolag-scraper version %s\n", common.GetVersion())
		os.Exit(0)
	}

	common.InstallCrashHandler("./logs")
	defer common.RecoverWithCrashFile()

	if len(configFiles) == 0 {
		if _, err := os.Stat("scraper.toml"); err == nil {
			configFiles = append(configFiles, "scraper.toml")
		}
	}

	config, err := common.LoadFromFiles(configFiles...)
	if err != nil {
		tempLogger := arbor.NewLogger()
		tempLogger.Fatal().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}

	if *serverPort != 0 {
		config.Server.Port = *serverPort
	}
	if *serverHost != "" {
		config.Server.Host = *serverHost
	}

	logger := common.SetupLogger(config)
	common.PrintBanner(config, logger)

	storageManager, err := badger.NewManager(logger, &config.Storage)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open storage manager")
	}
	defer storageManager.Close()

	gateway, err := proxy.NewGateway(logger, &config.Proxy)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build proxy gateway")
	}

	sess := session.New(logger, gateway, config.Session)

	stage1Limiter := ratelimiter.NewStageLimiter(logger, "stage1", config.RateLimiter.Stage1)
	stage2Limiter := ratelimiter.NewStageLimiter(logger, "stage2", config.RateLimiter.Stage2)
	stage3Limiter := ratelimiter.NewStageLimiter(logger, "stage3", config.RateLimiter.Stage3)

	previewer := scraper.NewPreviewer(logger, gateway, sess, stage1Limiter, config.Session.BaseURL)

	jobController := jobcontroller.New(
		logger,
		storageManager,
		gateway,
		sess,
		stage1Limiter, stage2Limiter, stage3Limiter,
		config.Segmentation,
		config.Checkpoint.EveryNCompanies,
		config.Session.BaseURL,
	)

	val := validator.New(logger, storageManager.Staging(), config.Validator.MinYear)

	productionStore := production.New(logger, config.Production)
	mig := migrator.New(logger, storageManager.Staging(), productionStore, config.Migrator.LogPath)

	sweeper := checkpoint.NewSweeper(logger, storageManager.Jobs(), config.Checkpoint.StaleThresholdMins)
	if err := sweeper.Start(config.Checkpoint.StaleSweepInterval); err != nil {
		logger.Fatal().Err(err).Msg("failed to start stale-job sweeper")
	}
	defer sweeper.Stop()

	srv := server.New(logger, config.Server, jobController, previewer, val, mig, storageManager)

	shutdownChan := make(chan struct{})
	srv.SetShutdownChannel(shutdownChan)

	common.SafeGo(logger, "httpServer", func() {
		if err := srv.Start(); err != nil {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	})

	time.Sleep(100 * time.Millisecond)
	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", config.Server.Host, config.Server.Port)).
		Msg("server ready - press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		logger.Info().Msg("interrupt signal received")
	case <-shutdownChan:
		logger.Info().Msg("shutdown requested via HTTP")
	}

	// Graceful shutdown pauses in-flight jobs rather than stopping them, so
	// a restart resumes them from their last checkpoint instead of losing
	// the run (spec.md §5's resumability guarantee extended to process exit).
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if n, err := storageManager.Jobs().MarkRunningJobsAsPaused(ctx, "server shutdown"); err != nil {
		logger.Error().Err(err).Msg("failed to pause running jobs on shutdown")
	} else if n > 0 {
		logger.Info().Int("count", n).Msg("paused running jobs for shutdown")
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}

	common.PrintShutdownBanner(logger)
}
