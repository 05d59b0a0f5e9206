// Package main runs a single catalog image harvest.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-image-harvester/internal/app"
	"github.com/JakeFAU/catalog-image-harvester/internal/config"
	"github.com/JakeFAU/catalog-image-harvester/internal/ingest"
	"github.com/JakeFAU/catalog-image-harvester/internal/logging"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfgPath := flag.String("config", "", "Path to config file")
	envPath := flag.String("env", ".env", "Path to dotenv file")
	inputPath := flag.String("input", "", "Input file (overrides input.path)")
	failedOnly := flag.Bool("failed-only", false, "Only process records listed in the failure log")
	linksOnly := flag.Bool("links-only", false, "Collect links and stop before downloading")
	rotate := flag.Bool("rotate-data", false, "Move the previous run's data aside before starting")
	flag.Parse()

	if err := config.LoadEnvFile(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "load env file failed: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		return 1
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		return 1
	}
	defer func() {
		// Sync on a console sink reports ENOTTY/EINVAL; nothing to do about it.
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *rotate {
		if err := ingest.RotateData(afero.NewOsFs(), cfg.WorkDir); err != nil {
			logger.Error("rotate data failed", zap.Error(err))
			return 1
		}
	}

	harvester, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("build harvester failed", zap.Error(err))
		return 1
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		harvester.Close(closeCtx)
	}()

	report, err := harvester.Run(ctx, app.RunOptions{
		InputPath:  *inputPath,
		FailedOnly: *failedOnly,
		LinksOnly:  *linksOnly,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Warn("harvest interrupted", zap.String("run_id", harvester.RunID()))
		} else {
			logger.Error("harvest failed", zap.String("run_id", harvester.RunID()), zap.Error(err))
		}
		return 1
	}

	logger.Info("harvest finished",
		zap.String("run_id", report.RunID),
		zap.Int("records", report.Collected.Records),
		zap.Int("resolved", report.Collected.Resolved),
		zap.Int("not_found", report.Collected.NotFound),
		zap.Int("links", report.ManifestEntries),
		zap.Int("downloaded", report.Downloaded.Downloaded),
		zap.Int("download_failed", report.Downloaded.Failed),
		zap.Bool("integrity_passed", report.Integrity.Passed()),
		zap.String("archive", report.ArchivePath),
		zap.String("published", report.PublishedURI),
		zap.Strings("robots_fallback_hosts", report.RobotsFallbackHosts),
	)
	if !*linksOnly && !report.Integrity.Passed() {
		return 2
	}
	return 0
}
