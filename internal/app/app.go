// Package app builds the harvester's dependencies from configuration and runs
// one harvest.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-image-harvester/internal/archive"
	"github.com/JakeFAU/catalog-image-harvester/internal/catalog"
	"github.com/JakeFAU/catalog-image-harvester/internal/clock/system"
	"github.com/JakeFAU/catalog-image-harvester/internal/collector"
	"github.com/JakeFAU/catalog-image-harvester/internal/config"
	"github.com/JakeFAU/catalog-image-harvester/internal/downloader"
	collyfetcher "github.com/JakeFAU/catalog-image-harvester/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/catalog-image-harvester/internal/fetcher/headless"
	"github.com/JakeFAU/catalog-image-harvester/internal/hash/sha256"
	"github.com/JakeFAU/catalog-image-harvester/internal/headless/detector"
	"github.com/JakeFAU/catalog-image-harvester/internal/id/uuid"
	"github.com/JakeFAU/catalog-image-harvester/internal/integrity"
	"github.com/JakeFAU/catalog-image-harvester/internal/metrics"
	"github.com/JakeFAU/catalog-image-harvester/internal/pagecache"
	"github.com/JakeFAU/catalog-image-harvester/internal/pipeline"
	"github.com/JakeFAU/catalog-image-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/catalog-image-harvester/internal/progress"
	progresssinks "github.com/JakeFAU/catalog-image-harvester/internal/progress/sinks"
	"github.com/JakeFAU/catalog-image-harvester/internal/resolver"
	gcsstorage "github.com/JakeFAU/catalog-image-harvester/internal/storage/gcs"
	localstorage "github.com/JakeFAU/catalog-image-harvester/internal/storage/local"
	pgstore "github.com/JakeFAU/catalog-image-harvester/internal/storage/postgres"
	s3storage "github.com/JakeFAU/catalog-image-harvester/internal/storage/s3"
	"github.com/JakeFAU/catalog-image-harvester/internal/supplier"
	"github.com/JakeFAU/catalog-image-harvester/internal/transform"
)

// App contains the dependencies of one harvest.
type App struct {
	cfg      config.Config
	fs       afero.Fs
	logger   *zap.Logger
	runID    string
	pipeline *pipeline.Pipeline
	hub      *progress.Hub
	status   *progresssinks.StatusSink
	http     *collyfetcher.Fetcher
	headless *headlessfetcher.Fetcher
	results  *pgstore.ResultStore
	gcs      *gcsstorage.BlobStore
}

// Option customizes Build.
type Option func(*App)

// WithFs replaces the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(a *App) { a.fs = fs }
}

// Build creates every component named by cfg. Close must be called when the
// returned App is no longer needed.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &App{cfg: cfg, fs: afero.NewOsFs(), logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	metrics.Init()

	clock := system.New()
	runID, err := uuid.New().NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	a.runID = runID
	a.logger = logger.With(zap.String("run_id", runID), zap.String("supplier", cfg.Supplier))
	a.logger.Info("building harvester", zap.String("work_dir", cfg.WorkDir), zap.String("input_format", cfg.Input.Format))

	a.setupProgress()

	httpFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.HTTP.UserAgent,
		RespectRobots: cfg.HTTP.RespectRobots,
		Timeout:       cfg.FetchTimeout(),
		MaxBodySize:   cfg.HTTP.MaxBodyBytes,
	})

	a.http = httpFetcher

	stages := pipeline.Stages{}
	if cfg.Input.Format != config.FormatXMLLinks {
		stages.Collector, err = a.setupCollector(httpFetcher, clock)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
	}

	recorder, err := a.setupResults(ctx, clock)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	var transformer catalog.Transformer = catalog.Identity
	if cfg.Transform.Enabled {
		canvas, err := transform.NewCanvas(transform.Config{
			Width:       cfg.Transform.Width,
			Height:      cfg.Transform.Height,
			Background:  cfg.Transform.Background,
			JPEGQuality: cfg.Transform.JPEGQuality,
		})
		if err != nil {
			a.Close(ctx)
			return nil, fmt.Errorf("transform init failed: %w", err)
		}
		transformer = canvas
	}
	stages.Downloader = downloader.New(a.fs, cfg.WorkDir, httpFetcher, transformer, recorder, downloader.Config{
		RunID:   runID,
		Headers: cfg.RequestHeaders(),
	}, a.logger)
	stages.Checker = integrity.New(a.fs, cfg.WorkDir, integrity.Config{
		Mode:     catalog.IntegrityMode(cfg.Integrity.Mode),
		WriteLog: cfg.Integrity.WriteLog,
	}, a.logger)
	if cfg.Archive.Enabled {
		stages.Archiver = archive.New(a.fs, cfg.WorkDir, cfg.Archive.Name, clock, a.logger)
	}
	stages.Publisher, err = a.setupPublisher(ctx)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	a.pipeline = pipeline.New(a.fs, stages, pipeline.Config{
		WorkDir:       cfg.WorkDir,
		PublishPrefix: cfg.Publish.Prefix,
	}, a.hub, clock, a.logger)
	return a, nil
}

// RunID identifies this harvest in logs, progress events and result rows.
func (a *App) RunID() string {
	return a.runID
}

func (a *App) setupProgress() {
	a.status = progresssinks.NewStatusSink()
	a.hub = progress.NewHub(progress.Config{Logger: a.logger},
		progresssinks.NewLogSink(a.logger.Named("progress_log")),
		a.status,
	)
}

func (a *App) setupCollector(httpFetcher *collyfetcher.Fetcher, clock catalog.Clock) (pipeline.Collector, error) {
	cfg := a.cfg
	cache, err := pagecache.New(a.fs, filepath.Join(cfg.WorkDir, catalog.CacheDir), sha256.New())
	if err != nil {
		return nil, fmt.Errorf("page cache init failed: %w", err)
	}
	a.logger.Info("page cache ready", zap.Int("entries", cache.Len()))

	var pageFetcher catalog.Fetcher = httpFetcher
	if cfg.Headless.Enabled {
		a.headless, err = headlessfetcher.New(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.HTTP.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			WaitSelector:      cfg.Headless.WaitSelector,
			SettleDelay:       time.Duration(cfg.Headless.SettleDelayMs) * time.Millisecond,
			ExecPath:          cfg.Headless.ExecPath,
		})
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		if cfg.Headless.Mode == config.HeadlessAuto {
			pageFetcher = detector.NewPromoter(httpFetcher, a.headless,
				detector.NewHeuristic(cfg.Headless.PromotionThreshold), a.logger)
		} else {
			pageFetcher = a.headless
		}
		a.logger.Info("using headless page fetcher",
			zap.String("mode", cfg.Headless.Mode),
			zap.Int("max_parallel", cfg.Headless.MaxParallel),
		)
	}

	var searcher catalog.Searcher
	if cfg.Search.Endpoint != "" {
		search, err := supplier.NewJSONSearch(cfg.Search, httpFetcher)
		if err != nil {
			return nil, fmt.Errorf("search init failed: %w", err)
		}
		searcher = search
		a.logger.Info("product search enabled", zap.String("pick", cfg.Search.Pick))
	}

	parser, err := supplier.NewSelectorParser(cfg.Parser.Rules)
	if err != nil {
		return nil, fmt.Errorf("parser init failed: %w", err)
	}

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.HTTP.RateLimitRPS,
		DefaultBurst: cfg.HTTP.RateLimitBurst,
	})
	res := resolver.New(cache, pageFetcher, searcher, limiter, clock, resolver.Config{
		Headers: cfg.RequestHeaders(),
	}, a.logger)
	return collector.New(a.fs, cfg.WorkDir, res, parser, a.logger), nil
}

func (a *App) setupResults(ctx context.Context, clock catalog.Clock) (catalog.ResultRecorder, error) {
	rec := progress.Recorder{Emitter: a.hub, Clock: clock}
	if a.cfg.DB.DSN == "" {
		a.logger.Debug("no db.dsn configured, result ledger disabled")
		return rec, nil
	}
	store, err := pgstore.NewResultStore(ctx, a.cfg.DB, clock)
	if err != nil {
		return nil, fmt.Errorf("result store init failed: %w", err)
	}
	a.results = store
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("result store init failed: %w", err)
	}
	a.logger.Info("result ledger enabled", zap.String("table", a.cfg.DB.Table))
	rec.Next = store
	return rec, nil
}

func (a *App) setupPublisher(ctx context.Context) (catalog.BlobStore, error) {
	pub := a.cfg.Publish
	switch pub.Backend {
	case config.BackendLocal:
		store, err := localstorage.New(a.fs, pub.Local)
		if err != nil {
			return nil, fmt.Errorf("local publisher init failed: %w", err)
		}
		a.logger.Info("publishing archives to directory", zap.String("dir", pub.Local.BaseDir))
		return store, nil
	case config.BackendGCS:
		store, err := gcsstorage.Dial(ctx, pub.GCS)
		if err != nil {
			return nil, fmt.Errorf("gcs publisher init failed: %w", err)
		}
		a.gcs = store
		a.logger.Info("publishing archives to gcs", zap.String("bucket", pub.GCS.Bucket))
		return store, nil
	case config.BackendS3:
		store, err := s3storage.New(ctx, pub.S3)
		if err != nil {
			return nil, fmt.Errorf("s3 publisher init failed: %w", err)
		}
		a.logger.Info("publishing archives to s3", zap.String("bucket", pub.S3.Bucket))
		return store, nil
	default:
		return nil, nil
	}
}
