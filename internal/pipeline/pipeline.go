// Package pipeline runs the harvest stages in order: link collection, batch
// download, integrity check, archive, and optional archive publishing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-image-harvester/internal/catalog"
	"github.com/JakeFAU/catalog-image-harvester/internal/collector"
	"github.com/JakeFAU/catalog-image-harvester/internal/downloader"
	"github.com/JakeFAU/catalog-image-harvester/internal/ingest"
	"github.com/JakeFAU/catalog-image-harvester/internal/progress"
)

const archiveContentType = "application/zip"

// ErrEmptyInput means neither records nor links were supplied.
var ErrEmptyInput = errors.New("input has no records or links")

// Collector resolves records and writes the link manifest.
type Collector interface {
	Run(ctx context.Context, records []catalog.ProductRecord, opts collector.Options) (collector.Result, error)
}

// Downloader downloads the link manifest.
type Downloader interface {
	Run(ctx context.Context) (downloader.Summary, error)
}

// Checker inspects the images directory.
type Checker interface {
	Check(ctx context.Context) (catalog.IntegrityReport, error)
}

// Archiver bundles the results when the integrity check passed.
type Archiver interface {
	Run(ctx context.Context, passed bool) (string, error)
}

// Stages holds the step implementations. Archiver and Publisher may be nil to
// skip those steps.
type Stages struct {
	Collector  Collector
	Downloader Downloader
	Checker    Checker
	Archiver   Archiver
	Publisher  catalog.BlobStore
}

// Config holds pipeline-level settings.
type Config struct {
	WorkDir string
	// PublishPrefix is prepended to the archive name as the object key.
	PublishPrefix string
}

// Input carries either product records for the collector or image links that
// go straight into the manifest.
type Input struct {
	Records []catalog.ProductRecord
	Links   []catalog.ManifestEntry
}

// Options tune a single run.
type Options struct {
	RunID      string
	FailedOnly bool
	// LinksOnly stops after the manifest is written.
	LinksOnly bool
}

// Report summarizes a run.
type Report struct {
	RunID           string
	Collected       collector.Result
	ManifestEntries int
	Downloaded      downloader.Summary
	Integrity       catalog.IntegrityReport
	ArchivePath     string
	PublishedURI    string

	// RobotsFallbackHosts lists hosts whose robots.txt was unreachable and
	// treated as allow-all. Filled in by the caller that owns the fetcher.
	RobotsFallbackHosts []string
}

// Pipeline sequences the stages.
type Pipeline struct {
	fs      afero.Fs
	stages  Stages
	cfg     Config
	emitter progress.Emitter
	clock   catalog.Clock
	logger  *zap.Logger
}

// New constructs a Pipeline. A nil emitter discards progress events.
func New(
	fs afero.Fs,
	stages Stages,
	cfg Config,
	emitter progress.Emitter,
	clock catalog.Clock,
	logger *zap.Logger,
) *Pipeline {
	if emitter == nil {
		emitter = progress.Discard
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		fs:      fs,
		stages:  stages,
		cfg:     cfg,
		emitter: emitter,
		clock:   clock,
		logger:  logger.Named("pipeline"),
	}
}

// Run executes the stages and reports what each produced. Any stage error
// stops the run and is returned alongside the partial report.
func (p *Pipeline) Run(ctx context.Context, in Input, opts Options) (Report, error) {
	report := Report{RunID: opts.RunID}
	start := p.clock.Now()
	log := p.logger.With(zap.String("run_id", opts.RunID))
	p.emit(progress.Event{RunID: opts.RunID, Stage: progress.StageRunStart})

	err := p.run(ctx, in, opts, &report, log)
	dur := p.clock.Now().Sub(start)
	if err != nil {
		p.emit(progress.Event{RunID: opts.RunID, Stage: progress.StageRunError, Note: err.Error(), Dur: nonNegative(dur)})
		return report, err
	}
	p.emit(progress.Event{RunID: opts.RunID, Stage: progress.StageRunDone, Dur: nonNegative(dur)})
	log.Info("run finished",
		zap.Int("downloaded", report.Downloaded.Downloaded),
		zap.Int("failed", report.Downloaded.Failed),
		zap.Bool("integrity_passed", report.Integrity.Passed()),
		zap.String("archive", report.ArchivePath),
	)
	return report, nil
}

func (p *Pipeline) run(ctx context.Context, in Input, opts Options, report *Report, log *zap.Logger) error {
	p.phase(opts.RunID, progress.PhaseCollect)
	switch {
	case len(in.Links) > 0:
		if err := ingest.WriteManifest(p.fs, p.cfg.WorkDir, in.Links); err != nil {
			return fmt.Errorf("write manifest: %w", err)
		}
		report.ManifestEntries = len(in.Links)
		log.Info("manifest written from link feed", zap.Int("links", len(in.Links)))
	case len(in.Records) > 0:
		res, err := p.stages.Collector.Run(ctx, in.Records, collector.Options{FailedOnly: opts.FailedOnly})
		report.Collected = res
		report.ManifestEntries = res.Links
		if err != nil {
			return fmt.Errorf("collect links: %w", err)
		}
	default:
		return ErrEmptyInput
	}
	if opts.LinksOnly {
		log.Info("links-only run, skipping download")
		return nil
	}

	p.phase(opts.RunID, progress.PhaseDownload)
	summary, err := p.stages.Downloader.Run(ctx)
	report.Downloaded = summary
	if err != nil {
		return fmt.Errorf("download images: %w", err)
	}

	p.phase(opts.RunID, progress.PhaseIntegrity)
	integrity, err := p.stages.Checker.Check(ctx)
	report.Integrity = integrity
	if err != nil {
		return fmt.Errorf("check integrity: %w", err)
	}

	if p.stages.Archiver == nil {
		return nil
	}
	p.phase(opts.RunID, progress.PhaseArchive)
	archivePath, err := p.stages.Archiver.Run(ctx, integrity.Passed())
	report.ArchivePath = archivePath
	if err != nil {
		return fmt.Errorf("archive images: %w", err)
	}

	if p.stages.Publisher == nil || archivePath == "" {
		return nil
	}
	p.phase(opts.RunID, progress.PhasePublish)
	uri, err := p.publish(ctx, archivePath)
	report.PublishedURI = uri
	if err != nil {
		return fmt.Errorf("publish archive: %w", err)
	}
	log.Info("archive published", zap.String("uri", uri))
	return nil
}

func (p *Pipeline) publish(ctx context.Context, archivePath string) (string, error) {
	f, err := p.fs.Open(archivePath)
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			p.logger.Warn("close archive", zap.Error(cerr))
		}
	}()
	key := filepath.Base(archivePath)
	if prefix := strings.Trim(p.cfg.PublishPrefix, "/"); prefix != "" {
		key = path.Join(prefix, key)
	}
	uri, err := p.stages.Publisher.PutObject(ctx, key, archiveContentType, f)
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return uri, nil
}

func (p *Pipeline) phase(runID string, phase progress.Phase) {
	p.emit(progress.Event{RunID: runID, Stage: progress.StagePhase, Phase: phase})
}

func (p *Pipeline) emit(evt progress.Event) {
	evt.TS = p.clock.Now()
	p.emitter.Emit(evt)
}

func nonNegative(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
