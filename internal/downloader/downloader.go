// Package downloader fetches every image listed in the link manifest. Images
// of one SKU form a batch that is downloaded concurrently; batches run one
// after another in manifest order.
package downloader

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-image-harvester/internal/catalog"
	"github.com/JakeFAU/catalog-image-harvester/internal/metrics"
)

// Config controls Downloader behavior.
type Config struct {
	RunID   string
	Headers http.Header
}

// Summary counts the outcomes of a download run.
type Summary struct {
	Batches    int
	Downloaded int
	Skipped    int
	Failed     int
}

// Downloader implements the batch download stage.
type Downloader struct {
	fs          afero.Fs
	workDir     string
	fetcher     catalog.Fetcher
	transformer catalog.Transformer
	recorder    catalog.ResultRecorder
	cfg         Config
	logger      *zap.Logger
}

type outcome int

const (
	outcomeDownloaded outcome = iota
	outcomeSkipped
	outcomeFailed
)

// New constructs a Downloader. transformer defaults to catalog.Identity and
// recorder may be nil.
func New(
	fs afero.Fs,
	workDir string,
	fetcher catalog.Fetcher,
	transformer catalog.Transformer,
	recorder catalog.ResultRecorder,
	cfg Config,
	logger *zap.Logger,
) *Downloader {
	if transformer == nil {
		transformer = catalog.Identity
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Downloader{
		fs:          fs,
		workDir:     workDir,
		fetcher:     fetcher,
		transformer: transformer,
		recorder:    recorder,
		cfg:         cfg,
		logger:      logger.Named("downloader"),
	}
}

// Run downloads the manifest. It returns catalog.ErrManifestMissing when the
// manifest does not exist; per-image failures are recorded as sidecar files
// and never returned.
func (d *Downloader) Run(ctx context.Context) (Summary, error) {
	var summary Summary

	manifest, err := d.fs.Open(filepath.Join(d.workDir, catalog.ManifestFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return summary, catalog.ErrManifestMissing
		}
		return summary, fmt.Errorf("open manifest: %w", err)
	}
	defer func() {
		if cerr := manifest.Close(); cerr != nil {
			d.logger.Warn("close manifest", zap.Error(cerr))
		}
	}()

	imagesDir := filepath.Join(d.workDir, catalog.ImagesDir)
	if err := d.fs.MkdirAll(imagesDir, 0o750); err != nil {
		return summary, fmt.Errorf("create images dir: %w", err)
	}
	existing, err := d.snapshot(imagesDir)
	if err != nil {
		return summary, err
	}

	var (
		batch      []catalog.ManifestEntry
		currentSKU string
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("download batch %s: %w", currentSKU, err)
		}
		d.runBatch(ctx, currentSKU, batch, existing, &summary)
		batch = nil
		return nil
	}

	scanner := bufio.NewScanner(manifest)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		entry, err := catalog.ParseManifestLine(line)
		if err != nil {
			d.logger.Warn("skipping manifest line", zap.Error(err))
			continue
		}
		if sku := entry.SKU(); sku != currentSKU {
			if err := flush(); err != nil {
				return summary, err
			}
			currentSKU = sku
		}
		batch = append(batch, entry)
	}
	if err := scanner.Err(); err != nil {
		return summary, fmt.Errorf("read manifest: %w", err)
	}
	// The final SKU has no successor to close its batch.
	if err := flush(); err != nil {
		return summary, err
	}

	d.logger.Info("download finished",
		zap.Int("batches", summary.Batches),
		zap.Int("downloaded", summary.Downloaded),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
	)
	return summary, nil
}

// snapshot lists the images directory once; files written during the run
// are not consulted for skipping.
func (d *Downloader) snapshot(dir string) (map[string]struct{}, error) {
	infos, err := afero.ReadDir(d.fs, dir)
	if err != nil {
		return nil, fmt.Errorf("list images dir: %w", err)
	}
	existing := make(map[string]struct{}, len(infos))
	for _, info := range infos {
		if !info.IsDir() {
			existing[info.Name()] = struct{}{}
		}
	}
	return existing, nil
}

func (d *Downloader) runBatch(
	ctx context.Context,
	sku string,
	batch []catalog.ManifestEntry,
	existing map[string]struct{},
	summary *Summary,
) {
	start := time.Now()
	outcomes := make([]outcome, len(batch))
	var wg sync.WaitGroup
	for i, entry := range batch {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = d.download(ctx, entry, existing)
		}()
	}
	wg.Wait()

	summary.Batches++
	for _, o := range outcomes {
		switch o {
		case outcomeDownloaded:
			summary.Downloaded++
		case outcomeSkipped:
			summary.Skipped++
		case outcomeFailed:
			summary.Failed++
		}
	}
	metrics.ObserveBatch(time.Since(start))
	d.logger.Debug("batch complete", zap.String("sku", sku), zap.Int("size", len(batch)))
}

func (d *Downloader) download(ctx context.Context, entry catalog.ManifestEntry, existing map[string]struct{}) outcome {
	log := d.logger.With(zap.String("filename", entry.Filename), zap.String("url", entry.URL))
	if _, ok := existing[entry.Filename]; ok {
		log.Debug("already downloaded, skipping")
		metrics.ObserveImage(metrics.ImageSkipped)
		return outcomeSkipped
	}

	result := catalog.DownloadResult{Filename: entry.Filename, URL: entry.URL}
	resp, err := d.fetcher.Fetch(ctx, catalog.FetchRequest{URL: entry.URL, Headers: d.cfg.Headers})
	if err != nil {
		describeFailure(&result, err)
		return d.fail(ctx, result, log)
	}
	result.StatusCode = resp.StatusCode

	data, err := d.transformer.Transform(resp.Body, entry.Filename)
	if err != nil {
		result.Reason = fmt.Sprintf("transform failed: %v", err)
		return d.fail(ctx, result, log)
	}
	if err := afero.WriteFile(d.fs, d.imagePath(entry.Filename), data, 0o644); err != nil {
		result.Reason = fmt.Sprintf("write image: %v", err)
		return d.fail(ctx, result, log)
	}
	if err := d.fs.Remove(d.imagePath(catalog.SidecarName(entry.Filename))); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("remove stale failure log", zap.Error(err))
	}

	result.Success = true
	d.record(ctx, result, log)
	metrics.ObserveImage(metrics.ImageDownloaded)
	log.Debug("image saved", zap.Int("bytes", len(data)))
	return outcomeDownloaded
}

func (d *Downloader) fail(ctx context.Context, result catalog.DownloadResult, log *zap.Logger) outcome {
	sidecar := catalog.SidecarName(result.Filename)
	payload, err := json.MarshalIndent(result, "", "  ")
	if err == nil {
		err = afero.WriteFile(d.fs, d.imagePath(sidecar), payload, 0o644)
	}
	if err != nil {
		log.Error("write failure log", zap.String("sidecar", sidecar), zap.Error(err))
	} else {
		log.Warn("download failed, see failure log",
			zap.String("sidecar", sidecar),
			zap.String("reason", result.Reason),
		)
	}
	d.record(ctx, result, log)
	metrics.ObserveImage(metrics.ImageFailed)
	return outcomeFailed
}

func (d *Downloader) record(ctx context.Context, result catalog.DownloadResult, log *zap.Logger) {
	if d.recorder == nil {
		return
	}
	if err := d.recorder.RecordResult(ctx, d.cfg.RunID, result); err != nil {
		log.Warn("record download result", zap.Error(err))
	}
}

func (d *Downloader) imagePath(name string) string {
	return filepath.Join(d.workDir, catalog.ImagesDir, name)
}

func describeFailure(result *catalog.DownloadResult, err error) {
	var fetchErr *catalog.FetchError
	if errors.As(err, &fetchErr) {
		result.StatusCode = fetchErr.StatusCode
		result.TimedOut = fetchErr.TimedOut
		result.Reason = fetchErr.Reason()
		return
	}
	result.TimedOut = errors.Is(err, context.DeadlineExceeded)
	if result.TimedOut {
		result.Reason = "time out"
		return
	}
	result.Reason = err.Error()
}
