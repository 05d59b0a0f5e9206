// Package collector resolves every product record to a page, extracts its
// image links and writes the link manifest plus the run failure log.
package collector

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-image-harvester/internal/catalog"
)

// Options tune a single collection run.
type Options struct {
	// FailedOnly replays just the SKUs listed in the previous failure log and
	// appends to the existing manifest.
	FailedOnly bool
}

// Result summarizes a collection run.
type Result struct {
	Records  int
	Resolved int
	NotFound int
	NoImages int
	Links    int
}

// Collector drives page resolution and link extraction.
type Collector struct {
	fs       afero.Fs
	workDir  string
	resolver catalog.PageResolver
	parser   catalog.LinkParser
	logger   *zap.Logger
}

// New constructs a Collector writing into workDir.
func New(
	fs afero.Fs,
	workDir string,
	resolver catalog.PageResolver,
	parser catalog.LinkParser,
	logger *zap.Logger,
) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		fs:       fs,
		workDir:  workDir,
		resolver: resolver,
		parser:   parser,
		logger:   logger.Named("collector"),
	}
}

// Run processes records in order. Per-record failures are written to the
// failure log and never abort the run; only filesystem errors and context
// cancellation are returned.
func (c *Collector) Run(ctx context.Context, records []catalog.ProductRecord, opts Options) (Result, error) {
	if opts.FailedOnly {
		failed, err := c.failedSKUs()
		if err != nil {
			return Result{}, err
		}
		if len(failed) == 0 {
			c.logger.Warn("failed-only run found no failures to replay")
		}
		records = FilterFailed(records, failed)
	}

	if err := c.fs.MkdirAll(c.workDir, 0o750); err != nil {
		return Result{}, fmt.Errorf("create work dir: %w", err)
	}
	manifestFlags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if opts.FailedOnly {
		manifestFlags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	manifest, err := c.fs.OpenFile(c.path(catalog.ManifestFile), manifestFlags, 0o644)
	if err != nil {
		return Result{}, fmt.Errorf("open manifest: %w", err)
	}
	defer closeQuietly(manifest, c.logger)
	runLog, err := c.fs.OpenFile(c.path(catalog.RunLogFile), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return Result{}, fmt.Errorf("open run log: %w", err)
	}
	defer closeQuietly(runLog, c.logger)

	manifestW := bufio.NewWriter(manifest)
	runLogW := bufio.NewWriter(runLog)
	result := Result{Records: len(records)}

	runErr := c.collect(ctx, records, manifestW, runLogW, &result)
	if err := manifestW.Flush(); err != nil && runErr == nil {
		runErr = fmt.Errorf("flush manifest: %w", err)
	}
	if err := runLogW.Flush(); err != nil && runErr == nil {
		runErr = fmt.Errorf("flush run log: %w", err)
	}
	c.logger.Info("link collection finished",
		zap.Int("records", result.Records),
		zap.Int("resolved", result.Resolved),
		zap.Int("not_found", result.NotFound),
		zap.Int("no_images", result.NoImages),
		zap.Int("links", result.Links),
	)
	return result, runErr
}

func (c *Collector) collect(
	ctx context.Context,
	records []catalog.ProductRecord,
	manifest io.Writer,
	runLog io.Writer,
	result *Result,
) error {
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("collect links: %w", err)
		}
		log := c.logger.With(zap.String("sku", record.SKU), zap.String("title", record.Title))

		page, err := c.resolver.Resolve(ctx, record)
		if err != nil {
			if !errors.Is(err, catalog.ErrPageNotFound) {
				return fmt.Errorf("resolve %s: %w", record.SKU, err)
			}
			result.NotFound++
			if err := writeLine(runLog, catalog.FailureLine{
				Reason: catalog.ReasonNoProductPage,
				SKU:    record.SKU,
				Title:  record.Title,
				URL:    record.URL,
			}.String()); err != nil {
				return err
			}
			continue
		}
		result.Resolved++

		links, err := c.parser.ParseLinks(page)
		if err != nil {
			log.Warn("link extraction failed", zap.String("url", page.URL), zap.Error(err))
		}
		links = dropEmpty(links)
		if len(links) == 0 {
			result.NoImages++
			log.Info("no images found", zap.String("url", page.URL))
			if err := writeLine(runLog, catalog.FailureLine{
				Reason: catalog.ReasonNoImages,
				SKU:    record.SKU,
				Title:  record.Title,
				URL:    page.URL,
			}.String()); err != nil {
				return err
			}
			continue
		}

		for i, link := range links {
			if err := writeLine(manifest, catalog.NewManifestEntry(record.SKU, i, link).Line()); err != nil {
				return err
			}
		}
		result.Links += len(links)
		log.Debug("links collected", zap.Int("count", len(links)))
	}
	return nil
}

// failedSKUs reads the previous run's failure log. A missing log means
// nothing failed.
func (c *Collector) failedSKUs() (map[string]struct{}, error) {
	f, err := c.fs.Open(c.path(catalog.RunLogFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]struct{}{}, nil
		}
		return nil, fmt.Errorf("open failure log: %w", err)
	}
	defer closeQuietly(f, c.logger)
	skus, err := ReadFailedSKUs(f)
	if err != nil {
		return nil, fmt.Errorf("read failure log: %w", err)
	}
	return skus, nil
}

// ReadFailedSKUs collects the SKU field of every failure log line.
func ReadFailedSKUs(r io.Reader) (map[string]struct{}, error) {
	skus := make(map[string]struct{})
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if sku, ok := catalog.SKUFromFailureLine(scanner.Text()); ok {
			skus[sku] = struct{}{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan failure log: %w", err)
	}
	return skus, nil
}

// FilterFailed keeps records whose SKU is in failed, preserving order.
func FilterFailed(records []catalog.ProductRecord, failed map[string]struct{}) []catalog.ProductRecord {
	out := make([]catalog.ProductRecord, 0, len(failed))
	for _, record := range records {
		if _, ok := failed[record.SKU]; ok {
			out = append(out, record)
		}
	}
	return out
}

func (c *Collector) path(name string) string {
	return filepath.Join(c.workDir, name)
}

func dropEmpty(links []string) []string {
	out := links[:0:0]
	for _, link := range links {
		if link != "" {
			out = append(out, link)
		}
	}
	return out
}

func writeLine(w io.Writer, line string) error {
	if _, err := io.WriteString(w, line+"\n"); err != nil {
		return fmt.Errorf("write line: %w", err)
	}
	return nil
}

func closeQuietly(c io.Closer, logger *zap.Logger) {
	if err := c.Close(); err != nil {
		logger.Warn("close failed", zap.Error(err))
	}
}
