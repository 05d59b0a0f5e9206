// Package integrity inspects the images directory after a download run and
// reports failed downloads and undecodable images.
package integrity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"  // register decoder
	_ "image/jpeg" // register decoder
	_ "image/png"  // register decoder
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	_ "golang.org/x/image/bmp"  // register decoder
	_ "golang.org/x/image/tiff" // register decoder
	_ "golang.org/x/image/webp" // register decoder

	"github.com/JakeFAU/catalog-image-harvester/internal/catalog"
	"github.com/JakeFAU/catalog-image-harvester/internal/metrics"
)

// IntegrityFailurePrefix starts the reason of every undecodable image.
const IntegrityFailurePrefix = "Integrity Check Failed, "

// Config controls Checker behavior.
type Config struct {
	Mode     catalog.IntegrityMode
	WriteLog bool
}

// Checker implements the integrity stage.
type Checker struct {
	fs      afero.Fs
	workDir string
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Checker. An empty mode means catalog.IntegrityBoth.
func New(fs afero.Fs, workDir string, cfg Config, logger *zap.Logger) *Checker {
	if cfg.Mode == "" {
		cfg.Mode = catalog.IntegrityBoth
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Checker{
		fs:      fs,
		workDir: workDir,
		cfg:     cfg,
		logger:  logger.Named("integrity"),
	}
}

// Check builds a fresh report from the current directory contents.
func (c *Checker) Check(ctx context.Context) (catalog.IntegrityReport, error) {
	report := catalog.IntegrityReport{
		DownloadCheckPassed:  true,
		IntegrityCheckPassed: true,
		Mode:                 c.cfg.Mode,
	}
	dir := filepath.Join(c.workDir, catalog.ImagesDir)
	infos, err := afero.ReadDir(c.fs, dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return report, catalog.ErrImagesDirMissing
		}
		return report, fmt.Errorf("list images dir: %w", err)
	}

	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("check integrity: %w", err)
		}
		name := info.Name()
		path := filepath.Join(dir, name)

		if strings.HasPrefix(name, catalog.FailedLogPrefix) {
			body, err := afero.ReadFile(c.fs, path)
			if err != nil {
				return report, fmt.Errorf("read failure log %s: %w", name, err)
			}
			report.DownloadCheckPassed = false
			report.FailedFiles = append(report.FailedFiles, catalog.FailedFile{Name: name, Reason: string(body)})
			metrics.ObserveIntegrityFailure(metrics.KindDownload)
			continue
		}

		if err := c.decode(path); err != nil {
			report.IntegrityCheckPassed = false
			report.FailedFiles = append(report.FailedFiles, catalog.FailedFile{
				Name:   name,
				Reason: IntegrityFailurePrefix + err.Error(),
			})
			metrics.ObserveIntegrityFailure(metrics.KindIntegrity)
			c.logger.Warn("image failed integrity check", zap.String("filename", name), zap.Error(err))
		}
	}

	if c.cfg.WriteLog {
		if err := c.writeLog(report.FailedFiles); err != nil {
			return report, err
		}
	}
	c.logger.Info("integrity check finished",
		zap.Int("files", len(infos)),
		zap.Int("failed", len(report.FailedFiles)),
		zap.Bool("download_check_passed", report.DownloadCheckPassed),
		zap.Bool("integrity_check_passed", report.IntegrityCheckPassed),
		zap.Bool("passed", report.Passed()),
	)
	return report, nil
}

// decode reads the whole image so truncated pixel data is detected.
func (c *Checker) decode(path string) error {
	f, err := c.fs.Open(path)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			c.logger.Warn("close image", zap.String("path", path), zap.Error(cerr))
		}
	}()
	if _, _, err := image.Decode(f); err != nil {
		return err //nolint:wrapcheck // reason text is recorded verbatim
	}
	return nil
}

func (c *Checker) writeLog(failed []catalog.FailedFile) error {
	path := filepath.Join(c.workDir, catalog.IntegrityLogFile)
	f, err := c.fs.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open integrity log: %w", err)
	}
	enc := json.NewEncoder(f)
	for _, entry := range failed {
		if err := enc.Encode(entry); err != nil {
			_ = f.Close()
			return fmt.Errorf("write integrity log: %w", err)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close integrity log: %w", err)
	}
	return nil
}
