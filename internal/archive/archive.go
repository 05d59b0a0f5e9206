// Package archive bundles a finished run into a dated zip file. Images and
// the run logs sit side by side at the zip root.
package archive

import (
	"archive/zip"
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

// DefaultName is the archive base name when none is configured.
const DefaultName = "ImageArchive"

// dateLayout renders YYYYMMDD.
const dateLayout = "20060102"

// logFiles are bundled after the images, in this order.
var logFiles = []string{catalog.IntegrityLogFile, catalog.RunLogFile, catalog.ManifestFile}

// Archiver implements the archive stage.
type Archiver struct {
	fs      afero.Fs
	workDir string
	name    string
	clock   catalog.Clock
	logger  *zap.Logger
}

// New constructs an Archiver.
func New(fs afero.Fs, workDir, name string, clock catalog.Clock, logger *zap.Logger) *Archiver {
	if name == "" {
		name = DefaultName
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Archiver{
		fs:      fs,
		workDir: workDir,
		name:    name,
		clock:   clock,
		logger:  logger.Named("archive"),
	}
}

// FileName returns the archive name for the current date.
func (a *Archiver) FileName() string {
	return fmt.Sprintf("%s-%s.zip", a.name, a.clock.Now().Format(dateLayout))
}

// Run writes the archive when passed is true and returns its path. When
// passed is false nothing is written and the path is empty.
func (a *Archiver) Run(ctx context.Context, passed bool) (string, error) {
	if !passed {
		a.logger.Info("integrity check failed, archive not created")
		return "", nil
	}
	imagesDir := filepath.Join(a.workDir, catalog.ImagesDir)
	infos, err := afero.ReadDir(a.fs, imagesDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", catalog.ErrImagesDirMissing
		}
		return "", fmt.Errorf("list images dir: %w", err)
	}

	target := filepath.Join(a.workDir, a.FileName())
	out, err := a.fs.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}
	zw := zip.NewWriter(out)

	writeErr := a.writeEntries(ctx, zw, imagesDir, infos)
	if err := zw.Close(); err != nil && writeErr == nil {
		writeErr = fmt.Errorf("finalize archive: %w", err)
	}
	if err := out.Close(); err != nil && writeErr == nil {
		writeErr = fmt.Errorf("close archive: %w", err)
	}
	if writeErr != nil {
		if rmErr := a.fs.Remove(target); rmErr != nil {
			a.logger.Warn("remove partial archive", zap.String("path", target), zap.Error(rmErr))
		}
		return "", writeErr
	}
	a.logger.Info("archive created", zap.String("path", target), zap.Int("images", len(infos)))
	return target, nil
}

func (a *Archiver) writeEntries(ctx context.Context, zw *zip.Writer, imagesDir string, infos []os.FileInfo) error {
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("archive images: %w", err)
		}
		name := info.Name()
		if err := a.addFile(zw, filepath.Join(imagesDir, name), name); err != nil {
			return err
		}
	}
	for _, name := range logFiles {
		err := a.addFile(zw, filepath.Join(a.workDir, name), name)
		if errors.Is(err, os.ErrNotExist) {
			a.logger.Warn("log file missing, not archived", zap.String("file", name))
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (a *Archiver) addFile(zw *zip.Writer, path, entryName string) error {
	src, err := a.fs.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", entryName, err)
	}
	defer func() {
		if cerr := src.Close(); cerr != nil {
			a.logger.Warn("close archived file", zap.String("file", entryName), zap.Error(cerr))
		}
	}()
	info, err := src.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", entryName, err)
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("zip header %s: %w", entryName, err)
	}
	header.Name = entryName
	header.Method = zip.Deflate
	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("zip entry %s: %w", entryName, err)
	}
	if _, err := io.Copy(w, src); err != nil {
		return fmt.Errorf("zip copy %s: %w", entryName, err)
	}
	return nil
}
