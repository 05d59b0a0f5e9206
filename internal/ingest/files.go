package ingest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/JakeFAU/catalog-image-harvester/internal/catalog"
)

// Data directory names under the work directory.
const (
	DataDir    = "data"
	OldDataDir = "data.old"
)

var (
	// ErrNoInput means the data directory holds no input file.
	ErrNoInput = errors.New("no input file in data directory")
	// ErrAmbiguousInput means the data directory holds several input files.
	ErrAmbiguousInput = errors.New("several input files in data directory, pass one explicitly")
)

// Discover returns the single regular file in workDir/data.
func Discover(fs afero.Fs, workDir string) (string, error) {
	dir := filepath.Join(workDir, DataDir)
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", ErrNoInput
		}
		return "", fmt.Errorf("list data dir: %w", err)
	}
	var found []string
	for _, info := range infos {
		if !info.IsDir() {
			found = append(found, filepath.Join(dir, info.Name()))
		}
	}
	switch len(found) {
	case 0:
		return "", ErrNoInput
	case 1:
		return found[0], nil
	default:
		return "", fmt.Errorf("%w: %d files", ErrAmbiguousInput, len(found))
	}
}

// WriteManifest replaces workDir's link manifest with entries.
func WriteManifest(fs afero.Fs, workDir string, entries []catalog.ManifestEntry) error {
	if err := fs.MkdirAll(workDir, 0o750); err != nil {
		return fmt.Errorf("create work dir: %w", err)
	}
	f, err := fs.OpenFile(filepath.Join(workDir, catalog.ManifestFile), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open manifest: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, entry := range entries {
		if _, err := io.WriteString(w, entry.Line()+"\n"); err != nil {
			_ = f.Close()
			return fmt.Errorf("write manifest: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush manifest: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close manifest: %w", err)
	}
	return nil
}

// RotateData moves workDir/data to workDir/data.old, replacing any previous
// rotation, and recreates an empty data directory. Only one generation is
// kept.
func RotateData(fs afero.Fs, workDir string) error {
	data := filepath.Join(workDir, DataDir)
	old := filepath.Join(workDir, OldDataDir)
	if err := fs.RemoveAll(old); err != nil {
		return fmt.Errorf("remove %s: %w", OldDataDir, err)
	}
	exists, err := afero.DirExists(fs, data)
	if err != nil {
		return fmt.Errorf("stat %s: %w", DataDir, err)
	}
	if exists {
		if err := fs.Rename(data, old); err != nil {
			return fmt.Errorf("rotate %s: %w", DataDir, err)
		}
	}
	if err := fs.MkdirAll(data, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", DataDir, err)
	}
	return nil
}
