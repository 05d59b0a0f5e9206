// Package pagecache persists fetched product pages on disk, one file per
// sanitized product title. Entries are written once and never expire; stale
// pages must be evicted by deleting their files.
package pagecache

import (
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

	"github.com/JakeFAU/catalog-image-harvester/internal/catalog"
)

var (
	// ErrMiss is returned by Get for keys absent from the snapshot.
	ErrMiss = errors.New("page not cached")
	// ErrCorrupt is returned when an entry cannot be decoded or fails its digest.
	ErrCorrupt = errors.New("cache entry corrupt")
	// ErrInvalidKey is returned for keys that are not plain file names.
	ErrInvalidKey = errors.New("invalid cache key")
)

// Entry is the on-disk representation of a cached page. Body is stored
// base64 encoded so pages in legacy charsets round-trip byte for byte.
type Entry struct {
	Key        string      `json:"key"`
	URL        string      `json:"url"`
	StatusCode int         `json:"status_code"`
	Headers    http.Header `json:"headers,omitempty"`
	FetchedAt  time.Time   `json:"fetched_at"`
	SHA256     string      `json:"sha256"`
	Body       []byte      `json:"body"`
}

// Store is a directory of cache entries. The set of known keys is
// snapshotted at construction; files added later by other processes are
// not seen until the next Store is built.
type Store struct {
	fs     afero.Fs
	dir    string
	hasher catalog.Hasher

	mu   sync.RWMutex
	keys map[string]struct{}
}

// New opens (creating if needed) the cache directory and snapshots its listing.
func New(fs afero.Fs, dir string, hasher catalog.Hasher) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("cache directory is required")
	}
	if hasher == nil {
		return nil, fmt.Errorf("hasher is required")
	}
	if err := fs.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", dir, err)
	}
	infos, err := afero.ReadDir(fs, dir)
	if err != nil {
		return nil, fmt.Errorf("list cache dir %s: %w", dir, err)
	}
	keys := make(map[string]struct{}, len(infos))
	for _, info := range infos {
		if info.IsDir() || strings.HasSuffix(info.Name(), tmpSuffix) {
			continue
		}
		keys[info.Name()] = struct{}{}
	}
	return &Store{
		fs:     fs,
		dir:    dir,
		hasher: hasher,
		keys:   keys,
	}, nil
}

const tmpSuffix = ".tmp"

// Has reports whether key is cached.
func (s *Store) Has(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.keys[key]
	return ok
}

// Len returns the number of known entries.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.keys)
}

// Get loads a cached page and verifies its digest.
func (s *Store) Get(key string) (catalog.Page, error) {
	if !s.Has(key) {
		return catalog.Page{}, ErrMiss
	}
	raw, err := afero.ReadFile(s.fs, filepath.Join(s.dir, key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return catalog.Page{}, ErrMiss
		}
		return catalog.Page{}, fmt.Errorf("read cache entry %q: %w", key, err)
	}
	var entry Entry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return catalog.Page{}, fmt.Errorf("%w: decode %q: %v", ErrCorrupt, key, err)
	}
	digest, err := s.hasher.Hash(entry.Body)
	if err != nil {
		return catalog.Page{}, fmt.Errorf("hash cache entry %q: %w", key, err)
	}
	if digest != entry.SHA256 {
		return catalog.Page{}, fmt.Errorf("%w: digest mismatch for %q", ErrCorrupt, key)
	}
	return catalog.Page{
		URL:        entry.URL,
		StatusCode: entry.StatusCode,
		Headers:    entry.Headers,
		Body:       entry.Body,
		FetchedAt:  entry.FetchedAt,
		FromCache:  true,
	}, nil
}

// Put writes page under key, replacing any previous file atomically.
func (s *Store) Put(key string, page catalog.Page) error {
	if err := validateKey(key); err != nil {
		return err
	}
	digest, err := s.hasher.Hash(page.Body)
	if err != nil {
		return fmt.Errorf("hash page %q: %w", key, err)
	}
	entry := Entry{
		Key:        key,
		URL:        page.URL,
		StatusCode: page.StatusCode,
		Headers:    page.Headers,
		FetchedAt:  page.FetchedAt,
		SHA256:     digest,
		Body:       page.Body,
	}
	payload, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cache entry %q: %w", key, err)
	}
	target := filepath.Join(s.dir, key)
	tmp := target + tmpSuffix
	if err := afero.WriteFile(s.fs, tmp, payload, 0o600); err != nil {
		return fmt.Errorf("write cache entry %q: %w", key, err)
	}
	if err := s.fs.Rename(tmp, target); err != nil {
		return fmt.Errorf("commit cache entry %q: %w", key, err)
	}
	s.mu.Lock()
	s.keys[key] = struct{}{}
	s.mu.Unlock()
	return nil
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" || key == "." || key == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	if strings.ContainsAny(key, `/\`) || filepath.Base(key) != key {
		return fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return nil
}
