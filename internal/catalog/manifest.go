package catalog

import (
	"fmt"
	"strings"
)

// ManifestEntry is one "filename|url" line of the link manifest.
type ManifestEntry struct {
	Filename string
	URL      string
}

// NewManifestEntry names the i-th image of a SKU.
func NewManifestEntry(sku string, index int, link string) ManifestEntry {
	return ManifestEntry{
		Filename: fmt.Sprintf("%s_%d.%s", sku, index, ExtractExtension(link)),
		URL:      link,
	}
}

// Line renders the entry without a trailing newline.
func (e ManifestEntry) Line() string {
	return e.Filename + "|" + e.URL
}

// SKU returns the filename prefix before the index separator.
func (e ManifestEntry) SKU() string {
	return SKUFromFilename(e.Filename)
}

// SKUFromFilename extracts the SKU from "{sku}_{index}.{ext}". The index
// separator is the last underscore, so SKUs containing underscores survive.
func SKUFromFilename(filename string) string {
	idx := strings.LastIndex(filename, "_")
	if idx < 0 {
		return filename
	}
	return filename[:idx]
}

// ParseManifestLine splits a trimmed, non-blank manifest line.
func ParseManifestLine(line string) (ManifestEntry, error) {
	filename, link, ok := strings.Cut(line, "|")
	filename = strings.TrimSpace(filename)
	link = strings.TrimSpace(link)
	if !ok || filename == "" || link == "" {
		return ManifestEntry{}, fmt.Errorf("%w: %q", ErrInvalidManifestLine, line)
	}
	return ManifestEntry{Filename: filename, URL: link}, nil
}
