package catalog

import (
	"context"
	"io"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata. Implementations
// return a *FetchError for HTTP error statuses and timeouts.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Searcher finds a product page URL for a SKU. An empty URL with a nil error
// means the product could not be found.
type Searcher interface {
	Search(ctx context.Context, sku string) (string, error)
}

// SearchFunc adapts a function to the Searcher interface.
type SearchFunc func(ctx context.Context, sku string) (string, error)

// Search calls f.
func (f SearchFunc) Search(ctx context.Context, sku string) (string, error) {
	return f(ctx, sku)
}

// LinkParser extracts image URLs from a product page.
type LinkParser interface {
	ParseLinks(page Page) ([]string, error)
}

// ParseFunc adapts a function to the LinkParser interface.
type ParseFunc func(page Page) ([]string, error)

// ParseLinks calls f.
func (f ParseFunc) ParseLinks(page Page) ([]string, error) {
	return f(page)
}

// Transformer rewrites downloaded image bytes before they are persisted.
type Transformer interface {
	Transform(image []byte, filename string) ([]byte, error)
}

// TransformFunc adapts a function to the Transformer interface.
type TransformFunc func(image []byte, filename string) ([]byte, error)

// Transform calls f.
func (f TransformFunc) Transform(image []byte, filename string) ([]byte, error) {
	return f(image, filename)
}

// Identity is a Transformer that returns the image unchanged.
var Identity = TransformFunc(func(image []byte, _ string) ([]byte, error) {
	return image, nil
})

// PageResolver turns a product record into page content.
type PageResolver interface {
	Resolve(ctx context.Context, record ProductRecord) (Page, error)
}

// RateLimiter blocks until a request to url may proceed.
type RateLimiter interface {
	Wait(ctx context.Context, url string) error
}

// BlobStore writes artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// ResultRecorder persists per-image download outcomes.
type ResultRecorder interface {
	RecordResult(ctx context.Context, runID string, result DownloadResult) error
}

// Hasher computes digests for integrity checks.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
