package catalog

import (
	"net/http"
	"time"
)

// ProductRecord is one input row describing a product.
type ProductRecord struct {
	Title string `json:"title"`
	SKU   string `json:"sku"`
	URL   string `json:"url"`
}

// Page is a resolved product page, either live or replayed from the cache.
type Page struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	FetchedAt  time.Time
	FromCache  bool
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// DownloadResult records the outcome of a single image download. Its JSON
// form is the body of a failure sidecar file.
type DownloadResult struct {
	Success    bool   `json:"success"`
	Filename   string `json:"filename"`
	URL        string `json:"url"`
	StatusCode int    `json:"status_code"`
	TimedOut   bool   `json:"timeout"`
	Reason     string `json:"reason"`
}

// FailedFile is one entry of an integrity report.
type FailedFile struct {
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// IntegrityMode selects which checks decide the aggregate integrity result.
type IntegrityMode string

// Supported integrity modes.
const (
	IntegrityBoth     IntegrityMode = "both"
	IntegrityDownload IntegrityMode = "download"
	IntegrityImage    IntegrityMode = "image"
)

// Valid reports whether m is a known mode.
func (m IntegrityMode) Valid() bool {
	switch m {
	case IntegrityBoth, IntegrityDownload, IntegrityImage:
		return true
	default:
		return false
	}
}

// IntegrityReport is derived from the images directory on every run.
type IntegrityReport struct {
	FailedFiles          []FailedFile
	DownloadCheckPassed  bool
	IntegrityCheckPassed bool
	Mode                 IntegrityMode
}

// Passed returns the aggregate result for the report's mode.
func (r IntegrityReport) Passed() bool {
	switch r.Mode {
	case IntegrityDownload:
		return r.DownloadCheckPassed
	case IntegrityImage:
		return r.IntegrityCheckPassed
	default:
		return r.DownloadCheckPassed && r.IntegrityCheckPassed
	}
}
