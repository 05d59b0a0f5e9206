package catalog

import (
	"errors"
	"fmt"
)

var (
	// ErrPageNotFound means no product page could be resolved for a record.
	ErrPageNotFound = errors.New("no product page found")
	// ErrNoImages means a page was resolved but yielded no image links.
	ErrNoImages = errors.New("no images found")
	// ErrManifestMissing means the link manifest does not exist.
	ErrManifestMissing = errors.New("link manifest not found")
	// ErrImagesDirMissing means the images directory does not exist.
	ErrImagesDirMissing = errors.New("images directory not found")
	// ErrInvalidManifestLine means a manifest line is not "filename|url".
	ErrInvalidManifestLine = errors.New("invalid manifest line")
)

// FetchError describes a failed fetch. StatusCode is zero when no response
// was received.
type FetchError struct {
	URL        string
	StatusCode int
	Status     string
	TimedOut   bool
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.TimedOut:
		return fmt.Sprintf("fetch %s: timed out", e.URL)
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch %s: status %d %s", e.URL, e.StatusCode, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
	default:
		return fmt.Sprintf("fetch %s: failed", e.URL)
	}
}

// Unwrap returns the underlying transport error, if any.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Reason returns the short human-readable cause recorded in logs and sidecars.
func (e *FetchError) Reason() string {
	switch {
	case e.TimedOut:
		return "time out"
	case e.Status != "":
		return e.Status
	case e.Err != nil:
		return e.Err.Error()
	default:
		return "unknown error"
	}
}
