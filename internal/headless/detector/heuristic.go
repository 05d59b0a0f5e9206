// Package detector decides when a supplier page needs a headless render.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/JakeFAU/catalog-image-harvester/internal/catalog"
)

// Heuristic implements a handful of rule-based promotions.
type Heuristic struct {
	// BodyLengthThreshold is the size under which a script-heavy page is
	// treated as an unrendered shell.
	BodyLengthThreshold int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = 2048
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
}

// ShouldPromote reports whether resp looks like a page whose product
// gallery is built client side.
func (h *Heuristic) ShouldPromote(resp catalog.FetchResponse) bool {
	if resp.StatusCode != http.StatusOK {
		return false
	}
	body := resp.Body
	if len(body) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	if bytes.Contains(bytes.ToLower(body), []byte("<img")) {
		return false
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	covered := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		tagEnd := strings.IndexByte(lower[start:], '>')
		if tagEnd == -1 {
			// Malformed tag swallows the rest of the document.
			covered += total - start
			break
		}
		contentStart := start + tagEnd + 1
		end := strings.Index(lower[contentStart:], closeTag)
		next := total
		if end != -1 {
			next = contentStart + end + len(closeTag)
		}
		covered += next - start
		pos = next
	}
	return covered > 0 && covered*100/total >= 25
}
