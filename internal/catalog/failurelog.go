package catalog

import (
	"fmt"
	"strings"
)

// Failure reasons written to the run log.
const (
	ReasonNoProductPage = "No Product Page Found"
	ReasonNoImages      = "No Images Found"
)

// FailureLine is one "Failed - reason - sku - title - URL:url" log entry.
type FailureLine struct {
	Reason string
	SKU    string
	Title  string
	URL    string
}

// String renders the line without a trailing newline.
func (f FailureLine) String() string {
	return fmt.Sprintf("Failed - %s - %s - %s - URL:%s", f.Reason, f.SKU, f.Title, f.URL)
}

// SKUFromFailureLine returns the SKU field of a failure log line.
func SKUFromFailureLine(line string) (string, bool) {
	parts := strings.Split(strings.TrimSpace(line), " - ")
	if len(parts) < 3 {
		return "", false
	}
	sku := strings.TrimSpace(parts[2])
	return sku, sku != ""
}
