package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewManifestEntry(t *testing.T) {
	t.Parallel()

	entry := NewManifestEntry("A100", 2, "https://cdn.example.com/a.png")
	assert.Equal(t, "A100_2.png", entry.Filename)
	assert.Equal(t, "A100_2.png|https://cdn.example.com/a.png", entry.Line())
	assert.Equal(t, "A100", entry.SKU())
}

func TestParseManifestLine(t *testing.T) {
	t.Parallel()

	entry, err := ParseManifestLine("A_0.jpg|http://x/1")
	require.NoError(t, err)
	assert.Equal(t, ManifestEntry{Filename: "A_0.jpg", URL: "http://x/1"}, entry)

	_, err = ParseManifestLine("no-separator")
	require.ErrorIs(t, err, ErrInvalidManifestLine)

	_, err = ParseManifestLine("|http://x/1")
	require.ErrorIs(t, err, ErrInvalidManifestLine)
}

func TestSKUFromFilename(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "A", SKUFromFilename("A_0.jpg"))
	assert.Equal(t, "AB_CD", SKUFromFilename("AB_CD_12.png"))
	assert.Equal(t, "plain.jpg", SKUFromFilename("plain.jpg"))
}

func TestFailureLineRoundTrip(t *testing.T) {
	t.Parallel()

	line := FailureLine{Reason: ReasonNoImages, SKU: "S-1", Title: "Lamp - large", URL: "http://x"}.String()
	assert.Equal(t, "Failed - No Images Found - S-1 - Lamp - large - URL:http://x", line)

	sku, ok := SKUFromFailureLine(line)
	require.True(t, ok)
	assert.Equal(t, "S-1", sku)

	_, ok = SKUFromFailureLine("garbage")
	assert.False(t, ok)
}

func TestIntegrityReportPassed(t *testing.T) {
	t.Parallel()

	report := IntegrityReport{DownloadCheckPassed: false, IntegrityCheckPassed: true}
	report.Mode = IntegrityBoth
	assert.False(t, report.Passed())
	report.Mode = IntegrityDownload
	assert.False(t, report.Passed())
	report.Mode = IntegrityImage
	assert.True(t, report.Passed())
	assert.False(t, IntegrityMode("other").Valid())
}

func TestFetchErrorReason(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "time out", (&FetchError{URL: "u", TimedOut: true}).Reason())
	assert.Equal(t, "Not Found", (&FetchError{URL: "u", StatusCode: 404, Status: "Not Found"}).Reason())
	assert.Contains(t, (&FetchError{URL: "u", StatusCode: 404, Status: "Not Found"}).Error(), "404")
}

func TestSidecarName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Failed_log-A_0.jpg.txt", SidecarName("A_0.jpg"))
}
