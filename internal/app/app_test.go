package app

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-image-harvester/internal/catalog"
	"github.com/JakeFAU/catalog-image-harvester/internal/config"
	"github.com/JakeFAU/catalog-image-harvester/internal/ingest"
	"github.com/JakeFAU/catalog-image-harvester/internal/progress/sinks"
	"github.com/JakeFAU/catalog-image-harvester/internal/supplier"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 80, 40))
	for x := 0; x < 80; x++ {
		for y := 0; y < 40; y++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newSupplierSite(t *testing.T) *httptest.Server {
	t.Helper()
	imageData := pngBytes(t)
	mux := http.NewServeMux()
	mux.HandleFunc("/product/chair", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><div class="gallery">
<a href="/img/chair-front.png">front</a>
<a href="/img/chair-side.png">side</a>
</div></body></html>`)
	})
	mux.HandleFunc("/product/lamp", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><p>coming soon</p></body></html>`)
	})
	mux.HandleFunc("/img/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(imageData)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func baseConfig(workDir string) config.Config {
	return config.Config{
		Supplier: "test",
		WorkDir:  workDir,
		Input:    config.InputConfig{Format: config.FormatCSV, Columns: ingest.DefaultColumns},
		HTTP:     config.HTTPConfig{UserAgent: "harvester-test", TimeoutSeconds: 5, RateLimitBurst: 1},
		Parser:   config.ParserConfig{Rules: []supplier.Rule{{Selector: "div.gallery a"}}},
		Transform: config.TransformConfig{
			Enabled:    true,
			Width:      40,
			Height:     40,
			Background: "#ffffff",
		},
		Integrity: config.IntegrityConfig{Mode: string(catalog.IntegrityBoth), WriteLog: true},
		Archive:   config.ArchiveConfig{Enabled: true, Name: "ImageArchive"},
	}
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestHarvestEndToEnd(t *testing.T) {
	t.Parallel()

	site := newSupplierSite(t)
	workDir := t.TempDir()
	publishDir := filepath.Join(t.TempDir(), "publish")
	writeFile(t, filepath.Join(workDir, ingest.DataDir, "products.csv"), strings.Join([]string{
		"Title,ProductCode,ProductURL",
		"Oak Chair,CH1," + site.URL + "/product/chair",
		"Desk Lamp,LA2," + site.URL + "/product/lamp",
		"Gone/Table,TB3," + site.URL + "/product/missing",
	}, "\n")+"\n")

	cfg := baseConfig(workDir)
	cfg.Publish = config.PublishConfig{Backend: config.BackendLocal, Prefix: "test"}
	cfg.Publish.Local.BaseDir = publishDir

	ctx := context.Background()
	a, err := Build(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	require.NotEmpty(t, a.RunID())

	report, err := a.Run(ctx, RunOptions{})
	require.NoError(t, err)
	a.Close(ctx)

	assert.Equal(t, 3, report.Collected.Records)
	assert.Equal(t, 2, report.Collected.Resolved)
	assert.Equal(t, 1, report.Collected.NotFound)
	assert.Equal(t, 1, report.Collected.NoImages)
	assert.Equal(t, 2, report.ManifestEntries)
	assert.Equal(t, 2, report.Downloaded.Downloaded)
	assert.True(t, report.Integrity.Passed())

	manifest, err := os.ReadFile(filepath.Join(workDir, catalog.ManifestFile))
	require.NoError(t, err)
	assert.Equal(t, "CH1_0.png|"+site.URL+"/img/chair-front.png\nCH1_1.png|"+site.URL+"/img/chair-side.png\n", string(manifest))

	failures, err := os.ReadFile(filepath.Join(workDir, catalog.RunLogFile))
	require.NoError(t, err)
	assert.Contains(t, string(failures), "Failed - No Images Found - LA2 - Desk Lamp")
	assert.Contains(t, string(failures), "Failed - No Product Page Found - TB3 - Gone/Table")

	for _, name := range []string{"CH1_0.png", "CH1_1.png"} {
		f, err := os.Open(filepath.Join(workDir, catalog.ImagesDir, name))
		require.NoError(t, err)
		cfgImg, err := png.DecodeConfig(f)
		require.NoError(t, f.Close())
		require.NoError(t, err)
		assert.Equal(t, 40, cfgImg.Width)
		assert.Equal(t, 40, cfgImg.Height)
	}

	require.NotEmpty(t, report.ArchivePath)
	assert.FileExists(t, report.ArchivePath)
	published := filepath.Join(publishDir, "test", filepath.Base(report.ArchivePath))
	assert.Equal(t, "file://"+published, report.PublishedURI)
	assert.FileExists(t, published)

	cached, err := os.ReadDir(filepath.Join(workDir, catalog.CacheDir))
	require.NoError(t, err)
	assert.Len(t, cached, 2, "chair and lamp pages are cached")

	snap := a.status.Snapshot()
	assert.Equal(t, sinks.StateSucceeded, snap.State)
	assert.Equal(t, 2, snap.Downloaded)
}

func TestHarvestLinkFeedLinksOnly(t *testing.T) {
	t.Parallel()

	workDir := t.TempDir()
	feed := filepath.Join(workDir, "feed.xml")
	writeFile(t, feed, `<Products>
<Product><sku>ART1</sku><images><image>https://cdn.example.com/a.jpg</image><image>https://cdn.example.com/b.webp</image></images></Product>
</Products>`)

	cfg := baseConfig(workDir)
	cfg.Input.Format = config.FormatXMLLinks
	cfg.Input.XML = ingest.DefaultXMLSpec
	cfg.Parser.Rules = nil

	ctx := context.Background()
	a, err := Build(ctx, cfg, nil)
	require.NoError(t, err)
	defer a.Close(ctx)

	report, err := a.Run(ctx, RunOptions{InputPath: feed, LinksOnly: true})
	require.NoError(t, err)
	assert.Equal(t, 2, report.ManifestEntries)
	assert.Zero(t, report.Downloaded.Batches)

	manifest, err := os.ReadFile(filepath.Join(workDir, catalog.ManifestFile))
	require.NoError(t, err)
	assert.Equal(t, "ART1_0.jpg|https://cdn.example.com/a.jpg\nART1_1.webp|https://cdn.example.com/b.webp\n", string(manifest))
}

func TestHarvestWithoutInput(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	a, err := Build(ctx, baseConfig(t.TempDir()), nil)
	require.NoError(t, err)
	defer a.Close(ctx)

	_, err = a.Run(ctx, RunOptions{})
	assert.ErrorIs(t, err, ingest.ErrNoInput)
}

func TestBuildRejectsBadPublisher(t *testing.T) {
	t.Parallel()

	workDir := t.TempDir()
	blocker := filepath.Join(workDir, "not-a-dir")
	writeFile(t, blocker, "x")

	cfg := baseConfig(workDir)
	cfg.Publish = config.PublishConfig{Backend: config.BackendLocal}
	cfg.Publish.Local.BaseDir = blocker

	_, err := Build(context.Background(), cfg, nil)
	assert.ErrorContains(t, err, "local publisher init failed")
}
