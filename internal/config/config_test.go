package config

import (
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/catalog-image-harvester/internal/catalog"
	"github.com/JakeFAU/catalog-image-harvester/internal/supplier"
)

const minimalYAML = `
parser:
  rules:
    - selector: "div.gallery a"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
supplier: estia
work_dir: /srv/estia
input:
  format: xml
  xml:
    product_node: item
    sku_field: code
http:
  user_agent: harvester-test
  timeout_seconds: 20
  rate_limit_rps: 2.5
  headers:
    Referer: https://shop.example.com
headless:
  enabled: true
  max_parallel: 2
parser:
  rules:
    - selector: "div.product-gallery a"
    - selector: "img.main"
      attr: src
search:
  endpoint: "https://shop.example.com/api/search?q={sku}"
  results_field: data.products
  url_field: url
  base_url: https://shop.example.com
  pick: first
transform:
  width: 800
  height: 600
  background: "#000000"
integrity:
  mode: image
archive:
  name: EstiaImages
publish:
  backend: s3
  prefix: estia
  s3:
    bucket: archives
    region: eu-west-1
    timeout: 30s
db:
  dsn: postgres://localhost/harvester
logging:
  development: false
  level: warn
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "estia", cfg.Supplier)
	assert.Equal(t, "/srv/estia", cfg.WorkDir)
	assert.Equal(t, FormatXML, cfg.Input.Format)
	assert.Equal(t, "item", cfg.Input.XML.ProductNode)
	assert.Equal(t, "code", cfg.Input.XML.SKUField)
	assert.Equal(t, "title", cfg.Input.XML.TitleField, "unset xml fields keep defaults")
	assert.Equal(t, 20*time.Second, cfg.FetchTimeout())
	assert.InDelta(t, 2.5, cfg.HTTP.RateLimitRPS, 1e-9)
	assert.Equal(t, "https://shop.example.com", cfg.RequestHeaders().Get("Referer"))
	assert.True(t, cfg.Headless.Enabled)
	assert.Equal(t, HeadlessAlways, cfg.Headless.Mode)
	assert.Equal(t, []supplier.Rule{
		{Selector: "div.product-gallery a"},
		{Selector: "img.main", Attr: "src"},
	}, cfg.Parser.Rules)
	assert.Equal(t, supplier.PickFirst, cfg.Search.Pick)
	assert.Equal(t, "data.products", cfg.Search.ResultsField)
	assert.Equal(t, 800, cfg.Transform.Width)
	assert.True(t, cfg.Transform.Enabled)
	assert.Equal(t, string(catalog.IntegrityImage), cfg.Integrity.Mode)
	assert.Equal(t, "EstiaImages", cfg.Archive.Name)
	assert.Equal(t, BackendS3, cfg.Publish.Backend)
	assert.Equal(t, "archives", cfg.Publish.S3.Bucket)
	assert.Equal(t, 30*time.Second, cfg.Publish.S3.Timeout)
	assert.Equal(t, "postgres://localhost/harvester", cfg.DB.DSN)
	assert.Equal(t, "download_results", cfg.DB.Table)
	assert.False(t, cfg.Logging.Development)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, ".", cfg.WorkDir)
	assert.Equal(t, FormatCSV, cfg.Input.Format)
	assert.Equal(t, "ProductCode", cfg.Input.Columns.SKU)
	assert.Equal(t, 10*time.Second, cfg.FetchTimeout())
	assert.Equal(t, 740, cfg.Transform.Width)
	assert.Equal(t, 740, cfg.Transform.Height)
	assert.Equal(t, "#ffffff", cfg.Transform.Background)
	assert.Equal(t, string(catalog.IntegrityBoth), cfg.Integrity.Mode)
	assert.True(t, cfg.Integrity.WriteLog)
	assert.Equal(t, "ImageArchive", cfg.Archive.Name)
	assert.Equal(t, BackendNone, cfg.Publish.Backend)
	assert.Equal(t, supplier.PickMention, cfg.Search.Pick)
	assert.Nil(t, cfg.RequestHeaders())
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HARVESTER_WORK_DIR", "/tmp/harvest")
	t.Setenv("HARVESTER_HTTP_TIMEOUT_SECONDS", "3")
	t.Setenv("HARVESTER_PUBLISH_BACKEND", "local")
	t.Setenv("HARVESTER_PUBLISH_LOCAL_DIR", "/mnt/share")

	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "/tmp/harvest", cfg.WorkDir)
	assert.Equal(t, 3*time.Second, cfg.FetchTimeout())
	assert.Equal(t, BackendLocal, cfg.Publish.Backend)
	assert.Equal(t, "/mnt/share", cfg.Publish.Local.BaseDir)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		return Config{
			WorkDir:   ".",
			Input:     InputConfig{Format: FormatCSV},
			HTTP:      HTTPConfig{TimeoutSeconds: 10},
			Parser:    ParserConfig{Rules: []supplier.Rule{{Selector: "a"}}},
			Transform: TransformConfig{Enabled: true, Width: 10, Height: 10},
			Integrity: IntegrityConfig{Mode: "both"},
			Archive:   ArchiveConfig{Enabled: true, Name: "ImageArchive"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "work dir", mutate: func(c *Config) { c.WorkDir = " " }, wantErr: "work_dir"},
		{name: "format", mutate: func(c *Config) { c.Input.Format = "xlsx" }, wantErr: "input.format"},
		{name: "timeout", mutate: func(c *Config) { c.HTTP.TimeoutSeconds = 0 }, wantErr: "http.timeout_seconds"},
		{name: "body limit", mutate: func(c *Config) { c.HTTP.MaxBodyBytes = -1 }, wantErr: "http.max_body_bytes"},
		{name: "rps", mutate: func(c *Config) { c.HTTP.RateLimitRPS = -1 }, wantErr: "http.rate_limit_rps"},
		{name: "headless parallel", mutate: func(c *Config) {
			c.Headless = HeadlessConfig{Enabled: true}
		}, wantErr: "headless.max_parallel"},
		{name: "headless mode", mutate: func(c *Config) {
			c.Headless = HeadlessConfig{Enabled: true, MaxParallel: 1, Mode: "sometimes"}
		}, wantErr: "headless.mode"},
		{name: "headless auto", mutate: func(c *Config) {
			c.Headless = HeadlessConfig{Enabled: true, MaxParallel: 1, Mode: HeadlessAuto}
		}},
		{name: "no rules", mutate: func(c *Config) { c.Parser.Rules = nil }, wantErr: "parser.rules"},
		{name: "link feed needs no rules", mutate: func(c *Config) {
			c.Parser.Rules = nil
			c.Input.Format = FormatXMLLinks
		}},
		{name: "empty selector", mutate: func(c *Config) {
			c.Parser.Rules = []supplier.Rule{{Attr: "src"}}
		}, wantErr: "parser.rules[0].selector"},
		{name: "search placeholder", mutate: func(c *Config) {
			c.Search.Endpoint = "https://x/search"
		}, wantErr: "search.endpoint"},
		{name: "transform size", mutate: func(c *Config) { c.Transform.Width = 0 }, wantErr: "transform.width"},
		{name: "transform disabled", mutate: func(c *Config) {
			c.Transform = TransformConfig{}
		}},
		{name: "integrity mode", mutate: func(c *Config) { c.Integrity.Mode = "all" }, wantErr: "integrity.mode"},
		{name: "archive name", mutate: func(c *Config) { c.Archive.Name = "" }, wantErr: "archive.name"},
		{name: "backend", mutate: func(c *Config) { c.Publish.Backend = "ftp" }, wantErr: "publish.backend"},
		{name: "gcs bucket", mutate: func(c *Config) { c.Publish.Backend = BackendGCS }, wantErr: "publish.gcs.bucket"},
		{name: "s3 bucket", mutate: func(c *Config) { c.Publish.Backend = BackendS3 }, wantErr: "publish.s3.bucket"},
		{name: "local dir", mutate: func(c *Config) { c.Publish.Backend = BackendLocal }, wantErr: "publish.local.dir"},
		{name: "publish without archive", mutate: func(c *Config) {
			c.Publish.Backend = BackendGCS
			c.Publish.GCS.Bucket = "b"
			c.Archive.Enabled = false
		}, wantErr: "archive.enabled"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestRequestHeadersCanonicalizes(t *testing.T) {
	t.Parallel()

	cfg := Config{HTTP: HTTPConfig{Headers: map[string]string{"x-api-key": "k"}}}
	assert.Equal(t, http.Header{"X-Api-Key": {"k"}}, cfg.RequestHeaders())
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("HARVESTER_TEST_DOTENV=loaded\n"), 0o600))
	t.Setenv("HARVESTER_TEST_DOTENV", "")
	require.NoError(t, os.Unsetenv("HARVESTER_TEST_DOTENV"))

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "loaded", os.Getenv("HARVESTER_TEST_DOTENV"))

	require.NoError(t, LoadEnvFile(filepath.Join(dir, "missing.env")))
}
