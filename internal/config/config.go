// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/catalog-image-harvester/internal/catalog"
	"github.com/JakeFAU/catalog-image-harvester/internal/ingest"
	"github.com/JakeFAU/catalog-image-harvester/internal/logging"
	"github.com/JakeFAU/catalog-image-harvester/internal/storage/gcs"
	"github.com/JakeFAU/catalog-image-harvester/internal/storage/local"
	"github.com/JakeFAU/catalog-image-harvester/internal/storage/postgres"
	"github.com/JakeFAU/catalog-image-harvester/internal/storage/s3"
	"github.com/JakeFAU/catalog-image-harvester/internal/supplier"
)

// Input formats.
const (
	FormatCSV      = "csv"
	FormatXML      = "xml"
	FormatXMLLinks = "xml_links"
)

// Publish backends.
const (
	BackendNone  = "none"
	BackendLocal = "local"
	BackendGCS   = "gcs"
	BackendS3    = "s3"
)

// Headless modes.
const (
	HeadlessAlways = "always"
	HeadlessAuto   = "auto"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Supplier  string                `mapstructure:"supplier"`
	WorkDir   string                `mapstructure:"work_dir"`
	Input     InputConfig           `mapstructure:"input"`
	HTTP      HTTPConfig            `mapstructure:"http"`
	Headless  HeadlessConfig        `mapstructure:"headless"`
	Parser    ParserConfig          `mapstructure:"parser"`
	Search    supplier.SearchConfig `mapstructure:"search"`
	Transform TransformConfig       `mapstructure:"transform"`
	Integrity IntegrityConfig       `mapstructure:"integrity"`
	Archive   ArchiveConfig         `mapstructure:"archive"`
	Publish   PublishConfig         `mapstructure:"publish"`
	DB        postgres.Config       `mapstructure:"db"`
	Metrics   MetricsConfig         `mapstructure:"metrics"`
	Logging   logging.Config        `mapstructure:"logging"`
}

// InputConfig selects the product source. An empty Path means "discover the
// single file in {work_dir}/data".
type InputConfig struct {
	Path    string         `mapstructure:"path"`
	Format  string         `mapstructure:"format"`
	Columns ingest.Columns `mapstructure:"columns"`
	XML     ingest.XMLSpec `mapstructure:"xml"`
}

// HTTPConfig configures the page and image fetcher.
type HTTPConfig struct {
	UserAgent      string            `mapstructure:"user_agent"`
	TimeoutSeconds int               `mapstructure:"timeout_seconds"`
	RespectRobots  bool              `mapstructure:"respect_robots"`
	// MaxBodyBytes rejects larger responses; 0 means unlimited.
	MaxBodyBytes   int               `mapstructure:"max_body_bytes"`
	RateLimitRPS   float64           `mapstructure:"rate_limit_rps"`
	RateLimitBurst int               `mapstructure:"rate_limit_burst"`
	Headers        map[string]string `mapstructure:"headers"`
}

// HeadlessConfig configures the headless rendering fetcher used for pages.
type HeadlessConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Mode is "always" (render every page) or "auto" (probe over HTTP and
	// render only pages the detector flags).
	Mode               string `mapstructure:"mode"`
	PromotionThreshold int    `mapstructure:"promotion_threshold"`
	MaxParallel   int    `mapstructure:"max_parallel"`
	NavTimeoutSec int    `mapstructure:"nav_timeout_seconds"`
	WaitSelector  string `mapstructure:"wait_selector"`
	SettleDelayMs int    `mapstructure:"settle_delay_ms"`
	ExecPath      string `mapstructure:"exec_path"`
}

// ParserConfig holds the ordered link extraction rules.
type ParserConfig struct {
	Rules []supplier.Rule `mapstructure:"rules"`
}

// TransformConfig controls the canvas applied to downloaded images.
type TransformConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Width       int    `mapstructure:"width"`
	Height      int    `mapstructure:"height"`
	Background  string `mapstructure:"background"`
	JPEGQuality int    `mapstructure:"jpeg_quality"`
}

// IntegrityConfig selects the aggregation mode.
type IntegrityConfig struct {
	Mode     string `mapstructure:"mode"`
	WriteLog bool   `mapstructure:"write_log"`
}

// ArchiveConfig names the zip bundle.
type ArchiveConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Name    string `mapstructure:"name"`
}

// PublishConfig selects where a created archive is uploaded.
type PublishConfig struct {
	Backend string       `mapstructure:"backend"`
	Prefix  string       `mapstructure:"prefix"`
	Local   local.Config `mapstructure:"local"`
	GCS     gcs.Config   `mapstructure:"gcs"`
	S3      s3.Config    `mapstructure:"s3"`
}

// MetricsConfig controls the status listener. An empty address disables it.
type MetricsConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoadEnvFile loads KEY=VALUE pairs from a dotenv file into the process
// environment. A missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("supplier", "")
	v.SetDefault("work_dir", ".")
	v.SetDefault("input.path", "")
	v.SetDefault("input.format", FormatCSV)
	v.SetDefault("input.columns.title", ingest.DefaultColumns.Title)
	v.SetDefault("input.columns.sku", ingest.DefaultColumns.SKU)
	v.SetDefault("input.columns.url", ingest.DefaultColumns.URL)
	v.SetDefault("input.xml.product_node", ingest.DefaultXMLSpec.ProductNode)
	v.SetDefault("input.xml.title_field", ingest.DefaultXMLSpec.TitleField)
	v.SetDefault("input.xml.sku_field", ingest.DefaultXMLSpec.SKUField)
	v.SetDefault("input.xml.url_field", ingest.DefaultXMLSpec.URLField)
	v.SetDefault("input.xml.images_path", ingest.DefaultXMLSpec.ImagesPath)
	v.SetDefault("http.user_agent", "catalog-image-harvester/0.1")
	v.SetDefault("http.timeout_seconds", 10)
	v.SetDefault("http.respect_robots", false)
	v.SetDefault("http.max_body_bytes", 0)
	v.SetDefault("http.rate_limit_rps", 0)
	v.SetDefault("http.rate_limit_burst", 1)
	v.SetDefault("headless.enabled", false)
	v.SetDefault("headless.mode", HeadlessAlways)
	v.SetDefault("headless.promotion_threshold", 2048)
	v.SetDefault("headless.max_parallel", 1)
	v.SetDefault("headless.nav_timeout_seconds", 30)
	v.SetDefault("headless.wait_selector", "body")
	v.SetDefault("headless.settle_delay_ms", 0)
	v.SetDefault("headless.exec_path", "")
	v.SetDefault("search.endpoint", "")
	v.SetDefault("search.results_field", "")
	v.SetDefault("search.url_field", "")
	v.SetDefault("search.base_url", "")
	v.SetDefault("search.pick", supplier.PickMention)
	v.SetDefault("transform.enabled", true)
	v.SetDefault("transform.width", 740)
	v.SetDefault("transform.height", 740)
	v.SetDefault("transform.background", "#ffffff")
	v.SetDefault("transform.jpeg_quality", 90)
	v.SetDefault("integrity.mode", string(catalog.IntegrityBoth))
	v.SetDefault("integrity.write_log", true)
	v.SetDefault("archive.enabled", true)
	v.SetDefault("archive.name", "ImageArchive")
	v.SetDefault("publish.backend", BackendNone)
	v.SetDefault("publish.prefix", "")
	v.SetDefault("publish.local.dir", "")
	v.SetDefault("publish.gcs.bucket", "")
	v.SetDefault("publish.gcs.endpoint", "")
	v.SetDefault("publish.s3.bucket", "")
	v.SetDefault("publish.s3.region", "")
	v.SetDefault("publish.s3.endpoint", "")
	v.SetDefault("publish.s3.access_key_id", "")
	v.SetDefault("publish.s3.secret_access_key", "")
	v.SetDefault("publish.s3.use_path_style", false)
	v.SetDefault("publish.s3.max_retries", 3)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.table", postgres.DefaultTable)
	v.SetDefault("metrics.listen_addr", "")
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if strings.TrimSpace(c.WorkDir) == "" {
		return fmt.Errorf("work_dir must be set")
	}
	switch c.Input.Format {
	case FormatCSV, FormatXML, FormatXMLLinks:
	default:
		return fmt.Errorf("input.format must be one of csv, xml, xml_links")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxBodyBytes < 0 {
		return fmt.Errorf("http.max_body_bytes must be >= 0")
	}
	if c.HTTP.RateLimitRPS < 0 {
		return fmt.Errorf("http.rate_limit_rps must be >= 0")
	}
	if c.Headless.Enabled {
		if c.Headless.MaxParallel <= 0 {
			return fmt.Errorf("headless.max_parallel must be > 0 when headless is enabled")
		}
		switch c.Headless.Mode {
		case HeadlessAlways, HeadlessAuto:
		default:
			return fmt.Errorf("headless.mode must be one of always, auto")
		}
	}
	if c.Input.Format != FormatXMLLinks {
		if len(c.Parser.Rules) == 0 {
			return fmt.Errorf("parser.rules must contain at least one rule")
		}
		for i, rule := range c.Parser.Rules {
			if strings.TrimSpace(rule.Selector) == "" {
				return fmt.Errorf("parser.rules[%d].selector must be set", i)
			}
		}
	}
	if c.Search.Endpoint != "" && !strings.Contains(c.Search.Endpoint, "{sku}") {
		return fmt.Errorf("search.endpoint must contain {sku}")
	}
	if c.Transform.Enabled && (c.Transform.Width <= 0 || c.Transform.Height <= 0) {
		return fmt.Errorf("transform.width and transform.height must be > 0 when transform is enabled")
	}
	if !catalog.IntegrityMode(c.Integrity.Mode).Valid() {
		return fmt.Errorf("integrity.mode must be one of both, download, image")
	}
	if c.Archive.Enabled && strings.TrimSpace(c.Archive.Name) == "" {
		return fmt.Errorf("archive.name must be set when archiving is enabled")
	}
	return c.validatePublish()
}

func (c Config) validatePublish() error {
	switch c.Publish.Backend {
	case "", BackendNone:
		return nil
	case BackendLocal:
		if c.Publish.Local.BaseDir == "" {
			return fmt.Errorf("publish.local.dir must be set for the local backend")
		}
	case BackendGCS:
		if c.Publish.GCS.Bucket == "" {
			return fmt.Errorf("publish.gcs.bucket must be set for the gcs backend")
		}
	case BackendS3:
		if c.Publish.S3.Bucket == "" {
			return fmt.Errorf("publish.s3.bucket must be set for the s3 backend")
		}
	default:
		return fmt.Errorf("publish.backend must be one of none, local, gcs, s3")
	}
	if !c.Archive.Enabled {
		return fmt.Errorf("archive.enabled must be true when publishing")
	}
	return nil
}

// FetchTimeout converts http.timeout_seconds into a duration.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RequestHeaders returns the configured extra request headers.
func (c Config) RequestHeaders() http.Header {
	if len(c.HTTP.Headers) == 0 {
		return nil
	}
	h := make(http.Header, len(c.HTTP.Headers))
	for k, v := range c.HTTP.Headers {
		h.Set(k, v)
	}
	return h
}
