package supplier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/JakeFAU/catalog-image-harvester/internal/catalog"
)

// Pick strategies for searches returning several products.
const (
	PickMention = "mention"
	PickFirst   = "first"
)

// SearchConfig describes a JSON product search endpoint.
type SearchConfig struct {
	// Endpoint contains "{sku}", replaced by the query-escaped SKU.
	Endpoint string `mapstructure:"endpoint"`
	// ResultsField is the dotted path of the product array in the response.
	ResultsField string `mapstructure:"results_field"`
	// URLField is the dotted path of the page URL inside each product.
	URLField string `mapstructure:"url_field"`
	// BaseURL is prepended to the product URL.
	BaseURL string `mapstructure:"base_url"`
	// Pick chooses among several products: PickMention (default) takes the
	// first whose JSON mentions the SKU, PickFirst takes the first.
	Pick string `mapstructure:"pick"`
}

// JSONSearch implements catalog.Searcher against a JSON search API.
type JSONSearch struct {
	cfg     SearchConfig
	fetcher catalog.Fetcher
}

// NewJSONSearch validates cfg.
func NewJSONSearch(cfg SearchConfig, fetcher catalog.Fetcher) (*JSONSearch, error) {
	if !strings.Contains(cfg.Endpoint, "{sku}") {
		return nil, errors.New("search endpoint must contain {sku}")
	}
	if cfg.ResultsField == "" || cfg.URLField == "" {
		return nil, errors.New("search results_field and url_field are required")
	}
	switch cfg.Pick {
	case "":
		cfg.Pick = PickMention
	case PickMention, PickFirst:
	default:
		return nil, fmt.Errorf("search pick must be %q or %q", PickMention, PickFirst)
	}
	if fetcher == nil {
		return nil, errors.New("search fetcher is required")
	}
	return &JSONSearch{cfg: cfg, fetcher: fetcher}, nil
}

// Search returns the product page URL for sku, or "" when no product matches.
func (s *JSONSearch) Search(ctx context.Context, sku string) (string, error) {
	endpoint := strings.ReplaceAll(s.cfg.Endpoint, "{sku}", url.QueryEscape(sku))
	resp, err := s.fetcher.Fetch(ctx, catalog.FetchRequest{URL: endpoint})
	if err != nil {
		return "", fmt.Errorf("search request: %w", err)
	}

	var payload any
	dec := json.NewDecoder(bytes.NewReader(resp.Body))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return "", fmt.Errorf("decode search response: %w", err)
	}
	results, _ := lookup(payload, s.cfg.ResultsField).([]any)

	product, ok := s.pick(results, sku)
	if !ok {
		return "", nil
	}
	path, _ := lookup(product, s.cfg.URLField).(string)
	if path == "" {
		return "", nil
	}
	return s.cfg.BaseURL + path, nil
}

func (s *JSONSearch) pick(results []any, sku string) (any, bool) {
	switch {
	case len(results) == 0:
		return nil, false
	case len(results) == 1 || s.cfg.Pick == PickFirst:
		return results[0], true
	}
	for _, product := range results {
		raw, err := json.Marshal(product)
		if err == nil && bytes.Contains(raw, []byte(sku)) {
			return product, true
		}
	}
	return nil, false
}

// lookup walks a dotted path through decoded JSON objects.
func lookup(v any, path string) any {
	for _, key := range strings.Split(path, ".") {
		obj, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		v = obj[key]
	}
	return v
}
