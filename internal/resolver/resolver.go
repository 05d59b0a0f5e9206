// Package resolver turns product records into page content, preferring the
// on-disk page cache and falling back to a supplier search when a record
// carries no usable URL.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-image-harvester/internal/catalog"
	"github.com/JakeFAU/catalog-image-harvester/internal/metrics"
)

// Cache is the subset of the page cache the resolver needs.
type Cache interface {
	Has(key string) bool
	Get(key string) (catalog.Page, error)
	Put(key string, page catalog.Page) error
}

// Config carries request decoration applied to every live fetch.
type Config struct {
	Headers http.Header
}

// Resolver implements catalog.PageResolver.
type Resolver struct {
	cache    Cache
	fetcher  catalog.Fetcher
	searcher catalog.Searcher
	limiter  catalog.RateLimiter
	clock    catalog.Clock
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Resolver. searcher and limiter may be nil.
func New(
	cache Cache,
	fetcher catalog.Fetcher,
	searcher catalog.Searcher,
	limiter catalog.RateLimiter,
	clock catalog.Clock,
	cfg Config,
	logger *zap.Logger,
) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		cache:    cache,
		fetcher:  fetcher,
		searcher: searcher,
		limiter:  limiter,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.Named("resolver"),
	}
}

// Resolve returns the page for record. Cached pages are returned without any
// network access. Unresolvable records yield an error wrapping
// catalog.ErrPageNotFound; fetch failures additionally wrap the
// *catalog.FetchError.
func (r *Resolver) Resolve(ctx context.Context, record catalog.ProductRecord) (catalog.Page, error) {
	key := catalog.SanitizeTitle(record.Title)
	log := r.logger.With(zap.String("sku", record.SKU), zap.String("title", key))

	if r.cache.Has(key) {
		page, err := r.cache.Get(key)
		if err == nil {
			metrics.ObservePage(metrics.SourceCache)
			log.Debug("page served from cache")
			return page, nil
		}
		log.Warn("cached page unusable, refetching", zap.Error(err))
	}

	target, err := r.target(ctx, record, log)
	if err != nil {
		return catalog.Page{}, err
	}

	if r.limiter != nil {
		if err := r.limiter.Wait(ctx, target); err != nil {
			return catalog.Page{}, fmt.Errorf("resolve %s: %w", record.SKU, err)
		}
	}

	resp, err := r.fetcher.Fetch(ctx, catalog.FetchRequest{URL: target, Headers: r.cfg.Headers})
	if err != nil {
		if ctx.Err() != nil {
			return catalog.Page{}, fmt.Errorf("resolve %s: %w", record.SKU, ctx.Err())
		}
		log.Warn("product page fetch failed", zap.String("url", target), zap.String("reason", reasonOf(err)))
		metrics.ObservePage(metrics.SourceNotFound)
		return catalog.Page{}, fmt.Errorf("%w: %w", catalog.ErrPageNotFound, err)
	}

	page := catalog.Page{
		URL:        resp.URL,
		StatusCode: resp.StatusCode,
		Headers:    resp.Headers,
		Body:       resp.Body,
		FetchedAt:  r.clock.Now(),
	}
	if page.URL == "" {
		page.URL = target
	}
	if err := r.cache.Put(key, page); err != nil {
		log.Warn("cache write failed", zap.Error(err))
	}
	metrics.ObservePage(metrics.SourceLive)
	log.Debug("page fetched", zap.String("url", page.URL), zap.Duration("duration", resp.Duration))
	return page, nil
}

// target picks the URL to fetch: the record's own URL when valid, else the
// search result. A search result that fails validation is discarded in
// favor of the original URL, which is then tried as-is.
func (r *Resolver) target(ctx context.Context, record catalog.ProductRecord, log *zap.Logger) (string, error) {
	if catalog.ValidURL(record.URL) {
		return record.URL, nil
	}
	if r.searcher == nil {
		return "", r.notFound(log, "no valid url and no search configured")
	}
	found, err := r.searcher.Search(ctx, record.SKU)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("search %s: %w", record.SKU, ctx.Err())
		}
		log.Warn("search failed", zap.Error(err))
		return "", r.notFound(log, "search failed")
	}
	if found == "" {
		return "", r.notFound(log, "search returned no product")
	}
	if catalog.ValidURL(found) {
		log.Debug("search resolved product url", zap.String("url", found))
		return found, nil
	}
	log.Warn("search result is not a valid url, trying original", zap.String("result", found))
	return record.URL, nil
}

func (r *Resolver) notFound(log *zap.Logger, why string) error {
	log.Info("product page not found", zap.String("reason", why))
	metrics.ObservePage(metrics.SourceNotFound)
	return fmt.Errorf("%w: %s", catalog.ErrPageNotFound, why)
}

func reasonOf(err error) string {
	var fetchErr *catalog.FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Reason()
	}
	return err.Error()
}
