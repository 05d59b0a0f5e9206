package resolver

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-image-harvester/internal/catalog"
	"github.com/JakeFAU/catalog-image-harvester/internal/hash/sha256"
	"github.com/JakeFAU/catalog-image-harvester/internal/pagecache"
)

type stubFetcher struct {
	mu    sync.Mutex
	urls  []string
	pages map[string]string
}

func (f *stubFetcher) Fetch(_ context.Context, req catalog.FetchRequest) (catalog.FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.urls = append(f.urls, req.URL)
	body, ok := f.pages[req.URL]
	if !ok {
		return catalog.FetchResponse{}, &catalog.FetchError{URL: req.URL, StatusCode: 404, Status: "Not Found"}
	}
	return catalog.FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: []byte(body)}, nil
}

func (f *stubFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.urls)
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type countingLimiter struct{ waits int }

func (l *countingLimiter) Wait(_ context.Context, _ string) error {
	l.waits++
	return nil
}

func newCache(t *testing.T) *pagecache.Store {
	t.Helper()
	store, err := pagecache.New(afero.NewMemMapFs(), "/.cache", sha256.New())
	require.NoError(t, err)
	return store
}

func newResolver(cache Cache, fetcher catalog.Fetcher, searcher catalog.Searcher) *Resolver {
	return New(cache, fetcher, searcher, nil, fixedClock{now: time.Unix(1700000000, 0)}, Config{}, zap.NewNop())
}

func TestResolveCachedPageIssuesNoFetch(t *testing.T) {
	t.Parallel()

	cache := newCache(t)
	require.NoError(t, cache.Put("Oak---Table", catalog.Page{URL: "https://shop.test/oak", Body: []byte("cached")}))
	fetcher := &stubFetcher{}

	page, err := newResolver(cache, fetcher, nil).Resolve(context.Background(), catalog.ProductRecord{
		Title: "Oak/Table",
		SKU:   "OAK1",
		URL:   "https://shop.test/oak",
	})
	require.NoError(t, err)
	assert.True(t, page.FromCache)
	assert.Equal(t, "cached", string(page.Body))
	assert.Zero(t, fetcher.calls())
}

func TestResolveNonUTF8PageServedFromCacheOnNextRun(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	body := "<html><h1>\xc1\xe8\xde\xed\xe1</h1></html>"
	record := catalog.ProductRecord{Title: "Greek", SKU: "GR1", URL: "https://estia.test/p/gr1"}

	firstCache, err := pagecache.New(fs, "/.cache", sha256.New())
	require.NoError(t, err)
	firstFetcher := &stubFetcher{pages: map[string]string{record.URL: body}}
	_, err = newResolver(firstCache, firstFetcher, nil).Resolve(context.Background(), record)
	require.NoError(t, err)
	require.Equal(t, 1, firstFetcher.calls())

	secondCache, err := pagecache.New(fs, "/.cache", sha256.New())
	require.NoError(t, err)
	secondFetcher := &stubFetcher{}
	page, err := newResolver(secondCache, secondFetcher, nil).Resolve(context.Background(), record)
	require.NoError(t, err)
	assert.True(t, page.FromCache)
	assert.Equal(t, []byte(body), page.Body)
	assert.Zero(t, secondFetcher.calls())
}

func TestResolveLiveFetchPopulatesCache(t *testing.T) {
	t.Parallel()

	cache := newCache(t)
	fetcher := &stubFetcher{pages: map[string]string{"https://shop.test/lamp": "<html>lamp</html>"}}
	limiter := &countingLimiter{}
	r := New(cache, fetcher, nil, limiter, fixedClock{now: time.Unix(1700000000, 0)}, Config{}, nil)
	record := catalog.ProductRecord{Title: "Lamp", SKU: "L1", URL: "https://shop.test/lamp"}

	page, err := r.Resolve(context.Background(), record)
	require.NoError(t, err)
	assert.False(t, page.FromCache)
	assert.Equal(t, "https://shop.test/lamp", page.URL)
	assert.True(t, cache.Has("Lamp"))
	assert.Equal(t, 1, limiter.waits)

	again, err := r.Resolve(context.Background(), record)
	require.NoError(t, err)
	assert.True(t, again.FromCache)
	assert.Equal(t, 1, fetcher.calls())
}

func TestResolveFetchFailureIsNotFoundAndNotCached(t *testing.T) {
	t.Parallel()

	cache := newCache(t)
	fetcher := &stubFetcher{}

	_, err := newResolver(cache, fetcher, nil).Resolve(context.Background(), catalog.ProductRecord{
		Title: "Gone", SKU: "G1", URL: "https://shop.test/gone",
	})
	require.ErrorIs(t, err, catalog.ErrPageNotFound)
	var fetchErr *catalog.FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, 404, fetchErr.StatusCode)
	assert.False(t, cache.Has("Gone"))
}

func TestResolveSearchFallback(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		recordURL  string
		search     catalog.SearchFunc
		wantErr    error
		wantFetch  []string
		wantSearch bool
	}{
		{
			name:      "search not configured",
			recordURL: "nan",
			wantErr:   catalog.ErrPageNotFound,
		},
		{
			name:      "search finds valid url",
			recordURL: "",
			search: func(_ context.Context, sku string) (string, error) {
				return "https://shop.test/p/" + sku, nil
			},
			wantFetch:  []string{"https://shop.test/p/S1"},
			wantSearch: true,
		},
		{
			name:      "search finds nothing",
			recordURL: "not a url",
			search: func(context.Context, string) (string, error) {
				return "", nil
			},
			wantErr:    catalog.ErrPageNotFound,
			wantSearch: true,
		},
		{
			name:      "search errors",
			recordURL: "not a url",
			search: func(context.Context, string) (string, error) {
				return "", errors.New("search backend down")
			},
			wantErr:    catalog.ErrPageNotFound,
			wantSearch: true,
		},
		{
			name:      "invalid search result keeps original url",
			recordURL: "shop.test/p/S1",
			search: func(context.Context, string) (string, error) {
				return "/relative/only", nil
			},
			wantErr:    catalog.ErrPageNotFound,
			wantFetch:  []string{"shop.test/p/S1"},
			wantSearch: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fetcher := &stubFetcher{pages: map[string]string{"https://shop.test/p/S1": "found"}}
			searched := false
			var searcher catalog.Searcher
			if tt.search != nil {
				searcher = catalog.SearchFunc(func(ctx context.Context, sku string) (string, error) {
					searched = true
					return tt.search(ctx, sku)
				})
			}

			page, err := newResolver(newCache(t), fetcher, searcher).Resolve(context.Background(), catalog.ProductRecord{
				Title: "Chair", SKU: "S1", URL: tt.recordURL,
			})
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
				assert.Equal(t, "found", string(page.Body))
			}
			assert.Equal(t, tt.wantSearch, searched)
			assert.Equal(t, tt.wantFetch, fetcher.urls)
		})
	}
}

func TestResolveCorruptCacheEntryRefetches(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/.cache", 0o750))
	require.NoError(t, afero.WriteFile(fs, "/.cache/Sofa", []byte("garbage"), 0o600))
	cache, err := pagecache.New(fs, "/.cache", sha256.New())
	require.NoError(t, err)
	fetcher := &stubFetcher{pages: map[string]string{"https://shop.test/sofa": "fresh"}}

	page, err := newResolver(cache, fetcher, nil).Resolve(context.Background(), catalog.ProductRecord{
		Title: "Sofa", SKU: "SF", URL: "https://shop.test/sofa",
	})
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(page.Body))
	assert.Equal(t, 1, fetcher.calls())

	cached, err := cache.Get("Sofa")
	require.NoError(t, err)
	assert.Equal(t, "fresh", string(cached.Body))
}

func TestResolveCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fetcher := catalogFetcherFunc(func(ctx context.Context, _ catalog.FetchRequest) (catalog.FetchResponse, error) {
		return catalog.FetchResponse{}, ctx.Err()
	})

	_, err := newResolver(newCache(t), fetcher, nil).Resolve(ctx, catalog.ProductRecord{
		Title: "X", SKU: "X", URL: "https://shop.test/x",
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, catalog.ErrPageNotFound)
}

type catalogFetcherFunc func(context.Context, catalog.FetchRequest) (catalog.FetchResponse, error)

func (f catalogFetcherFunc) Fetch(ctx context.Context, req catalog.FetchRequest) (catalog.FetchResponse, error) {
	return f(ctx, req)
}
