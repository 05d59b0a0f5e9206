// Package collyfetcher implements catalog.Fetcher using gocolly.
package collyfetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/catalog-image-harvester/internal/catalog"
)

// DefaultTimeout bounds every request when Config.Timeout is zero.
const DefaultTimeout = 10 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// MaxBodySize caps response bodies in bytes. Zero means unlimited; a
	// larger body fails the fetch instead of being truncated.
	MaxBodySize int
}

// ErrBodyTooLarge marks responses larger than Config.MaxBodySize.
var ErrBodyTooLarge = errors.New("response body exceeds limit")

// Fetcher implements catalog.Fetcher using the Colly collector. A single base
// collector carries all shared settings; each Fetch works on a clone so hooks
// never leak between concurrent requests.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
	transport     *robotsAwareTransport
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Fetcher.
func New(cfg Config) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = !cfg.RespectRobots
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	// Read one byte past the limit so an oversized body is detectable.
	c.MaxBodySize = 0
	if cfg.MaxBodySize > 0 {
		c.MaxBodySize = cfg.MaxBodySize + 1
	}
	// Status codes are classified in OnResponse so every 2xx counts as success.
	c.ParseHTTPErrorResponse = true
	// Clones share the backend, so transport and timeout are set once here.
	transport := &robotsAwareTransport{base: newHTTPTransport()}
	c.WithTransport(transport)
	c.SetRequestTimeout(cfg.Timeout)

	return &Fetcher{
		cfg:           cfg,
		baseCollector: c,
		transport:     transport,
	}
}

// RobotsFallbackHosts lists hosts whose robots.txt could not be fetched and
// was treated as allow-all.
func (f *Fetcher) RobotsFallbackHosts() []string {
	return f.transport.fallbackHosts()
}

// Fetch executes a single HTTP GET using Colly. Error statuses and timeouts
// come back as *catalog.FetchError.
func (f *Fetcher) Fetch(ctx context.Context, request catalog.FetchRequest) (catalog.FetchResponse, error) {
	var (
		result   catalog.FetchResponse
		fetchErr *catalog.FetchError
	)
	start := time.Now()
	collector := f.baseCollector.Clone()
	if f.cfg.RespectRobots && exemptFromRobots(request.URL) {
		collector.IgnoreRobotsTxt = true
	}
	f.configureCollectorHooks(collector, request, start, &result, &fetchErr)

	if err := f.runCollector(ctx, collector, request.URL, &fetchErr); err != nil {
		return catalog.FetchResponse{}, err
	}
	return result, nil
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request catalog.FetchRequest,
	start time.Time,
	result *catalog.FetchResponse,
	fetchErr **catalog.FetchError,
) {
	hooks.OnRequest(func(r *colly.Request) {
		copyHeaders(request, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		if r.StatusCode < 200 || r.StatusCode >= 300 {
			*fetchErr = classify(request.URL, r, errors.New(http.StatusText(r.StatusCode)))
			return
		}
		if limit := f.cfg.MaxBodySize; limit > 0 && len(r.Body) > limit {
			*fetchErr = &catalog.FetchError{
				URL: r.Request.URL.String(),
				Err: fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, limit),
			}
			return
		}
		*result = catalog.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		*fetchErr = classify(request.URL, r, err)
	})
}

func (f *Fetcher) runCollector(
	ctx context.Context,
	collector *colly.Collector,
	url string,
	fetchErr **catalog.FetchError,
) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return *fetchErr
		}
		if err != nil {
			return &catalog.FetchError{URL: url, TimedOut: isTimeout(err), Err: err}
		}
		return nil
	}
}

// classify converts a failed response or transport error into a FetchError.
func classify(url string, r *colly.Response, err error) *catalog.FetchError {
	fe := &catalog.FetchError{URL: url, Err: err}
	if r != nil && r.StatusCode != 0 {
		fe.StatusCode = r.StatusCode
		fe.Status = http.StatusText(r.StatusCode)
		if r.Request != nil && r.Request.URL != nil {
			fe.URL = r.Request.URL.String()
		}
		return fe
	}
	fe.TimedOut = isTimeout(err)
	return fe
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func copyHeaders(request catalog.FetchRequest, r *colly.Request) {
	if request.Headers == nil {
		return
	}
	for key, values := range request.Headers {
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
	}
}
