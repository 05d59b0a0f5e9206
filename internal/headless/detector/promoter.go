package detector

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-image-harvester/internal/catalog"
	"github.com/JakeFAU/catalog-image-harvester/internal/metrics"
)

// Promoter fetches pages with a cheap probe fetcher and re-fetches them with
// a headless renderer when the heuristic says the probe saw an empty shell.
type Promoter struct {
	probe    catalog.Fetcher
	headless catalog.Fetcher
	detector *Heuristic
	logger   *zap.Logger
}

// NewPromoter wires a probe and a headless fetcher behind one Fetcher.
func NewPromoter(probe, headless catalog.Fetcher, detector *Heuristic, logger *zap.Logger) *Promoter {
	if detector == nil {
		detector = NewHeuristic(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Promoter{
		probe:    probe,
		headless: headless,
		detector: detector,
		logger:   logger.Named("promoter"),
	}
}

// Fetch implements catalog.Fetcher. A failed headless render falls back to
// the probe response.
func (p *Promoter) Fetch(ctx context.Context, req catalog.FetchRequest) (catalog.FetchResponse, error) {
	resp, err := p.probe.Fetch(ctx, req)
	if err != nil {
		return catalog.FetchResponse{}, fmt.Errorf("probe fetch: %w", err)
	}
	if p.headless == nil || !p.detector.ShouldPromote(resp) {
		return resp, nil
	}

	rendered, err := p.headless.Fetch(ctx, req)
	if err != nil {
		p.logger.Warn("headless promotion failed", zap.String("url", req.URL), zap.Error(err))
		metrics.ObserveHeadlessPromotion(false)
		return resp, nil
	}
	p.logger.Debug("headless promotion applied", zap.String("url", req.URL))
	metrics.ObserveHeadlessPromotion(true)
	return rendered, nil
}
