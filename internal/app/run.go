package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-image-harvester/internal/api"
	"github.com/JakeFAU/catalog-image-harvester/internal/config"
	"github.com/JakeFAU/catalog-image-harvester/internal/ingest"
	"github.com/JakeFAU/catalog-image-harvester/internal/pipeline"
)

// RunOptions tune a single harvest.
type RunOptions struct {
	// InputPath overrides input.path.
	InputPath  string
	FailedOnly bool
	LinksOnly  bool
}

// Run loads the input and executes the pipeline. While it runs, the status
// server listens on metrics.listen_addr when configured.
func (a *App) Run(ctx context.Context, opts RunOptions) (pipeline.Report, error) {
	in, err := a.loadInput(opts.InputPath)
	if err != nil {
		return pipeline.Report{RunID: a.runID}, err
	}

	serverCtx, stopServer := context.WithCancel(ctx)
	var wg sync.WaitGroup
	if addr := a.cfg.Metrics.ListenAddr; addr != "" {
		server := api.NewServer(a.status, a.logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := server.ListenAndServe(serverCtx, addr); err != nil {
				a.logger.Error("status server error", zap.Error(err))
			}
		}()
	}
	defer func() {
		stopServer()
		wg.Wait()
	}()

	report, err := a.pipeline.Run(ctx, in, pipeline.Options{
		RunID:      a.runID,
		FailedOnly: opts.FailedOnly,
		LinksOnly:  opts.LinksOnly,
	})
	if hosts := a.http.RobotsFallbackHosts(); len(hosts) > 0 {
		report.RobotsFallbackHosts = hosts
		a.logger.Warn("robots.txt unreachable, crawled as allow-all", zap.Strings("hosts", hosts))
	}
	return report, err
}

func (a *App) loadInput(override string) (pipeline.Input, error) {
	path := override
	if path == "" {
		path = a.cfg.Input.Path
	}
	if path == "" {
		found, err := ingest.Discover(a.fs, a.cfg.WorkDir)
		if err != nil {
			return pipeline.Input{}, fmt.Errorf("discover input: %w", err)
		}
		path = found
	}
	f, err := a.fs.Open(path)
	if err != nil {
		return pipeline.Input{}, fmt.Errorf("open input: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			a.logger.Warn("close input", zap.Error(cerr))
		}
	}()

	log := a.logger.With(zap.String("input", path))
	switch a.cfg.Input.Format {
	case config.FormatXMLLinks:
		links, err := ingest.ReadXMLLinks(f, a.cfg.Input.XML)
		if err != nil {
			return pipeline.Input{}, fmt.Errorf("read link feed: %w", err)
		}
		log.Info("link feed loaded", zap.Int("links", len(links)))
		return pipeline.Input{Links: links}, nil
	case config.FormatXML:
		records, err := ingest.ReadXML(f, a.cfg.Input.XML)
		if err != nil {
			return pipeline.Input{}, fmt.Errorf("read xml feed: %w", err)
		}
		log.Info("xml feed loaded", zap.Int("records", len(records)))
		return pipeline.Input{Records: records}, nil
	default:
		records, err := ingest.ReadCSV(f, a.cfg.Input.Columns)
		if err != nil {
			return pipeline.Input{}, fmt.Errorf("read csv: %w", err)
		}
		log.Info("worksheet loaded", zap.Int("records", len(records)))
		return pipeline.Input{Records: records}, nil
	}
}

// Close releases every resource Build acquired. Errors are logged.
func (a *App) Close(ctx context.Context) {
	if a.hub != nil {
		if err := a.hub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.results != nil {
		a.results.Close()
	}
	if a.gcs != nil {
		if err := a.gcs.Close(); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
}
