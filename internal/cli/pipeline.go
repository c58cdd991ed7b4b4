package cli

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/malbeclabs/latencymap/internal/config"
	"github.com/malbeclabs/latencymap/internal/dashboard"
	"github.com/malbeclabs/latencymap/internal/latency"
	"github.com/malbeclabs/latencymap/internal/region"
	"github.com/malbeclabs/latencymap/internal/topology"
)

// pipeline is the wired refresh chain: latency client, region resolver,
// topology synthesizer and the controller driving them.
type pipeline struct {
	client     *latency.Client
	controller *dashboard.Controller
}

func newPipeline(log *slog.Logger, cfg *config.Config, httpClient *http.Client) (*pipeline, error) {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	client, err := latency.NewClient(&latency.ClientConfig{
		Logger:           log,
		HTTPClient:       httpClient,
		LatencyURL:       cfg.Proxy.LatencyURL,
		Hub:              cfg.Hub.Code,
		Thresholds:       latency.Thresholds(cfg.QualityThresholds),
		RequestTimeout:   cfg.Proxy.RequestTimeout,
		FetchConcurrency: cfg.FetchConcurrency,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create latency client: %w", err)
	}

	resolver, err := region.NewResolver(&region.ResolverConfig{
		Logger:         log,
		HTTPClient:     httpClient,
		MetadataURL:    cfg.Proxy.MetadataURL,
		Hub:            cfg.Hub,
		Fallback:       cfg.FallbackRegions,
		RequestTimeout: cfg.Proxy.RequestTimeout,
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create region resolver: %w", err)
	}

	synth, err := topology.NewSynthesizer(&topology.SynthesizerConfig{
		Logger:   log,
		Resolver: resolver,
		Config:   cfg,
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create topology synthesizer: %w", err)
	}

	controller, err := dashboard.NewController(&dashboard.ControllerConfig{
		Logger:          log,
		Fetcher:         client,
		Synthesizer:     synth,
		Locations:       cfg.Locations,
		RefreshInterval: cfg.RefreshInterval,
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create controller: %w", err)
	}

	return &pipeline{client: client, controller: controller}, nil
}

func (p *pipeline) Close() {
	p.client.Close()
}
