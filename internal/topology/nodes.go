package topology

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/malbeclabs/latencymap/internal/config"
	"github.com/malbeclabs/latencymap/internal/geo"
	"github.com/malbeclabs/latencymap/internal/latency"
	"github.com/malbeclabs/latencymap/internal/region"
)

type NodeKind string

const (
	NodeKindRegion   NodeKind = "region"
	NodeKindExchange NodeKind = "exchange"
)

// Node is a point rendered on the globe.
type Node struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Kind      NodeKind `json:"kind"`
	Region    string   `json:"region"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	Provider  string   `json:"provider"`
	Color     string   `json:"color"`
	Status    string   `json:"status"`
	Position  geo.Vec3 `json:"position"`
}

type SynthesizerConfig struct {
	Logger   *slog.Logger
	Resolver region.MetadataResolver
	Config   *config.Config
}

func (c *SynthesizerConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Resolver == nil {
		return errors.New("resolver is required")
	}
	if c.Config == nil {
		return errors.New("config is required")
	}
	return nil
}

type Synthesizer struct {
	log *slog.Logger
	cfg *SynthesizerConfig
}

func NewSynthesizer(cfg *SynthesizerConfig) (*Synthesizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Synthesizer{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// Result is the topology derived from one batch of hub samples.
type Result struct {
	Edges []latency.Sample
	Nodes []Node
}

// Synthesize derives edges and region nodes from hub samples using a single
// pass cache, and annotates each edge with the distance between its endpoints
// and its arc control point when both can be located.
func (s *Synthesizer) Synthesize(ctx context.Context, samples []latency.Sample) Result {
	cache := region.NewPassCache(s.cfg.Resolver)
	defer cache.Close()

	edges := SynthesizeEdges(samples, s.cfg.Config.Hub.Code, s.thresholds())
	nodes := s.synthesizeNodes(ctx, cache, samples)

	for i := range edges {
		a, errA := cache.Resolve(ctx, edges[i].Source)
		b, errB := cache.Resolve(ctx, edges[i].Target)
		if errA != nil || errB != nil {
			s.log.Debug("topology: edge endpoints not located", "edge", edges[i].ID, "error", errors.Join(errA, errB))
			continue
		}
		d := geo.HaversineDistance(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
		edges[i].DistanceKm = &d
		midLat, midLon := geo.Midpoint(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
		ctrl := geo.ToUnitSphere(midLat, midLon)
		edges[i].ArcControl = &ctrl
	}

	return Result{Edges: edges, Nodes: nodes}
}

// SynthesizeNodes emits a region node for every observed code that is neither
// the hub nor covered by a configured exchange.
func (s *Synthesizer) SynthesizeNodes(ctx context.Context, samples []latency.Sample) []Node {
	cache := region.NewPassCache(s.cfg.Resolver)
	defer cache.Close()
	return s.synthesizeNodes(ctx, cache, samples)
}

func (s *Synthesizer) synthesizeNodes(ctx context.Context, cache *region.PassCache, samples []latency.Sample) []Node {
	known := s.cfg.Config.KnownExchangeRegions()

	var codes []string
	for _, sample := range samples {
		for _, code := range []string{sample.Source, sample.Target} {
			if code == "" || s.cfg.Config.IsHub(code) || slices.Contains(known, code) || slices.Contains(codes, code) {
				continue
			}
			codes = append(codes, code)
		}
	}

	nodes := make([]Node, 0, len(codes))
	for _, code := range codes {
		md, err := cache.Resolve(ctx, code)
		if err != nil {
			s.log.Warn("topology: dropping region without metadata", "code", code, "error", err)
			continue
		}
		provider := s.cfg.Config.ProviderForRegion(code)
		nodes = append(nodes, Node{
			ID:        code,
			Name:      md.Name,
			Kind:      NodeKindRegion,
			Region:    code,
			Latitude:  md.Latitude,
			Longitude: md.Longitude,
			Provider:  provider,
			Color:     s.cfg.Config.ProviderColor(provider),
			Status:    config.StatusOnline,
			Position:  geo.ToUnitSphere(md.Latitude, md.Longitude),
		})
	}
	return nodes
}

// KnownNodes returns the configured exchanges as nodes.
func (s *Synthesizer) KnownNodes() []Node {
	nodes := make([]Node, 0, len(s.cfg.Config.Exchanges))
	for _, ex := range s.cfg.Config.Exchanges {
		nodes = append(nodes, Node{
			ID:        ex.ID,
			Name:      ex.Name,
			Kind:      NodeKindExchange,
			Region:    ex.Region,
			Latitude:  ex.Latitude,
			Longitude: ex.Longitude,
			Provider:  ex.Provider,
			Color:     s.cfg.Config.ProviderColor(ex.Provider),
			Status:    ex.Status,
			Position:  geo.ToUnitSphere(ex.Latitude, ex.Longitude),
		})
	}
	return nodes
}

func (s *Synthesizer) thresholds() latency.Thresholds {
	return latency.Thresholds(s.cfg.Config.QualityThresholds)
}
