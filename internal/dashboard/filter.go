package dashboard

import (
	"errors"
	"slices"
	"strings"

	"github.com/malbeclabs/latencymap/internal/latency"
	"github.com/malbeclabs/latencymap/internal/topology"
)

var ErrInvalidRange = errors.New("min latency must not exceed max latency")

// SampleFilter selects samples. Empty fields match everything.
type SampleFilter struct {
	Locations      []string
	Qualities      []latency.QualityBand
	MinLatencyMs   *float64
	MaxLatencyMs   *float64
	Providers      []string
	ExcludeDerived bool
}

func (f SampleFilter) Validate() error {
	for _, q := range f.Qualities {
		if _, err := latency.ParseQualityBand(string(q)); err != nil {
			return err
		}
	}
	if f.MinLatencyMs != nil && f.MaxLatencyMs != nil && *f.MinLatencyMs > *f.MaxLatencyMs {
		return ErrInvalidRange
	}
	return nil
}

type NodeFilter struct {
	Providers []string
	Kinds     []topology.NodeKind
}

// FilterSamples applies f to samples. Providers are matched through the nodes
// located in each endpoint's region.
func FilterSamples(samples []latency.Sample, nodes []topology.Node, f SampleFilter) ([]latency.Sample, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	providersByRegion := map[string][]string{}
	for _, n := range nodes {
		key := strings.ToUpper(n.Region)
		if !slices.Contains(providersByRegion[key], n.Provider) {
			providersByRegion[key] = append(providersByRegion[key], n.Provider)
		}
	}
	hasProvider := func(code string) bool {
		for _, p := range providersByRegion[strings.ToUpper(code)] {
			if containsFold(f.Providers, p) {
				return true
			}
		}
		return false
	}

	out := []latency.Sample{}
	for _, s := range samples {
		if f.ExcludeDerived && s.Derived {
			continue
		}
		if len(f.Locations) > 0 && !containsFold(f.Locations, s.Source) && !containsFold(f.Locations, s.Target) {
			continue
		}
		if len(f.Qualities) > 0 && !slices.Contains(f.Qualities, s.Quality) {
			continue
		}
		if f.MinLatencyMs != nil && s.LatencyMs < *f.MinLatencyMs {
			continue
		}
		if f.MaxLatencyMs != nil && s.LatencyMs > *f.MaxLatencyMs {
			continue
		}
		if len(f.Providers) > 0 && !hasProvider(s.Source) && !hasProvider(s.Target) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func FilterNodes(nodes []topology.Node, f NodeFilter) []topology.Node {
	out := []topology.Node{}
	for _, n := range nodes {
		if len(f.Providers) > 0 && !containsFold(f.Providers, n.Provider) {
			continue
		}
		if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, n.Kind) {
			continue
		}
		out = append(out, n)
	}
	return out
}

func containsFold(list []string, s string) bool {
	return slices.ContainsFunc(list, func(v string) bool { return strings.EqualFold(v, s) })
}
