package topology

import (
	"slices"

	"github.com/malbeclabs/latencymap/internal/latency"
)

// SynthesizeEdges derives one region-to-region sample for every unordered pair
// of regions that have a hub sample. Regions are paired in first-observed
// order, so the edge between A and B is always "A-B" when A was seen first.
func SynthesizeEdges(samples []latency.Sample, hub string, th latency.Thresholds) []latency.Sample {
	var regions []latency.Sample
	var seen []string
	for _, s := range samples {
		if s.Derived || s.Target != hub || s.Source == hub {
			continue
		}
		if slices.Contains(seen, s.Source) {
			continue
		}
		seen = append(seen, s.Source)
		regions = append(regions, s)
	}

	var edges []latency.Sample
	for i := 0; i < len(regions); i++ {
		for j := i + 1; j < len(regions); j++ {
			edges = append(edges, deriveEdge(regions[i], regions[j], th))
		}
	}
	return edges
}

func deriveEdge(a, b latency.Sample, th latency.Thresholds) latency.Sample {
	latencyMs := (a.LatencyMs + b.LatencyMs) / 2
	ts := a.Timestamp
	if b.Timestamp.After(ts) {
		ts = b.Timestamp
	}
	return latency.Sample{
		ID:            latency.SampleID(a.Source, b.Source),
		Source:        a.Source,
		Target:        b.Source,
		LatencyMs:     latencyMs,
		Timestamp:     ts,
		Quality:       latency.Classify(latencyMs, th),
		PacketLossPct: meanOfPresent(a.PacketLossPct, b.PacketLossPct),
		JitterMs:      meanOfPresent(a.JitterMs, b.JitterMs),
		Derived:       true,
	}
}

func meanOfPresent(a, b *float64) *float64 {
	switch {
	case a != nil && b != nil:
		v := (*a + *b) / 2
		return &v
	case a != nil:
		v := *a
		return &v
	case b != nil:
		v := *b
		return &v
	default:
		return nil
	}
}
