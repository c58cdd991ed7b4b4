package dashboard

import (
	"time"

	"github.com/malbeclabs/latencymap/internal/config"
	"github.com/malbeclabs/latencymap/internal/latency"
	"github.com/malbeclabs/latencymap/internal/topology"
)

type MetricsSnapshot struct {
	TotalCount            int     `json:"total_count"`
	ActiveConnectionCount int     `json:"active_connection_count"`
	AverageLatencyMs      float64 `json:"average_latency_ms"`
	UptimePct             float64 `json:"uptime_pct"`
	LastUpdatedMs         int64   `json:"last_updated_ms"`
}

// ComputeMetrics derives the dashboard metrics from scratch. A sample counts as
// an active connection when its latency is positive.
func ComputeMetrics(samples []latency.Sample, nodes []topology.Node, now time.Time) MetricsSnapshot {
	m := MetricsSnapshot{
		TotalCount:    len(nodes),
		LastUpdatedMs: now.UnixMilli(),
	}

	var sum float64
	for _, s := range samples {
		if s.LatencyMs > 0 {
			m.ActiveConnectionCount++
			sum += s.LatencyMs
		}
	}
	if m.ActiveConnectionCount > 0 {
		m.AverageLatencyMs = sum / float64(m.ActiveConnectionCount)
	}

	if len(nodes) > 0 {
		online := 0
		for _, n := range nodes {
			if n.Status == config.StatusOnline {
				online++
			}
		}
		m.UptimePct = float64(online) / float64(len(nodes)) * 100
	}
	return m
}
