package dashboard

import (
	"testing"
	"time"

	"github.com/malbeclabs/latencymap/internal/config"
	"github.com/malbeclabs/latencymap/internal/latency"
	"github.com/malbeclabs/latencymap/internal/topology"
	"github.com/stretchr/testify/require"
)

func TestDashboard_ComputeMetrics(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	samples := []latency.Sample{
		{LatencyMs: 40},
		{LatencyMs: 70},
		{LatencyMs: 0},
		{LatencyMs: 55, Derived: true},
	}
	nodes := []topology.Node{
		{ID: "a", Status: config.StatusOnline},
		{ID: "b", Status: config.StatusOnline},
		{ID: "c", Status: config.StatusMaintenance},
		{ID: "d", Status: config.StatusOffline},
	}

	m := ComputeMetrics(samples, nodes, now)
	require.Equal(t, 4, m.TotalCount)
	require.Equal(t, 3, m.ActiveConnectionCount)
	require.InDelta(t, 55.0, m.AverageLatencyMs, 1e-9)
	require.InDelta(t, 50.0, m.UptimePct, 1e-9)
	require.Equal(t, now.UnixMilli(), m.LastUpdatedMs)
}

func TestDashboard_ComputeMetrics_Empty(t *testing.T) {
	t.Parallel()

	m := ComputeMetrics(nil, nil, time.Unix(0, 0))
	require.Zero(t, m.TotalCount)
	require.Zero(t, m.ActiveConnectionCount)
	require.Zero(t, m.AverageLatencyMs)
	require.Zero(t, m.UptimePct)
}
