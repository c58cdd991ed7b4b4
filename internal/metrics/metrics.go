package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	Namespace = "latencymap"

	// Labels.
	LabelVersion  = "version"
	LabelCommit   = "commit"
	LabelDate     = "date"
	LabelStatus   = "status"
	LabelLocation = "location"
	LabelKind     = "kind"
	LabelOutcome  = "outcome"

	// Refresh statuses.
	RefreshStatusReady     = "ready"
	RefreshStatusError     = "error"
	RefreshStatusDiscarded = "discarded"

	// Location fetch failure kinds.
	FetchKindRealtime   = "realtime"
	FetchKindHistorical = "historical"

	// Region resolution outcomes.
	ResolveOutcomeHub      = "hub"
	ResolveOutcomeRemote   = "remote"
	ResolveOutcomeFallback = "fallback"
	ResolveOutcomeNotFound = "not_found"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: Namespace + "_build_info",
			Help: "Build information of the latency map service",
		},
		[]string{LabelVersion, LabelCommit, LabelDate},
	)

	RefreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: Namespace + "_refreshes_total",
			Help: "Total number of refresh cycles by final status",
		},
		[]string{LabelStatus},
	)

	RefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    Namespace + "_refresh_duration_seconds",
			Help:    "Duration of refresh cycles",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)

	RefreshesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: Namespace + "_refreshes_in_flight",
			Help: "Number of refresh cycles currently running",
		},
	)

	LocationFetchFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: Namespace + "_location_fetch_failures_total",
			Help: "Number of per-location fetch failures that were skipped",
		},
		[]string{LabelLocation, LabelKind},
	)

	RegionResolutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: Namespace + "_region_resolutions_total",
			Help: "Number of region metadata resolutions by outcome",
		},
		[]string{LabelOutcome},
	)

	SnapshotSamples = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: Namespace + "_snapshot_samples",
			Help: "Number of latency samples in the current snapshot",
		},
	)

	SnapshotAverageLatency = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: Namespace + "_snapshot_average_latency_ms",
			Help: "Average latency across active connections in the current snapshot",
		},
	)

	SnapshotUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: Namespace + "_snapshot_uptime_pct",
			Help: "Percentage of online nodes in the current snapshot",
		},
	)

	StreamClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: Namespace + "_stream_clients",
			Help: "Number of connected websocket stream clients",
		},
	)
)
