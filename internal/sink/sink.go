package sink

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strconv"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	influxdb2api "github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/malbeclabs/latencymap/internal/dashboard"
)

type Measurement string

const (
	MeasurementExchangeLatency  Measurement = "exchange_latency"
	MeasurementDashboardMetrics Measurement = "dashboard_metrics"
)

type InfluxConfig struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// InfluxConfigFromEnv reads INFLUX_URL, INFLUX_TOKEN, INFLUX_ORG and
// INFLUX_BUCKET.
func InfluxConfigFromEnv() InfluxConfig {
	return InfluxConfig{
		URL:    os.Getenv("INFLUX_URL"),
		Token:  os.Getenv("INFLUX_TOKEN"),
		Org:    os.Getenv("INFLUX_ORG"),
		Bucket: os.Getenv("INFLUX_BUCKET"),
	}
}

func (c InfluxConfig) Enabled() bool {
	return c.URL != "" && c.Token != "" && c.Org != "" && c.Bucket != ""
}

// NewInfluxWriteAPI returns a non-blocking write API and a function that
// flushes pending points and closes the client.
func NewInfluxWriteAPI(cfg InfluxConfig) (influxdb2api.WriteAPI, func()) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)
	api := client.WriteAPI(cfg.Org, cfg.Bucket)
	return api, func() {
		api.Flush()
		client.Close()
	}
}

// Sink writes committed ready snapshots to InfluxDB.
type Sink struct {
	log *slog.Logger
	api influxdb2api.WriteAPI
}

func New(log *slog.Logger, api influxdb2api.WriteAPI) (*Sink, error) {
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if api == nil {
		return nil, errors.New("influx write api is required")
	}
	return &Sink{log: log, api: api}, nil
}

// Run records every snapshot received until updates is closed or ctx is done.
func (s *Sink) Run(ctx context.Context, updates <-chan dashboard.Snapshot) {
	errCh := s.api.Errors()
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errCh:
			s.log.Warn("sink: influx write failed", "error", err)
		case snap, ok := <-updates:
			if !ok {
				return
			}
			s.Record(snap)
		}
	}
}

// Record writes one point per sample and one metrics point. Snapshots that are
// not ready are skipped.
func (s *Sink) Record(snap dashboard.Snapshot) {
	if snap.Status != dashboard.StatusReady {
		return
	}

	for _, sample := range snap.Samples {
		tags := map[string]string{
			"source":  sample.Source,
			"target":  sample.Target,
			"quality": string(sample.Quality),
			"derived": strconv.FormatBool(sample.Derived),
		}
		fields := map[string]any{
			"latency_ms": sample.LatencyMs,
		}
		if sample.PacketLossPct != nil {
			fields["packet_loss_pct"] = *sample.PacketLossPct
		}
		if sample.JitterMs != nil {
			fields["jitter_ms"] = *sample.JitterMs
		}
		if sample.DistanceKm != nil {
			fields["distance_km"] = *sample.DistanceKm
		}
		s.api.WritePoint(write.NewPoint(string(MeasurementExchangeLatency), tags, fields, sample.Timestamp))
	}

	m := snap.Metrics
	s.api.WritePoint(write.NewPoint(string(MeasurementDashboardMetrics),
		map[string]string{"cycle_id": snap.CycleID},
		map[string]any{
			"total_count":             m.TotalCount,
			"active_connection_count": m.ActiveConnectionCount,
			"average_latency_ms":      m.AverageLatencyMs,
			"uptime_pct":              m.UptimePct,
		},
		snap.LastUpdated,
	))
	s.log.Debug("sink: recorded snapshot", "cycle_id", snap.CycleID, "samples", len(snap.Samples))
}
