package server

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/malbeclabs/latencymap/internal/config"
	"github.com/malbeclabs/latencymap/internal/dashboard"
	"github.com/malbeclabs/latencymap/internal/latency"
	"github.com/malbeclabs/latencymap/internal/stats"
	"github.com/malbeclabs/latencymap/internal/topology"
)

type MetricsResponse struct {
	Status      dashboard.Status          `json:"status"`
	Loading     bool                      `json:"loading"`
	Error       string                    `json:"error,omitempty"`
	Metrics     dashboard.MetricsSnapshot `json:"metrics"`
	LastUpdated time.Time                 `json:"last_updated"`
}

type LocationsResponse struct {
	Hub       config.Region     `json:"hub"`
	Locations []string          `json:"locations"`
	Exchanges []config.Exchange `json:"exchanges"`
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	s.log.Debug("[/api/snapshot]", "full", r.URL.String())
	s.writeJSON(w, http.StatusOK, s.cfg.Dashboard.Snapshot())
}

func (s *Server) handleSamples(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	s.log.Debug("[/api/samples]", "full", r.URL.String())

	filter := dashboard.SampleFilter{
		Locations:      parseMultiParam(r, "location"),
		Providers:      parseMultiParam(r, "provider"),
		ExcludeDerived: q.Get("derived") == "false",
	}
	for _, name := range parseMultiParam(r, "quality") {
		band, err := latency.ParseQualityBand(strings.ToLower(name))
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid quality %q", name)
			return
		}
		filter.Qualities = append(filter.Qualities, band)
	}
	var err error
	if filter.MinLatencyMs, err = parseOptionalFloat(q.Get("min_latency")); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid min_latency")
		return
	}
	if filter.MaxLatencyMs, err = parseOptionalFloat(q.Get("max_latency")); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid max_latency")
		return
	}

	snap := s.cfg.Dashboard.Snapshot()
	samples, err := dashboard.FilterSamples(snap.Samples, snap.Nodes, filter)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid filter: %v", err)
		return
	}
	s.writeJSON(w, http.StatusOK, samples)
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	s.log.Debug("[/api/nodes]", "full", r.URL.String())

	filter := dashboard.NodeFilter{Providers: parseMultiParam(r, "provider")}
	for _, kind := range parseMultiParam(r, "kind") {
		switch k := topology.NodeKind(strings.ToLower(kind)); k {
		case topology.NodeKindRegion, topology.NodeKindExchange:
			filter.Kinds = append(filter.Kinds, k)
		default:
			s.writeError(w, http.StatusBadRequest, "invalid kind %q", kind)
			return
		}
	}

	s.writeJSON(w, http.StatusOK, dashboard.FilterNodes(s.cfg.Dashboard.Snapshot().Nodes, filter))
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.log.Debug("[/api/metrics]", "full", r.URL.String())

	snap := s.cfg.Dashboard.Snapshot()
	s.writeJSON(w, http.StatusOK, MetricsResponse{
		Status:      snap.Status,
		Loading:     snap.Loading,
		Error:       snap.Error,
		Metrics:     snap.Metrics,
		LastUpdated: snap.LastUpdated,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	location := q.Get("location")
	maxPointsStr := q.Get("max_points")
	intervalStr := q.Get("interval")
	s.log.Debug("[/api/history]", "location", location, "max_points", maxPointsStr, "interval", intervalStr, "full", r.URL.String())

	if location == "" {
		s.writeError(w, http.StatusBadRequest, "location is required")
		return
	}
	if intervalStr != "" && maxPointsStr != "" {
		s.writeError(w, http.StatusBadRequest, "interval and max_points cannot be set at the same time")
		return
	}

	var interval time.Duration
	var maxPoints int
	var err error
	if intervalStr != "" {
		interval, err = time.ParseDuration(intervalStr)
		if err != nil || interval <= 0 {
			s.log.Warn("invalid interval", "interval", intervalStr)
			s.writeError(w, http.StatusBadRequest, "invalid interval")
			return
		}
	} else if maxPointsStr == "" {
		maxPoints = stats.DefaultMaxPoints
	} else {
		maxPoints, err = strconv.Atoi(maxPointsStr)
		if err != nil || maxPoints <= 0 {
			s.log.Warn("invalid max_points", "max_points", maxPointsStr)
			s.writeError(w, http.StatusBadRequest, "invalid max_points")
			return
		}
	}

	var points []latency.HistoricalPoint
	for _, p := range s.cfg.Dashboard.Snapshot().History {
		if strings.EqualFold(p.Source, location) {
			points = append(points, p)
		}
	}

	out, err := stats.Aggregate(strings.ToUpper(location), points, maxPoints, interval)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "failed to aggregate history: %v", err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleLocations(w http.ResponseWriter, r *http.Request) {
	s.log.Debug("[/api/locations]", "full", r.URL.String())
	s.writeJSON(w, http.StatusOK, LocationsResponse{
		Hub:       s.cfg.Config.Hub,
		Locations: s.cfg.Config.Locations,
		Exchanges: s.cfg.Config.Exchanges,
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	s.log.Debug("[/api/refresh]", "full", r.URL.String())

	if err := s.cfg.Dashboard.TriggerRefresh(); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, dashboard.ErrClosed) || errors.Is(err, dashboard.ErrNotRunning) {
			status = http.StatusServiceUnavailable
		}
		s.writeError(w, status, "failed to trigger refresh: %v", err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok\n"))
}

// parseMultiParam collects a parameter given as repeated keys, a comma
// separated list, or a braced list.
func parseMultiParam(r *http.Request, name string) []string {
	params := []string{}
	for _, raw := range r.URL.Query()[name] {
		for _, value := range strings.Split(strings.Trim(raw, "{}"), ",") {
			if v := strings.TrimSpace(value); v != "" {
				params = append(params, v)
			}
		}
	}
	return params
}

func parseOptionalFloat(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
