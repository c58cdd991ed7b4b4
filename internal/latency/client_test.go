package latency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

type MockHTTPClient struct {
	DoFunc func(req *http.Request) (*http.Response, error)
}

func (m *MockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	return m.DoFunc(req)
}

type fakeProxyLocation struct {
	realtime   string
	historical string
	status     int
}

func realtimeBody(latency float64) string {
	return fmt.Sprintf(`{"success":true,"data":{"result":{"summary_0":{"latencyIdle":%v,"packetLoss":0.5,"jitterIdle":"2.5"}}}}`, latency)
}

const historicalBody = `{"success":true,"data":{"result":{"serie_0":{"timestamps":["2024-01-01T00:00:00Z","2024-01-01T00:05:00Z"],"p50":[10,12]}}}}`

func newFakeProxy(t *testing.T, locations map[string]fakeProxyLocation) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		loc, ok := locations[r.URL.Query().Get("location")]
		if !ok {
			http.Error(w, "unknown location", http.StatusNotFound)
			return
		}
		if loc.status != 0 {
			http.Error(w, "upstream failure", loc.status)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("type") {
		case "realtime":
			_, _ = w.Write([]byte(loc.realtime))
		case "historical":
			_, _ = w.Write([]byte(loc.historical))
		default:
			http.Error(w, "bad type", http.StatusBadRequest)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestClient(t *testing.T, cfg *ClientConfig) *Client {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = logger.With("test", t.Name())
	}
	if cfg.Hub == "" {
		cfg.Hub = "hub"
	}
	c, err := NewClient(cfg)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c
}

func TestLatency_ClientConfig_Validate(t *testing.T) {
	t.Parallel()

	cfg := &ClientConfig{LatencyURL: "http://localhost/api/latency", Hub: "hub"}
	require.EqualError(t, cfg.Validate(), "logger is required")

	cfg.Logger = logger
	require.NoError(t, cfg.Validate())
	require.Equal(t, DefaultThresholds, cfg.Thresholds)
	require.Equal(t, defaultRequestTimeout, cfg.RequestTimeout)
	require.Equal(t, defaultFetchConcurrency, cfg.FetchConcurrency)
	require.NotNil(t, cfg.HTTPClient)
	require.NotNil(t, cfg.Clock)

	require.EqualError(t, (&ClientConfig{Logger: logger, Hub: "hub"}).Validate(), "latency url is required")
	require.EqualError(t, (&ClientConfig{Logger: logger, LatencyURL: "http://x"}).Validate(), "hub is required")
}

func TestLatency_Client_GetRealtime(t *testing.T) {
	t.Parallel()

	srv := newFakeProxy(t, map[string]fakeProxyLocation{
		"US": {realtime: realtimeBody(42)},
	})
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c := newTestClient(t, &ClientConfig{LatencyURL: srv.URL + "/api/latency", Clock: clockwork.NewFakeClockAt(now)})

	s, err := c.GetRealtime(t.Context(), "US")
	require.NoError(t, err)
	require.Equal(t, "US-hub", s.ID)
	require.Equal(t, "US", s.Source)
	require.Equal(t, "hub", s.Target)
	require.Equal(t, 42.0, s.LatencyMs)
	require.Equal(t, QualityExcellent, s.Quality)
	require.Equal(t, now, s.Timestamp)
	require.NotNil(t, s.PacketLossPct)
	require.Equal(t, 0.5, *s.PacketLossPct)
	require.NotNil(t, s.JitterMs)
	require.Equal(t, 2.5, *s.JitterMs)
	require.False(t, s.Derived)
}

func TestLatency_Client_GetRealtime_RequestShape(t *testing.T) {
	t.Parallel()

	var gotURL string
	c := newTestClient(t, &ClientConfig{
		LatencyURL: "http://proxy.local/api/latency",
		HTTPClient: &MockHTTPClient{DoFunc: func(req *http.Request) (*http.Response, error) {
			gotURL = req.URL.String()
			require.Equal(t, http.MethodGet, req.Method)
			require.Equal(t, "application/json", req.Header.Get("Accept"))
			return nil, errors.New("connection refused")
		}},
	})

	_, err := c.GetRealtime(t.Context(), "GB")
	require.ErrorContains(t, err, "connection refused")
	require.Equal(t, "http://proxy.local/api/latency?location=GB&type=realtime", gotURL)
}

func TestLatency_Client_GetRealtime_StatusError(t *testing.T) {
	t.Parallel()

	srv := newFakeProxy(t, map[string]fakeProxyLocation{
		"DE": {status: http.StatusBadGateway},
	})
	c := newTestClient(t, &ClientConfig{LatencyURL: srv.URL})

	_, err := c.GetRealtime(t.Context(), "DE")
	var ae *APIError
	require.ErrorAs(t, err, &ae)
	require.Equal(t, http.StatusBadGateway, ae.StatusCode)
	require.Equal(t, "DE", ae.Location)
	require.Equal(t, "realtime", ae.Kind)
}

func TestLatency_Client_GetRealtime_Timeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c := newTestClient(t, &ClientConfig{LatencyURL: srv.URL, RequestTimeout: 50 * time.Millisecond})

	_, err := c.GetRealtime(t.Context(), "US")
	require.Error(t, err)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLatency_Client_GetHistorical(t *testing.T) {
	t.Parallel()

	srv := newFakeProxy(t, map[string]fakeProxyLocation{
		"JP": {historical: historicalBody},
	})
	c := newTestClient(t, &ClientConfig{LatencyURL: srv.URL})

	points, err := c.GetHistorical(t.Context(), "JP")
	require.NoError(t, err)
	require.Len(t, points, 2)
	require.Equal(t, "JP", points[0].Source)
	require.Equal(t, "hub", points[0].Target)
	require.Equal(t, 10.0, points[0].LatencyMs)
}

func TestLatency_Client_FetchAll_PartialFailure(t *testing.T) {
	t.Parallel()

	srv := newFakeProxy(t, map[string]fakeProxyLocation{
		"US": {realtime: realtimeBody(40), historical: historicalBody},
		"GB": {realtime: realtimeBody(70), historical: historicalBody},
		"DE": {status: http.StatusInternalServerError},
		"JP": {realtime: `{"success":true,"data":{"result":{}}}`, historical: historicalBody},
	})
	c := newTestClient(t, &ClientConfig{LatencyURL: srv.URL})

	batch, err := c.FetchAll(t.Context(), []string{"US", "GB", "DE", "JP"})
	require.NoError(t, err)

	require.Len(t, batch.Samples, 2)
	require.Equal(t, "US", batch.Samples[0].Source)
	require.Equal(t, "GB", batch.Samples[1].Source)
	for _, s := range batch.Samples {
		require.NotEqual(t, "DE", s.Source)
	}

	require.Len(t, batch.History, 6)

	failed := map[string][]string{}
	for _, f := range batch.Failures {
		failed[f.Location] = append(failed[f.Location], f.Kind)
	}
	require.ElementsMatch(t, []string{"realtime", "historical"}, failed["DE"])
	require.Equal(t, []string{"realtime"}, failed["JP"])
}

func TestLatency_Client_FetchAll_NonFiniteValuesSkipLocation(t *testing.T) {
	t.Parallel()

	srv := newFakeProxy(t, map[string]fakeProxyLocation{
		"US": {realtime: realtimeBody(40), historical: historicalBody},
		"GB": {
			realtime:   `{"success":true,"data":{"result":{"summary_0":{"latencyIdle":"NaN"}}}}`,
			historical: `{"success":true,"data":{"result":{"serie_0":{"timestamps":["2024-01-01T00:00:00Z"],"p50":["Inf"]}}}}`,
		},
	})
	c := newTestClient(t, &ClientConfig{LatencyURL: srv.URL})

	batch, err := c.FetchAll(t.Context(), []string{"US", "GB"})
	require.NoError(t, err)
	require.Len(t, batch.Samples, 1)
	require.Equal(t, "US", batch.Samples[0].Source)
	require.Len(t, batch.History, 2)

	require.Len(t, batch.Failures, 2)
	for _, f := range batch.Failures {
		require.Equal(t, "GB", f.Location)
		var de *DecodeError
		require.ErrorAs(t, f.Err, &de)
	}

	_, err = json.Marshal(batch.Samples)
	require.NoError(t, err)
	_, err = json.Marshal(batch.History)
	require.NoError(t, err)
}

func TestLatency_Client_FetchAll_Deterministic(t *testing.T) {
	t.Parallel()

	locs := map[string]fakeProxyLocation{}
	codes := []string{"US", "GB", "DE", "JP", "SG", "HK", "KR", "AU", "BR", "IN"}
	for i, code := range codes {
		locs[code] = fakeProxyLocation{realtime: realtimeBody(float64(10 * (i + 1))), historical: historicalBody}
	}
	srv := newFakeProxy(t, locs)
	c := newTestClient(t, &ClientConfig{LatencyURL: srv.URL, FetchConcurrency: 4})

	for range 3 {
		batch, err := c.FetchAll(t.Context(), codes)
		require.NoError(t, err)
		require.Len(t, batch.Samples, len(codes))
		for i, s := range batch.Samples {
			require.Equal(t, codes[i], s.Source)
		}
	}
}

func TestLatency_Client_FetchAll_Cancelled(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	c := newTestClient(t, &ClientConfig{
		LatencyURL: "http://proxy.local",
		HTTPClient: &MockHTTPClient{DoFunc: func(req *http.Request) (*http.Response, error) {
			calls.Add(1)
			<-req.Context().Done()
			return nil, req.Context().Err()
		}},
	})

	ctx, cancel := context.WithCancel(t.Context())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	batch, err := c.FetchAll(ctx, []string{"US", "GB"})
	require.ErrorIs(t, err, context.Canceled)
	require.Nil(t, batch)
	require.Positive(t, calls.Load())
}
