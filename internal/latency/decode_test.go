package latency

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestLatency_DecodeRealtime(t *testing.T) {
	t.Parallel()

	t.Run("numbers", func(t *testing.T) {
		t.Parallel()
		s, err := decodeRealtime([]byte(`{"success":true,"data":{"result":{"summary_0":{"latencyIdle":42.5,"packetLoss":0.1,"jitterIdle":3}}}}`), "US")
		require.NoError(t, err)
		require.Equal(t, 42.5, s.LatencyIdle.value)
		require.Equal(t, 0.1, *s.PacketLoss.ptr())
		require.Equal(t, 3.0, *s.JitterIdle.ptr())
	})

	t.Run("numeric strings", func(t *testing.T) {
		t.Parallel()
		s, err := decodeRealtime([]byte(`{"success":true,"data":{"result":{"summary_0":{"latencyIdle":"42.5","packetLoss":"0"}}}}`), "US")
		require.NoError(t, err)
		require.Equal(t, 42.5, s.LatencyIdle.value)
		require.Equal(t, 0.0, *s.PacketLoss.ptr())
		require.Nil(t, s.JitterIdle.ptr())
	})

	tests := []struct {
		name   string
		body   string
		decode bool
		api    bool
		field  string
	}{
		{name: "malformed json", body: `{"success":`, decode: true, field: "body"},
		{name: "success false", body: `{"success":false}`, api: true},
		{name: "missing data", body: `{"success":true}`, decode: true, field: "data.result.summary_0"},
		{name: "missing summary", body: `{"success":true,"data":{"result":{}}}`, decode: true, field: "data.result.summary_0"},
		{name: "missing latency", body: `{"success":true,"data":{"result":{"summary_0":{"packetLoss":1}}}}`, decode: true, field: "summary_0.latencyIdle"},
		{name: "null latency", body: `{"success":true,"data":{"result":{"summary_0":{"latencyIdle":null}}}}`, decode: true, field: "summary_0.latencyIdle"},
		{name: "negative latency", body: `{"success":true,"data":{"result":{"summary_0":{"latencyIdle":-1}}}}`, decode: true, field: "summary_0.latencyIdle"},
		{name: "non numeric string", body: `{"success":true,"data":{"result":{"summary_0":{"latencyIdle":"fast"}}}}`, decode: true, field: "body"},
		{name: "nan latency", body: `{"success":true,"data":{"result":{"summary_0":{"latencyIdle":"NaN"}}}}`, decode: true, field: "body"},
		{name: "inf latency", body: `{"success":true,"data":{"result":{"summary_0":{"latencyIdle":"Inf"}}}}`, decode: true, field: "body"},
		{name: "infinity packet loss", body: `{"success":true,"data":{"result":{"summary_0":{"latencyIdle":10,"packetLoss":"-Infinity"}}}}`, decode: true, field: "body"},
		{name: "nan jitter", body: `{"success":true,"data":{"result":{"summary_0":{"latencyIdle":10,"jitterIdle":"nan"}}}}`, decode: true, field: "body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := decodeRealtime([]byte(tt.body), "US")
			require.Error(t, err)
			if tt.decode {
				var de *DecodeError
				require.True(t, errors.As(err, &de), "expected DecodeError, got %T", err)
				require.Equal(t, "US", de.Location)
				require.Equal(t, tt.field, de.Field)
			}
			if tt.api {
				var ae *APIError
				require.True(t, errors.As(err, &ae), "expected APIError, got %T", err)
			}
		})
	}
}

func TestLatency_DecodeHistorical_Columnar(t *testing.T) {
	t.Parallel()

	body := `{"success":true,"data":{"result":{"serie_0":{
		"timestamps":["2024-01-01T00:02:00Z","2024-01-01T00:00:00Z",null,"2024-01-01T00:03:00Z","2024-01-01T00:04:00Z"],
		"p50":[30,"10",20,null]
	}}}}`
	points, err := decodeHistorical([]byte(body), "JP", "hub")
	require.NoError(t, err)

	want := []HistoricalPoint{
		{Timestamp: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), LatencyMs: 10, Source: "JP", Target: "hub"},
		{Timestamp: time.Date(2024, 1, 1, 0, 2, 0, 0, time.UTC), LatencyMs: 30, Source: "JP", Target: "hub"},
	}
	if diff := cmp.Diff(want, points); diff != "" {
		t.Fatalf("unexpected points (-want +got):\n%s", diff)
	}
}

func TestLatency_DecodeHistorical_Legacy(t *testing.T) {
	t.Parallel()

	body := `{"success":true,"data":{"result":{"serie_0":[
		{"timestamp":"2024-01-01T00:01:00Z","median":"12.5"},
		{"timestamp":"2024-01-01T00:00:00Z","median":11},
		{"timestamp":null,"median":9},
		{"timestamp":"2024-01-01T00:02:00Z"}
	]}}}`
	points, err := decodeHistorical([]byte(body), "SG", "hub")
	require.NoError(t, err)
	require.Len(t, points, 2)
	require.Equal(t, 11.0, points[0].LatencyMs)
	require.Equal(t, 12.5, points[1].LatencyMs)
	require.True(t, points[0].Timestamp.Before(points[1].Timestamp))
}

func TestLatency_DecodeHistorical_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		body string
	}{
		{name: "missing serie", body: `{"success":true,"data":{"result":{}}}`},
		{name: "null serie", body: `{"success":true,"data":{"result":{"serie_0":null}}}`},
		{name: "scalar serie", body: `{"success":true,"data":{"result":{"serie_0":5}}}`},
		{name: "bad timestamp", body: `{"success":true,"data":{"result":{"serie_0":{"timestamps":["yesterday"],"p50":[1]}}}}`},
		{name: "nan p50", body: `{"success":true,"data":{"result":{"serie_0":{"timestamps":["2024-01-01T00:00:00Z"],"p50":["NaN"]}}}}`},
		{name: "inf p50", body: `{"success":true,"data":{"result":{"serie_0":{"timestamps":["2024-01-01T00:00:00Z"],"p50":["Inf"]}}}}`},
		{name: "infinity median", body: `{"success":true,"data":{"result":{"serie_0":[{"timestamp":"2024-01-01T00:00:00Z","median":"Infinity"}]}}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := decodeHistorical([]byte(tt.body), "SG", "hub")
			var de *DecodeError
			require.ErrorAs(t, err, &de)
		})
	}

	_, err := decodeHistorical([]byte(`{"success":false}`), "SG", "hub")
	var ae *APIError
	require.ErrorAs(t, err, &ae)
}
