package latency

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// flexFloat accepts a JSON number, a numeric string, or null. NaN and
// infinities are rejected.
type flexFloat struct {
	value float64
	valid bool
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*f = flexFloat{}
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		str = strings.TrimSpace(str)
		if str == "" {
			*f = flexFloat{}
			return nil
		}
		s = str
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q", s)
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("non-finite number %q", s)
	}
	*f = flexFloat{value: v, valid: true}
	return nil
}

func (f flexFloat) ptr() *float64 {
	if !f.valid {
		return nil
	}
	v := f.value
	return &v
}

type realtimeSummary struct {
	LatencyIdle flexFloat `json:"latencyIdle"`
	PacketLoss  flexFloat `json:"packetLoss"`
	JitterIdle  flexFloat `json:"jitterIdle"`
}

type realtimeResponse struct {
	Success bool `json:"success"`
	Data    *struct {
		Result *struct {
			Summary *realtimeSummary `json:"summary_0"`
		} `json:"result"`
	} `json:"data"`
}

type historicalResponse struct {
	Success bool `json:"success"`
	Data    *struct {
		Result *struct {
			Serie *historicalSeries `json:"serie_0"`
		} `json:"result"`
	} `json:"data"`
}

type seriesShape int

const (
	seriesShapeUnknown seriesShape = iota
	seriesShapeLegacy
	seriesShapeColumnar
)

type legacyPoint struct {
	Timestamp *string   `json:"timestamp"`
	Median    flexFloat `json:"median"`
}

type columnarSeries struct {
	Timestamps []*string   `json:"timestamps"`
	P50        []flexFloat `json:"p50"`
}

// historicalSeries holds either shape of serie_0: a legacy array of points or
// parallel timestamps/p50 arrays.
type historicalSeries struct {
	shape    seriesShape
	legacy   []legacyPoint
	columnar columnarSeries
}

func (s *historicalSeries) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*s = historicalSeries{}
		return nil
	}
	switch trimmed[0] {
	case '[':
		var points []legacyPoint
		if err := json.Unmarshal(trimmed, &points); err != nil {
			return err
		}
		*s = historicalSeries{shape: seriesShapeLegacy, legacy: points}
	case '{':
		var cols columnarSeries
		if err := json.Unmarshal(trimmed, &cols); err != nil {
			return err
		}
		*s = historicalSeries{shape: seriesShapeColumnar, columnar: cols}
	default:
		return fmt.Errorf("unexpected serie_0 type starting with %q", trimmed[0])
	}
	return nil
}

func decodeRealtime(body []byte, location string) (realtimeSummary, error) {
	var resp realtimeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return realtimeSummary{}, &DecodeError{Location: location, Kind: kindRealtime, Field: "body", Reason: "malformed json", Err: err}
	}
	if !resp.Success {
		return realtimeSummary{}, &APIError{Location: location, Kind: kindRealtime, StatusCode: 200, Message: "proxy reported success=false"}
	}
	if resp.Data == nil || resp.Data.Result == nil || resp.Data.Result.Summary == nil {
		return realtimeSummary{}, &DecodeError{Location: location, Kind: kindRealtime, Field: "data.result.summary_0", Reason: "missing"}
	}
	summary := *resp.Data.Result.Summary
	if !summary.LatencyIdle.valid {
		return realtimeSummary{}, &DecodeError{Location: location, Kind: kindRealtime, Field: "summary_0.latencyIdle", Reason: "missing"}
	}
	if summary.LatencyIdle.value < 0 {
		return realtimeSummary{}, &DecodeError{Location: location, Kind: kindRealtime, Field: "summary_0.latencyIdle", Reason: "must not be negative"}
	}
	return summary, nil
}

func decodeHistorical(body []byte, location, target string) ([]HistoricalPoint, error) {
	var resp historicalResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &DecodeError{Location: location, Kind: kindHistorical, Field: "body", Reason: "malformed json", Err: err}
	}
	if !resp.Success {
		return nil, &APIError{Location: location, Kind: kindHistorical, StatusCode: 200, Message: "proxy reported success=false"}
	}
	if resp.Data == nil || resp.Data.Result == nil || resp.Data.Result.Serie == nil || resp.Data.Result.Serie.shape == seriesShapeUnknown {
		return nil, &DecodeError{Location: location, Kind: kindHistorical, Field: "data.result.serie_0", Reason: "missing"}
	}
	return resp.Data.Result.Serie.points(location, target)
}

func (s *historicalSeries) points(location, target string) ([]HistoricalPoint, error) {
	var points []HistoricalPoint
	add := func(i int, ts *string, v flexFloat) error {
		if ts == nil || strings.TrimSpace(*ts) == "" || !v.valid {
			return nil
		}
		t, err := time.Parse(time.RFC3339, strings.TrimSpace(*ts))
		if err != nil {
			return &DecodeError{Location: location, Kind: kindHistorical, Field: fmt.Sprintf("serie_0.timestamps[%d]", i), Reason: "invalid timestamp", Err: err}
		}
		points = append(points, HistoricalPoint{
			Timestamp: t.UTC(),
			LatencyMs: v.value,
			Source:    location,
			Target:    target,
		})
		return nil
	}

	switch s.shape {
	case seriesShapeLegacy:
		for i, p := range s.legacy {
			if err := add(i, p.Timestamp, p.Median); err != nil {
				return nil, err
			}
		}
	case seriesShapeColumnar:
		n := min(len(s.columnar.Timestamps), len(s.columnar.P50))
		for i := 0; i < n; i++ {
			if err := add(i, s.columnar.Timestamps[i], s.columnar.P50[i]); err != nil {
				return nil, err
			}
		}
	}

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
	return points, nil
}
