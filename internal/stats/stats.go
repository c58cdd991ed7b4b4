package stats

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"time"

	"github.com/malbeclabs/latencymap/internal/latency"
)

const (
	DefaultMaxPoints = 500

	// MaxWindows bounds the number of windows an interval may span.
	MaxWindows = 10 * DefaultMaxPoints
)

var (
	ErrConflictingBounds = errors.New("max points and interval are mutually exclusive")
	ErrTooManyWindows    = fmt.Errorf("interval spans more than %d windows", MaxWindows)
)

// WindowStat summarizes the historical latency points that fall in one window.
// All latency values are in milliseconds.
type WindowStat struct {
	Location string    `json:"location"`
	Start    time.Time `json:"start"`
	Count    int       `json:"count"`

	Mean   float64 `json:"mean_ms"`
	Median float64 `json:"median_ms"`
	Min    float64 `json:"min_ms"`
	Max    float64 `json:"max_ms"`
	P90    float64 `json:"p90_ms"`
	P95    float64 `json:"p95_ms"`
	P99    float64 `json:"p99_ms"`
	StdDev float64 `json:"stddev_ms"` // population

	JitterAvg float64 `json:"jitter_avg_ms"` // mean(|Δlatency|)
	JitterMax float64 `json:"jitter_max_ms"` // max(|Δlatency|)
}

// Aggregate downsamples a series into windows. With neither bound set (or
// maxPoints covering the whole series) every point becomes its own window.
// interval selects fixed-width windows; maxPoints derives the width from the
// series span.
func Aggregate(location string, points []latency.HistoricalPoint, maxPoints int, interval time.Duration) ([]WindowStat, error) {
	if maxPoints < 0 {
		return nil, fmt.Errorf("invalid max points: %d", maxPoints)
	}
	if interval < 0 {
		return nil, fmt.Errorf("invalid interval: %s", interval)
	}
	if maxPoints > 0 && interval > 0 {
		return nil, ErrConflictingBounds
	}
	if len(points) == 0 {
		return []WindowStat{}, nil
	}

	sorted := slices.Clone(points)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	if interval == 0 && (maxPoints == 0 || maxPoints >= len(sorted)) {
		out := make([]WindowStat, len(sorted))
		var prev *float64
		for i, p := range sorted {
			out[i] = Summarize(location, p.Timestamp, []float64{p.LatencyMs})
			if prev != nil {
				d := math.Abs(p.LatencyMs - *prev)
				out[i].JitterAvg = d
				out[i].JitterMax = d
			}
			v := p.LatencyMs
			prev = &v
		}
		return out, nil
	}

	if maxPoints == 1 {
		values := make([]float64, len(sorted))
		for i, p := range sorted {
			values[i] = p.LatencyMs
		}
		return []WindowStat{Summarize(location, sorted[0].Timestamp, values)}, nil
	}

	span := sorted[len(sorted)-1].Timestamp.Sub(sorted[0].Timestamp)
	if interval > 0 && span/interval >= MaxWindows {
		return nil, ErrTooManyWindows
	}
	if interval == 0 {
		interval = time.Duration(math.Ceil(float64(span) / float64(maxPoints)))
		if interval < 1 {
			interval = 1
		}
	}
	return Bucket(location, sorted, interval), nil
}

// Bucket groups time-sorted points into fixed windows starting at the first
// point. Empty windows are omitted, so the result never has more windows than
// points.
func Bucket(location string, sorted []latency.HistoricalPoint, width time.Duration) []WindowStat {
	if len(sorted) == 0 || width <= 0 {
		return []WindowStat{}
	}

	from := sorted[0].Timestamp
	out := []WindowStat{}
	var prevLast *float64
	flush := func(idx int64, values []float64) {
		s := Summarize(location, from.Add(time.Duration(idx)*width), values)
		// A single-point window measures jitter against the previous window.
		if len(values) == 1 && prevLast != nil {
			d := math.Abs(values[0] - *prevLast)
			s.JitterAvg = d
			s.JitterMax = d
		}
		out = append(out, s)
		last := values[len(values)-1]
		prevLast = &last
	}

	curIdx := int64(0)
	var values []float64
	for _, p := range sorted {
		idx := int64(p.Timestamp.Sub(from) / width)
		if idx != curIdx && len(values) > 0 {
			flush(curIdx, values)
			values = nil
		}
		curIdx = idx
		values = append(values, p.LatencyMs)
	}
	flush(curIdx, values)
	return out
}

// Summarize computes the statistics of values, which must be in time order.
func Summarize(location string, start time.Time, values []float64) WindowStat {
	s := WindowStat{Location: location, Start: start, Count: len(values)}
	if len(values) == 0 {
		return s
	}

	sorted := slices.Clone(values)
	sort.Float64s(sorted)
	n := len(sorted)

	s.Min, s.Max = sorted[0], sorted[n-1]
	if n%2 == 0 {
		s.Median = (sorted[n/2-1] + sorted[n/2]) / 2
	} else {
		s.Median = sorted[n/2]
	}
	s.P90 = percentile(sorted, 0.90)
	s.P95 = percentile(sorted, 0.95)
	s.P99 = percentile(sorted, 0.99)

	// Welford, population variance.
	var mean, m2 float64
	for i, v := range sorted {
		delta := v - mean
		mean += delta / float64(i+1)
		m2 += delta * (v - mean)
	}
	s.Mean = mean
	s.StdDev = math.Sqrt(math.Max(m2/float64(n), 0))

	if len(values) > 1 {
		var sum float64
		for i := 1; i < len(values); i++ {
			d := math.Abs(values[i] - values[i-1])
			sum += d
			if d > s.JitterMax {
				s.JitterMax = d
			}
		}
		s.JitterAvg = sum / float64(len(values)-1)
	}
	return s
}

// percentile uses the nearest-rank method on sorted values.
func percentile(sorted []float64, p float64) float64 {
	idx := int(math.Ceil(p*float64(len(sorted)))) - 1
	return sorted[max(idx, 0)]
}
