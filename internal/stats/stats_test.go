package stats

import (
	"testing"
	"time"

	"github.com/malbeclabs/latencymap/internal/latency"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func near(t *testing.T, got, want, tol float64) { assert.InDelta(t, want, got, tol) }

func series(base time.Time, step time.Duration, values ...float64) []latency.HistoricalPoint {
	out := make([]latency.HistoricalPoint, len(values))
	for i, v := range values {
		out[i] = latency.HistoricalPoint{Timestamp: base.Add(time.Duration(i) * step), LatencyMs: v, Source: "US", Target: "hub"}
	}
	return out
}

func TestStats_Summarize(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := Summarize("US", base, []float64{10, 30, 20, 40})

	require.Equal(t, 4, s.Count)
	require.Equal(t, base, s.Start)
	near(t, s.Mean, 25, 1e-9)
	near(t, s.Median, 25, 1e-9)
	near(t, s.Min, 10, 1e-9)
	near(t, s.Max, 40, 1e-9)
	near(t, s.P90, 40, 1e-9)
	near(t, s.StdDev, 11.180339887, 1e-6)
	// |30-10| + |20-30| + |40-20| = 50 over 3 deltas.
	near(t, s.JitterAvg, 50.0/3, 1e-9)
	near(t, s.JitterMax, 20, 1e-9)
}

func TestStats_Summarize_Empty(t *testing.T) {
	t.Parallel()

	s := Summarize("US", time.Time{}, nil)
	require.Zero(t, s.Count)
	require.Zero(t, s.Mean)
}

func TestStats_Summarize_Percentiles(t *testing.T) {
	t.Parallel()

	values := make([]float64, 100)
	for i := range values {
		values[i] = float64(i + 1)
	}
	s := Summarize("US", time.Time{}, values)
	near(t, s.P90, 90, 1e-9)
	near(t, s.P95, 95, 1e-9)
	near(t, s.P99, 99, 1e-9)
	near(t, s.Median, 50.5, 1e-9)
}

func TestStats_Aggregate(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		out, err := Aggregate("US", nil, 10, 0)
		require.NoError(t, err)
		require.Empty(t, out)
	})

	t.Run("per point when under max", func(t *testing.T) {
		t.Parallel()
		pts := series(base, time.Minute, 10, 14, 11)
		out, err := Aggregate("US", pts, 10, 0)
		require.NoError(t, err)
		require.Len(t, out, 3)
		require.Zero(t, out[0].JitterAvg)
		near(t, out[1].JitterAvg, 4, 1e-9)
		near(t, out[2].JitterMax, 3, 1e-9)
	})

	t.Run("unsorted input is not mutated", func(t *testing.T) {
		t.Parallel()
		pts := series(base, time.Minute, 1, 2, 3)
		pts[0], pts[2] = pts[2], pts[0]
		out, err := Aggregate("US", pts, 0, 0)
		require.NoError(t, err)
		require.Equal(t, base, out[0].Start)
		require.Equal(t, 3.0, pts[0].LatencyMs)
	})

	t.Run("single window", func(t *testing.T) {
		t.Parallel()
		out, err := Aggregate("US", series(base, time.Minute, 10, 20, 30), 1, 0)
		require.NoError(t, err)
		require.Len(t, out, 1)
		require.Equal(t, 3, out[0].Count)
		near(t, out[0].Mean, 20, 1e-9)
	})

	t.Run("max points bounds output", func(t *testing.T) {
		t.Parallel()
		values := make([]float64, 1000)
		for i := range values {
			values[i] = float64(i % 50)
		}
		out, err := Aggregate("US", series(base, time.Minute, values...), 100, 0)
		require.NoError(t, err)
		require.LessOrEqual(t, len(out), 101)
		total := 0
		for _, s := range out {
			total += s.Count
		}
		require.Equal(t, 1000, total)
	})

	t.Run("interval", func(t *testing.T) {
		t.Parallel()
		out, err := Aggregate("US", series(base, time.Minute, 1, 2, 3, 4, 5, 6), 0, 2*time.Minute)
		require.NoError(t, err)
		require.Len(t, out, 3)
		require.Equal(t, base.Add(2*time.Minute), out[1].Start)
		require.Equal(t, 2, out[1].Count)
		near(t, out[1].Mean, 3.5, 1e-9)
	})

	t.Run("conflicting bounds", func(t *testing.T) {
		t.Parallel()
		_, err := Aggregate("US", series(base, time.Minute, 1), 10, time.Minute)
		require.ErrorIs(t, err, ErrConflictingBounds)
	})

	t.Run("negative bounds", func(t *testing.T) {
		t.Parallel()
		_, err := Aggregate("US", nil, -1, 0)
		require.Error(t, err)
		_, err = Aggregate("US", nil, 0, -time.Second)
		require.Error(t, err)
	})
}

func TestStats_Bucket_GapsAndCrossWindowJitter(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	pts := []latency.HistoricalPoint{
		{Timestamp: base, LatencyMs: 10},
		{Timestamp: base.Add(30 * time.Second), LatencyMs: 12},
		{Timestamp: base.Add(3 * time.Minute), LatencyMs: 20},
	}

	out := Bucket("US", pts, time.Minute)
	require.Len(t, out, 2)
	require.Equal(t, base.Add(3*time.Minute), out[1].Start)
	near(t, out[1].JitterAvg, 8, 1e-9)
	require.Empty(t, Bucket("US", pts, 0))
}

func TestStats_Aggregate_RejectsIntervalSpanningTooManyWindows(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	pts := series(base, 24*time.Hour, 10, 20)

	_, err := Aggregate("US", pts, 0, time.Microsecond)
	require.ErrorIs(t, err, ErrTooManyWindows)

	_, err = Aggregate("US", pts, 0, 24*time.Hour/MaxWindows)
	require.ErrorIs(t, err, ErrTooManyWindows)

	out, err := Aggregate("US", pts, 0, time.Minute)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, base.Add(24*time.Hour), out[1].Start)
}

func TestStats_Bucket_SparseWindows(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	pts := series(base, 24*time.Hour, 10, 20, 30)

	out := Bucket("US", pts, time.Microsecond)
	require.Len(t, out, 3)
	require.Equal(t, base.Add(48*time.Hour), out[2].Start)
	near(t, out[2].JitterAvg, 10, 1e-9)
}
