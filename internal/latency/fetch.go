package latency

import (
	"context"
	"fmt"

	"github.com/malbeclabs/latencymap/internal/metrics"
)

type LocationFailure struct {
	Location string
	Kind     string
	Err      error
}

// Batch is the joined result of one fetch pass over all locations.
type Batch struct {
	Samples  []Sample
	History  []HistoricalPoint
	Failures []LocationFailure
}

type locationResult struct {
	sample   *Sample
	history  []HistoricalPoint
	failures []LocationFailure
}

// FetchAll fetches real-time and historical data for every location
// concurrently. Per-location failures are recorded in the batch and never
// abort it; only cancellation of ctx does.
func (c *Client) FetchAll(ctx context.Context, locations []string) (*Batch, error) {
	group := c.pool.NewGroupContext(ctx)
	for _, code := range locations {
		group.Submit(func() locationResult {
			return c.fetchLocation(ctx, code)
		})
	}

	results, err := group.Wait()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch locations: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch := &Batch{}
	for _, res := range results {
		if res.sample != nil {
			batch.Samples = append(batch.Samples, *res.sample)
		}
		batch.History = append(batch.History, res.history...)
		batch.Failures = append(batch.Failures, res.failures...)
	}
	return batch, nil
}

func (c *Client) fetchLocation(ctx context.Context, code string) locationResult {
	var res locationResult

	sample, err := c.GetRealtime(ctx, code)
	if err != nil {
		res.failures = append(res.failures, c.recordFailure(ctx, code, kindRealtime, err))
	} else {
		res.sample = sample
	}

	history, err := c.GetHistorical(ctx, code)
	if err != nil {
		res.failures = append(res.failures, c.recordFailure(ctx, code, kindHistorical, err))
	} else {
		res.history = history
	}

	return res
}

func (c *Client) recordFailure(ctx context.Context, code, kind string, err error) LocationFailure {
	if ctx.Err() == nil {
		c.log.Warn("latency: skipping location", "location", code, "kind", kind, "error", err)
		metrics.LocationFetchFailuresTotal.WithLabelValues(code, kind).Inc()
	}
	return LocationFailure{Location: code, Kind: kind, Err: err}
}
