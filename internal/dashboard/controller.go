package dashboard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/malbeclabs/latencymap/internal/latency"
	"github.com/malbeclabs/latencymap/internal/metrics"
	"github.com/malbeclabs/latencymap/internal/topology"
)

const defaultRefreshInterval = 30 * time.Second

var (
	ErrClosed         = errors.New("controller closed")
	ErrNotRunning     = errors.New("controller not running")
	ErrAlreadyRunning = errors.New("controller already running")
	ErrDiscarded      = errors.New("refresh result discarded")
)

type Status string

const (
	StatusIdle    Status = "idle"
	StatusLoading Status = "loading"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

// Snapshot is the derived dashboard state. Committed snapshots are never
// mutated, so the slices may be shared between readers.
type Snapshot struct {
	Status      Status                    `json:"status"`
	Loading     bool                      `json:"loading"`
	Error       string                    `json:"error,omitempty"`
	Samples     []latency.Sample          `json:"samples"`
	History     []latency.HistoricalPoint `json:"history"`
	Nodes       []topology.Node           `json:"nodes"`
	Metrics     MetricsSnapshot           `json:"metrics"`
	LastUpdated time.Time                 `json:"last_updated"`
	CycleID     string                    `json:"cycle_id,omitempty"`
}

type Fetcher interface {
	FetchAll(ctx context.Context, locations []string) (*latency.Batch, error)
}

type Synthesizer interface {
	Synthesize(ctx context.Context, samples []latency.Sample) topology.Result
	KnownNodes() []topology.Node
}

type ControllerConfig struct {
	Logger      *slog.Logger
	Clock       clockwork.Clock
	Fetcher     Fetcher
	Synthesizer Synthesizer

	Locations       []string
	RefreshInterval time.Duration
}

func (c *ControllerConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.Fetcher == nil {
		return errors.New("fetcher is required")
	}
	if c.Synthesizer == nil {
		return errors.New("synthesizer is required")
	}
	if len(c.Locations) == 0 {
		return errors.New("locations are required")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = defaultRefreshInterval
	}
	if c.RefreshInterval < 0 {
		return fmt.Errorf("invalid refresh interval: %s", c.RefreshInterval)
	}
	return nil
}

// Controller runs the refresh pipeline and owns the committed snapshot.
// Refreshes may overlap; each commits independently and the last to finish
// wins.
type Controller struct {
	log *slog.Logger
	cfg *ControllerConfig

	mu       sync.RWMutex
	snapshot Snapshot
	inFlight int
	running  bool
	closed   bool
	runCtx   context.Context
	wg       sync.WaitGroup

	subsMu sync.Mutex
	subs   map[chan Snapshot]struct{}
}

func NewController(cfg *ControllerConfig) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Controller{
		log:      cfg.Logger,
		cfg:      cfg,
		snapshot: emptySnapshot(StatusIdle),
		subs:     make(map[chan Snapshot]struct{}),
	}, nil
}

func emptySnapshot(status Status) Snapshot {
	return Snapshot{
		Status:  status,
		Samples: []latency.Sample{},
		History: []latency.HistoricalPoint{},
		Nodes:   []topology.Node{},
	}
}

// Run refreshes once, then on every tick, until ctx is done. Cancelling ctx
// aborts in-flight refreshes and closes the controller; Run returns after
// every refresh it started has settled.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	switch {
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	case c.running:
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	c.running = true
	c.runCtx = ctx
	c.mu.Unlock()

	c.log.Info("controller: starting", "interval", c.cfg.RefreshInterval, "locations", len(c.cfg.Locations))

	ticker := c.cfg.Clock.NewTicker(c.cfg.RefreshInterval)
	defer ticker.Stop()

	c.spawn(ctx)
	for {
		select {
		case <-ctx.Done():
			c.mu.Lock()
			c.closed = true
			c.mu.Unlock()
			c.wg.Wait()
			c.closeSubscribers()
			c.log.Info("controller: stopped")
			return nil
		case <-ticker.Chan():
			c.spawn(ctx)
		}
	}
}

// TriggerRefresh starts a refresh in the background under the Run context.
func (c *Controller) TriggerRefresh() error {
	c.mu.RLock()
	closed, running, ctx := c.closed, c.running, c.runCtx
	c.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if !running {
		return ErrNotRunning
	}
	c.spawn(ctx)
	return nil
}

// Refresh runs one refresh synchronously and returns the snapshot it
// committed. The snapshot is also returned when the pipeline failed and the
// error state was committed.
func (c *Controller) Refresh(ctx context.Context) (Snapshot, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Snapshot{}, ErrClosed
	}
	c.wg.Add(1)
	c.mu.Unlock()
	defer c.wg.Done()

	return c.refresh(ctx)
}

func (c *Controller) spawn(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		if _, err := c.refresh(ctx); err != nil && !errors.Is(err, ErrDiscarded) {
			c.log.Error("controller: refresh failed", "error", err)
		}
	}()
}

type bundle struct {
	samples []latency.Sample
	history []latency.HistoricalPoint
	nodes   []topology.Node
}

func (c *Controller) refresh(ctx context.Context) (Snapshot, error) {
	cycleID := uuid.NewString()
	start := c.cfg.Clock.Now()
	log := c.log.With("cycle_id", cycleID)

	c.mu.Lock()
	c.inFlight++
	c.mu.Unlock()
	metrics.RefreshesInFlight.Inc()
	defer func() {
		c.mu.Lock()
		c.inFlight--
		c.mu.Unlock()
		metrics.RefreshesInFlight.Dec()
		metrics.RefreshDuration.Observe(c.cfg.Clock.Since(start).Seconds())
	}()

	log.Debug("controller: refresh started")
	b, pipelineErr := c.runPipeline(ctx, log)
	return c.commit(ctx, cycleID, b, pipelineErr, log)
}

func (c *Controller) runPipeline(ctx context.Context, log *slog.Logger) (b bundle, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("refresh panicked: %v", r)
		}
	}()

	batch, err := c.cfg.Fetcher.FetchAll(ctx, c.cfg.Locations)
	if err != nil {
		return bundle{}, fmt.Errorf("failed to fetch latency data: %w", err)
	}
	if len(batch.Failures) > 0 {
		log.Debug("controller: locations skipped", "failures", len(batch.Failures))
	}

	topo := c.cfg.Synthesizer.Synthesize(ctx, batch.Samples)
	if err := ctx.Err(); err != nil {
		return bundle{}, err
	}

	samples := make([]latency.Sample, 0, len(batch.Samples)+len(topo.Edges))
	samples = append(samples, batch.Samples...)
	samples = append(samples, topo.Edges...)

	known := c.cfg.Synthesizer.KnownNodes()
	nodes := make([]topology.Node, 0, len(known)+len(topo.Nodes))
	nodes = append(nodes, known...)
	nodes = append(nodes, topo.Nodes...)

	history := batch.History
	if history == nil {
		history = []latency.HistoricalPoint{}
	}

	return bundle{samples: samples, history: history, nodes: nodes}, nil
}

func (c *Controller) commit(ctx context.Context, cycleID string, b bundle, pipelineErr error, log *slog.Logger) (Snapshot, error) {
	c.mu.Lock()
	if c.closed || ctx.Err() != nil {
		c.mu.Unlock()
		metrics.RefreshesTotal.WithLabelValues(metrics.RefreshStatusDiscarded).Inc()
		log.Debug("controller: discarding refresh result")
		if cause := errors.Join(ctx.Err(), pipelineErr); cause != nil {
			return Snapshot{}, fmt.Errorf("%w: %w", ErrDiscarded, cause)
		}
		return Snapshot{}, ErrDiscarded
	}

	now := c.cfg.Clock.Now()
	var snap Snapshot
	if pipelineErr != nil {
		snap = emptySnapshot(StatusError)
		snap.Error = pipelineErr.Error()
		snap.LastUpdated = c.snapshot.LastUpdated
	} else {
		snap = Snapshot{
			Status:      StatusReady,
			Samples:     b.samples,
			History:     b.history,
			Nodes:       b.nodes,
			Metrics:     ComputeMetrics(b.samples, b.nodes, now),
			LastUpdated: now,
		}
	}
	snap.CycleID = cycleID
	c.snapshot = snap
	c.mu.Unlock()

	if pipelineErr != nil {
		metrics.RefreshesTotal.WithLabelValues(metrics.RefreshStatusError).Inc()
		metrics.SnapshotSamples.Set(0)
		metrics.SnapshotAverageLatency.Set(0)
		metrics.SnapshotUptime.Set(0)
	} else {
		metrics.RefreshesTotal.WithLabelValues(metrics.RefreshStatusReady).Inc()
		metrics.SnapshotSamples.Set(float64(len(snap.Samples)))
		metrics.SnapshotAverageLatency.Set(snap.Metrics.AverageLatencyMs)
		metrics.SnapshotUptime.Set(snap.Metrics.UptimePct)
		log.Info("controller: refresh committed", "samples", len(snap.Samples), "nodes", len(snap.Nodes), "history", len(snap.History))
	}

	c.publish(snap)
	return snap, pipelineErr
}

// Snapshot returns the latest committed state. Status is loading while any
// refresh is in flight.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := c.snapshot
	snap.Loading = c.inFlight > 0
	if snap.Loading {
		snap.Status = StatusLoading
	}
	return snap
}

func (c *Controller) Loading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inFlight > 0
}

// Subscribe returns a channel that receives every committed snapshot. A slow
// subscriber only sees the most recent one. The channel is closed when the
// controller stops or cancel is called.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	c.subsMu.Lock()
	c.subs[ch] = struct{}{}
	c.subsMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.subsMu.Lock()
			defer c.subsMu.Unlock()
			if _, ok := c.subs[ch]; ok {
				delete(c.subs, ch)
				close(ch)
			}
		})
	}
	return ch, cancel
}

func (c *Controller) publish(snap Snapshot) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for ch := range c.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- snap:
			default:
			}
		}
	}
}

func (c *Controller) closeSubscribers() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for ch := range c.subs {
		delete(c.subs, ch)
		close(ch)
	}
}
