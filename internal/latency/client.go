package latency

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/jonboulle/clockwork"
)

const (
	defaultRequestTimeout   = 10 * time.Second
	defaultFetchConcurrency = 8
	maxResponseBytes        = 4 << 20

	kindRealtime   = "realtime"
	kindHistorical = "historical"

	userAgent = "latencymap/1.0"
)

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type ClientConfig struct {
	Logger     *slog.Logger
	HTTPClient HTTPClient
	Clock      clockwork.Clock

	LatencyURL       string
	Hub              string
	Thresholds       Thresholds
	RequestTimeout   time.Duration
	FetchConcurrency int
}

func (c *ClientConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.LatencyURL == "" {
		return errors.New("latency url is required")
	}
	if _, err := url.Parse(c.LatencyURL); err != nil {
		return fmt.Errorf("invalid latency url: %w", err)
	}
	if c.Hub == "" {
		return errors.New("hub is required")
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Thresholds == (Thresholds{}) {
		c.Thresholds = DefaultThresholds
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.FetchConcurrency == 0 {
		c.FetchConcurrency = defaultFetchConcurrency
	}
	return nil
}

// Client talks to the local latency proxy.
type Client struct {
	log *slog.Logger
	cfg *ClientConfig

	pool pond.ResultPool[locationResult]
}

func NewClient(cfg *ClientConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		log:  cfg.Logger,
		cfg:  cfg,
		pool: pond.NewResultPool[locationResult](cfg.FetchConcurrency),
	}, nil
}

func (c *Client) Close() {
	c.pool.StopAndWait()
}

// GetRealtime returns the current hub sample for a location.
func (c *Client) GetRealtime(ctx context.Context, code string) (*Sample, error) {
	body, err := c.get(ctx, kindRealtime, code)
	if err != nil {
		return nil, err
	}
	summary, err := decodeRealtime(body, code)
	if err != nil {
		return nil, err
	}

	latencyMs := summary.LatencyIdle.value
	return &Sample{
		ID:            SampleID(code, c.cfg.Hub),
		Source:        code,
		Target:        c.cfg.Hub,
		LatencyMs:     latencyMs,
		Timestamp:     c.cfg.Clock.Now().UTC(),
		Quality:       Classify(latencyMs, c.cfg.Thresholds),
		PacketLossPct: summary.PacketLoss.ptr(),
		JitterMs:      summary.JitterIdle.ptr(),
	}, nil
}

// GetHistorical returns the historical median series for a location, sorted by
// timestamp.
func (c *Client) GetHistorical(ctx context.Context, code string) ([]HistoricalPoint, error) {
	body, err := c.get(ctx, kindHistorical, code)
	if err != nil {
		return nil, err
	}
	return decodeHistorical(body, code, c.cfg.Hub)
}

func (c *Client) get(ctx context.Context, kind, code string) ([]byte, error) {
	u, err := url.Parse(c.cfg.LatencyURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse latency url: %w", err)
	}
	q := u.Query()
	q.Set("type", kind)
	q.Set("location", code)
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make %s request for %s: %w", kind, code, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &APIError{Location: code, Kind: kind, StatusCode: resp.StatusCode, Message: string(msg)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response for %s: %w", kind, code, err)
	}
	return body, nil
}
