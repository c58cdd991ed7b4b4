package region

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/malbeclabs/latencymap/internal/config"
	"github.com/malbeclabs/latencymap/internal/geo"
	"github.com/malbeclabs/latencymap/internal/metrics"
)

const (
	defaultRequestTimeout = 10 * time.Second
	maxResponseBytes      = 1 << 20
)

var ErrNotFound = errors.New("region not found")

type Metadata struct {
	Code      string  `json:"code"`
	Name      string  `json:"name"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type MetadataResolver interface {
	Resolve(ctx context.Context, code string) (Metadata, error)
}

type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

type ResolverConfig struct {
	Logger     *slog.Logger
	HTTPClient HTTPClient

	MetadataURL    string
	Hub            config.Region
	Fallback       []config.Region
	RequestTimeout time.Duration
}

func (c *ResolverConfig) Validate() error {
	if c.Logger == nil {
		return errors.New("logger is required")
	}
	if c.MetadataURL == "" {
		return errors.New("metadata url is required")
	}
	if c.Hub.Code == "" {
		return errors.New("hub is required")
	}
	if c.HTTPClient == nil {
		c.HTTPClient = http.DefaultClient
	}
	if c.RequestTimeout == 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	return nil
}

// Resolver looks up region metadata from the proxy, falling back to a static
// table when the proxy cannot answer.
type Resolver struct {
	log *slog.Logger
	cfg *ResolverConfig

	fallback map[string]Metadata
}

func NewResolver(cfg *ResolverConfig) (*Resolver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	fallback := make(map[string]Metadata, len(cfg.Fallback))
	for _, r := range cfg.Fallback {
		fallback[strings.ToUpper(r.Code)] = fromRegion(r)
	}
	return &Resolver{
		log:      cfg.Logger,
		cfg:      cfg,
		fallback: fallback,
	}, nil
}

func fromRegion(r config.Region) Metadata {
	return Metadata{Code: r.Code, Name: r.Name, Latitude: r.Latitude, Longitude: r.Longitude}
}

func (r *Resolver) Resolve(ctx context.Context, code string) (Metadata, error) {
	if strings.EqualFold(code, r.cfg.Hub.Code) {
		metrics.RegionResolutionsTotal.WithLabelValues(metrics.ResolveOutcomeHub).Inc()
		return fromRegion(r.cfg.Hub), nil
	}

	md, remoteErr := r.fetch(ctx, code)
	if remoteErr == nil {
		metrics.RegionResolutionsTotal.WithLabelValues(metrics.ResolveOutcomeRemote).Inc()
		return md, nil
	}
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}

	if md, ok := r.fallback[strings.ToUpper(code)]; ok {
		r.log.Debug("region: using fallback metadata", "code", code, "error", remoteErr)
		metrics.RegionResolutionsTotal.WithLabelValues(metrics.ResolveOutcomeFallback).Inc()
		return md, nil
	}

	metrics.RegionResolutionsTotal.WithLabelValues(metrics.ResolveOutcomeNotFound).Inc()
	return Metadata{}, fmt.Errorf("%w: %s: %w", ErrNotFound, code, remoteErr)
}

type metadataResponse struct {
	Success bool `json:"success"`
	Data    *struct {
		Result *struct {
			Location *struct {
				Code      string          `json:"code"`
				Name      string          `json:"name"`
				Latitude  json.RawMessage `json:"latitude"`
				Longitude json.RawMessage `json:"longitude"`
			} `json:"location"`
		} `json:"result"`
	} `json:"data"`
}

func (r *Resolver) fetch(ctx context.Context, code string) (Metadata, error) {
	u, err := url.Parse(r.cfg.MetadataURL)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to parse metadata url: %w", err)
	}
	q := u.Query()
	q.Set("code", code)
	u.RawQuery = q.Encode()

	ctx, cancel := context.WithTimeout(ctx, r.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := r.cfg.HTTPClient.Do(req)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Metadata{}, fmt.Errorf("metadata request failed with status: %d", resp.StatusCode)
	}

	var body metadataResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&body); err != nil {
		return Metadata{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if !body.Success {
		return Metadata{}, errors.New("metadata request reported success=false")
	}
	if body.Data == nil || body.Data.Result == nil || body.Data.Result.Location == nil {
		return Metadata{}, errors.New("metadata response missing location")
	}
	loc := body.Data.Result.Location

	lat, err := parseCoordinate(loc.Latitude)
	if err != nil {
		return Metadata{}, fmt.Errorf("invalid latitude: %w", err)
	}
	lon, err := parseCoordinate(loc.Longitude)
	if err != nil {
		return Metadata{}, fmt.Errorf("invalid longitude: %w", err)
	}
	if !geo.ValidCoordinates(lat, lon) {
		return Metadata{}, fmt.Errorf("coordinates out of range: %v,%v", lat, lon)
	}

	md := Metadata{Code: loc.Code, Name: loc.Name, Latitude: lat, Longitude: lon}
	if md.Code == "" {
		md.Code = code
	}
	if md.Name == "" {
		md.Name = md.Code
	}
	return md, nil
}

// parseCoordinate accepts a JSON number or a numeric string.
func parseCoordinate(raw json.RawMessage) (float64, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, errors.New("missing")
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return 0, err
		}
		s = strings.TrimSpace(str)
	}
	return strconv.ParseFloat(s, 64)
}
