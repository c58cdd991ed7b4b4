package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/malbeclabs/latencymap/internal/geo"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultYAML []byte

const (
	defaultRequestTimeout   = 10 * time.Second
	defaultRefreshInterval  = 30 * time.Second
	defaultFetchConcurrency = 8
	defaultHubCode          = "hub"

	// UnknownProvider is used for regions missing from the provider mapping.
	UnknownProvider = "Unknown"

	StatusOnline      = "online"
	StatusOffline     = "offline"
	StatusMaintenance = "maintenance"
)

var (
	ErrNoLocations = errors.New("no locations configured")
)

type ProxyConfig struct {
	LatencyURL     string        `yaml:"latency_url"`
	MetadataURL    string        `yaml:"metadata_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type Region struct {
	Code      string  `yaml:"code" json:"code"`
	Name      string  `yaml:"name" json:"name"`
	Latitude  float64 `yaml:"latitude" json:"latitude"`
	Longitude float64 `yaml:"longitude" json:"longitude"`
}

type Exchange struct {
	ID        string  `yaml:"id" json:"id"`
	Name      string  `yaml:"name" json:"name"`
	Region    string  `yaml:"region" json:"region"`
	Latitude  float64 `yaml:"latitude" json:"latitude"`
	Longitude float64 `yaml:"longitude" json:"longitude"`
	Provider  string  `yaml:"provider" json:"provider"`
	Status    string  `yaml:"status" json:"status"`
}

type QualityThresholds struct {
	ExcellentMaxMs float64 `yaml:"excellent_max_ms"`
	GoodMaxMs      float64 `yaml:"good_max_ms"`
	FairMaxMs      float64 `yaml:"fair_max_ms"`
}

// Config is the static dashboard configuration. It is loaded once and treated
// as immutable; components receive it (or parts of it) at construction.
type Config struct {
	Proxy             ProxyConfig       `yaml:"proxy"`
	RefreshInterval   time.Duration     `yaml:"refresh_interval"`
	FetchConcurrency  int               `yaml:"fetch_concurrency"`
	Locations         []string          `yaml:"locations"`
	Hub               Region            `yaml:"hub"`
	QualityThresholds QualityThresholds `yaml:"quality_thresholds"`
	FallbackRegions   []Region          `yaml:"fallback_regions"`
	RegionProviders   map[string]string `yaml:"region_providers"`
	ProviderColors    map[string]string `yaml:"provider_colors"`
	Exchanges         []Exchange        `yaml:"exchanges"`
}

// Default returns the embedded default configuration.
func Default() (*Config, error) {
	return Parse(defaultYAML)
}

// Load reads a YAML file and overlays it on the embedded defaults. Keys absent
// from the file keep their default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Default()
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Proxy.LatencyURL == "" {
		return errors.New("proxy latency url is required")
	}
	if c.Proxy.MetadataURL == "" {
		return errors.New("proxy metadata url is required")
	}
	if c.Proxy.RequestTimeout == 0 {
		c.Proxy.RequestTimeout = defaultRequestTimeout
	}
	if c.Proxy.RequestTimeout < 0 {
		return errors.New("proxy request timeout must be greater than 0")
	}
	if c.RefreshInterval == 0 {
		c.RefreshInterval = defaultRefreshInterval
	}
	if c.RefreshInterval < 0 {
		return errors.New("refresh interval must be greater than 0")
	}
	if c.FetchConcurrency == 0 {
		c.FetchConcurrency = defaultFetchConcurrency
	}
	if c.FetchConcurrency < 0 {
		return errors.New("fetch concurrency must be greater than 0")
	}

	if len(c.Locations) == 0 {
		return ErrNoLocations
	}
	seen := make(map[string]struct{}, len(c.Locations))
	for i, code := range c.Locations {
		code = strings.ToUpper(strings.TrimSpace(code))
		if code == "" {
			return fmt.Errorf("location %d is empty", i)
		}
		if _, ok := seen[code]; ok {
			return fmt.Errorf("duplicate location %q", code)
		}
		seen[code] = struct{}{}
		c.Locations[i] = code
	}

	if c.Hub.Code == "" {
		c.Hub.Code = defaultHubCode
	}
	if _, ok := seen[strings.ToUpper(c.Hub.Code)]; ok {
		return fmt.Errorf("hub code %q collides with a location", c.Hub.Code)
	}
	if !geo.ValidCoordinates(c.Hub.Latitude, c.Hub.Longitude) {
		return fmt.Errorf("hub coordinates out of range: %f,%f", c.Hub.Latitude, c.Hub.Longitude)
	}

	t := c.QualityThresholds
	if t.ExcellentMaxMs <= 0 || t.GoodMaxMs <= t.ExcellentMaxMs || t.FairMaxMs <= t.GoodMaxMs {
		return fmt.Errorf("quality thresholds must be positive and strictly increasing: %v/%v/%v", t.ExcellentMaxMs, t.GoodMaxMs, t.FairMaxMs)
	}

	for _, r := range c.FallbackRegions {
		if r.Code == "" {
			return errors.New("fallback region code is required")
		}
		if !geo.ValidCoordinates(r.Latitude, r.Longitude) {
			return fmt.Errorf("fallback region %s coordinates out of range", r.Code)
		}
	}

	ids := make(map[string]struct{}, len(c.Exchanges))
	for i, ex := range c.Exchanges {
		if ex.ID == "" {
			return fmt.Errorf("exchange %d id is required", i)
		}
		if _, ok := ids[ex.ID]; ok {
			return fmt.Errorf("duplicate exchange id %q", ex.ID)
		}
		ids[ex.ID] = struct{}{}
		if !geo.ValidCoordinates(ex.Latitude, ex.Longitude) {
			return fmt.Errorf("exchange %s coordinates out of range", ex.ID)
		}
		c.Exchanges[i].Region = strings.ToUpper(strings.TrimSpace(ex.Region))
		if ex.Status == "" {
			c.Exchanges[i].Status = StatusOnline
		}
		if ex.Provider == "" {
			c.Exchanges[i].Provider = UnknownProvider
		}
	}

	c.RegionProviders = normalizeRegionKeys(c.RegionProviders)
	if c.ProviderColors == nil {
		c.ProviderColors = map[string]string{}
	}
	return nil
}

// normalizeRegionKeys upper-cases region codes. A key that had to be rewritten
// takes precedence over an existing upper-case key, so a lower-case entry in a
// config file overrides the embedded default for the same region.
func normalizeRegionKeys(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	var rewritten []string
	for k, v := range m {
		code := strings.ToUpper(strings.TrimSpace(k))
		if code != k {
			rewritten = append(rewritten, k)
			continue
		}
		out[code] = v
	}
	slices.Sort(rewritten)
	for _, k := range rewritten {
		out[strings.ToUpper(strings.TrimSpace(k))] = m[k]
	}
	return out
}

// FallbackRegion looks up a code in the static fallback table.
func (c *Config) FallbackRegion(code string) (Region, bool) {
	for _, r := range c.FallbackRegions {
		if strings.EqualFold(r.Code, code) {
			return r, true
		}
	}
	return Region{}, false
}

// ProviderForRegion returns the cloud provider mapped to a region code.
func (c *Config) ProviderForRegion(code string) string {
	if p, ok := c.RegionProviders[strings.ToUpper(code)]; ok && p != "" {
		return p
	}
	return UnknownProvider
}

func (c *Config) ProviderColor(provider string) string {
	if color, ok := c.ProviderColors[provider]; ok {
		return color
	}
	return c.ProviderColors[UnknownProvider]
}

// KnownExchangeRegions returns the region codes covered by configured exchanges.
func (c *Config) KnownExchangeRegions() []string {
	var regions []string
	for _, ex := range c.Exchanges {
		if ex.Region != "" && !slices.Contains(regions, ex.Region) {
			regions = append(regions, ex.Region)
		}
	}
	return regions
}

// IsHub reports whether a code names the measurement hub.
func (c *Config) IsHub(code string) bool {
	return strings.EqualFold(code, c.Hub.Code)
}
