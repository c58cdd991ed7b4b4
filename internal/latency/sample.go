package latency

import (
	"fmt"
	"time"

	"github.com/malbeclabs/latencymap/internal/geo"
)

type QualityBand string

const (
	QualityExcellent QualityBand = "excellent"
	QualityGood      QualityBand = "good"
	QualityFair      QualityBand = "fair"
	QualityPoor      QualityBand = "poor"
)

// QualityBands lists every band from best to worst.
var QualityBands = []QualityBand{QualityExcellent, QualityGood, QualityFair, QualityPoor}

func ParseQualityBand(s string) (QualityBand, error) {
	for _, q := range QualityBands {
		if string(q) == s {
			return q, nil
		}
	}
	return "", fmt.Errorf("invalid quality band %q", s)
}

// Thresholds are inclusive upper bounds in milliseconds for each band. Anything
// above FairMaxMs is poor.
type Thresholds struct {
	ExcellentMaxMs float64
	GoodMaxMs      float64
	FairMaxMs      float64
}

var DefaultThresholds = Thresholds{
	ExcellentMaxMs: 50,
	GoodMaxMs:      100,
	FairMaxMs:      200,
}

func Classify(latencyMs float64, t Thresholds) QualityBand {
	switch {
	case latencyMs <= t.ExcellentMaxMs:
		return QualityExcellent
	case latencyMs <= t.GoodMaxMs:
		return QualityGood
	case latencyMs <= t.FairMaxMs:
		return QualityFair
	default:
		return QualityPoor
	}
}

// Sample is one latency measurement between two codes. Samples fetched from the
// proxy target the hub; derived samples connect two regions.
type Sample struct {
	ID            string      `json:"id"`
	Source        string      `json:"source"`
	Target        string      `json:"target"`
	LatencyMs     float64     `json:"latency_ms"`
	Timestamp     time.Time   `json:"timestamp"`
	Quality       QualityBand `json:"quality"`
	PacketLossPct *float64    `json:"packet_loss_pct,omitempty"`
	JitterMs      *float64    `json:"jitter_ms,omitempty"`
	Derived       bool        `json:"derived"`
	DistanceKm    *float64    `json:"distance_km,omitempty"`
	// ArcControl is the unit-sphere position of the great-circle midpoint,
	// set on edges whose endpoints are located.
	ArcControl *geo.Vec3 `json:"arc_control,omitempty"`
}

func SampleID(source, target string) string {
	return source + "-" + target
}

type HistoricalPoint struct {
	Timestamp time.Time `json:"timestamp"`
	LatencyMs float64   `json:"latency_ms"`
	Source    string    `json:"source"`
	Target    string    `json:"target"`
}
