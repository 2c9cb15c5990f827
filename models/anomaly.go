package models

import (
	"time"

	"github.com/google/uuid"
)

// AnomalyKind identifies the rule that produced an anomaly record.
type AnomalyKind string

const (
	AnomalyVolumeSpike    AnomalyKind = "volume_spike"
	AnomalyPriceSpike     AnomalyKind = "price_spike"
	AnomalyDepthImbalance AnomalyKind = "depth_imbalance"
	AnomalyWhaleTrade     AnomalyKind = "whale_trade"
)

// Severity grades how far an observation deviates from expectation.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseSeverity maps a configuration string onto a Severity. Unknown values
// fall back to low so a bad threshold never silences alerts entirely.
func ParseSeverity(s string) Severity {
	switch s {
	case "medium":
		return SeverityMedium
	case "high":
		return SeverityHigh
	case "critical":
		return SeverityCritical
	default:
		return SeverityLow
	}
}

// AnomalyRecord is created once per qualifying event and never mutated
// afterwards. ZScore is nil when the window had insufficient samples or
// variance; PctChange is nil when no prior price was recorded.
type AnomalyRecord struct {
	ID          uuid.UUID   `json:"id"`
	Exchange    string      `json:"exchange"`
	Symbol      string      `json:"symbol"`
	Kind        AnomalyKind `json:"kind"`
	Severity    Severity    `json:"severity"`
	Observed    float64     `json:"observed"`
	Expected    float64     `json:"expected"`
	Deviation   float64     `json:"deviation"`
	ZScore      *float64    `json:"z_score,omitempty"`
	PctChange   *float64    `json:"pct_change,omitempty"`
	Description string      `json:"description"`
	DetectedAt  time.Time   `json:"detected_at"`
}

// StatsSnapshot is a point-in-time view of one rolling window, published
// for downstream persistence and dashboards.
type StatsSnapshot struct {
	Exchange    string    `json:"exchange"`
	Symbol      string    `json:"symbol"`
	Metric      string    `json:"metric"`
	Mean        float64   `json:"mean"`
	StdDev      float64   `json:"std_dev"`
	SampleCount int       `json:"sample_count"`
	LastValue   float64   `json:"last_value"`
	Timestamp   time.Time `json:"timestamp"`
}
