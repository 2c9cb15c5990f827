package detector

import (
	"fmt"

	"marketpulse/models"
)

// Bands maps an observed magnitude onto a severity. Thresholds are
// absolute values of whatever quantity the owning rule grades (z-score,
// percentage change, size ratio or notional) and must be ascending.
type Bands struct {
	Medium   float64 `yaml:"medium"`
	High     float64 `yaml:"high"`
	Critical float64 `yaml:"critical"`
}

// Grade returns the severity band for v.
func (b Bands) Grade(v float64) models.Severity {
	switch {
	case v >= b.Critical:
		return models.SeverityCritical
	case v >= b.High:
		return models.SeverityHigh
	case v >= b.Medium:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func (b Bands) validate(rule string) error {
	if b.Medium <= 0 || b.High <= b.Medium || b.Critical <= b.High {
		return fmt.Errorf("%s severity bands must be positive and ascending", rule)
	}
	return nil
}

// VolumeSpikeConfig tunes the z-score based volume rule.
type VolumeSpikeConfig struct {
	Enabled             bool    `yaml:"enabled"`
	ThresholdMultiplier float64 `yaml:"threshold_multiplier"`
	Bands               Bands   `yaml:"bands"`
}

// PriceSpikeConfig tunes the percentage-change price rule.
type PriceSpikeConfig struct {
	Enabled          bool    `yaml:"enabled"`
	ChangePercentage float64 `yaml:"change_percentage"`
	Bands            Bands   `yaml:"bands"`
}

// DepthImbalanceConfig tunes the book-top bid/ask size ratio rule.
type DepthImbalanceConfig struct {
	Enabled bool    `yaml:"enabled"`
	Ratio   float64 `yaml:"ratio"`
	Bands   Bands   `yaml:"bands"`
}

// WhaleTradeConfig tunes the absolute trade notional rule.
type WhaleTradeConfig struct {
	Enabled     bool    `yaml:"enabled"`
	MinNotional float64 `yaml:"min_notional"`
	Bands       Bands   `yaml:"bands"`
}

// Config holds the full rule set plus the shared window parameters.
type Config struct {
	LookbackWindowMinutes int                  `yaml:"lookback_window_minutes"`
	WindowCapacity        int                  `yaml:"window_capacity"`
	MinSamples            int                  `yaml:"min_samples"`
	VolumeSpike           VolumeSpikeConfig    `yaml:"volume_spike"`
	PriceSpike            PriceSpikeConfig     `yaml:"price_spike"`
	DepthImbalance        DepthImbalanceConfig `yaml:"depth_imbalance"`
	WhaleTrade            WhaleTradeConfig     `yaml:"whale_trade"`
}

// DefaultConfig mirrors the thresholds the engine ships with.
func DefaultConfig() Config {
	return Config{
		LookbackWindowMinutes: 60,
		WindowCapacity:        60,
		MinSamples:            30,
		VolumeSpike: VolumeSpikeConfig{
			Enabled:             true,
			ThresholdMultiplier: 3.0,
			Bands:               Bands{Medium: 3, High: 4, Critical: 5},
		},
		PriceSpike: PriceSpikeConfig{
			Enabled:          true,
			ChangePercentage: 5.0,
			Bands:            Bands{Medium: 5, High: 7, Critical: 10},
		},
		DepthImbalance: DepthImbalanceConfig{
			Enabled: true,
			Ratio:   3.0,
			Bands:   Bands{Medium: 3, High: 6, Critical: 9},
		},
		WhaleTrade: WhaleTradeConfig{
			Enabled:     true,
			MinNotional: 1_000_000,
			Bands:       Bands{Medium: 1_000_000, High: 2_000_000, Critical: 3_000_000},
		},
	}
}

// ApplyDefaults fills zero-valued band thresholds from the rule threshold
// so a minimal configuration stays usable.
func (c *Config) ApplyDefaults() {
	if c.WindowCapacity <= 0 {
		c.WindowCapacity = 60
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 30
	}
	if c.VolumeSpike.Bands == (Bands{}) && c.VolumeSpike.ThresholdMultiplier > 0 {
		m := c.VolumeSpike.ThresholdMultiplier
		c.VolumeSpike.Bands = Bands{Medium: m, High: m + 1, Critical: m + 2}
	}
	if c.PriceSpike.Bands == (Bands{}) && c.PriceSpike.ChangePercentage > 0 {
		p := c.PriceSpike.ChangePercentage
		c.PriceSpike.Bands = Bands{Medium: p, High: p * 1.4, Critical: p * 2}
	}
	if c.DepthImbalance.Bands == (Bands{}) && c.DepthImbalance.Ratio > 0 {
		r := c.DepthImbalance.Ratio
		c.DepthImbalance.Bands = Bands{Medium: r, High: r * 2, Critical: r * 3}
	}
	if c.WhaleTrade.Bands == (Bands{}) && c.WhaleTrade.MinNotional > 0 {
		n := c.WhaleTrade.MinNotional
		c.WhaleTrade.Bands = Bands{Medium: n, High: n * 2, Critical: n * 3}
	}
}

// Validate rejects structurally invalid rule configurations.
func (c *Config) Validate() error {
	if c.MinSamples < 2 {
		return fmt.Errorf("min_samples must be at least 2")
	}
	if c.WindowCapacity < c.MinSamples {
		return fmt.Errorf("window_capacity %d smaller than min_samples %d", c.WindowCapacity, c.MinSamples)
	}
	if c.LookbackWindowMinutes < 0 {
		return fmt.Errorf("lookback_window_minutes must not be negative")
	}
	if c.VolumeSpike.Enabled {
		if c.VolumeSpike.ThresholdMultiplier <= 0 {
			return fmt.Errorf("volume_spike threshold_multiplier must be positive")
		}
		if err := c.VolumeSpike.Bands.validate("volume_spike"); err != nil {
			return err
		}
	}
	if c.PriceSpike.Enabled {
		if c.PriceSpike.ChangePercentage <= 0 {
			return fmt.Errorf("price_spike change_percentage must be positive")
		}
		if err := c.PriceSpike.Bands.validate("price_spike"); err != nil {
			return err
		}
	}
	if c.DepthImbalance.Enabled {
		if c.DepthImbalance.Ratio <= 1 {
			return fmt.Errorf("depth_imbalance ratio must be greater than 1")
		}
		if err := c.DepthImbalance.Bands.validate("depth_imbalance"); err != nil {
			return err
		}
	}
	if c.WhaleTrade.Enabled {
		if c.WhaleTrade.MinNotional <= 0 {
			return fmt.Errorf("whale_trade min_notional must be positive")
		}
		if err := c.WhaleTrade.Bands.validate("whale_trade"); err != nil {
			return err
		}
	}
	return nil
}
