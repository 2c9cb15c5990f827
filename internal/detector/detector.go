// Package detector classifies normalized market events against the
// rolling statistics of their key. Rules observe a consistent pre-update
// snapshot; folding the event into the windows is the caller's job and
// happens exactly once after evaluation.
package detector

import (
	"marketpulse/models"
)

// Detector evaluates the enabled rule set over one event. It carries no
// per-key state, so a single instance may be shared by all keys of a shard.
type Detector struct {
	rules []Rule
}

// New builds a detector from the rule configuration. Disabled rules are
// not instantiated.
func New(cfg Config) *Detector {
	d := &Detector{}
	if cfg.VolumeSpike.Enabled {
		d.rules = append(d.rules, volumeSpikeRule{cfg: cfg.VolumeSpike, minSamples: cfg.MinSamples})
	}
	if cfg.PriceSpike.Enabled {
		d.rules = append(d.rules, priceSpikeRule{cfg: cfg.PriceSpike, minSamples: cfg.MinSamples})
	}
	if cfg.DepthImbalance.Enabled {
		d.rules = append(d.rules, depthImbalanceRule{cfg: cfg.DepthImbalance})
	}
	if cfg.WhaleTrade.Enabled {
		d.rules = append(d.rules, whaleTradeRule{cfg: cfg.WhaleTrade})
	}
	return d
}

// Evaluate runs every rule against the pre-update context and returns the
// qualifying anomaly records. A single event can trigger several rules.
func (d *Detector) Evaluate(ev *models.MarketEvent, pre Context) []models.AnomalyRecord {
	var records []models.AnomalyRecord
	for _, rule := range d.rules {
		if rec, ok := rule.Evaluate(ev, pre); ok {
			records = append(records, rec)
		}
	}
	return records
}
