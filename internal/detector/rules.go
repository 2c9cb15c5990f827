package detector

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"marketpulse/internal/window"
	"marketpulse/models"
)

// Context is the read-only pre-update view of a key's windows shared by
// every rule evaluating one event.
type Context struct {
	Price  window.Snapshot
	Volume window.Snapshot
}

// Rule is one independent predicate+classifier unit. Implementations must
// be pure over (event, context) so classification is deterministic and
// order-independent.
type Rule interface {
	Kind() models.AnomalyKind
	Evaluate(ev *models.MarketEvent, pre Context) (models.AnomalyRecord, bool)
}

type volumeSpikeRule struct {
	cfg        VolumeSpikeConfig
	minSamples int
}

func (r volumeSpikeRule) Kind() models.AnomalyKind { return models.AnomalyVolumeSpike }

func (r volumeSpikeRule) Evaluate(ev *models.MarketEvent, pre Context) (models.AnomalyRecord, bool) {
	if ev.Kind != models.EventKindTrade || ev.Volume <= 0 {
		return models.AnomalyRecord{}, false
	}
	// The event under evaluation counts toward the warm-up requirement:
	// the pre-update window holds one sample fewer.
	if pre.Volume.SampleCount < r.minSamples-1 {
		return models.AnomalyRecord{}, false
	}
	z, ok := pre.Volume.ZScore(ev.Volume)
	if !ok || z <= r.cfg.ThresholdMultiplier {
		return models.AnomalyRecord{}, false
	}
	zv := z
	return models.AnomalyRecord{
		ID:        uuid.New(),
		Exchange:  ev.Exchange,
		Symbol:    ev.Symbol,
		Kind:      models.AnomalyVolumeSpike,
		Severity:  r.cfg.Bands.Grade(z),
		Observed:  ev.Volume,
		Expected:  pre.Volume.Mean,
		Deviation: ev.Volume - pre.Volume.Mean,
		ZScore:    &zv,
		Description: fmt.Sprintf("volume spike on %s: observed %.4f vs mean %.4f (z=%.2f)",
			ev.Key(), ev.Volume, pre.Volume.Mean, z),
		DetectedAt: ev.EventTime,
	}, true
}

type priceSpikeRule struct {
	cfg        PriceSpikeConfig
	minSamples int
}

func (r priceSpikeRule) Kind() models.AnomalyKind { return models.AnomalyPriceSpike }

func (r priceSpikeRule) Evaluate(ev *models.MarketEvent, pre Context) (models.AnomalyRecord, bool) {
	if ev.Price <= 0 {
		return models.AnomalyRecord{}, false
	}
	if pre.Price.SampleCount < r.minSamples-1 {
		return models.AnomalyRecord{}, false
	}
	last := pre.Price.LastValue
	if last <= 0 {
		return models.AnomalyRecord{}, false
	}
	pct := (ev.Price - last) / last * 100
	if math.Abs(pct) <= r.cfg.ChangePercentage {
		return models.AnomalyRecord{}, false
	}
	rec := models.AnomalyRecord{
		ID:        uuid.New(),
		Exchange:  ev.Exchange,
		Symbol:    ev.Symbol,
		Kind:      models.AnomalyPriceSpike,
		Severity:  r.cfg.Bands.Grade(math.Abs(pct)),
		Observed:  ev.Price,
		Expected:  last,
		Deviation: ev.Price - last,
		Description: fmt.Sprintf("price spike on %s: %.4f -> %.4f (%.2f%%)",
			ev.Key(), last, ev.Price, pct),
		DetectedAt: ev.EventTime,
	}
	pv := pct
	rec.PctChange = &pv
	if z, ok := pre.Price.ZScore(ev.Price); ok {
		zv := z
		rec.ZScore = &zv
	}
	return rec, true
}

type depthImbalanceRule struct {
	cfg DepthImbalanceConfig
}

func (r depthImbalanceRule) Kind() models.AnomalyKind { return models.AnomalyDepthImbalance }

func (r depthImbalanceRule) Evaluate(ev *models.MarketEvent, pre Context) (models.AnomalyRecord, bool) {
	if ev.Kind != models.EventKindBookTop || ev.BidSize <= 0 || ev.AskSize <= 0 {
		return models.AnomalyRecord{}, false
	}
	ratio := ev.BidSize / ev.AskSize
	side := "bid"
	if ratio < 1 {
		ratio = ev.AskSize / ev.BidSize
		side = "ask"
	}
	if ratio <= r.cfg.Ratio {
		return models.AnomalyRecord{}, false
	}
	return models.AnomalyRecord{
		ID:        uuid.New(),
		Exchange:  ev.Exchange,
		Symbol:    ev.Symbol,
		Kind:      models.AnomalyDepthImbalance,
		Severity:  r.cfg.Bands.Grade(ratio),
		Observed:  ratio,
		Expected:  1,
		Deviation: ratio - 1,
		Description: fmt.Sprintf("depth imbalance on %s: %s side %.2fx heavier (bid %.4f / ask %.4f)",
			ev.Key(), side, ratio, ev.BidSize, ev.AskSize),
		DetectedAt: ev.EventTime,
	}, true
}

type whaleTradeRule struct {
	cfg WhaleTradeConfig
}

func (r whaleTradeRule) Kind() models.AnomalyKind { return models.AnomalyWhaleTrade }

func (r whaleTradeRule) Evaluate(ev *models.MarketEvent, pre Context) (models.AnomalyRecord, bool) {
	if ev.Kind != models.EventKindTrade {
		return models.AnomalyRecord{}, false
	}
	notional := ev.Notional()
	if notional <= r.cfg.MinNotional {
		return models.AnomalyRecord{}, false
	}
	return models.AnomalyRecord{
		ID:        uuid.New(),
		Exchange:  ev.Exchange,
		Symbol:    ev.Symbol,
		Kind:      models.AnomalyWhaleTrade,
		Severity:  r.cfg.Bands.Grade(notional),
		Observed:  notional,
		Expected:  r.cfg.MinNotional,
		Deviation: notional - r.cfg.MinNotional,
		Description: fmt.Sprintf("whale trade on %s: notional %.2f (%.4f @ %.4f)",
			ev.Key(), notional, ev.Volume, ev.Price),
		DetectedAt: ev.EventTime,
	}, true
}
