package engine

import (
	"context"
	"sync/atomic"
	"time"

	"marketpulse/internal/detector"
	"marketpulse/internal/emitter"
	"marketpulse/internal/trader"
	"marketpulse/internal/window"
	"marketpulse/logger"
	"marketpulse/models"
)

// keyState is the per-key triple owned by exactly one shard worker:
// rolling windows, position state machine and an event counter driving
// periodic statistics snapshots.
type keyState struct {
	series  *window.Series
	machine *trader.Machine
	events  int64
}

// shard is one worker of the pool. Everything below the input channel is
// confined to the worker goroutine.
type shard struct {
	id   int
	in   chan *models.MarketEvent
	cfg  *atomic.Pointer[Config]
	done <-chan struct{}
	em   *emitter.Emitter
	log  *logger.Entry

	keys map[string]*keyState

	// Detector instances are stateless and derived purely from the
	// configuration, so one per shard is rebuilt only on config swap.
	det     *detector.Detector
	cfgSeen *Config

	baseLog *logger.Log
}

func newShard(id, buffer int, cfg *atomic.Pointer[Config], done <-chan struct{}, em *emitter.Emitter, log *logger.Log) *shard {
	return &shard{
		id:      id,
		in:      make(chan *models.MarketEvent, buffer),
		cfg:     cfg,
		done:    done,
		em:      em,
		keys:    make(map[string]*keyState),
		log:     log.WithComponent("shard").WithFields(logger.Fields{"shard": id}),
		baseLog: log,
	}
}

// run consumes the shard queue until shutdown is signalled, then drains
// whatever was accepted beforehand. The queue itself is never closed.
func (s *shard) run(ctx context.Context) {
	for {
		select {
		case ev := <-s.in:
			s.process(ctx, ev)
		case <-s.done:
			s.drain(ctx)
			s.log.WithFields(logger.Fields{"keys": len(s.keys)}).Debug("shard worker drained and stopped")
			return
		}
	}
}

func (s *shard) drain(ctx context.Context) {
	for {
		select {
		case ev := <-s.in:
			s.process(ctx, ev)
		default:
			return
		}
	}
}

func (s *shard) detectorFor(cfg *Config) *detector.Detector {
	if s.cfgSeen != cfg {
		s.det = detector.New(cfg.Detector)
		s.cfgSeen = cfg
	}
	return s.det
}

func (s *shard) stateFor(ev *models.MarketEvent, cfg *Config) *keyState {
	key := ev.Key()
	ks, ok := s.keys[key]
	if !ok {
		maxAge := time.Duration(cfg.Detector.LookbackWindowMinutes) * time.Minute
		ks = &keyState{
			series:  window.NewSeries(cfg.Detector.WindowCapacity, maxAge),
			machine: trader.New(ev.Exchange, ev.Symbol, s.baseLog),
		}
		s.keys[key] = ks
		s.log.WithFields(logger.Fields{"key": key}).Debug("key state created")
	}
	return ks
}

// process runs the fixed per-event pipeline: snapshot the windows,
// evaluate the rules against that pre-update view, fold the event in
// exactly once, then advance the position state machine. Detection
// therefore always compares the event against history that excludes it.
func (s *shard) process(ctx context.Context, ev *models.MarketEvent) {
	cfg := s.cfg.Load()
	det := s.detectorFor(cfg)
	ks := s.stateFor(ev, cfg)

	pre := detector.Context{
		Price:  ks.series.Price.Snapshot(),
		Volume: ks.series.Volume.Snapshot(),
	}
	records := det.Evaluate(ev, pre)

	ks.series.Apply(ev.Price, ev.Volume, ev.Kind == models.EventKindTrade, ev.EventTime)
	ks.events++

	trading := ks.machine.OnTick(ev.Price, ev.EventTime)

	risk := cfg.Risk.ForKey(ev.Exchange, ev.Symbol)
	for i := range records {
		res := ks.machine.OnAnomaly(&records[i], ev.Price, risk, ev.EventTime)
		s.em.PublishAnomaly(emitter.AnomalyEvent{
			Record:     records[i],
			SignalOnly: res.SignalOnly,
			RiskReason: res.RiskReason,
		})
		trading = mergeResults(trading, res)
	}

	s.publishTrading(ctx, trading)

	if cfg.StatsEveryN > 0 && ks.events%int64(cfg.StatsEveryN) == 0 {
		s.publishStats(ev, ks)
	}
}

func mergeResults(a, b trader.Result) trader.Result {
	a.Intents = append(a.Intents, b.Intents...)
	a.Updates = append(a.Updates, b.Updates...)
	return a
}

// publishTrading forwards intents and position updates through the
// never-drop trading queue. Position updates go out before intents so
// consumers observe the transition that motivated each order.
func (s *shard) publishTrading(ctx context.Context, res trader.Result) {
	for i := range res.Updates {
		if err := s.em.PublishTrading(ctx, emitter.TradingEvent{Position: &res.Updates[i]}); err != nil {
			s.log.WithError(err).Error("position update publish aborted")
			return
		}
	}
	for i := range res.Intents {
		if err := s.em.PublishTrading(ctx, emitter.TradingEvent{Intent: &res.Intents[i]}); err != nil {
			s.log.WithError(err).Error("trade intent publish aborted")
			return
		}
	}
}

func (s *shard) publishStats(ev *models.MarketEvent, ks *keyState) {
	now := time.Now().UTC()
	price := ks.series.Price.Snapshot()
	s.em.PublishStats(models.StatsSnapshot{
		Exchange:    ev.Exchange,
		Symbol:      ev.Symbol,
		Metric:      "price",
		Mean:        price.Mean,
		StdDev:      price.StdDev,
		SampleCount: price.SampleCount,
		LastValue:   price.LastValue,
		Timestamp:   now,
	})
	volume := ks.series.Volume.Snapshot()
	s.em.PublishStats(models.StatsSnapshot{
		Exchange:    ev.Exchange,
		Symbol:      ev.Symbol,
		Metric:      "volume",
		Mean:        volume.Mean,
		StdDev:      volume.StdDev,
		SampleCount: volume.SampleCount,
		LastValue:   volume.LastValue,
		Timestamp:   now,
	})
}
