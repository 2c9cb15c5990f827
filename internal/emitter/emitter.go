// Package emitter is the engine's only output boundary. It publishes
// anomaly records, position/order updates and statistics snapshots to
// bounded queues consumed by downstream collaborators (persistence,
// notifier, execution) without blocking the processing hot path.
package emitter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"marketpulse/internal/metrics"
	"marketpulse/logger"
	"marketpulse/models"
)

// ErrClosed is returned for trading publishes attempted after Close.
var ErrClosed = errors.New("emitter closed")

// AnomalyEvent wraps an anomaly record with its trading disposition.
type AnomalyEvent struct {
	Record     models.AnomalyRecord
	SignalOnly bool
	RiskReason string
}

// TradingEvent carries either a trade intent or a position update.
type TradingEvent struct {
	Intent   *models.TradeIntent
	Position *models.PositionUpdate
}

// Stats tracks per-class publish and drop counts.
type Stats struct {
	AnomaliesPublished int64
	AnomaliesDropped   int64
	TradingPublished   int64
	StatsPublished     int64
	StatsDropped       int64
}

// Emitter owns one bounded queue per event class. The anomaly and stats
// classes drop their oldest entry when saturated; the trading class never
// drops and applies a blocking reservation instead.
type Emitter struct {
	anomalies chan AnomalyEvent
	trading   chan TradingEvent
	stats     chan models.StatsSnapshot

	anomaliesPublished int64
	anomaliesDropped   int64
	tradingPublished   int64
	statsPublished     int64
	statsDropped       int64

	// done signals closure instead of closing the queues, so a publish
	// racing Close can never hit a closed channel. Buffered events stay
	// readable; consumers drain after Done fires.
	done      chan struct{}
	closeOnce sync.Once
	log       *logger.Log
}

// New allocates the emitter queues. Buffer sizes below one are clamped.
func New(anomalyBuffer, tradingBuffer, statsBuffer int, log *logger.Log) *Emitter {
	if log == nil {
		log = logger.GetLogger()
	}
	if anomalyBuffer < 1 {
		anomalyBuffer = 1
	}
	if tradingBuffer < 1 {
		tradingBuffer = 1
	}
	if statsBuffer < 1 {
		statsBuffer = 1
	}

	e := &Emitter{
		anomalies: make(chan AnomalyEvent, anomalyBuffer),
		trading:   make(chan TradingEvent, tradingBuffer),
		stats:     make(chan models.StatsSnapshot, statsBuffer),
		done:      make(chan struct{}),
		log:       log,
	}

	log.WithComponent("emitter").WithFields(logger.Fields{
		"anomaly_buffer": anomalyBuffer,
		"trading_buffer": tradingBuffer,
		"stats_buffer":   statsBuffer,
	}).Info("emitter queues initialized")

	return e
}

// Anomalies exposes the anomaly-class queue to consumers.
func (e *Emitter) Anomalies() <-chan AnomalyEvent { return e.anomalies }

// Trading exposes the trading-class queue to consumers.
func (e *Emitter) Trading() <-chan TradingEvent { return e.trading }

// StatsSnapshots exposes the statistics queue to consumers.
func (e *Emitter) StatsSnapshots() <-chan models.StatsSnapshot { return e.stats }

// Done fires when the emitter is closed. Consumers should drain their
// queue with non-blocking receives once it is signalled.
func (e *Emitter) Done() <-chan struct{} { return e.done }

func (e *Emitter) isClosed() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// PublishAnomaly enqueues without blocking; when the queue is full the
// oldest anomaly is discarded first. Reports whether the event was queued.
func (e *Emitter) PublishAnomaly(ev AnomalyEvent) bool {
	if e.isClosed() {
		return false
	}
	for {
		select {
		case e.anomalies <- ev:
			atomic.AddInt64(&e.anomaliesPublished, 1)
			return true
		default:
		}
		select {
		case old := <-e.anomalies:
			atomic.AddInt64(&e.anomaliesDropped, 1)
			metrics.EmitDropMetric(e.log, metrics.DropMetricAnomaly, old.Record.Exchange, old.Record.Symbol, "emitter")
		default:
		}
	}
}

// PublishStats enqueues a statistics snapshot with the same drop-oldest
// policy as anomalies.
func (e *Emitter) PublishStats(snap models.StatsSnapshot) bool {
	if e.isClosed() {
		return false
	}
	for {
		select {
		case e.stats <- snap:
			atomic.AddInt64(&e.statsPublished, 1)
			return true
		default:
		}
		select {
		case old := <-e.stats:
			atomic.AddInt64(&e.statsDropped, 1)
			metrics.EmitDropMetric(e.log, metrics.DropMetricStats, old.Exchange, old.Symbol, "emitter")
		default:
		}
	}
}

// PublishTrading enqueues a trading-class event. Trade intents and
// position updates are never dropped; the send blocks until queue space
// frees up or the context is cancelled.
func (e *Emitter) PublishTrading(ctx context.Context, ev TradingEvent) error {
	if e.isClosed() {
		return ErrClosed
	}
	select {
	case e.trading <- ev:
		atomic.AddInt64(&e.tradingPublished, 1)
		return nil
	default:
	}
	select {
	case e.trading <- ev:
		atomic.AddInt64(&e.tradingPublished, 1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrClosed
	}
}

// GetStats returns a snapshot of the publish/drop counters.
func (e *Emitter) GetStats() Stats {
	return Stats{
		AnomaliesPublished: atomic.LoadInt64(&e.anomaliesPublished),
		AnomaliesDropped:   atomic.LoadInt64(&e.anomaliesDropped),
		TradingPublished:   atomic.LoadInt64(&e.tradingPublished),
		StatsPublished:     atomic.LoadInt64(&e.statsPublished),
		StatsDropped:       atomic.LoadInt64(&e.statsDropped),
	}
}

// QueueLengths reports the occupancy and capacity of each queue, keyed by
// class name, for the queue gauge reporter.
func (e *Emitter) QueueLengths() map[string][2]int {
	return map[string][2]int{
		"anomaly": {len(e.anomalies), cap(e.anomalies)},
		"trading": {len(e.trading), cap(e.trading)},
		"stats":   {len(e.stats), cap(e.stats)},
	}
}

// Close stops the queues from accepting new events. It is safe to call
// while publishers are still in flight; they observe Done and back off.
// Already-buffered events remain readable for consumers to drain.
func (e *Emitter) Close() {
	e.closeOnce.Do(func() {
		close(e.done)
		e.log.WithComponent("emitter").Info("emitter closed")
	})
}
