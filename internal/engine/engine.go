// Package engine routes normalized market events onto a fixed pool of
// shard workers. Each worker exclusively owns the rolling windows,
// detector context and position state machine of the keys hashed to it,
// so per-key processing needs no locks.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"marketpulse/internal/detector"
	"marketpulse/internal/emitter"
	"marketpulse/internal/metrics"
	"marketpulse/internal/trader"
	"marketpulse/logger"
	"marketpulse/models"
)

// Config carries the engine topology plus the detection and risk
// parameters shared by every shard. A validated Config is immutable;
// updates replace the whole value through UpdateConfig.
type Config struct {
	Shards      int `yaml:"shards"`
	ShardBuffer int `yaml:"shard_buffer"`
	// StatsEveryN publishes a statistics snapshot for a key after every
	// N events processed for it. Zero disables snapshot publishing.
	StatsEveryN int `yaml:"stats_every_n"`

	Detector detector.Config `yaml:"detector"`
	Risk     trader.RiskSet  `yaml:"risk"`
}

// ApplyDefaults fills unset topology values and rule bands.
func (c *Config) ApplyDefaults() {
	if c.Shards <= 0 {
		c.Shards = 4
	}
	if c.ShardBuffer <= 0 {
		c.ShardBuffer = 1024
	}
	c.Detector.ApplyDefaults()
}

// Validate rejects structurally invalid engine configuration.
func (c *Config) Validate() error {
	if c.Shards < 1 {
		return fmt.Errorf("shards must be at least 1")
	}
	if c.ShardBuffer < 1 {
		return fmt.Errorf("shard_buffer must be at least 1")
	}
	if c.StatsEveryN < 0 {
		return fmt.Errorf("stats_every_n must not be negative")
	}
	if err := c.Detector.Validate(); err != nil {
		return fmt.Errorf("detector: %w", err)
	}
	if err := c.Risk.Validate(); err != nil {
		return fmt.Errorf("risk: %w", err)
	}
	return nil
}

// Engine is the single ingress for market events. The shard count is
// fixed for the engine's lifetime; detection and risk parameters may be
// swapped at runtime and take effect from the next event onwards.
type Engine struct {
	cfg    atomic.Pointer[Config]
	shards []*shard
	em     *emitter.Emitter
	log    *logger.Entry
	wg     sync.WaitGroup

	// done signals shutdown to routers and workers instead of closing
	// the shard queues, so a Route racing Stop can never panic on a
	// closed channel. Workers drain their queue after done fires.
	done     chan struct{}
	stopOnce sync.Once
	started  uint32

	routed   int64
	rejected int64
}

// New builds an engine from a validated configuration. The emitter is
// the engine's only output; it must outlive the engine.
func New(cfg Config, em *emitter.Emitter, log *logger.Log) (*Engine, error) {
	if em == nil {
		return nil, fmt.Errorf("engine requires an emitter")
	}
	if log == nil {
		log = logger.GetLogger()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		em:   em,
		log:  log.WithComponent("engine"),
		done: make(chan struct{}),
	}
	e.cfg.Store(&cfg)

	e.shards = make([]*shard, cfg.Shards)
	for i := range e.shards {
		e.shards[i] = newShard(i, cfg.ShardBuffer, &e.cfg, e.done, em, log)
	}

	e.log.WithFields(logger.Fields{
		"shards":       cfg.Shards,
		"shard_buffer": cfg.ShardBuffer,
	}).Info("engine initialized")
	return e, nil
}

// Start launches one worker goroutine per shard. The context bounds
// blocking publishes of trading events; cancelling it does not stop the
// workers, Stop does.
func (e *Engine) Start(ctx context.Context) {
	if !atomic.CompareAndSwapUint32(&e.started, 0, 1) {
		return
	}
	for _, s := range e.shards {
		e.wg.Add(1)
		go func(s *shard) {
			defer e.wg.Done()
			s.run(ctx)
		}(s)
	}
	e.log.Info("engine started")
}

// Route validates an event and hands it to the shard owning its key.
// Malformed events are rejected and counted without touching per-key
// state. The send blocks when the shard queue is full, propagating
// backpressure to the caller.
func (e *Engine) Route(ctx context.Context, ev *models.MarketEvent) error {
	select {
	case <-e.done:
		return fmt.Errorf("engine stopped")
	default:
	}
	if ev == nil {
		return fmt.Errorf("nil event")
	}
	if err := ev.Validate(); err != nil {
		atomic.AddInt64(&e.rejected, 1)
		metrics.EmitDropMetric(nil, metrics.DropMetricMalformed, ev.Exchange, ev.Symbol, "router")
		return err
	}

	s := e.shards[shardIndex(ev.Key(), len(e.shards))]
	select {
	case s.in <- ev:
		atomic.AddInt64(&e.routed, 1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return fmt.Errorf("engine stopped")
	}
}

// UpdateConfig validates and atomically swaps the detection and risk
// parameters. Topology fields (shards, buffers) are fixed at
// construction and kept from the running configuration.
func (e *Engine) UpdateConfig(cfg Config) error {
	current := e.cfg.Load()
	cfg.Shards = current.Shards
	cfg.ShardBuffer = current.ShardBuffer
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.cfg.Store(&cfg)
	e.log.Info("engine configuration updated")
	return nil
}

// Stop signals shutdown and waits for the workers to drain the events
// already accepted. It is safe against concurrent Route calls, which
// fail instead of panicking once shutdown begins.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.done)
		e.wg.Wait()
		e.log.WithFields(logger.Fields{
			"events_routed":   atomic.LoadInt64(&e.routed),
			"events_rejected": atomic.LoadInt64(&e.rejected),
		}).Info("engine stopped")
	})
}

// Stats reports the router counters.
func (e *Engine) Stats() (routed, rejected int64) {
	return atomic.LoadInt64(&e.routed), atomic.LoadInt64(&e.rejected)
}

// QueueLengths reports shard queue occupancy for the queue gauge
// reporter.
func (e *Engine) QueueLengths() map[string][2]int {
	out := make(map[string][2]int, len(e.shards))
	for _, s := range e.shards {
		out[fmt.Sprintf("shard_%d", s.id)] = [2]int{len(s.in), cap(s.in)}
	}
	return out
}
