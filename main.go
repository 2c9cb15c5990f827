package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"marketpulse/config"
	"marketpulse/internal/emitter"
	"marketpulse/internal/engine"
	"marketpulse/internal/feed"
	"marketpulse/internal/metrics"
	"marketpulse/logger"
	"marketpulse/models"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", "config/config.yml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.WithError(err).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service": cfg.MarketPulse.Name,
		"version": cfg.MarketPulse.Version,
	}).Info("starting marketpulse")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metrics.SetFeatureEnabled(metrics.FeatureQueueSize, cfg.Metrics.QueueSize)
	if cfg.Metrics.CloudWatch.Enabled {
		metrics.InitCloudWatch(cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace)
	}

	em := emitter.New(cfg.Channels.AnomalyBuffer, cfg.Channels.TradingBuffer, cfg.Channels.StatsBuffer, log)

	eng, err := engine.New(cfg.Engine, em, log)
	if err != nil {
		log.WithError(err).Error("Failed to build engine")
		os.Exit(1)
	}
	eng.Start(ctx)

	metrics.StartQueueSizeMetrics(ctx, em, 30*time.Second)
	metrics.StartQueueSizeMetrics(ctx, eng, 30*time.Second)

	var consumers sync.WaitGroup
	startConsumers(&consumers, em, models.ParseSeverity(cfg.Notifier.SeverityThreshold), log)

	subs := make(map[string][]string, len(cfg.Feed.Subscriptions))
	for _, sub := range cfg.Feed.Subscriptions {
		subs[sub.Exchange] = append(subs[sub.Exchange], sub.Symbols...)
	}

	feedDone := make(chan struct{})
	go func() {
		defer close(feedDone)
		switch cfg.Feed.Mode {
		case "replay":
			f := feed.NewReplay(
				cfg.Feed.Replay.Seed,
				cfg.Feed.Replay.Events,
				time.Duration(cfg.Feed.Replay.IntervalMs)*time.Millisecond,
				subs, eng, log,
			)
			if err := f.Run(ctx); err != nil && ctx.Err() == nil {
				log.WithError(err).Error("replay feed failed")
			}
		default:
			f := feed.NewWebSocket(
				cfg.Feed.URL,
				subs,
				time.Duration(cfg.Feed.Reconnect.InitialDelayMs)*time.Millisecond,
				time.Duration(cfg.Feed.Reconnect.MaxDelayMs)*time.Millisecond,
				eng, log,
			)
			_ = f.Run(ctx)
		}
	}()

	log.Info("all components started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
	case <-feedDone:
		log.Info("feed finished; shutting down")
	}

	log.Info("starting graceful shutdown")
	cancel()
	<-feedDone

	// The feed has stopped producing, so the shard queues drain fully
	// before the emitter closes underneath the consumers.
	eng.Stop()
	em.Close()

	done := make(chan struct{})
	go func() {
		consumers.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info("graceful shutdown completed")
	case <-time.After(30 * time.Second):
		log.Warn("graceful shutdown timeout exceeded")
	}

	routed, rejected := eng.Stats()
	log.WithFields(logger.Fields{
		"events_routed":   routed,
		"events_rejected": rejected,
		"emitter":         em.GetStats(),
	}).Info("marketpulse stopped")
}

// startConsumers attaches the downstream collaborators to the emitter
// queues. Alerts and orders are logged; wiring a broker or a webhook in
// their place only needs to replace these loops. Each consumer reads
// until the emitter is closed, then drains what remains buffered.
func startConsumers(wg *sync.WaitGroup, em *emitter.Emitter, threshold models.Severity, log *logger.Log) {
	alertLog := log.WithComponent("notifier")
	handleAnomaly := func(ev emitter.AnomalyEvent) {
		if ev.Record.Severity < threshold {
			return
		}
		alertLog.WithFields(logger.Fields{
			"kind":        string(ev.Record.Kind),
			"severity":    ev.Record.Severity.String(),
			"key":         ev.Record.Exchange + ":" + ev.Record.Symbol,
			"signal_only": ev.SignalOnly,
		}).Warn(ev.Record.Description)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case ev := <-em.Anomalies():
				handleAnomaly(ev)
			case <-em.Done():
				for {
					select {
					case ev := <-em.Anomalies():
						handleAnomaly(ev)
					default:
						return
					}
				}
			}
		}
	}()

	tradeLog := log.WithComponent("execution")
	handleTrading := func(ev emitter.TradingEvent) {
		if ev.Intent != nil {
			tradeLog.WithFields(logger.Fields{
				"intent_id":   ev.Intent.ID.String(),
				"side":        string(ev.Intent.Side),
				"quantity":    ev.Intent.Quantity,
				"reduce_only": ev.Intent.ReduceOnly,
				"key":         ev.Intent.Exchange + ":" + ev.Intent.Symbol,
			}).Info("trade intent emitted")
		}
		if ev.Position != nil {
			tradeLog.WithFields(logger.Fields{
				"transition": ev.Position.Transition,
				"key":        ev.Position.Position.Exchange + ":" + ev.Position.Position.Symbol,
				"pnl":        ev.Position.Position.RealizedPnL,
			}).Info("position transition")
		}
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case ev := <-em.Trading():
				handleTrading(ev)
			case <-em.Done():
				for {
					select {
					case ev := <-em.Trading():
						handleTrading(ev)
					default:
						return
					}
				}
			}
		}
	}()

	statsLog := log.WithComponent("stats")
	handleStats := func(snap models.StatsSnapshot) {
		statsLog.WithFields(logger.Fields{
			"key":     snap.Exchange + ":" + snap.Symbol,
			"metric":  snap.Metric,
			"mean":    snap.Mean,
			"std_dev": snap.StdDev,
			"samples": snap.SampleCount,
		}).Debug("window statistics")
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case snap := <-em.StatsSnapshots():
				handleStats(snap)
			case <-em.Done():
				for {
					select {
					case snap := <-em.StatsSnapshots():
						handleStats(snap)
					default:
						return
					}
				}
			}
		}
	}()
}
