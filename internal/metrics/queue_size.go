package metrics

import (
	"context"
	"time"

	"marketpulse/logger"
)

// QueueStatsProvider reports queue occupancy as {length, capacity} pairs
// keyed by queue name.
type QueueStatsProvider interface {
	QueueLengths() map[string][2]int
}

// StartQueueSizeMetrics emits occupancy gauges for the provider's queues
// every `interval` until the context is cancelled. When interval <= 0, a
// one-second cadence is used.
func StartQueueSizeMetrics(ctx context.Context, provider QueueStatsProvider, interval time.Duration) {
	if !IsFeatureEnabled(FeatureQueueSize) {
		return
	}
	if provider == nil {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}

	log := logger.GetLogger()
	ticker := time.NewTicker(interval)
	component := "output_queues"

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for name, lc := range provider.QueueLengths() {
					EmitMetric(log, component, name+"_queue_length", lc[0], "gauge", logger.Fields{
						"queue":    name,
						"capacity": lc[1],
					})
				}
			}
		}
	}()
}
