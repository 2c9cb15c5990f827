package metrics

import "marketpulse/logger"

// DropMetric identifies the metric name emitted when events are rejected
// or discarded.
type DropMetric string

const (
	// DropMetricMalformed records events rejected at the router boundary.
	DropMetricMalformed DropMetric = "malformed_events_rejected"
	// DropMetricAnomaly records anomaly-class events discarded by the
	// emitter's drop-oldest overflow policy.
	DropMetricAnomaly DropMetric = "anomaly_events_dropped"
	// DropMetricStats records statistics snapshots discarded on overflow.
	DropMetricStats DropMetric = "stats_events_dropped"
)

// EmitDropMetric logs and emits a metric representing a dropped or rejected
// event. The metric value is always incremented by one so callers should
// invoke this helper for each dropped event. Optional metadata (exchange,
// symbol, stage) is added to the metric fields when provided which enables
// downstream aggregation per exchange and stream type.
func EmitDropMetric(log *logger.Log, metric DropMetric, exchange, symbol, stage string) {
	fields := logger.Fields{}
	if exchange != "" {
		fields["exchange"] = exchange
	}
	if symbol != "" {
		fields["symbol"] = symbol
	}
	if stage != "" {
		fields["stage"] = stage
	}

	EmitMetric(log, "event_drops", string(metric), 1, "counter", fields)
}
