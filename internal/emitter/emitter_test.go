package emitter

import (
	"context"
	"sync"
	"testing"
	"time"

	"marketpulse/models"
)

func anomalyEvent(symbol string) AnomalyEvent {
	return AnomalyEvent{Record: models.AnomalyRecord{
		Exchange: "binance",
		Symbol:   symbol,
		Kind:     models.AnomalyVolumeSpike,
	}}
}

func TestAnomalyDropOldest(t *testing.T) {
	e := New(2, 2, 2, nil)

	e.PublishAnomaly(anomalyEvent("A"))
	e.PublishAnomaly(anomalyEvent("B"))
	// Queue full: the oldest anomaly must make room for the newest.
	e.PublishAnomaly(anomalyEvent("C"))

	stats := e.GetStats()
	if stats.AnomaliesPublished != 3 || stats.AnomaliesDropped != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	first := <-e.Anomalies()
	second := <-e.Anomalies()
	if first.Record.Symbol != "B" || second.Record.Symbol != "C" {
		t.Fatalf("drop-oldest violated: got %s, %s", first.Record.Symbol, second.Record.Symbol)
	}
}

func TestTradingSucceedsWhenAnomalyQueueFull(t *testing.T) {
	e := New(1, 4, 1, nil)

	// Saturate the anomaly queue.
	e.PublishAnomaly(anomalyEvent("A"))
	e.PublishAnomaly(anomalyEvent("B"))

	intent := &models.TradeIntent{Exchange: "binance", Symbol: "BTCUSDT", Side: models.OrderBuy}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := e.PublishTrading(ctx, TradingEvent{Intent: intent}); err != nil {
		t.Fatalf("trade intent rejected while anomaly queue full: %v", err)
	}

	got := <-e.Trading()
	if got.Intent == nil || got.Intent.Symbol != "BTCUSDT" {
		t.Fatalf("unexpected trading event: %+v", got)
	}
}

func TestTradingBlocksInsteadOfDropping(t *testing.T) {
	e := New(1, 1, 1, nil)
	ctx := context.Background()

	if err := e.PublishTrading(ctx, TradingEvent{Intent: &models.TradeIntent{Symbol: "X"}}); err != nil {
		t.Fatalf("first publish failed: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- e.PublishTrading(ctx, TradingEvent{Intent: &models.TradeIntent{Symbol: "Y"}})
	}()

	select {
	case err := <-done:
		t.Fatalf("publish returned before space freed: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	first := <-e.Trading()
	if first.Intent.Symbol != "X" {
		t.Fatalf("trading order violated: %s", first.Intent.Symbol)
	}
	if err := <-done; err != nil {
		t.Fatalf("blocked publish failed: %v", err)
	}
	second := <-e.Trading()
	if second.Intent.Symbol != "Y" {
		t.Fatalf("second intent lost")
	}
	if e.GetStats().TradingPublished != 2 {
		t.Fatalf("trading publish count = %d", e.GetStats().TradingPublished)
	}
}

func TestTradingPublishCancelled(t *testing.T) {
	e := New(1, 1, 1, nil)
	ctx := context.Background()
	_ = e.PublishTrading(ctx, TradingEvent{Intent: &models.TradeIntent{Symbol: "X"}})

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.PublishTrading(cancelled, TradingEvent{Intent: &models.TradeIntent{Symbol: "Y"}}); err == nil {
		t.Fatalf("publish succeeded on a full queue with cancelled context")
	}
}

func TestStatsDropOldest(t *testing.T) {
	e := New(1, 1, 1, nil)
	e.PublishStats(models.StatsSnapshot{Symbol: "A"})
	e.PublishStats(models.StatsSnapshot{Symbol: "B"})
	if e.GetStats().StatsDropped != 1 {
		t.Fatalf("stats drop not counted: %+v", e.GetStats())
	}
	got := <-e.StatsSnapshots()
	if got.Symbol != "B" {
		t.Fatalf("stats drop-oldest violated: %s", got.Symbol)
	}
}

func TestPublishAfterClose(t *testing.T) {
	e := New(1, 1, 1, nil)
	e.Close()
	if e.PublishAnomaly(anomalyEvent("A")) {
		t.Fatalf("anomaly accepted after close")
	}
	if err := e.PublishTrading(context.Background(), TradingEvent{}); err == nil {
		t.Fatalf("trading accepted after close")
	}
}

func TestCloseWithPublishersInFlight(t *testing.T) {
	e := New(4, 4, 4, nil)
	ctx := context.Background()

	// Keep the trading queue moving so blocked publishers only ever
	// wait on space or on Done.
	go func() {
		for {
			select {
			case <-e.Trading():
			case <-e.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				e.PublishAnomaly(anomalyEvent("X"))
				e.PublishStats(models.StatsSnapshot{Symbol: "X"})
				_ = e.PublishTrading(ctx, TradingEvent{Intent: &models.TradeIntent{Symbol: "X"}})
			}
		}()
	}

	time.Sleep(10 * time.Millisecond)
	e.Close()
	close(stop)
	wg.Wait()

	if e.PublishAnomaly(anomalyEvent("Y")) {
		t.Fatalf("anomaly accepted after close")
	}
	if err := e.PublishTrading(ctx, TradingEvent{}); err == nil {
		t.Fatalf("trading accepted after close")
	}
}

func TestQueueLengths(t *testing.T) {
	e := New(4, 2, 3, nil)
	e.PublishAnomaly(anomalyEvent("A"))
	lens := e.QueueLengths()
	if lens["anomaly"] != [2]int{1, 4} {
		t.Fatalf("anomaly queue = %v", lens["anomaly"])
	}
	if lens["trading"] != [2]int{0, 2} || lens["stats"] != [2]int{0, 3} {
		t.Fatalf("unexpected queue lengths: %v", lens)
	}
}
