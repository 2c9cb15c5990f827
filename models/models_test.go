package models

import (
	"math"
	"testing"
	"time"
)

func validTrade() MarketEvent {
	return MarketEvent{
		Exchange:   "binance",
		Symbol:     "BTCUSDT",
		Kind:       EventKindTrade,
		Price:      50000,
		Volume:     1.5,
		EventTime:  time.Now(),
		IngestTime: time.Now(),
	}
}

func TestMarketEventValidate(t *testing.T) {
	ev := validTrade()
	if err := ev.Validate(); err != nil {
		t.Fatalf("valid event rejected: %v", err)
	}

	ev = validTrade()
	ev.Price = -1
	if err := ev.Validate(); err == nil {
		t.Fatalf("negative price accepted")
	}

	ev = validTrade()
	ev.Volume = math.NaN()
	if err := ev.Validate(); err == nil {
		t.Fatalf("NaN volume accepted")
	}

	ev = validTrade()
	ev.Exchange = ""
	if err := ev.Validate(); err == nil {
		t.Fatalf("missing exchange accepted")
	}

	ev = validTrade()
	ev.Kind = "candle"
	if err := ev.Validate(); err == nil {
		t.Fatalf("unknown kind accepted")
	}

	ev = validTrade()
	ev.Kind = EventKindBookTop
	ev.AskPrice = math.Inf(1)
	if err := ev.Validate(); err == nil {
		t.Fatalf("infinite ask price accepted")
	}
}

func TestMarketEventKey(t *testing.T) {
	ev := validTrade()
	if ev.Key() != "binance:BTCUSDT" {
		t.Fatalf("unexpected key %q", ev.Key())
	}
}

func TestPositionPnL(t *testing.T) {
	long := Position{Side: SideLong, EntryPrice: 100, Quantity: 2}
	if got := long.PnL(110); got != 20 {
		t.Fatalf("long pnl = %v, want 20", got)
	}
	short := Position{Side: SideShort, EntryPrice: 100, Quantity: 2}
	if got := short.PnL(90); got != 20 {
		t.Fatalf("short pnl = %v, want 20", got)
	}
}

func TestTradingStatsRecord(t *testing.T) {
	var s TradingStats
	s.Record(10)
	s.Record(-5)
	s.Record(3)
	if s.TotalTrades != 3 || s.WinningTrades != 2 || s.LosingTrades != 1 {
		t.Fatalf("unexpected stats: %+v", s)
	}
	if s.TotalPnL != 8 {
		t.Fatalf("total pnl = %v, want 8", s.TotalPnL)
	}
	if math.Abs(s.WinRate-2.0/3.0) > 1e-12 {
		t.Fatalf("win rate = %v", s.WinRate)
	}
}

func TestParseSeverity(t *testing.T) {
	if ParseSeverity("critical") != SeverityCritical {
		t.Fatalf("critical not parsed")
	}
	if ParseSeverity("bogus") != SeverityLow {
		t.Fatalf("unknown severity should fall back to low")
	}
}
