package models

import (
	"fmt"
	"math"
	"time"
)

// EventKind identifies the type of a normalized market event.
type EventKind string

const (
	// EventKindTrade is an executed trade with price and volume.
	EventKindTrade EventKind = "trade"
	// EventKindBookTop is a best bid/ask update; volume is zero.
	EventKindBookTop EventKind = "book_top"
)

// MarketEvent is the normalized unit of input produced by upstream
// ingestion adapters. Price and volume are non-negative finite numbers;
// BidPrice/AskPrice and their sizes are only populated for book_top events.
type MarketEvent struct {
	Exchange   string    `json:"exchange"`
	Symbol     string    `json:"symbol"`
	Kind       EventKind `json:"kind"`
	Price      float64   `json:"price"`
	Volume     float64   `json:"volume"`
	BidPrice   float64   `json:"bid_price,omitempty"`
	AskPrice   float64   `json:"ask_price,omitempty"`
	BidSize    float64   `json:"bid_size,omitempty"`
	AskSize    float64   `json:"ask_size,omitempty"`
	EventTime  time.Time `json:"event_time"`
	IngestTime time.Time `json:"ingest_time"`
}

// Key returns the routing key identifying one independent stream of state.
func (e *MarketEvent) Key() string {
	return e.Exchange + ":" + e.Symbol
}

// Validate checks the basic invariants an event must satisfy before it is
// allowed to reach per-key state. Late or duplicate timestamps are tolerated.
func (e *MarketEvent) Validate() error {
	if e.Exchange == "" || e.Symbol == "" {
		return fmt.Errorf("event missing exchange or symbol")
	}
	switch e.Kind {
	case EventKindTrade, EventKindBookTop:
	default:
		return fmt.Errorf("unknown event kind %q", e.Kind)
	}
	if !isFinite(e.Price) || e.Price < 0 {
		return fmt.Errorf("invalid price %v for %s", e.Price, e.Key())
	}
	if !isFinite(e.Volume) || e.Volume < 0 {
		return fmt.Errorf("invalid volume %v for %s", e.Volume, e.Key())
	}
	if e.Kind == EventKindBookTop {
		if !isFinite(e.BidPrice) || e.BidPrice < 0 || !isFinite(e.AskPrice) || e.AskPrice < 0 {
			return fmt.Errorf("invalid book top prices for %s", e.Key())
		}
		if !isFinite(e.BidSize) || e.BidSize < 0 || !isFinite(e.AskSize) || e.AskSize < 0 {
			return fmt.Errorf("invalid book top sizes for %s", e.Key())
		}
	}
	return nil
}

// Notional returns the trade notional value.
func (e *MarketEvent) Notional() float64 {
	return e.Price * e.Volume
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
