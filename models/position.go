package models

import (
	"time"

	"github.com/google/uuid"
)

// PositionSide is the direction of an open position.
type PositionSide string

const (
	SideLong  PositionSide = "long"
	SideShort PositionSide = "short"
)

// PositionStatus models the explicit position lifecycle. Closing is
// transient and resolves to Flat within the same processing step.
type PositionStatus int

const (
	StatusFlat PositionStatus = iota
	StatusOpen
	StatusClosing
)

func (s PositionStatus) String() string {
	switch s {
	case StatusFlat:
		return "flat"
	case StatusOpen:
		return "open"
	case StatusClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Position is the per-key trading position. It is exclusively owned and
// mutated by its key's state machine; snapshots of it are published as
// PositionUpdate events.
type Position struct {
	ID            uuid.UUID      `json:"id"`
	Exchange      string         `json:"exchange"`
	Symbol        string         `json:"symbol"`
	Side          PositionSide   `json:"side"`
	Status        PositionStatus `json:"status"`
	Quantity      float64        `json:"quantity"`
	EntryPrice    float64        `json:"entry_price"`
	CurrentPrice  float64        `json:"current_price"`
	UnrealizedPnL float64        `json:"unrealized_pnl"`
	RealizedPnL   float64        `json:"realized_pnl"`
	StopLoss      float64        `json:"stop_loss"`
	TakeProfit    float64        `json:"take_profit"`
	OpenedAt      time.Time      `json:"opened_at"`
	ClosedAt      time.Time      `json:"closed_at"`
}

// PnL returns the profit for the given exit price and side sign.
func (p *Position) PnL(price float64) float64 {
	if p.Side == SideShort {
		return (p.EntryPrice - price) * p.Quantity
	}
	return (price - p.EntryPrice) * p.Quantity
}

// OrderSide is the direction of a trade intent.
type OrderSide string

const (
	OrderBuy  OrderSide = "buy"
	OrderSell OrderSide = "sell"
)

// OrderType distinguishes market from limit intents.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// TradeIntent is an instruction describing a desired order. It is executed
// by an external component; the engine never talks to an exchange.
type TradeIntent struct {
	ID         uuid.UUID `json:"id"`
	Exchange   string    `json:"exchange"`
	Symbol     string    `json:"symbol"`
	Side       OrderSide `json:"side"`
	Quantity   float64   `json:"quantity"`
	Type       OrderType `json:"type"`
	LimitPrice *float64  `json:"limit_price,omitempty"`
	ReduceOnly bool      `json:"reduce_only"`
	Reason     string    `json:"reason"`
	AnomalyID  uuid.UUID `json:"anomaly_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// PositionUpdate is the immutable record of a state transition.
type PositionUpdate struct {
	Position   Position  `json:"position"`
	Transition string    `json:"transition"`
	Timestamp  time.Time `json:"timestamp"`
}

// TradingStats accumulates closed-trade outcomes for one key.
type TradingStats struct {
	TotalTrades   int64   `json:"total_trades"`
	WinningTrades int64   `json:"winning_trades"`
	LosingTrades  int64   `json:"losing_trades"`
	TotalPnL      float64 `json:"total_pnl"`
	WinRate       float64 `json:"win_rate"`
}

// Record folds one closed trade into the stats.
func (s *TradingStats) Record(pnl float64) {
	s.TotalTrades++
	s.TotalPnL += pnl
	if pnl > 0 {
		s.WinningTrades++
	} else {
		s.LosingTrades++
	}
	s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades)
}
