// Package trader drives one per-key trading position through its
// Flat -> Open -> Closing -> Flat lifecycle. A Machine is exclusively
// owned by its key's shard worker and never calls an exchange; it only
// produces trade intents for the external execution component.
package trader

import (
	"time"

	"github.com/google/uuid"

	"marketpulse/logger"
	"marketpulse/models"
)

// Signal thresholds carried over from the anomaly-based strategy: a sharp
// drop is treated as an overreaction to buy into, a runaway rally as a
// breakout to fade.
const (
	reversionBuyPct = -5.0
	breakoutSellPct = 10.0
)

// Result collects the side effects of one state machine step.
type Result struct {
	Intents []models.TradeIntent
	Updates []models.PositionUpdate
	// SignalOnly is set when an anomaly produced a trading signal that
	// was not converted into an intent (auto-trading disabled or risk
	// rejected). The anomaly itself is still published upstream.
	SignalOnly bool
	RiskReason string
}

// Machine is the position state machine for one (exchange, symbol) key.
type Machine struct {
	exchange string
	symbol   string
	pos      models.Position
	stats    models.TradingStats
	log      *logger.Entry
}

// New creates a machine starting Flat.
func New(exchange, symbol string, log *logger.Log) *Machine {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Machine{
		exchange: exchange,
		symbol:   symbol,
		pos: models.Position{
			Exchange: exchange,
			Symbol:   symbol,
			Status:   models.StatusFlat,
		},
		log: log.WithComponent("trader").WithFields(logger.Fields{
			"exchange": exchange,
			"symbol":   symbol,
		}),
	}
}

// Position returns a copy of the current position.
func (m *Machine) Position() models.Position {
	return m.pos
}

// Stats returns a copy of the accumulated trading stats.
func (m *Machine) Stats() models.TradingStats {
	return m.stats
}

// signalSide maps an anomaly onto a desired order side. Depth imbalance
// and whale trades stay informational; they never open positions.
func signalSide(rec *models.AnomalyRecord) (models.OrderSide, bool) {
	switch rec.Kind {
	case models.AnomalyVolumeSpike:
		if rec.Severity >= models.SeverityHigh {
			return models.OrderBuy, true
		}
	case models.AnomalyPriceSpike:
		if rec.PctChange == nil {
			return "", false
		}
		if *rec.PctChange <= reversionBuyPct {
			return models.OrderBuy, true
		}
		if *rec.PctChange >= breakoutSellPct {
			return models.OrderSell, true
		}
	}
	return "", false
}

// OnAnomaly applies one anomaly record at the current market price. Only a
// Flat machine may open; anomalies arriving while a position is open are
// ignored until it closes (no pyramiding, no netting).
func (m *Machine) OnAnomaly(rec *models.AnomalyRecord, price float64, cfg RiskConfig, now time.Time) Result {
	if m.pos.Status != models.StatusFlat {
		return Result{}
	}
	side, ok := signalSide(rec)
	if !ok || price <= 0 {
		return Result{}
	}

	if !cfg.AutoTradingEnabled {
		m.log.WithFields(logger.Fields{
			"anomaly": string(rec.Kind),
			"reason":  "auto_trading_disabled",
		}).Info("signal downgraded to signal-only")
		return Result{SignalOnly: true, RiskReason: "auto_trading_disabled"}
	}

	qty := positionSize(cfg, price, rec.Severity)
	if qty <= 0 || qty*price > cfg.MaxPositionSize {
		m.log.WithFields(logger.Fields{
			"anomaly":  string(rec.Kind),
			"quantity": qty,
			"price":    price,
			"reason":   "risk_rejected",
		}).Info("signal downgraded to signal-only")
		return Result{SignalOnly: true, RiskReason: "risk_rejected"}
	}

	posSide := models.SideLong
	if side == models.OrderSell {
		posSide = models.SideShort
	}

	m.pos = models.Position{
		ID:           uuid.New(),
		Exchange:     m.exchange,
		Symbol:       m.symbol,
		Side:         posSide,
		Status:       models.StatusOpen,
		Quantity:     qty,
		EntryPrice:   price,
		CurrentPrice: price,
		RealizedPnL:  m.pos.RealizedPnL,
		StopLoss:     stopLossPrice(cfg, price, posSide),
		TakeProfit:   takeProfitPrice(cfg, price, posSide),
		OpenedAt:     now,
	}

	intent := models.TradeIntent{
		ID:        uuid.New(),
		Exchange:  m.exchange,
		Symbol:    m.symbol,
		Side:      side,
		Quantity:  qty,
		Type:      models.OrderTypeMarket,
		Reason:    rec.Description,
		AnomalyID: rec.ID,
		CreatedAt: now,
	}

	m.log.WithFields(logger.Fields{
		"side":        string(posSide),
		"quantity":    qty,
		"entry_price": price,
		"stop_loss":   m.pos.StopLoss,
		"take_profit": m.pos.TakeProfit,
	}).Info("position opened")

	return Result{
		Intents: []models.TradeIntent{intent},
		Updates: []models.PositionUpdate{{Position: m.pos, Transition: "flat->open", Timestamp: now}},
	}
}

// OnTick updates the position with a new market price. When the price
// crosses the stop-loss or take-profit level the position transitions to
// Closing and back to Flat within this same step.
func (m *Machine) OnTick(price float64, now time.Time) Result {
	if m.pos.Status != models.StatusOpen || price <= 0 {
		return Result{}
	}

	m.pos.CurrentPrice = price
	m.pos.UnrealizedPnL = m.pos.PnL(price)

	if !m.exitTriggered(price) {
		return Result{}
	}
	return m.close(price, now)
}

func (m *Machine) exitTriggered(price float64) bool {
	if m.pos.Side == models.SideShort {
		return price >= m.pos.StopLoss || price <= m.pos.TakeProfit
	}
	return price <= m.pos.StopLoss || price >= m.pos.TakeProfit
}

// close runs the Closing transition: realize PnL, emit the closing intent
// and settle back to Flat.
func (m *Machine) close(price float64, now time.Time) Result {
	m.pos.Status = models.StatusClosing
	closing := models.PositionUpdate{Position: m.pos, Transition: "open->closing", Timestamp: now}

	pnl := m.pos.PnL(price)
	m.stats.Record(pnl)

	closeSide := models.OrderSell
	if m.pos.Side == models.SideShort {
		closeSide = models.OrderBuy
	}
	intent := models.TradeIntent{
		ID:         uuid.New(),
		Exchange:   m.exchange,
		Symbol:     m.symbol,
		Side:       closeSide,
		Quantity:   m.pos.Quantity,
		Type:       models.OrderTypeMarket,
		ReduceOnly: true,
		Reason:     "exit level crossed",
		CreatedAt:  now,
	}

	m.log.WithFields(logger.Fields{
		"exit_price":   price,
		"realized_pnl": pnl,
	}).Info("position closed")

	m.pos = models.Position{
		Exchange:    m.exchange,
		Symbol:      m.symbol,
		Status:      models.StatusFlat,
		RealizedPnL: m.pos.RealizedPnL + pnl,
		ClosedAt:    now,
	}
	flat := models.PositionUpdate{Position: m.pos, Transition: "closing->flat", Timestamp: now}

	return Result{
		Intents: []models.TradeIntent{intent},
		Updates: []models.PositionUpdate{closing, flat},
	}
}
