package trader

import (
	"fmt"

	"marketpulse/models"
)

// RiskConfig carries the trading limits applied when opening a position.
// It is read-only from the state machine's perspective; updates are swapped
// in atomically by the engine and observed on the next event.
type RiskConfig struct {
	AutoTradingEnabled   bool    `yaml:"auto_trading_enabled"`
	PortfolioValue       float64 `yaml:"portfolio_value"`
	MaxPositionSize      float64 `yaml:"max_position_size"`
	RiskPercentage       float64 `yaml:"risk_percentage"`
	StopLossPercentage   float64 `yaml:"stop_loss_percentage"`
	TakeProfitPercentage float64 `yaml:"take_profit_percentage"`
}

// Validate rejects structurally invalid risk parameters.
func (c RiskConfig) Validate() error {
	if c.PortfolioValue < 0 {
		return fmt.Errorf("portfolio_value must not be negative")
	}
	if c.MaxPositionSize < 0 {
		return fmt.Errorf("max_position_size must not be negative")
	}
	if c.RiskPercentage < 0 || c.RiskPercentage > 100 {
		return fmt.Errorf("risk_percentage must be within [0, 100]")
	}
	if c.StopLossPercentage < 0 || c.StopLossPercentage >= 100 {
		return fmt.Errorf("stop_loss_percentage must be within [0, 100)")
	}
	if c.TakeProfitPercentage < 0 {
		return fmt.Errorf("take_profit_percentage must not be negative")
	}
	return nil
}

// KeyRisk overrides the global risk configuration for one key.
type KeyRisk struct {
	Exchange   string     `yaml:"exchange"`
	Symbol     string     `yaml:"symbol"`
	RiskConfig RiskConfig `yaml:",inline"`
}

// RiskSet is the global risk configuration plus per-key overrides.
type RiskSet struct {
	Global    RiskConfig `yaml:",inline"`
	Overrides []KeyRisk  `yaml:"overrides"`
}

// ForKey resolves the effective configuration for a key.
func (s RiskSet) ForKey(exchange, symbol string) RiskConfig {
	for _, o := range s.Overrides {
		if o.Exchange == exchange && o.Symbol == symbol {
			return o.RiskConfig
		}
	}
	return s.Global
}

// Validate checks the global configuration and every override.
func (s RiskSet) Validate() error {
	if err := s.Global.Validate(); err != nil {
		return err
	}
	for _, o := range s.Overrides {
		if o.Exchange == "" || o.Symbol == "" {
			return fmt.Errorf("risk override missing exchange or symbol")
		}
		if err := o.RiskConfig.Validate(); err != nil {
			return fmt.Errorf("risk override %s:%s: %w", o.Exchange, o.Symbol, err)
		}
	}
	return nil
}

// severityFactor scales the computed position size by anomaly severity.
func severityFactor(s models.Severity) float64 {
	switch s {
	case models.SeverityCritical:
		return 1.0
	case models.SeverityHigh:
		return 0.75
	case models.SeverityMedium:
		return 0.5
	default:
		return 0.25
	}
}

// positionSize derives the order quantity from the risk budget and the
// stop-loss distance, capped so the notional never exceeds the maximum
// position size.
func positionSize(cfg RiskConfig, price float64, severity models.Severity) float64 {
	if price <= 0 || cfg.StopLossPercentage <= 0 {
		return 0
	}
	riskAmount := cfg.PortfolioValue * cfg.RiskPercentage / 100
	stopDistance := price * cfg.StopLossPercentage / 100
	size := riskAmount / stopDistance
	if cap := cfg.MaxPositionSize / price; size > cap {
		size = cap
	}
	return size * severityFactor(severity)
}

// stopLossPrice returns the absolute stop price for the given side.
func stopLossPrice(cfg RiskConfig, entry float64, side models.PositionSide) float64 {
	if side == models.SideShort {
		return entry * (1 + cfg.StopLossPercentage/100)
	}
	return entry * (1 - cfg.StopLossPercentage/100)
}

// takeProfitPrice returns the absolute take-profit price for the given side.
func takeProfitPrice(cfg RiskConfig, entry float64, side models.PositionSide) float64 {
	if side == models.SideShort {
		return entry * (1 - cfg.TakeProfitPercentage/100)
	}
	return entry * (1 + cfg.TakeProfitPercentage/100)
}
