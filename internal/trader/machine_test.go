package trader

import (
	"math"
	"testing"
	"time"

	"marketpulse/models"
)

func testRisk() RiskConfig {
	return RiskConfig{
		AutoTradingEnabled:   true,
		PortfolioValue:       100_000,
		MaxPositionSize:      50_000,
		RiskPercentage:       1,
		StopLossPercentage:   2,
		TakeProfitPercentage: 4,
	}
}

func volumeAnomaly(sev models.Severity) *models.AnomalyRecord {
	return &models.AnomalyRecord{
		Exchange: "binance",
		Symbol:   "BTCUSDT",
		Kind:     models.AnomalyVolumeSpike,
		Severity: sev,
	}
}

func TestOpenCloseLifecycle(t *testing.T) {
	m := New("binance", "BTCUSDT", nil)
	now := time.Unix(1_700_000_000, 0)
	cfg := testRisk()

	res := m.OnAnomaly(volumeAnomaly(models.SeverityCritical), 100, cfg, now)
	if len(res.Intents) != 1 || len(res.Updates) != 1 {
		t.Fatalf("open produced %d intents, %d updates", len(res.Intents), len(res.Updates))
	}
	pos := m.Position()
	if pos.Status != models.StatusOpen || pos.Side != models.SideLong {
		t.Fatalf("unexpected position after open: %+v", pos)
	}
	if pos.Quantity*pos.EntryPrice > cfg.MaxPositionSize {
		t.Fatalf("position notional %v exceeds limit", pos.Quantity*pos.EntryPrice)
	}
	if pos.StopLoss != 98 || pos.TakeProfit != 104 {
		t.Fatalf("stop/take = %v/%v, want 98/104", pos.StopLoss, pos.TakeProfit)
	}
	if res.Updates[0].Transition != "flat->open" {
		t.Fatalf("transition = %q", res.Updates[0].Transition)
	}

	// A tick inside the band only updates PnL.
	res = m.OnTick(101, now.Add(time.Second))
	if len(res.Intents) != 0 || len(res.Updates) != 0 {
		t.Fatalf("in-band tick produced side effects")
	}
	if m.Position().UnrealizedPnL != pos.Quantity*1 {
		t.Fatalf("unrealized pnl = %v", m.Position().UnrealizedPnL)
	}

	// Crossing the stop closes within the same update.
	res = m.OnTick(97, now.Add(2*time.Second))
	if len(res.Intents) != 1 || !res.Intents[0].ReduceOnly || res.Intents[0].Side != models.OrderSell {
		t.Fatalf("unexpected close intents: %+v", res.Intents)
	}
	if len(res.Updates) != 2 || res.Updates[0].Transition != "open->closing" || res.Updates[1].Transition != "closing->flat" {
		t.Fatalf("unexpected transitions: %+v", res.Updates)
	}
	final := m.Position()
	if final.Status != models.StatusFlat {
		t.Fatalf("machine not flat after close")
	}
	wantPnL := (97.0 - 100.0) * pos.Quantity
	if math.Abs(final.RealizedPnL-wantPnL) > 1e-9 {
		t.Fatalf("realized pnl = %v, want %v", final.RealizedPnL, wantPnL)
	}
	stats := m.Stats()
	if stats.TotalTrades != 1 || stats.LosingTrades != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestShortTakeProfit(t *testing.T) {
	m := New("binance", "BTCUSDT", nil)
	now := time.Unix(1_700_000_000, 0)
	pct := 12.0
	rec := &models.AnomalyRecord{
		Exchange:  "binance",
		Symbol:    "BTCUSDT",
		Kind:      models.AnomalyPriceSpike,
		Severity:  models.SeverityCritical,
		PctChange: &pct,
	}

	res := m.OnAnomaly(rec, 200, testRisk(), now)
	if len(res.Intents) != 1 || res.Intents[0].Side != models.OrderSell {
		t.Fatalf("runaway rally should open a short: %+v", res.Intents)
	}
	pos := m.Position()
	if pos.Side != models.SideShort {
		t.Fatalf("side = %v", pos.Side)
	}
	if pos.StopLoss != 204 || pos.TakeProfit != 192 {
		t.Fatalf("stop/take = %v/%v, want 204/192", pos.StopLoss, pos.TakeProfit)
	}

	res = m.OnTick(191, now.Add(time.Second))
	if len(res.Intents) != 1 || res.Intents[0].Side != models.OrderBuy {
		t.Fatalf("short close should buy back: %+v", res.Intents)
	}
	if m.Position().RealizedPnL <= 0 {
		t.Fatalf("short take-profit should realize a gain: %v", m.Position().RealizedPnL)
	}
}

func TestAutoTradingDisabledIsSignalOnly(t *testing.T) {
	m := New("binance", "BTCUSDT", nil)
	cfg := testRisk()
	cfg.AutoTradingEnabled = false

	res := m.OnAnomaly(volumeAnomaly(models.SeverityCritical), 100, cfg, time.Now())
	if !res.SignalOnly || res.RiskReason != "auto_trading_disabled" {
		t.Fatalf("expected signal-only result: %+v", res)
	}
	if len(res.Intents) != 0 {
		t.Fatalf("intent emitted with auto-trading disabled")
	}
	if m.Position().Status != models.StatusFlat {
		t.Fatalf("position opened with auto-trading disabled")
	}
}

func TestRiskRejectedIsSignalOnly(t *testing.T) {
	m := New("binance", "BTCUSDT", nil)
	cfg := testRisk()
	cfg.StopLossPercentage = 0 // no stop distance, sizing impossible

	res := m.OnAnomaly(volumeAnomaly(models.SeverityCritical), 100, cfg, time.Now())
	if !res.SignalOnly || res.RiskReason != "risk_rejected" {
		t.Fatalf("expected risk rejection: %+v", res)
	}
}

func TestAnomalyIgnoredWhileOpen(t *testing.T) {
	m := New("binance", "BTCUSDT", nil)
	now := time.Unix(1_700_000_000, 0)
	cfg := testRisk()

	m.OnAnomaly(volumeAnomaly(models.SeverityCritical), 100, cfg, now)

	// Opposing signal while open: no flip, no netting.
	pct := 15.0
	rec := &models.AnomalyRecord{
		Kind: models.AnomalyPriceSpike, Severity: models.SeverityCritical, PctChange: &pct,
	}
	res := m.OnAnomaly(rec, 100, cfg, now.Add(time.Second))
	if len(res.Intents) != 0 || len(res.Updates) != 0 || res.SignalOnly {
		t.Fatalf("anomaly while open produced side effects: %+v", res)
	}
	if m.Position().Side != models.SideLong {
		t.Fatalf("position flipped")
	}
}

func TestSeverityScalesSize(t *testing.T) {
	cfg := testRisk()
	critical := positionSize(cfg, 100, models.SeverityCritical)
	high := positionSize(cfg, 100, models.SeverityHigh)
	medium := positionSize(cfg, 100, models.SeverityMedium)
	if !(critical > high && high > medium) {
		t.Fatalf("sizes not ordered by severity: %v %v %v", critical, high, medium)
	}
}

func TestInformationalAnomaliesNeverTrade(t *testing.T) {
	m := New("binance", "BTCUSDT", nil)
	rec := &models.AnomalyRecord{Kind: models.AnomalyWhaleTrade, Severity: models.SeverityCritical}
	res := m.OnAnomaly(rec, 100, testRisk(), time.Now())
	if len(res.Intents) != 0 || res.SignalOnly {
		t.Fatalf("whale trade should stay informational: %+v", res)
	}
}

func TestRiskSetForKey(t *testing.T) {
	set := RiskSet{
		Global: testRisk(),
		Overrides: []KeyRisk{{
			Exchange:   "kraken",
			Symbol:     "ETHUSD",
			RiskConfig: RiskConfig{MaxPositionSize: 10},
		}},
	}
	if set.ForKey("kraken", "ETHUSD").MaxPositionSize != 10 {
		t.Fatalf("override not applied")
	}
	if set.ForKey("binance", "BTCUSDT").MaxPositionSize != 50_000 {
		t.Fatalf("global config not used for unmatched key")
	}
}

func TestRiskConfigValidate(t *testing.T) {
	if err := testRisk().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
	bad := testRisk()
	bad.RiskPercentage = 120
	if err := bad.Validate(); err == nil {
		t.Fatalf("risk_percentage > 100 accepted")
	}
	bad = testRisk()
	bad.StopLossPercentage = -1
	if err := bad.Validate(); err == nil {
		t.Fatalf("negative stop loss accepted")
	}
}
