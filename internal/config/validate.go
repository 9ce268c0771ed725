package config

import (
	"fmt"
	"strings"
)

// Validate checks high-impact runtime configuration constraints.
func (c Config) Validate() error {
	mode := strings.ToLower(strings.TrimSpace(c.TradingMode))
	if mode != "" && mode != "paper" && mode != "live" {
		return fmt.Errorf("trading_mode must be 'paper' or 'live', got %q", c.TradingMode)
	}

	if c.TotalCapitalUSDC < 0 {
		return fmt.Errorf("total_capital_usdc must be >= 0, got %f", c.TotalCapitalUSDC)
	}

	seen := make(map[string]bool, len(c.Funds))
	for _, f := range c.Funds {
		if err := f.validate(); err != nil {
			return err
		}
		if seen[f.ID] {
			return fmt.Errorf("funds: duplicate fund id %q", f.ID)
		}
		seen[f.ID] = true
	}

	return nil
}

func (f FundConfig) validate() error {
	if strings.TrimSpace(f.ID) == "" {
		return fmt.Errorf("funds: id must be set")
	}
	switch f.Category {
	case "mirror", "alert", "edge", "arb":
	default:
		return fmt.Errorf("funds[%s]: category must be one of mirror|alert|edge|arb, got %q", f.ID, f.Category)
	}
	if f.Category == "mirror" && strings.TrimSpace(f.IndexID) == "" {
		return fmt.Errorf("funds[%s]: index_id is required for mirror funds", f.ID)
	}
	if f.CapitalUSDC <= 0 && f.CapitalPoolPct <= 0 {
		return fmt.Errorf("funds[%s]: one of capital_usdc or capital_pool_pct must be > 0", f.ID)
	}
	if f.MaxPositionPct <= 0 || f.MaxPositionPct > 1 {
		return fmt.Errorf("funds[%s]: max_position_pct must be within (0,1], got %f", f.ID, f.MaxPositionPct)
	}
	if f.MinTradeUSD < 0 {
		return fmt.Errorf("funds[%s]: min_trade_usd must be >= 0, got %f", f.ID, f.MinTradeUSD)
	}
	if f.SignalDelaySec < 0 {
		return fmt.Errorf("funds[%s]: signal_delay_sec must be >= 0, got %d", f.ID, f.SignalDelaySec)
	}
	if f.MaxSlippage < 0 {
		return fmt.Errorf("funds[%s]: max_slippage must be >= 0, got %f", f.ID, f.MaxSlippage)
	}
	if f.MaxOpenPositions <= 0 {
		return fmt.Errorf("funds[%s]: max_open_positions must be > 0, got %d", f.ID, f.MaxOpenPositions)
	}
	if f.MaxConcurrentOrders <= 0 {
		return fmt.Errorf("funds[%s]: max_concurrent_orders must be > 0, got %d", f.ID, f.MaxConcurrentOrders)
	}
	if f.MaxDailyLossUSD < 0 {
		return fmt.Errorf("funds[%s]: max_daily_loss_usd must be >= 0, got %f", f.ID, f.MaxDailyLossUSD)
	}
	if f.Category == "arb" && f.MaxArbNotional <= 0 {
		return fmt.Errorf("funds[%s]: max_arb_notional must be > 0 for arbitrage funds", f.ID)
	}
	return nil
}
