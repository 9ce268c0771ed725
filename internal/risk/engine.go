// Package risk is the Sizing & Risk Engine (C8): the ordered rejection
// pipeline shared by every fund variant, generalized from the reference
// risk.Manager's kill-switch/daily-loss/position-cap checks into the
// spec's 8-step signal-to-order pipeline.
package risk

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/polyfund/multifund-trader/internal/domain"
	"github.com/polyfund/multifund-trader/internal/registry"
)

// ExposureLookup reports the existing open-position notional for a token
// within a fund, and how many positions/pending-orders the fund currently
// holds — the Sizing engine consults the executor's bookkeeping for this
// rather than owning positions itself (ownership stays with C9).
type ExposureLookup interface {
	ExistingNotional(fundID, tokenID string) decimal.Decimal
	OpenPositionCount(fundID string) int
	HasPosition(fundID, tokenID string) bool
	PendingOrderCount(fundID string) int
}

// Engine is the Sizing & Risk Engine.
type Engine struct {
	registry *registry.Registry
	exposure ExposureLookup
}

// New creates an Engine backed by the fund registry (for risk limits and
// daily counters) and an exposure lookup (for position/order counts owned
// by the execution coordinator).
func New(reg *registry.Registry, exposure ExposureLookup) *Engine {
	return &Engine{registry: reg, exposure: exposure}
}

// Result is the engine's verdict for one signal.
type Result struct {
	Sized    *domain.SizedOrder
	Rejected domain.SizingRejectReason
}

// Accepted reports whether the signal passed every check.
func (r Result) Accepted() bool { return r.Sized != nil }

// Size runs the spec's 8-step pipeline against sig for fund fundID as of
// now, consulting traderWeight/traderCapital for mirror signals (zero
// values for alpha signals, which carry their own sizing inputs).
func (e *Engine) Size(now time.Time, fundID string, sig domain.Signal) Result {
	state, ok := e.registry.Get(fundID)
	if !ok {
		return Result{Rejected: domain.RejectBelowMin}
	}
	fund := state.Fund

	// 1. Kill-switch.
	if fund.Risk.KillSwitch {
		return Result{Rejected: domain.RejectKillSwitch}
	}

	var tokenID, marketSlug, outcome string
	var side domain.Side
	var urgency domain.Urgency
	var referencePrice decimal.Decimal
	var rawNotional decimal.Decimal
	var rawShares decimal.Decimal

	if sig.Trader != nil {
		ts := sig.Trader
		tokenID, marketSlug, outcome = ts.TokenID, ts.MarketSlug, ts.Outcome
		referencePrice = ts.Price
		urgency = domain.UrgencyMedium
		switch ts.Type {
		case domain.SignalBuy:
			side = domain.SideBuy
		default:
			side = domain.SideSell
		}

		// 4. Raw size (mirror).
		if ts.TraderCapital.IsPositive() {
			rawShares = ts.Shares.Mul(fund.StartingCapital.Div(ts.TraderCapital)).Mul(ts.TraderWeight)
		} else {
			rawShares = ts.Shares.Mul(ts.TraderWeight)
		}
		rawNotional = rawShares.Mul(referencePrice)
	} else if sig.Alpha != nil {
		as := sig.Alpha
		tokenID, marketSlug, outcome = as.TokenID, as.MarketSlug, as.Outcome
		referencePrice = as.ReferencePrice
		urgency = as.Urgency

		// 2. Validity (alpha only).
		if !as.Valid(now) {
			return Result{Rejected: domain.RejectExpired}
		}
		if as.Confidence.LessThan(fund.MinConfidence) || as.Strength.LessThan(fund.MinStrength) {
			return Result{Rejected: domain.RejectUnderThresh}
		}
		if as.Action == domain.ActionHold {
			return Result{Rejected: domain.RejectNotActionable}
		}
		switch as.Action {
		case domain.ActionBuy:
			side = domain.SideBuy
		default:
			side = domain.SideSell
		}

		// 4. Raw size (alpha).
		if as.SuggestedNotional.IsPositive() {
			rawNotional = as.SuggestedNotional
		} else {
			basePct := fund.BasePositionPct
			scale := scaleConfidence(as.Confidence, fund.ConfidenceScale)
			rawNotional = fund.StartingCapital.Mul(basePct).Mul(scale).Mul(decimal.NewFromFloat(0.5).Add(as.Strength))
		}
		if referencePrice.IsPositive() {
			rawShares = rawNotional.Div(referencePrice)
		}
	} else {
		return Result{Rejected: domain.RejectBelowMin}
	}

	// 3. Daily caps.
	e.registry.RolloverDailyIfNeeded(fundID, now)
	state, _ = e.registry.Get(fundID)
	if fund.Risk.MaxDailyTrades > 0 && state.DailyTrades >= fund.Risk.MaxDailyTrades {
		return Result{Rejected: domain.RejectDailyLimit}
	}
	if fund.Risk.MaxDailyLossUSD.IsPositive() && state.DailyRealizedPnL.LessThanOrEqual(fund.Risk.MaxDailyLossUSD.Neg()) {
		return Result{Rejected: domain.RejectDailyLimit}
	}

	// Drawdown: total P&L (realized + mark-to-market) against starting
	// capital, the way the reference risk manager's EvaluateDrawdown does.
	if fund.Risk.MaxDrawdownFraction.IsPositive() && fund.StartingCapital.IsPositive() {
		totalPnL := state.RealizedPnL.Add(state.UnrealizedPnL)
		if totalPnL.IsNegative() {
			drawdownFraction := totalPnL.Neg().Div(fund.StartingCapital)
			if drawdownFraction.GreaterThanOrEqual(fund.Risk.MaxDrawdownFraction) {
				return Result{Rejected: domain.RejectDrawdown}
			}
		}
	}

	// 5. Position & exposure caps.
	maxPositionNotional := fund.StartingCapital.Mul(fund.MaxPositionPct)
	if rawNotional.GreaterThan(maxPositionNotional) {
		rawNotional = maxPositionNotional
	}
	existing := e.exposure.ExistingNotional(fundID, tokenID)
	remaining := fund.Risk.MaxSingleMarketExpUSD.Sub(existing)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	if rawNotional.GreaterThan(remaining) {
		rawNotional = remaining
	}

	// 6. Open-position cap (new token only).
	if !e.exposure.HasPosition(fundID, tokenID) {
		if fund.Risk.MaxOpenPositions > 0 && e.exposure.OpenPositionCount(fundID) >= fund.Risk.MaxOpenPositions {
			return Result{Rejected: domain.RejectMaxOpen}
		}
	}

	// 7. Concurrency cap.
	if fund.Risk.MaxConcurrentOrders > 0 && e.exposure.PendingOrderCount(fundID) >= fund.Risk.MaxConcurrentOrders {
		return Result{Rejected: domain.RejectMaxConcurrent}
	}

	if referencePrice.IsZero() {
		return Result{Rejected: domain.RejectBelowMin}
	}
	shares := rawNotional.Div(referencePrice)

	// 8. Minimum.
	if shares.Mul(referencePrice).LessThan(fund.MinTradeUSD) {
		return Result{Rejected: domain.RejectBelowMin}
	}

	shares = roundShares(shares)

	_ = marketSlug
	_ = outcome
	return Result{Sized: &domain.SizedOrder{
		Shares:         shares,
		ReferencePrice: referencePrice,
		Side:           side,
		Urgency:        urgency,
		Signal:         sig,
	}}
}

// scaleConfidence implements scale(c) = clamp(0.5 + c*confidenceScaling*3, 0.5, 2.0).
func scaleConfidence(confidence, confidenceScaling decimal.Decimal) decimal.Decimal {
	v := decimal.NewFromFloat(0.5).Add(confidence.Mul(confidenceScaling).Mul(decimal.NewFromInt(3)))
	lo := decimal.NewFromFloat(0.5)
	hi := decimal.NewFromFloat(2.0)
	if v.LessThan(lo) {
		return lo
	}
	if v.GreaterThan(hi) {
		return hi
	}
	return v
}

// roundShares rounds to 2 decimals, round-toward-zero (truncation).
func roundShares(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(2)
}

// RoundPrice rounds a limit price to 4 decimals, rounding up for buys and
// down for sells, per the spec's rounding rules.
func RoundPrice(price decimal.Decimal, side domain.Side) decimal.Decimal {
	if side == domain.SideBuy {
		return price.RoundCeil(4)
	}
	return price.RoundFloor(4)
}
