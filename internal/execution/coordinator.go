// Package execution is the Execution Coordinator (C9): it converts a sized
// signal into a limit order, submits it, updates the fund's position map,
// and persists the execution record — generalized from the reference
// execution.Tracker's average-cost position math from asset-scoped to
// fund-scoped.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/polyfund/multifund-trader/internal/domain"
	"github.com/polyfund/multifund-trader/internal/gateway"
	"github.com/polyfund/multifund-trader/internal/registry"
	"github.com/polyfund/multifund-trader/internal/risk"
)

// Gateway is the subset of the gateway client the coordinator needs, kept
// as an interface so tests can supply a fake without a live SDK client.
type Gateway interface {
	PlaceLimitOrder(ctx context.Context, tokenID string, side domain.Side, price, shares decimal.Decimal) (gateway.OrderAck, error)
}

// Persister is the subset of the analytics client the coordinator needs.
type Persister interface {
	InsertExecution(ctx context.Context, rec domain.ExecutionRecord) error
}

// fundBook is one fund's exclusively-owned position/order state.
type fundBook struct {
	mu        sync.Mutex
	positions map[string]*domain.FundPosition // keyed by tokenID
	pending   map[string]*domain.PendingOrder // keyed by orderID
}

// Coordinator is the Execution Coordinator.
type Coordinator struct {
	gateway   Gateway
	persister Persister
	registry  *registry.Registry

	mu     sync.RWMutex
	books  map[string]*fundBook
}

// New creates a Coordinator.
func New(gateway Gateway, persister Persister, reg *registry.Registry) *Coordinator {
	return &Coordinator{
		gateway:   gateway,
		persister: persister,
		registry:  reg,
		books:     make(map[string]*fundBook),
	}
}

func (c *Coordinator) bookFor(fundID string) *fundBook {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.books[fundID]
	if !ok {
		b = &fundBook{positions: make(map[string]*domain.FundPosition), pending: make(map[string]*domain.PendingOrder)}
		c.books[fundID] = b
	}
	return b
}

// ExistingNotional implements risk.ExposureLookup.
func (c *Coordinator) ExistingNotional(fundID, tokenID string) decimal.Decimal {
	b := c.bookFor(fundID)
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[tokenID]
	if !ok {
		return decimal.Zero
	}
	return pos.Shares.Mul(pos.AvgCostBasis)
}

// OpenPositionCount implements risk.ExposureLookup.
func (c *Coordinator) OpenPositionCount(fundID string) int {
	b := c.bookFor(fundID)
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.positions)
}

// HasPosition implements risk.ExposureLookup.
func (c *Coordinator) HasPosition(fundID, tokenID string) bool {
	b := c.bookFor(fundID)
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.positions[tokenID]
	return ok
}

// PendingOrderCount implements risk.ExposureLookup.
func (c *Coordinator) PendingOrderCount(fundID string) int {
	b := c.bookFor(fundID)
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Position returns a copy of the fund's current position for tokenID.
func (c *Coordinator) Position(fundID, tokenID string) (domain.FundPosition, bool) {
	b := c.bookFor(fundID)
	b.mu.Lock()
	defer b.mu.Unlock()
	pos, ok := b.positions[tokenID]
	if !ok {
		return domain.FundPosition{}, false
	}
	return *pos, true
}

// Positions returns a snapshot copy of every open position currently held
// by fundID, for NAV aggregation.
func (c *Coordinator) Positions(fundID string) []domain.FundPosition {
	b := c.bookFor(fundID)
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]domain.FundPosition, 0, len(b.positions))
	for _, pos := range b.positions {
		out = append(out, *pos)
	}
	return out
}

var _ risk.ExposureLookup = (*Coordinator)(nil)

// IsWildcardExit reports whether sig is the edge-decay "sell everything"
// sentinel (marketSlug = token = "*"). The orchestrator checks this before
// handing a signal to the sizing engine, since a wildcard has no single
// token/price for the engine to size against.
func IsWildcardExit(sig domain.Signal) bool {
	return sig.Alpha != nil && sig.Alpha.MarketSlug == "*" && sig.Alpha.TokenID == "*"
}

// ExecuteWildcardExit expands a decay-exit signal into one SizedOrder per
// open position currently held by fundID, each routed through the normal
// Execute pipeline so the same limit-price, submit, and persist logic
// applies to every leg. Positions are not individually trader-attributed
// in this coordinator, so every open position in the fund is exited —
// acceptable because wildcard exits are only ever emitted by a fund's own
// edge-ranked strategy, whose positions are already scoped to that
// strategy's tracked traders. This bypasses the sizing engine (there is
// nothing to size, every leg is a full close), so it checks the fund's
// kill-switch directly rather than relying on risk.Engine.Size.
func (c *Coordinator) ExecuteWildcardExit(ctx context.Context, now time.Time, fundID string, sig domain.Signal, slippage decimal.Decimal) {
	if !IsWildcardExit(sig) {
		return
	}
	if state, ok := c.registry.Get(fundID); ok && state.Fund.Risk.KillSwitch {
		return
	}
	b := c.bookFor(fundID)
	b.mu.Lock()
	tokens := make([]string, 0, len(b.positions))
	for tok := range b.positions {
		tokens = append(tokens, tok)
	}
	b.mu.Unlock()

	for _, tok := range tokens {
		pos, ok := c.Position(fundID, tok)
		if !ok || pos.Shares.LessThanOrEqual(decimal.Zero) {
			continue
		}
		leg := domain.SizedOrder{
			Shares:         pos.Shares,
			ReferencePrice: pos.AvgCostBasis,
			Side:           domain.SideSell,
			Urgency:        sig.Alpha.Urgency,
			Signal: domain.Signal{Alpha: &domain.AlphaSignal{
				SignalID:   sig.Alpha.SignalID + "-" + tok,
				Source:     sig.Alpha.Source,
				Action:     domain.ActionSell,
				MarketSlug: pos.MarketSlug,
				TokenID:    tok,
				Outcome:    pos.Outcome,
				Confidence: sig.Alpha.Confidence,
				Reason:     sig.Alpha.Reason,
			}},
		}
		if err := c.Execute(ctx, now, fundID, leg, slippage); err != nil {
			slog.Warn("wildcard exit leg failed", "fund", fundID, "token", tok, "error", err)
		}
	}
}

// Execute runs the spec's side/limit-price/submit/position-update/persist
// pipeline for one sized signal against fundID.
func (c *Coordinator) Execute(ctx context.Context, now time.Time, fundID string, sized domain.SizedOrder, slippage decimal.Decimal) error {
	c.registry.IncSignalsProcessed(fundID)

	limit := limitPrice(sized.ReferencePrice, sized.Side, slippage, sized.Urgency)
	limit = risk.RoundPrice(limit, sized.Side)

	ack, err := c.gateway.PlaceLimitOrder(ctx, tokenIDOf(sized.Signal), sized.Side, limit, sized.Shares)
	if err != nil {
		var rejected *domain.GatewayRejected
		if isGatewayRejected(err, &rejected) {
			c.registry.IncOrdersRejected(fundID)
		} else {
			c.registry.IncOrdersFailed(fundID)
		}
		return err
	}

	c.registry.IncOrdersSubmitted(fundID)
	notional := sized.Shares.Mul(limit)
	c.registry.RecordTrade(fundID, notional)

	tokenID := tokenIDOf(sized.Signal)
	b := c.bookFor(fundID)
	rec := c.applyFill(b, now, sized, limit, ack.OrderID)

	if pnlDelta, ok := rec.pnlDelta(); ok {
		c.registry.AddRealizedPnL(fundID, pnlDelta)
	}

	execRecord := toExecutionRecord(fundID, sized, limit, ack.OrderID, now)
	if err := c.persister.InsertExecution(ctx, execRecord); err != nil {
		c.registry.IncPersistFailed(fundID)
		slog.Warn("execution persist failed", "fund", fundID, "token", tokenID, "error", err)
	}
	return nil
}

type fillOutcome struct {
	realizedDelta decimal.Decimal
	hasDelta      bool
}

func (f fillOutcome) pnlDelta() (decimal.Decimal, bool) { return f.realizedDelta, f.hasDelta }

// applyFill updates the fund's position map under the book's lock,
// generalizing the reference tracker's updatePosition (average-cost on
// BUY, realized-PnL + oversell clamp on SELL) from asset-keyed state to a
// fund-scoped map.
func (c *Coordinator) applyFill(b *fundBook, now time.Time, sized domain.SizedOrder, limit decimal.Decimal, orderID string) fillOutcome {
	tokenID := tokenIDOf(sized.Signal)
	marketSlug, outcome := marketSlugOf(sized.Signal), outcomeOf(sized.Signal)

	b.mu.Lock()
	defer b.mu.Unlock()

	pos, existed := b.positions[tokenID]
	if sized.Side == domain.SideBuy {
		if !existed {
			b.positions[tokenID] = &domain.FundPosition{
				PositionID:     fmt.Sprintf("%s-%s", tokenID, orderID),
				MarketSlug:     marketSlug,
				TokenID:        tokenID,
				Outcome:        outcome,
				Shares:         sized.Shares,
				AvgCostBasis:   limit,
				OpenedAt:       now,
				LastUpdatedAt:  now,
				OriginSignalID: sized.Signal.ID(),
			}
			return fillOutcome{}
		}
		totalCost := pos.AvgCostBasis.Mul(pos.Shares).Add(limit.Mul(sized.Shares))
		pos.Shares = pos.Shares.Add(sized.Shares)
		if pos.Shares.IsPositive() {
			pos.AvgCostBasis = totalCost.Div(pos.Shares)
		}
		pos.LastUpdatedAt = now
		return fillOutcome{}
	}

	// SELL
	if !existed || pos.Shares.IsZero() {
		slog.Warn("oversell attempt: no position to sell against, clamping", "token", tokenID)
		return fillOutcome{}
	}
	sellShares := sized.Shares
	oversold := false
	if sellShares.GreaterThan(pos.Shares) {
		oversold = true
		sellShares = pos.Shares
	}
	delta := limit.Sub(pos.AvgCostBasis).Mul(sellShares)
	pos.RealizedPnL = pos.RealizedPnL.Add(delta)
	pos.Shares = pos.Shares.Sub(sellShares)
	pos.LastUpdatedAt = now
	if oversold {
		slog.Warn("oversell attempt: clamped shares to zero", "token", tokenID, "requested", sized.Shares, "available", sellShares)
	}
	if pos.Shares.LessThanOrEqual(decimal.Zero) {
		delete(b.positions, tokenID)
	}
	return fillOutcome{realizedDelta: delta, hasDelta: true}
}

// limitPrice implements limit = referencePrice * (1 +/- slippage * urgencyMult).
func limitPrice(reference decimal.Decimal, side domain.Side, slippage decimal.Decimal, urgency domain.Urgency) decimal.Decimal {
	adj := slippage.Mul(domain.UrgencyMultiplier(urgency))
	if side == domain.SideBuy {
		return reference.Mul(decimal.NewFromInt(1).Add(adj))
	}
	return reference.Mul(decimal.NewFromInt(1).Sub(adj))
}

func tokenIDOf(sig domain.Signal) string {
	if sig.Trader != nil {
		return sig.Trader.TokenID
	}
	if sig.Alpha != nil {
		return sig.Alpha.TokenID
	}
	return ""
}

func marketSlugOf(sig domain.Signal) string {
	if sig.Trader != nil {
		return sig.Trader.MarketSlug
	}
	if sig.Alpha != nil {
		return sig.Alpha.MarketSlug
	}
	return ""
}

func outcomeOf(sig domain.Signal) string {
	if sig.Trader != nil {
		return sig.Trader.Outcome
	}
	if sig.Alpha != nil {
		return sig.Alpha.Outcome
	}
	return ""
}

func toExecutionRecord(fundID string, sized domain.SizedOrder, limit decimal.Decimal, orderID string, now time.Time) domain.ExecutionRecord {
	rec := domain.ExecutionRecord{
		FundID:         fundID,
		SignalID:       sized.Signal.ID(),
		MarketSlug:     marketSlugOf(sized.Signal),
		TokenID:        tokenIDOf(sized.Signal),
		Outcome:        outcomeOf(sized.Signal),
		Side:           sized.Side,
		FundShares:     sized.Shares,
		ExecutionPrice: limit,
		OrderID:        orderID,
		ExecutedAt:     now,
	}
	if sized.Signal.Trader != nil {
		rec.TraderUsername = sized.Signal.Trader.Username
		rec.TraderShares = sized.Signal.Trader.Shares
		rec.DetectedAt = sized.Signal.Trader.DetectedAt
	} else if sized.Signal.Alpha != nil {
		rec.DetectedAt = sized.Signal.Alpha.DetectedAt
	}
	return rec
}

func isGatewayRejected(err error, target **domain.GatewayRejected) bool {
	if r, ok := err.(*domain.GatewayRejected); ok {
		*target = r
		return true
	}
	return false
}
