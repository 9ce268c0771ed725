package strategy

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/polyfund/multifund-trader/internal/analytics"
	"github.com/polyfund/multifund-trader/internal/domain"
	"github.com/polyfund/multifund-trader/internal/signalqueue"
)

// MarketSource is the subset of the analytics client the arbitrage
// strategy uses to discover candidate binary markets.
type MarketSource interface {
	BinaryMarkets(ctx context.Context, now time.Time) ([]analytics.BinaryMarketRow, error)
}

// TOBSource is the subset of the market-data cache the arbitrage strategy
// reads top-of-book from.
type TOBSource interface {
	FreshTOB(tokenID string, now time.Time, maxAge time.Duration) (domain.TopOfBook, bool)
}

const (
	arbMaxConcurrent  = 5
	arbEdgeThreshold  = 0.02
	arbConfidenceSlope = 0.45
	arbMinLegNotional = 10
	arbMinAskSize     = 50
	arbSignalExpiry   = 60 * time.Second
	arbTOBMaxAge      = 5 * time.Second
	arbRecentlyCap    = 200
)

type activeArb struct {
	enteredAt time.Time
	endTime   time.Time
}

// Arbitrage is the Complete-Set Arbitrage strategy (C13): it scans binary
// markets for YES+NO ask prices summing below 1, and emits a paired BUY
// signal for both legs when the edge and liquidity clear the bar.
type Arbitrage struct {
	fund          domain.Fund
	markets       MarketSource
	tob           TOBSource
	queue         *signalqueue.Queue
	maxArbNotional decimal.Decimal

	activeArbs        map[string]activeArb // keyed by market slug
	recentlyProcessed map[string]struct{}
}

// NewArbitrage creates an Arbitrage strategy for fund. maxArbNotional is
// the total (both legs) notional budget per opportunity.
func NewArbitrage(fund domain.Fund, markets MarketSource, tob TOBSource, queue *signalqueue.Queue, maxArbNotional decimal.Decimal) *Arbitrage {
	return &Arbitrage{
		fund:              fund,
		markets:           markets,
		tob:               tob,
		queue:             queue,
		maxArbNotional:    maxArbNotional,
		activeArbs:        make(map[string]activeArb),
		recentlyProcessed: make(map[string]struct{}),
	}
}

func (a *Arbitrage) Name() string { return "arb:" + a.fund.ID }

// Tick scans for new opportunities as of now. Returns immediately once the
// fund already has arbMaxConcurrent active positions.
func (a *Arbitrage) Tick(ctx context.Context, now time.Time) {
	if len(a.activeArbs) >= arbMaxConcurrent {
		return
	}

	rows, err := a.markets.BinaryMarkets(ctx, now)
	if err != nil {
		slog.Warn("arb: market scan failed", "fund", a.fund.ID, "error", err)
		return
	}

	for _, row := range rows {
		if len(a.activeArbs) >= arbMaxConcurrent {
			return
		}
		if _, ok := a.activeArbs[row.Slug]; ok {
			continue
		}
		if _, ok := a.recentlyProcessed[row.Slug]; ok {
			continue
		}

		yes, ok := a.tob.FreshTOB(row.YesToken, now, arbTOBMaxAge)
		if !ok || yes.BestAskSize.LessThan(decimal.NewFromInt(arbMinAskSize)) {
			continue
		}
		no, ok := a.tob.FreshTOB(row.NoToken, now, arbTOBMaxAge)
		if !ok || no.BestAskSize.LessThan(decimal.NewFromInt(arbMinAskSize)) {
			continue
		}

		edge := decimal.NewFromInt(1).Sub(yes.BestAsk.Add(no.BestAsk))
		if edge.LessThan(decimal.NewFromFloat(arbEdgeThreshold)) {
			continue
		}

		perSide := a.maxArbNotional.Div(decimal.NewFromInt(2))
		liquidityCap := decimal.Min(yes.BestAskSize, no.BestAskSize).Mul(decimal.NewFromFloat(0.5))
		if liquidityCap.LessThan(perSide) {
			perSide = liquidityCap
		}
		if perSide.LessThan(decimal.NewFromInt(arbMinLegNotional)) {
			continue
		}

		confidence := decimal.NewFromFloat(0.5).Add(edge.Div(decimal.NewFromFloat(0.03)).Mul(decimal.NewFromFloat(arbConfidenceSlope)))
		if confidence.GreaterThan(decimal.NewFromFloat(0.95)) {
			confidence = decimal.NewFromFloat(0.95)
		}
		if confidence.IsNegative() {
			confidence = decimal.Zero
		}

		arbID := uuid.NewString()
		expiresAt := now.Add(arbSignalExpiry)

		yesSig := domain.AlphaSignal{
			SignalID:          arbID + "-yes",
			Source:            "arb",
			Action:             domain.ActionBuy,
			MarketSlug:        row.Slug,
			TokenID:           row.YesToken,
			Outcome:           "YES",
			Confidence:        confidence,
			Strength:          decimal.NewFromFloat(0.5),
			Urgency:           domain.UrgencyHigh,
			SuggestedNotional: perSide,
			ReferencePrice:    yes.BestAsk,
			ArbID:             arbID,
			DetectedAt:        now,
			ExpiresAt:         expiresAt,
		}
		noSig := domain.AlphaSignal{
			SignalID:          arbID + "-no",
			Source:            "arb",
			Action:             domain.ActionBuy,
			MarketSlug:        row.Slug,
			TokenID:           row.NoToken,
			Outcome:           "NO",
			Confidence:        confidence,
			Strength:          decimal.NewFromFloat(0.5),
			Urgency:           domain.UrgencyHigh,
			SuggestedNotional: perSide,
			ReferencePrice:    no.BestAsk,
			ArbID:             arbID,
			DetectedAt:        now,
			ExpiresAt:         expiresAt,
		}

		a.queue.Enqueue(now, domain.Signal{Alpha: &yesSig})
		a.queue.Enqueue(now, domain.Signal{Alpha: &noSig})

		a.activeArbs[row.Slug] = activeArb{enteredAt: now, endTime: row.EndTime}
		a.markRecentlyProcessed(row.Slug)
	}
}

// MaintenanceTick removes activeArbs entries whose market end-time has
// passed — the point at which the complete set is considered realised.
//
// TODO: reconcile realised arbitrage P&L against the gateway's own position
// report here before dropping the entry; currently the entry is just
// discarded and P&L comes only from the two legs' own execution records.
func (a *Arbitrage) MaintenanceTick(now time.Time) {
	for slug, arb := range a.activeArbs {
		if !arb.endTime.IsZero() && arb.endTime.Before(now) {
			delete(a.activeArbs, slug)
		}
	}
}

func (a *Arbitrage) markRecentlyProcessed(slug string) {
	a.recentlyProcessed[slug] = struct{}{}
	if len(a.recentlyProcessed) > arbRecentlyCap {
		evictOldestHalf(a.recentlyProcessed)
	}
}
