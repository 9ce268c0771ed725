package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/polyfund/multifund-trader/internal/analytics"
	"github.com/polyfund/multifund-trader/internal/domain"
	"github.com/polyfund/multifund-trader/internal/signalqueue"
)

// HighEdgeSource is the subset of the analytics client the edge-ranked
// follower uses to refresh its roster.
type HighEdgeSource interface {
	HighEdgeTraders(ctx context.Context, minEdge, maxInverseConfidence decimal.Decimal, limit int) ([]analytics.HighEdgeTraderRow, error)
}

const (
	edgeRosterTTL       = 600 * time.Second
	edgeHistoryCapacity = 12
	edgeDecayThreshold  = 15
	edgeMinScore        = 70
	edgeMaxInverseConf  = 0.5
	edgeRosterLimit     = 50
	edgeTradeMaxAge     = time.Hour
	edgeCooldown        = 60 * time.Second
)

type rosterEntry struct {
	row       analytics.HighEdgeTraderRow
	history   []domain.EdgePoint
	updatedAt time.Time
}

// Edge is the Edge-Ranked Follower strategy (C12): it tracks a roster of
// high-edge traders, mirrors their recent trades as alpha signals, and
// emits a SELL-everything signal when a tracked trader's edge decays.
type Edge struct {
	fund   domain.Fund
	roster HighEdgeSource
	trades TradeSource
	queue  *signalqueue.Queue

	highEdge          map[string]*rosterEntry // keyed by lower-cased proxy address
	processedTradeIDs map[string]struct{}
	lastTradePoll     time.Time
	lastSignalAt      map[string]time.Time // keyed by market slug
}

// NewEdge creates an Edge strategy for fund.
func NewEdge(fund domain.Fund, roster HighEdgeSource, trades TradeSource, queue *signalqueue.Queue, start time.Time) *Edge {
	return &Edge{
		fund:              fund,
		roster:            roster,
		trades:            trades,
		queue:             queue,
		highEdge:          make(map[string]*rosterEntry),
		processedTradeIDs: make(map[string]struct{}),
		lastTradePoll:     start.Add(-edgeRosterTTL),
		lastSignalAt:      make(map[string]time.Time),
	}
}

func (e *Edge) Name() string { return "edge:" + e.fund.ID }

// ResetHighwaterMark rewinds the trade-poll window to the same roster-TTL
// lookback NewEdge bootstraps with. Registered with the scheduler's clock
// skew watchdog so a backward jump doesn't leave trades between the old
// and new "now" permanently unseen.
func (e *Edge) ResetHighwaterMark(now time.Time) {
	e.lastTradePoll = now.Add(-edgeRosterTTL)
}

// Tick runs one refresh-roster / evict-stale / trade-fan-in cycle.
func (e *Edge) Tick(ctx context.Context, now time.Time) {
	e.refreshRoster(ctx, now)
	e.evictStale(now)
	e.fanInTrades(ctx, now)
}

func (e *Edge) refreshRoster(ctx context.Context, now time.Time) {
	rows, err := e.roster.HighEdgeTraders(ctx, decimal.NewFromInt(edgeMinScore), decimal.NewFromFloat(edgeMaxInverseConf), edgeRosterLimit)
	if err != nil {
		slog.Warn("edge: roster refresh failed", "fund", e.fund.ID, "error", err)
		return
	}

	for _, row := range rows {
		addr := lowerAddr(row.ProxyAddress)
		ent, ok := e.highEdge[addr]
		if !ok {
			ent = &rosterEntry{}
			e.highEdge[addr] = ent
		}

		hadHistory := len(ent.history) > 0

		ent.row = row
		ent.updatedAt = now
		ent.history = append(ent.history, domain.EdgePoint{Edge: row.Edge, At: now})
		if len(ent.history) > edgeHistoryCapacity {
			ent.history = ent.history[len(ent.history)-edgeHistoryCapacity:]
		}

		if hadHistory {
			decay := maxEdge(ent.history).Sub(row.Edge)
			if decay.GreaterThan(decimal.NewFromInt(edgeDecayThreshold)) {
				e.emitDecaySignal(now, row, decay)
			}
		}
	}
}

func (e *Edge) evictStale(now time.Time) {
	cutoff := now.Add(-2 * edgeRosterTTL)
	for addr, ent := range e.highEdge {
		if ent.updatedAt.Before(cutoff) {
			delete(e.highEdge, addr)
		}
	}
}

func (e *Edge) fanInTrades(ctx context.Context, now time.Time) {
	if len(e.highEdge) == 0 {
		return
	}
	addrs := make([]string, 0, len(e.highEdge))
	for _, ent := range e.highEdge {
		addrs = append(addrs, ent.row.ProxyAddress)
	}

	rows, err := e.trades.TradesForAddressesDesc(ctx, addrs, e.lastTradePoll, now)
	if err != nil {
		slog.Warn("edge: trade fan-in failed", "fund", e.fund.ID, "error", err)
		return
	}

	for _, row := range rows {
		if _, ok := e.processedTradeIDs[row.TradeID]; ok {
			continue
		}
		age := now.Sub(row.TS)
		if age > edgeTradeMaxAge {
			e.processedTradeIDs[row.TradeID] = struct{}{}
			continue
		}
		if last, ok := e.lastSignalAt[row.MarketSlug]; ok && now.Sub(last) < edgeCooldown {
			continue
		}

		ent, ok := e.highEdge[lowerAddr(row.ProxyAddress)]
		if !ok {
			continue
		}

		sig := e.toAlphaSignal(row, ent.row.Edge, age)
		e.queue.Enqueue(now, domain.Signal{Alpha: &sig})
		e.lastSignalAt[row.MarketSlug] = now
		e.processedTradeIDs[row.TradeID] = struct{}{}
	}

	if len(e.processedTradeIDs) > processedEvictAt {
		evictOldestHalf(e.processedTradeIDs)
	}

	e.lastTradePoll = now
}

// toAlphaSignal implements the spec's confidence/strength/urgency formulas:
// confidence = edge/100; strength = confidence * clamp(notional/1000,0,1);
// urgency escalates with edge and recency.
func (e *Edge) toAlphaSignal(row analytics.TradeRow, edge decimal.Decimal, age time.Duration) domain.AlphaSignal {
	action := domain.ActionSell
	if strings.EqualFold(row.Side, "BUY") {
		action = domain.ActionBuy
	}

	confidence := edge.Div(decimal.NewFromInt(100))
	sizeFrac := clampUnit(row.Notional.Div(decimal.NewFromInt(1000)))
	strength := confidence.Mul(sizeFrac)

	return domain.AlphaSignal{
		SignalID:          row.TradeID,
		Source:            "edge:" + row.Username,
		Action:            action,
		MarketSlug:        row.MarketSlug,
		TokenID:           row.TokenID,
		Confidence:        confidence,
		Strength:          strength,
		Urgency:           edgeUrgency(edge, age),
		SuggestedNotional: row.Notional.Mul(decimal.NewFromFloat(0.5)),
		ReferencePrice:    row.Price,
		DetectedAt:        row.TS,
		ExpiresAt:         row.TS.Add(edgeTradeMaxAge),
	}
}

func edgeUrgency(edge decimal.Decimal, age time.Duration) domain.Urgency {
	switch {
	case edge.GreaterThanOrEqual(decimal.NewFromInt(90)) && age < 60*time.Second:
		return domain.UrgencyHigh
	case edge.GreaterThanOrEqual(decimal.NewFromInt(80)) && age < 300*time.Second:
		return domain.UrgencyMedium
	default:
		return domain.UrgencyLow
	}
}

// emitDecaySignal builds the wildcard "exit everything attributable to this
// trader" signal; the execution coordinator is responsible for expanding
// the marketSlug=token="*" sentinel into per-position sells.
func (e *Edge) emitDecaySignal(now time.Time, row analytics.HighEdgeTraderRow, decay decimal.Decimal) {
	confidence := decay.Div(decimal.NewFromInt(30))
	ceiling := decimal.NewFromFloat(0.9)
	if confidence.GreaterThan(ceiling) {
		confidence = ceiling
	}

	sig := domain.AlphaSignal{
		SignalID:   fmt.Sprintf("decay-%s-%d", row.ProxyAddress, now.UnixNano()),
		Source:     "edge-decay:" + row.Username,
		Action:     domain.ActionSell,
		MarketSlug: "*",
		TokenID:    "*",
		Confidence: confidence,
		Strength:   decimal.NewFromFloat(0.5),
		Urgency:    domain.UrgencyMedium,
		Reason:     "edge decay",
		Metadata:   map[string]string{"proxy_address": row.ProxyAddress},
		DetectedAt: now,
		ExpiresAt:  now.Add(edgeCooldown),
	}
	e.queue.Enqueue(now, domain.Signal{Alpha: &sig})
}

func clampUnit(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	if d.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return d
}

func lowerAddr(s string) string {
	return strings.ToLower(s)
}

// maxEdge returns the highest edge score recorded in history, per the
// decay-value definition: decay = max(edge) - latest(edge).
func maxEdge(history []domain.EdgePoint) decimal.Decimal {
	best := history[0].Edge
	for _, p := range history[1:] {
		if p.Edge.GreaterThan(best) {
			best = p.Edge
		}
	}
	return best
}
