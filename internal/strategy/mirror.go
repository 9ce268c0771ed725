// Package strategy holds the four signal generators (C10-C13). Each one
// owns its own poll state and talks only to the analytics client, the
// index cache, the market-data cache, and its fund's signal queue — never
// to another strategy or to the execution coordinator directly.
package strategy

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/polyfund/multifund-trader/internal/analytics"
	"github.com/polyfund/multifund-trader/internal/domain"
	"github.com/polyfund/multifund-trader/internal/indexcache"
	"github.com/polyfund/multifund-trader/internal/signalqueue"
)

// TradeSource is the subset of the analytics client the mirror and
// edge-ranked strategies poll trades through.
type TradeSource interface {
	TradesForAddresses(ctx context.Context, addrs []string, from, to time.Time) ([]analytics.TradeRow, error)
	TradesForAddressesDesc(ctx context.Context, addrs []string, from, to time.Time) ([]analytics.TradeRow, error)
}

// IndexSource is the subset of the index cache the mirror strategy reads.
type IndexSource interface {
	Get(ctx context.Context, indexID string) ([]domain.IndexConstituent, error)
}

// Mirror is the Mirror-by-Weight strategy (C10): it shadows the trades of
// an index's constituents into proportionally-sized signals for its fund.
type Mirror struct {
	fund   domain.Fund
	trades TradeSource
	index  IndexSource
	queue  *signalqueue.Queue

	lastPoll     time.Time
	perAddrSeen  map[string]time.Time
}

// NewMirror creates a Mirror strategy for fund, with its poll window
// initialised 10s before start, per the spec's first-tick bootstrap.
func NewMirror(fund domain.Fund, trades TradeSource, index IndexSource, queue *signalqueue.Queue, start time.Time) *Mirror {
	return &Mirror{
		fund:        fund,
		trades:      trades,
		index:       index,
		queue:       queue,
		lastPoll:    start.Add(-10 * time.Second),
		perAddrSeen: make(map[string]time.Time),
	}
}

// Name identifies the strategy for logging.
func (m *Mirror) Name() string { return "mirror:" + m.fund.ID }

// ResetHighwaterMark rewinds the poll window to now minus 10s, the same
// bootstrap offset NewMirror uses. The scheduler calls this when it
// detects the wall clock has jumped backward, so a stale lastPoll can't
// leave a gap of unseen trades once the clock catches back up.
func (m *Mirror) ResetHighwaterMark(now time.Time) {
	m.lastPoll = now.Add(-10 * time.Second)
}

// Tick runs one poll-and-enqueue cycle as of now.
func (m *Mirror) Tick(ctx context.Context, now time.Time) {
	constituents, err := m.index.Get(ctx, m.fund.IndexID)
	if err != nil {
		slog.Warn("mirror: index lookup failed", "fund", m.fund.ID, "index", m.fund.IndexID, "error", err)
		return
	}
	if len(constituents) == 0 {
		return
	}

	addrs := make([]string, 0, len(constituents))
	for _, c := range constituents {
		addrs = append(addrs, c.ProxyAddress)
	}

	rows, err := m.trades.TradesForAddresses(ctx, addrs, m.lastPoll, now)
	if err != nil {
		slog.Warn("mirror: trade poll failed", "fund", m.fund.ID, "error", err)
		return
	}

	for _, row := range rows {
		addr := strings.ToLower(row.ProxyAddress)
		if seen, ok := m.perAddrSeen[addr]; ok && !row.TS.After(seen) {
			continue
		}
		m.perAddrSeen[addr] = row.TS

		constituent, ok := indexcache.WeightOf(constituents, row.ProxyAddress)
		if !ok {
			continue
		}

		sigType := domain.SignalSell
		if strings.EqualFold(row.Side, "BUY") {
			sigType = domain.SignalBuy
		}

		sig := domain.Signal{Trader: &domain.TraderSignal{
			SignalID:      row.TradeID,
			Username:      row.Username,
			MarketSlug:    row.MarketSlug,
			TokenID:       row.TokenID,
			Outcome:       row.Outcome,
			Type:          sigType,
			Shares:        row.Size,
			Price:         row.Price,
			Notional:      row.Notional,
			DetectedAt:    row.TS,
			TraderWeight:  constituent.Weight,
			TraderCapital: constituent.EstCapitalUSD,
		}}
		m.queue.Enqueue(now, sig)
	}

	m.lastPoll = now
}
