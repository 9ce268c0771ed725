// Package portfolio periodically recomputes each fund's net asset value —
// starting capital plus realized and mark-to-market unrealized PnL — and
// writes the unrealized leg back to the registry, where the risk engine's
// drawdown check reads it.
package portfolio

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/polyfund/multifund-trader/internal/execution"
	"github.com/polyfund/multifund-trader/internal/marketdata"
	"github.com/polyfund/multifund-trader/internal/registry"
)

// NAV is one fund's point-in-time net asset value breakdown.
type NAV struct {
	FundID          string
	StartingCapital decimal.Decimal
	RealizedPnL     decimal.Decimal
	UnrealizedPnL   decimal.Decimal
	Total           decimal.Decimal
	SyncedAt        time.Time
}

// Tracker syncs every registered fund's NAV at a fixed interval.
type Tracker struct {
	reg          *registry.Registry
	coord        *execution.Coordinator
	mkt          *marketdata.Cache
	syncInterval time.Duration
}

// New creates a Tracker that syncs at the given interval.
func New(reg *registry.Registry, coord *execution.Coordinator, mkt *marketdata.Cache, syncInterval time.Duration) *Tracker {
	return &Tracker{reg: reg, coord: coord, mkt: mkt, syncInterval: syncInterval}
}

// Sync recomputes NAV for every registered fund and writes the unrealized
// component back to the registry.
func (t *Tracker) Sync() []NAV {
	ids := t.reg.All()
	out := make([]NAV, 0, len(ids))
	now := time.Now()

	for _, id := range ids {
		state, ok := t.reg.Get(id)
		if !ok {
			continue
		}

		unrealized := decimal.Zero
		for _, pos := range t.coord.Positions(id) {
			mid, ok := t.mkt.Mid(pos.TokenID)
			if !ok {
				continue
			}
			unrealized = unrealized.Add(mid.Sub(pos.AvgCostBasis).Mul(pos.Shares))
		}

		t.reg.SetUnrealizedPnL(id, unrealized)

		out = append(out, NAV{
			FundID:          id,
			StartingCapital: state.Fund.StartingCapital,
			RealizedPnL:     state.RealizedPnL,
			UnrealizedPnL:   unrealized,
			Total:           state.Fund.StartingCapital.Add(state.RealizedPnL).Add(unrealized),
			SyncedAt:        now,
		})
	}
	return out
}

// Run starts the periodic sync loop. Blocks until ctx is cancelled.
func (t *Tracker) Run(ctx context.Context) error {
	t.Sync()

	ticker := time.NewTicker(t.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.Sync()
			slog.Debug("portfolio NAV synced")
		}
	}
}
