// Package orchestrator is the Multi-Fund Orchestrator (C14): it builds
// every enabled fund from configuration, wires its strategy to a signal
// queue, and registers the fund's poll/drain/maintenance tasks on the
// shared scheduler. It performs no trading itself.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/polyfund/multifund-trader/internal/analytics"
	"github.com/polyfund/multifund-trader/internal/clock"
	"github.com/polyfund/multifund-trader/internal/domain"
	"github.com/polyfund/multifund-trader/internal/execution"
	"github.com/polyfund/multifund-trader/internal/indexcache"
	"github.com/polyfund/multifund-trader/internal/marketdata"
	"github.com/polyfund/multifund-trader/internal/registry"
	"github.com/polyfund/multifund-trader/internal/risk"
	"github.com/polyfund/multifund-trader/internal/signalqueue"
	"github.com/polyfund/multifund-trader/internal/strategy"
)

const (
	mirrorPollInterval     = 5 * time.Second
	alertPollInterval      = 5 * time.Second
	edgePollInterval       = 10 * time.Second
	arbPollInterval        = 2 * time.Second
	arbMaintenanceInterval = 60 * time.Second
	queueDrainInterval     = 1 * time.Second
)

// FundAllocation is one fund's configuration as read from the top-level
// config; it is turned into a domain.Fund plus a strategy instance at
// startup.
type FundAllocation struct {
	ID             string
	Enabled        bool
	Category       domain.FundCategory
	IndexID        string // mirror funds only
	CapitalUSDC    decimal.Decimal
	CapitalPoolPct decimal.Decimal // used only if CapitalUSDC is zero/unset
	MaxPositionPct decimal.Decimal
	MinTradeUSD    decimal.Decimal
	SignalDelay    time.Duration
	MaxSlippage    decimal.Decimal
	ExecutionMode  domain.ExecutionMode
	Risk           domain.RiskLimits

	BaseAllocPct    decimal.Decimal
	ConfidenceScale decimal.Decimal
	BasePositionPct decimal.Decimal
	MinConfidence   decimal.Decimal
	MinStrength     decimal.Decimal

	MaxArbNotional decimal.Decimal // arbitrage funds only
}

// Strategy is the common shape every C10-C13 variant satisfies.
type Strategy interface {
	Name() string
	Tick(ctx context.Context, now time.Time)
}

// highwaterResetter is implemented by strategies that track a poll
// highwater mark (mirror, alert, edge). Arbitrage has none to reset: it
// reads the order book fresh every tick rather than polling a (from, to]
// window.
type highwaterResetter interface {
	ResetHighwaterMark(now time.Time)
}

// AnalyticsSource is everything a strategy needs from the analytics
// client; satisfied by *analytics.Client.
type AnalyticsSource interface {
	strategy.TradeSource
	strategy.AlertSource
	strategy.HighEdgeSource
	strategy.MarketSource
}

// Orchestrator owns every fund's strategy, queue, and scheduled tasks.
type Orchestrator struct {
	clk         clock.Clock
	scheduler   *clock.Scheduler
	registry    *registry.Registry
	risk        *risk.Engine
	coordinator *execution.Coordinator

	mu     sync.Mutex
	queues map[string]*signalqueue.Queue
	arbs   map[string]*strategy.Arbitrage
}

// New builds every enabled fund allocation and registers its tasks. It does
// not start the scheduler — call Run to begin ticking.
func New(
	clk clock.Clock,
	totalCapitalUSDC decimal.Decimal,
	allocations []FundAllocation,
	ana AnalyticsSource,
	gw execution.Gateway,
	idx *indexcache.Cache,
	mkt *marketdata.Cache,
	persister execution.Persister,
) (*Orchestrator, error) {
	reg := registry.New()
	coord := execution.New(gw, persister, reg)
	eng := risk.New(reg, coord)

	o := &Orchestrator{
		clk:         clk,
		scheduler:   clock.New(clk),
		registry:    reg,
		risk:        eng,
		coordinator: coord,
		queues:      make(map[string]*signalqueue.Queue),
		arbs:        make(map[string]*strategy.Arbitrage),
	}

	now := clk.Now()
	for _, alloc := range allocations {
		if !alloc.Enabled {
			continue
		}
		if err := o.addFund(alloc, totalCapitalUSDC, ana, idx, mkt, now); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func (o *Orchestrator) addFund(alloc FundAllocation, totalCapital decimal.Decimal, ana AnalyticsSource, idx *indexcache.Cache, mkt *marketdata.Cache, now time.Time) error {
	fund := domain.Fund{
		ID:              alloc.ID,
		Category:        alloc.Category,
		StartingCapital: effectiveCapital(alloc, totalCapital),
		MaxPositionPct:  alloc.MaxPositionPct,
		MinTradeUSD:     alloc.MinTradeUSD,
		SignalDelay:     alloc.SignalDelay,
		MaxSlippage:     alloc.MaxSlippage,
		ExecutionMode:   alloc.ExecutionMode,
		Risk:            alloc.Risk,
		IndexID:         alloc.IndexID,
		BaseAllocPct:    alloc.BaseAllocPct,
		ConfidenceScale: alloc.ConfidenceScale,
		BasePositionPct: alloc.BasePositionPct,
		MinConfidence:   alloc.MinConfidence,
		MinStrength:     alloc.MinStrength,
	}

	o.registry.Register(fund, now)
	queue := signalqueue.New(fund.ID, fund.SignalDelay)

	strat, err := buildStrategy(fund, alloc, ana, idx, mkt, queue, now)
	if err != nil {
		return err
	}

	o.mu.Lock()
	o.queues[fund.ID] = queue
	if arb, ok := strat.(*strategy.Arbitrage); ok {
		o.arbs[fund.ID] = arb
	}
	o.mu.Unlock()

	if hr, ok := strat.(highwaterResetter); ok {
		o.scheduler.OnClockSkew(func() { hr.ResetHighwaterMark(o.clk.Now()) })
	}

	o.scheduler.Register(clock.Task{
		Name:     "poll:" + fund.ID,
		Interval: pollIntervalFor(fund.ID),
		Handler:  func(ctx context.Context) { strat.Tick(ctx, o.clk.Now()) },
	})

	if arb, ok := strat.(*strategy.Arbitrage); ok {
		o.scheduler.Register(clock.Task{
			Name:     "arb-maintenance:" + fund.ID,
			Interval: arbMaintenanceInterval,
			Handler:  func(ctx context.Context) { arb.MaintenanceTick(o.clk.Now()) },
		})
	}

	fundID := fund.ID
	o.scheduler.Register(clock.Task{
		Name:     "drain:" + fundID,
		Interval: queueDrainInterval,
		Handler:  func(ctx context.Context) { o.drainAndExecute(ctx, fundID) },
	})

	return nil
}

// buildStrategy maps a fund id to its strategy variant: PSI-* funds mirror
// an index, ALPHA-INSIDER follows alerts, ALPHA-EDGE follows high-edge
// traders, ALPHA-ARB runs complete-set arbitrage.
func buildStrategy(fund domain.Fund, alloc FundAllocation, ana AnalyticsSource, idx *indexcache.Cache, mkt *marketdata.Cache, queue *signalqueue.Queue, now time.Time) (Strategy, error) {
	switch {
	case strings.HasPrefix(fund.ID, "PSI-"):
		return strategy.NewMirror(fund, ana, idx, queue, now), nil
	case strings.HasPrefix(fund.ID, "ALPHA-INSIDER"):
		return strategy.NewAlert(fund, ana, queue, now), nil
	case strings.HasPrefix(fund.ID, "ALPHA-EDGE"):
		return strategy.NewEdge(fund, ana, ana, queue, now), nil
	case strings.HasPrefix(fund.ID, "ALPHA-ARB"):
		return strategy.NewArbitrage(fund, ana, mkt, queue, alloc.MaxArbNotional), nil
	default:
		return nil, fmt.Errorf("orchestrator: fund id %q does not match any known strategy prefix", fund.ID)
	}
}

func pollIntervalFor(fundID string) time.Duration {
	switch {
	case strings.HasPrefix(fundID, "PSI-"):
		return mirrorPollInterval
	case strings.HasPrefix(fundID, "ALPHA-INSIDER"):
		return alertPollInterval
	case strings.HasPrefix(fundID, "ALPHA-EDGE"):
		return edgePollInterval
	case strings.HasPrefix(fundID, "ALPHA-ARB"):
		return arbPollInterval
	default:
		return 5 * time.Second
	}
}

func effectiveCapital(alloc FundAllocation, totalCapital decimal.Decimal) decimal.Decimal {
	if alloc.CapitalUSDC.IsPositive() {
		return alloc.CapitalUSDC
	}
	return totalCapital.Mul(alloc.CapitalPoolPct)
}

// drainAndExecute pops every due signal for fundID and routes it through
// sizing and execution, or through the wildcard-exit path if it's a
// decay-exit sentinel.
func (o *Orchestrator) drainAndExecute(ctx context.Context, fundID string) {
	o.mu.Lock()
	q := o.queues[fundID]
	o.mu.Unlock()
	if q == nil {
		return
	}

	now := o.clk.Now()
	slippage := o.slippageFor(fundID)

	for _, qs := range q.DrainDue(now) {
		if execution.IsWildcardExit(qs.Signal) {
			o.coordinator.ExecuteWildcardExit(ctx, now, fundID, qs.Signal, slippage)
			continue
		}

		result := o.risk.Size(now, fundID, qs.Signal)
		if !result.Accepted() {
			o.registry.IncSignalsFiltered(fundID)
			slog.Debug("signal rejected by sizing engine", "fund", fundID, "reason", result.Rejected)
			continue
		}

		if err := o.coordinator.Execute(ctx, now, fundID, *result.Sized, slippage); err != nil {
			slog.Warn("execution failed", "fund", fundID, "error", err)
		}
	}
}

func (o *Orchestrator) slippageFor(fundID string) decimal.Decimal {
	state, ok := o.registry.Get(fundID)
	if !ok {
		return decimal.Zero
	}
	return state.Fund.MaxSlippage
}

// Run starts every fund's scheduled tasks and blocks until ctx is
// cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	return o.scheduler.Run(ctx)
}

// SetKillSwitch toggles a fund's kill-switch at runtime, e.g. from an
// operator command or a daily-loss-limit breach.
func (o *Orchestrator) SetKillSwitch(fundID string, on bool) {
	o.registry.SetKillSwitch(fundID, on)
}

// Registry exposes the fund registry for read-only status surfaces.
func (o *Orchestrator) Registry() *registry.Registry { return o.registry }

// Coordinator exposes the execution coordinator for NAV tracking.
func (o *Orchestrator) Coordinator() *execution.Coordinator { return o.coordinator }

// FundStatus is one fund's point-in-time aggregate view.
type FundStatus struct {
	ID               string
	Category         domain.FundCategory
	StartedAt        time.Time
	RealizedPnL      decimal.Decimal
	DailyRealizedPnL decimal.Decimal
	MaxDailyLossUSD  decimal.Decimal
	SignalsProcessed int64
	OrdersSubmitted  int64
	OrdersFailed     int64
	OrdersRejected   int64
	SignalsFiltered  int64
	PersistFailed    int64
	QueueDepth       int
	QueueOverflow    int64
	OpenPositions    int
	DailyTrades      int
	DailyNotional    decimal.Decimal
	KillSwitch       bool
}

// Status returns every registered fund's aggregate metrics, sorted by id.
func (o *Orchestrator) Status() []FundStatus {
	ids := o.registry.All()
	sort.Strings(ids)

	out := make([]FundStatus, 0, len(ids))
	for _, id := range ids {
		state, ok := o.registry.Get(id)
		if !ok {
			continue
		}
		o.mu.Lock()
		q := o.queues[id]
		o.mu.Unlock()

		fs := FundStatus{
			ID:               id,
			Category:         state.Fund.Category,
			StartedAt:        state.StartedAt,
			RealizedPnL:      state.RealizedPnL,
			DailyRealizedPnL: state.DailyRealizedPnL,
			MaxDailyLossUSD:  state.Fund.Risk.MaxDailyLossUSD,
			SignalsProcessed: state.SignalsProcessed,
			OrdersSubmitted:  state.OrdersSubmitted,
			OrdersFailed:     state.OrdersFailed,
			OrdersRejected:   state.OrdersRejected,
			SignalsFiltered:  state.SignalsFiltered,
			PersistFailed:    state.PersistFailed,
			OpenPositions:    len(o.coordinator.Positions(id)),
			DailyTrades:      state.DailyTrades,
			DailyNotional:    state.DailyNotional,
			KillSwitch:       state.Fund.Risk.KillSwitch,
		}
		if q != nil {
			fs.QueueDepth = q.Len()
			fs.QueueOverflow = q.Overflow()
		}
		out = append(out, fs)
	}
	return out
}
