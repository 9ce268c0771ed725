// Package registry is the Fund Registry (C6): the authoritative
// {fund id -> state} map, guarded by a read-write lock per the spec's
// "frequent reads, rare writes" discipline.
package registry

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/polyfund/multifund-trader/internal/domain"
)

// FundState is the live, mutable counterpart to a Fund's immutable config.
type FundState struct {
	Fund      domain.Fund
	StartedAt time.Time

	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal

	// DailyRealizedPnL is RealizedPnL since the last UTC-midnight reset,
	// the figure the daily-loss-limit check reads.
	DailyRealizedPnL decimal.Decimal

	SignalsProcessed int64
	OrdersSubmitted  int64
	OrdersFailed     int64
	OrdersRejected   int64
	SignalsFiltered  int64
	PersistFailed    int64

	DailyDate    string // YYYY-MM-DD (UTC), for midnight reset
	DailyTrades  int
	DailyNotional decimal.Decimal
}

// Registry is the Fund Registry.
type Registry struct {
	mu     sync.RWMutex
	states map[string]*FundState
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{states: make(map[string]*FundState)}
}

// Register adds a fund at startup. Calling Register twice for the same id
// replaces the entry — the orchestrator only ever does this once per id.
func (r *Registry) Register(f domain.Fund, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states[f.ID] = &FundState{
		Fund:        f,
		StartedAt:   now,
		DailyDate:   now.UTC().Format("2006-01-02"),
	}
}

// Get returns the live state for fundID.
func (r *Registry) Get(fundID string) (*FundState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.states[fundID]
	return s, ok
}

// All returns every registered fund id, for iteration by the orchestrator.
func (r *Registry) All() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.states))
	for id := range r.states {
		ids = append(ids, id)
	}
	return ids
}

// SetKillSwitch toggles the fund's kill-switch at runtime; this is the only
// mutation a Fund's config undergoes after startup.
func (r *Registry) SetKillSwitch(fundID string, on bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.states[fundID]; ok {
		s.Fund.Risk.KillSwitch = on
	}
}

// RolloverDailyIfNeeded resets the daily counters at wall-clock midnight
// UTC on first observation of a new date, per the risk engine's step 3.
// Returns true if a rollover happened.
func (r *Registry) RolloverDailyIfNeeded(fundID string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[fundID]
	if !ok {
		return false
	}
	today := now.UTC().Format("2006-01-02")
	if s.DailyDate == today {
		return false
	}
	s.DailyDate = today
	s.DailyTrades = 0
	s.DailyNotional = decimal.Zero
	s.DailyRealizedPnL = decimal.Zero
	return true
}

// RecordTrade increments the daily counters after a successful execution.
func (r *Registry) RecordTrade(fundID string, notional decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.states[fundID]; ok {
		s.DailyTrades++
		s.DailyNotional = s.DailyNotional.Add(notional)
	}
}

// IncSignalsProcessed, IncOrdersSubmitted, etc. are small atomic-by-lock
// counters read by the status surface.
func (r *Registry) IncSignalsProcessed(fundID string) { r.inc(fundID, func(s *FundState) { s.SignalsProcessed++ }) }
func (r *Registry) IncOrdersSubmitted(fundID string)  { r.inc(fundID, func(s *FundState) { s.OrdersSubmitted++ }) }
func (r *Registry) IncOrdersFailed(fundID string)     { r.inc(fundID, func(s *FundState) { s.OrdersFailed++ }) }
func (r *Registry) IncOrdersRejected(fundID string)   { r.inc(fundID, func(s *FundState) { s.OrdersRejected++ }) }
func (r *Registry) IncSignalsFiltered(fundID string)  { r.inc(fundID, func(s *FundState) { s.SignalsFiltered++ }) }
func (r *Registry) IncPersistFailed(fundID string)    { r.inc(fundID, func(s *FundState) { s.PersistFailed++ }) }

func (r *Registry) AddRealizedPnL(fundID string, delta decimal.Decimal) {
	r.inc(fundID, func(s *FundState) {
		s.RealizedPnL = s.RealizedPnL.Add(delta)
		s.DailyRealizedPnL = s.DailyRealizedPnL.Add(delta)
	})
}

// SetUnrealizedPnL overwrites the fund's mark-to-market unrealized PnL,
// recomputed each NAV sync rather than accumulated.
func (r *Registry) SetUnrealizedPnL(fundID string, v decimal.Decimal) {
	r.inc(fundID, func(s *FundState) { s.UnrealizedPnL = v })
}

func (r *Registry) inc(fundID string, fn func(*FundState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.states[fundID]; ok {
		fn(s)
	}
}
