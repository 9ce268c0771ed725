// Package domain holds the record types shared across the fund pipeline:
// funds, signals, positions, and the top-of-book snapshot. Every package in
// this module that reads or writes one of these shapes imports domain rather
// than redeclaring it.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FundCategory distinguishes funds that mirror external traders from funds
// that run their own signal generation.
type FundCategory string

const (
	CategoryMirror FundCategory = "mirror"
	CategoryActive FundCategory = "active"
)

// ExecutionMode controls how aggressively the executor is allowed to cross
// the spread.
type ExecutionMode string

const (
	ExecLimitOnly       ExecutionMode = "limit-only"
	ExecLimitThenMarket ExecutionMode = "limit-then-market"
	ExecMarketOnly      ExecutionMode = "market-only"
)

// Side is the order side submitted to the gateway.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// SignalType is the mirror-input verb a trader's own trade carried.
type SignalType string

const (
	SignalBuy   SignalType = "BUY"
	SignalSell  SignalType = "SELL"
	SignalClose SignalType = "CLOSE"
)

// AlphaAction is the active-fund input verb.
type AlphaAction string

const (
	ActionBuy  AlphaAction = "BUY"
	ActionSell AlphaAction = "SELL"
	ActionHold AlphaAction = "HOLD"
)

// Urgency maps to the limit-price slippage multiplier applied at execution.
type Urgency string

const (
	UrgencyLow      Urgency = "LOW"
	UrgencyMedium   Urgency = "MEDIUM"
	UrgencyHigh     Urgency = "HIGH"
	UrgencyCritical Urgency = "CRITICAL"
)

// UrgencyMultiplier returns the slippage multiplier for u, defaulting
// unrecognized values to MEDIUM's 1.0 rather than zero, so a malformed
// urgency never produces a marketable-crossing limit price by accident.
func UrgencyMultiplier(u Urgency) decimal.Decimal {
	switch u {
	case UrgencyLow:
		return decimal.NewFromFloat(0.5)
	case UrgencyHigh:
		return decimal.NewFromFloat(1.5)
	case UrgencyCritical:
		return decimal.NewFromFloat(2.0)
	default:
		return decimal.NewFromFloat(1.0)
	}
}

// RiskLimits are a fund's mutable-kill-switch, otherwise-immutable controls.
type RiskLimits struct {
	MaxDailyLossUSD        decimal.Decimal
	MaxDrawdownFraction    decimal.Decimal
	MaxOpenPositions       int
	MaxSingleMarketExpUSD  decimal.Decimal
	MaxDailyTrades         int
	MaxConcurrentOrders    int
	KillSwitch             bool
}

// Fund is created once at startup from configuration and never mutated
// apart from RiskLimits.KillSwitch.
type Fund struct {
	ID               string
	Category         FundCategory
	StartingCapital  decimal.Decimal
	MaxPositionPct   decimal.Decimal
	MinTradeUSD      decimal.Decimal
	SignalDelay      time.Duration
	MaxSlippage      decimal.Decimal
	ExecutionMode    ExecutionMode
	Risk             RiskLimits
	IndexID          string // mirror funds only: which index to mirror
	BaseAllocPct     decimal.Decimal
	ConfidenceScale  decimal.Decimal
	BasePositionPct  decimal.Decimal
	MinConfidence    decimal.Decimal
	MinStrength      decimal.Decimal
}

// IndexConstituent is one member of a mirror fund's index snapshot.
type IndexConstituent struct {
	Username       string
	ProxyAddress   string // lower-cased on load
	Weight         decimal.Decimal
	Rank           int
	EstCapitalUSD  decimal.Decimal
	Score          decimal.Decimal
	StrategyTag    string
	LastTradeAt    time.Time
	IndexedAt      time.Time
}

// TraderSignal is the mirror-strategy input: one trader's own trade.
type TraderSignal struct {
	SignalID        string
	Username        string
	MarketSlug      string
	TokenID         string
	Outcome         string
	Type            SignalType
	Shares          decimal.Decimal
	Price           decimal.Decimal
	Notional        decimal.Decimal
	DetectedAt      time.Time
	TraderExecutedAt time.Time
	TraderWeight    decimal.Decimal
	TraderCapital   decimal.Decimal
}

// AlphaSignal is the active-fund input produced by alert-follower,
// edge-ranked-follower, and complete-set-arbitrage strategies.
type AlphaSignal struct {
	SignalID          string
	Source            string
	Action            AlphaAction
	MarketSlug        string
	TokenID           string
	Outcome           string
	Confidence        decimal.Decimal
	Strength          decimal.Decimal
	Urgency           Urgency
	SuggestedNotional decimal.Decimal // zero means unset
	SuggestedFraction decimal.Decimal // zero means unset
	Reason            string
	Metadata          map[string]string
	DetectedAt        time.Time
	ExpiresAt         time.Time
	ArbID             string // shared id for paired arbitrage legs; empty otherwise
	ReferencePrice    decimal.Decimal
}

// Valid reports whether the signal has not yet expired as of now.
func (a AlphaSignal) Valid(now time.Time) bool {
	return now.Before(a.ExpiresAt)
}

// Signal is the sum type stored in the per-fund queue: exactly one of
// Trader or Alpha is non-nil.
type Signal struct {
	Trader *TraderSignal
	Alpha  *AlphaSignal
}

// ID returns the signal id regardless of which variant is populated.
func (s Signal) ID() string {
	if s.Trader != nil {
		return s.Trader.SignalID
	}
	if s.Alpha != nil {
		return s.Alpha.SignalID
	}
	return ""
}

// QueuedSignal pairs a signal with the time it becomes eligible to execute.
type QueuedSignal struct {
	Signal    Signal
	ExecuteAt time.Time
}

// FundPosition is one open (or just-closed) holding for a fund.
type FundPosition struct {
	PositionID      string
	MarketSlug      string
	TokenID         string
	Outcome         string
	Shares          decimal.Decimal
	AvgCostBasis    decimal.Decimal
	RealizedPnL     decimal.Decimal
	OpenedAt        time.Time
	LastUpdatedAt   time.Time
	OriginSignalID  string
}

// PendingOrder tracks an order between submission and ack finalisation.
type PendingOrder struct {
	OrderID        string
	OriginSignalID string
	Side           Side
	Shares         decimal.Decimal
	LimitPrice     decimal.Decimal
	SubmittedAt    time.Time
}

// ExecutionRecord is the append-only audit row persisted per fill attempt.
type ExecutionRecord struct {
	SignalID        string
	FundID          string
	TraderUsername  string
	MarketSlug      string
	TokenID         string
	Outcome         string
	Side            Side
	TraderShares    decimal.Decimal
	FundShares      decimal.Decimal
	ExecutionPrice  decimal.Decimal
	OrderID         string
	DetectedAt      time.Time
	ExecutedAt      time.Time
}

// EdgePoint is one sample in a trader's bounded edge history.
type EdgePoint struct {
	Edge decimal.Decimal
	At   time.Time
}

// TopOfBook is the latest best-bid/ask snapshot for one token.
type TopOfBook struct {
	TokenID     string
	BestBid     decimal.Decimal
	BestAsk     decimal.Decimal
	BestBidSize decimal.Decimal
	BestAskSize decimal.Decimal
	UpdatedAt   time.Time
}

// Fresh reports whether the snapshot is still within maxAge of now.
func (t TopOfBook) Fresh(now time.Time, maxAge time.Duration) bool {
	if t.UpdatedAt.IsZero() {
		return false
	}
	return now.Sub(t.UpdatedAt) <= maxAge
}

// SizingRejectReason names why the risk engine declined a signal. It is not
// an error type — rejections are counted, never surfaced as failures.
type SizingRejectReason string

const (
	RejectKillSwitch    SizingRejectReason = "KILL_SWITCH"
	RejectExpired       SizingRejectReason = "EXPIRED"
	RejectUnderThresh   SizingRejectReason = "UNDER_THRESHOLD"
	RejectNotActionable SizingRejectReason = "NOT_ACTIONABLE"
	RejectDailyLimit    SizingRejectReason = "DAILY_LIMIT"
	RejectDrawdown      SizingRejectReason = "DRAWDOWN"
	RejectMaxOpen       SizingRejectReason = "MAX_OPEN"
	RejectMaxConcurrent SizingRejectReason = "MAX_CONCURRENT"
	RejectBelowMin      SizingRejectReason = "BELOW_MIN"
)

// SizedOrder is the risk engine's accept outcome.
type SizedOrder struct {
	Shares         decimal.Decimal
	ReferencePrice decimal.Decimal
	Side           Side
	Urgency        Urgency
	Signal         Signal
}
