package strategy

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/polyfund/multifund-trader/internal/analytics"
	"github.com/polyfund/multifund-trader/internal/domain"
	"github.com/polyfund/multifund-trader/internal/signalqueue"
)

// AlertSource is the subset of the analytics client the alert-follower
// strategy polls.
type AlertSource interface {
	Alerts(ctx context.Context, alertTypes []string, from, to time.Time) ([]analytics.AlertRow, error)
}

var alertTypesFollowed = []string{"INSIDER_DETECTED", "UNUSUAL_ACTIVITY", "SMART_MONEY_ENTRY"}

const (
	alertMaxAge     = 300 * time.Second
	alertCooldown   = 60 * time.Second
	processedEvictAt = 1000
)

// Alert is the Alert-Follower strategy (C11): it converts fresh
// high-severity alerts into alpha signals, subject to per-market cooldown
// and a bounded processed-id set.
type Alert struct {
	fund  domain.Fund
	src   AlertSource
	queue *signalqueue.Queue

	lastPoll       time.Time
	processed      map[string]struct{}
	lastSignalAt   map[string]time.Time // keyed by market slug
}

// NewAlert creates an Alert strategy for fund. The poll window is
// initialised 5 minutes before start — the maximum alert age the spec
// allows — so the first tick can still catch alerts created just before
// startup.
func NewAlert(fund domain.Fund, src AlertSource, queue *signalqueue.Queue, start time.Time) *Alert {
	return &Alert{
		fund:         fund,
		src:          src,
		queue:        queue,
		lastPoll:     start.Add(-5 * time.Minute),
		processed:    make(map[string]struct{}),
		lastSignalAt: make(map[string]time.Time),
	}
}

func (a *Alert) Name() string { return "alert:" + a.fund.ID }

// ResetHighwaterMark rewinds the poll window to the same 5-minute
// lookback NewAlert bootstraps with, invoked by the scheduler on detected
// backward clock skew.
func (a *Alert) ResetHighwaterMark(now time.Time) {
	a.lastPoll = now.Add(-5 * time.Minute)
}

func (a *Alert) onCooldown(marketSlug string, now time.Time) bool {
	last, ok := a.lastSignalAt[marketSlug]
	return ok && now.Sub(last) < alertCooldown
}

func (a *Alert) markProcessed(id string) {
	a.processed[id] = struct{}{}
	if len(a.processed) > processedEvictAt {
		evictOldestHalf(a.processed)
	}
}

// Tick runs one poll-and-convert cycle as of now.
func (a *Alert) Tick(ctx context.Context, now time.Time) {
	rows, err := a.src.Alerts(ctx, alertTypesFollowed, a.lastPoll, now)
	if err != nil {
		slog.Warn("alert: poll failed", "fund", a.fund.ID, "error", err)
		return
	}

	for _, row := range rows {
		if _, ok := a.processed[row.ID]; ok {
			continue
		}

		age := now.Sub(row.CreatedAt)
		if age > alertMaxAge || (!row.ExpiresAt.IsZero() && row.ExpiresAt.Before(now)) {
			a.markProcessed(row.ID)
			continue
		}

		if a.onCooldown(row.MarketSlug, now) {
			continue
		}

		sig, ok := a.toSignal(row, now)
		if !ok {
			a.markProcessed(row.ID)
			continue
		}

		a.queue.Enqueue(now, domain.Signal{Alpha: &sig})
		a.lastSignalAt[row.MarketSlug] = now
		a.markProcessed(row.ID)
	}

	a.lastPoll = now
}

func (a *Alert) toSignal(row analytics.AlertRow, now time.Time) (domain.AlphaSignal, bool) {
	tokenID, _ := row.Metadata["token_id"].(string)
	if tokenID == "" {
		return domain.AlphaSignal{}, false
	}

	action := actionFromAlert(row)
	confidence := metaDecimal(row.Metadata, "confidence", decimal.NewFromFloat(0.6))
	strength := metaDecimal(row.Metadata, "strength", decimal.NewFromFloat(0.5))
	notional := metaDecimal(row.Metadata, "suggested_notional", decimal.Zero)
	price := metaDecimal(row.Metadata, "price", decimal.NewFromFloat(0.5))

	return domain.AlphaSignal{
		SignalID:          row.ID,
		Source:            "alert:" + row.AlertType,
		Action:            action,
		MarketSlug:        row.MarketSlug,
		TokenID:           tokenID,
		Confidence:        confidence,
		Strength:          strength,
		Urgency:           urgencyFromSeverity(row.Severity),
		SuggestedNotional: notional,
		ReferencePrice:    price,
		Reason:            row.Title,
		DetectedAt:        row.CreatedAt,
		ExpiresAt:         now.Add(alertMaxAge),
	}, true
}

func actionFromAlert(row analytics.AlertRow) domain.AlphaAction {
	if dir, ok := row.Metadata["direction"].(string); ok {
		switch dir {
		case "BUY":
			return domain.ActionBuy
		case "SELL":
			return domain.ActionSell
		}
	}
	switch row.AlertType {
	case "INSIDER_DETECTED", "SMART_MONEY_ENTRY":
		return domain.ActionBuy
	default:
		return domain.ActionSell
	}
}

func urgencyFromSeverity(severity string) domain.Urgency {
	switch severity {
	case "CRITICAL":
		return domain.UrgencyCritical
	case "HIGH":
		return domain.UrgencyHigh
	case "WARNING":
		return domain.UrgencyMedium
	default:
		return domain.UrgencyLow
	}
}

func metaDecimal(meta map[string]any, key string, def decimal.Decimal) decimal.Decimal {
	v, ok := meta[key]
	if !ok {
		return def
	}
	switch n := v.(type) {
	case float64:
		return decimal.NewFromFloat(n)
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		if err != nil {
			return def
		}
		return d
	case string:
		d, err := decimal.NewFromString(n)
		if err != nil {
			return def
		}
		return d
	default:
		return def
	}
}

// evictOldestHalf drops roughly half of m's entries, favoring simplicity
// over exactness since eviction precision is not load-bearing (processed
// ids only guard against re-acting on the same alert, never correctness).
func evictOldestHalf(m map[string]struct{}) {
	target := len(m) / 2
	for k := range m {
		if target <= 0 {
			break
		}
		delete(m, k)
		target--
	}
}
