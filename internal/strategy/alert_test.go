package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/polyfund/multifund-trader/internal/analytics"
	"github.com/polyfund/multifund-trader/internal/domain"
	"github.com/polyfund/multifund-trader/internal/signalqueue"
)

type fakeAlertSource struct {
	batches [][]analytics.AlertRow
	calls   int
}

func (f *fakeAlertSource) Alerts(ctx context.Context, alertTypes []string, from, to time.Time) ([]analytics.AlertRow, error) {
	if f.calls >= len(f.batches) {
		return nil, nil
	}
	b := f.batches[f.calls]
	f.calls++
	return b, nil
}

// S2 — alert-follower cooldown.
func TestS2AlertFollowerCooldown(t *testing.T) {
	t0 := time.Now()
	a1 := analytics.AlertRow{ID: "A1", AlertType: "INSIDER_DETECTED", Severity: "HIGH", MarketSlug: "m",
		Metadata: map[string]any{"token_id": "tok", "direction": "BUY", "confidence": 0.8}, CreatedAt: t0, ExpiresAt: t0.Add(10 * time.Minute)}
	a2 := analytics.AlertRow{ID: "A2", AlertType: "INSIDER_DETECTED", Severity: "HIGH", MarketSlug: "m",
		Metadata: map[string]any{"token_id": "tok", "direction": "BUY", "confidence": 0.8}, CreatedAt: t0.Add(30 * time.Second), ExpiresAt: t0.Add(10 * time.Minute)}
	a3 := analytics.AlertRow{ID: "A3", AlertType: "INSIDER_DETECTED", Severity: "HIGH", MarketSlug: "m",
		Metadata: map[string]any{"token_id": "tok", "direction": "BUY", "confidence": 0.8}, CreatedAt: t0.Add(70 * time.Second), ExpiresAt: t0.Add(10 * time.Minute)}

	src := &fakeAlertSource{batches: [][]analytics.AlertRow{{a1}, {a2}, {a3}}}
	q := signalqueue.New("ALPHA-INSIDER", 0)
	fund := domain.Fund{ID: "ALPHA-INSIDER"}
	strat := NewAlert(fund, src, q, t0)

	strat.Tick(context.Background(), t0)
	strat.Tick(context.Background(), t0.Add(30*time.Second))
	strat.Tick(context.Background(), t0.Add(70*time.Second))

	due := q.DrainDue(t0.Add(71 * time.Second))
	require.Len(t, due, 2, "A1 and A3 should produce signals; A2 is on cooldown")
	require.Equal(t, "A1", due[0].Signal.ID())
	require.Equal(t, "A3", due[1].Signal.ID())
}

// ResetHighwaterMark must rewind lastPoll to the same 5-minute lookback
// NewAlert bootstraps with.
func TestAlertResetHighwaterMarkRewindsFiveMinutes(t *testing.T) {
	t0 := time.Now()
	a1 := analytics.AlertRow{ID: "A1", AlertType: "INSIDER_DETECTED", Severity: "HIGH", MarketSlug: "m",
		Metadata: map[string]any{"token_id": "tok", "direction": "BUY", "confidence": 0.8},
		CreatedAt: t0.Add(-4 * time.Minute), ExpiresAt: t0.Add(10 * time.Minute)}

	src := &fakeAlertSource{batches: [][]analytics.AlertRow{{a1}}}
	q := signalqueue.New("ALPHA-INSIDER", 0)
	fund := domain.Fund{ID: "ALPHA-INSIDER"}
	// lastPoll starts far in the future, as if the clock had run ahead
	// before jumping back to t0; without a reset a1 would never be seen.
	strat := NewAlert(fund, src, q, t0.Add(time.Hour))

	strat.ResetHighwaterMark(t0)
	strat.Tick(context.Background(), t0)

	due := q.DrainDue(t0.Add(time.Second))
	require.Len(t, due, 1)
}
