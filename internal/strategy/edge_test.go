package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/polyfund/multifund-trader/internal/analytics"
	"github.com/polyfund/multifund-trader/internal/domain"
	"github.com/polyfund/multifund-trader/internal/signalqueue"
)

type fakeHighEdgeSource struct {
	edges []decimal.Decimal
	calls int
}

func (f *fakeHighEdgeSource) HighEdgeTraders(ctx context.Context, minEdge, maxInverseConfidence decimal.Decimal, limit int) ([]analytics.HighEdgeTraderRow, error) {
	if f.calls >= len(f.edges) {
		return nil, nil
	}
	edge := f.edges[f.calls]
	f.calls++
	return []analytics.HighEdgeTraderRow{{Username: "alice", ProxyAddress: "0xabc", Edge: edge}}, nil
}

type fakeTradeSource struct{}

func (f *fakeTradeSource) TradesForAddresses(ctx context.Context, addrs []string, from, to time.Time) ([]analytics.TradeRow, error) {
	return nil, nil
}
func (f *fakeTradeSource) TradesForAddressesDesc(ctx context.Context, addrs []string, from, to time.Time) ([]analytics.TradeRow, error) {
	return nil, nil
}

// S3 — edge decay. Edges [90, 88, 85, 70] across successive polls; decay =
// max(90) - latest(70) = 20 >= 15 threshold, expected confidence 20/30.
func TestS3EdgeDecay(t *testing.T) {
	src := &fakeHighEdgeSource{edges: []decimal.Decimal{
		decimal.NewFromInt(90), decimal.NewFromInt(88), decimal.NewFromInt(85), decimal.NewFromInt(70),
	}}
	q := signalqueue.New("ALPHA-EDGE", 0)
	fund := domain.Fund{ID: "ALPHA-EDGE"}
	now := time.Now()
	strat := NewEdge(fund, src, &fakeTradeSource{}, q, now)

	for i := 0; i < 4; i++ {
		strat.Tick(context.Background(), now.Add(time.Duration(i)*time.Minute))
	}

	due := q.DrainDue(now.Add(time.Hour))
	require.Len(t, due, 1, "exactly one decay signal should fire once decay exceeds 15")
	sig := due[0].Signal
	require.NotNil(t, sig.Alpha)
	require.Equal(t, domain.ActionSell, sig.Alpha.Action)
	require.Equal(t, "*", sig.Alpha.MarketSlug)
	require.Equal(t, "*", sig.Alpha.TokenID)
	expected := decimal.NewFromInt(20).Div(decimal.NewFromInt(30))
	require.True(t, sig.Alpha.Confidence.Equal(expected), "got %s want %s", sig.Alpha.Confidence, expected)
}

type recordingTradeSource struct {
	lastFrom time.Time
}

func (f *recordingTradeSource) TradesForAddresses(ctx context.Context, addrs []string, from, to time.Time) ([]analytics.TradeRow, error) {
	return nil, nil
}
func (f *recordingTradeSource) TradesForAddressesDesc(ctx context.Context, addrs []string, from, to time.Time) ([]analytics.TradeRow, error) {
	f.lastFrom = from
	return nil, nil
}

// ResetHighwaterMark must rewind lastTradePoll to now minus the roster TTL,
// the same bootstrap offset NewEdge uses.
func TestEdgeResetHighwaterMarkRewindsRosterTTL(t *testing.T) {
	now := time.Now()
	trades := &recordingTradeSource{}
	roster := &fakeHighEdgeSource{edges: []decimal.Decimal{decimal.NewFromInt(90)}}
	q := signalqueue.New("ALPHA-EDGE", 0)
	fund := domain.Fund{ID: "ALPHA-EDGE"}
	strat := NewEdge(fund, roster, trades, q, now.Add(time.Hour))

	strat.ResetHighwaterMark(now)
	strat.Tick(context.Background(), now)

	require.True(t, trades.lastFrom.Equal(now.Add(-edgeRosterTTL)), "got %s", trades.lastFrom)
}
