package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/polyfund/multifund-trader/internal/domain"
	"github.com/polyfund/multifund-trader/internal/orchestrator"
	"github.com/polyfund/multifund-trader/internal/portfolio"
)

type mockFunds struct {
	statuses []orchestrator.FundStatus
}

func (m *mockFunds) Status() []orchestrator.FundStatus { return m.statuses }

type mockNAV struct {
	navs []portfolio.NAV
}

func (m *mockNAV) Sync() []portfolio.NAV { return m.navs }

func TestHandleHealth(t *testing.T) {
	srv := NewServer(":0", &mockFunds{}, &mockNAV{})
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	rec := httptest.NewRecorder()

	srv.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, true, body["ok"])
}

func TestHandleFundStatusMissingID(t *testing.T) {
	srv := NewServer(":0", &mockFunds{}, &mockNAV{})
	req := httptest.NewRequest(http.MethodGet, "/api/fund/status", nil)
	rec := httptest.NewRecorder()

	srv.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleFundStatusNotFound(t *testing.T) {
	srv := NewServer(":0", &mockFunds{}, &mockNAV{})
	req := httptest.NewRequest(http.MethodGet, "/api/fund/status?id=PSI-10", nil)
	rec := httptest.NewRecorder()

	srv.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleFundStatusFound(t *testing.T) {
	funds := &mockFunds{statuses: []orchestrator.FundStatus{{
		ID:               "PSI-10",
		Category:         domain.CategoryMirror,
		StartedAt:        time.Now(),
		RealizedPnL:      decimal.NewFromInt(100),
		SignalsProcessed: 5,
		OrdersSubmitted:  4,
		OrdersFailed:     0,
		OrdersRejected:   1,
		SignalsFiltered:  2,
		QueueDepth:       3,
		OpenPositions:    2,
		DailyTrades:      4,
		DailyNotional:    decimal.NewFromInt(2000),
		KillSwitch:       false,
	}}}
	srv := NewServer(":0", funds, &mockNAV{})
	req := httptest.NewRequest(http.MethodGet, "/api/fund/status?id=PSI-10", nil)
	rec := httptest.NewRecorder()

	srv.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body fundStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "PSI-10", body.ID)
	require.Equal(t, "mirror", body.Category)
	require.EqualValues(t, 5, body.SignalsProcessed)
	require.Equal(t, 3, body.PendingSignals)
	require.Equal(t, 2, body.OpenPositions)
	require.Equal(t, 4, body.DailyTrades)
	require.Equal(t, "2000", body.DailyNotional)
}

func TestHandleFundsAllAggregatesTotals(t *testing.T) {
	funds := &mockFunds{statuses: []orchestrator.FundStatus{
		{ID: "PSI-10", OpenPositions: 2},
		{ID: "ALPHA-EDGE-1", OpenPositions: 1},
	}}
	nav := &mockNAV{navs: []portfolio.NAV{
		{FundID: "PSI-10", StartingCapital: decimal.NewFromInt(10000), RealizedPnL: decimal.NewFromInt(100), UnrealizedPnL: decimal.NewFromInt(50), Total: decimal.NewFromInt(10150)},
		{FundID: "ALPHA-EDGE-1", StartingCapital: decimal.NewFromInt(5000), RealizedPnL: decimal.NewFromInt(-20), UnrealizedPnL: decimal.NewFromInt(10), Total: decimal.NewFromInt(4990)},
	}}
	srv := NewServer(":0", funds, nav)
	req := httptest.NewRequest(http.MethodGet, "/api/funds/all", nil)
	rec := httptest.NewRecorder()

	srv.httpServer.Handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body fundsAllResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Funds, 2)
	require.Equal(t, "15000", body.TotalCapital)
	require.Equal(t, "80", body.TotalRealized)
	require.Equal(t, "60", body.TotalUnrealized)
	require.Equal(t, "15140", body.TotalNAV)

	var psi fundNAVEntry
	for _, f := range body.Funds {
		if f.ID == "PSI-10" {
			psi = f
		}
	}
	require.Equal(t, 2, psi.OpenPositions)
	require.Equal(t, "10150", psi.NAV)
}
