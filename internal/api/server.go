// Package api is the read-only status surface: one fund's counters at
// fund/status, every fund's NAV-inclusive aggregate at funds/all.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/polyfund/multifund-trader/internal/orchestrator"
	"github.com/polyfund/multifund-trader/internal/portfolio"
)

// FundStatusProvider exposes per-fund counters; satisfied by
// *orchestrator.Orchestrator.
type FundStatusProvider interface {
	Status() []orchestrator.FundStatus
}

// NAVProvider exposes aggregate NAV; satisfied by *portfolio.Tracker.
type NAVProvider interface {
	Sync() []portfolio.NAV
}

// Server is the multi-fund read-only status API.
type Server struct {
	httpServer *http.Server
	funds      FundStatusProvider
	nav        NAVProvider
	startedAt  time.Time
}

// NewServer creates a new API server bound to addr.
func NewServer(addr string, funds FundStatusProvider, nav NAVProvider) *Server {
	s := &Server{
		funds:     funds,
		nav:       nav,
		startedAt: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/fund/status", s.handleFundStatus)
	mux.HandleFunc("/api/funds/all", s.handleFundsAll)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start begins serving HTTP requests.
func (s *Server) Start(_ context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	log.Printf("api server listening on %s", s.httpServer.Addr)
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Printf("api server: %v", err)
		}
	}()
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// GET /api/health — liveness probe.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, map[string]interface{}{
		"ok":       true,
		"uptime_s": time.Since(s.startedAt).Seconds(),
	})
}

// fundStatusResponse is one fund's per-fund metrics, per spec.md §6.
type fundStatusResponse struct {
	ID               string `json:"id"`
	Category         string `json:"category"`
	SignalsProcessed int64  `json:"signals_processed"`
	OrdersSubmitted  int64  `json:"orders_submitted"`
	OrdersFailed     int64  `json:"orders_failed"`
	OrdersRejected   int64  `json:"orders_rejected"`
	SignalsFiltered  int64  `json:"signals_filtered"`
	PendingSignals   int    `json:"pending_signals"`
	OpenPositions    int    `json:"open_positions"`
	DailyTrades      int    `json:"daily_trades"`
	DailyNotional    string `json:"daily_notional"`
	KillSwitch       bool   `json:"kill_switch"`
}

// GET /api/fund/status?id=<fund id> — one fund's counters.
func (s *Server) handleFundStatus(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "missing id query parameter", http.StatusBadRequest)
		return
	}

	for _, fs := range s.funds.Status() {
		if fs.ID != id {
			continue
		}
		s.writeJSON(w, fundStatusResponse{
			ID:               fs.ID,
			Category:         string(fs.Category),
			SignalsProcessed: fs.SignalsProcessed,
			OrdersSubmitted:  fs.OrdersSubmitted,
			OrdersFailed:     fs.OrdersFailed,
			OrdersRejected:   fs.OrdersRejected,
			SignalsFiltered:  fs.SignalsFiltered,
			PendingSignals:   fs.QueueDepth,
			OpenPositions:    fs.OpenPositions,
			DailyTrades:      fs.DailyTrades,
			DailyNotional:    fs.DailyNotional.String(),
			KillSwitch:       fs.KillSwitch,
		})
		return
	}
	http.Error(w, "fund not found", http.StatusNotFound)
}

// fundNAVEntry is one fund's row in the funds/all array.
type fundNAVEntry struct {
	ID            string `json:"id"`
	Capital       string `json:"capital"`
	RealizedPnL   string `json:"realized_pnl"`
	UnrealizedPnL string `json:"unrealized_pnl"`
	NAV           string `json:"nav"`
	OpenPositions int    `json:"open_positions"`
}

// fundsAllResponse is the funds/all aggregate response, per spec.md §6.
type fundsAllResponse struct {
	Funds           []fundNAVEntry `json:"funds"`
	TotalCapital    string         `json:"total_capital"`
	TotalRealized   string         `json:"total_realized"`
	TotalUnrealized string         `json:"total_unrealized"`
	TotalNAV        string         `json:"total_nav"`
}

// GET /api/funds/all — every fund's NAV plus aggregate totals.
func (s *Server) handleFundsAll(w http.ResponseWriter, _ *http.Request) {
	navs := s.nav.Sync()
	openByID := make(map[string]int, len(navs))
	for _, fs := range s.funds.Status() {
		openByID[fs.ID] = fs.OpenPositions
	}

	resp := fundsAllResponse{Funds: make([]fundNAVEntry, 0, len(navs))}
	totalCapital, totalRealized, totalUnrealized, totalNAV := decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero

	for _, n := range navs {
		resp.Funds = append(resp.Funds, fundNAVEntry{
			ID:            n.FundID,
			Capital:       n.StartingCapital.String(),
			RealizedPnL:   n.RealizedPnL.String(),
			UnrealizedPnL: n.UnrealizedPnL.String(),
			NAV:           n.Total.String(),
			OpenPositions: openByID[n.FundID],
		})
		totalCapital = totalCapital.Add(n.StartingCapital)
		totalRealized = totalRealized.Add(n.RealizedPnL)
		totalUnrealized = totalUnrealized.Add(n.UnrealizedPnL)
		totalNAV = totalNAV.Add(n.Total)
	}

	resp.TotalCapital = totalCapital.String()
	resp.TotalRealized = totalRealized.String()
	resp.TotalUnrealized = totalUnrealized.String()
	resp.TotalNAV = totalNAV.String()

	s.writeJSON(w, resp)
}
