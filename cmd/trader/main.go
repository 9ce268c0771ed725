package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	polymarket "github.com/GoPolymarket/polymarket-go-sdk"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/auth"
	"github.com/GoPolymarket/polymarket-go-sdk/pkg/clob/ws"
	"github.com/shopspring/decimal"

	"github.com/polyfund/multifund-trader/internal/analytics"
	"github.com/polyfund/multifund-trader/internal/api"
	"github.com/polyfund/multifund-trader/internal/clock"
	"github.com/polyfund/multifund-trader/internal/config"
	"github.com/polyfund/multifund-trader/internal/domain"
	"github.com/polyfund/multifund-trader/internal/gateway"
	"github.com/polyfund/multifund-trader/internal/indexcache"
	"github.com/polyfund/multifund-trader/internal/marketdata"
	"github.com/polyfund/multifund-trader/internal/notify"
	"github.com/polyfund/multifund-trader/internal/orchestrator"
	"github.com/polyfund/multifund-trader/internal/portfolio"
)

const indexTTL = 30 * time.Second

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadFile(*cfgPath)
	if err != nil {
		log.Printf("warning: config file: %v, using defaults", err)
		cfg = config.Default()
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	if cfg.PrivateKey == "" || cfg.APIKey == "" {
		log.Fatal("POLYMARKET_PK and POLYMARKET_API_KEY are required")
	}

	log.Printf("multifund-trader starting (dry_run=%t, mode=%s, funds=%d)", cfg.DryRun, cfg.TradingMode, len(cfg.Funds))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signer, err := auth.NewPrivateKeySigner(strings.TrimSpace(cfg.PrivateKey), 137)
	if err != nil {
		log.Fatalf("signer: %v", err)
	}
	apiKey := &auth.APIKey{
		Key:        strings.TrimSpace(cfg.APIKey),
		Secret:     strings.TrimSpace(cfg.APISecret),
		Passphrase: strings.TrimSpace(cfg.APIPassphrase),
	}

	sdkClient := polymarket.NewClient()
	clobClient := sdkClient.CLOB.WithAuth(signer, apiKey)
	wsClient := sdkClient.CLOBWS.Authenticate(signer, apiKey)

	ana, err := analytics.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("analytics: %v", err)
	}
	defer ana.Close()

	gw := gateway.New(clobClient, signer)
	idx := indexcache.New(indexLoader(ana), indexTTL)
	mkt := marketdata.New()

	allocations, err := buildAllocations(cfg.Funds)
	if err != nil {
		log.Fatalf("fund config: %v", err)
	}

	orch, err := orchestrator.New(clock.Real{}, decimal.NewFromFloat(cfg.TotalCapitalUSDC), allocations, ana, gw, idx, mkt, ana)
	if err != nil {
		log.Fatalf("orchestrator: %v", err)
	}

	tracker := portfolio.New(orch.Registry(), orch.Coordinator(), mkt, cfg.HeartbeatInterval)

	var notifier *notify.Notifier
	if cfg.Telegram.Enabled {
		notifier = notify.NewNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	} else {
		notifier = notify.NewNotifier("", "")
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg.API.Addr, orch, tracker)
		if err := apiServer.Start(ctx); err != nil {
			log.Fatalf("api server: %v", err)
		}
	}

	assetIDs := allTokenIDs(cfg.Funds)
	if len(assetIDs) > 0 {
		bookCh, err := wsClient.SubscribeOrderbook(ctx, assetIDs)
		if err != nil {
			log.Fatalf("ws subscribe: %v", err)
		}
		go feedMarketData(ctx, mkt, bookCh, wsClient, assetIDs)
	} else {
		log.Println("no explicit token ids configured, market-data feed not started")
	}

	go func() {
		if err := tracker.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("nav tracker stopped", "error", err)
		}
	}()

	go monitorKillSwitches(ctx, orch, notifier, cfg)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- orch.Run(ctx) }()

	select {
	case <-sigCh:
		log.Println("shutdown signal received")
	case err := <-runErrCh:
		if err != nil {
			log.Printf("orchestrator stopped: %v", err)
		}
	}

	cancel()
	if apiServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("api shutdown: %v", err)
		}
	}
	log.Println("shutdown complete")
}

// buildAllocations converts the YAML fund list into orchestrator inputs,
// translating the human-readable category/execution-mode strings and
// per-second durations into their domain types.
func buildAllocations(funds []config.FundConfig) ([]orchestrator.FundAllocation, error) {
	out := make([]orchestrator.FundAllocation, 0, len(funds))
	for _, f := range funds {
		category, err := categoryFor(f.Category)
		if err != nil {
			return nil, fmt.Errorf("fund %s: %w", f.ID, err)
		}
		mode, err := executionModeFor(f.ExecutionMode)
		if err != nil {
			return nil, fmt.Errorf("fund %s: %w", f.ID, err)
		}

		out = append(out, orchestrator.FundAllocation{
			ID:             f.ID,
			Enabled:        f.Enabled,
			Category:       category,
			IndexID:        f.IndexID,
			CapitalUSDC:    decimal.NewFromFloat(f.CapitalUSDC),
			CapitalPoolPct: decimal.NewFromFloat(f.CapitalPoolPct),
			MaxPositionPct: decimal.NewFromFloat(f.MaxPositionPct),
			MinTradeUSD:    decimal.NewFromFloat(f.MinTradeUSD),
			SignalDelay:    time.Duration(f.SignalDelaySec) * time.Second,
			MaxSlippage:    decimal.NewFromFloat(f.MaxSlippage),
			ExecutionMode:  mode,
			Risk: domain.RiskLimits{
				MaxDailyLossUSD:       decimal.NewFromFloat(f.MaxDailyLossUSD),
				MaxDrawdownFraction:   decimal.NewFromFloat(f.MaxDrawdownPct),
				MaxOpenPositions:      f.MaxOpenPositions,
				MaxSingleMarketExpUSD: decimal.NewFromFloat(f.MaxSingleMarketExpUSD),
				MaxDailyTrades:        f.MaxDailyTrades,
				MaxConcurrentOrders:   f.MaxConcurrentOrders,
			},
			BaseAllocPct:    decimal.NewFromFloat(f.BaseAllocPct),
			ConfidenceScale: decimal.NewFromFloat(f.ConfidenceScale),
			BasePositionPct: decimal.NewFromFloat(f.BasePositionPct),
			MinConfidence:   decimal.NewFromFloat(f.MinConfidence),
			MinStrength:     decimal.NewFromFloat(f.MinStrength),
			MaxArbNotional:  decimal.NewFromFloat(f.MaxArbNotional),
		})
	}
	return out, nil
}

func categoryFor(s string) (domain.FundCategory, error) {
	switch s {
	case "mirror":
		return domain.CategoryMirror, nil
	case "alert", "edge", "arb":
		return domain.CategoryActive, nil
	default:
		return "", fmt.Errorf("unknown category %q", s)
	}
}

func executionModeFor(s string) (domain.ExecutionMode, error) {
	switch domain.ExecutionMode(s) {
	case domain.ExecLimitOnly, domain.ExecLimitThenMarket, domain.ExecMarketOnly:
		return domain.ExecutionMode(s), nil
	case "":
		return domain.ExecLimitOnly, nil
	default:
		return "", fmt.Errorf("unknown execution mode %q", s)
	}
}

// indexLoader adapts the analytics client's raw row shape to the
// constituent type the index cache stores.
func indexLoader(ana *analytics.Client) indexcache.Loader {
	return func(ctx context.Context, indexID string) ([]domain.IndexConstituent, error) {
		rows, err := ana.IndexConstituents(ctx, indexID)
		if err != nil {
			return nil, err
		}
		out := make([]domain.IndexConstituent, 0, len(rows))
		for _, r := range rows {
			out = append(out, domain.IndexConstituent{
				Username:      r.Username,
				ProxyAddress:  strings.ToLower(r.ProxyAddress),
				Weight:        r.Weight,
				Rank:          r.Rank,
				EstCapitalUSD: r.EstCapitalUSD,
				Score:         r.Score,
				StrategyTag:   r.StrategyTag,
				LastTradeAt:   r.LastTradeAt,
				IndexedAt:     r.IndexedAt,
			})
		}
		return out, nil
	}
}

// allTokenIDs has no static source today: funds discover tokens by
// polling BinaryMarkets/TradesForAddresses rather than subscribing up
// front, so this always returns empty until a static watchlist is wired
// in the config.
func allTokenIDs(_ []config.FundConfig) []string {
	return nil
}

// feedMarketData drains the orderbook websocket into the shared cache,
// reconnecting on channel closure the way the reference single-bot loop
// did.
func feedMarketData(ctx context.Context, mkt *marketdata.Cache, bookCh <-chan ws.OrderbookEvent, wsClient ws.Client, assetIDs []string) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-bookCh:
			if !ok {
				select {
				case <-ctx.Done():
					return
				case <-time.After(2 * time.Second):
				}
				var err error
				bookCh, err = wsClient.SubscribeOrderbook(ctx, assetIDs)
				if err != nil {
					slog.Error("ws reconnect failed", "error", err)
					return
				}
				continue
			}
			mkt.Update(topOfBookFromEvent(event))
		}
	}
}

// topOfBookFromEvent takes the best bid/ask off an orderbook event. Levels
// arrive sorted by the venue (best first); only the top of each side
// matters to the market-data cache.
func topOfBookFromEvent(event ws.OrderbookEvent) domain.TopOfBook {
	tob := domain.TopOfBook{TokenID: event.AssetID, UpdatedAt: time.Now()}
	if len(event.Bids) > 0 {
		tob.BestBid = parseDecimal(event.Bids[0].Price)
		tob.BestBidSize = parseDecimal(event.Bids[0].Size)
	}
	if len(event.Asks) > 0 {
		tob.BestAsk = parseDecimal(event.Asks[0].Price)
		tob.BestAskSize = parseDecimal(event.Asks[0].Size)
	}
	return tob
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// monitorKillSwitches is the heartbeat loop that turns registry/coordinator
// state changes into Telegram alerts: kill-switch toggles, daily-loss-limit
// breaches, and runs of persistence failures, plus one aggregate summary
// per UTC day.
func monitorKillSwitches(ctx context.Context, orch *orchestrator.Orchestrator, notifier *notify.Notifier, cfg config.Config) {
	ticker := time.NewTicker(cfg.HeartbeatInterval)
	defer ticker.Stop()

	seenKillSwitch := make(map[string]bool)
	seenDailyLoss := make(map[string]string) // fund -> UTC date already alerted
	lastPersistFailed := make(map[string]int64)
	lastSummaryDate := time.Now().UTC().Format("2006-01-02")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			statuses := orch.Status()
			today := time.Now().UTC().Format("2006-01-02")

			var totalPnL, totalVolume decimal.Decimal
			for _, fs := range statuses {
				if fs.KillSwitch && !seenKillSwitch[fs.ID] {
					_ = notifier.NotifyKillSwitch(ctx, fs.ID, true, "risk engine kill-switch engaged")
				}
				seenKillSwitch[fs.ID] = fs.KillSwitch

				if fs.MaxDailyLossUSD.IsPositive() && fs.DailyRealizedPnL.LessThanOrEqual(fs.MaxDailyLossUSD.Neg()) {
					if seenDailyLoss[fs.ID] != today {
						seenDailyLoss[fs.ID] = today
						realized, _ := fs.DailyRealizedPnL.Float64()
						limit, _ := fs.MaxDailyLossUSD.Float64()
						_ = notifier.NotifyDailyLossLimit(ctx, fs.ID, realized, limit)
					}
				}

				if fs.PersistFailed > lastPersistFailed[fs.ID] {
					_ = notifier.NotifyPersistFailure(ctx, fs.ID, fs.PersistFailed)
				}
				lastPersistFailed[fs.ID] = fs.PersistFailed

				totalPnL = totalPnL.Add(fs.RealizedPnL)
				totalVolume = totalVolume.Add(fs.DailyNotional)
			}

			if today != lastSummaryDate {
				pnl, _ := totalPnL.Float64()
				volume, _ := totalVolume.Float64()
				_ = notifier.NotifyDailySummary(ctx, pnl, len(statuses), volume)
				lastSummaryDate = today
			}
		}
	}
}
