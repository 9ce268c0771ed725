// Package analytics is the read-only typed query client against the
// analytics store (trades, alerts, ML scores, market metadata) plus the
// single execution-persistence write path, grounded on the reference
// logger's pgxpool wrapper and ensureSchema pattern.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/polyfund/multifund-trader/internal/domain"
)

// dbPool is the subset of *pgxpool.Pool this package depends on, so tests
// can substitute a fake without a live Postgres instance.
type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type poolExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Client is the Analytics Client (C2).
type Client struct {
	pool dbPool
}

// New connects to dsn and ensures the schema exists.
func New(ctx context.Context, dsn string) (*Client, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("analytics: connect: %w", err)
	}
	if err := ensureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Client{pool: pool}, nil
}

// newWithPool is used by tests to inject a fake dbPool.
func newWithPool(p dbPool) *Client { return &Client{pool: p} }

func (c *Client) Close() {
	if p, ok := c.pool.(*pgxpool.Pool); ok {
		p.Close()
	}
}

// withRetry implements the one transient-failure policy shared by every
// read operation: retry with exponential backoff up to 3 attempts over
// <= 2s total, then surface as a wrapped TransientStoreError.
func withRetry[T any](ctx context.Context, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	backoff := 200 * time.Millisecond
	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if !isTransient(err) {
			return zero, &domain.PermanentQueryError{Op: op, Err: err}
		}
		if attempt < 3 {
			slog.Warn("analytics query transient failure, retrying", "op", op, "attempt", attempt, "error", err)
			select {
			case <-ctx.Done():
				return zero, &domain.TransientStoreError{Op: op, Err: ctx.Err()}
			case <-time.After(backoff):
			}
			backoff *= 2
		}
	}
	return zero, &domain.TransientStoreError{Op: op, Err: lastErr}
}

// isTransient classifies connection/timeout-shaped errors as retryable and
// everything else (bad SQL, constraint violations) as permanent.
func isTransient(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "08000", "08003", "08006", "53300":
			return true
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection") || strings.Contains(msg, "timeout") || strings.Contains(msg, "reset")
}

// TradeRow is one row returned by trades-for-addresses.
type TradeRow struct {
	TS           time.Time
	TradeID      string
	Username     string
	ProxyAddress string
	MarketSlug   string
	TokenID      string
	Side         string
	Outcome      string
	Price        decimal.Decimal
	Size         decimal.Decimal
	Notional     decimal.Decimal
}

// TradesForAddresses returns trades by any of addrs with ts in (from, to],
// limit 100, strictly ordered by ts ascending. Addresses are bound as a
// Postgres array parameter — never interpolated into the SQL text, per the
// spec's rejection of the interpolated-address query variant.
func (c *Client) TradesForAddresses(ctx context.Context, addrs []string, from, to time.Time) ([]TradeRow, error) {
	if len(addrs) == 0 {
		return nil, nil
	}
	return withRetry(ctx, "trades-for-addresses", func(ctx context.Context) ([]TradeRow, error) {
		rows, err := c.pool.Query(ctx, `
			select ts, trade_id, username, proxy_address, market_slug, token_id, side, outcome, price, size, notional
			from trades
			where proxy_address = any($1) and ts > $2 and ts <= $3
			order by ts asc
			limit 100`, addrs, from, to)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []TradeRow
		for rows.Next() {
			var r TradeRow
			if err := rows.Scan(&r.TS, &r.TradeID, &r.Username, &r.ProxyAddress, &r.MarketSlug, &r.TokenID, &r.Side, &r.Outcome, &r.Price, &r.Size, &r.Notional); err != nil {
				return nil, err
			}
			out = append(out, r)
		}
		return out, rows.Err()
	})
}

// TradesForAddressesDesc returns trades by any of addrs with ts in (from,
// to], limit 100, ordered by ts descending — used by the edge-ranked
// follower's trade fan-in, which reads "descending" per spec §4.9 step 3.
func (c *Client) TradesForAddressesDesc(ctx context.Context, addrs []string, from, to time.Time) ([]TradeRow, error) {
	if len(addrs) == 0 {
		return nil, nil
	}
	return withRetry(ctx, "trades-for-addresses-desc", func(ctx context.Context) ([]TradeRow, error) {
		rows, err := c.pool.Query(ctx, `
			select ts, trade_id, username, proxy_address, market_slug, token_id, side, outcome, price, size, notional
			from trades
			where proxy_address = any($1) and ts > $2 and ts <= $3
			order by ts desc
			limit 100`, addrs, from, to)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []TradeRow
		for rows.Next() {
			var r TradeRow
			if err := rows.Scan(&r.TS, &r.TradeID, &r.Username, &r.ProxyAddress, &r.MarketSlug, &r.TokenID, &r.Side, &r.Outcome, &r.Price, &r.Size, &r.Notional); err != nil {
				return nil, err
			}
			out = append(out, r)
		}
		return out, rows.Err()
	})
}

// AlertRow is one row returned by Alerts.
type AlertRow struct {
	ID         string
	AlertType  string
	Severity   string
	Source     string
	Username   string
	MarketSlug string
	Title      string
	Message    string
	Metadata   map[string]any
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Status     string
}

// Alerts returns active alerts of the given types created in (from, to],
// limit 50. Only rows with status = ACTIVE are ever returned.
func (c *Client) Alerts(ctx context.Context, alertTypes []string, from, to time.Time) ([]AlertRow, error) {
	if len(alertTypes) == 0 {
		return nil, nil
	}
	return withRetry(ctx, "alerts", func(ctx context.Context) ([]AlertRow, error) {
		rows, err := c.pool.Query(ctx, `
			select id, alert_type, severity, coalesce(source,''), coalesce(username,''), coalesce(market_slug,''),
			       coalesce(title,''), coalesce(message,''), coalesce(metadata,'{}'::jsonb), created_at, expires_at, status
			from alerts
			where alert_type = any($1) and status = 'ACTIVE' and created_at > $2 and created_at <= $3
			order by created_at asc
			limit 50`, alertTypes, from, to)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []AlertRow
		for rows.Next() {
			var r AlertRow
			var meta map[string]any
			if err := rows.Scan(&r.ID, &r.AlertType, &r.Severity, &r.Source, &r.Username, &r.MarketSlug,
				&r.Title, &r.Message, &meta, &r.CreatedAt, &r.ExpiresAt, &r.Status); err != nil {
				return nil, err
			}
			r.Metadata = meta
			out = append(out, r)
		}
		return out, rows.Err()
	})
}

// HighEdgeTraderRow is one row returned by HighEdgeTraders.
type HighEdgeTraderRow struct {
	Username        string
	ProxyAddress    string
	Edge            decimal.Decimal
	InverseConf     decimal.Decimal
	Cluster         string
	UpdatedAt       time.Time
}

// HighEdgeTraders returns traders with edge >= minEdge and
// (1 - confidence) < maxInverseConfidence, limit rows.
func (c *Client) HighEdgeTraders(ctx context.Context, minEdge, maxInverseConfidence decimal.Decimal, limit int) ([]HighEdgeTraderRow, error) {
	return withRetry(ctx, "high-edge-traders", func(ctx context.Context) ([]HighEdgeTraderRow, error) {
		rows, err := c.pool.Query(ctx, `
			select m.username, m.proxy_address, m.ml_score, (1 - m.tier_confidence), coalesce(m.ml_tier,''), m.calculated_at
			from ml_scores m
			where m.ml_score >= $1 and (1 - m.tier_confidence) < $2
			order by m.ml_score desc
			limit $3`, minEdge, maxInverseConfidence, limit)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []HighEdgeTraderRow
		for rows.Next() {
			var r HighEdgeTraderRow
			if err := rows.Scan(&r.Username, &r.ProxyAddress, &r.Edge, &r.InverseConf, &r.Cluster, &r.UpdatedAt); err != nil {
				return nil, err
			}
			out = append(out, r)
		}
		return out, rows.Err()
	})
}

// BinaryMarketRow is one row returned by BinaryMarkets.
type BinaryMarketRow struct {
	Slug     string
	YesToken string
	NoToken  string
	EndTime  time.Time
}

// BinaryMarkets returns up to 50 binary markets ordered by volume desc,
// with end-time strictly between now and now+7d.
func (c *Client) BinaryMarkets(ctx context.Context, now time.Time) ([]BinaryMarketRow, error) {
	return withRetry(ctx, "binary-markets", func(ctx context.Context) ([]BinaryMarketRow, error) {
		rows, err := c.pool.Query(ctx, `
			select slug, token_ids[1], token_ids[2], end_date
			from markets
			where active = true and array_length(token_ids, 1) = 2
			  and end_date > $1 and end_date < $2
			order by volume_num desc
			limit 50`, now, now.Add(7*24*time.Hour))
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []BinaryMarketRow
		for rows.Next() {
			var r BinaryMarketRow
			if err := rows.Scan(&r.Slug, &r.YesToken, &r.NoToken, &r.EndTime); err != nil {
				return nil, err
			}
			out = append(out, r)
		}
		return out, rows.Err()
	})
}

// IndexConstituentRow is one row returned by IndexConstituents.
type IndexConstituentRow struct {
	Username      string
	ProxyAddress  string
	Weight        decimal.Decimal
	Rank          int
	EstCapitalUSD decimal.Decimal
	Score         decimal.Decimal
	StrategyTag   string
	LastTradeAt   time.Time
	IndexedAt     time.Time
}

// IndexConstituents loads the current snapshot of an index's members.
func (c *Client) IndexConstituents(ctx context.Context, indexType string) ([]IndexConstituentRow, error) {
	return withRetry(ctx, "index-constituents", func(ctx context.Context) ([]IndexConstituentRow, error) {
		rows, err := c.pool.Query(ctx, `
			select username, proxy_address, weight, rank, coalesce(smart_money_score,0), coalesce(smart_money_score,0),
			       coalesce(strategy_type,''), coalesce(last_trade_at, 'epoch'::timestamptz), indexed_at
			from psi_index
			where index_type = $1
			order by rank asc`, indexType)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []IndexConstituentRow
		for rows.Next() {
			var r IndexConstituentRow
			var scoreDup decimal.Decimal
			if err := rows.Scan(&r.Username, &r.ProxyAddress, &r.Weight, &r.Rank, &r.EstCapitalUSD, &scoreDup,
				&r.StrategyTag, &r.LastTradeAt, &r.IndexedAt); err != nil {
				return nil, err
			}
			r.Score = scoreDup
			out = append(out, r)
		}
		return out, rows.Err()
	})
}

// InsertExecution persists an execution record. Failure here must not
// revert the caller's in-memory position update — the caller is
// responsible for treating this as fire-and-forget and bumping its own
// persistence-failed metric on error.
func (c *Client) InsertExecution(ctx context.Context, rec domain.ExecutionRecord) error {
	_, err := c.pool.Exec(ctx, `
		insert into executions(signal_id, fund_id, trader_username, market_slug, token_id, outcome, signal_type,
		                        trader_shares, fund_shares, execution_price, order_id, detected_at, executed_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`,
		rec.SignalID, rec.FundID, rec.TraderUsername, rec.MarketSlug, rec.TokenID, rec.Outcome, string(rec.Side),
		rec.TraderShares, rec.FundShares, rec.ExecutionPrice, rec.OrderID, rec.DetectedAt, rec.ExecutedAt)
	return err
}
