package analytics

import (
	"context"
	"fmt"
)

// ensureSchema creates the read-side tables (populated by an external
// ingestion pipeline, not by this process) and the write-side executions
// table, idempotently, the way the reference logger's ensureSchema does.
func ensureSchema(ctx context.Context, pool poolExecer) error {
	stmts := []string{
		`create table if not exists trades (
			ts timestamptz not null,
			trade_id text primary key,
			username text not null,
			proxy_address text not null,
			market_slug text not null,
			token_id text not null,
			side text not null,
			outcome text not null,
			price numeric not null,
			size numeric not null,
			notional numeric not null
		)`,
		`create index if not exists idx_trades_proxy_ts on trades(proxy_address, ts)`,
		`create table if not exists alerts (
			id text primary key,
			alert_type text not null,
			severity text not null,
			source text,
			username text,
			market_slug text,
			title text,
			message text,
			metadata jsonb,
			created_at timestamptz not null,
			expires_at timestamptz not null,
			status text not null
		)`,
		`create index if not exists idx_alerts_type_status_created on alerts(alert_type, status, created_at)`,
		`create table if not exists ml_scores (
			username text not null,
			proxy_address text primary key,
			ml_score numeric not null,
			tier_confidence numeric not null,
			ml_tier text,
			calculated_at timestamptz not null
		)`,
		`create table if not exists markets (
			slug text primary key,
			token_ids text[] not null,
			end_date timestamptz not null,
			active boolean not null,
			volume_num numeric not null
		)`,
		`create table if not exists psi_index (
			index_type text not null,
			username text not null,
			proxy_address text not null,
			weight numeric not null,
			rank integer not null,
			smart_money_score numeric not null,
			strategy_type text,
			last_trade_at timestamptz,
			indexed_at timestamptz not null,
			primary key (index_type, proxy_address)
		)`,
		`create table if not exists executions (
			signal_id text not null,
			fund_id text not null,
			trader_username text,
			market_slug text not null,
			token_id text not null,
			outcome text not null,
			signal_type text not null,
			trader_shares numeric,
			fund_shares numeric not null,
			execution_price numeric not null,
			order_id text not null,
			detected_at timestamptz not null,
			executed_at timestamptz not null
		)`,
	}
	for _, s := range stmts {
		if _, err := pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("ensureSchema: %w", err)
		}
	}
	return nil
}
