package config

import (
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for the multi-fund trader: venue
// credentials, the database DSN, and the fund allocation list that
// internal/orchestrator turns into running funds at startup.
type Config struct {
	PrivateKey    string `yaml:"private_key"`
	APIKey        string `yaml:"api_key"`
	APISecret     string `yaml:"api_secret"`
	APIPassphrase string `yaml:"api_passphrase"`

	DatabaseURL string `yaml:"database_url"`

	ScanInterval      time.Duration `yaml:"scan_interval"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	DryRun            bool          `yaml:"dry_run"`
	TradingMode       string        `yaml:"trading_mode"`
	LogLevel          string        `yaml:"log_level"`

	TotalCapitalUSDC float64      `yaml:"total_capital_usdc"`
	Funds            []FundConfig `yaml:"funds"`

	Telegram TelegramConfig `yaml:"telegram"`
	API      APIConfig      `yaml:"api"`
}

// FundConfig is one fund's allocation entry as read from YAML. Category
// selects the strategy variant via the fund id's prefix convention, so it
// is carried here for readability/validation only — the orchestrator still
// dispatches on ID.
type FundConfig struct {
	ID             string  `yaml:"id"`
	Enabled        bool    `yaml:"enabled"`
	Category       string  `yaml:"category"` // mirror | alert | edge | arb
	IndexID        string  `yaml:"index_id"` // mirror funds only
	CapitalUSDC    float64 `yaml:"capital_usdc"`
	CapitalPoolPct float64 `yaml:"capital_pool_pct"` // used only if capital_usdc is zero
	MaxPositionPct float64 `yaml:"max_position_pct"`
	MinTradeUSD    float64 `yaml:"min_trade_usd"`
	SignalDelaySec int     `yaml:"signal_delay_sec"`
	MaxSlippage    float64 `yaml:"max_slippage"`
	ExecutionMode  string  `yaml:"execution_mode"`

	MaxSingleMarketExpUSD float64 `yaml:"max_single_market_exposure_usd"`
	MaxOpenPositions      int     `yaml:"max_open_positions"`
	MaxConcurrentOrders   int     `yaml:"max_concurrent_orders"`
	MaxDailyLossUSD       float64 `yaml:"max_daily_loss_usd"`
	MaxDrawdownPct        float64 `yaml:"max_drawdown_pct"`
	MaxDailyTrades        int     `yaml:"max_daily_trades"`

	// Active-fund (alert/edge) sizing knobs.
	BaseAllocPct    float64 `yaml:"base_alloc_pct"`
	ConfidenceScale float64 `yaml:"confidence_scale"`
	BasePositionPct float64 `yaml:"base_position_pct"`
	MinConfidence   float64 `yaml:"min_confidence"`
	MinStrength     float64 `yaml:"min_strength"`

	MaxArbNotional float64 `yaml:"max_arb_notional"` // arbitrage funds only
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

func Default() Config {
	return Config{
		ScanInterval:      10 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		DryRun:            true,
		TradingMode:       "paper",
		LogLevel:          "info",
		API: APIConfig{
			Addr: ":8080",
		},
	}
}

func LoadFile(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) ApplyEnv() {
	if v := os.Getenv("POLYMARKET_PK"); v != "" {
		c.PrivateKey = v
	}
	if v := os.Getenv("POLYMARKET_API_KEY"); v != "" {
		c.APIKey = v
	}
	if v := os.Getenv("POLYMARKET_API_SECRET"); v != "" {
		c.APISecret = v
	}
	if v := os.Getenv("POLYMARKET_API_PASSPHRASE"); v != "" {
		c.APIPassphrase = v
	}
	if v := os.Getenv("TRADER_DATABASE_URL"); v != "" {
		c.DatabaseURL = v
	}
	if v := os.Getenv("TRADER_DRY_RUN"); v != "" {
		c.DryRun = strings.EqualFold(v, "true") || v == "1"
	}
	if v := strings.TrimSpace(os.Getenv("TRADER_TRADING_MODE")); v != "" {
		c.TradingMode = strings.ToLower(v)
	}
}
