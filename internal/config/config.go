// Package config defines the top-level configuration for the options bot and
// provides validation helpers.
package config

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by OPTBOT_* environment variables.
type Config struct {
	Risk         RiskConfig         `toml:"risk"`
	Sizing       SizingConfig       `toml:"sizing"`
	ML           MLConfig           `toml:"ml"`
	Slicing      SlicingConfig      `toml:"slicing"`
	Router       RouterConfig       `toml:"router"`
	Spread       SpreadConfig       `toml:"spread"`
	Orchestrator OrchestratorConfig `toml:"orchestrator"`
	Broker       BrokerConfig       `toml:"broker"`
	Monitor      MonitorConfig      `toml:"monitor"`
	Meta         MetaConfig         `toml:"meta"`
	Feed         FeedConfig         `toml:"feed"`
	Strategies   []StrategyEntry    `toml:"strategies"`
	Postgres     PostgresConfig     `toml:"postgres"`
	Redis        RedisConfig        `toml:"redis"`
	S3           S3Config           `toml:"s3"`
	Server       ServerConfig       `toml:"server"`
	Notify       NotifyConfig       `toml:"notify"`
	Mode         string             `toml:"mode"`
	LogLevel     string             `toml:"log_level"`
}

// RiskConfig holds the static pre-trade limits.
type RiskConfig struct {
	MaxDailyLoss        float64 `toml:"max_daily_loss"`
	MaxDailyTrades      int     `toml:"max_daily_trades"`
	MaxOrderNotional    float64 `toml:"max_order_notional"`
	MaxPositionNotional float64 `toml:"max_position_notional"`
	// ResetAt is the local wall-clock time ("HH:MM") when daily counters reset.
	ResetAt string `toml:"reset_at"`
}

// SizingConfig holds Kelly and portfolio Greek ceilings.
type SizingConfig struct {
	KellyFraction     float64  `toml:"kelly_fraction"`
	MaxSinglePosition float64  `toml:"max_single_position"`
	MaxPortfolioDelta float64  `toml:"max_portfolio_delta"`
	MaxPortfolioVega  float64  `toml:"max_portfolio_vega"`
	LockTTL           duration `toml:"lock_ttl"`
}

// MLConfig holds the prediction endpoint and circuit breaker thresholds.
type MLConfig struct {
	Endpoint           string   `toml:"endpoint"`
	Timeout            duration `toml:"timeout"`
	FailureRatePercent float64  `toml:"failure_rate_percent"`
	WindowSize         int      `toml:"window_size"`
	MinCalls           int      `toml:"min_calls"`
	CoolDown           duration `toml:"cool_down"`
	HalfOpenProbes     int      `toml:"half_open_probes"`
}

// SlicingConfig holds slicing interval sizes and the VWAP volume curve.
type SlicingConfig struct {
	TWAPIntervalMinutes int       `toml:"twap_interval_minutes"`
	TWAPMaxIntervals    int       `toml:"twap_max_intervals"`
	VWAPIntervalMinutes int       `toml:"vwap_interval_minutes"`
	VWAPCurve           []float64 `toml:"vwap_curve"`
	ISIntervalsPerHour  int       `toml:"is_intervals_per_hour"`
	ISAlphaDecay        float64   `toml:"is_alpha_decay"`
	ISMaxParticipation  float64   `toml:"is_max_participation"`
}

// BrokerEntry seeds one broker endpoint in the router.
type BrokerEntry struct {
	ID            string  `toml:"id"`
	Name          string  `toml:"name"`
	LatencyMs     float64 `toml:"latency_ms"`
	UptimePercent float64 `toml:"uptime_percent"`
	FillRate      float64 `toml:"fill_rate"`
	FeeLevel      float64 `toml:"fee_level"`
}

// RouterConfig holds broker health thresholds and the seeded endpoints.
type RouterConfig struct {
	MinUptimePercent float64       `toml:"min_uptime_percent"`
	MaxLatencyMs     float64       `toml:"max_latency_ms"`
	HealthStaleAfter duration      `toml:"health_stale_after"`
	HealthInterval   duration      `toml:"health_interval"`
	DefaultLiquidity float64       `toml:"default_liquidity"`
	Brokers          []BrokerEntry `toml:"brokers"`
}

// SpreadConfig holds multi-leg retry and pricing parameters.
type SpreadConfig struct {
	MaxRetries     int      `toml:"max_retries"`
	InitialBackoff duration `toml:"initial_backoff"`
	PriceBand      float64  `toml:"price_band"`
}

// OrchestratorConfig holds per-signal pipeline policy.
type OrchestratorConfig struct {
	SliceThreshold      int      `toml:"slice_threshold"`
	SliceAlgorithm      string   `toml:"slice_algorithm"`
	SliceWindow         duration `toml:"slice_window"`
	Commission          float64  `toml:"commission"`
	MaxInflight         int      `toml:"max_inflight"`
	DedupTTL            duration `toml:"dedup_ttl"`
	SpreadHedgeRatio    float64  `toml:"spread_hedge_ratio"`
	SpreadMinCreditRate float64  `toml:"spread_min_credit_rate"`
	DrainTimeout        duration `toml:"drain_timeout"`
}

// BrokerConfig selects and tunes the broker adapter.
type BrokerConfig struct {
	Adapter       string  `toml:"adapter"`
	FillTolerance float64 `toml:"fill_tolerance"`
	SessionToken  string  `toml:"session_token"`
}

// MonitorConfig holds TCA/latency retention and alert thresholds.
type MonitorConfig struct {
	Retention     duration       `toml:"retention"`
	AlertInterval duration       `toml:"alert_interval"`
	ThresholdsMs  map[string]int `toml:"thresholds_ms"`
}

// MetaConfig holds capital reallocation parameters.
type MetaConfig struct {
	RiskFreeRate       float64  `toml:"risk_free_rate"`
	Window             int      `toml:"window"`
	MinHistory         int      `toml:"min_history"`
	RecentDays         int      `toml:"recent_days"`
	RebalanceThreshold float64  `toml:"rebalance_threshold"`
	MinWeight          float64  `toml:"min_weight"`
	MaxWeight          float64  `toml:"max_weight"`
	Iterations         int      `toml:"iterations"`
	StepSize           float64  `toml:"step_size"`
	CheckInterval      duration `toml:"check_interval"`
	// MinSharpe and MaxDrawdown flag underperforming strategies after each
	// rebalance check.
	MinSharpe   float64 `toml:"min_sharpe"`
	MaxDrawdown float64 `toml:"max_drawdown"`
}

// FeedConfig holds the market tick source.
type FeedConfig struct {
	WsURL          string   `toml:"ws_url"`
	Symbols        []string `toml:"symbols"`
	ReconnectDelay duration `toml:"reconnect_delay"`
	// BusChannel, when set, also consumes ticks published on the signal bus.
	BusChannel string `toml:"bus_channel"`
}

// StrategyEntry deploys one strategy instance at startup.
type StrategyEntry struct {
	Type   string             `toml:"type"`
	Symbol string             `toml:"symbol"`
	Owner  string             `toml:"owner"`
	Params map[string]float64 `toml:"params"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	StreamMaxLen int      `toml:"stream_max_len"`
	QuoteTTL     duration `toml:"quote_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled              bool   `toml:"enabled"`
	Endpoint             string `toml:"endpoint"`
	Region               string `toml:"region"`
	Bucket               string `toml:"bucket"`
	AccessKey            string `toml:"access_key"`
	SecretKey            string `toml:"secret_key"`
	UseSSL               bool   `toml:"use_ssl"`
	ForcePathStyle       bool   `toml:"force_path_style"`
	ArchiveRetentionDays int    `toml:"archive_retention_days"`
	// ArchiveCron is a 5-field UTC cron schedule for the archive job.
	ArchiveCron string `toml:"archive_cron"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled         bool     `toml:"enabled"`
	Port            int      `toml:"port"`
	CORSOrigins     []string `toml:"cors_origins"`
	APIKey          string   `toml:"api_key"`
	RateLimitPerMin int      `toml:"rate_limit_per_min"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// DefaultVWAPCurve is the intraday volume profile, twelve half-hour buckets.
var DefaultVWAPCurve = []float64{0.02, 0.03, 0.04, 0.06, 0.08, 0.12, 0.15, 0.18, 0.16, 0.10, 0.04, 0.02}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	curve := make([]float64, len(DefaultVWAPCurve))
	copy(curve, DefaultVWAPCurve)
	return Config{
		Risk: RiskConfig{
			MaxDailyLoss:        10000,
			MaxDailyTrades:      100,
			MaxOrderNotional:    10000,
			MaxPositionNotional: 100000,
			ResetAt:             "00:00",
		},
		Sizing: SizingConfig{
			KellyFraction:     0.25,
			MaxSinglePosition: 50000,
			MaxPortfolioDelta: 1000,
			MaxPortfolioVega:  500,
			LockTTL:           duration{5 * time.Second},
		},
		ML: MLConfig{
			Endpoint:           "http://localhost:8000/predict",
			Timeout:            duration{2 * time.Second},
			FailureRatePercent: 50,
			WindowSize:         10,
			MinCalls:           5,
			CoolDown:           duration{30 * time.Second},
			HalfOpenProbes:     1,
		},
		Slicing: SlicingConfig{
			TWAPIntervalMinutes: 15,
			TWAPMaxIntervals:    20,
			VWAPIntervalMinutes: 30,
			VWAPCurve:           curve,
			ISIntervalsPerHour:  4,
			ISAlphaDecay:        0.1,
			ISMaxParticipation:  0.3,
		},
		Router: RouterConfig{
			MinUptimePercent: 95,
			MaxLatencyMs:     100,
			HealthStaleAfter: duration{5 * time.Minute},
			HealthInterval:   duration{time.Minute},
			DefaultLiquidity: 0.5,
			Brokers: []BrokerEntry{
				{ID: "ZERODHA", Name: "Zerodha", LatencyMs: 45, UptimePercent: 99.5, FillRate: 0.95, FeeLevel: 20},
				{ID: "KOTAK", Name: "Kotak Securities", LatencyMs: 60, UptimePercent: 99.0, FillRate: 0.92, FeeLevel: 15},
			},
		},
		Spread: SpreadConfig{
			MaxRetries:     3,
			InitialBackoff: duration{100 * time.Millisecond},
			PriceBand:      0.01,
		},
		Orchestrator: OrchestratorConfig{
			SliceThreshold:      100,
			SliceAlgorithm:      "VWAP",
			SliceWindow:         duration{2 * time.Hour},
			Commission:          5,
			MaxInflight:         64,
			DedupTTL:            duration{2 * time.Minute},
			SpreadHedgeRatio:    0.95,
			SpreadMinCreditRate: 0.04,
			DrainTimeout:        duration{5 * time.Second},
		},
		Broker: BrokerConfig{
			Adapter:       "paper",
			FillTolerance: 0.005,
		},
		Monitor: MonitorConfig{
			Retention:     duration{24 * time.Hour},
			AlertInterval: duration{time.Minute},
			ThresholdsMs: map[string]int{
				"SIGNAL_GENERATION": 50,
				"ORDER_ROUTING":     10,
				"ORDER_SENT":        100,
				"ORDER_ACK":         200,
				"ORDER_FILL":        1000,
			},
		},
		Meta: MetaConfig{
			RiskFreeRate:       0.03,
			Window:             252,
			MinHistory:         30,
			RecentDays:         7,
			RebalanceThreshold: 0.02,
			MinWeight:          0.05,
			MaxWeight:          0.30,
			Iterations:         10,
			StepSize:           0.01,
			CheckInterval:      duration{time.Hour},
			MinSharpe:          0,
			MaxDrawdown:        0.2,
		},
		Feed: FeedConfig{
			ReconnectDelay: duration{2 * time.Second},
		},
		Postgres: PostgresConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     20,
			MaxRetries:   3,
			TLSEnabled:   false,
			StreamMaxLen: 10000,
			QuoteTTL:     duration{15 * time.Minute},
		},
		S3: S3Config{
			Enabled:              false,
			Endpoint:             "http://localhost:9000",
			Region:               "us-east-1",
			Bucket:               "optbot-archive",
			UseSSL:               false,
			ForcePathStyle:       true,
			ArchiveRetentionDays: 90,
			ArchiveCron:          "30 20 * * *",
		},
		Server: ServerConfig{
			Enabled:         true,
			Port:            8080,
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimitPerMin: 600,
		},
		Notify: NotifyConfig{
			Events: []string{"hedge_required", "latency_alert", "risk_rejection", "spread_failed", "broker_down"},
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validSliceAlgorithms = map[string]bool{
	"TWAP": true,
	"VWAP": true,
	"IS":   true,
}

var validStrategyTypes = map[string]bool{
	"moving_average_crossover": true,
	"rsi":                      true,
	"macd":                     true,
	"breakout":                 true,
	"iron_condor":              true,
	"ema_rsi":                  true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Risk
	if c.Risk.MaxDailyLoss <= 0 {
		errs = append(errs, "risk: max_daily_loss must be > 0 (it is applied as a negative floor)")
	}
	if c.Risk.MaxDailyTrades < 1 {
		errs = append(errs, "risk: max_daily_trades must be >= 1")
	}
	if c.Risk.MaxOrderNotional <= 0 {
		errs = append(errs, "risk: max_order_notional must be > 0")
	}
	if c.Risk.MaxPositionNotional < c.Risk.MaxOrderNotional {
		errs = append(errs, "risk: max_position_notional must be >= max_order_notional")
	}
	if _, err := time.Parse("15:04", c.Risk.ResetAt); err != nil {
		errs = append(errs, fmt.Sprintf("risk: reset_at %q must be HH:MM", c.Risk.ResetAt))
	}

	// Sizing
	if c.Sizing.KellyFraction <= 0 || c.Sizing.KellyFraction > 1 {
		errs = append(errs, "sizing: kelly_fraction must be in (0, 1]")
	}
	if c.Sizing.MaxSinglePosition <= 0 {
		errs = append(errs, "sizing: max_single_position must be > 0")
	}
	if c.Sizing.MaxPortfolioDelta <= 0 || c.Sizing.MaxPortfolioVega <= 0 {
		errs = append(errs, "sizing: max_portfolio_delta and max_portfolio_vega must be > 0")
	}

	// ML
	if c.ML.Endpoint == "" {
		errs = append(errs, "ml: endpoint must not be empty")
	}
	if c.ML.Timeout.Duration <= 0 {
		errs = append(errs, "ml: timeout must be > 0")
	}
	if c.ML.FailureRatePercent <= 0 || c.ML.FailureRatePercent > 100 {
		errs = append(errs, "ml: failure_rate_percent must be in (0, 100]")
	}
	if c.ML.WindowSize < 1 || c.ML.MinCalls < 1 || c.ML.MinCalls > c.ML.WindowSize {
		errs = append(errs, "ml: require 1 <= min_calls <= window_size")
	}
	if c.ML.CoolDown.Duration <= 0 {
		errs = append(errs, "ml: cool_down must be > 0")
	}

	// Slicing
	if c.Slicing.TWAPIntervalMinutes < 1 || c.Slicing.TWAPMaxIntervals < 1 {
		errs = append(errs, "slicing: twap_interval_minutes and twap_max_intervals must be >= 1")
	}
	if c.Slicing.VWAPIntervalMinutes < 1 {
		errs = append(errs, "slicing: vwap_interval_minutes must be >= 1")
	}
	if len(c.Slicing.VWAPCurve) != 12 {
		errs = append(errs, fmt.Sprintf("slicing: vwap_curve must have 12 points, got %d", len(c.Slicing.VWAPCurve)))
	} else {
		var sum float64
		for _, w := range c.Slicing.VWAPCurve {
			sum += w
		}
		if math.Abs(sum-1) > 1e-6 {
			errs = append(errs, fmt.Sprintf("slicing: vwap_curve must sum to 1.0, got %.6f", sum))
		}
	}
	if c.Slicing.ISIntervalsPerHour < 1 || c.Slicing.ISMaxParticipation <= 0 {
		errs = append(errs, "slicing: is_intervals_per_hour must be >= 1 and is_max_participation > 0")
	}

	// Router
	if len(c.Router.Brokers) == 0 {
		errs = append(errs, "router: at least one broker must be configured")
	}
	seen := make(map[string]bool, len(c.Router.Brokers))
	for _, b := range c.Router.Brokers {
		if b.ID == "" {
			errs = append(errs, "router: broker id must not be empty")
			continue
		}
		if seen[b.ID] {
			errs = append(errs, fmt.Sprintf("router: duplicate broker id %q", b.ID))
		}
		seen[b.ID] = true
	}

	// Spread
	if c.Spread.MaxRetries < 0 {
		errs = append(errs, "spread: max_retries must be >= 0")
	}

	// Orchestrator
	if !validSliceAlgorithms[strings.ToUpper(c.Orchestrator.SliceAlgorithm)] {
		errs = append(errs, fmt.Sprintf("orchestrator: unknown slice_algorithm %q (valid: TWAP, VWAP, IS)", c.Orchestrator.SliceAlgorithm))
	}
	if c.Orchestrator.SliceWindow.Duration <= 0 {
		errs = append(errs, "orchestrator: slice_window must be > 0")
	}
	if c.Orchestrator.MaxInflight < 1 {
		errs = append(errs, "orchestrator: max_inflight must be >= 1")
	}
	if 1-c.Orchestrator.SpreadHedgeRatio < c.Orchestrator.SpreadMinCreditRate {
		errs = append(errs, fmt.Sprintf("orchestrator: spread_min_credit_rate %.4f exceeds the spread credit %.4f; every spread would be rejected",
			c.Orchestrator.SpreadMinCreditRate, 1-c.Orchestrator.SpreadHedgeRatio))
	}

	// Broker
	if c.Broker.Adapter != "paper" {
		errs = append(errs, fmt.Sprintf("broker: unsupported adapter %q (valid: paper)", c.Broker.Adapter))
	}

	// Strategies
	for i, s := range c.Strategies {
		if !validStrategyTypes[strings.ToLower(s.Type)] {
			errs = append(errs, fmt.Sprintf("strategies[%d]: unknown type %q", i, s.Type))
		}
		if s.Symbol == "" {
			errs = append(errs, fmt.Sprintf("strategies[%d]: symbol must not be empty", i))
		}
	}

	// Postgres
	if c.Postgres.Enabled {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if !c.Postgres.Enabled {
			errs = append(errs, "s3: archiving requires postgres.enabled")
		}
		if c.S3.ArchiveRetentionDays < 1 {
			errs = append(errs, "s3: archive_retention_days must be >= 1")
		}
		if strings.TrimSpace(c.S3.ArchiveCron) == "" {
			errs = append(errs, "s3: archive_cron must not be empty")
		}
	}

	// Server
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
