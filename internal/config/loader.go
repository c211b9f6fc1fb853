package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies OPTBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known OPTBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Risk ──
	setFloat64(&cfg.Risk.MaxDailyLoss, "OPTBOT_RISK_MAX_DAILY_LOSS")
	setInt(&cfg.Risk.MaxDailyTrades, "OPTBOT_RISK_MAX_DAILY_TRADES")
	setFloat64(&cfg.Risk.MaxOrderNotional, "OPTBOT_RISK_MAX_ORDER_NOTIONAL")
	setFloat64(&cfg.Risk.MaxPositionNotional, "OPTBOT_RISK_MAX_POSITION_NOTIONAL")
	setStr(&cfg.Risk.ResetAt, "OPTBOT_RISK_RESET_AT")

	// ── Sizing ──
	setFloat64(&cfg.Sizing.KellyFraction, "OPTBOT_SIZING_KELLY_FRACTION")
	setFloat64(&cfg.Sizing.MaxSinglePosition, "OPTBOT_SIZING_MAX_SINGLE_POSITION")
	setFloat64(&cfg.Sizing.MaxPortfolioDelta, "OPTBOT_SIZING_MAX_PORTFOLIO_DELTA")
	setFloat64(&cfg.Sizing.MaxPortfolioVega, "OPTBOT_SIZING_MAX_PORTFOLIO_VEGA")

	// ── ML ──
	setStr(&cfg.ML.Endpoint, "OPTBOT_ML_ENDPOINT")
	setDuration(&cfg.ML.Timeout, "OPTBOT_ML_TIMEOUT")
	setFloat64(&cfg.ML.FailureRatePercent, "OPTBOT_ML_FAILURE_RATE_PERCENT")
	setInt(&cfg.ML.WindowSize, "OPTBOT_ML_WINDOW_SIZE")
	setInt(&cfg.ML.MinCalls, "OPTBOT_ML_MIN_CALLS")
	setDuration(&cfg.ML.CoolDown, "OPTBOT_ML_COOL_DOWN")

	// ── Orchestrator ──
	setInt(&cfg.Orchestrator.SliceThreshold, "OPTBOT_ORCHESTRATOR_SLICE_THRESHOLD")
	setStr(&cfg.Orchestrator.SliceAlgorithm, "OPTBOT_ORCHESTRATOR_SLICE_ALGORITHM")
	setDuration(&cfg.Orchestrator.SliceWindow, "OPTBOT_ORCHESTRATOR_SLICE_WINDOW")
	setInt(&cfg.Orchestrator.MaxInflight, "OPTBOT_ORCHESTRATOR_MAX_INFLIGHT")
	setDuration(&cfg.Orchestrator.DrainTimeout, "OPTBOT_ORCHESTRATOR_DRAIN_TIMEOUT")

	// ── Router ──
	setFloat64(&cfg.Router.MinUptimePercent, "OPTBOT_ROUTER_MIN_UPTIME_PERCENT")
	setFloat64(&cfg.Router.MaxLatencyMs, "OPTBOT_ROUTER_MAX_LATENCY_MS")
	setDuration(&cfg.Router.HealthInterval, "OPTBOT_ROUTER_HEALTH_INTERVAL")

	// ── Monitor / Meta ──
	setDuration(&cfg.Monitor.AlertInterval, "OPTBOT_MONITOR_ALERT_INTERVAL")
	setDuration(&cfg.Meta.CheckInterval, "OPTBOT_META_CHECK_INTERVAL")
	setFloat64(&cfg.Meta.RiskFreeRate, "OPTBOT_META_RISK_FREE_RATE")

	// ── Broker ──
	setStr(&cfg.Broker.Adapter, "OPTBOT_BROKER_ADAPTER")
	setStr(&cfg.Broker.SessionToken, "OPTBOT_BROKER_SESSION_TOKEN")

	// ── Feed ──
	setStr(&cfg.Feed.WsURL, "OPTBOT_FEED_WS_URL")
	setStringSlice(&cfg.Feed.Symbols, "OPTBOT_FEED_SYMBOLS")
	setStr(&cfg.Feed.BusChannel, "OPTBOT_FEED_BUS_CHANNEL")
	setDuration(&cfg.Feed.ReconnectDelay, "OPTBOT_FEED_RECONNECT_DELAY")

	// ── Postgres ──
	setBool(&cfg.Postgres.Enabled, "OPTBOT_POSTGRES_ENABLED")
	setStr(&cfg.Postgres.DSN, "OPTBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "OPTBOT_DATABASE_URL") // compatibility alias
	setStr(&cfg.Postgres.Host, "OPTBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "OPTBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "OPTBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "OPTBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "OPTBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "OPTBOT_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "OPTBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "OPTBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "OPTBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "OPTBOT_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "OPTBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "OPTBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "OPTBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "OPTBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "OPTBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "OPTBOT_REDIS_TLS_ENABLED")
	setInt(&cfg.Redis.StreamMaxLen, "OPTBOT_REDIS_STREAM_MAX_LEN")
	setDuration(&cfg.Redis.QuoteTTL, "OPTBOT_REDIS_QUOTE_TTL")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "OPTBOT_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "OPTBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "OPTBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "OPTBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "OPTBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "OPTBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "OPTBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "OPTBOT_S3_FORCE_PATH_STYLE")
	setInt(&cfg.S3.ArchiveRetentionDays, "OPTBOT_S3_ARCHIVE_RETENTION_DAYS")
	setStr(&cfg.S3.ArchiveCron, "OPTBOT_S3_ARCHIVE_CRON")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "OPTBOT_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "OPTBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "OPTBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "OPTBOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimitPerMin, "OPTBOT_SERVER_RATE_LIMIT_PER_MIN")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "OPTBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "OPTBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "OPTBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "OPTBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "OPTBOT_MODE")
	setStr(&cfg.LogLevel, "OPTBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
