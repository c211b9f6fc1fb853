package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/optionsbot/internal/blob/s3"
	"github.com/alanyoungcy/optionsbot/internal/cache/redis"
	"github.com/alanyoungcy/optionsbot/internal/config"
	"github.com/alanyoungcy/optionsbot/internal/domain"
	"github.com/alanyoungcy/optionsbot/internal/notify"
	"github.com/alanyoungcy/optionsbot/internal/platform/paper"
	"github.com/alanyoungcy/optionsbot/internal/server/handler"
	"github.com/alanyoungcy/optionsbot/internal/service"
	"github.com/alanyoungcy/optionsbot/internal/store/postgres"
)

// Dependencies bundles the storage and messaging adapters the run modes build
// on. It is constructed by Wire and torn down by the returned cleanup
// function. Postgres-backed stores are nil when Postgres is disabled; shared
// state falls back to in-process implementations when Redis is disabled.
type Dependencies struct {
	// Stores
	ExecutionStore   domain.ExecutionStore
	OutcomeStore     domain.OutcomeStore
	PerformanceStore domain.PerformanceStore
	StrategyStore    domain.StrategyStore
	AuditStore       domain.AuditStore

	// Shared state
	RiskState   domain.RiskStateStore
	Quotes      domain.QuoteCache
	SignalBus   domain.SignalBus
	LockManager domain.LockManager // nil without Redis
	RateLimiter domain.RateLimiter // nil without Redis

	// Blob storage
	Archiver domain.Archiver // nil without S3

	// Notifications
	Notifier *notify.Notifier

	// Checks are the connectivity probes reported by the health endpoint.
	Checks map[string]handler.CheckFunc
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{Checks: make(map[string]handler.CheckFunc)}

	// --- PostgreSQL ---
	var executions *postgres.ExecutionStore
	if cfg.Postgres.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		executions = postgres.NewExecutionStore(pool)
		deps.ExecutionStore = executions
		deps.OutcomeStore = postgres.NewOutcomeStore(pool)
		deps.PerformanceStore = postgres.NewPerformanceStore(pool)
		deps.StrategyStore = postgres.NewStrategyStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = func(ctx context.Context) error { return pool.Ping(ctx) }
	} else {
		logger.WarnContext(ctx, "postgres disabled: execution log, outcomes and strategy configs stay in memory")
		deps.OutcomeStore = service.NewMemoryOutcomeStore()
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.RiskState = redis.NewRiskStore(redisClient)
		deps.Quotes = redis.NewQuoteCache(redisClient, cfg.Redis.QuoteTTL.Duration)
		deps.SignalBus = redis.NewSignalBus(redisClient, int64(cfg.Redis.StreamMaxLen))
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	} else {
		logger.WarnContext(ctx, "redis disabled: risk state, quotes and the signal bus are process-local")
		deps.RiskState = service.NewMemoryRiskState()
		deps.Quotes = paper.NewMemoryQuotes()
		deps.SignalBus = service.NewMemoryBus(cfg.Redis.StreamMaxLen)
	}

	// --- S3 archive ---
	if cfg.S3.Enabled && executions != nil {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewExecutionArchiver(
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			executions,
			deps.AuditStore,
			logger,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
