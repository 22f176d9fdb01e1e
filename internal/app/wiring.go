package app

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/clinicos/backoffice/internal/accounting"
	"github.com/clinicos/backoffice/internal/corporate"
	"github.com/clinicos/backoffice/internal/platform/cache"
	"github.com/clinicos/backoffice/internal/platform/db"
	"github.com/clinicos/backoffice/internal/rates"
	"github.com/clinicos/backoffice/internal/shared"
)

// Services is the wired domain graph shared by the server, worker and CLI.
type Services struct {
	Pool      *pgxpool.Pool
	Redis     *redis.Client
	Rates     *rates.Service
	Corporate *corporate.Service
	Finance   *accounting.Service
	logger    *slog.Logger
}

// Wire connects to PostgreSQL and Redis and builds the services. Redis being
// down only disables the rate cache.
func Wire(ctx context.Context, cfg *Config, logger *slog.Logger) (*Services, error) {
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolOptions{})
	if err != nil {
		return nil, err
	}
	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Warn("redis unavailable, rate cache disabled", slog.Any("error", err))
	}

	var ruleCache *rates.RuleCache
	if err == nil {
		ruleCache = rates.NewRuleCache(redisClient, cfg.RateCacheTTL, logger)
	}
	auditLogger := shared.NewAuditLogger(pool)

	rateService := rates.NewService(rates.NewRepository(pool), ruleCache, logger)
	corporateService := corporate.NewService(corporate.NewRepository(pool), logger,
		corporate.WithRates(rateService),
		corporate.WithIdempotency(shared.NewIdempotencyStore(pool)),
		corporate.WithAudit(auditLogger),
	)
	financeService := accounting.NewService(accounting.NewRepository(pool), auditLogger, logger)

	return &Services{
		Pool:      pool,
		Redis:     redisClient,
		Rates:     rateService,
		Corporate: corporateService,
		Finance:   financeService,
		logger:    logger,
	}, nil
}

// Close releases the connections.
func (s *Services) Close() {
	if s == nil {
		return
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			s.logger.Warn("redis close", slog.Any("error", err))
		}
	}
	if s.Pool != nil {
		s.Pool.Close()
	}
}
