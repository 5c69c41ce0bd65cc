package main

import (
	"context"

	config "github.com/NordCoder/Deliverus/internal/config/api"
	redisstore "github.com/NordCoder/Deliverus/internal/repository/redis"
	"github.com/NordCoder/Deliverus/internal/services/stats"
	"go.uber.org/zap"
)

// initStatsCache returns a nil cache when caching is off. A redis outage at
// startup degrades to uncached reports instead of failing the process.
func initStatsCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (stats.Cache, func(), error) {
	noop := func() {}
	if !cfg.Stats.Cache {
		return nil, noop, nil
	}
	rdb, err := redisstore.NewClient(ctx, cfg.Stats.Redis.URL)
	if err != nil {
		logger.Warn("redis unavailable, stats cache disabled", zap.Error(err))
		return nil, noop, nil
	}
	logger.Info("stats cache enabled", zap.Duration("ttl", cfg.Stats.Redis.TTL))
	return redisstore.NewStatsCache(rdb, cfg.Stats.Redis.Prefix), func() { _ = rdb.Close() }, nil
}
