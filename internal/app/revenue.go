package app

import (
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/revenue/internal/revenue"
)

// RevenueStack is the wired revenue pipeline shared by every process.
type RevenueStack struct {
	Source  *revenue.FallbackSource
	Cache   *revenue.SnapshotCache
	Service *revenue.Service
}

// NewRevenueStack wires relations, fetcher, cache and service from config.
// redisClient may be nil for a process-local cache.
func NewRevenueStack(cfg *Config, db revenue.Querier, redisClient *redis.Client, logger *slog.Logger, recorder revenue.Recorder) *RevenueStack {
	source := revenue.NewFallbackSource(
		revenue.NewRelation(db, cfg.RevenueView),
		revenue.NewRelation(db, cfg.RevenueTable),
		logger,
		recorder,
	)
	fetcher := revenue.NewFetcher(source, cfg.FetcherConfig(), logger, recorder)
	cache := revenue.NewSnapshotCache(redisClient, cfg.RevenueCacheTTL, logger, recorder)
	return &RevenueStack{
		Source:  source,
		Cache:   cache,
		Service: revenue.NewService(fetcher, cache, logger, recorder),
	}
}
