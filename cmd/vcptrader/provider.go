package main

import (
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/vcplab/vcptrader/internal/config"
	"github.com/vcplab/vcptrader/internal/data"
)

// buildProvider assembles the data stack: CSV files, an optional Redis
// read-through cache, and the rate-limit/breaker guard on the outside.
func buildProvider(cfg config.DataConfig) (data.Provider, func(), error) {
	var provider data.Provider
	csvProvider, err := data.NewCSVProvider(cfg.Dir, cfg.Benchmark)
	if err != nil {
		return nil, nil, err
	}
	provider = csvProvider

	cleanup := func() {}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		ttl := time.Duration(cfg.CacheTTLDays) * 24 * time.Hour
		provider = data.NewCachedProvider(provider, client, ttl)
		cleanup = func() {
			if err := client.Close(); err != nil {
				log.Warn().Err(err).Msg("redis close failed")
			}
		}
		log.Debug().Str("addr", cfg.RedisAddr).Msg("series cache enabled")
	}

	return data.NewGuardedProvider(provider, cfg.Guard), cleanup, nil
}
