package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/vcplab/vcptrader/internal/market"
)

// CachedProvider wraps a Provider with a Redis read-through cache for price
// series. Universe listings are always fetched fresh.
type CachedProvider struct {
	inner  Provider
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewCachedProvider wraps inner with series caching under the given TTL.
func NewCachedProvider(inner Provider, client *redis.Client, ttl time.Duration) *CachedProvider {
	return &CachedProvider{inner: inner, client: client, ttl: ttl, prefix: "vcptrader:series:"}
}

// LoadSeries implements Provider. Cache failures degrade to the inner
// provider instead of surfacing.
func (p *CachedProvider) LoadSeries(ctx context.Context, symbol string) (market.Series, error) {
	key := p.prefix + symbol
	if payload, err := p.client.Get(ctx, key).Bytes(); err == nil {
		var s market.Series
		if err := json.Unmarshal(payload, &s); err == nil {
			return s, nil
		}
		log.Warn().Str("symbol", symbol).Msg("cache payload corrupt, reloading")
	} else if err != redis.Nil {
		log.Warn().Err(err).Str("symbol", symbol).Msg("cache read failed")
	}

	s, err := p.inner.LoadSeries(ctx, symbol)
	if err != nil {
		return market.Series{}, err
	}
	p.store(ctx, key, s)
	return s, nil
}

// BenchmarkSeries implements Provider.
func (p *CachedProvider) BenchmarkSeries(ctx context.Context) (market.Series, error) {
	key := p.prefix + "__benchmark"
	if payload, err := p.client.Get(ctx, key).Bytes(); err == nil {
		var s market.Series
		if err := json.Unmarshal(payload, &s); err == nil {
			return s, nil
		}
	}
	s, err := p.inner.BenchmarkSeries(ctx)
	if err != nil {
		return market.Series{}, err
	}
	p.store(ctx, key, s)
	return s, nil
}

// ListUniverse implements Provider.
func (p *CachedProvider) ListUniverse(ctx context.Context) ([]Listing, error) {
	return p.inner.ListUniverse(ctx)
}

// Invalidate removes one symbol's cached series.
func (p *CachedProvider) Invalidate(ctx context.Context, symbol string) error {
	if err := p.client.Del(ctx, p.prefix+symbol).Err(); err != nil {
		return fmt.Errorf("invalidate %s: %w", symbol, err)
	}
	return nil
}

func (p *CachedProvider) store(ctx context.Context, key string, s market.Series) {
	payload, err := json.Marshal(s)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache encode failed")
		return
	}
	if err := p.client.Set(ctx, key, payload, p.ttl).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("cache write failed")
	}
}
