package data

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/vcplab/vcptrader/internal/market"
)

// GuardConfig tunes the provider guard.
type GuardConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	FailureThreshold  uint32  `yaml:"failure_threshold"`
	OpenTimeoutSec    int     `yaml:"open_timeout_sec"`
}

// DefaultGuardConfig returns conservative guard limits.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		RequestsPerSecond: 10,
		Burst:             5,
		FailureThreshold:  5,
		OpenTimeoutSec:    30,
	}
}

// GuardedProvider rate-limits and circuit-breaks an upstream Provider so a
// flapping data source cannot stall or hammer a scan.
type GuardedProvider struct {
	inner   Provider
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewGuardedProvider wraps inner with a token-bucket limiter and a breaker.
func NewGuardedProvider(inner Provider, cfg GuardConfig) *GuardedProvider {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultGuardConfig().RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultGuardConfig().Burst
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultGuardConfig().FailureThreshold
	}
	if cfg.OpenTimeoutSec <= 0 {
		cfg.OpenTimeoutSec = DefaultGuardConfig().OpenTimeoutSec
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "data-provider",
		Timeout: time.Duration(cfg.OpenTimeoutSec) * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		// Missing symbols are an expected condition, not upstream failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrSeriesNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).
				Str("from", from.String()).Str("to", to.String()).
				Msg("provider breaker state change")
		},
	})

	return &GuardedProvider{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		breaker: breaker,
	}
}

// LoadSeries implements Provider.
func (p *GuardedProvider) LoadSeries(ctx context.Context, symbol string) (market.Series, error) {
	out, err := p.call(ctx, func() (interface{}, error) {
		return p.inner.LoadSeries(ctx, symbol)
	})
	if err != nil {
		return market.Series{}, fmt.Errorf("guarded load %s: %w", symbol, err)
	}
	return out.(market.Series), nil
}

// BenchmarkSeries implements Provider.
func (p *GuardedProvider) BenchmarkSeries(ctx context.Context) (market.Series, error) {
	out, err := p.call(ctx, func() (interface{}, error) {
		return p.inner.BenchmarkSeries(ctx)
	})
	if err != nil {
		return market.Series{}, fmt.Errorf("guarded benchmark: %w", err)
	}
	return out.(market.Series), nil
}

// ListUniverse implements Provider.
func (p *GuardedProvider) ListUniverse(ctx context.Context) ([]Listing, error) {
	out, err := p.call(ctx, func() (interface{}, error) {
		return p.inner.ListUniverse(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("guarded universe: %w", err)
	}
	return out.([]Listing), nil
}

func (p *GuardedProvider) call(ctx context.Context, fn func() (interface{}, error)) (interface{}, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return p.breaker.Execute(fn)
}
