package data

import (
	"context"
	"errors"

	"github.com/vcplab/vcptrader/internal/market"
)

// ErrSeriesNotFound reports a symbol with no price history.
var ErrSeriesNotFound = errors.New("series not found")

// Listing identifies one tradable instrument in the universe.
type Listing struct {
	Symbol string `json:"symbol" csv:"symbol"`
	Name   string `json:"name"`
	Sector string `json:"sector"`
}

// Provider supplies daily price history for a universe of symbols.
type Provider interface {
	// LoadSeries returns the full daily history for one symbol, oldest
	// first. Missing symbols return ErrSeriesNotFound.
	LoadSeries(ctx context.Context, symbol string) (market.Series, error)

	// BenchmarkSeries returns history for the index used as the relative
	// strength baseline.
	BenchmarkSeries(ctx context.Context) (market.Series, error)

	// ListUniverse enumerates symbols eligible for scanning.
	ListUniverse(ctx context.Context) ([]Listing, error)
}
