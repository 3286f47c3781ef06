package rs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vcplab/vcptrader/internal/market"
)

func day(n int) time.Time {
	return time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func linearSeries(symbol string, n int, start, end float64) market.Series {
	bars := make([]market.Bar, n)
	for i := range bars {
		c := start + (end-start)*float64(i)/float64(n-1)
		bars[i] = market.Bar{Date: day(i), Open: c, High: c, Low: c, Close: c, Volume: 1e6}
	}
	return market.Series{Symbol: symbol, Bars: bars}
}

func TestRawScore_WeightedMomentum(t *testing.T) {
	r := NewRanker()

	// Flat at 100 with a 10% jump inside the most recent quarter: every
	// window's reference close is still the pre-jump 100.
	bars := make([]market.Bar, 300)
	for i := range bars {
		c := 100.0
		if i >= 300-62 { // close 63 bars ago is the last pre-jump bar
			c = 110.0
		}
		bars[i] = market.Bar{Date: day(i), Close: c, High: c, Low: c}
	}
	rank := r.RawScore(market.Series{Symbol: "JMP", Bars: bars})

	assert.InDelta(t, 10.0, rank.Perf63, 1e-9)
	assert.InDelta(t, 10.0, rank.Perf126, 1e-9)
	assert.InDelta(t, 10.0, rank.Perf189, 1e-9)
	assert.InDelta(t, 10.0, rank.Perf252, 1e-9)
	// All windows land on pre/post-jump closes of 100 vs 110.
	assert.InDelta(t, 10.0, rank.RawScore, 1e-9)
}

func TestRawScore_InsufficientHistory(t *testing.T) {
	r := NewRanker()
	rank := r.RawScore(linearSeries("SHORT", 251, 100, 200))
	assert.Equal(t, 0.0, rank.RawScore)
}

func TestRankUniverse_PercentileProperties(t *testing.T) {
	r := NewRanker()
	universe := map[string]market.Series{
		"STRONG": linearSeries("STRONG", 300, 50, 150),
		"MID":    linearSeries("MID", 300, 90, 110),
		"WEAK":   linearSeries("WEAK", 300, 150, 50),
		"SHORT":  linearSeries("SHORT", 100, 50, 150),
	}

	ranks := r.RankUniverse(universe)
	require.Len(t, ranks, 4)

	for symbol, rank := range ranks {
		assert.GreaterOrEqual(t, rank.Percentile, 0, symbol)
		assert.LessOrEqual(t, rank.Percentile, 100, symbol)
	}

	// Strictly higher raw score implies percentile >= any lower raw score.
	assert.Greater(t, ranks["STRONG"].RawScore, ranks["MID"].RawScore)
	assert.GreaterOrEqual(t, ranks["STRONG"].Percentile, ranks["MID"].Percentile)
	assert.Greater(t, ranks["MID"].Percentile, ranks["WEAK"].Percentile)

	// Three of four symbols score below STRONG: strict-less percentile 75.
	assert.Equal(t, 75, ranks["STRONG"].Percentile)
}

func TestRankUniverse_TiesShareFloorPercentile(t *testing.T) {
	r := NewRanker()
	universe := map[string]market.Series{
		"Z1":     linearSeries("Z1", 10, 100, 100),
		"Z2":     linearSeries("Z2", 10, 100, 100),
		"Z3":     linearSeries("Z3", 10, 100, 100),
		"STRONG": linearSeries("STRONG", 300, 50, 150),
	}
	ranks := r.RankUniverse(universe)

	// All short-history symbols share raw 0 and the same floor percentile.
	assert.Equal(t, ranks["Z1"].Percentile, ranks["Z2"].Percentile)
	assert.Equal(t, ranks["Z2"].Percentile, ranks["Z3"].Percentile)
	assert.Equal(t, 0, ranks["Z1"].Percentile)
	assert.Equal(t, 75, ranks["STRONG"].Percentile)
}

func TestRatingVsBenchmark(t *testing.T) {
	r := NewRanker()
	strong := linearSeries("STRONG", 300, 50, 150)
	flat := linearSeries("BENCH", 300, 100, 100)

	rating := r.RatingVsBenchmark(strong, flat)
	assert.Greater(t, rating, 70, "strong outperformer should rate well above 50")
	assert.LessOrEqual(t, rating, 100)

	assert.Equal(t, 50, r.RatingVsBenchmark(flat, flat))

	weak := linearSeries("WEAK", 300, 150, 50)
	assert.Less(t, r.RatingVsBenchmark(weak, flat), 50)
}

func TestTopRanked(t *testing.T) {
	r := NewRanker()
	universe := map[string]market.Series{
		"A": linearSeries("A", 300, 50, 150),
		"B": linearSeries("B", 300, 80, 120),
		"C": linearSeries("C", 300, 150, 50),
	}

	top := r.TopRanked(universe, 50, 0)
	require.NotEmpty(t, top)
	assert.Equal(t, "A", top[0].Symbol)
	for i := 1; i < len(top); i++ {
		assert.GreaterOrEqual(t, top[i-1].Percentile, top[i].Percentile)
	}

	capped := r.TopRanked(universe, 0, 1)
	assert.Len(t, capped, 1)
}

func TestRelativePerformance(t *testing.T) {
	stock := linearSeries("S", 100, 100, 120)
	bench := linearSeries("B", 100, 100, 110)

	rel := RelativePerformance(stock, bench, 50)
	assert.Greater(t, rel, 0.0)

	assert.Equal(t, 0.0, RelativePerformance(stock, linearSeries("B", 10, 100, 100), 50))
}
