package rs

import (
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/vcplab/vcptrader/internal/market"
)

// Momentum windows in trading days and their weights. The most recent quarter
// carries double weight.
var (
	periods = []int{63, 126, 189, 252}
	weights = []float64{2, 1, 1, 1}
)

const minHistoryBars = 252

// Rank is the relative-strength result for one symbol.
type Rank struct {
	Symbol     string  `json:"symbol"`
	RawScore   float64 `json:"raw_score"`
	Percentile int     `json:"percentile"`
	Perf63     float64 `json:"performance_3m"`
	Perf126    float64 `json:"performance_6m"`
	Perf189    float64 `json:"performance_9m"`
	Perf252    float64 `json:"performance_12m"`
}

// Ranker computes weighted multi-period momentum and universe percentiles.
type Ranker struct{}

// NewRanker returns a Ranker with the standard period weighting.
func NewRanker() *Ranker { return &Ranker{} }

// RawScore computes the weighted momentum for one series. Fewer than 252 bars
// yields a zero score; this is an expected non-result, not an error.
func (r *Ranker) RawScore(s market.Series) Rank {
	rank := Rank{Symbol: s.Symbol}
	if s.Len() < minHistoryBars {
		return rank
	}

	current := s.Last().Close
	perfs := make([]float64, len(periods))
	for i, days := range periods {
		past := s.Bars[s.Len()-days].Close
		if past > 0 {
			perfs[i] = (current - past) / past * 100
		}
	}
	rank.Perf63, rank.Perf126, rank.Perf189, rank.Perf252 = perfs[0], perfs[1], perfs[2], perfs[3]

	var weighted, totalWeight float64
	for i, w := range weights {
		weighted += perfs[i] * w
		totalWeight += w
	}
	rank.RawScore = weighted / totalWeight
	return rank
}

// RankUniverse computes raw scores for every symbol and assigns percentiles.
//
// Percentile uses a strict less-than comparator: 100 * |{u : raw(u) < raw(s)}|
// / |U|, rounded. Ties therefore share the same percentile and a cluster of
// equal scores (common when many symbols lack history and score zero) sits at
// the cluster's floor rather than its average rank. This matches the behavior
// the strategy was tuned against and is kept deliberately.
func (r *Ranker) RankUniverse(universe map[string]market.Series) map[string]Rank {
	ranks := make(map[string]Rank, len(universe))
	raws := make([]float64, 0, len(universe))
	for symbol, series := range universe {
		rank := r.RawScore(series)
		ranks[symbol] = rank
		raws = append(raws, rank.RawScore)
	}
	sort.Float64s(raws)

	for symbol, rank := range ranks {
		rank.Percentile = percentileOf(rank.RawScore, raws)
		ranks[symbol] = rank
	}
	log.Debug().Int("symbols", len(ranks)).Msg("rs ratings computed")
	return ranks
}

// percentileOf returns the strict-less percentile of raw within the sorted
// universe of raw scores.
func percentileOf(raw float64, sortedRaws []float64) int {
	if len(sortedRaws) == 0 {
		return 0
	}
	below := sort.SearchFloat64s(sortedRaws, raw)
	return int(math.Round(float64(below) / float64(len(sortedRaws)) * 100))
}

// RatingVsBenchmark maps a symbol's weighted momentum relative to a benchmark
// into a 0-100 rating: 50 for matching the benchmark, one point per
// percentage point of weighted out/under-performance, clamped.
func (r *Ranker) RatingVsBenchmark(stock, benchmark market.Series) int {
	diff := r.RawScore(stock).RawScore - r.RawScore(benchmark).RawScore
	rating := int(math.Round(50 + diff))
	if rating < 0 {
		rating = 0
	}
	if rating > 100 {
		rating = 100
	}
	return rating
}

// TopRanked returns symbols with percentile >= minPercentile, best first,
// capped at n when n > 0. Ordering is deterministic: percentile then raw
// score descending, then symbol.
func (r *Ranker) TopRanked(universe map[string]market.Series, minPercentile, n int) []Rank {
	ranks := r.RankUniverse(universe)
	out := make([]Rank, 0, len(ranks))
	for _, rank := range ranks {
		if rank.Percentile >= minPercentile {
			out = append(out, rank)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Percentile != out[j].Percentile {
			return out[i].Percentile > out[j].Percentile
		}
		if out[i].RawScore != out[j].RawScore {
			return out[i].RawScore > out[j].RawScore
		}
		return out[i].Symbol < out[j].Symbol
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// RelativePerformance returns the stock's window return minus the benchmark's
// window return, in percent, over the trailing window ending at each series'
// last bar. Returns 0 when either series is too short.
func RelativePerformance(stock, benchmark market.Series, window int) float64 {
	perf := func(s market.Series) (float64, bool) {
		if s.Len() <= window {
			return 0, false
		}
		past := s.Bars[s.Len()-1-window].Close
		if past <= 0 {
			return 0, false
		}
		return (s.Last().Close - past) / past * 100, true
	}
	sp, ok1 := perf(stock)
	bp, ok2 := perf(benchmark)
	if !ok1 || !ok2 {
		return 0
	}
	return sp - bp
}
