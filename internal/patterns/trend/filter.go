package trend

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/vcplab/vcptrader/internal/market"
)

// RSUnknown marks an absent relative-strength rating. The RS criterion fails
// until a rating is supplied.
const RSUnknown = -1

const minHistoryBars = 250

// Config holds the trend template thresholds.
type Config struct {
	MinRSRating       int     `yaml:"min_rs_rating"`        // criterion 7 threshold
	MinAbove52wLowPct float64 `yaml:"min_above_52w_low"`    // % above 52-week low
	MaxFrom52wHighPct float64 `yaml:"max_from_52w_high"`    // % below 52-week high
	MA200LookbackBars int     `yaml:"ma200_lookback_bars"`  // rising-MA200 comparison window
	BaseLookbackBars  int     `yaml:"base_lookback_bars"`   // recent-base low window
}

// DefaultConfig returns the standard eight-criterion thresholds.
func DefaultConfig() Config {
	return Config{
		MinRSRating:       70,
		MinAbove52wLowPct: 30.0,
		MaxFrom52wHighPct: 25.0,
		MA200LookbackBars: 30,
		BaseLookbackBars:  50,
	}
}

// Validate checks the configuration at construction time.
func (c Config) Validate() error {
	if c.MinRSRating < 0 || c.MinRSRating > 100 {
		return fmt.Errorf("trend config: min_rs_rating %d outside [0,100]", c.MinRSRating)
	}
	if c.MinAbove52wLowPct < 0 {
		return fmt.Errorf("trend config: min_above_52w_low %.1f is negative", c.MinAbove52wLowPct)
	}
	if c.MaxFrom52wHighPct <= 0 {
		return fmt.Errorf("trend config: max_from_52w_high %.1f must be positive", c.MaxFrom52wHighPct)
	}
	if c.MA200LookbackBars <= 0 || c.BaseLookbackBars <= 0 {
		return fmt.Errorf("trend config: lookback windows must be positive")
	}
	return nil
}

// Score is the trend template evaluation for one symbol. Passes holds exactly
// when all eight criteria hold (Score == 8).
type Score struct {
	Symbol   string `json:"symbol"`
	Passes   bool   `json:"passes"`
	Score    int    `json:"score"`
	RSRating int    `json:"rs_rating"`

	PriceAbove150MA bool `json:"price_above_150ma"`
	PriceAbove50MA  bool `json:"price_above_50ma"`
	MAAligned       bool `json:"ma_alignment"`
	MA200Rising     bool `json:"ma200_rising"`
	Above52wLow     bool `json:"above_52w_low"`
	Within52wHigh   bool `json:"within_52w_high"`
	RSAboveMin      bool `json:"rs_above_threshold"`
	AboveBase       bool `json:"above_base"`

	CurrentPrice   float64 `json:"current_price"`
	SMA50          float64 `json:"sma_50"`
	SMA150         float64 `json:"sma_150"`
	SMA200         float64 `json:"sma_200"`
	Week52High     float64 `json:"week_52_high"`
	Week52Low      float64 `json:"week_52_low"`
	PctFrom52wHigh float64 `json:"pct_from_52w_high"`
	PctFrom52wLow  float64 `json:"pct_from_52w_low"`
}

// Filter evaluates the eight-criterion trend template over a price series.
type Filter struct {
	cfg Config
}

// NewFilter builds a Filter, rejecting invalid thresholds.
func NewFilter(cfg Config) (*Filter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Filter{cfg: cfg}, nil
}

// Analyze scores one series. Fewer than 250 bars yields score 0 and
// passes=false rather than an error. rsRating may be RSUnknown.
func (f *Filter) Analyze(s market.Series, rsRating int) Score {
	if s.Len() < minHistoryBars {
		return Score{Symbol: s.Symbol, RSRating: rsRating}
	}

	last := s.Len() - 1
	price := s.Last().Close
	sma50 := s.SMA(50)
	sma150 := s.SMA(150)
	sma200 := s.SMA(200)

	week52High := s.HighestHigh(252)
	week52Low := s.LowestLow(252)
	pctFromHigh := (price - week52High) / week52High * 100
	pctFromLow := (price - week52Low) / week52Low * 100

	ma200Prior := s.SMAEndingAt(200, last-f.cfg.MA200LookbackBars)
	baseLow := s.LowestLow(f.cfg.BaseLookbackBars)

	sc := Score{
		Symbol:         s.Symbol,
		RSRating:       rsRating,
		CurrentPrice:   price,
		SMA50:          sma50,
		SMA150:         sma150,
		SMA200:         sma200,
		Week52High:     week52High,
		Week52Low:      week52Low,
		PctFrom52wHigh: pctFromHigh,
		PctFrom52wLow:  pctFromLow,
	}

	sc.PriceAbove150MA = sma150 > 0 && sma200 > 0 && price > sma150 && sma150 > sma200
	sc.PriceAbove50MA = sma50 > 0 && price > sma50
	sc.MAAligned = sma50 > 0 && sma150 > 0 && sma200 > 0 && sma50 > sma150 && sma150 > sma200
	sc.MA200Rising = sma200 > 0 && ma200Prior > 0 && sma200 > ma200Prior
	sc.Above52wLow = pctFromLow >= f.cfg.MinAbove52wLowPct
	sc.Within52wHigh = abs(pctFromHigh) <= f.cfg.MaxFrom52wHighPct
	sc.RSAboveMin = rsRating != RSUnknown && rsRating >= f.cfg.MinRSRating
	sc.AboveBase = price > baseLow

	for _, c := range []bool{
		sc.PriceAbove150MA, sc.PriceAbove50MA, sc.MAAligned, sc.MA200Rising,
		sc.Above52wLow, sc.Within52wHigh, sc.RSAboveMin, sc.AboveBase,
	} {
		if c {
			sc.Score++
		}
	}
	sc.Passes = sc.Score == 8

	log.Debug().Str("symbol", s.Symbol).Int("score", sc.Score).Bool("passes", sc.Passes).
		Float64("price", price).Int("rs", rsRating).Msg("trend template evaluated")

	return sc
}

// AnalyzeBatch scores a universe and returns results ordered by
// (passes, score) descending, symbol ascending for determinism.
func (f *Filter) AnalyzeBatch(universe map[string]market.Series, ratings map[string]int) []Score {
	results := make([]Score, 0, len(universe))
	for symbol, series := range universe {
		rating := RSUnknown
		if r, ok := ratings[symbol]; ok {
			rating = r
		}
		results = append(results, f.Analyze(series, rating))
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Passes != results[j].Passes {
			return results[i].Passes
		}
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Symbol < results[j].Symbol
	})
	return results
}

// PassingOnly filters a batch result down to scores >= minScore.
func PassingOnly(scores []Score, minScore int) []Score {
	out := make([]Score, 0, len(scores))
	for _, s := range scores {
		if s.Score >= minScore {
			out = append(out, s)
		}
	}
	return out
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
