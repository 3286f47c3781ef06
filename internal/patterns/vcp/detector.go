package vcp

import (
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vcplab/vcptrader/internal/market"
)

// TighteningQuality grades how tight the final contraction is.
type TighteningQuality string

const (
	TighteningExcellent TighteningQuality = "excellent"
	TighteningGood      TighteningQuality = "good"
	TighteningFair      TighteningQuality = "fair"
	TighteningPoor      TighteningQuality = "poor"
	TighteningNone      TighteningQuality = "none"
)

// Config holds contraction-pattern detection parameters.
type Config struct {
	MinContractions    int     `yaml:"min_contractions"`
	MaxContractions    int     `yaml:"max_contractions"`
	ContractionRatio   float64 `yaml:"contraction_ratio"`    // next depth <= prev depth * ratio
	MinDepthPct        float64 `yaml:"min_pattern_depth"`    // whole-base depth bounds, %
	MaxDepthPct        float64 `yaml:"max_pattern_depth"`
	VolumeDeclineRatio float64 `yaml:"volume_decline_ratio"` // dry-up threshold
	LookbackBars       int     `yaml:"lookback_bars"`
	MinBaseBars        int     `yaml:"min_base_bars"`
	SwingWindow        int     `yaml:"swing_window"`
	MinScore           int     `yaml:"min_score"` // detection threshold, owned by the caller
}

// DefaultConfig returns standard detection parameters.
func DefaultConfig() Config {
	return Config{
		MinContractions:    2,
		MaxContractions:    6,
		ContractionRatio:   0.7,
		MinDepthPct:        10.0,
		MaxDepthPct:        35.0,
		VolumeDeclineRatio: 0.7,
		LookbackBars:       120,
		MinBaseBars:        20,
		SwingWindow:        5,
		MinScore:           70,
	}
}

// Validate checks detection parameters at construction time.
func (c Config) Validate() error {
	if c.MinContractions < 2 {
		return fmt.Errorf("vcp config: min_contractions %d must be >= 2", c.MinContractions)
	}
	if c.MaxContractions < c.MinContractions {
		return fmt.Errorf("vcp config: max_contractions %d < min_contractions %d",
			c.MaxContractions, c.MinContractions)
	}
	if c.ContractionRatio <= 0 || c.ContractionRatio > 1 {
		return fmt.Errorf("vcp config: contraction_ratio %.2f outside (0,1]", c.ContractionRatio)
	}
	if c.MinDepthPct < 0 || c.MaxDepthPct <= c.MinDepthPct {
		return fmt.Errorf("vcp config: depth bounds [%.1f,%.1f] invalid", c.MinDepthPct, c.MaxDepthPct)
	}
	if c.VolumeDeclineRatio <= 0 || c.VolumeDeclineRatio > 1 {
		return fmt.Errorf("vcp config: volume_decline_ratio %.2f outside (0,1]", c.VolumeDeclineRatio)
	}
	if c.LookbackBars < c.MinBaseBars || c.MinBaseBars <= 0 {
		return fmt.Errorf("vcp config: lookback %d / min_base %d invalid", c.LookbackBars, c.MinBaseBars)
	}
	if c.SwingWindow <= 0 {
		return fmt.Errorf("vcp config: swing_window must be positive")
	}
	if c.MinScore < 0 || c.MinScore > 100 {
		return fmt.Errorf("vcp config: min_score %d outside [0,100]", c.MinScore)
	}
	return nil
}

// Contraction is a single narrowing price swing inside the base.
type Contraction struct {
	StartDate   time.Time `json:"start_date"`
	EndDate     time.Time `json:"end_date"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	DepthPct    float64   `json:"depth_pct"`
	Duration    int       `json:"duration"`
	VolumeRatio float64   `json:"volume_ratio"` // segment mean volume / window mean volume
}

// PatternResult is the outcome of one detection pass. Rejections return a
// structured result with a diagnostic Message rather than an error.
type PatternResult struct {
	Symbol            string            `json:"symbol"`
	Detected          bool              `json:"detected"`
	Score             int               `json:"score"`
	PivotPrice        float64           `json:"pivot_price"`
	BaseLow           float64           `json:"base_low"`
	PatternDepthPct   float64           `json:"pattern_depth_pct"`
	Contractions      []Contraction     `json:"contractions"`
	VolumeDryUp       bool              `json:"volume_dry_up"`
	AvgVolumeRatio    float64           `json:"avg_volume_ratio"`
	TighteningQuality TighteningQuality `json:"tightening_quality"`
	LastTight         bool              `json:"last_contraction_tight"`
	PatternStart      time.Time         `json:"pattern_start"`
	PatternEnd        time.Time         `json:"pattern_end"`
	EntryPrice        float64           `json:"entry_price"`
	StopPrice         float64           `json:"stop_price"`
	RiskReward        float64           `json:"risk_reward_ratio"`
	Message           string            `json:"message"`
}

// Detector finds volatility-contraction bases over a price window.
type Detector struct {
	cfg Config
}

// NewDetector builds a Detector, rejecting invalid parameters.
func NewDetector(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{cfg: cfg}, nil
}

// Detect runs detection over the most recent lookback window of the series.
func (d *Detector) Detect(s market.Series) PatternResult {
	if s.Len() < d.cfg.LookbackBars {
		return PatternResult{
			Symbol:            s.Symbol,
			TighteningQuality: TighteningNone,
			Message:           fmt.Sprintf("insufficient history (%d < %d bars)", s.Len(), d.cfg.LookbackBars),
		}
	}
	window := s.Tail(d.cfg.LookbackBars)

	peakIdx, baseHigh := maxHighIndex(window.Bars)
	if peakIdx >= window.Len()-d.cfg.MinBaseBars {
		return PatternResult{
			Symbol:            s.Symbol,
			TighteningQuality: TighteningNone,
			Message:           "no base: window high too close to the present",
		}
	}
	base := window.Bars[peakIdx:]

	contractions := d.findContractions(base, window.MeanVolume())
	if len(contractions) < d.cfg.MinContractions {
		return PatternResult{
			Symbol:            s.Symbol,
			Contractions:      contractions,
			TighteningQuality: TighteningNone,
			Message: fmt.Sprintf("insufficient contractions (%d < %d)",
				len(contractions), d.cfg.MinContractions),
		}
	}

	if !progressive(contractions, d.cfg.ContractionRatio) {
		return PatternResult{
			Symbol:            s.Symbol,
			Score:             15,
			Contractions:      contractions,
			TighteningQuality: TighteningNone,
			Message:           "contractions do not tighten progressively",
		}
	}

	dryUp, avgRatio := volumeDryUp(contractions, d.cfg.VolumeDeclineRatio)
	pivot := contractions[len(contractions)-1].High
	baseLow := minLow(base)
	patternDepth := (baseHigh - baseLow) / baseHigh * 100

	if patternDepth > d.cfg.MaxDepthPct {
		return PatternResult{
			Symbol:            s.Symbol,
			Score:             25,
			PivotPrice:        pivot,
			BaseLow:           baseLow,
			PatternDepthPct:   patternDepth,
			Contractions:      contractions,
			TighteningQuality: TighteningNone,
			Message: fmt.Sprintf("base too deep (%.1f%% > %.1f%%)",
				patternDepth, d.cfg.MaxDepthPct),
		}
	}
	if patternDepth < d.cfg.MinDepthPct {
		return PatternResult{
			Symbol:            s.Symbol,
			Score:             20,
			PivotPrice:        pivot,
			BaseLow:           baseLow,
			PatternDepthPct:   patternDepth,
			Contractions:      contractions,
			TighteningQuality: TighteningNone,
			Message: fmt.Sprintf("base too shallow (%.1f%% < %.1f%%)",
				patternDepth, d.cfg.MinDepthPct),
		}
	}

	quality := tighteningQuality(contractions)
	lastDepth := contractions[len(contractions)-1].DepthPct
	lastTight := lastDepth <= 5.0

	score := d.score(contractions, patternDepth, dryUp, quality, lastTight)
	detected := score >= d.cfg.MinScore

	entry := pivot * 1.01
	stop := baseLow * 0.98
	potentialGain := (pivot*1.20 - entry) / entry * 100
	potentialLoss := (entry - stop) / entry * 100
	riskReward := 0.0
	if potentialLoss > 0 {
		riskReward = potentialGain / potentialLoss
	}

	message := fmt.Sprintf("pattern confirmed, score %d/100", score)
	if !detected {
		message = fmt.Sprintf("pattern below threshold, score %d/100", score)
	}

	result := PatternResult{
		Symbol:            s.Symbol,
		Detected:          detected,
		Score:             score,
		PivotPrice:        pivot,
		BaseLow:           baseLow,
		PatternDepthPct:   patternDepth,
		Contractions:      contractions,
		VolumeDryUp:       dryUp,
		AvgVolumeRatio:    avgRatio,
		TighteningQuality: quality,
		LastTight:         lastTight,
		PatternStart:      base[0].Date,
		PatternEnd:        base[len(base)-1].Date,
		EntryPrice:        entry,
		StopPrice:         stop,
		RiskReward:        riskReward,
		Message:           message,
	}

	log.Debug().Str("symbol", s.Symbol).Bool("detected", detected).Int("score", score).
		Int("contractions", len(contractions)).Float64("depth_pct", patternDepth).
		Float64("pivot", pivot).Msg("vcp detection")

	return result
}

// DetectBatch runs detection over a universe, returning results sorted by
// score descending (symbol ascending on ties) plus a failure count for
// series that violate the ordering invariant.
func (d *Detector) DetectBatch(universe map[string]market.Series) ([]PatternResult, int) {
	results := make([]PatternResult, 0, len(universe))
	failures := 0
	for _, series := range universe {
		if err := series.Validate(); err != nil {
			log.Warn().Str("symbol", series.Symbol).Err(err).Msg("vcp: skipping invalid series")
			failures++
			continue
		}
		results = append(results, d.Detect(series))
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Symbol < results[j].Symbol
	})
	return results, failures
}

// findContractions builds contraction segments between consecutive swing
// highs inside the base. windowMeanVolume is the mean over the whole lookback
// window, not just the base.
func (d *Detector) findContractions(base []market.Bar, windowMeanVolume float64) []Contraction {
	if len(base) < d.cfg.MinBaseBars {
		return nil
	}

	swingHighs := swingPoints(base, d.cfg.SwingWindow, true)
	swingLows := swingPoints(base, d.cfg.SwingWindow, false)
	if len(swingHighs) < 2 || len(swingLows) < 2 {
		return nil
	}

	var contractions []Contraction
	for i := 0; i+1 < len(swingHighs); i++ {
		start, end := swingHighs[i], swingHighs[i+1]
		segment := base[start : end+1]
		if len(segment) < 3 {
			continue
		}

		high := segment[0].High
		low := segment[0].Low
		var segVolume float64
		for _, b := range segment {
			if b.High > high {
				high = b.High
			}
			if b.Low < low {
				low = b.Low
			}
			segVolume += b.Volume
		}
		segVolume /= float64(len(segment))

		volumeRatio := 1.0
		if windowMeanVolume > 0 {
			volumeRatio = segVolume / windowMeanVolume
		}

		contractions = append(contractions, Contraction{
			StartDate:   segment[0].Date,
			EndDate:     segment[len(segment)-1].Date,
			High:        high,
			Low:         low,
			DepthPct:    (high - low) / high * 100,
			Duration:    len(segment),
			VolumeRatio: volumeRatio,
		})
		if len(contractions) == d.cfg.MaxContractions {
			break
		}
	}
	return contractions
}

// swingPoints returns indexes of bars that are the extreme of a symmetric
// +-window neighborhood.
func swingPoints(bars []market.Bar, window int, highs bool) []int {
	var points []int
	for i := window; i < len(bars)-window; i++ {
		extreme := true
		for j := i - window; j <= i+window; j++ {
			if j == i {
				continue
			}
			if highs && bars[j].High > bars[i].High {
				extreme = false
				break
			}
			if !highs && bars[j].Low < bars[i].Low {
				extreme = false
				break
			}
		}
		if extreme {
			points = append(points, i)
		}
	}
	return points
}

// progressive reports whether every contraction is at most ratio times the
// depth of its predecessor.
func progressive(contractions []Contraction, ratio float64) bool {
	if len(contractions) < 2 {
		return false
	}
	for i := 1; i < len(contractions); i++ {
		if contractions[i].DepthPct > contractions[i-1].DepthPct*ratio {
			return false
		}
	}
	return true
}

// volumeDryUp compares the later half of contraction volume ratios against
// the earlier half.
func volumeDryUp(contractions []Contraction, threshold float64) (bool, float64) {
	ratios := make([]float64, len(contractions))
	var sum float64
	for i, c := range contractions {
		ratios[i] = c.VolumeRatio
		sum += c.VolumeRatio
	}
	avg := sum / float64(len(ratios))

	if len(ratios) < 2 {
		return false, avg
	}
	mid := len(ratios) / 2
	firstHalf := mean(ratios[:mid+1])
	secondHalf := mean(ratios[mid:])
	return secondHalf < firstHalf*threshold, avg
}

// tighteningQuality grades the final contraction's depth.
func tighteningQuality(contractions []Contraction) TighteningQuality {
	if len(contractions) == 0 {
		return TighteningNone
	}
	last := contractions[len(contractions)-1].DepthPct
	switch {
	case last <= 3:
		return TighteningExcellent
	case last <= 5:
		return TighteningGood
	case last <= 8:
		return TighteningFair
	default:
		return TighteningPoor
	}
}

// score composes the 0-100 pattern score.
func (d *Detector) score(contractions []Contraction, patternDepth float64, dryUp bool,
	quality TighteningQuality, lastTight bool) int {

	score := 0

	switch n := len(contractions); {
	case n >= 4:
		score += 25
	case n >= 3:
		score += 20
	case n >= 2:
		score += 15
	}

	switch {
	case patternDepth >= 15 && patternDepth <= 25:
		score += 20
	case patternDepth >= 10 && patternDepth <= 30:
		score += 15
	case patternDepth <= 35:
		score += 10
	}

	switch quality {
	case TighteningExcellent:
		score += 25
	case TighteningGood:
		score += 20
	case TighteningFair:
		score += 15
	case TighteningPoor:
		score += 5
	}

	if dryUp {
		score += 15
	}

	if lastTight {
		score += 15
	} else if len(contractions) > 0 && contractions[len(contractions)-1].DepthPct <= 8 {
		score += 10
	}

	if score > 100 {
		score = 100
	}
	return score
}

func maxHighIndex(bars []market.Bar) (int, float64) {
	idx, high := 0, bars[0].High
	for i, b := range bars {
		if b.High > high {
			idx, high = i, b.High
		}
	}
	return idx, high
}

func minLow(bars []market.Bar) float64 {
	low := bars[0].Low
	for _, b := range bars {
		if b.Low < low {
			low = b.Low
		}
	}
	return low
}

func mean(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range vals {
		sum += v
	}
	return sum / float64(len(vals))
}
