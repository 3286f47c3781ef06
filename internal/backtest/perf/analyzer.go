package perf

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/vcplab/vcptrader/internal/backtest"
)

// Annualization constants for daily equity data.
const (
	tradingDaysPerYear = 252
	riskFreeRatePct    = 3.0
)

// TradeStats summarizes closed trades.
type TradeStats struct {
	Total           int     `json:"total"`
	Wins            int     `json:"wins"`
	Losses          int     `json:"losses"`
	WinRatePct      float64 `json:"win_rate_pct"`
	AvgWinPct       float64 `json:"avg_win_pct"`
	AvgLossPct      float64 `json:"avg_loss_pct"`
	ExpectancyPct   float64 `json:"expectancy_pct"`
	ProfitFactor    float64 `json:"profit_factor"`
	BestTradePct    float64 `json:"best_trade_pct"`
	WorstTradePct   float64 `json:"worst_trade_pct"`
	AvgHoldDays     float64 `json:"avg_hold_days"`
	MaxWinStreak    int     `json:"max_win_streak"`
	MaxLossStreak   int     `json:"max_loss_streak"`
	TotalCommission float64 `json:"total_commission"`
}

// PeriodReturn is one calendar bucket of portfolio return.
type PeriodReturn struct {
	Label     string  `json:"label"`
	ReturnPct float64 `json:"return_pct"`
}

// Report is the full performance summary of one run.
type Report struct {
	TotalReturnPct float64        `json:"total_return_pct"`
	CAGRPct        float64        `json:"cagr_pct"`
	MaxDrawdownPct float64        `json:"max_drawdown_pct"`
	VolatilityPct  float64        `json:"volatility_pct"`
	Sharpe         float64        `json:"sharpe"`
	Sortino        float64        `json:"sortino"`
	Calmar         float64        `json:"calmar"`
	Trades         TradeStats     `json:"trades"`
	Monthly        []PeriodReturn `json:"monthly"`
	Yearly         []PeriodReturn `json:"yearly"`
}

// Analyzer derives risk and return statistics from a simulation result.
type Analyzer struct {
	result *backtest.Result
}

// NewAnalyzer wraps a finished run. The result needs at least two snapshots.
func NewAnalyzer(result *backtest.Result) (*Analyzer, error) {
	if result == nil || len(result.Snapshots) < 2 {
		return nil, fmt.Errorf("perf: result needs at least two snapshots")
	}
	if result.InitialCapital <= 0 {
		return nil, fmt.Errorf("perf: initial capital must be positive")
	}
	return &Analyzer{result: result}, nil
}

// Analyze computes the full report.
func (a *Analyzer) Analyze() Report {
	returns := a.DailyReturns()
	cagr := a.cagr()
	maxDD := a.MaxDrawdown()
	vol := annualizedVolatility(returns)

	rep := Report{
		TotalReturnPct: a.totalReturn(),
		CAGRPct:        cagr,
		MaxDrawdownPct: maxDD,
		VolatilityPct:  vol,
		Trades:         a.tradeStats(),
		Monthly:        a.periodReturns(monthLabel),
		Yearly:         a.periodReturns(yearLabel),
	}
	if vol > 0 {
		rep.Sharpe = (cagr - riskFreeRatePct) / vol
	}
	if dd := downsideDeviation(returns); dd > 0 {
		rep.Sortino = (cagr - riskFreeRatePct) / dd
	}
	if maxDD > 0 {
		rep.Calmar = cagr / maxDD
	}
	return rep
}

// EquityCurve returns the daily total values.
func (a *Analyzer) EquityCurve() []float64 {
	curve := make([]float64, len(a.result.Snapshots))
	for i, snap := range a.result.Snapshots {
		curve[i] = snap.TotalValue
	}
	return curve
}

// DailyReturns returns simple day-over-day returns in percent.
func (a *Analyzer) DailyReturns() []float64 {
	curve := a.EquityCurve()
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		if curve[i-1] == 0 {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, (curve[i]-curve[i-1])/curve[i-1]*100)
	}
	return returns
}

// DrawdownSeries returns percent drawdown from the running peak per day.
func (a *Analyzer) DrawdownSeries() []float64 {
	curve := a.EquityCurve()
	out := make([]float64, len(curve))
	peak := curve[0]
	for i, v := range curve {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			out[i] = (peak - v) / peak * 100
		}
	}
	return out
}

// MaxDrawdown returns the deepest peak-to-trough loss in percent.
func (a *Analyzer) MaxDrawdown() float64 {
	var worst float64
	for _, dd := range a.DrawdownSeries() {
		if dd > worst {
			worst = dd
		}
	}
	return worst
}

func (a *Analyzer) totalReturn() float64 {
	final := a.result.Snapshots[len(a.result.Snapshots)-1].TotalValue
	return (final - a.result.InitialCapital) / a.result.InitialCapital * 100
}

func (a *Analyzer) cagr() float64 {
	snaps := a.result.Snapshots
	days := snaps[len(snaps)-1].Date.Sub(snaps[0].Date).Hours() / 24
	if days < 1 {
		days = 1
	}
	final := snaps[len(snaps)-1].TotalValue
	if final <= 0 {
		return -100
	}
	years := days / 365.25
	return (math.Pow(final/a.result.InitialCapital, 1/years) - 1) * 100
}

func (a *Analyzer) tradeStats() TradeStats {
	stats := TradeStats{Total: len(a.result.Trades)}
	if stats.Total == 0 {
		return stats
	}

	var winSum, lossSum, grossWin, grossLoss, holdSum float64
	var winStreak, lossStreak int
	stats.BestTradePct = a.result.Trades[0].ProfitPct
	stats.WorstTradePct = a.result.Trades[0].ProfitPct

	for _, tr := range a.result.Trades {
		holdSum += float64(tr.HoldDays)
		stats.TotalCommission += tr.Commission
		if tr.ProfitPct > stats.BestTradePct {
			stats.BestTradePct = tr.ProfitPct
		}
		if tr.ProfitPct < stats.WorstTradePct {
			stats.WorstTradePct = tr.ProfitPct
		}

		if tr.ProfitAbs > 0 {
			stats.Wins++
			winSum += tr.ProfitPct
			grossWin += tr.ProfitAbs
			winStreak++
			lossStreak = 0
		} else {
			stats.Losses++
			lossSum += tr.ProfitPct
			grossLoss += -tr.ProfitAbs
			lossStreak++
			winStreak = 0
		}
		if winStreak > stats.MaxWinStreak {
			stats.MaxWinStreak = winStreak
		}
		if lossStreak > stats.MaxLossStreak {
			stats.MaxLossStreak = lossStreak
		}
	}

	stats.WinRatePct = float64(stats.Wins) / float64(stats.Total) * 100
	stats.AvgHoldDays = holdSum / float64(stats.Total)
	if stats.Wins > 0 {
		stats.AvgWinPct = winSum / float64(stats.Wins)
	}
	if stats.Losses > 0 {
		stats.AvgLossPct = lossSum / float64(stats.Losses)
	}
	if grossLoss > 0 {
		stats.ProfitFactor = grossWin / grossLoss
	} else if grossWin > 0 {
		stats.ProfitFactor = math.Inf(1)
	}
	winRate := stats.WinRatePct / 100
	stats.ExpectancyPct = winRate*stats.AvgWinPct + (1-winRate)*stats.AvgLossPct
	return stats
}

// periodReturns buckets equity by a calendar label and measures each
// bucket's first-to-last change.
func (a *Analyzer) periodReturns(label func(time.Time) string) []PeriodReturn {
	type bucket struct {
		first, last float64
	}
	buckets := map[string]*bucket{}
	var order []string

	prev := a.result.InitialCapital
	for _, snap := range a.result.Snapshots {
		key := label(snap.Date)
		b, ok := buckets[key]
		if !ok {
			b = &bucket{first: prev}
			buckets[key] = b
			order = append(order, key)
		}
		b.last = snap.TotalValue
		prev = snap.TotalValue
	}
	sort.Strings(order)

	out := make([]PeriodReturn, 0, len(order))
	for _, key := range order {
		b := buckets[key]
		ret := 0.0
		if b.first > 0 {
			ret = (b.last - b.first) / b.first * 100
		}
		out = append(out, PeriodReturn{Label: key, ReturnPct: ret})
	}
	return out
}

func monthLabel(t time.Time) string { return t.Format("2006-01") }
func yearLabel(t time.Time) string  { return t.Format("2006") }

func annualizedVolatility(returns []float64) float64 {
	sd := stddev(returns)
	return sd * math.Sqrt(tradingDaysPerYear)
}

func downsideDeviation(returns []float64) float64 {
	if len(returns) == 0 {
		return 0
	}
	var sumSq float64
	for _, r := range returns {
		if r < 0 {
			sumSq += r * r
		}
	}
	return math.Sqrt(sumSq/float64(len(returns))) * math.Sqrt(tradingDaysPerYear)
}

func stddev(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	mean := sum / float64(len(vals))
	var sq float64
	for _, v := range vals {
		d := v - mean
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(vals)-1))
}
