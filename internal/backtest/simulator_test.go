package backtest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vcplab/vcptrader/internal/alerts"
	"github.com/vcplab/vcptrader/internal/data"
	"github.com/vcplab/vcptrader/internal/market"
	"github.com/vcplab/vcptrader/internal/patterns/trend"
	"github.com/vcplab/vcptrader/internal/patterns/vcp"
	"github.com/vcplab/vcptrader/internal/trading/risk"
	"github.com/vcplab/vcptrader/internal/trading/stops"
)

func day(n int) time.Time {
	return time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

func bar(n int, price, volume float64) market.Bar {
	return market.Bar{Date: day(n), Open: price, High: price, Low: price, Close: price, Volume: volume}
}

func ramp(bars []market.Bar, from, to float64, steps int, volume float64) []market.Bar {
	for i := 1; i <= steps; i++ {
		price := from + (to-from)*float64(i)/float64(steps)
		bars = append(bars, bar(len(bars), price, volume))
	}
	return bars
}

// setupSeries builds a long advance into a three-swing contraction base that
// satisfies both the trend template and pattern detection near the end.
// extra closes extend the series past the base.
func setupSeries(symbol string, extra ...float64) market.Series {
	var bars []market.Bar
	for i := 0; i < 60; i++ {
		bars = append(bars, bar(len(bars), 40, 2_000_000))
	}
	bars = ramp(bars, 40, 99, 165, 2_000_000)
	bars = append(bars, bar(len(bars), 100, 2_000_000)) // peak

	bars = ramp(bars, 100, 80, 7, 2_000_000)
	bars = ramp(bars, 80, 95, 7, 2_000_000)
	bars = ramp(bars, 95, 76, 10, 1_200_000)
	bars = ramp(bars, 76, 94, 10, 1_200_000)
	bars = ramp(bars, 94, 82.72, 10, 800_000)
	bars = ramp(bars, 82.72, 93, 10, 800_000)
	bars = ramp(bars, 93, 87.42, 10, 400_000)
	bars = ramp(bars, 87.42, 92, 10, 400_000)
	bars = ramp(bars, 92, 91, 10, 400_000)

	for _, px := range extra {
		bars = append(bars, bar(len(bars), px, 400_000))
	}
	return market.Series{Symbol: symbol, Bars: bars}
}

func flatSeries(symbol string, n int, price float64) market.Series {
	var bars []market.Bar
	for i := 0; i < n; i++ {
		bars = append(bars, bar(i, price, 1_000_000))
	}
	return market.Series{Symbol: symbol, Bars: bars}
}

type fakeProvider struct {
	series   map[string]market.Series
	bench    market.Series
	listings []data.Listing
}

func (f *fakeProvider) LoadSeries(_ context.Context, symbol string) (market.Series, error) {
	s, ok := f.series[symbol]
	if !ok {
		return market.Series{}, data.ErrSeriesNotFound
	}
	return s, nil
}

func (f *fakeProvider) BenchmarkSeries(context.Context) (market.Series, error) {
	return f.bench, nil
}

func (f *fakeProvider) ListUniverse(context.Context) ([]data.Listing, error) {
	return f.listings, nil
}

func newTestSimulator(t *testing.T, cfg Config, provider data.Provider) *Simulator {
	t.Helper()
	tf, err := trend.NewFilter(trend.DefaultConfig())
	require.NoError(t, err)
	det, err := vcp.NewDetector(vcp.DefaultConfig())
	require.NoError(t, err)
	sizer, err := risk.NewSizer(risk.DefaultConfig())
	require.NoError(t, err)
	eng, err := stops.NewEngine(stops.DefaultConfig())
	require.NoError(t, err)

	sim, err := NewSimulator(cfg, Deps{
		Provider: provider,
		Trend:    tf,
		Detector: det,
		Sizer:    sizer,
		Stops:    eng,
	})
	require.NoError(t, err)
	return sim
}

func windowConfig(startDay, endDay int, workers int) Config {
	return Config{
		StartDate:      day(startDay),
		EndDate:        day(endDay),
		InitialCapital: 100_000_000,
		CommissionPct:  0.015,
		SlippagePct:    0.1,
		ScanWorkers:    workers,
	}
}

func TestRun_EntryAndFinalLiquidation(t *testing.T) {
	stock := setupSeries("005930")
	n := stock.Len() // 310 bars, days 0..309
	provider := &fakeProvider{
		series:   map[string]market.Series{"005930": stock},
		bench:    flatSeries("KOSPI", n, 100),
		listings: []data.Listing{{Symbol: "005930", Sector: "semis"}},
	}

	sim := newTestSimulator(t, windowConfig(n-5, n-1, 4), provider)
	result, err := sim.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 5, result.DaysSimulated)
	require.Len(t, result.Snapshots, 5)
	require.Len(t, result.Trades, 1)

	trade := result.Trades[0]
	assert.Equal(t, "005930", trade.Symbol)
	assert.Equal(t, ExitReasonFinal, trade.ExitReason)
	assert.NotEmpty(t, trade.ID)
	assert.Positive(t, trade.Quantity)

	// Entry fills at the first scan day's close plus slippage.
	entryBar, ok := stock.BarOn(day(n - 5))
	require.True(t, ok)
	assert.InDelta(t, entryBar.Close*1.001, trade.EntryPrice, 1e-6)
	assert.Equal(t, day(n-5), trade.EntryDate)

	final := result.Snapshots[len(result.Snapshots)-1]
	assert.Zero(t, final.OpenPositions)
	assert.InDelta(t, final.TotalValue, result.FinalValue, 1e-6)
	assert.Greater(t, result.FinalValue, result.InitialCapital*0.97)

	// Daily pnl chains snapshot to snapshot and sums to the run's total.
	assert.InDelta(t, result.Snapshots[0].TotalValue-result.InitialCapital,
		result.Snapshots[0].DailyPnL, 1e-6)
	var pnlSum float64
	for i, snap := range result.Snapshots {
		if i > 0 {
			assert.InDelta(t, snap.TotalValue-result.Snapshots[i-1].TotalValue,
				snap.DailyPnL, 1e-6)
		}
		pnlSum += snap.DailyPnL
	}
	assert.InDelta(t, result.FinalValue-result.InitialCapital, pnlSum, 1e-6)
}

func TestRun_StopLossExitAtStopPrice(t *testing.T) {
	// Two crash days after the base force the initial stop.
	stock := setupSeries("005930", 70, 70)
	n := stock.Len()
	provider := &fakeProvider{
		series:   map[string]market.Series{"005930": stock},
		bench:    flatSeries("KOSPI", n, 100),
		listings: []data.Listing{{Symbol: "005930", Sector: "semis"}},
	}

	sim := newTestSimulator(t, windowConfig(n-7, n-1, 4), provider)
	result, err := sim.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, result.Trades, 1)
	trade := result.Trades[0]
	assert.Equal(t, stops.ReasonStopLoss, trade.ExitReason)
	assert.Equal(t, day(n-2), trade.ExitDate)

	// The fill is the stop less exit slippage, not the crash close.
	assert.InDelta(t, trade.EntryPrice*0.93*0.999, trade.ExitPrice, 1e-6)
	assert.Negative(t, trade.ProfitPct)
}

func TestRun_IntradayBreachExitsOnDayLow(t *testing.T) {
	// The last day dips through the stop intraday and closes back above it.
	stock := setupSeries("005930", 90, 90)
	n := stock.Len()
	stock.Bars[n-1].Low = 78
	provider := &fakeProvider{
		series:   map[string]market.Series{"005930": stock},
		bench:    flatSeries("KOSPI", n, 100),
		listings: []data.Listing{{Symbol: "005930", Sector: "semis"}},
	}

	sim := newTestSimulator(t, windowConfig(n-7, n-1, 4), provider)
	result, err := sim.Run(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, result.Trades)
	trade := result.Trades[0]
	assert.Equal(t, stops.ReasonStopLoss, trade.ExitReason)
	assert.Equal(t, day(n-1), trade.ExitDate)
	assert.InDelta(t, trade.EntryPrice*0.93*0.999, trade.ExitPrice, 1e-6)
}

func TestRun_DeterministicAcrossWorkerCounts(t *testing.T) {
	run := func(workers int) *Result {
		stock := setupSeries("005930")
		other := setupSeries("000660")
		n := stock.Len()
		provider := &fakeProvider{
			series: map[string]market.Series{
				"005930": stock,
				"000660": other,
			},
			bench: flatSeries("KOSPI", n, 100),
			listings: []data.Listing{
				{Symbol: "005930", Sector: "semis"},
				{Symbol: "000660", Sector: "semis"},
			},
		}
		sim := newTestSimulator(t, windowConfig(n-5, n-1, workers), provider)
		result, err := sim.Run(context.Background())
		require.NoError(t, err)
		return result
	}

	a := run(1)
	b := run(8)

	require.Equal(t, len(a.Trades), len(b.Trades))
	for i := range a.Trades {
		assert.Equal(t, a.Trades[i].Symbol, b.Trades[i].Symbol)
		assert.Equal(t, a.Trades[i].Quantity, b.Trades[i].Quantity)
		assert.InDelta(t, a.Trades[i].EntryPrice, b.Trades[i].EntryPrice, 1e-9)
		assert.Equal(t, a.Trades[i].ExitReason, b.Trades[i].ExitReason)
	}
	require.Equal(t, len(a.Snapshots), len(b.Snapshots))
	for i := range a.Snapshots {
		assert.InDelta(t, a.Snapshots[i].TotalValue, b.Snapshots[i].TotalValue, 1e-6)
	}
}

func TestRun_SymbolFailuresCounted(t *testing.T) {
	stock := setupSeries("005930")
	n := stock.Len()
	provider := &fakeProvider{
		series: map[string]market.Series{"005930": stock},
		bench:  flatSeries("KOSPI", n, 100),
		listings: []data.Listing{
			{Symbol: "005930", Sector: "semis"},
			{Symbol: "MISSING"},
		},
	}

	sim := newTestSimulator(t, windowConfig(n-5, n-1, 2), provider)
	result, err := sim.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.SymbolFailures)
}

type captureNotifier struct {
	events []alerts.Event
}

func (c *captureNotifier) Notify(e alerts.Event) {
	c.events = append(c.events, e)
}

func TestRun_ScanSkippedAtPositionCap(t *testing.T) {
	stock := setupSeries("005930")
	other := setupSeries("000660")
	n := stock.Len()
	provider := &fakeProvider{
		series: map[string]market.Series{
			"005930": stock,
			"000660": other,
		},
		bench: flatSeries("KOSPI", n, 100),
		listings: []data.Listing{
			{Symbol: "005930", Sector: "semis"},
			{Symbol: "000660", Sector: "semis"},
		},
	}

	tf, err := trend.NewFilter(trend.DefaultConfig())
	require.NoError(t, err)
	det, err := vcp.NewDetector(vcp.DefaultConfig())
	require.NoError(t, err)
	riskCfg := risk.DefaultConfig()
	riskCfg.MaxPositionCount = 1
	sizer, err := risk.NewSizer(riskCfg)
	require.NoError(t, err)
	eng, err := stops.NewEngine(stops.DefaultConfig())
	require.NoError(t, err)

	notifier := &captureNotifier{}
	sim, err := NewSimulator(windowConfig(n-5, n-1, 2), Deps{
		Provider: provider,
		Trend:    tf,
		Detector: det,
		Sizer:    sizer,
		Stops:    eng,
		Notifier: notifier,
	})
	require.NoError(t, err)

	_, err = sim.Run(context.Background())
	require.NoError(t, err)

	// With the single slot filled on the first day, later days never scan,
	// so no further pattern alerts fire.
	var patternDays []time.Time
	for _, e := range notifier.events {
		if e.Type == alerts.EventPatternDetected {
			patternDays = append(patternDays, e.Timestamp)
		}
	}
	require.NotEmpty(t, patternDays)
	for _, ts := range patternDays {
		assert.Equal(t, day(n-5), ts)
	}
}

func TestRun_NoTradingDays(t *testing.T) {
	stock := setupSeries("005930")
	provider := &fakeProvider{
		series:   map[string]market.Series{"005930": stock},
		bench:    flatSeries("KOSPI", stock.Len(), 100),
		listings: []data.Listing{{Symbol: "005930"}},
	}

	cfg := windowConfig(0, 1, 2)
	cfg.StartDate = day(5000)
	cfg.EndDate = day(5001)
	sim := newTestSimulator(t, cfg, provider)

	_, err := sim.Run(context.Background())
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, windowConfig(0, 10, 2).Validate())

	cfg := windowConfig(10, 0, 2)
	assert.Error(t, cfg.Validate())

	cfg = windowConfig(0, 10, 0)
	assert.Error(t, cfg.Validate())

	cfg = windowConfig(0, 10, 2)
	cfg.InitialCapital = 0
	assert.Error(t, cfg.Validate())
}
