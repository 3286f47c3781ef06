package backtest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vcplab/vcptrader/internal/alerts"
	"github.com/vcplab/vcptrader/internal/data"
	"github.com/vcplab/vcptrader/internal/market"
	"github.com/vcplab/vcptrader/internal/metrics"
	"github.com/vcplab/vcptrader/internal/patterns/rs"
	"github.com/vcplab/vcptrader/internal/patterns/trend"
	"github.com/vcplab/vcptrader/internal/patterns/vcp"
	"github.com/vcplab/vcptrader/internal/trading/risk"
	"github.com/vcplab/vcptrader/internal/trading/stops"
)

// ErrInvariantViolation reports a stop evaluation that would weaken a
// position's persisted state, such as a trailing level moving back down.
var ErrInvariantViolation = errors.New("stop invariant violated")

// ExitReasonFinal marks positions liquidated when the simulation window ends.
const ExitReasonFinal = "backtest_end"

// Config holds simulation parameters. Percentages are whole numbers.
type Config struct {
	StartDate      time.Time `yaml:"start_date"`
	EndDate        time.Time `yaml:"end_date"`
	InitialCapital float64   `yaml:"initial_capital"`
	CommissionPct  float64   `yaml:"commission_pct"`
	SlippagePct    float64   `yaml:"slippage_pct"`
	ScanWorkers    int       `yaml:"scan_workers"`
}

// DefaultConfig returns standard simulation parameters for a one-year run
// ending today.
func DefaultConfig() Config {
	end := time.Now().UTC().Truncate(24 * time.Hour)
	return Config{
		StartDate:      end.AddDate(-1, 0, 0),
		EndDate:        end,
		InitialCapital: 100_000_000,
		CommissionPct:  0.015,
		SlippagePct:    0.1,
		ScanWorkers:    4,
	}
}

// Validate checks simulation parameters.
func (c Config) Validate() error {
	if !c.StartDate.Before(c.EndDate) {
		return fmt.Errorf("backtest config: start %s not before end %s",
			c.StartDate.Format("2006-01-02"), c.EndDate.Format("2006-01-02"))
	}
	if c.InitialCapital <= 0 {
		return fmt.Errorf("backtest config: initial capital must be positive")
	}
	if c.CommissionPct < 0 || c.SlippagePct < 0 {
		return fmt.Errorf("backtest config: commission and slippage must not be negative")
	}
	if c.ScanWorkers <= 0 {
		return fmt.Errorf("backtest config: scan_workers must be positive")
	}
	return nil
}

// ProgressFunc receives day-by-day simulation progress.
type ProgressFunc func(date time.Time, day, total int)

// Simulator replays the strategy over historical data. One day steps in a
// fixed order: stop maintenance on open positions, then a scan for new
// entries, then a portfolio snapshot. Runs are deterministic for a given
// input regardless of worker count.
type Simulator struct {
	cfg      Config
	provider data.Provider
	trend    *trend.Filter
	ranker   *rs.Ranker
	detector *vcp.Detector
	sizer    *risk.Sizer
	stops    *stops.Engine
	notifier alerts.Notifier
	metrics  *metrics.Set
	progress ProgressFunc
}

// Deps bundles the simulator's collaborators. Notifier, Metrics and Progress
// are optional.
type Deps struct {
	Provider data.Provider
	Trend    *trend.Filter
	Ranker   *rs.Ranker
	Detector *vcp.Detector
	Sizer    *risk.Sizer
	Stops    *stops.Engine
	Notifier alerts.Notifier
	Metrics  *metrics.Set
	Progress ProgressFunc
}

// NewSimulator builds a Simulator, rejecting incomplete dependencies.
func NewSimulator(cfg Config, deps Deps) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Provider == nil || deps.Trend == nil || deps.Detector == nil ||
		deps.Sizer == nil || deps.Stops == nil {
		return nil, fmt.Errorf("backtest: provider, trend, detector, sizer and stops are required")
	}
	if deps.Notifier == nil {
		deps.Notifier = alerts.Nop{}
	}
	if deps.Ranker == nil {
		deps.Ranker = rs.NewRanker()
	}
	return &Simulator{
		cfg:      cfg,
		provider: deps.Provider,
		trend:    deps.Trend,
		ranker:   deps.Ranker,
		detector: deps.Detector,
		sizer:    deps.Sizer,
		stops:    deps.Stops,
		notifier: deps.Notifier,
		metrics:  deps.Metrics,
		progress: deps.Progress,
	}, nil
}

// portfolio is mutable simulation state.
type portfolio struct {
	cash      float64
	positions map[string]*Position
}

func (p *portfolio) value() float64 {
	total := p.cash
	for _, pos := range p.positions {
		total += pos.MarketValue()
	}
	return total
}

func (p *portfolio) exposure() float64 {
	var total float64
	for _, pos := range p.positions {
		total += pos.MarketValue()
	}
	return total
}

func (p *portfolio) sortedSymbols() []string {
	symbols := make([]string, 0, len(p.positions))
	for sym := range p.positions {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols
}

// candidate is one scan survivor.
type candidate struct {
	symbol   string
	sector   string
	vcpScore int
	rsRating int
	pattern  vcp.PatternResult
	close    float64
}

// Run executes the simulation. The trading calendar is the benchmark's bar
// dates inside the configured window.
func (s *Simulator) Run(ctx context.Context) (*Result, error) {
	bench, err := s.provider.BenchmarkSeries(ctx)
	if err != nil {
		return nil, fmt.Errorf("backtest: load benchmark: %w", err)
	}
	if err := bench.Validate(); err != nil {
		return nil, fmt.Errorf("backtest: benchmark series: %w", err)
	}

	listings, err := s.provider.ListUniverse(ctx)
	if err != nil {
		return nil, fmt.Errorf("backtest: list universe: %w", err)
	}

	universe, sectors, failures := s.loadUniverse(ctx, listings)

	var calendar []time.Time
	for _, bar := range bench.Bars {
		if bar.Date.Before(s.cfg.StartDate) || bar.Date.After(s.cfg.EndDate) {
			continue
		}
		calendar = append(calendar, bar.Date)
	}
	if len(calendar) == 0 {
		return nil, fmt.Errorf("backtest: no trading days between %s and %s",
			s.cfg.StartDate.Format("2006-01-02"), s.cfg.EndDate.Format("2006-01-02"))
	}

	result := &Result{
		RunID:          uuid.NewString(),
		StartDate:      calendar[0],
		EndDate:        calendar[len(calendar)-1],
		InitialCapital: s.cfg.InitialCapital,
		SymbolFailures: failures,
	}
	pf := &portfolio{cash: s.cfg.InitialCapital, positions: map[string]*Position{}}
	prevTotal := s.cfg.InitialCapital

	log.Info().Str("run_id", result.RunID).Int("symbols", len(universe)).
		Int("days", len(calendar)).Msg("backtest starting")

	for i, date := range calendar {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := s.maintainPositions(pf, universe, date, result); err != nil {
			return nil, err
		}
		if err := s.enterPositions(ctx, pf, universe, sectors, bench, date, result); err != nil {
			return nil, err
		}

		snap := DailySnapshot{
			Date:          date,
			Cash:          pf.cash,
			PositionValue: pf.exposure(),
			TotalValue:    pf.value(),
			OpenPositions: len(pf.positions),
		}
		snap.DailyPnL = snap.TotalValue - prevTotal
		if prevTotal != 0 {
			snap.DailyPnLPct = snap.DailyPnL / prevTotal * 100
		}
		prevTotal = snap.TotalValue
		result.Snapshots = append(result.Snapshots, snap)
		result.DaysSimulated++
		s.metrics.DaySimulated(snap.TotalValue)

		if s.progress != nil {
			s.progress(date, i+1, len(calendar))
		}
	}

	s.liquidate(pf, result)
	result.FinalValue = result.Snapshots[len(result.Snapshots)-1].TotalValue

	s.notifier.Notify(alerts.Event{
		Type:      alerts.EventBacktestDone,
		Message:   fmt.Sprintf("backtest %s finished: %d trades", result.RunID, len(result.Trades)),
		Timestamp: result.EndDate,
	})
	log.Info().Str("run_id", result.RunID).Float64("final_value", result.FinalValue).
		Int("trades", len(result.Trades)).Msg("backtest finished")

	return result, nil
}

// loadUniverse fetches and validates every listed series up front.
func (s *Simulator) loadUniverse(ctx context.Context, listings []data.Listing) (map[string]market.Series, map[string]string, int) {
	universe := make(map[string]market.Series, len(listings))
	sectors := make(map[string]string, len(listings))
	failures := 0
	for _, l := range listings {
		series, err := s.provider.LoadSeries(ctx, l.Symbol)
		if err != nil {
			log.Warn().Str("symbol", l.Symbol).Err(err).Msg("backtest: skipping symbol")
			failures++
			continue
		}
		if err := series.Validate(); err != nil {
			log.Warn().Str("symbol", l.Symbol).Err(err).Msg("backtest: invalid series")
			failures++
			continue
		}
		universe[l.Symbol] = series
		sectors[l.Symbol] = l.Sector
	}
	return universe, sectors, failures
}

// maintainPositions updates stops and closes breached positions, in symbol
// order. Runs before any same-day entries.
func (s *Simulator) maintainPositions(pf *portfolio, universe map[string]market.Series, date time.Time, result *Result) error {
	for _, sym := range pf.sortedSymbols() {
		pos := pf.positions[sym]
		series, ok := universe[sym]
		if !ok {
			continue
		}
		bar, ok := series.BarOn(date)
		if !ok {
			continue
		}

		pos.CurrentPrice = bar.Close
		if bar.Close > pos.HighestPrice {
			pos.HighestPrice = bar.Close
		}

		res, err := s.stops.Evaluate(stops.Input{
			EntryPrice:   pos.EntryPrice,
			CurrentPrice: bar.Close,
			HighestPrice: pos.HighestPrice,
			CurrentLevel: pos.TrailingLevel,
		})
		if err != nil {
			return fmt.Errorf("backtest: evaluate stop for %s: %w", sym, err)
		}
		if res.Level < pos.TrailingLevel {
			return fmt.Errorf("%w: %s level fell %d to %d on %s",
				ErrInvariantViolation, sym, pos.TrailingLevel, res.Level,
				date.Format("2006-01-02"))
		}

		// The persisted stop is the ratchet floor. It starts at the pattern
		// stop and only ever moves up.
		if res.StopPrice > pos.CurrentStop {
			pos.CurrentStop = res.StopPrice
		}
		pos.TrailingLevel = res.Level

		// Breach on the day's low, filled at the stop itself.
		if bar.Low <= pos.CurrentStop {
			reason := stops.ReasonStopLoss
			if pos.TrailingLevel > 0 {
				reason = stops.ReasonTrailingStop
			}
			s.closePosition(pf, pos, date, pos.CurrentStop, reason, result)
		}
	}
	return nil
}

// enterPositions scans the universe as of date and opens the best-ranked
// candidates while capital and limits allow.
func (s *Simulator) enterPositions(ctx context.Context, pf *portfolio, universe map[string]market.Series,
	sectors map[string]string, bench market.Series, date time.Time, result *Result) error {

	if len(pf.positions) >= s.sizer.MaxPositions() {
		return nil
	}

	started := time.Now()
	candidates := s.scan(ctx, pf, universe, bench, date)
	s.metrics.ObserveScan(time.Since(started), len(candidates))

	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			return err
		}

		s.notifier.Notify(alerts.Event{
			Type:      alerts.EventPatternDetected,
			Symbol:    cand.symbol,
			Price:     cand.pattern.PivotPrice,
			Score:     cand.vcpScore,
			Message:   fmt.Sprintf("vcp score %d, rs %d", cand.vcpScore, cand.rsRating),
			Timestamp: date,
		})

		entryPrice := cand.close * (1 + s.cfg.SlippagePct/100)
		stopPrice := cand.pattern.StopPrice
		if stopPrice >= entryPrice {
			continue
		}

		state := risk.PortfolioState{
			AccountValue:   pf.value(),
			OpenPositions:  len(pf.positions),
			TotalExposure:  pf.exposure(),
			SectorExposure: s.sectorExposure(pf, sectors),
		}
		sized, err := s.sizer.Size(risk.SizeRequest{
			Symbol:     cand.symbol,
			EntryPrice: entryPrice,
			StopPrice:  stopPrice,
			Sector:     cand.sector,
		}, state)
		if err != nil {
			return fmt.Errorf("backtest: size %s: %w", cand.symbol, err)
		}
		qty := sized.Quantity
		if qty == 0 {
			continue
		}

		cost := float64(qty) * entryPrice
		if cost > pf.cash {
			qty = int(pf.cash * 0.95 / entryPrice)
			if qty <= 0 {
				continue
			}
			cost = float64(qty) * entryPrice
		}
		commission := cost * s.cfg.CommissionPct / 100
		pf.cash -= cost + commission

		pf.positions[cand.symbol] = &Position{
			Symbol:        cand.symbol,
			Quantity:      qty,
			EntryPrice:    entryPrice,
			EntryDate:     date,
			CurrentPrice:  cand.close,
			CurrentStop:   stopPrice,
			HighestPrice:  entryPrice,
			TrailingLevel: 0,
			Sector:        cand.sector,
		}

		s.metrics.TradeOpened()
		s.notifier.Notify(alerts.Event{
			Type:      alerts.EventEntryFilled,
			Symbol:    cand.symbol,
			Price:     entryPrice,
			Quantity:  qty,
			Message:   "entry filled",
			Timestamp: date,
		})
	}
	return nil
}

// scan evaluates the whole universe as of one date across a worker pool and
// returns surviving candidates in deterministic priority order.
func (s *Simulator) scan(ctx context.Context, pf *portfolio, universe map[string]market.Series,
	bench market.Series, date time.Time) []candidate {

	symbols := make([]string, 0, len(universe))
	for sym := range universe {
		if _, held := pf.positions[sym]; held {
			continue
		}
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	benchAsOf := bench.TruncateThrough(date)

	var (
		mu    sync.Mutex
		found []candidate
		wg    sync.WaitGroup
	)
	work := make(chan string)

	workers := s.cfg.ScanWorkers
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range work {
				cand, ok := s.evaluateSymbol(universe[sym], benchAsOf, date)
				if !ok {
					continue
				}
				mu.Lock()
				found = append(found, cand)
				mu.Unlock()
			}
		}()
	}

feed:
	for _, sym := range symbols {
		select {
		case <-ctx.Done():
			break feed
		case work <- sym:
		}
	}
	close(work)
	wg.Wait()

	sort.Slice(found, func(i, j int) bool {
		if found[i].vcpScore != found[j].vcpScore {
			return found[i].vcpScore > found[j].vcpScore
		}
		if found[i].rsRating != found[j].rsRating {
			return found[i].rsRating > found[j].rsRating
		}
		return found[i].symbol < found[j].symbol
	})
	return found
}

// evaluateSymbol runs the full pattern pipeline for one symbol as of date.
func (s *Simulator) evaluateSymbol(series market.Series, benchAsOf market.Series, date time.Time) (candidate, bool) {
	asOf := series.TruncateThrough(date)
	if asOf.Len() == 0 {
		return candidate{}, false
	}
	last := asOf.Last()
	if !sameDay(last.Date, date) {
		return candidate{}, false
	}

	rating := s.ranker.RatingVsBenchmark(asOf, benchAsOf)
	score := s.trend.Analyze(asOf, rating)
	if !score.Passes {
		return candidate{}, false
	}

	pattern := s.detector.Detect(asOf)
	if !pattern.Detected {
		return candidate{}, false
	}

	return candidate{
		symbol:   asOf.Symbol,
		vcpScore: pattern.Score,
		rsRating: rating,
		pattern:  pattern,
		close:    last.Close,
	}, true
}

func (s *Simulator) sectorExposure(pf *portfolio, sectors map[string]string) map[string]float64 {
	out := map[string]float64{}
	for sym, pos := range pf.positions {
		if sector := sectors[sym]; sector != "" {
			out[sector] += pos.MarketValue()
		}
	}
	return out
}

// closePosition realizes one exit. Slippage and commission apply to the fill
// the same way they do on entry.
func (s *Simulator) closePosition(pf *portfolio, pos *Position, date time.Time, price float64, reason string, result *Result) {
	price *= 1 - s.cfg.SlippagePct/100
	proceeds := float64(pos.Quantity) * price
	commission := proceeds * s.cfg.CommissionPct / 100
	pf.cash += proceeds - commission
	delete(pf.positions, pos.Symbol)

	trade := Trade{
		ID:         uuid.NewString(),
		Symbol:     pos.Symbol,
		Quantity:   pos.Quantity,
		EntryDate:  pos.EntryDate,
		EntryPrice: pos.EntryPrice,
		ExitDate:   date,
		ExitPrice:  price,
		ExitReason: reason,
		ProfitPct:  (price - pos.EntryPrice) / pos.EntryPrice * 100,
		ProfitAbs:  (price - pos.EntryPrice) * float64(pos.Quantity),
		HoldDays:   int(date.Sub(pos.EntryDate).Hours() / 24),
		Commission: commission,
	}
	result.Trades = append(result.Trades, trade)

	s.metrics.TradeClosed(reason)

	if reason == ExitReasonFinal {
		return
	}
	eventType := alerts.EventStopLossExit
	if reason == stops.ReasonTrailingStop {
		eventType = alerts.EventTrailingStopExit
	}
	s.notifier.Notify(alerts.Event{
		Type:      eventType,
		Symbol:    pos.Symbol,
		Price:     price,
		Quantity:  pos.Quantity,
		Message:   fmt.Sprintf("exit %s at %.2f (%.2f%%)", reason, price, trade.ProfitPct),
		Timestamp: date,
	})
}

// liquidate closes every surviving position at its last seen price and
// refreshes the final snapshot.
func (s *Simulator) liquidate(pf *portfolio, result *Result) {
	if len(pf.positions) == 0 {
		return
	}
	last := result.EndDate
	for _, sym := range pf.sortedSymbols() {
		pos := pf.positions[sym]
		s.closePosition(pf, pos, last, pos.CurrentPrice, ExitReasonFinal, result)
	}
	if n := len(result.Snapshots); n > 0 {
		prev := result.InitialCapital
		if n > 1 {
			prev = result.Snapshots[n-2].TotalValue
		}
		last := &result.Snapshots[n-1]
		last.Cash = pf.cash
		last.PositionValue = 0
		last.OpenPositions = 0
		last.TotalValue = pf.cash
		last.DailyPnL = pf.cash - prev
		if prev != 0 {
			last.DailyPnLPct = last.DailyPnL / prev * 100
		}
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
