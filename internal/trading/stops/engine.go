package stops

import (
	"fmt"
	"sort"
)

// Exit reasons recorded on closed trades.
const (
	ReasonStopLoss     = "stop_loss"
	ReasonTrailingStop = "trailing_stop"
)

// Level maps a profit threshold to a trailing distance, both in percent.
type Level struct {
	ProfitPct float64 `yaml:"profit_pct"`
	TrailPct  float64 `yaml:"trail_pct"`
}

// Config holds stop management parameters.
type Config struct {
	InitialStopPct     float64 `yaml:"initial_stop_pct"`
	Levels             []Level `yaml:"levels"`
	UseBreakeven       bool    `yaml:"use_breakeven"`
	BreakevenThreshold float64 `yaml:"breakeven_threshold_pct"`
	BreakevenMarginPct float64 `yaml:"breakeven_margin_pct"`
}

// DefaultConfig returns the standard stop ladder.
func DefaultConfig() Config {
	return Config{
		InitialStopPct: 7.0,
		Levels: []Level{
			{ProfitPct: 5, TrailPct: 5},
			{ProfitPct: 10, TrailPct: 8},
			{ProfitPct: 20, TrailPct: 10},
			{ProfitPct: 50, TrailPct: 15},
		},
		UseBreakeven:       true,
		BreakevenThreshold: 10.0,
		BreakevenMarginPct: 0.1,
	}
}

// Validate checks the stop ladder at construction time. Levels must be sorted
// by ascending profit threshold.
func (c Config) Validate() error {
	if c.InitialStopPct <= 0 || c.InitialStopPct >= 100 {
		return fmt.Errorf("stops config: initial_stop_pct %.2f outside (0,100)", c.InitialStopPct)
	}
	if len(c.Levels) == 0 {
		return fmt.Errorf("stops config: at least one trailing level required")
	}
	if !sort.SliceIsSorted(c.Levels, func(i, j int) bool {
		return c.Levels[i].ProfitPct < c.Levels[j].ProfitPct
	}) {
		return fmt.Errorf("stops config: levels must be sorted by profit threshold")
	}
	for i, lvl := range c.Levels {
		if lvl.ProfitPct <= 0 || lvl.TrailPct <= 0 || lvl.TrailPct >= 100 {
			return fmt.Errorf("stops config: level %d has invalid thresholds", i)
		}
	}
	if c.BreakevenThreshold < 0 || c.BreakevenMarginPct < 0 {
		return fmt.Errorf("stops config: breakeven thresholds must not be negative")
	}
	return nil
}

// Input is the state of one open position at evaluation time.
type Input struct {
	EntryPrice   float64
	CurrentPrice float64
	HighestPrice float64
	CurrentLevel int // highest ladder level reached so far, 0 means none
}

// Result describes the stop after one evaluation. Level and StopPrice never
// move down relative to the input state.
type Result struct {
	StopPrice  float64
	Level      int
	ProfitPct  float64
	ShouldExit bool
	ExitReason string
}

// Engine computes ratcheting trailing stops. Evaluation is stateless: the
// caller persists HighestPrice and CurrentLevel between days.
type Engine struct {
	cfg Config
}

// NewEngine builds an Engine, rejecting an invalid ladder.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Evaluate computes the current stop for a position. Profit is measured from
// entry to the highest price seen; the ladder level is the highest threshold
// that profit has satisfied, never below the persisted level. The resulting
// stop is the maximum of the stop at the reached level and the one at the
// persisted level, with an optional breakeven floor, so it never moves down
// call-over-call.
func (e *Engine) Evaluate(in Input) (Result, error) {
	if in.EntryPrice <= 0 {
		return Result{}, fmt.Errorf("stops: entry price %.2f must be positive", in.EntryPrice)
	}
	if in.CurrentPrice <= 0 || in.HighestPrice <= 0 {
		return Result{}, fmt.Errorf("stops: prices must be positive")
	}
	if in.CurrentLevel < 0 || in.CurrentLevel > len(e.cfg.Levels) {
		return Result{}, fmt.Errorf("stops: level %d outside ladder", in.CurrentLevel)
	}

	highest := in.HighestPrice
	if in.CurrentPrice > highest {
		highest = in.CurrentPrice
	}
	profit := (highest - in.EntryPrice) / in.EntryPrice * 100

	level := in.CurrentLevel
	for i, lvl := range e.cfg.Levels {
		if profit >= lvl.ProfitPct && i+1 > level {
			level = i + 1
		}
	}

	stop := e.stopAt(in.EntryPrice, highest, level)
	if prev := e.stopAt(in.EntryPrice, highest, in.CurrentLevel); prev > stop {
		stop = prev
	}

	if e.cfg.UseBreakeven && level > 0 && profit >= e.cfg.BreakevenThreshold {
		floor := in.EntryPrice * (1 + e.cfg.BreakevenMarginPct/100)
		if floor > stop {
			stop = floor
		}
	}

	res := Result{
		StopPrice: stop,
		Level:     level,
		ProfitPct: (in.CurrentPrice - in.EntryPrice) / in.EntryPrice * 100,
	}
	if in.CurrentPrice <= stop {
		res.ShouldExit = true
		if level == 0 {
			res.ExitReason = ReasonStopLoss
		} else {
			res.ExitReason = ReasonTrailingStop
		}
	}
	return res, nil
}

// stopAt returns the stop price for a ladder level. Level 0 is the fixed
// initial stop below entry; positive levels trail the highest price.
func (e *Engine) stopAt(entry, highest float64, level int) float64 {
	if level == 0 {
		return entry * (1 - e.cfg.InitialStopPct/100)
	}
	return highest * (1 - e.cfg.Levels[level-1].TrailPct/100)
}

// Simulate replays a closing-price path from entry, returning the final state
// and the bar index of the exit, or -1 when the position survives. The stop is
// floored at its previous value the way a caller persisting it would, so it
// never moves down across bars.
func (e *Engine) Simulate(entry float64, closes []float64) (Result, int, error) {
	state := Input{EntryPrice: entry, HighestPrice: entry, CurrentLevel: 0}
	var last Result
	for i, px := range closes {
		state.CurrentPrice = px
		res, err := e.Evaluate(state)
		if err != nil {
			return Result{}, -1, err
		}
		if res.StopPrice < last.StopPrice {
			res.StopPrice = last.StopPrice
			if px <= res.StopPrice && !res.ShouldExit {
				res.ShouldExit = true
				res.ExitReason = ReasonTrailingStop
			}
		}
		last = res
		if res.ShouldExit {
			return res, i, nil
		}
		if px > state.HighestPrice {
			state.HighestPrice = px
		}
		state.CurrentLevel = res.Level
	}
	return last, -1, nil
}
