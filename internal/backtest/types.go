package backtest

import (
	"time"
)

// Position is one open holding inside the simulated portfolio.
type Position struct {
	Symbol        string    `json:"symbol"`
	Quantity      int       `json:"quantity"`
	EntryPrice    float64   `json:"entry_price"`
	EntryDate     time.Time `json:"entry_date"`
	CurrentPrice  float64   `json:"current_price"`
	CurrentStop   float64   `json:"current_stop"`
	HighestPrice  float64   `json:"highest_price"`
	TrailingLevel int       `json:"trailing_level"`
	Sector        string    `json:"sector,omitempty"`
}

// MarketValue is the position's worth at the current price.
func (p Position) MarketValue() float64 {
	return float64(p.Quantity) * p.CurrentPrice
}

// UnrealizedPct is the open profit in percent of entry.
func (p Position) UnrealizedPct() float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return (p.CurrentPrice - p.EntryPrice) / p.EntryPrice * 100
}

// Trade is one completed round trip.
type Trade struct {
	ID         string    `json:"id" db:"id"`
	Symbol     string    `json:"symbol" db:"symbol"`
	Quantity   int       `json:"quantity" db:"quantity"`
	EntryDate  time.Time `json:"entry_date" db:"entry_date"`
	EntryPrice float64   `json:"entry_price" db:"entry_price"`
	ExitDate   time.Time `json:"exit_date" db:"exit_date"`
	ExitPrice  float64   `json:"exit_price" db:"exit_price"`
	ExitReason string    `json:"exit_reason" db:"exit_reason"`
	ProfitPct  float64   `json:"profit_pct" db:"profit_pct"`
	ProfitAbs  float64   `json:"profit_abs" db:"profit_abs"`
	HoldDays   int       `json:"hold_days" db:"hold_days"`
	Commission float64   `json:"commission" db:"commission"`
}

// DailySnapshot records portfolio state at one day's close.
type DailySnapshot struct {
	Date          time.Time `json:"date" db:"date"`
	Cash          float64   `json:"cash" db:"cash"`
	PositionValue float64   `json:"position_value" db:"position_value"`
	TotalValue    float64   `json:"total_value" db:"total_value"`
	DailyPnL      float64   `json:"daily_pnl" db:"daily_pnl"`
	DailyPnLPct   float64   `json:"daily_pnl_pct" db:"daily_pnl_pct"`
	OpenPositions int       `json:"open_positions" db:"open_positions"`
}

// Result is the full output of one simulation run.
type Result struct {
	RunID          string          `json:"run_id"`
	StartDate      time.Time       `json:"start_date"`
	EndDate        time.Time       `json:"end_date"`
	InitialCapital float64         `json:"initial_capital"`
	FinalValue     float64         `json:"final_value"`
	Trades         []Trade         `json:"trades"`
	Snapshots      []DailySnapshot `json:"snapshots"`
	SymbolFailures int             `json:"symbol_failures"`
	DaysSimulated  int             `json:"days_simulated"`
}
