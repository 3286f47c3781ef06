package report

import (
	"fmt"
	"io"
	"math"

	"github.com/vcplab/vcptrader/internal/backtest"
	"github.com/vcplab/vcptrader/internal/backtest/perf"
)

// WriteSummary renders a backtest result and its performance report as text.
func WriteSummary(w io.Writer, result *backtest.Result, rep perf.Report) error {
	var err error
	p := func(format string, args ...interface{}) {
		if err == nil {
			_, err = fmt.Fprintf(w, format, args...)
		}
	}

	p("Backtest %s\n", result.RunID)
	p("Period          %s .. %s (%d trading days)\n",
		result.StartDate.Format("2006-01-02"), result.EndDate.Format("2006-01-02"),
		result.DaysSimulated)
	p("Capital         %.0f -> %.0f\n", result.InitialCapital, result.FinalValue)
	p("\n")
	p("Total return    %+.2f%%\n", rep.TotalReturnPct)
	p("CAGR            %+.2f%%\n", rep.CAGRPct)
	p("Max drawdown    %.2f%%\n", rep.MaxDrawdownPct)
	p("Volatility      %.2f%%\n", rep.VolatilityPct)
	p("Sharpe          %.2f\n", rep.Sharpe)
	p("Sortino         %.2f\n", rep.Sortino)
	p("Calmar          %.2f\n", rep.Calmar)
	p("\n")

	tr := rep.Trades
	p("Trades          %d (%d wins / %d losses, %.1f%% win rate)\n",
		tr.Total, tr.Wins, tr.Losses, tr.WinRatePct)
	if tr.Total > 0 {
		pf := fmt.Sprintf("%.2f", tr.ProfitFactor)
		if math.IsInf(tr.ProfitFactor, 1) {
			pf = "inf"
		}
		p("Avg win/loss    %+.2f%% / %+.2f%% (profit factor %s)\n",
			tr.AvgWinPct, tr.AvgLossPct, pf)
		p("Expectancy      %+.2f%%\n", tr.ExpectancyPct)
		p("Best/worst      %+.2f%% / %+.2f%%\n", tr.BestTradePct, tr.WorstTradePct)
		p("Avg hold        %.1f days\n", tr.AvgHoldDays)
		p("Streaks         %d wins, %d losses\n", tr.MaxWinStreak, tr.MaxLossStreak)
	}
	if result.SymbolFailures > 0 {
		p("\nSkipped symbols %d\n", result.SymbolFailures)
	}

	if len(rep.Monthly) > 0 {
		p("\nMonthly returns\n")
		for _, m := range rep.Monthly {
			p("  %s  %+7.2f%%\n", m.Label, m.ReturnPct)
		}
	}
	return err
}

// WriteTrades renders the trade log as text, in result order.
func WriteTrades(w io.Writer, result *backtest.Result) error {
	var err error
	p := func(format string, args ...interface{}) {
		if err == nil {
			_, err = fmt.Fprintf(w, format, args...)
		}
	}

	p("%-10s %-10s %10s %12s %-10s %12s %-14s %8s\n",
		"symbol", "entry", "qty", "entry px", "exit", "exit px", "reason", "pnl %")
	for _, tr := range result.Trades {
		p("%-10s %-10s %10d %12.2f %-10s %12.2f %-14s %+7.2f%%\n",
			tr.Symbol, tr.EntryDate.Format("2006-01-02"), tr.Quantity, tr.EntryPrice,
			tr.ExitDate.Format("2006-01-02"), tr.ExitPrice, tr.ExitReason, tr.ProfitPct)
	}
	return err
}
