package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/vcplab/vcptrader/internal/backtest"
	"github.com/vcplab/vcptrader/internal/backtest/perf"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id              TEXT PRIMARY KEY,
    started_at      TIMESTAMPTZ NOT NULL,
    start_date      DATE NOT NULL,
    end_date        DATE NOT NULL,
    initial_capital DOUBLE PRECISION NOT NULL,
    final_value     DOUBLE PRECISION NOT NULL,
    total_return    DOUBLE PRECISION NOT NULL,
    max_drawdown    DOUBLE PRECISION NOT NULL,
    sharpe          DOUBLE PRECISION NOT NULL,
    trade_count     INTEGER NOT NULL,
    symbol_failures INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS trades (
    id          TEXT PRIMARY KEY,
    run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    symbol      TEXT NOT NULL,
    quantity    INTEGER NOT NULL,
    entry_date  DATE NOT NULL,
    entry_price DOUBLE PRECISION NOT NULL,
    exit_date   DATE NOT NULL,
    exit_price  DOUBLE PRECISION NOT NULL,
    exit_reason TEXT NOT NULL,
    profit_pct  DOUBLE PRECISION NOT NULL,
    profit_abs  DOUBLE PRECISION NOT NULL,
    hold_days   INTEGER NOT NULL,
    commission  DOUBLE PRECISION NOT NULL
);

CREATE INDEX IF NOT EXISTS trades_run_id_idx ON trades (run_id);
`

// RunSummary is one persisted backtest run.
type RunSummary struct {
	ID             string    `db:"id"`
	StartedAt      time.Time `db:"started_at"`
	StartDate      time.Time `db:"start_date"`
	EndDate        time.Time `db:"end_date"`
	InitialCapital float64   `db:"initial_capital"`
	FinalValue     float64   `db:"final_value"`
	TotalReturn    float64   `db:"total_return"`
	MaxDrawdown    float64   `db:"max_drawdown"`
	Sharpe         float64   `db:"sharpe"`
	TradeCount     int       `db:"trade_count"`
	SymbolFailures int       `db:"symbol_failures"`
}

// Store persists backtest runs and their trades in Postgres.
type Store struct {
	db *sqlx.DB
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	return &Store{db: db}, nil
}

// NewStore wraps an existing connection, for tests.
func NewStore(db *sqlx.DB) *Store { return &Store{db: db} }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// EnsureSchema creates the tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: ensure schema: %w", err)
	}
	return nil
}

// SaveRun stores a finished run and all of its trades in one transaction.
func (s *Store) SaveRun(ctx context.Context, result *backtest.Result, report perf.Report) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	summary := RunSummary{
		ID:             result.RunID,
		StartedAt:      time.Now().UTC(),
		StartDate:      result.StartDate,
		EndDate:        result.EndDate,
		InitialCapital: result.InitialCapital,
		FinalValue:     result.FinalValue,
		TotalReturn:    report.TotalReturnPct,
		MaxDrawdown:    report.MaxDrawdownPct,
		Sharpe:         report.Sharpe,
		TradeCount:     len(result.Trades),
		SymbolFailures: result.SymbolFailures,
	}
	if _, err := tx.NamedExecContext(ctx, `
		INSERT INTO runs (id, started_at, start_date, end_date, initial_capital,
		                  final_value, total_return, max_drawdown, sharpe,
		                  trade_count, symbol_failures)
		VALUES (:id, :started_at, :start_date, :end_date, :initial_capital,
		        :final_value, :total_return, :max_drawdown, :sharpe,
		        :trade_count, :symbol_failures)`, summary); err != nil {
		return fmt.Errorf("store: insert run %s: %w", result.RunID, err)
	}

	for _, trade := range result.Trades {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO trades (id, run_id, symbol, quantity, entry_date, entry_price,
			                    exit_date, exit_price, exit_reason, profit_pct,
			                    profit_abs, hold_days, commission)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			trade.ID, result.RunID, trade.Symbol, trade.Quantity,
			trade.EntryDate, trade.EntryPrice, trade.ExitDate, trade.ExitPrice,
			trade.ExitReason, trade.ProfitPct, trade.ProfitAbs,
			trade.HoldDays, trade.Commission); err != nil {
			return fmt.Errorf("store: insert trade %s: %w", trade.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit run %s: %w", result.RunID, err)
	}
	log.Info().Str("run_id", result.RunID).Int("trades", len(result.Trades)).Msg("run persisted")
	return nil
}

// RecentRuns lists the newest runs first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []RunSummary
	err := s.db.SelectContext(ctx, &runs, `
		SELECT id, started_at, start_date, end_date, initial_capital, final_value,
		       total_return, max_drawdown, sharpe, trade_count, symbol_failures
		FROM runs ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent runs: %w", err)
	}
	return runs, nil
}

// TradesForRun returns a run's trades in entry order.
func (s *Store) TradesForRun(ctx context.Context, runID string) ([]backtest.Trade, error) {
	var trades []backtest.Trade
	err := s.db.SelectContext(ctx, &trades, `
		SELECT id, symbol, quantity, entry_date, entry_price, exit_date,
		       exit_price, exit_reason, profit_pct, profit_abs, hold_days, commission
		FROM trades WHERE run_id = $1 ORDER BY entry_date, symbol`, runID)
	if err != nil {
		return nil, fmt.Errorf("store: trades for %s: %w", runID, err)
	}
	return trades, nil
}
