package persistence

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vcplab/vcptrader/internal/backtest"
	"github.com/vcplab/vcptrader/internal/backtest/perf"
)

// openTestStore connects to the database named by TEST_DATABASE_URL, or
// skips the test when none is configured.
func openTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store, err := Open(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.EnsureSchema(ctx))
	return store
}

func sampleResult() *backtest.Result {
	entry := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	exit := entry.AddDate(0, 0, 12)
	return &backtest.Result{
		RunID:          uuid.NewString(),
		StartDate:      entry.AddDate(0, -1, 0),
		EndDate:        exit.AddDate(0, 1, 0),
		InitialCapital: 100_000_000,
		FinalValue:     103_500_000,
		Trades: []backtest.Trade{{
			ID:         uuid.NewString(),
			Symbol:     "005930",
			Quantity:   300,
			EntryDate:  entry,
			EntryPrice: 50_000,
			ExitDate:   exit,
			ExitPrice:  56_000,
			ExitReason: "trailing_stop",
			ProfitPct:  12.0,
			ProfitAbs:  1_800_000,
			HoldDays:   12,
			Commission: 4_200,
		}},
	}
}

func TestSaveAndReadBack(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	result := sampleResult()
	report := perf.Report{TotalReturnPct: 3.5, MaxDrawdownPct: 4.2, Sharpe: 1.1}
	require.NoError(t, store.SaveRun(ctx, result, report))

	runs, err := store.RecentRuns(ctx, 5)
	require.NoError(t, err)
	require.NotEmpty(t, runs)
	assert.Equal(t, result.RunID, runs[0].ID)
	assert.InDelta(t, 3.5, runs[0].TotalReturn, 1e-9)
	assert.Equal(t, 1, runs[0].TradeCount)

	trades, err := store.TradesForRun(ctx, result.RunID)
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, "005930", trades[0].Symbol)
	assert.Equal(t, "trailing_stop", trades[0].ExitReason)
	assert.InDelta(t, 12.0, trades[0].ProfitPct, 1e-9)
}

func TestSaveRun_DuplicateIDFails(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	result := sampleResult()
	require.NoError(t, store.SaveRun(ctx, result, perf.Report{}))
	assert.Error(t, store.SaveRun(ctx, result, perf.Report{}))
}
