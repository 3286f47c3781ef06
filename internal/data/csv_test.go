package data

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFixtures(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()

	prices := "date,open,high,low,close,volume\n" +
		"2024-01-02,100,102,99,101,50000\n" +
		"2024-01-03,101,103,100,102,52000\n" +
		"2024-01-04,102,105,101,104,61000\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "005930.csv"), []byte(prices), 0o644))

	bench := "date,open,high,low,close,volume\n" +
		"2024-01-02,2500,2510,2490,2505,0\n" +
		"2024-01-03,2505,2520,2500,2515,0\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "KOSPI.csv"), []byte(bench), 0o644))

	universe := "symbol,name,sector\n" +
		"005930,Samsung Electronics,semis\n" +
		"KOSPI,Index,index\n" +
		"000660,SK Hynix,semis\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "universe.csv"), []byte(universe), 0o644))

	return dir
}

func TestCSVProvider_LoadSeries(t *testing.T) {
	p, err := NewCSVProvider(writeFixtures(t), "KOSPI")
	require.NoError(t, err)

	s, err := p.LoadSeries(context.Background(), "005930")
	require.NoError(t, err)

	assert.Equal(t, "005930", s.Symbol)
	require.Equal(t, 3, s.Len())
	assert.InDelta(t, 101.0, s.Bars[0].Close, 1e-9)
	assert.InDelta(t, 105.0, s.Bars[2].High, 1e-9)
	assert.InDelta(t, 61000.0, s.Bars[2].Volume, 1e-9)
}

func TestCSVProvider_MissingSymbol(t *testing.T) {
	p, err := NewCSVProvider(writeFixtures(t), "KOSPI")
	require.NoError(t, err)

	_, err = p.LoadSeries(context.Background(), "999999")
	assert.True(t, errors.Is(err, ErrSeriesNotFound))
}

func TestCSVProvider_Benchmark(t *testing.T) {
	p, err := NewCSVProvider(writeFixtures(t), "KOSPI")
	require.NoError(t, err)

	s, err := p.BenchmarkSeries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "KOSPI", s.Symbol)
	assert.Equal(t, 2, s.Len())
}

func TestCSVProvider_UniverseExcludesBenchmark(t *testing.T) {
	p, err := NewCSVProvider(writeFixtures(t), "KOSPI")
	require.NoError(t, err)

	listings, err := p.ListUniverse(context.Background())
	require.NoError(t, err)

	require.Len(t, listings, 2)
	assert.Equal(t, "005930", listings[0].Symbol)
	assert.Equal(t, "semis", listings[0].Sector)
	assert.Equal(t, "000660", listings[1].Symbol)
}

func TestCSVProvider_RejectsCorruptFile(t *testing.T) {
	dir := writeFixtures(t)
	bad := "date,open,high,low,close,volume\n2024-01-02,abc,1,1,1,1\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "BAD.csv"), []byte(bad), 0o644))

	p, err := NewCSVProvider(dir, "KOSPI")
	require.NoError(t, err)

	_, err = p.LoadSeries(context.Background(), "BAD")
	assert.Error(t, err)
}

func TestNewCSVProvider_Validation(t *testing.T) {
	_, err := NewCSVProvider("/nonexistent/path", "KOSPI")
	assert.Error(t, err)

	_, err = NewCSVProvider(t.TempDir(), "")
	assert.Error(t, err)
}
