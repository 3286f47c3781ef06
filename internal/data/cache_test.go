package data

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vcplab/vcptrader/internal/market"
)

type stubProvider struct {
	series map[string]market.Series
	bench  market.Series
	calls  int
}

func (s *stubProvider) LoadSeries(_ context.Context, symbol string) (market.Series, error) {
	s.calls++
	series, ok := s.series[symbol]
	if !ok {
		return market.Series{}, ErrSeriesNotFound
	}
	return series, nil
}

func (s *stubProvider) BenchmarkSeries(context.Context) (market.Series, error) {
	s.calls++
	return s.bench, nil
}

func (s *stubProvider) ListUniverse(context.Context) ([]Listing, error) {
	return []Listing{{Symbol: "005930"}}, nil
}

func sampleSeries(symbol string) market.Series {
	return market.Series{Symbol: symbol, Bars: []market.Bar{
		{Date: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), Open: 100, High: 102, Low: 99, Close: 101, Volume: 1000},
	}}
}

func TestCachedProvider_MissThenStore(t *testing.T) {
	client, mock := redismock.NewClientMock()
	stub := &stubProvider{series: map[string]market.Series{"005930": sampleSeries("005930")}}
	cached := NewCachedProvider(stub, client, time.Hour)

	payload, err := json.Marshal(sampleSeries("005930"))
	require.NoError(t, err)

	mock.ExpectGet("vcptrader:series:005930").RedisNil()
	mock.ExpectSet("vcptrader:series:005930", payload, time.Hour).SetVal("OK")

	s, err := cached.LoadSeries(context.Background(), "005930")
	require.NoError(t, err)
	assert.Equal(t, "005930", s.Symbol)
	assert.Equal(t, 1, stub.calls)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedProvider_Hit(t *testing.T) {
	client, mock := redismock.NewClientMock()
	stub := &stubProvider{series: map[string]market.Series{}}
	cached := NewCachedProvider(stub, client, time.Hour)

	payload, err := json.Marshal(sampleSeries("005930"))
	require.NoError(t, err)
	mock.ExpectGet("vcptrader:series:005930").SetVal(string(payload))

	s, err := cached.LoadSeries(context.Background(), "005930")
	require.NoError(t, err)
	assert.Equal(t, "005930", s.Symbol)
	assert.Equal(t, 1, s.Len())
	assert.Zero(t, stub.calls, "cache hit must not touch the inner provider")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedProvider_InnerErrorSurfaces(t *testing.T) {
	client, mock := redismock.NewClientMock()
	stub := &stubProvider{series: map[string]market.Series{}}
	cached := NewCachedProvider(stub, client, time.Hour)

	mock.ExpectGet("vcptrader:series:999999").RedisNil()

	_, err := cached.LoadSeries(context.Background(), "999999")
	assert.ErrorIs(t, err, ErrSeriesNotFound)
}

func TestCachedProvider_Invalidate(t *testing.T) {
	client, mock := redismock.NewClientMock()
	cached := NewCachedProvider(&stubProvider{}, client, time.Hour)

	mock.ExpectDel("vcptrader:series:005930").SetVal(1)
	assert.NoError(t, cached.Invalidate(context.Background(), "005930"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
