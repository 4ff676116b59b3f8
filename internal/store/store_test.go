package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/candle"
)

const daySeriesStart int64 = 1_700_006_400_000 // 2023-11-15T00:00:00Z

func mkCandle(ts int64, close float32) candle.Candle {
	return candle.Candle{TS: ts, Open: close, High: close + 1, Low: close - 1, Close: close, BaseVolume: 1}
}

func mkSeries(startTS int64, n int) []candle.Candle {
	out := make([]candle.Candle, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, mkCandle(startTS+int64(i)*candle.OneMinMS, 100+float32(i)))
	}
	return out
}

func TestAppendAndRead(t *testing.T) {
	s := New(Config{Dir: t.TempDir()})

	cs := mkSeries(daySeriesStart, 5)
	// Out-of-order insertion still yields a sorted series.
	n, err := s.Append(context.Background(), "BTC/USDT", []candle.Candle{cs[3], cs[0], cs[4], cs[1], cs[2]})
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	got, err := s.Read(context.Background(), "BTC/USDT", daySeriesStart, daySeriesStart+10*candle.OneMinMS)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i := 1; i < len(got); i++ {
		assert.Less(t, got[i-1].TS, got[i].TS)
	}
	assert.Equal(t, cs, got)
}

func TestAppendRejectsInvalidCandle(t *testing.T) {
	s := New(Config{Dir: t.TempDir()})

	bad := candle.Candle{TS: daySeriesStart + 30, Open: 1, High: 2, Low: 0.5, Close: 1} // off-minute ts
	_, err := s.Append(context.Background(), "BTC/USDT", []candle.Candle{bad})
	require.ErrorContains(t, err, "series invariants")
}

func TestAppendIdempotent(t *testing.T) {
	s := New(Config{Dir: t.TempDir()})

	cs := mkSeries(daySeriesStart, 3)
	n, err := s.Append(context.Background(), "BTC/USDT", cs)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// Replaying the same candles accepts nothing and changes nothing.
	n, err = s.Append(context.Background(), "BTC/USDT", cs)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	got, err := s.Read(context.Background(), "BTC/USDT", daySeriesStart, daySeriesStart+candle.DayMS)
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestAppendSkipsStaleOlderThanOldest(t *testing.T) {
	s := New(Config{Dir: t.TempDir()})

	_, err := s.Append(context.Background(), "BTC/USDT", mkSeries(daySeriesStart+10*candle.OneMinMS, 3))
	require.NoError(t, err)

	n, err := s.Append(context.Background(), "BTC/USDT", []candle.Candle{mkCandle(daySeriesStart, 99)})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestEvictionAtCapacity(t *testing.T) {
	s := New(Config{Dir: t.TempDir(), Capacity: 10})

	_, err := s.Append(context.Background(), "BTC/USDT", mkSeries(daySeriesStart, 15))
	require.NoError(t, err)

	got, err := s.Read(context.Background(), "BTC/USDT", 0, daySeriesStart+candle.DayMS)
	require.NoError(t, err)
	require.Len(t, got, 10)
	// Oldest entries were dropped, newest retained.
	assert.Equal(t, daySeriesStart+5*candle.OneMinMS, got[0].TS)
	assert.Equal(t, daySeriesStart+14*candle.OneMinMS, got[9].TS)
}

func TestLastPrices(t *testing.T) {
	freshTS := daySeriesStart + 100*candle.OneMinMS
	now := freshTS + 5_000
	s := New(Config{Dir: t.TempDir(), Now: func() int64 { return now }})

	_, err := s.Append(context.Background(), "BTC/USDT", []candle.Candle{mkCandle(freshTS, 50_000)})
	require.NoError(t, err)
	_, err = s.Append(context.Background(), "ETH/USDT", []candle.Candle{mkCandle(freshTS-30*candle.OneMinMS, 3_000)})
	require.NoError(t, err)

	prices, err := s.LastPrices(context.Background(), []string{"BTC/USDT", "ETH/USDT", "XRP/USDT"}, 10_000)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"BTC/USDT": 50_000}, prices)

	// Without an age bound all known symbols report.
	prices, err = s.LastPrices(context.Background(), []string{"BTC/USDT", "ETH/USDT"}, 0)
	require.NoError(t, err)
	assert.Len(t, prices, 2)
}

func TestHydrateAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	cs := mkSeries(daySeriesStart, 8)

	first := New(Config{Dir: dir})
	_, err := first.Append(context.Background(), "BTC/USDT", cs)
	require.NoError(t, err)

	// A second store over the same directory sees the persisted series.
	second := New(Config{Dir: dir})
	got, err := second.Read(context.Background(), "BTC/USDT", daySeriesStart, daySeriesStart+candle.DayMS)
	require.NoError(t, err)
	assert.Equal(t, cs, got)

	price, ts, ok := second.LastPrice(context.Background(), "BTC/USDT")
	require.True(t, ok)
	assert.Equal(t, cs[7].TS, ts)
	assert.InDelta(t, float64(cs[7].Close), price, 1e-6)
}

func TestHydrateSpansDayFiles(t *testing.T) {
	dir := t.TempDir()
	day1 := mkSeries(daySeriesStart+(1438*candle.OneMinMS), 2) // last two minutes of day one
	day2 := mkSeries(daySeriesStart+candle.DayMS, 2)           // first two minutes of day two

	first := New(Config{Dir: dir})
	_, err := first.Append(context.Background(), "BTC/USDT", append(append([]candle.Candle{}, day1...), day2...))
	require.NoError(t, err)

	second := New(Config{Dir: dir})
	got, err := second.Read(context.Background(), "BTC/USDT", 0, daySeriesStart+2*candle.DayMS)
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestHasDay(t *testing.T) {
	s := New(Config{Dir: t.TempDir(), Capacity: 2 * candle.CandlesPerDay})

	ok, err := s.HasDay(context.Background(), "BTC/USDT", daySeriesStart)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Append(context.Background(), "BTC/USDT", mkSeries(daySeriesStart, candle.CandlesPerDay))
	require.NoError(t, err)

	ok, err = s.HasDay(context.Background(), "BTC/USDT", daySeriesStart)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEmaSeries(t *testing.T) {
	s := New(Config{Dir: t.TempDir(), EmaSpan: 3})

	_, err := s.Append(context.Background(), "BTC/USDT", []candle.Candle{
		mkCandle(daySeriesStart, 100),
		mkCandle(daySeriesStart+candle.OneMinMS, 110),
		mkCandle(daySeriesStart+2*candle.OneMinMS, 120),
	})
	require.NoError(t, err)

	ema, err := s.EmaSeries(context.Background(), "BTC/USDT")
	require.NoError(t, err)
	require.Len(t, ema, 3)

	// alpha = 2/(span+1) = 0.5 for span 3
	assert.InDelta(t, 100.0, float64(ema[0].Ema), 1e-4)
	assert.InDelta(t, 105.0, float64(ema[1].Ema), 1e-4)
	assert.InDelta(t, 112.5, float64(ema[2].Ema), 1e-4)
	assert.Equal(t, daySeriesStart+2*candle.OneMinMS, ema[2].TS)
}

func TestMergeSeriesPrefersExisting(t *testing.T) {
	a := []candle.Candle{mkCandle(daySeriesStart, 100)}
	b := []candle.Candle{mkCandle(daySeriesStart, 999), mkCandle(daySeriesStart+candle.OneMinMS, 101)}

	merged := mergeSeries(a, b)
	require.Len(t, merged, 2)
	assert.Equal(t, float32(100), merged[0].Close)
	assert.Equal(t, float32(101), merged[1].Close)
}

func TestPersistMergesForeignRows(t *testing.T) {
	dir := t.TempDir()
	writerA := New(Config{Dir: dir})
	writerB := New(Config{Dir: dir})

	_, err := writerA.Append(context.Background(), "BTC/USDT", []candle.Candle{mkCandle(daySeriesStart, 100)})
	require.NoError(t, err)
	_, err = writerB.Append(context.Background(), "BTC/USDT", []candle.Candle{mkCandle(daySeriesStart+candle.OneMinMS, 101)})
	require.NoError(t, err)

	// writerB merged A's on-disk row into its own buffer during persist.
	got, err := writerB.Read(context.Background(), "BTC/USDT", daySeriesStart, daySeriesStart+candle.DayMS)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	// And a fresh reader sees both rows on disk.
	reader := New(Config{Dir: dir})
	got, err = reader.Read(context.Background(), "BTC/USDT", daySeriesStart, daySeriesStart+candle.DayMS)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}
