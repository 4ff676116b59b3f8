package candle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFloorMinute(t *testing.T) {
	assert.Equal(t, int64(120_000), FloorMinute(120_000))
	assert.Equal(t, int64(120_000), FloorMinute(179_999))
	assert.Equal(t, int64(180_000), FloorMinute(180_000))
}

func TestNormalizeMillis(t *testing.T) {
	tests := []struct {
		name string
		in   int64
		want int64
	}{
		{"zero", 0, 0},
		{"negative", -5, 0},
		{"seconds", 1_700_000_000, 1_700_000_000_000},
		{"millis", 1_700_000_000_000, 1_700_000_000_000},
		{"micros", 1_700_000_000_000_000, 1_700_000_000_000},
		{"nanos", 1_700_000_000_000_000_000, 1_700_000_000_000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeMillis(tt.in))
		})
	}
}

func TestTimeframeToMS(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"1m", OneMinMS},
		{"5m", 5 * OneMinMS},
		{"1h", 60 * OneMinMS},
		{"1d", 1440 * OneMinMS},
		{"90s", OneMinMS},
		{"150s", 2 * OneMinMS},
		{"", OneMinMS},
		{"bogus", OneMinMS},
		{" 4H ", 240 * OneMinMS},
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.want, TimeframeToMS(tt.in), "input %q", tt.in)
	}
}

func TestCandleValid(t *testing.T) {
	ok := Candle{TS: OneMinMS, Open: 10, High: 12, Low: 9, Close: 11}
	assert.True(t, ok.Valid())

	offGrid := ok
	offGrid.TS = OneMinMS + 1
	assert.False(t, offGrid.Valid())

	badHigh := ok
	badHigh.High = 10.5 // below close
	assert.False(t, badHigh.Valid())

	badLow := ok
	badLow.Low = 10.5 // above open
	assert.False(t, badLow.Valid())
}

func TestFlat(t *testing.T) {
	c := Flat(OneMinMS, 42)
	assert.True(t, c.Valid())
	assert.Equal(t, float32(42), c.Open)
	assert.Equal(t, float32(42), c.High)
	assert.Equal(t, float32(42), c.Low)
	assert.Equal(t, float32(42), c.Close)
	assert.Equal(t, float32(0), c.BaseVolume)
}

func TestDaysBetween(t *testing.T) {
	assert.Len(t, DaysBetween(0, DayMS-1), 1)
	assert.Len(t, DaysBetween(0, DayMS), 2)
	assert.Len(t, DaysBetween(DayMS+5, 3*DayMS), 3)
	assert.Nil(t, DaysBetween(DayMS, 0))
}

func TestSanitizeSymbol(t *testing.T) {
	assert.Equal(t, "BTC_USDT", SanitizeSymbol("BTC/USDT"))
	assert.Equal(t, "BTCUSDT", SanitizeSymbol("BTCUSDT"))
}
