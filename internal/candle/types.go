package candle

import (
	"strconv"
	"strings"
	"time"
)

const (
	// OneMinMS is the candle resolution in milliseconds.
	OneMinMS int64 = 60_000
	// DayMS is one UTC day in milliseconds.
	DayMS int64 = 1440 * OneMinMS
	// CandlesPerDay is the number of one-minute candles in a complete day.
	CandlesPerDay = 1440
	// DefaultMaxCandlesPerSymbol bounds in-memory history per symbol.
	DefaultMaxCandlesPerSymbol = 20_000
)

// Candle is one minute's OHLCV summary for a symbol.
type Candle struct {
	TS         int64
	Open       float32
	High       float32
	Low        float32
	Close      float32
	BaseVolume float32
}

// EmaPoint is one derived EMA sample aligned with a candle timestamp.
type EmaPoint struct {
	TS  int64
	Ema float32
}

// Valid reports whether the candle satisfies the minute-series invariants:
// the timestamp sits on a minute boundary and high/low bound open/close.
func (c Candle) Valid() bool {
	if c.TS <= 0 || c.TS%OneMinMS != 0 {
		return false
	}
	hi := c.Open
	if c.Close > hi {
		hi = c.Close
	}
	lo := c.Open
	if c.Close < lo {
		lo = c.Close
	}
	return c.High >= hi && c.Low <= lo
}

// Flat returns a zero-volume candle at ts priced entirely at close.
// Used to fill gaps without inventing price movement.
func Flat(ts int64, close float32) Candle {
	return Candle{TS: ts, Open: close, High: close, Low: close, Close: close}
}

// FloorMinute truncates a millisecond timestamp down to its minute boundary.
func FloorMinute(ms int64) int64 {
	return ms / OneMinMS * OneMinMS
}

// DayStart truncates a millisecond timestamp down to its UTC day boundary.
func DayStart(ms int64) int64 {
	return ms / DayMS * DayMS
}

// DayString formats the UTC day containing ms as YYYY-MM-DD.
func DayString(ms int64) string {
	return time.UnixMilli(DayStart(ms)).UTC().Format("2006-01-02")
}

// DaysBetween returns the UTC day starts covering [startMS, endMS].
func DaysBetween(startMS, endMS int64) []int64 {
	if endMS < startMS {
		return nil
	}
	days := make([]int64, 0, (DayStart(endMS)-DayStart(startMS))/DayMS+1)
	for day := DayStart(startMS); day <= DayStart(endMS); day += DayMS {
		days = append(days, day)
	}
	return days
}

// SanitizeSymbol makes a symbol safe as a path component.
func SanitizeSymbol(symbol string) string {
	return strings.ReplaceAll(symbol, "/", "_")
}

// TimeframeToMS parses strings like "1m", "5m", "1h", "1d" to milliseconds.
// Seconds round down to whole minutes; invalid input falls back to one minute.
func TimeframeToMS(s string) int64 {
	st := strings.ToLower(strings.TrimSpace(s))
	if len(st) < 2 {
		return OneMinMS
	}
	n, err := strconv.ParseInt(st[:len(st)-1], 10, 64)
	if err != nil || n < 0 {
		return OneMinMS
	}
	switch st[len(st)-1] {
	case 's':
		ms := n / 60 * OneMinMS
		if ms < OneMinMS {
			return OneMinMS
		}
		return ms
	case 'm':
		return n * OneMinMS
	case 'h':
		return n * 60 * OneMinMS
	case 'd':
		return n * 1440 * OneMinMS
	default:
		return OneMinMS
	}
}

// NormalizeMillis coerces a timestamp of unknown unit (seconds, millis,
// micros or nanos) to milliseconds, judging by magnitude.
func NormalizeMillis(ts int64) int64 {
	switch {
	case ts <= 0:
		return 0
	case ts < 100_000_000_000: // seconds until year 5138
		return ts * 1000
	case ts < 100_000_000_000_000: // already milliseconds
		return ts
	case ts < 100_000_000_000_000_000: // microseconds
		return ts / 1000
	default: // nanoseconds
		return ts / 1_000_000
	}
}

// UTCNowMS returns the current wall clock in milliseconds.
func UTCNowMS() int64 {
	return time.Now().UTC().UnixMilli()
}
