package ingest

import (
	"fmt"
	"sort"

	"github.com/yanun0323/errors"

	"main/internal/candle"
	"main/internal/gateway"
)

var (
	ErrIncompleteDay = errors.New("ingest: day is not exactly 1440 candles")
	ErrGapDetected   = errors.New("ingest: gap in minute sequence")
	ErrBadOHLC       = errors.New("ingest: high/low do not bound open/close")
	ErrEmptyUnit     = errors.New("ingest: no rows for unit")
)

// EnsureMillis normalizes row timestamps to milliseconds floored to the
// minute, dropping rows without a usable timestamp.
func EnsureMillis(rows []gateway.Row) []gateway.Row {
	out := rows[:0]
	for _, r := range rows {
		ts := candle.NormalizeMillis(r.TS)
		if ts <= 0 {
			continue
		}
		r.TS = candle.FloorMinute(ts)
		out = append(out, r)
	}
	return out
}

// DeduplicateRows sorts rows by timestamp and keeps the first row seen per
// minute as the canonical one.
func DeduplicateRows(rows []gateway.Row) []gateway.Row {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].TS < rows[j].TS })
	out := rows[:0]
	var lastTS int64 = -1
	for _, r := range rows {
		if r.TS == lastTS {
			continue
		}
		lastTS = r.TS
		out = append(out, r)
	}
	return out
}

// ToCandles converts normalized rows into candles.
func ToCandles(rows []gateway.Row) []candle.Candle {
	cs := make([]candle.Candle, 0, len(rows))
	for _, r := range rows {
		cs = append(cs, candle.Candle{
			TS:         r.TS,
			Open:       float32(r.Open),
			High:       float32(r.High),
			Low:        float32(r.Low),
			Close:      float32(r.Close),
			BaseVolume: float32(r.Volume),
		})
	}
	return cs
}

// FillGaps synthesizes flat zero-volume candles from the previous close for
// every missing minute between the first and last candle. Input must be
// sorted and deduplicated.
func FillGaps(cs []candle.Candle) []candle.Candle {
	if len(cs) < 2 {
		return cs
	}
	out := make([]candle.Candle, 0, len(cs))
	out = append(out, cs[0])
	for _, c := range cs[1:] {
		prev := out[len(out)-1]
		for ts := prev.TS + candle.OneMinMS; ts < c.TS; ts += candle.OneMinMS {
			out = append(out, candle.Flat(ts, prev.Close))
		}
		out = append(out, c)
	}
	return out
}

// ValidateDay accepts a day only when it holds exactly 1,440 one-minute
// candles with uniform spacing starting at the day boundary, each internally
// consistent.
func ValidateDay(dayStart int64, cs []candle.Candle) error {
	if len(cs) != candle.CandlesPerDay {
		return errors.Wrap(ErrIncompleteDay, fmt.Sprintf("got %d", len(cs)))
	}
	if cs[0].TS != dayStart {
		return errors.Wrap(ErrGapDetected, fmt.Sprintf("first candle at %d, day starts %d", cs[0].TS, dayStart))
	}
	for i, c := range cs {
		if i > 0 && c.TS-cs[i-1].TS != candle.OneMinMS {
			return errors.Wrap(ErrGapDetected, fmt.Sprintf("ts %d follows %d", c.TS, cs[i-1].TS))
		}
		if !c.Valid() {
			return errors.Wrap(ErrBadOHLC, fmt.Sprintf("ts %d", c.TS))
		}
	}
	return nil
}
