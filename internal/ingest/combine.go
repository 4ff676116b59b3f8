package ingest

import (
	"sort"

	"github.com/yanun0323/errors"

	"main/internal/candle"
)

var ErrNoSeries = errors.New("ingest: no series to combine")

// Combined is the multi-exchange backtest tensor: every series aligned onto
// one minute grid, plus per-coin volume ratios so consumers can weight
// sources or pick a primary one.
type Combined struct {
	StartTS int64
	EndTS   int64
	// Series maps coin -> exchange -> candles aligned to the grid, all the
	// same length.
	Series map[string]map[string][]candle.Candle
	// VolumeRatios maps coin -> exchange -> share of that coin's total
	// volume across exchanges.
	VolumeRatios map[string]map[string]float64
	// Primary maps coin -> the exchange carrying the largest volume share.
	Primary map[string]string
}

// GridLen returns the number of minutes on the common grid.
func (c *Combined) GridLen() int {
	return int((c.EndTS-c.StartTS)/candle.OneMinMS) + 1
}

// PrepareHLCVsCombined aligns per-exchange, per-coin series onto the common
// minute grid spanning the earliest and latest observed timestamps. Minutes
// outside a series' own coverage are flat zero-volume candles extrapolated
// from its nearest known price.
func PrepareHLCVsCombined(perExchange map[string]map[string][]candle.Candle) (*Combined, error) {
	startTS, endTS := int64(0), int64(0)
	found := false
	for _, coins := range perExchange {
		for _, cs := range coins {
			if len(cs) == 0 {
				continue
			}
			if !found || cs[0].TS < startTS {
				startTS = cs[0].TS
			}
			if !found || cs[len(cs)-1].TS > endTS {
				endTS = cs[len(cs)-1].TS
			}
			found = true
		}
	}
	if !found {
		return nil, ErrNoSeries
	}

	out := &Combined{
		StartTS:      candle.FloorMinute(startTS),
		EndTS:        candle.FloorMinute(endTS),
		Series:       make(map[string]map[string][]candle.Candle),
		VolumeRatios: ComputeExchangeVolumeRatios(perExchange),
		Primary:      make(map[string]string),
	}

	for exchange, coins := range perExchange {
		for coin, cs := range coins {
			if len(cs) == 0 {
				continue
			}
			if out.Series[coin] == nil {
				out.Series[coin] = make(map[string][]candle.Candle)
			}
			out.Series[coin][exchange] = alignToGrid(cs, out.StartTS, out.GridLen())
		}
	}

	for coin, shares := range out.VolumeRatios {
		best, bestShare := "", -1.0
		exchanges := make([]string, 0, len(shares))
		for exchange := range shares {
			exchanges = append(exchanges, exchange)
		}
		sort.Strings(exchanges) // deterministic tie-break
		for _, exchange := range exchanges {
			if shares[exchange] > bestShare {
				best, bestShare = exchange, shares[exchange]
			}
		}
		out.Primary[coin] = best
	}
	return out, nil
}

// ComputeExchangeVolumeRatios returns, per coin, each exchange's share of the
// coin's total base volume across all exchanges.
func ComputeExchangeVolumeRatios(perExchange map[string]map[string][]candle.Candle) map[string]map[string]float64 {
	totals := make(map[string]map[string]float64)
	for exchange, coins := range perExchange {
		for coin, cs := range coins {
			if len(cs) == 0 {
				continue
			}
			sum := 0.0
			for _, c := range cs {
				sum += float64(c.BaseVolume)
			}
			if totals[coin] == nil {
				totals[coin] = make(map[string]float64)
			}
			totals[coin][exchange] = sum
		}
	}
	for _, shares := range totals {
		total := 0.0
		for _, v := range shares {
			total += v
		}
		for exchange, v := range shares {
			if total > 0 {
				shares[exchange] = v / total
			} else {
				shares[exchange] = 0
			}
		}
	}
	return totals
}

// alignToGrid projects a sorted series onto a minute grid of n slots starting
// at startTS. Known minutes pass through; missing ones become flat candles at
// the last known close (or the first open before coverage begins).
func alignToGrid(cs []candle.Candle, startTS int64, n int) []candle.Candle {
	out := make([]candle.Candle, 0, n)
	j := 0
	lastClose := cs[0].Open
	for i := 0; i < n; i++ {
		ts := startTS + int64(i)*candle.OneMinMS
		for j < len(cs) && cs[j].TS < ts {
			lastClose = cs[j].Close
			j++
		}
		if j < len(cs) && cs[j].TS == ts {
			out = append(out, cs[j])
			lastClose = cs[j].Close
			j++
			continue
		}
		out = append(out, candle.Flat(ts, lastClose))
	}
	return out
}
