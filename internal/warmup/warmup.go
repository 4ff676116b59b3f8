// Package warmup derives how much historical lookback the indicators need
// before their state is considered converged.
package warmup

import (
	"math"

	"main/internal/config"
)

// Minute-denominated parameter fields scanned for the longest span.
var minuteBoundKeys = []string{
	"long_ema_span_0",
	"long_ema_span_1",
	"long_filter_volume_ema_span",
	"long_filter_log_range_ema_span",
	"short_ema_span_0",
	"short_ema_span_1",
	"short_filter_volume_ema_span",
	"short_filter_log_range_ema_span",
}

// Hour-denominated bound keys, converted x60.
var hourBoundKeys = []string{
	"long_entry_grid_spacing_log_span_hours",
	"short_entry_grid_spacing_log_span_hours",
}

// BacktestWarmupMinutes returns the warmup horizon for a backtest covering
// the whole optimizer search space: the longest span across every parameter
// set and every optimizer bound, scaled by live.warmup_ratio and clamped to
// live.max_warmup_minutes when that is set.
func BacktestWarmupMinutes(cfg *config.Config) int {
	maxMinutes := 0.0
	for _, set := range cfg.ParamSets() {
		maxMinutes = math.Max(maxMinutes, paramSpanMinutes(set))
	}
	for _, key := range minuteBoundKeys {
		if b, ok := cfg.Optimize.Bounds[key]; ok {
			maxMinutes = math.Max(maxMinutes, b.Max())
		}
	}
	for _, key := range hourBoundKeys {
		if b, ok := cfg.Optimize.Bounds[key]; ok {
			maxMinutes = math.Max(maxMinutes, b.Max()*60)
		}
	}
	return scale(cfg, maxMinutes)
}

// PerCoinWarmupMinutes returns the warmup horizon per coin (plus the default
// set) using only that coin's own parameters. It sizes a live fetch window
// for one symbol, so the optimizer bounds are not consulted.
func PerCoinWarmupMinutes(cfg *config.Config) map[string]int {
	out := make(map[string]int)
	for _, set := range cfg.ParamSets() {
		out[set.Coin] = scale(cfg, paramSpanMinutes(set))
	}
	return out
}

func paramSpanMinutes(set config.ParamSet) float64 {
	maxMinutes := 0.0
	for _, p := range [2]config.Params{set.Long, set.Short} {
		for _, span := range [4]float64{
			p.EmaSpan0,
			p.EmaSpan1,
			p.FilterVolumeEmaSpan,
			p.FilterLogRangeEmaSpan,
		} {
			maxMinutes = math.Max(maxMinutes, span)
		}
		maxMinutes = math.Max(maxMinutes, p.EntryGridSpacingLogSpanHours*60)
	}
	return maxMinutes
}

// scale applies the warmup ratio and the optional ceiling. Non-finite spans
// yield zero rather than propagating NaN.
func scale(cfg *config.Config, maxMinutes float64) int {
	if math.IsNaN(maxMinutes) || math.IsInf(maxMinutes, 0) {
		return 0
	}
	minutes := maxMinutes * math.Max(0, cfg.Live.WarmupRatio)
	if limit := cfg.Live.MaxWarmupMinutes; limit > 0 {
		minutes = math.Min(minutes, limit)
	}
	if minutes <= 0 {
		return 0
	}
	return int(math.Ceil(minutes))
}
