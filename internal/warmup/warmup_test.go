package warmup

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"main/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Live: config.Live{WarmupRatio: 2.0},
		Bot: config.Bot{
			Long:  config.Params{EmaSpan0: 100, EmaSpan1: 400, FilterVolumeEmaSpan: 60, FilterLogRangeEmaSpan: 60},
			Short: config.Params{EmaSpan0: 100, EmaSpan1: 200},
		},
	}
}

func TestBacktestWarmupFromParams(t *testing.T) {
	cfg := baseConfig()
	// Longest span is 400 minutes, ratio 2 -> 800.
	assert.Equal(t, 800, BacktestWarmupMinutes(cfg))
}

func TestBacktestWarmupHourSpanDominates(t *testing.T) {
	cfg := baseConfig()
	cfg.Bot.Long.EntryGridSpacingLogSpanHours = 24 // 1440 minutes
	assert.Equal(t, 2880, BacktestWarmupMinutes(cfg))
}

func TestBacktestWarmupUsesOptimizerBounds(t *testing.T) {
	cfg := baseConfig()
	cfg.Optimize.Bounds = map[string]config.Bound{
		"long_ema_span_1":                         {100, 2000},
		"short_entry_grid_spacing_log_span_hours": {1, 48}, // 2880 minutes, dominant
	}
	assert.Equal(t, 2880*2, BacktestWarmupMinutes(cfg))
}

func TestPerCoinWarmupIgnoresBounds(t *testing.T) {
	cfg := baseConfig()
	cfg.Optimize.Bounds = map[string]config.Bound{
		"long_ema_span_1": {100, 100_000},
	}
	hundred := 1000.0
	cfg.CoinOverrides = map[string]config.CoinOverride{
		"DOGE": {Bot: config.BotOverride{Long: config.ParamsOverride{EmaSpan1: &hundred}}},
	}

	got := PerCoinWarmupMinutes(cfg)
	assert.Equal(t, 800, got[config.DefaultCoin])
	assert.Equal(t, 2000, got["DOGE"]) // override span 1000 x ratio 2
}

func TestWarmupCeiling(t *testing.T) {
	cfg := baseConfig()
	cfg.Live.MaxWarmupMinutes = 500
	assert.Equal(t, 500, BacktestWarmupMinutes(cfg))
}

func TestWarmupCeilingIgnoredWhenZero(t *testing.T) {
	cfg := baseConfig()
	cfg.Live.MaxWarmupMinutes = 0
	assert.Equal(t, 800, BacktestWarmupMinutes(cfg))
}

func TestWarmupRoundsUp(t *testing.T) {
	cfg := baseConfig()
	cfg.Live.WarmupRatio = 1.001
	// 400 * 1.001 = 400.4 -> 401
	assert.Equal(t, 401, BacktestWarmupMinutes(cfg))
}

func TestWarmupNonFiniteSpanIsZero(t *testing.T) {
	cfg := baseConfig()
	cfg.Bot.Long.EmaSpan1 = math.NaN()
	cfg.Bot.Long.EmaSpan0 = math.Inf(1)
	cfg.Bot.Short = config.Params{}
	cfg.Bot.Long.FilterVolumeEmaSpan = 0
	cfg.Bot.Long.FilterLogRangeEmaSpan = 0
	assert.Equal(t, 0, BacktestWarmupMinutes(cfg))
}

func TestWarmupNegativeRatioClamped(t *testing.T) {
	cfg := baseConfig()
	cfg.Live.WarmupRatio = -3
	assert.Equal(t, 0, BacktestWarmupMinutes(cfg))
}
