// Package config loads the trading configuration surface consumed by the
// warmup calculator, the ingestion pipeline and the paper trading engine.
package config

import (
	"os"

	json "github.com/goccy/go-json"
	"github.com/yanun0323/errors"
)

// DefaultCoin keys the base parameter set in per-coin maps.
const DefaultCoin = "__default__"

// Config mirrors the JSON config layout.
type Config struct {
	Live          Live                    `json:"live"`
	Bot           Bot                     `json:"bot"`
	CoinOverrides map[string]CoinOverride `json:"coin_overrides"`
	Optimize      Optimize                `json:"optimize"`
}

// Live holds runtime settings.
type Live struct {
	// WarmupRatio scales the longest indicator span into a fetch horizon.
	// Indicator convergence needs more history than the span itself.
	WarmupRatio float64 `json:"warmup_ratio"`
	// MaxWarmupMinutes caps the warmup horizon when > 0.
	MaxWarmupMinutes float64 `json:"max_warmup_minutes"`
	// DryRunWallet seeds the paper trading balance. Zero means 10,000.
	DryRunWallet float64 `json:"dry_run_wallet"`
}

// Bot holds the default per-side parameter sets.
type Bot struct {
	Long  Params `json:"long"`
	Short Params `json:"short"`
}

// Params is one side's bot parameter set.
type Params struct {
	EmaSpan0                     float64 `json:"ema_span_0"`
	EmaSpan1                     float64 `json:"ema_span_1"`
	FilterVolumeEmaSpan          float64 `json:"filter_volume_ema_span"`
	FilterLogRangeEmaSpan        float64 `json:"filter_log_range_ema_span"`
	EntryGridSpacingLogSpanHours float64 `json:"entry_grid_spacing_log_span_hours"`
	NPositions                   float64 `json:"n_positions"`
	TotalWalletExposureLimit     float64 `json:"total_wallet_exposure_limit"`
	EntryInitialQtyPct           float64 `json:"entry_initial_qty_pct"`
}

// CoinOverride carries a coin's partial parameter overrides.
type CoinOverride struct {
	Bot BotOverride `json:"bot"`
}

// BotOverride carries per-side partial overrides.
type BotOverride struct {
	Long  ParamsOverride `json:"long"`
	Short ParamsOverride `json:"short"`
}

// ParamsOverride overrides individual fields of Params. Nil fields keep the
// base value, matching per-key dictionary merge semantics.
type ParamsOverride struct {
	EmaSpan0                     *float64 `json:"ema_span_0"`
	EmaSpan1                     *float64 `json:"ema_span_1"`
	FilterVolumeEmaSpan          *float64 `json:"filter_volume_ema_span"`
	FilterLogRangeEmaSpan        *float64 `json:"filter_log_range_ema_span"`
	EntryGridSpacingLogSpanHours *float64 `json:"entry_grid_spacing_log_span_hours"`
	NPositions                   *float64 `json:"n_positions"`
	TotalWalletExposureLimit     *float64 `json:"total_wallet_exposure_limit"`
	EntryInitialQtyPct           *float64 `json:"entry_initial_qty_pct"`
}

// Optimize holds the optimizer search space.
type Optimize struct {
	Bounds map[string]Bound `json:"bounds"`
}

// Bound is an optimizer search-space entry: either a literal value or an
// interval [low, high].
type Bound []float64

// UnmarshalJSON accepts both a scalar and an array form.
func (b *Bound) UnmarshalJSON(data []byte) error {
	var scalar float64
	if err := json.Unmarshal(data, &scalar); err == nil {
		*b = Bound{scalar}
		return nil
	}
	var interval []float64
	if err := json.Unmarshal(data, &interval); err != nil {
		return err
	}
	*b = Bound(interval)
	return nil
}

// Max returns the largest value the bound admits.
func (b Bound) Max() float64 {
	max := 0.0
	for _, v := range b {
		if v > max {
			max = v
		}
	}
	return max
}

// Load reads and validates a JSON config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the required fields.
func (c *Config) Validate() error {
	if c.Live.WarmupRatio <= 0 {
		return errors.New("config: live.warmup_ratio is required and must be > 0")
	}
	if c.Live.MaxWarmupMinutes < 0 {
		return errors.New("config: live.max_warmup_minutes must be >= 0")
	}
	if c.Live.DryRunWallet < 0 {
		return errors.New("config: live.dry_run_wallet must be >= 0")
	}
	return nil
}

// Wallet returns the paper wallet seed, applying the 10,000 default.
func (c *Config) Wallet() float64 {
	if c.Live.DryRunWallet > 0 {
		return c.Live.DryRunWallet
	}
	return 10_000
}

// ParamSet is one resolved (coin, long, short) parameter combination.
type ParamSet struct {
	Coin  string
	Long  Params
	Short Params
}

// ParamSets returns the default set followed by each coin override merged
// onto the defaults field by field.
func (c *Config) ParamSets() []ParamSet {
	sets := []ParamSet{{Coin: DefaultCoin, Long: c.Bot.Long, Short: c.Bot.Short}}
	for coin, ov := range c.CoinOverrides {
		sets = append(sets, ParamSet{
			Coin:  coin,
			Long:  ov.Bot.Long.apply(c.Bot.Long),
			Short: ov.Bot.Short.apply(c.Bot.Short),
		})
	}
	return sets
}

func (o ParamsOverride) apply(base Params) Params {
	set := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	set(&base.EmaSpan0, o.EmaSpan0)
	set(&base.EmaSpan1, o.EmaSpan1)
	set(&base.FilterVolumeEmaSpan, o.FilterVolumeEmaSpan)
	set(&base.FilterLogRangeEmaSpan, o.FilterLogRangeEmaSpan)
	set(&base.EntryGridSpacingLogSpanHours, o.EntryGridSpacingLogSpanHours)
	set(&base.NPositions, o.NPositions)
	set(&base.TotalWalletExposureLimit, o.TotalWalletExposureLimit)
	set(&base.EntryInitialQtyPct, o.EntryInitialQtyPct)
	return base
}
