package config

import (
	"os"
	"path/filepath"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `{
  "live": {
    "warmup_ratio": 2.0,
    "max_warmup_minutes": 10000,
    "dry_run_wallet": 2500
  },
  "bot": {
    "long": {
      "ema_span_0": 300,
      "ema_span_1": 1200,
      "filter_volume_ema_span": 60,
      "filter_log_range_ema_span": 60,
      "entry_grid_spacing_log_span_hours": 24,
      "n_positions": 5,
      "total_wallet_exposure_limit": 0.5,
      "entry_initial_qty_pct": 0.02
    },
    "short": {
      "ema_span_0": 300,
      "ema_span_1": 800
    }
  },
  "coin_overrides": {
    "DOGE": {
      "bot": {
        "long": {
          "ema_span_1": 5000,
          "n_positions": 3
        }
      }
    }
  },
  "optimize": {
    "bounds": {
      "long_ema_span_1": [100, 10000],
      "long_n_positions": 5
    }
  }
}`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 2.0, cfg.Live.WarmupRatio)
	assert.Equal(t, 2500.0, cfg.Wallet())
	assert.Equal(t, 1200.0, cfg.Bot.Long.EmaSpan1)
	assert.Equal(t, 24.0, cfg.Bot.Long.EntryGridSpacingLogSpanHours)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}

func TestValidateWarmupRatioRequired(t *testing.T) {
	_, err := Load(writeConfig(t, `{"live": {"warmup_ratio": 0}}`))
	require.ErrorContains(t, err, "warmup_ratio")
}

func TestWalletDefault(t *testing.T) {
	cfg := &Config{Live: Live{WarmupRatio: 1}}
	assert.Equal(t, 10_000.0, cfg.Wallet())
}

func TestParamSetsMergeOverrides(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	sets := cfg.ParamSets()
	require.Len(t, sets, 2)
	assert.Equal(t, DefaultCoin, sets[0].Coin)

	var doge ParamSet
	for _, s := range sets {
		if s.Coin == "DOGE" {
			doge = s
		}
	}
	require.Equal(t, "DOGE", doge.Coin)

	// Overridden fields replace the base, everything else inherits.
	assert.Equal(t, 5000.0, doge.Long.EmaSpan1)
	assert.Equal(t, 3.0, doge.Long.NPositions)
	assert.Equal(t, 300.0, doge.Long.EmaSpan0)
	assert.Equal(t, 0.5, doge.Long.TotalWalletExposureLimit)
	assert.Equal(t, cfg.Bot.Short, doge.Short)
}

func TestBoundScalarAndInterval(t *testing.T) {
	var bounds map[string]Bound
	require.NoError(t, json.Unmarshal([]byte(`{"a": 7, "b": [1, 9]}`), &bounds))

	assert.Equal(t, Bound{7}, bounds["a"])
	assert.Equal(t, Bound{1, 9}, bounds["b"])
	assert.Equal(t, 7.0, bounds["a"].Max())
	assert.Equal(t, 9.0, bounds["b"].Max())
}

func TestBoundRejectsGarbage(t *testing.T) {
	var b Bound
	require.Error(t, json.Unmarshal([]byte(`"not a bound"`), &b))
}
