package gateway

import (
	"context"
	"os"
	"path/filepath"
	"strconv"

	json "github.com/goccy/go-json"
	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/candle"
)

// jsonPrice is a decimal that accepts both encodings exchanges use for
// numeric fields: a bare JSON number or a quoted string.
type jsonPrice struct {
	decimal.Decimal
}

func (p *jsonPrice) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	p.Decimal = decimal.Decimal(s)
	return nil
}

// cachedRow is the JSON row shape of the local dumps.
type cachedRow struct {
	TS     int64     `json:"ts"`
	Open   jsonPrice `json:"o"`
	High   jsonPrice `json:"h"`
	Low    jsonPrice `json:"l"`
	Close  jsonPrice `json:"c"`
	Volume jsonPrice `json:"bv"`
}

// cachedMeta is the JSON market metadata shape of markets.json.
type cachedMeta struct {
	ContractMult float64 `json:"contract_mult"`
	Maker        float64 `json:"maker"`
	MaxLeverage  float64 `json:"max_leverage"`
}

// CacheGateway serves raw OHLCV rows from a local dump directory laid out as
// <dir>/<SYMBOL>/<YYYY-MM-DD>.json plus an optional <dir>/markets.json.
type CacheGateway struct {
	dir     string
	markets map[string]Meta
}

// NewCacheGateway opens a dump directory and loads its market metadata.
func NewCacheGateway(dir string) (*CacheGateway, error) {
	g := &CacheGateway{dir: dir, markets: make(map[string]Meta)}
	data, err := os.ReadFile(filepath.Join(dir, "markets.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return g, nil
		}
		return nil, err
	}
	var raw map[string]cachedMeta
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "decode markets.json")
	}
	for symbol, m := range raw {
		g.markets[symbol] = Meta{
			ContractMult: m.ContractMult,
			MakerFee:     m.Maker,
			MaxLeverage:  m.MaxLeverage,
		}
	}
	return g, nil
}

// FetchOHLCVs reads every day dump intersecting [sinceMS, untilMS). Missing
// day files are skipped; the pipeline's validation decides what is complete.
func (g *CacheGateway) FetchOHLCVs(ctx context.Context, symbol string, sinceMS, untilMS int64) ([]Row, error) {
	if untilMS <= sinceMS {
		return nil, nil
	}
	var rows []Row
	for _, day := range candle.DaysBetween(sinceMS, untilMS-1) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		path := filepath.Join(g.dir, candle.SanitizeSymbol(symbol), candle.DayString(day)+".json")
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		var cached []cachedRow
		if err := json.Unmarshal(data, &cached); err != nil {
			logs.Warnf("[gateway] skip unreadable dump %s, err: %+v", path, err)
			continue
		}
		for _, r := range cached {
			rows = append(rows, Row{
				TS:     r.TS,
				Open:   decF64(r.Open.Decimal),
				High:   decF64(r.High.Decimal),
				Low:    decF64(r.Low.Decimal),
				Close:  decF64(r.Close.Decimal),
				Volume: decF64(r.Volume.Decimal),
			})
		}
	}
	out := rows[:0]
	for _, r := range rows {
		if ts := candle.NormalizeMillis(r.TS); ts >= sinceMS && ts < untilMS {
			out = append(out, r)
		}
	}
	return out, nil
}

// MarketMeta reports metadata loaded from markets.json.
func (g *CacheGateway) MarketMeta(symbol string) (Meta, bool) {
	m, ok := g.markets[symbol]
	return m, ok
}

func decF64(d decimal.Decimal) float64 {
	s := d.String()
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
