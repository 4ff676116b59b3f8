// Package ingest fetches raw OHLCV rows from the gateway or local cache,
// normalizes them into validated minute candles and feeds the store. Failures
// are scoped to one (coin, day) unit; a bad unit is reported and skipped, the
// run continues.
package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"golang.org/x/sync/errgroup"

	"main/internal/candle"
	"main/internal/config"
	"main/internal/gateway"
	"main/internal/obs"
	"main/internal/store"
	"main/internal/warmup"
)

var ErrFetchExhausted = errors.New("ingest: fetch retries exhausted")

const defaultMaxAttempts = 5

// Pipeline drives fetching into a store.
type Pipeline struct {
	gw          gateway.Gateway
	store       *store.Store
	backoff     Backoff
	maxAttempts int
	fetchLimit  int
	now         func() int64
}

// Option tweaks pipeline behavior.
type Option func(*Pipeline)

// WithMaxAttempts caps gateway retries per unit.
func WithMaxAttempts(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithBackoff replaces the retry backoff.
func WithBackoff(b Backoff) Option {
	return func(p *Pipeline) { p.backoff = b }
}

// WithFetchConcurrency bounds concurrent per-coin fetches.
func WithFetchConcurrency(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.fetchLimit = n
		}
	}
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() int64) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline wires a gateway to a store.
func NewPipeline(gw gateway.Gateway, st *store.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		gw:          gw,
		store:       st,
		backoff:     DefaultBackoff(),
		maxAttempts: defaultMaxAttempts,
		fetchLimit:  4,
		now:         candle.UTCNowMS,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// UnitFailure records one skipped (coin, day) unit.
type UnitFailure struct {
	Coin string
	Day  string
	Err  error
}

// Report summarizes a pipeline run.
type Report struct {
	DaysStored int
	DaysCached int
	Failures   []UnitFailure
}

func (r *Report) merge(other Report) {
	r.DaysStored += other.DaysStored
	r.DaysCached += other.DaysCached
	r.Failures = append(r.Failures, other.Failures...)
}

// FetchRange ingests [startMS, endMS) for one symbol day by day. Completed
// days must validate as exactly 1,440 uniform candles before they are stored;
// the trailing partial day (today) is stored as far as it goes. Unit failures
// are reported, never fatal.
func (p *Pipeline) FetchRange(ctx context.Context, symbol string, startMS, endMS int64) Report {
	var report Report
	if endMS <= startMS {
		return report
	}
	today := candle.DayStart(p.now())
	for _, day := range candle.DaysBetween(startMS, endMS-1) {
		if ctx.Err() != nil {
			break
		}
		if done, err := p.store.HasDay(ctx, symbol, day); err == nil && done {
			report.DaysCached++
			continue
		}
		cs, err := p.fetchUnit(ctx, symbol, day, day >= today)
		if err != nil {
			obs.ValidationFailures.WithLabelValues(reason(err)).Inc()
			logs.Warnf("[ingest] skip %s %s, err: %+v", symbol, candle.DayString(day), err)
			report.Failures = append(report.Failures, UnitFailure{
				Coin: symbol,
				Day:  candle.DayString(day),
				Err:  err,
			})
			continue
		}
		if _, err := p.store.Append(ctx, symbol, cs); err != nil {
			report.Failures = append(report.Failures, UnitFailure{
				Coin: symbol,
				Day:  candle.DayString(day),
				Err:  errors.Wrap(err, "append"),
			})
			continue
		}
		report.DaysStored++
	}
	return report
}

// WarmupFetch sizes the per-coin lookback from the configuration and ingests
// it for every coin concurrently.
func (p *Pipeline) WarmupFetch(ctx context.Context, cfg *config.Config, coins []string) Report {
	perCoin := warmup.PerCoinWarmupMinutes(cfg)
	now := candle.FloorMinute(p.now())

	var (
		mu    sync.Mutex
		total Report
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.fetchLimit)
	for _, coin := range coins {
		minutes, ok := perCoin[coin]
		if !ok {
			minutes = perCoin[config.DefaultCoin]
		}
		if minutes <= 0 {
			continue
		}
		start := now - int64(minutes)*candle.OneMinMS
		coin := coin
		g.Go(func() error {
			r := p.FetchRange(gctx, coin, start, now+candle.OneMinMS)
			mu.Lock()
			total.merge(r)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; failures live in the report
	return total
}

// fetchUnit fetches, normalizes, gap-fills and (for completed days)
// validates one (symbol, day) unit.
func (p *Pipeline) fetchUnit(ctx context.Context, symbol string, dayStart int64, partial bool) ([]candle.Candle, error) {
	rows, err := p.fetchWithRetry(ctx, symbol, dayStart, dayStart+candle.DayMS)
	if err != nil {
		return nil, err
	}
	rows = DeduplicateRows(EnsureMillis(rows))
	if len(rows) == 0 {
		return nil, ErrEmptyUnit
	}
	cs := FillGaps(ToCandles(rows))
	if !partial {
		if err := ValidateDay(dayStart, cs); err != nil {
			return nil, err
		}
	}
	return cs, nil
}

// fetchWithRetry retries transient gateway failures with exponential backoff
// plus jitter, up to the attempt cap.
func (p *Pipeline) fetchWithRetry(ctx context.Context, symbol string, sinceMS, untilMS int64) ([]gateway.Row, error) {
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		rows, err := p.gw.FetchOHLCVs(ctx, symbol, sinceMS, untilMS)
		if err == nil {
			return rows, nil
		}
		lastErr = err
		if attempt == p.maxAttempts {
			break
		}
		obs.FetchRetries.Inc()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.backoff.Next(attempt)):
		}
	}
	return nil, errors.Wrap(ErrFetchExhausted, lastErr.Error())
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrIncompleteDay):
		return "incomplete_day"
	case errors.Is(err, ErrGapDetected):
		return "gap"
	case errors.Is(err, ErrBadOHLC):
		return "bad_ohlc"
	case errors.Is(err, ErrEmptyUnit):
		return "empty"
	case errors.Is(err, ErrFetchExhausted):
		return "fetch_exhausted"
	default:
		return "other"
	}
}
