// Package store keeps per-symbol minute candle history in capacity-bounded
// in-memory buffers backed by fixed-width day files on disk. The on-disk
// files are shared across processes; every operation that touches them runs
// under the file lock coordinator.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/candle"
	"main/internal/lockfile"
)

var ErrInvalidCandle = errors.New("store: candle violates series invariants")

// Config controls store placement and retention.
type Config struct {
	// Dir is the root directory holding one subdirectory per symbol.
	Dir string
	// Capacity bounds candles kept in memory per symbol. Zero means the
	// 20,000 default.
	Capacity int
	// EmaSpan, when > 0, maintains a derived EMA series per symbol.
	EmaSpan float64
	// Lock configures the cross-process lock coordinator.
	Lock lockfile.Config
	// Now overrides the wall clock, for tests.
	Now func() int64
}

func (c Config) withDefaults() Config {
	if c.Capacity <= 0 {
		c.Capacity = candle.DefaultMaxCandlesPerSymbol
	}
	if c.Now == nil {
		c.Now = candle.UTCNowMS
	}
	return c
}

// Store owns the symbol buffers and is the sole writer of the backing files
// it manages. Consumers read through it; they never touch the files directly.
// Safe for concurrent use.
type Store struct {
	cfg   Config
	coord *lockfile.Coordinator

	mu      sync.Mutex
	buffers map[string]*symbolBuffer
}

type symbolBuffer struct {
	candles []candle.Candle // sorted by TS, unique
	ema     []candle.EmaPoint
}

// New creates a store rooted at cfg.Dir.
func New(cfg Config) *Store {
	cfg = cfg.withDefaults()
	return &Store{
		cfg:     cfg,
		coord:   lockfile.NewCoordinator(cfg.Lock),
		buffers: make(map[string]*symbolBuffer),
	}
}

// Append merges candles into the symbol's buffer and persists the touched day
// files. Candles violating the series invariants fail the whole call; stale
// candles (older than the oldest retained entry) and duplicate timestamps are
// skipped, making Append idempotent. Returns the number of candles accepted.
func (s *Store) Append(ctx context.Context, symbol string, cs []candle.Candle) (int, error) {
	for _, c := range cs {
		if !c.Valid() {
			return 0, errors.Wrap(ErrInvalidCandle, fmt.Sprintf("%s ts=%d", symbol, c.TS))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	buf, err := s.buffer(ctx, symbol)
	if err != nil {
		return 0, err
	}

	incoming := make([]candle.Candle, len(cs))
	copy(incoming, cs)
	sortCandles(incoming)

	accepted := make([]candle.Candle, 0, len(incoming))
	skipped := 0
	for _, c := range incoming {
		if len(buf.candles) > 0 && c.TS < buf.candles[0].TS {
			skipped++ // stale: older than the oldest retained entry
			continue
		}
		if _, ok := findTS(buf.candles, c.TS); ok {
			skipped++ // duplicate timestamp
			continue
		}
		accepted = append(accepted, c)
	}
	if skipped > 0 {
		logs.Debugf("[store] %s: skipped %d stale/duplicate candles", symbol, skipped)
	}
	if len(accepted) == 0 {
		return 0, nil
	}

	buf.candles = mergeSeries(buf.candles, accepted)
	s.evict(buf)
	s.recomputeEma(buf)

	days := map[int64]struct{}{}
	for _, c := range accepted {
		days[candle.DayStart(c.TS)] = struct{}{}
	}
	for day := range days {
		if err := s.persistDay(ctx, symbol, buf, day); err != nil {
			return len(accepted), errors.Wrap(err, "persist day")
		}
	}
	if s.cfg.EmaSpan > 0 {
		if err := s.persistEma(ctx, symbol, buf); err != nil {
			return len(accepted), errors.Wrap(err, "persist ema")
		}
	}
	return len(accepted), nil
}

// Read returns the candles with fromTS <= TS <= toTS in timestamp order.
func (s *Store) Read(ctx context.Context, symbol string, fromTS, toTS int64) ([]candle.Candle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, err := s.buffer(ctx, symbol)
	if err != nil {
		return nil, err
	}
	lo := sort.Search(len(buf.candles), func(i int) bool { return buf.candles[i].TS >= fromTS })
	hi := sort.Search(len(buf.candles), func(i int) bool { return buf.candles[i].TS > toTS })
	out := make([]candle.Candle, hi-lo)
	copy(out, buf.candles[lo:hi])
	return out, nil
}

// LastPrice returns the most recent close and its timestamp.
func (s *Store) LastPrice(ctx context.Context, symbol string) (price float64, ts int64, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPrice(ctx, symbol)
}

func (s *Store) lastPrice(ctx context.Context, symbol string) (price float64, ts int64, ok bool) {
	buf, err := s.buffer(ctx, symbol)
	if err != nil || len(buf.candles) == 0 {
		return 0, 0, false
	}
	last := buf.candles[len(buf.candles)-1]
	return float64(last.Close), last.TS, true
}

// LastPrices returns the latest close per symbol, omitting symbols whose most
// recent candle is older than maxAgeMS. Staleness is expected when a market
// is inactive, so omission is not an error.
func (s *Store) LastPrices(ctx context.Context, symbols []string, maxAgeMS int64) (map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.cfg.Now()
	out := make(map[string]float64, len(symbols))
	for _, symbol := range symbols {
		price, ts, ok := s.lastPrice(ctx, symbol)
		if !ok {
			continue
		}
		if maxAgeMS > 0 && now-ts > maxAgeMS {
			continue
		}
		out[symbol] = price
	}
	return out, nil
}

// EmaSeries returns the derived EMA samples for the buffered candles.
func (s *Store) EmaSeries(ctx context.Context, symbol string) ([]candle.EmaPoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf, err := s.buffer(ctx, symbol)
	if err != nil {
		return nil, err
	}
	out := make([]candle.EmaPoint, len(buf.ema))
	copy(out, buf.ema)
	return out, nil
}

// HasDay reports whether the buffer holds a complete day for the symbol.
func (s *Store) HasDay(ctx context.Context, symbol string, dayStart int64) (bool, error) {
	cs, err := s.Read(ctx, symbol, dayStart, dayStart+candle.DayMS-candle.OneMinMS)
	if err != nil {
		return false, err
	}
	return len(cs) == candle.CandlesPerDay, nil
}

// buffer returns the symbol's buffer, hydrating it from the newest day files
// on first access. Callers must hold s.mu.
func (s *Store) buffer(ctx context.Context, symbol string) (*symbolBuffer, error) {
	if buf, ok := s.buffers[symbol]; ok {
		return buf, nil
	}
	buf := &symbolBuffer{}
	if err := s.hydrate(ctx, symbol, buf); err != nil {
		return nil, err
	}
	s.recomputeEma(buf)
	s.buffers[symbol] = buf
	return buf, nil
}

func (s *Store) hydrate(ctx context.Context, symbol string, buf *symbolBuffer) error {
	dir := s.symbolDir(symbol)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var dayFiles []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".cnd") {
			dayFiles = append(dayFiles, e.Name())
		}
	}
	// Newest days first, stop once the buffer is full.
	sort.Sort(sort.Reverse(sort.StringSlice(dayFiles)))
	var loaded []candle.Candle
	for _, name := range dayFiles {
		if len(loaded) >= s.cfg.Capacity {
			break
		}
		path := filepath.Join(dir, name)
		var cs []candle.Candle
		if err := s.coord.WithLock(ctx, path, func() error {
			var rerr error
			cs, rerr = candle.ReadSeriesFile(path)
			return rerr
		}); err != nil {
			return errors.Wrap(err, "hydrate "+name)
		}
		loaded = append(loaded, cs...)
	}
	sortCandles(loaded)
	buf.candles = dedupeSorted(loaded)
	s.evict(buf)
	return nil
}

// persistDay rewrites one day file from the buffer, merging with whatever
// another process may have written since our last look.
func (s *Store) persistDay(ctx context.Context, symbol string, buf *symbolBuffer, dayStart int64) error {
	path := s.dayFilePath(symbol, dayStart)
	return s.coord.WithLock(ctx, path, func() error {
		onDisk, err := candle.ReadSeriesFile(path)
		if err != nil {
			logs.Warnf("[store] unreadable day file %s rebuilt, err: %+v", path, err)
			onDisk = nil
		}
		ours := sliceDay(buf.candles, dayStart)
		merged := mergeSeries(onDisk, ours)
		if news := len(merged) - len(ours); news > 0 {
			// Fold foreign rows back into the buffer as well.
			buf.candles = mergeSeries(buf.candles, merged)
			s.evict(buf)
		}
		return candle.WriteSeriesFile(path, merged)
	})
}

func (s *Store) persistEma(ctx context.Context, symbol string, buf *symbolBuffer) error {
	path := s.emaFilePath(symbol)
	return s.coord.WithLock(ctx, path, func() error {
		return candle.WriteEmaSeriesFile(path, buf.ema)
	})
}

func (s *Store) evict(buf *symbolBuffer) {
	if n := len(buf.candles) - s.cfg.Capacity; n > 0 {
		buf.candles = append(buf.candles[:0], buf.candles[n:]...)
	}
}

func (s *Store) recomputeEma(buf *symbolBuffer) {
	if s.cfg.EmaSpan <= 0 || len(buf.candles) == 0 {
		buf.ema = nil
		return
	}
	alpha := 2.0 / (s.cfg.EmaSpan + 1.0)
	buf.ema = buf.ema[:0]
	ema := float64(buf.candles[0].Close)
	for i, c := range buf.candles {
		if i > 0 {
			ema = alpha*float64(c.Close) + (1-alpha)*ema
		}
		buf.ema = append(buf.ema, candle.EmaPoint{TS: c.TS, Ema: float32(ema)})
	}
}

func (s *Store) symbolDir(symbol string) string {
	return filepath.Join(s.cfg.Dir, candle.SanitizeSymbol(symbol))
}

func (s *Store) dayFilePath(symbol string, dayStart int64) string {
	return filepath.Join(s.symbolDir(symbol), candle.DayString(dayStart)+".cnd")
}

func (s *Store) emaFilePath(symbol string) string {
	return filepath.Join(s.symbolDir(symbol), fmt.Sprintf("ema_%g.ema", s.cfg.EmaSpan))
}

func sortCandles(cs []candle.Candle) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].TS < cs[j].TS })
}

func findTS(cs []candle.Candle, ts int64) (int, bool) {
	i := sort.Search(len(cs), func(i int) bool { return cs[i].TS >= ts })
	if i < len(cs) && cs[i].TS == ts {
		return i, true
	}
	return i, false
}

func sliceDay(cs []candle.Candle, dayStart int64) []candle.Candle {
	lo := sort.Search(len(cs), func(i int) bool { return cs[i].TS >= dayStart })
	hi := sort.Search(len(cs), func(i int) bool { return cs[i].TS >= dayStart+candle.DayMS })
	return cs[lo:hi]
}

// mergeSeries unions two sorted series by timestamp. On a duplicate the entry
// from a wins, so rows already persisted are never rewritten by a newcomer.
func mergeSeries(a, b []candle.Candle) []candle.Candle {
	if len(a) == 0 {
		out := make([]candle.Candle, len(b))
		copy(out, b)
		return out
	}
	if len(b) == 0 {
		return a
	}
	out := make([]candle.Candle, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i].TS < b[j].TS:
			out = append(out, a[i])
			i++
		case a[i].TS > b[j].TS:
			out = append(out, b[j])
			j++
		default:
			out = append(out, a[i])
			i++
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}

func dedupeSorted(cs []candle.Candle) []candle.Candle {
	if len(cs) < 2 {
		return cs
	}
	out := cs[:1]
	for _, c := range cs[1:] {
		if c.TS != out[len(out)-1].TS {
			out = append(out, c)
		}
	}
	return out
}
