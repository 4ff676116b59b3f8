// Package paper simulates order placement, matching and position accounting
// against store prices. Public market data stays real; everything a private
// exchange endpoint would do is replayed in memory, so strategy logic can be
// exercised without touching an exchange.
package paper

import (
	"context"
	"fmt"
	"sort"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/candle"
	"main/internal/gateway"
	"main/internal/obs"
)

const (
	defaultWallet       = 10_000.0
	defaultMakerFee     = 0.0002
	defaultMaxAgeMS     = 10_000
	defaultContractMult = 1.0
)

var (
	ErrBadOrder    = errors.New("paper: order must have a symbol and qty > 0")
	ErrBadLimit    = errors.New("paper: limit order needs price > 0")
	ErrUnknownSide = errors.New("paper: side must be buy or sell")
)

// Side is the position side.
type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

// TradeSide is the order direction.
type TradeSide string

const (
	Buy  TradeSide = "buy"
	Sell TradeSide = "sell"
)

// OrderType selects immediate or resting execution.
type OrderType string

const (
	Market OrderType = "market"
	Limit  OrderType = "limit"
)

// Status is the order lifecycle state.
type Status string

const (
	StatusOpen     Status = "open"
	StatusClosed   Status = "closed"
	StatusCanceled Status = "canceled"
)

// PositionKey identifies one position slot.
type PositionKey struct {
	Symbol string
	Side   Side
}

// Position is one open position's size and weighted-average entry price.
type Position struct {
	Size  float64
	Price float64
}

// OrderRequest describes an order to place.
type OrderRequest struct {
	Symbol       string
	Side         TradeSide
	PositionSide Side
	Type         OrderType
	Qty          float64
	Price        float64
	ReduceOnly   bool
}

// Order is a placed order.
type Order struct {
	ID           string
	Symbol       string
	Side         TradeSide
	PositionSide Side
	Type         OrderType
	Qty          float64
	Price        float64
	ReduceOnly   bool
	Timestamp    int64
	Status       Status
	Filled       float64
}

// PnlRecord is one realized close, append-only.
type PnlRecord struct {
	ID           string
	Symbol       string
	Timestamp    int64
	Pnl          float64
	Fee          float64
	Side         TradeSide
	PositionSide Side
	Qty          float64
	Price        float64
}

// PriceSource supplies fresh last prices; stale symbols are omitted.
type PriceSource interface {
	LastPrices(ctx context.Context, symbols []string, maxAgeMS int64) (map[string]float64, error)
}

// MetaSource supplies read-only market metadata.
type MetaSource interface {
	MarketMeta(symbol string) (gateway.Meta, bool)
}

// Config wires an engine.
type Config struct {
	// Wallet seeds the balance. Zero means 10,000.
	Wallet float64
	// Prices is the store (or any source) matching consults.
	Prices PriceSource
	// Meta provides contract multiplier and maker fee. Optional.
	Meta MetaSource
	// MaxPriceAgeMS bounds how old a usable last price may be. Zero means 10s.
	MaxPriceAgeMS int64
	// Now overrides the wall clock, for tests.
	Now func() int64
}

// Engine holds paper wallet, positions, pending orders and the realized-PnL
// ledger. It is owned by the trading loop and is not safe for concurrent use.
type Engine struct {
	prices    PriceSource
	meta      MetaSource
	maxAgeMS  int64
	now       func() int64
	balance   float64
	positions map[PositionKey]Position
	orders    map[string]Order
	pnls      []PnlRecord
	seq       uint64
}

// NewEngine creates an engine with a fresh wallet.
func NewEngine(cfg Config) *Engine {
	if cfg.Wallet <= 0 {
		cfg.Wallet = defaultWallet
	}
	if cfg.MaxPriceAgeMS <= 0 {
		cfg.MaxPriceAgeMS = defaultMaxAgeMS
	}
	if cfg.Now == nil {
		cfg.Now = candle.UTCNowMS
	}
	logs.Infof("[paper] wallet initialised at %.2f", cfg.Wallet)
	obs.PaperBalance.Set(cfg.Wallet)
	return &Engine{
		prices:    cfg.Prices,
		meta:      cfg.Meta,
		maxAgeMS:  cfg.MaxPriceAgeMS,
		now:       cfg.Now,
		balance:   cfg.Wallet,
		positions: make(map[PositionKey]Position),
		orders:    make(map[string]Order),
	}
}

// PlaceOrder places an order. Market orders resolve immediately against the
// latest known price when one is fresh enough, otherwise they rest in the
// open-orders map like a limit order.
func (e *Engine) PlaceOrder(ctx context.Context, req OrderRequest) (Order, error) {
	if req.Symbol == "" || req.Qty <= 0 {
		return Order{}, ErrBadOrder
	}
	if req.Side != Buy && req.Side != Sell {
		return Order{}, ErrUnknownSide
	}
	if req.PositionSide == "" {
		req.PositionSide = Long
	}
	if req.Type == "" {
		req.Type = Limit
	}
	if req.Type == Limit && req.Price <= 0 {
		return Order{}, ErrBadLimit
	}

	order := Order{
		ID:           e.nextOrderID(),
		Symbol:       req.Symbol,
		Side:         req.Side,
		PositionSide: req.PositionSide,
		Type:         req.Type,
		Qty:          req.Qty,
		Price:        req.Price,
		ReduceOnly:   req.ReduceOnly,
		Timestamp:    e.now(),
		Status:       StatusOpen,
	}

	if order.Type == Market {
		if price, ok := e.lastPrice(ctx, order.Symbol); ok {
			e.fill(&order, price)
			order.Status = StatusClosed
			order.Filled = order.Qty
			logs.Infof("[paper] market fill %s %s %s qty=%v @ %v",
				order.Side, order.PositionSide, order.Symbol, order.Qty, price)
			return order, nil
		}
		// No usable price yet: rest in the book and let matching pick it up.
	}

	e.orders[order.ID] = order
	logs.Infof("[paper] placed %s %s %s qty=%v @ %v",
		order.Side, order.PositionSide, order.Symbol, order.Qty, order.Price)
	return order, nil
}

// MatchPendingOrders compares every resting order against the latest prices:
// a buy fills when last <= limit, a sell when last >= limit, at the limit
// price. A failed price lookup skips the pass; matching runs on a cadence and
// retries next cycle.
func (e *Engine) MatchPendingOrders(ctx context.Context) {
	if len(e.orders) == 0 {
		return
	}
	symbolSet := make(map[string]struct{}, len(e.orders))
	for _, o := range e.orders {
		symbolSet[o.Symbol] = struct{}{}
	}
	symbols := make([]string, 0, len(symbolSet))
	for s := range symbolSet {
		symbols = append(symbols, s)
	}
	prices, err := e.prices.LastPrices(ctx, symbols, e.maxAgeMS)
	if err != nil {
		logs.Debugf("[paper] skip matching pass, err: %+v", err)
		return
	}

	ids := make([]string, 0, len(e.orders))
	for id := range e.orders {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		order := e.orders[id]
		last, ok := prices[order.Symbol]
		if !ok || last <= 0 {
			continue
		}
		if (order.Side == Buy && last <= order.Price) ||
			(order.Side == Sell && last >= order.Price) {
			e.fill(&order, order.Price)
			delete(e.orders, id)
		}
	}
}

// CancelOrder removes a resting order. Unknown ids are a no-op.
func (e *Engine) CancelOrder(id string) {
	delete(e.orders, id)
}

// fill applies one fill to paper state. Reduce-only fills close: the
// effective quantity is clamped to the position size so an over-sized close
// can never flip the sign. Other fills open or add, moving the
// weighted-average entry price.
func (e *Engine) fill(order *Order, fillPrice float64) {
	key := PositionKey{Symbol: order.Symbol, Side: order.PositionSide}
	cMult := e.contractMult(order.Symbol)
	feeRate := e.feeRate(order.Symbol)

	if order.ReduceOnly {
		pos := e.positions[key]
		effective := order.Qty
		if effective > pos.Size {
			obs.OrderClamps.Inc()
			logs.Warnf("[paper] close %s %s: close qty=%v exceeds position size=%v; clamping",
				order.PositionSide, order.Symbol, order.Qty, pos.Size)
			effective = pos.Size
		}
		fee := fillPrice * effective * cMult * feeRate
		var pnl float64
		if order.PositionSide == Long {
			pnl = (fillPrice - pos.Price) * effective * cMult
		} else {
			pnl = (pos.Price - fillPrice) * effective * cMult
		}
		e.balance += pnl - fee
		newSize := pos.Size - effective
		if newSize == 0 {
			delete(e.positions, key)
		} else {
			e.positions[key] = Position{Size: newSize, Price: pos.Price}
		}
		e.pnls = append(e.pnls, PnlRecord{
			ID:           e.nextPnlID(),
			Symbol:       order.Symbol,
			Timestamp:    e.now(),
			Pnl:          pnl,
			Fee:          fee,
			Side:         order.Side,
			PositionSide: order.PositionSide,
			Qty:          effective,
			Price:        fillPrice,
		})
		obs.PaperFills.WithLabelValues("close").Inc()
		obs.PaperBalance.Set(e.balance)
		logs.Infof("[paper] fill (close) %s %s qty=%v @ %v pnl=%.4f fee=%.4f balance=%.2f",
			order.PositionSide, order.Symbol, effective, fillPrice, pnl, fee, e.balance)
		return
	}

	fee := fillPrice * order.Qty * cMult * feeRate
	e.balance -= fee
	pos := e.positions[key]
	newSize := pos.Size + order.Qty
	newPrice := fillPrice
	if newSize > 0 && pos.Size > 0 {
		newPrice = (pos.Price*pos.Size + fillPrice*order.Qty) / newSize
	}
	e.positions[key] = Position{Size: newSize, Price: newPrice}
	obs.PaperFills.WithLabelValues("open").Inc()
	obs.PaperBalance.Set(e.balance)
	logs.Infof("[paper] fill (entry) %s %s qty=%v @ %v fee=%.4f pos_size=%v avg_price=%.4f balance=%.2f",
		order.PositionSide, order.Symbol, order.Qty, fillPrice, fee, newSize, newPrice, e.balance)
}

// Balance returns the current wallet balance.
func (e *Engine) Balance() float64 {
	return e.balance
}

// PositionFor returns one position slot.
func (e *Engine) PositionFor(symbol string, side Side) (Position, bool) {
	pos, ok := e.positions[PositionKey{Symbol: symbol, Side: side}]
	return pos, ok
}

// PositionView is one open position with its key.
type PositionView struct {
	Symbol string
	Side   Side
	Size   float64
	Price  float64
}

// Positions returns the open positions sorted by symbol then side.
func (e *Engine) Positions() []PositionView {
	out := make([]PositionView, 0, len(e.positions))
	for key, pos := range e.positions {
		if pos.Size == 0 {
			continue
		}
		out = append(out, PositionView{
			Symbol: key.Symbol,
			Side:   key.Side,
			Size:   pos.Size,
			Price:  pos.Price,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Side < out[j].Side
	})
	return out
}

// OpenOrders returns resting orders, optionally filtered by symbol, after a
// matching pass (mirroring how an exchange would report only what is left).
func (e *Engine) OpenOrders(ctx context.Context, symbol string) []Order {
	e.MatchPendingOrders(ctx)
	out := make([]Order, 0, len(e.orders))
	for _, o := range e.orders {
		if symbol == "" || o.Symbol == symbol {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Pnls returns a copy of the realized-PnL ledger.
func (e *Engine) Pnls() []PnlRecord {
	out := make([]PnlRecord, len(e.pnls))
	copy(out, e.pnls)
	return out
}

func (e *Engine) lastPrice(ctx context.Context, symbol string) (float64, bool) {
	prices, err := e.prices.LastPrices(ctx, []string{symbol}, e.maxAgeMS)
	if err != nil {
		return 0, false
	}
	price, ok := prices[symbol]
	return price, ok && price > 0
}

func (e *Engine) feeRate(symbol string) float64 {
	if e.meta != nil {
		if m, ok := e.meta.MarketMeta(symbol); ok && m.MakerFee > 0 {
			return m.MakerFee
		}
	}
	return defaultMakerFee
}

func (e *Engine) contractMult(symbol string) float64 {
	if e.meta != nil {
		if m, ok := e.meta.MarketMeta(symbol); ok && m.ContractMult > 0 {
			return m.ContractMult
		}
	}
	return defaultContractMult
}

func (e *Engine) nextOrderID() string {
	e.seq++
	return fmt.Sprintf("paper_%d", e.seq)
}

func (e *Engine) nextPnlID() string {
	e.seq++
	return fmt.Sprintf("paper_%d", e.seq)
}
