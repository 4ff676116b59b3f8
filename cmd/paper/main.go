package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"main/internal/config"
	"main/internal/gateway"
	"main/internal/obs"
	"main/internal/paper"
	"main/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Path to JSON config (required)")
	storeDir := flag.String("store-dir", "testdata/candles", "Candle store root directory")
	cacheDir := flag.String("cache-dir", "", "Raw dump directory providing market metadata (optional)")
	symbolsFlag := flag.String("symbols", "", "Comma-separated symbols to trade (required)")
	interval := flag.Duration("interval", time.Second, "Matching pass cadence")
	orderEvery := flag.Int("order-every", 10, "Place one demo order every N passes (0=disable)")
	maxOrders := flag.Int("max-orders", 0, "Maximum demo orders to place (0=unlimited)")
	orderQty := flag.Float64("order-qty", 1, "Demo order quantity")
	offsetPct := flag.Float64("limit-offset-pct", 0.001, "Limit price offset from last price")
	duration := flag.Duration("duration", 0, "Stop after this long (0=until signal)")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus listen address (empty=disable)")
	flag.Parse()

	if *configPath == "" {
		log.Fatalf("-config is required")
	}
	symbols := splitList(*symbolsFlag)
	if len(symbols) == 0 {
		log.Fatalf("-symbols is required")
	}
	if *orderEvery < 0 || *maxOrders < 0 {
		log.Fatalf("order-every and max-orders must be >= 0")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if *metricsAddr != "" {
		srv := obs.Serve(*metricsAddr)
		defer srv.Close()
	}

	var meta paper.MetaSource
	if *cacheDir != "" {
		gw, err := gateway.NewCacheGateway(*cacheDir)
		if err != nil {
			log.Fatalf("cache gateway init failed: %v", err)
		}
		meta = gw
	}

	st := store.New(store.Config{Dir: *storeDir})
	engine := paper.NewEngine(paper.Config{
		Wallet: cfg.Wallet(),
		Prices: st,
		Meta:   meta,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if *duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	run(ctx, engine, st, symbols, *interval, *orderEvery, *maxOrders, *orderQty, *offsetPct)

	log.Printf("paper completed: balance=%.2f positions=%d pnls=%d",
		engine.Balance(), len(engine.Positions()), len(engine.Pnls()))
	for _, pos := range engine.Positions() {
		log.Printf("position %s %s size=%v avg_price=%.4f", pos.Symbol, pos.Side, pos.Size, pos.Price)
	}
}

// run drives the periodic matching cadence and, when enabled, places demo
// orders: an entry below market, then a reduce-only close above it.
func run(ctx context.Context, engine *paper.Engine, st *store.Store, symbols []string, interval time.Duration, orderEvery, maxOrders int, qty, offsetPct float64) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tick := 0
	placed := 0
	closing := false
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		engine.MatchPendingOrders(ctx)

		tick++
		if orderEvery == 0 || tick%orderEvery != 0 {
			continue
		}
		if maxOrders > 0 && placed >= maxOrders {
			continue
		}
		symbol := symbols[placed%len(symbols)]
		last, _, ok := st.LastPrice(ctx, symbol)
		if !ok {
			continue
		}
		req := paper.OrderRequest{
			Symbol:       symbol,
			Side:         paper.Buy,
			PositionSide: paper.Long,
			Type:         paper.Limit,
			Qty:          qty,
			Price:        last * (1 - offsetPct),
		}
		if closing {
			req.Side = paper.Sell
			req.Price = last * (1 + offsetPct)
			req.ReduceOnly = true
		}
		if _, err := engine.PlaceOrder(ctx, req); err != nil {
			log.Printf("place order failed: %v", err)
			continue
		}
		placed++
		closing = !closing
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
