package main

import (
	"context"
	"flag"
	"log"
	"path/filepath"
	"strings"
	"time"

	"main/internal/candle"
	"main/internal/ingest"
	"main/internal/store"
)

func main() {
	storeRoot := flag.String("store-root", "testdata/exchanges", "Root holding one candle store per exchange")
	exchangesFlag := flag.String("exchanges", "", "Comma-separated exchange directory names (required)")
	coinsFlag := flag.String("coins", "", "Comma-separated symbols to combine (required)")
	fromFlag := flag.String("from", "", "Start day YYYY-MM-DD (required)")
	toFlag := flag.String("to", "", "End day YYYY-MM-DD inclusive (required)")
	outDir := flag.String("out", "", "Directory for aligned series output (empty=report only)")
	flag.Parse()

	exchanges := splitList(*exchangesFlag)
	coins := splitList(*coinsFlag)
	if len(exchanges) == 0 || len(coins) == 0 {
		log.Fatalf("-exchanges and -coins are required")
	}
	fromMS, err := parseDay(*fromFlag)
	if err != nil {
		log.Fatalf("bad -from: %v", err)
	}
	toMS, err := parseDay(*toFlag)
	if err != nil {
		log.Fatalf("bad -to: %v", err)
	}
	toMS += candle.DayMS - candle.OneMinMS

	ctx := context.Background()
	perExchange := make(map[string]map[string][]candle.Candle, len(exchanges))
	for _, exchange := range exchanges {
		st := store.New(store.Config{Dir: filepath.Join(*storeRoot, exchange)})
		perExchange[exchange] = make(map[string][]candle.Candle, len(coins))
		for _, coin := range coins {
			cs, err := st.Read(ctx, coin, fromMS, toMS)
			if err != nil {
				log.Fatalf("read %s %s failed: %v", exchange, coin, err)
			}
			perExchange[exchange][coin] = cs
		}
	}

	combined, err := ingest.PrepareHLCVsCombined(perExchange)
	if err != nil {
		log.Fatalf("combine failed: %v", err)
	}

	log.Printf("combined grid: %s .. %s (%d minutes)",
		candle.DayString(combined.StartTS), candle.DayString(combined.EndTS), combined.GridLen())
	for coin, shares := range combined.VolumeRatios {
		for exchange, share := range shares {
			log.Printf("volume share %s %s: %.4f", coin, exchange, share)
		}
		log.Printf("primary source %s: %s", coin, combined.Primary[coin])
	}

	if *outDir == "" {
		return
	}
	for coin, byExchange := range combined.Series {
		for exchange, cs := range byExchange {
			name := candle.SanitizeSymbol(coin) + "_" + exchange + ".cnd"
			if err := candle.WriteSeriesFile(filepath.Join(*outDir, name), cs); err != nil {
				log.Fatalf("write %s failed: %v", name, err)
			}
		}
	}
	log.Printf("aligned series written to %s", *outDir)
}

func parseDay(s string) (int64, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return 0, err
	}
	return t.UTC().UnixMilli(), nil
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
