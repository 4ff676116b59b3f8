package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	pyroscope "github.com/grafana/pyroscope-go"

	"main/internal/config"
	"main/internal/gateway"
	"main/internal/ingest"
	"main/internal/lockfile"
	"main/internal/store"
)

func main() {
	configPath := flag.String("config", "", "Path to JSON config (required)")
	storeDir := flag.String("store-dir", "testdata/candles", "Candle store root directory")
	cacheDir := flag.String("cache-dir", "testdata/ohlcv_cache", "Raw OHLCV dump directory")
	coinsFlag := flag.String("coins", "", "Comma-separated symbols to warm up (required)")
	emaSpan := flag.Float64("ema-span", 0, "Maintain a derived EMA series with this span (0=disable)")
	stalePolicy := flag.String("stale-policy", "break", "Stale lock remediation: break|wait")
	concurrency := flag.Int("concurrency", 4, "Concurrent per-coin fetches")
	pyroscopeAddr := flag.String("pyroscope-addr", "", "Pyroscope server address (empty=disable)")
	flag.Parse()

	if *configPath == "" {
		log.Fatalf("-config is required")
	}
	coins := splitList(*coinsFlag)
	if len(coins) == 0 {
		log.Fatalf("-coins is required")
	}

	if *pyroscopeAddr != "" {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: "mdb/downloader",
			ServerAddress:   *pyroscopeAddr,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			log.Fatalf("pyroscope start failed: %v", err)
		}
		defer profiler.Stop()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	gw, err := gateway.NewCacheGateway(*cacheDir)
	if err != nil {
		log.Fatalf("cache gateway init failed: %v", err)
	}

	st := store.New(store.Config{
		Dir:     *storeDir,
		EmaSpan: *emaSpan,
		Lock:    lockfile.Config{StalePolicy: parseStalePolicy(*stalePolicy)},
	})

	pipeline := ingest.NewPipeline(gw, st, ingest.WithFetchConcurrency(*concurrency))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report := pipeline.WarmupFetch(ctx, cfg, coins)
	for _, f := range report.Failures {
		log.Printf("failed unit: %s %s: %v", f.Coin, f.Day, f.Err)
	}
	log.Printf("downloader completed: coins=%d stored=%d cached=%d failed=%d",
		len(coins), report.DaysStored, report.DaysCached, len(report.Failures))
	if report.DaysStored == 0 && report.DaysCached == 0 && len(report.Failures) > 0 {
		os.Exit(1)
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

func parseStalePolicy(s string) lockfile.StalePolicy {
	if strings.EqualFold(s, "wait") {
		return lockfile.StaleWait
	}
	return lockfile.StaleBreak
}
