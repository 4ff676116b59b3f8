// Package obs exposes the Prometheus counters the backbone updates during
// operation, served at /metrics when a listen address is configured.
package obs

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// LockTimeouts counts Acquire calls that exhausted their budget.
	LockTimeouts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mdb_lock_timeouts_total",
		Help: "Lock acquisitions abandoned after the timeout",
	})

	// StaleLockBreaks counts abandoned locks forcibly reclaimed.
	StaleLockBreaks = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mdb_stale_lock_breaks_total",
		Help: "Stale lock files broken and reclaimed",
	})

	// ValidationFailures counts (coin, day) units rejected by the pipeline.
	ValidationFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mdb_validation_failures_total",
		Help: "Day units skipped by ingestion validation",
	}, []string{"reason"})

	// FetchRetries counts transient gateway fetch retries.
	FetchRetries = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mdb_fetch_retries_total",
		Help: "Gateway fetches retried after transient failures",
	})

	// PaperFills counts simulated fills by kind (open|close).
	PaperFills = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mdb_paper_fills_total",
		Help: "Paper trading fills applied",
	}, []string{"kind"})

	// OrderClamps counts reduce-only closes clamped to the position size.
	OrderClamps = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "mdb_order_clamps_total",
		Help: "Reduce-only fills clamped to the existing position size",
	})

	// PaperBalance tracks the simulated wallet balance.
	PaperBalance = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mdb_paper_balance",
		Help: "Paper wallet balance",
	})
)

func init() {
	prometheus.MustRegister(LockTimeouts, StaleLockBreaks, FetchRetries, OrderClamps, PaperBalance)
	prometheus.MustRegister(ValidationFailures, PaperFills)
}

// Serve exposes /metrics on addr in a background goroutine.
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
