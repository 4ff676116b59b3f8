// Package gateway abstracts the external exchange collaborator. The backbone
// only ever sees the Gateway interface; a live implementation is injected at
// startup, while CacheGateway serves raw rows from a local dump directory.
package gateway

import "context"

// Row is one raw OHLCV row as delivered by an exchange or cache, before
// normalization by the ingestion pipeline.
type Row struct {
	TS     int64
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Meta is the read-only market metadata the paper engine consumes.
type Meta struct {
	ContractMult float64
	MakerFee     float64
	MaxLeverage  float64
}

// Gateway fetches raw candle rows and market metadata.
type Gateway interface {
	// FetchOHLCVs returns raw rows with sinceMS <= ts < untilMS. Timestamps
	// may be in seconds, milliseconds or nanoseconds; callers normalize.
	FetchOHLCVs(ctx context.Context, symbol string, sinceMS, untilMS int64) ([]Row, error)
	// MarketMeta reports metadata for a symbol, if known.
	MarketMeta(symbol string) (Meta, bool)
}
