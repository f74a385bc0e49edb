package models

import (
	"time"
)

// Signal is the discrete trading signal attached to an analyzed record.
// It is recomputed on every analytics run and never persisted on its own.
type Signal string

const (
	SignalBuy  Signal = "BUY"
	SignalSell Signal = "SELL"
	SignalWait Signal = "WAIT"
)

// RawSnapshotRecord is one asset's market reading as returned by the
// provider. It only lives inside a single fetch cycle; IngestedAt is
// injected at capture time so the lineage survives the raw JSON payload.
type RawSnapshotRecord struct {
	AssetID           string    `json:"id"`
	Symbol            string    `json:"symbol"`
	Name              string    `json:"name"`
	CurrentPrice      float64   `json:"current_price"`
	MarketCap         float64   `json:"market_cap"`
	MarketCapRank     int32     `json:"market_cap_rank"`
	TotalVolume       float64   `json:"total_volume"`
	High24h           float64   `json:"high_24h"`
	Low24h            float64   `json:"low_24h"`
	CirculatingSupply float64   `json:"circulating_supply"`
	TotalSupply       float64   `json:"total_supply"`
	MaxSupply         *float64  `json:"max_supply"`
	AllTimeHigh       float64   `json:"ath"`
	SourceUpdatedAt   time.Time `json:"last_updated"`
	IngestedAt        time.Time `json:"ingested_timestamp,omitzero"`
}

// RawPayload is the output of one fetch cycle: the aggregated raw records
// plus the shared capture timestamp and the lineage name under which the
// payload is archived.
type RawPayload struct {
	Name       string
	CapturedAt time.Time
	Records    []RawSnapshotRecord
}

// RecordKey is the natural key of a canonical record. Duplicates under
// this key must collapse to a single record.
type RecordKey struct {
	AssetID         string
	SourceUpdatedAt int64 // UnixNano, UTC
}

// CanonicalRecord is the normalized, persisted unit.
type CanonicalRecord struct {
	AssetID               string    `json:"coin_id" parquet:"coin_id"`
	Symbol                string    `json:"symbol" parquet:"symbol"`
	Name                  string    `json:"name" parquet:"name"`
	CurrentPrice          float64   `json:"current_price" parquet:"current_price"`
	MarketCap             float64   `json:"market_cap" parquet:"market_cap"`
	MarketCapRank         int32     `json:"market_cap_rank" parquet:"market_cap_rank"`
	FullyDilutedValuation float64   `json:"fully_diluted_valuation" parquet:"fully_diluted_valuation"`
	TotalVolume           float64   `json:"total_volume" parquet:"total_volume"`
	High24h               float64   `json:"high_24h" parquet:"high_24h"`
	Low24h                float64   `json:"low_24h" parquet:"low_24h"`
	CirculatingSupply     float64   `json:"circulating_supply" parquet:"circulating_supply"`
	TotalSupply           float64   `json:"total_supply" parquet:"total_supply"`
	MaxSupply             *float64  `json:"max_supply" parquet:"max_supply,optional"`
	AllTimeHigh           float64   `json:"ath" parquet:"ath"`
	SourceUpdatedAt       time.Time `json:"source_updated_at" parquet:"source_updated_at"`
	IngestedAt            time.Time `json:"ingested_at" parquet:"ingested_at"`
	ProcessedAt           time.Time `json:"processed_at" parquet:"processed_at"`
	SourceFile            string    `json:"source_file" parquet:"source_file"`
}

// Key returns the natural key (asset_id, source_updated_at).
func (r CanonicalRecord) Key() RecordKey {
	return RecordKey{AssetID: r.AssetID, SourceUpdatedAt: r.SourceUpdatedAt.UTC().UnixNano()}
}

// AnalyzedRecord is a canonical record enriched with rolling window
// metrics and the classified signal. The persisted state file
// (analyzed_market_summary) holds one row per AnalyzedRecord.
type AnalyzedRecord struct {
	AssetID               string    `json:"coin_id" parquet:"coin_id"`
	Symbol                string    `json:"symbol" parquet:"symbol"`
	Name                  string    `json:"name" parquet:"name"`
	CurrentPrice          float64   `json:"current_price" parquet:"current_price"`
	MarketCap             float64   `json:"market_cap" parquet:"market_cap"`
	MarketCapRank         int32     `json:"market_cap_rank" parquet:"market_cap_rank"`
	FullyDilutedValuation float64   `json:"fully_diluted_valuation" parquet:"fully_diluted_valuation"`
	TotalVolume           float64   `json:"total_volume" parquet:"total_volume"`
	High24h               float64   `json:"high_24h" parquet:"high_24h"`
	Low24h                float64   `json:"low_24h" parquet:"low_24h"`
	CirculatingSupply     float64   `json:"circulating_supply" parquet:"circulating_supply"`
	TotalSupply           float64   `json:"total_supply" parquet:"total_supply"`
	MaxSupply             *float64  `json:"max_supply" parquet:"max_supply,optional"`
	AllTimeHigh           float64   `json:"ath" parquet:"ath"`
	SourceUpdatedAt       time.Time `json:"source_updated_at" parquet:"source_updated_at"`
	IngestedAt            time.Time `json:"ingested_at" parquet:"ingested_at"`
	ProcessedAt           time.Time `json:"processed_at" parquet:"processed_at"`
	SourceFile            string    `json:"source_file" parquet:"source_file"`
	SMAWindow             float64   `json:"sma_7d" parquet:"sma_7d"`
	VolatilityWindow      *float64  `json:"volatility_7d" parquet:"volatility_7d,optional"`
	RSIWindow             float64   `json:"rsi_14d" parquet:"rsi_14d"`
	Signal                Signal    `json:"signal" parquet:"signal"`
	AnalyzedAt            time.Time `json:"analyzed_at" parquet:"analyzed_at"`
}

// Canonical strips the analytics columns, returning the underlying
// canonical record. Merge and prune operate on this layer.
func (r AnalyzedRecord) Canonical() CanonicalRecord {
	return CanonicalRecord{
		AssetID:               r.AssetID,
		Symbol:                r.Symbol,
		Name:                  r.Name,
		CurrentPrice:          r.CurrentPrice,
		MarketCap:             r.MarketCap,
		MarketCapRank:         r.MarketCapRank,
		FullyDilutedValuation: r.FullyDilutedValuation,
		TotalVolume:           r.TotalVolume,
		High24h:               r.High24h,
		Low24h:                r.Low24h,
		CirculatingSupply:     r.CirculatingSupply,
		TotalSupply:           r.TotalSupply,
		MaxSupply:             r.MaxSupply,
		AllTimeHigh:           r.AllTimeHigh,
		SourceUpdatedAt:       r.SourceUpdatedAt,
		IngestedAt:            r.IngestedAt,
		ProcessedAt:           r.ProcessedAt,
		SourceFile:            r.SourceFile,
	}
}

// Key returns the natural key (asset_id, source_updated_at).
func (r AnalyzedRecord) Key() RecordKey {
	return RecordKey{AssetID: r.AssetID, SourceUpdatedAt: r.SourceUpdatedAt.UTC().UnixNano()}
}
