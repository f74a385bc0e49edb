package history

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"

	"github.com/quantfold/cryptolake/internal/models"
)

// DB is the subset of pgxpool.Pool the Postgres store needs. pgxmock
// satisfies it in tests.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// PostgresStore is the alternate state backend: the analyzed summary
// lives in a table instead of a Parquet object. Save rewrites the table
// in one transaction, which gives the same atomic-overwrite guarantee as
// the object store.
type PostgresStore struct {
	db     DB
	logger *logrus.Logger
}

func NewPostgresStore(db DB, logger *logrus.Logger) *PostgresStore {
	return &PostgresStore{db: db, logger: logger}
}

// Schema creates the state table. Idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS analyzed_market_summary (
    coin_id TEXT NOT NULL,
    symbol TEXT NOT NULL,
    name TEXT NOT NULL,
    current_price DOUBLE PRECISION NOT NULL,
    market_cap DOUBLE PRECISION NOT NULL,
    market_cap_rank INTEGER NOT NULL,
    fully_diluted_valuation DOUBLE PRECISION NOT NULL,
    total_volume DOUBLE PRECISION NOT NULL,
    high_24h DOUBLE PRECISION NOT NULL,
    low_24h DOUBLE PRECISION NOT NULL,
    circulating_supply DOUBLE PRECISION NOT NULL,
    total_supply DOUBLE PRECISION NOT NULL,
    max_supply DOUBLE PRECISION,
    ath DOUBLE PRECISION NOT NULL,
    source_updated_at TIMESTAMPTZ NOT NULL,
    ingested_at TIMESTAMPTZ NOT NULL,
    processed_at TIMESTAMPTZ NOT NULL,
    source_file TEXT NOT NULL,
    sma_7d DOUBLE PRECISION NOT NULL,
    volatility_7d DOUBLE PRECISION,
    rsi_14d DOUBLE PRECISION NOT NULL,
    signal TEXT NOT NULL,
    analyzed_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (coin_id, source_updated_at)
)`

const selectState = `
SELECT coin_id, symbol, name, current_price, market_cap, market_cap_rank,
       fully_diluted_valuation, total_volume, high_24h, low_24h,
       circulating_supply, total_supply, max_supply, ath,
       source_updated_at, ingested_at, processed_at, source_file,
       sma_7d, volatility_7d, rsi_14d, signal, analyzed_at
FROM analyzed_market_summary
ORDER BY coin_id, source_updated_at`

const insertState = `
INSERT INTO analyzed_market_summary (
    coin_id, symbol, name, current_price, market_cap, market_cap_rank,
    fully_diluted_valuation, total_volume, high_24h, low_24h,
    circulating_supply, total_supply, max_supply, ath,
    source_updated_at, ingested_at, processed_at, source_file,
    sma_7d, volatility_7d, rsi_14d, signal, analyzed_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)`

// EnsureSchema creates the table on startup.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// Load reads the whole state table. An empty table is the cold-start
// case and returns (nil, nil).
func (s *PostgresStore) Load(ctx context.Context) ([]models.AnalyzedRecord, error) {
	rows, err := s.db.Query(ctx, selectState)
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	defer rows.Close()

	var records []models.AnalyzedRecord
	for rows.Next() {
		var r models.AnalyzedRecord
		var signal string
		if err := rows.Scan(
			&r.AssetID, &r.Symbol, &r.Name, &r.CurrentPrice, &r.MarketCap, &r.MarketCapRank,
			&r.FullyDilutedValuation, &r.TotalVolume, &r.High24h, &r.Low24h,
			&r.CirculatingSupply, &r.TotalSupply, &r.MaxSupply, &r.AllTimeHigh,
			&r.SourceUpdatedAt, &r.IngestedAt, &r.ProcessedAt, &r.SourceFile,
			&r.SMAWindow, &r.VolatilityWindow, &r.RSIWindow, &signal, &r.AnalyzedAt,
		); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrCorruptState, err)
		}
		r.Signal = models.Signal(signal)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}
	return records, nil
}

// Save rewrites the table with the new state inside one transaction.
func (s *PostgresStore) Save(ctx context.Context, records []models.AnalyzedRecord) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin save: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, "DELETE FROM analyzed_market_summary"); err != nil {
		return fmt.Errorf("failed to clear previous state: %w", err)
	}

	for _, r := range records {
		if _, err := tx.Exec(ctx, insertState,
			r.AssetID, r.Symbol, r.Name, r.CurrentPrice, r.MarketCap, r.MarketCapRank,
			r.FullyDilutedValuation, r.TotalVolume, r.High24h, r.Low24h,
			r.CirculatingSupply, r.TotalSupply, r.MaxSupply, r.AllTimeHigh,
			r.SourceUpdatedAt, r.IngestedAt, r.ProcessedAt, r.SourceFile,
			r.SMAWindow, r.VolatilityWindow, r.RSIWindow, string(r.Signal), r.AnalyzedAt,
		); err != nil {
			return fmt.Errorf("failed to insert record %s@%s: %w", r.AssetID, r.SourceUpdatedAt, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit state: %w", err)
	}
	s.logger.WithField("rows", len(records)).Info("State saved to Postgres")
	return nil
}
