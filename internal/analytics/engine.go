// Package analytics merges new canonical snapshots into the rolling
// history, recomputes time-ordered window metrics per asset, classifies
// the trading signal and prunes the stored history to its retention
// bound.
package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quantfold/cryptolake/internal/config"
	"github.com/quantfold/cryptolake/internal/history"
	"github.com/quantfold/cryptolake/internal/models"
)

// Engine recomputes the analyzed state. The signal rule is the RSI rule:
// BUY when price is below the SMA and RSI is oversold (<30), SELL when
// price is above the SMA and RSI is overbought (>70), WAIT otherwise.
// This is the single rule carried by the pipeline; there is no
// volatility-only variant.
type Engine struct {
	store     history.Store
	smaWindow int
	rsiPeriod int
	retention int
	logger    *logrus.Logger
	now       func() time.Time
}

// Result is the outcome of one analytics run: the persisted state and
// the most recent analyzed record per asset, for the alert notifier.
type Result struct {
	State  []models.AnalyzedRecord
	Latest []models.AnalyzedRecord
}

func NewEngine(store history.Store, cfg config.AnalyticsConfig, logger *logrus.Logger) *Engine {
	smaWindow := cfg.SMAWindow
	if smaWindow <= 0 {
		smaWindow = 7
	}
	rsiPeriod := cfg.RSIPeriod
	if rsiPeriod <= 0 {
		rsiPeriod = 14
	}
	retention := cfg.RetentionN
	if retention <= 0 {
		retention = 500
	}

	return &Engine{
		store:     store,
		smaWindow: smaWindow,
		rsiPeriod: rsiPeriod,
		retention: retention,
		logger:    logger,
		now:       time.Now,
	}
}

// Run merges incoming canonical records with the stored history,
// recomputes every rolling metric over the pruned union, persists the
// new state and returns it. With no new data and no existing history the
// run is a no-op: it returns (nil, nil) and does not create a state file.
// An unreadable existing state fails the run; it is never silently reset.
func (e *Engine) Run(ctx context.Context, incoming []models.CanonicalRecord) (*Result, error) {
	existing, err := e.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("analytics: %w", err)
	}

	if len(incoming) == 0 && len(existing) == 0 {
		e.logger.Info("No new data and no existing history, nothing to analyze")
		return nil, nil
	}

	existingCanonical := make([]models.CanonicalRecord, 0, len(existing))
	for _, record := range existing {
		existingCanonical = append(existingCanonical, record.Canonical())
	}

	merged := history.MergeAndPrune(existingCanonical, incoming, e.retention)
	analyzedAt := e.now().UTC()
	state := e.analyze(merged, analyzedAt)

	if err := e.store.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("analytics: %w", err)
	}

	result := &Result{State: state, Latest: latestPerAsset(state)}
	e.logger.WithFields(logrus.Fields{
		"rows":   len(state),
		"assets": len(result.Latest),
	}).Info("Analytics run complete")
	return result, nil
}

// analyze computes the per-asset rolling metrics over records already
// deduped and pruned. Records must be grouped by asset and ascending by
// source_updated_at, which is what MergeAndPrune emits.
func (e *Engine) analyze(merged []models.CanonicalRecord, analyzedAt time.Time) []models.AnalyzedRecord {
	state := make([]models.AnalyzedRecord, 0, len(merged))

	for start := 0; start < len(merged); {
		end := start
		for end < len(merged) && merged[end].AssetID == merged[start].AssetID {
			end++
		}
		state = append(state, e.analyzeAsset(merged[start:end], analyzedAt)...)
		start = end
	}
	return state
}

func (e *Engine) analyzeAsset(records []models.CanonicalRecord, analyzedAt time.Time) []models.AnalyzedRecord {
	prices := make([]float64, len(records))
	for i, record := range records {
		prices[i] = record.CurrentPrice
	}

	diffs := make([]float64, len(prices))
	for i := 1; i < len(prices); i++ {
		diffs[i] = prices[i] - prices[i-1]
	}

	analyzed := make([]models.AnalyzedRecord, len(records))
	for i, record := range records {
		sma := smaAt(prices, i, e.smaWindow)
		rsi := rsiAt(diffs, i, e.rsiPeriod)

		analyzed[i] = models.AnalyzedRecord{
			AssetID:               record.AssetID,
			Symbol:                record.Symbol,
			Name:                  record.Name,
			CurrentPrice:          record.CurrentPrice,
			MarketCap:             record.MarketCap,
			MarketCapRank:         record.MarketCapRank,
			FullyDilutedValuation: record.FullyDilutedValuation,
			TotalVolume:           record.TotalVolume,
			High24h:               record.High24h,
			Low24h:                record.Low24h,
			CirculatingSupply:     record.CirculatingSupply,
			TotalSupply:           record.TotalSupply,
			MaxSupply:             record.MaxSupply,
			AllTimeHigh:           record.AllTimeHigh,
			SourceUpdatedAt:       record.SourceUpdatedAt,
			IngestedAt:            record.IngestedAt,
			ProcessedAt:           record.ProcessedAt,
			SourceFile:            record.SourceFile,
			SMAWindow:             sma,
			VolatilityWindow:      volatilityAt(prices, i, e.smaWindow),
			RSIWindow:             rsi,
			Signal:                classify(record.CurrentPrice, sma, rsi),
			AnalyzedAt:            analyzedAt,
		}
	}
	return analyzed
}

func classify(price, sma, rsi float64) models.Signal {
	switch {
	case price < sma && rsi < 30:
		return models.SignalBuy
	case price > sma && rsi > 70:
		return models.SignalSell
	default:
		return models.SignalWait
	}
}

// latestPerAsset picks the most recent record per asset by source time,
// ordered by asset id for determinism.
func latestPerAsset(state []models.AnalyzedRecord) []models.AnalyzedRecord {
	byAsset := make(map[string]models.AnalyzedRecord)
	for _, record := range state {
		current, ok := byAsset[record.AssetID]
		if !ok || record.SourceUpdatedAt.After(current.SourceUpdatedAt) {
			byAsset[record.AssetID] = record
		}
	}

	latest := make([]models.AnalyzedRecord, 0, len(byAsset))
	for _, record := range byAsset {
		latest = append(latest, record)
	}
	sort.Slice(latest, func(i, j int) bool {
		return latest[i].AssetID < latest[j].AssetID
	})
	return latest
}
