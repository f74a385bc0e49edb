// Package ingest implements rate-limited batched ingestion of market
// snapshots from a provider.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quantfold/cryptolake/internal/config"
	"github.com/quantfold/cryptolake/internal/models"
)

// FailureMode selects how the fetcher handles a batch that exhausted its
// retries. Resolved once at startup, never mid-cycle.
type FailureMode int

const (
	// FailFast aborts the whole fetch cycle on the first failed batch.
	FailFast FailureMode = iota
	// Graceful skips the failed batch and continues with the rest.
	Graceful
)

// ParseFailureMode maps the config string to a mode.
func ParseFailureMode(mode string) (FailureMode, error) {
	switch mode {
	case "fail_fast":
		return FailFast, nil
	case "graceful":
		return Graceful, nil
	default:
		return FailFast, fmt.Errorf("unknown failure mode %q", mode)
	}
}

// BatchFetcher splits an asset-id list into bounded batches and fetches
// them sequentially through a MarketProvider. Batches are deliberately not
// fetched concurrently; the inter-batch delay is the rate-limit compliance
// mechanism.
type BatchFetcher struct {
	provider            MarketProvider
	batchSize           int
	maxRetries          int
	maxTransportRetries int
	backoffBase         time.Duration
	batchDelay          time.Duration
	mode                FailureMode
	logger              *logrus.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// NewBatchFetcher wires a fetcher from provider configuration.
func NewBatchFetcher(provider MarketProvider, cfg config.ProviderConfig, mode FailureMode, logger *logrus.Logger) *BatchFetcher {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 250
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	maxTransportRetries := cfg.MaxTransportRetries
	if maxTransportRetries <= 0 {
		maxTransportRetries = 2
	}

	return &BatchFetcher{
		provider:            provider,
		batchSize:           batchSize,
		maxRetries:          maxRetries,
		maxTransportRetries: maxTransportRetries,
		backoffBase:         config.Duration(cfg.BackoffBase, 2*time.Second),
		batchDelay:          config.Duration(cfg.BatchDelay, 2*time.Second),
		mode:                mode,
		logger:              logger,
		sleep:               sleepContext,
		now:                 time.Now,
	}
}

// Partition splits ids into ceil(n/size) contiguous batches, preserving
// input order. No reordering, no deduplication.
func Partition(ids []string, size int) [][]string {
	if size <= 0 || len(ids) == 0 {
		return nil
	}
	batches := make([][]string, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		batches = append(batches, ids[start:end])
	}
	return batches
}

// Fetch runs one fetch cycle over ids. Every returned record carries the
// same capture timestamp: the instant the cycle began, not per-batch time.
// In graceful mode a failed batch contributes zero records; in fail-fast
// mode its error aborts the cycle.
func (f *BatchFetcher) Fetch(ctx context.Context, ids []string) (models.RawPayload, error) {
	capturedAt := f.now().UTC()
	payload := models.RawPayload{
		Name:       fmt.Sprintf("raw_prices_%s.json", capturedAt.Format("20060102_150405")),
		CapturedAt: capturedAt,
	}

	batches := Partition(ids, f.batchSize)
	f.logger.WithFields(logrus.Fields{
		"assets":  len(ids),
		"batches": len(batches),
	}).Info("Starting fetch cycle")

	failed := 0
	for i, batch := range batches {
		records, err := f.fetchWithRetry(ctx, batch)
		if err != nil {
			if f.mode == FailFast {
				return models.RawPayload{}, fmt.Errorf("batch %d/%d: %w", i+1, len(batches), err)
			}
			failed++
			f.logger.WithError(err).WithField("batch", i+1).Warn("Skipping failed batch")
			continue
		}

		for j := range records {
			records[j].IngestedAt = capturedAt
		}
		payload.Records = append(payload.Records, records...)

		// Rate-limit compliance between successful batches. Never after
		// the final one.
		if i < len(batches)-1 && f.batchDelay > 0 {
			if err := f.sleep(ctx, f.batchDelay); err != nil {
				return models.RawPayload{}, err
			}
		}
	}

	f.logger.WithFields(logrus.Fields{
		"records":        len(payload.Records),
		"failed_batches": failed,
	}).Info("Fetch cycle complete")
	return payload, nil
}

// fetchWithRetry retries a single batch. Rate limits get the full retry
// budget with exponential backoff (base × 2^attempt); transport errors get
// a smaller budget; any other provider status fails immediately.
func (f *BatchFetcher) fetchWithRetry(ctx context.Context, batch []string) ([]models.RawSnapshotRecord, error) {
	var lastErr error
	for attempt := 0; attempt < f.maxRetries; attempt++ {
		records, err := f.provider.FetchBatch(ctx, batch)
		if err == nil {
			return records, nil
		}
		lastErr = err

		switch {
		case errors.Is(err, ErrProviderStatus):
			return nil, err
		case errors.Is(err, ErrRateLimited):
			// Falls through to backoff below.
		default:
			// Transport error: same policy, smaller budget.
			if attempt+1 >= f.maxTransportRetries {
				return nil, fmt.Errorf("transport retries exhausted: %w", err)
			}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt+1 < f.maxRetries {
			wait := f.backoffBase * (1 << attempt)
			f.logger.WithError(err).WithFields(logrus.Fields{
				"attempt": attempt + 1,
				"wait":    wait.String(),
			}).Warn("Batch fetch failed, backing off")
			if err := f.sleep(ctx, wait); err != nil {
				return nil, err
			}
		}
	}
	return nil, fmt.Errorf("retries exhausted: %w", lastErr)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
