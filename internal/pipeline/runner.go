// Package pipeline composes the ingestion, normalization and analytics
// stages into runnable modes and serializes concurrent analytics runs
// behind an optional distributed lock.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/quantfold/cryptolake/internal/alerts"
	"github.com/quantfold/cryptolake/internal/analytics"
	"github.com/quantfold/cryptolake/internal/history"
	"github.com/quantfold/cryptolake/internal/ingest"
	"github.com/quantfold/cryptolake/internal/models"
	"github.com/quantfold/cryptolake/internal/normalize"
	"github.com/quantfold/cryptolake/internal/objstore"
)

// ErrNoRawData is returned by a standalone normalization run that found
// no archived payloads to process. Callers treat it as "nothing to do",
// not as a failure.
var ErrNoRawData = errors.New("pipeline: no raw payloads found")

const (
	rawContentType = "application/json"
	lockKey        = "cryptolake:analytics:lock"
)

// Runner owns one configured pipeline: where raw payloads land, where
// the cleaned dataset goes, and which analytics engine and notifier a
// run feeds.
type Runner struct {
	fetcher    *ingest.BatchFetcher
	normalizer *normalize.Normalizer
	engine     *analytics.Engine
	objects    objstore.Store
	rawPrefix  string
	silverName string
	notifier   alerts.Notifier
	locker     Locker
	lockTTL    time.Duration
	logger     *logrus.Logger
}

type RunnerOption func(*Runner)

// WithLocker enables the distributed analytics lock.
func WithLocker(locker Locker, ttl time.Duration) RunnerOption {
	return func(r *Runner) {
		r.locker = locker
		r.lockTTL = ttl
	}
}

func NewRunner(
	fetcher *ingest.BatchFetcher,
	normalizer *normalize.Normalizer,
	engine *analytics.Engine,
	objects objstore.Store,
	rawPrefix, silverName string,
	notifier alerts.Notifier,
	logger *logrus.Logger,
	opts ...RunnerOption,
) *Runner {
	r := &Runner{
		fetcher:    fetcher,
		normalizer: normalizer,
		engine:     engine,
		objects:    objects,
		rawPrefix:  rawPrefix,
		silverName: silverName,
		notifier:   notifier,
		lockTTL:    2 * time.Minute,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunCycle executes one full fetch → normalize → analyze pass, handing
// records through memory. The raw payload is still archived so the
// cycle leaves the same artifact trail as the standalone modes.
func (r *Runner) RunCycle(ctx context.Context, ids []string) error {
	runID := uuid.NewString()
	log := r.logger.WithField("run_id", runID)
	log.WithField("assets", len(ids)).Info("Starting pipeline cycle")

	payload, err := r.fetcher.Fetch(ctx, ids)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	if len(payload.Records) == 0 {
		log.Warn("Fetch cycle produced no records, nothing to analyze")
		return nil
	}

	if err := r.archiveRaw(ctx, payload); err != nil {
		return err
	}

	canonical := r.normalizer.Normalize(payload)
	if err := r.writeSilver(ctx, canonical); err != nil {
		return err
	}

	result, err := r.analyzeLocked(ctx, canonical)
	if err != nil {
		return err
	}
	r.notify(ctx, result)

	log.Info("Pipeline cycle complete")
	return nil
}

// RunIngest fetches one snapshot cycle and archives the raw payload
// without normalizing it. A later RunNormalize picks it up.
func (r *Runner) RunIngest(ctx context.Context, ids []string) error {
	payload, err := r.fetcher.Fetch(ctx, ids)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	if len(payload.Records) == 0 {
		r.logger.Warn("Fetch cycle produced no records, skipping archive")
		return nil
	}
	return r.archiveRaw(ctx, payload)
}

// RunNormalize lists every archived raw payload, normalizes the readable
// ones and writes the combined cleaned dataset. A payload that fails to
// parse is skipped; the run only fails when every payload is malformed.
func (r *Runner) RunNormalize(ctx context.Context) error {
	names, err := r.objects.List(ctx, r.rawPrefix)
	if err != nil {
		return fmt.Errorf("failed to list raw payloads: %w", err)
	}
	if len(names) == 0 {
		return ErrNoRawData
	}

	var payloads []models.RawPayload
	skipped := 0
	for _, name := range names {
		data, err := r.objects.Get(ctx, name)
		if err != nil {
			return fmt.Errorf("failed to read raw payload %s: %w", name, err)
		}
		payload, err := normalize.ParsePayload(strings.TrimPrefix(name, r.rawPrefix), data)
		if err != nil {
			skipped++
			r.logger.WithError(err).WithField("payload", name).Warn("Skipping malformed payload")
			continue
		}
		payloads = append(payloads, payload)
	}
	if len(payloads) == 0 {
		return fmt.Errorf("all %d raw payloads are malformed", skipped)
	}

	canonical := r.normalizer.NormalizeAll(payloads)
	if err := r.writeSilver(ctx, canonical); err != nil {
		return err
	}

	r.logger.WithFields(logrus.Fields{
		"payloads": len(payloads),
		"skipped":  skipped,
		"records":  len(canonical),
	}).Info("Normalization run complete")
	return nil
}

// RunAnalyze feeds the cleaned dataset, if one exists, into the
// analytics engine. With no cleaned dataset it runs over an empty
// incoming set, which re-analyzes the stored history as-is.
func (r *Runner) RunAnalyze(ctx context.Context) error {
	var canonical []models.CanonicalRecord

	data, err := r.objects.Get(ctx, r.silverName)
	switch {
	case errors.Is(err, objstore.ErrNotExist):
		r.logger.WithField("dataset", r.silverName).Info("No cleaned dataset, analyzing existing history only")
	case err != nil:
		return fmt.Errorf("failed to read cleaned dataset %s: %w", r.silverName, err)
	default:
		canonical, err = history.DecodeCanonical(data)
		if err != nil {
			return fmt.Errorf("cleaned dataset %s: %w", r.silverName, err)
		}
	}

	result, err := r.analyzeLocked(ctx, canonical)
	if err != nil {
		return err
	}
	r.notify(ctx, result)
	return nil
}

func (r *Runner) analyzeLocked(ctx context.Context, canonical []models.CanonicalRecord) (*analytics.Result, error) {
	if r.locker != nil {
		release, err := r.locker.Acquire(ctx, lockKey, r.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("analytics lock: %w", err)
		}
		defer release()
	}
	return r.engine.Run(ctx, canonical)
}

func (r *Runner) archiveRaw(ctx context.Context, payload models.RawPayload) error {
	data, err := json.Marshal(payload.Records)
	if err != nil {
		return fmt.Errorf("failed to marshal raw payload: %w", err)
	}

	name := r.rawPrefix + payload.Name
	if err := r.objects.Put(ctx, name, data, rawContentType); err != nil {
		return fmt.Errorf("failed to archive raw payload %s: %w", name, err)
	}

	r.logger.WithFields(logrus.Fields{
		"payload": name,
		"records": len(payload.Records),
	}).Info("Raw payload archived")
	return nil
}

func (r *Runner) writeSilver(ctx context.Context, canonical []models.CanonicalRecord) error {
	data, err := history.EncodeCanonical(canonical)
	if err != nil {
		return err
	}
	if err := r.objects.Put(ctx, r.silverName, data, "application/vnd.apache.parquet"); err != nil {
		return fmt.Errorf("failed to write cleaned dataset %s: %w", r.silverName, err)
	}
	return nil
}

// notify pushes BUY/SELL rows from a finished run to the notifier.
// Delivery problems are the notifier's to log; a nil result (no-op run)
// produces no alerts.
func (r *Runner) notify(ctx context.Context, result *analytics.Result) {
	if result == nil || r.notifier == nil {
		return
	}
	actionable := alerts.Actionable(result.Latest)
	if err := r.notifier.Notify(ctx, actionable); err != nil {
		r.logger.WithError(err).Warn("Alert delivery failed")
	}
}
