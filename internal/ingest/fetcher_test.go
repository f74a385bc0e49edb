package ingest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/cryptolake/internal/config"
	"github.com/quantfold/cryptolake/internal/models"
)

// stubProvider replays a scripted response per call.
type stubProvider struct {
	calls     [][]string
	responses []func(ids []string) ([]models.RawSnapshotRecord, error)
}

func (s *stubProvider) FetchBatch(_ context.Context, ids []string) ([]models.RawSnapshotRecord, error) {
	call := len(s.calls)
	s.calls = append(s.calls, ids)
	if call >= len(s.responses) {
		return nil, fmt.Errorf("unexpected call %d", call)
	}
	return s.responses[call](ids)
}

func okBatch(ids []string) ([]models.RawSnapshotRecord, error) {
	records := make([]models.RawSnapshotRecord, len(ids))
	for i, id := range ids {
		records[i] = models.RawSnapshotRecord{AssetID: id, Symbol: id[:1], CurrentPrice: 100}
	}
	return records, nil
}

func newTestFetcher(provider MarketProvider, mode FailureMode) (*BatchFetcher, *[]time.Duration) {
	cfg := config.ProviderConfig{
		BatchSize:           50,
		MaxRetries:          3,
		MaxTransportRetries: 2,
		BackoffBase:         "2s",
		BatchDelay:          "1s",
	}
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	f := NewBatchFetcher(provider, cfg, mode, logger)

	var sleeps []time.Duration
	f.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	f.now = func() time.Time {
		return time.Date(2025, 6, 1, 12, 30, 45, 0, time.UTC)
	}
	return f, &sleeps
}

func TestPartition(t *testing.T) {
	ids := func(n int) []string {
		out := make([]string, n)
		for i := range out {
			out[i] = fmt.Sprintf("asset-%03d", i)
		}
		return out
	}

	t.Run("single batch when under the limit", func(t *testing.T) {
		batches := Partition(ids(14), 50)
		require.Len(t, batches, 1)
		assert.Len(t, batches[0], 14)
	})

	t.Run("splits with a short tail", func(t *testing.T) {
		batches := Partition(ids(120), 50)
		require.Len(t, batches, 3)
		assert.Len(t, batches[0], 50)
		assert.Len(t, batches[1], 50)
		assert.Len(t, batches[2], 20)
	})

	t.Run("preserves input order", func(t *testing.T) {
		in := ids(120)
		batches := Partition(in, 50)
		var flat []string
		for _, b := range batches {
			flat = append(flat, b...)
		}
		assert.Equal(t, in, flat)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Nil(t, Partition(nil, 50))
	})
}

func TestFetchStampsSharedCaptureTime(t *testing.T) {
	provider := &stubProvider{responses: []func([]string) ([]models.RawSnapshotRecord, error){okBatch, okBatch}}
	f, _ := newTestFetcher(provider, Graceful)

	ids := make([]string, 60)
	for i := range ids {
		ids[i] = fmt.Sprintf("asset-%02d", i)
	}

	payload, err := f.Fetch(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, payload.Records, 60)

	assert.Equal(t, "raw_prices_20250601_123045.json", payload.Name)
	for _, record := range payload.Records {
		assert.Equal(t, payload.CapturedAt, record.IngestedAt)
	}
}

func TestFetchDelaysBetweenBatchesButNotAfterLast(t *testing.T) {
	provider := &stubProvider{responses: []func([]string) ([]models.RawSnapshotRecord, error){okBatch, okBatch, okBatch}}
	f, sleeps := newTestFetcher(provider, Graceful)

	ids := make([]string, 120)
	for i := range ids {
		ids[i] = fmt.Sprintf("asset-%03d", i)
	}

	_, err := f.Fetch(context.Background(), ids)
	require.NoError(t, err)
	require.Len(t, provider.calls, 3)

	// Two inter-batch delays for three batches, nothing after the last.
	assert.Equal(t, []time.Duration{time.Second, time.Second}, *sleeps)
}

func TestFetchRateLimitRetriesWithBackoff(t *testing.T) {
	rateLimited := func([]string) ([]models.RawSnapshotRecord, error) {
		return nil, fmt.Errorf("status 429: %w", ErrRateLimited)
	}
	provider := &stubProvider{responses: []func([]string) ([]models.RawSnapshotRecord, error){
		rateLimited, rateLimited, okBatch,
	}}
	f, sleeps := newTestFetcher(provider, FailFast)

	payload, err := f.Fetch(context.Background(), []string{"bitcoin"})
	require.NoError(t, err)
	assert.Len(t, payload.Records, 1)
	assert.Len(t, provider.calls, 3)

	// Exponential: base 2s then 4s.
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, *sleeps)
}

func TestFetchRateLimitExhaustsBudget(t *testing.T) {
	rateLimited := func([]string) ([]models.RawSnapshotRecord, error) {
		return nil, fmt.Errorf("status 429: %w", ErrRateLimited)
	}
	provider := &stubProvider{responses: []func([]string) ([]models.RawSnapshotRecord, error){
		rateLimited, rateLimited, rateLimited,
	}}
	f, _ := newTestFetcher(provider, FailFast)

	_, err := f.Fetch(context.Background(), []string{"bitcoin"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Len(t, provider.calls, 3)
}

func TestFetchProviderStatusFailsWithoutRetry(t *testing.T) {
	serverError := func([]string) ([]models.RawSnapshotRecord, error) {
		return nil, fmt.Errorf("status 500: %w", ErrProviderStatus)
	}
	provider := &stubProvider{responses: []func([]string) ([]models.RawSnapshotRecord, error){serverError}}
	f, sleeps := newTestFetcher(provider, FailFast)

	_, err := f.Fetch(context.Background(), []string{"bitcoin"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderStatus)
	assert.Len(t, provider.calls, 1)
	assert.Empty(t, *sleeps)
}

func TestFetchTransportErrorsGetSmallerBudget(t *testing.T) {
	transport := func([]string) ([]models.RawSnapshotRecord, error) {
		return nil, errors.New("connection reset")
	}
	provider := &stubProvider{responses: []func([]string) ([]models.RawSnapshotRecord, error){
		transport, transport, transport,
	}}
	f, _ := newTestFetcher(provider, FailFast)

	_, err := f.Fetch(context.Background(), []string{"bitcoin"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "transport retries exhausted")
	// maxTransportRetries is 2, so only 2 calls despite maxRetries 3.
	assert.Len(t, provider.calls, 2)
}

func TestFetchGracefulSkipsFailedBatch(t *testing.T) {
	serverError := func([]string) ([]models.RawSnapshotRecord, error) {
		return nil, fmt.Errorf("status 500: %w", ErrProviderStatus)
	}
	provider := &stubProvider{responses: []func([]string) ([]models.RawSnapshotRecord, error){
		okBatch, serverError, okBatch,
	}}
	f, _ := newTestFetcher(provider, Graceful)

	ids := make([]string, 120)
	for i := range ids {
		ids[i] = fmt.Sprintf("asset-%03d", i)
	}

	payload, err := f.Fetch(context.Background(), ids)
	require.NoError(t, err)
	// Batches of 50, 50 and 20; the middle one is dropped.
	assert.Len(t, payload.Records, 70)
}

func TestFetchFailFastAbortsOnFirstFailure(t *testing.T) {
	serverError := func([]string) ([]models.RawSnapshotRecord, error) {
		return nil, fmt.Errorf("status 500: %w", ErrProviderStatus)
	}
	provider := &stubProvider{responses: []func([]string) ([]models.RawSnapshotRecord, error){
		okBatch, serverError,
	}}
	f, _ := newTestFetcher(provider, FailFast)

	ids := make([]string, 120)
	for i := range ids {
		ids[i] = fmt.Sprintf("asset-%03d", i)
	}

	_, err := f.Fetch(context.Background(), ids)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProviderStatus)
	assert.Len(t, provider.calls, 2)
}

func TestParseFailureMode(t *testing.T) {
	mode, err := ParseFailureMode("graceful")
	require.NoError(t, err)
	assert.Equal(t, Graceful, mode)

	mode, err = ParseFailureMode("fail_fast")
	require.NoError(t, err)
	assert.Equal(t, FailFast, mode)

	_, err = ParseFailureMode("lenient")
	assert.Error(t, err)
}
