package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/cryptolake/internal/config"
	"github.com/quantfold/cryptolake/internal/models"
)

// fakeStore is an in-memory history.Store.
type fakeStore struct {
	state   []models.AnalyzedRecord
	loadErr error
	saves   int
}

func (f *fakeStore) Load(context.Context) ([]models.AnalyzedRecord, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return f.state, nil
}

func (f *fakeStore) Save(_ context.Context, records []models.AnalyzedRecord) error {
	f.state = records
	f.saves++
	return nil
}

func newTestEngine(store *fakeStore) *Engine {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	e := NewEngine(store, config.AnalyticsConfig{SMAWindow: 7, RSIPeriod: 14, RetentionN: 5}, logger)
	e.now = func() time.Time {
		return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	}
	return e
}

func canonicalAt(asset string, updated time.Time, price float64) models.CanonicalRecord {
	return models.CanonicalRecord{
		AssetID:         asset,
		Symbol:          asset[:3],
		Name:            asset,
		CurrentPrice:    price,
		SourceUpdatedAt: updated,
		IngestedAt:      updated,
		ProcessedAt:     updated,
		SourceFile:      "p.json",
	}
}

func TestEngineNoDataIsNoOp(t *testing.T) {
	store := &fakeStore{}
	engine := newTestEngine(store)

	result, err := engine.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Zero(t, store.saves, "a no-op run must not create a state file")
}

func TestEngineColdStart(t *testing.T) {
	store := &fakeStore{}
	engine := newTestEngine(store)

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	incoming := []models.CanonicalRecord{
		canonicalAt("bitcoin", base, 100),
		canonicalAt("bitcoin", base.Add(time.Hour), 110),
	}

	result, err := engine.Run(context.Background(), incoming)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Len(t, result.State, 2)
	assert.Equal(t, 1, store.saves)

	first, second := result.State[0], result.State[1]
	assert.Equal(t, 100.0, first.SMAWindow)
	assert.Nil(t, first.VolatilityWindow)
	assert.Equal(t, 100.0, first.RSIWindow)

	assert.Equal(t, 105.0, second.SMAWindow)
	require.NotNil(t, second.VolatilityWindow)
	assert.InDelta(t, 5.0, *second.VolatilityWindow, 1e-9)

	require.Len(t, result.Latest, 1)
	assert.True(t, result.Latest[0].SourceUpdatedAt.Equal(base.Add(time.Hour)))
}

func TestEngineMergesWithExistingHistory(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{}
	engine := newTestEngine(store)

	// Seed a first run, then feed newer records.
	_, err := engine.Run(context.Background(), []models.CanonicalRecord{
		canonicalAt("bitcoin", base, 100),
	})
	require.NoError(t, err)

	result, err := engine.Run(context.Background(), []models.CanonicalRecord{
		canonicalAt("bitcoin", base.Add(time.Hour), 110),
	})
	require.NoError(t, err)
	require.Len(t, result.State, 2, "history must accumulate across runs")
	assert.Equal(t, 2, store.saves)
}

func TestEngineRerunWithSameInputIsIdempotent(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{}
	engine := newTestEngine(store)

	incoming := []models.CanonicalRecord{
		canonicalAt("bitcoin", base, 100),
		canonicalAt("bitcoin", base.Add(time.Hour), 110),
	}

	first, err := engine.Run(context.Background(), incoming)
	require.NoError(t, err)
	second, err := engine.Run(context.Background(), incoming)
	require.NoError(t, err)

	assert.Equal(t, first.State, second.State, "same input twice must not grow the state")
}

func TestEngineRetentionBound(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{}
	engine := newTestEngine(store) // retention 5

	var incoming []models.CanonicalRecord
	for i := 0; i < 12; i++ {
		incoming = append(incoming, canonicalAt("bitcoin", base.Add(time.Duration(i)*time.Hour), float64(100+i)))
	}

	result, err := engine.Run(context.Background(), incoming)
	require.NoError(t, err)
	require.Len(t, result.State, 5)

	// The five most recent readings survive.
	assert.Equal(t, 107.0, result.State[0].CurrentPrice)
	assert.Equal(t, 111.0, result.State[4].CurrentPrice)
}

func TestEngineSpikeSignalsSell(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{}
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	engine := NewEngine(store, config.AnalyticsConfig{SMAWindow: 7, RSIPeriod: 14, RetentionN: 500}, logger)

	var incoming []models.CanonicalRecord
	for i := 0; i < 6; i++ {
		incoming = append(incoming, canonicalAt("bitcoin", base.Add(time.Duration(i)*time.Hour), 100))
	}
	incoming = append(incoming, canonicalAt("bitcoin", base.Add(6*time.Hour), 200))

	result, err := engine.Run(context.Background(), incoming)
	require.NoError(t, err)
	require.Len(t, result.Latest, 1)
	assert.Equal(t, models.SignalSell, result.Latest[0].Signal)
}

func TestEngineDropSignalsBuy(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{}
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	engine := NewEngine(store, config.AnalyticsConfig{SMAWindow: 7, RSIPeriod: 14, RetentionN: 500}, logger)

	var incoming []models.CanonicalRecord
	for i := 0; i < 6; i++ {
		incoming = append(incoming, canonicalAt("bitcoin", base.Add(time.Duration(i)*time.Hour), 100))
	}
	incoming = append(incoming, canonicalAt("bitcoin", base.Add(6*time.Hour), 50))

	result, err := engine.Run(context.Background(), incoming)
	require.NoError(t, err)
	require.Len(t, result.Latest, 1)
	assert.Equal(t, models.SignalBuy, result.Latest[0].Signal)
}

func TestEnginePropagatesLoadFailure(t *testing.T) {
	store := &fakeStore{loadErr: errors.New("state file is corrupt")}
	engine := newTestEngine(store)

	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	_, err := engine.Run(context.Background(), []models.CanonicalRecord{
		canonicalAt("bitcoin", base, 100),
	})
	require.Error(t, err)
	assert.Zero(t, store.saves, "a failed load must never be overwritten")
}

func TestEngineAnalyzesMultipleAssetsIndependently(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	store := &fakeStore{}
	engine := newTestEngine(store)

	incoming := []models.CanonicalRecord{
		canonicalAt("ethereum", base, 50),
		canonicalAt("bitcoin", base, 100),
		canonicalAt("bitcoin", base.Add(time.Hour), 120),
		canonicalAt("ethereum", base.Add(time.Hour), 40),
	}

	result, err := engine.Run(context.Background(), incoming)
	require.NoError(t, err)
	require.Len(t, result.Latest, 2)

	assert.Equal(t, "bitcoin", result.Latest[0].AssetID)
	assert.Equal(t, "ethereum", result.Latest[1].AssetID)
	// Each asset's SMA only sees its own prices.
	assert.Equal(t, 110.0, result.Latest[0].SMAWindow)
	assert.Equal(t, 45.0, result.Latest[1].SMAWindow)
}
