package ingest

import (
	"context"
	"errors"

	"github.com/quantfold/cryptolake/internal/models"
)

// MarketProvider fetches the market snapshot for one batch of asset ids.
// One implementation per provider, composed into the BatchFetcher by the
// caller instead of via a shared base type.
type MarketProvider interface {
	FetchBatch(ctx context.Context, ids []string) ([]models.RawSnapshotRecord, error)
}

// ErrRateLimited marks an HTTP 429 from the provider. The fetcher retries
// the same batch with exponential backoff.
var ErrRateLimited = errors.New("provider rate limited")

// ErrProviderStatus marks a non-2xx, non-429 provider response. These are
// permanent for the batch and never retried.
var ErrProviderStatus = errors.New("provider returned unexpected status")
