// Package normalize turns raw snapshot payloads into canonical records:
// full-row deduplication, derived valuation, lineage tagging.
package normalize

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/quantfold/cryptolake/internal/models"
)

// Normalizer converts raw payloads into canonical record sets. All
// business fields are pure functions of the input; only ProcessedAt
// differs between two runs over the same payload.
type Normalizer struct {
	logger *logrus.Logger
	now    func() time.Time
}

func New(logger *logrus.Logger) *Normalizer {
	return &Normalizer{logger: logger, now: time.Now}
}

// ParsePayload decodes an archived raw payload (a JSON array of snapshot
// records) fetched under the given lineage name. The capture time is
// recovered from the injected per-record ingestion timestamp.
func ParsePayload(name string, data []byte) (models.RawPayload, error) {
	var records []models.RawSnapshotRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return models.RawPayload{}, fmt.Errorf("malformed payload %s: %w", name, err)
	}

	payload := models.RawPayload{Name: name, Records: records}
	for _, record := range records {
		if !record.IngestedAt.IsZero() {
			payload.CapturedAt = record.IngestedAt
			break
		}
	}
	return payload, nil
}

// Normalize produces the canonical record set for one payload:
// deduplicate by full-row identity, compute the null-aware fully diluted
// valuation, attach lineage, order by source_updated_at descending.
func (n *Normalizer) Normalize(payload models.RawPayload) []models.CanonicalRecord {
	processedAt := n.now().UTC()

	ingestedAt := payload.CapturedAt
	if ingestedAt.IsZero() {
		ingestedAt = processedAt
	}

	seen := make(map[rawIdentity]struct{}, len(payload.Records))
	records := make([]models.CanonicalRecord, 0, len(payload.Records))
	duplicates := 0

	for _, raw := range payload.Records {
		id := identityOf(raw)
		if _, ok := seen[id]; ok {
			duplicates++
			continue
		}
		seen[id] = struct{}{}

		records = append(records, models.CanonicalRecord{
			AssetID:               raw.AssetID,
			Symbol:                raw.Symbol,
			Name:                  raw.Name,
			CurrentPrice:          raw.CurrentPrice,
			MarketCap:             raw.MarketCap,
			MarketCapRank:         raw.MarketCapRank,
			FullyDilutedValuation: fullyDilutedValuation(raw),
			TotalVolume:           raw.TotalVolume,
			High24h:               raw.High24h,
			Low24h:                raw.Low24h,
			CirculatingSupply:     raw.CirculatingSupply,
			TotalSupply:           raw.TotalSupply,
			MaxSupply:             raw.MaxSupply,
			AllTimeHigh:           raw.AllTimeHigh,
			SourceUpdatedAt:       raw.SourceUpdatedAt.UTC(),
			IngestedAt:            ingestedAt,
			ProcessedAt:           processedAt,
			SourceFile:            payload.Name,
		})
	}

	// Newest first, for readability of the emitted set. Analytics
	// re-establishes its own ordering.
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].SourceUpdatedAt.After(records[j].SourceUpdatedAt)
	})

	if duplicates > 0 {
		n.logger.WithFields(logrus.Fields{
			"payload":    payload.Name,
			"duplicates": duplicates,
		}).Debug("Collapsed provider-side repeats")
	}
	return records
}

// NormalizeAll normalizes each payload independently and concatenates the
// results. Malformed payloads are filtered out before this point, at parse
// time, so a bad sibling never aborts the healthy ones.
func (n *Normalizer) NormalizeAll(payloads []models.RawPayload) []models.CanonicalRecord {
	var records []models.CanonicalRecord
	for _, payload := range payloads {
		records = append(records, n.Normalize(payload)...)
	}
	return records
}

// fullyDilutedValuation uses total supply as the proxy when max supply is
// null, so infinite-supply assets don't produce NaN valuations.
func fullyDilutedValuation(raw models.RawSnapshotRecord) float64 {
	if raw.MaxSupply == nil {
		return raw.CurrentPrice * raw.TotalSupply
	}
	return raw.CurrentPrice * *raw.MaxSupply
}

// rawIdentity is the comparable full-row identity used for deduplication.
// MaxSupply is flattened so that nil and 0 stay distinct.
type rawIdentity struct {
	assetID           string
	symbol            string
	name              string
	currentPrice      float64
	marketCap         float64
	marketCapRank     int32
	totalVolume       float64
	high24h           float64
	low24h            float64
	circulatingSupply float64
	totalSupply       float64
	maxSupply         float64
	hasMaxSupply      bool
	allTimeHigh       float64
	sourceUpdatedAt   int64
}

func identityOf(raw models.RawSnapshotRecord) rawIdentity {
	id := rawIdentity{
		assetID:           raw.AssetID,
		symbol:            raw.Symbol,
		name:              raw.Name,
		currentPrice:      raw.CurrentPrice,
		marketCap:         raw.MarketCap,
		marketCapRank:     raw.MarketCapRank,
		totalVolume:       raw.TotalVolume,
		high24h:           raw.High24h,
		low24h:            raw.Low24h,
		circulatingSupply: raw.CirculatingSupply,
		totalSupply:       raw.TotalSupply,
		allTimeHigh:       raw.AllTimeHigh,
		sourceUpdatedAt:   raw.SourceUpdatedAt.UTC().UnixNano(),
	}
	if raw.MaxSupply != nil {
		id.maxSupply = *raw.MaxSupply
		id.hasMaxSupply = true
	}
	return id
}
