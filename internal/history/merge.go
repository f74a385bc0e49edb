// Package history is the append/merge abstraction over the persisted
// per-dataset state file holding the bounded rolling history per asset.
package history

import (
	"sort"

	"github.com/quantfold/cryptolake/internal/models"
)

// MergeAndPrune deduplicates the union of existing and incoming by the
// natural key (asset_id, source_updated_at), keeping the most recently
// processed version on conflict, then keeps only the retentionN
// most-recent-by-source_updated_at records per asset. The result is
// exactly union minus duplicates minus over-retention overflow; nothing
// is fabricated or mutated. The operation is idempotent and associative
// over deduplication.
func MergeAndPrune(existing, incoming []models.CanonicalRecord, retentionN int) []models.CanonicalRecord {
	byKey := make(map[models.RecordKey]models.CanonicalRecord, len(existing)+len(incoming))
	for _, record := range existing {
		merge(byKey, record)
	}
	for _, record := range incoming {
		merge(byKey, record)
	}

	byAsset := make(map[string][]models.CanonicalRecord)
	for _, record := range byKey {
		byAsset[record.AssetID] = append(byAsset[record.AssetID], record)
	}

	merged := make([]models.CanonicalRecord, 0, len(byKey))
	for _, records := range byAsset {
		sort.Slice(records, func(i, j int) bool {
			return records[i].SourceUpdatedAt.After(records[j].SourceUpdatedAt)
		})
		if retentionN > 0 && len(records) > retentionN {
			records = records[:retentionN]
		}
		merged = append(merged, records...)
	}

	// Deterministic output: asset, then ascending source time.
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].AssetID != merged[j].AssetID {
			return merged[i].AssetID < merged[j].AssetID
		}
		return merged[i].SourceUpdatedAt.Before(merged[j].SourceUpdatedAt)
	})
	return merged
}

func merge(byKey map[models.RecordKey]models.CanonicalRecord, record models.CanonicalRecord) {
	key := record.Key()
	current, ok := byKey[key]
	if !ok || record.ProcessedAt.After(current.ProcessedAt) {
		byKey[key] = record
	}
}
