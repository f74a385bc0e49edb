package history

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/quantfold/cryptolake/internal/models"
)

// ErrCorruptState marks an unreadable state file. Callers must fail
// loudly on it: silently resetting would destroy rolling-window
// continuity.
var ErrCorruptState = errors.New("history: state file is corrupt")

const parquetContentType = "application/vnd.apache.parquet"

// EncodeState serializes analyzed records to a snappy-compressed Parquet
// file, one row per record.
func EncodeState(records []models.AnalyzedRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := parquet.Write(&buf, records, parquet.Compression(&parquet.Snappy)); err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeState reads the persisted state file back into analyzed records.
func DecodeState(data []byte) ([]models.AnalyzedRecord, error) {
	records, err := parquet.Read[models.AnalyzedRecord](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptState, err)
	}
	return records, nil
}

// EncodeCanonical serializes canonical records for the intermediate
// cleaned dataset produced by a standalone normalization run.
func EncodeCanonical(records []models.CanonicalRecord) ([]byte, error) {
	var buf bytes.Buffer
	if err := parquet.Write(&buf, records, parquet.Compression(&parquet.Snappy)); err != nil {
		return nil, fmt.Errorf("failed to encode canonical records: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeCanonical reads an intermediate cleaned dataset.
func DecodeCanonical(data []byte) ([]models.CanonicalRecord, error) {
	records, err := parquet.Read[models.CanonicalRecord](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptState, err)
	}
	return records, nil
}
