package history

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/quantfold/cryptolake/internal/models"
	"github.com/quantfold/cryptolake/internal/objstore"
)

// Store persists the analyzed state for one dataset. Load returns
// (nil, nil) on cold start: a missing state is not an error, it just
// means no analytics run has completed yet.
type Store interface {
	Load(ctx context.Context) ([]models.AnalyzedRecord, error)
	Save(ctx context.Context, records []models.AnalyzedRecord) error
}

// ObjectStore keeps the state as a single Parquet object in an
// objstore.Store. Save relies on the store's atomic overwrite, so a
// concurrent reader never observes a partial state.
type ObjectStore struct {
	objects objstore.Store
	name    string
	logger  *logrus.Logger
}

func NewObjectStore(objects objstore.Store, name string, logger *logrus.Logger) *ObjectStore {
	return &ObjectStore{objects: objects, name: name, logger: logger}
}

func (s *ObjectStore) Load(ctx context.Context) ([]models.AnalyzedRecord, error) {
	data, err := s.objects.Get(ctx, s.name)
	if err != nil {
		if errors.Is(err, objstore.ErrNotExist) {
			s.logger.WithField("state", s.name).Info("No existing state, cold start")
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load state %s: %w", s.name, err)
	}

	records, err := DecodeState(data)
	if err != nil {
		return nil, fmt.Errorf("state %s: %w", s.name, err)
	}
	return records, nil
}

func (s *ObjectStore) Save(ctx context.Context, records []models.AnalyzedRecord) error {
	data, err := EncodeState(records)
	if err != nil {
		return err
	}
	if err := s.objects.Put(ctx, s.name, data, parquetContentType); err != nil {
		return fmt.Errorf("failed to save state %s: %w", s.name, err)
	}
	s.logger.WithFields(logrus.Fields{
		"state": s.name,
		"rows":  len(records),
	}).Info("State saved")
	return nil
}
