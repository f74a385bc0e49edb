// Package objstore abstracts the named-blob storage the pipeline runs on:
// a local data directory during development, a GCS bucket in deployment.
package objstore

import (
	"context"
	"errors"
)

// ErrNotExist is returned by Get for a missing object. Callers use it to
// tell "no data yet" apart from a broken store.
var ErrNotExist = errors.New("objstore: object does not exist")

// Store is a minimal named-blob interface. Put must be an atomic
// overwrite: a concurrent reader sees either the old object or the new
// one, never a partial write.
type Store interface {
	Exists(ctx context.Context, name string) (bool, error)
	Get(ctx context.Context, name string) ([]byte, error)
	Put(ctx context.Context, name string, data []byte, contentType string) error
	List(ctx context.Context, prefix string) ([]string, error)
}
