package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key has no record in a store
var ErrNotFound = errors.New("record not found")

// StateStore persists opaque records by key
type StateStore interface {
	Put(ctx context.Context, key string, record []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
