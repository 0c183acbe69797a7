package storage

import "context"

// Update is sent to listeners whenever a key changes. A nil Value means the
// key was deleted.
type Update struct {
	Key   []byte
	Value []byte
}

// Store holds lrcp's runtime statistics as a single JSON document.
type Store interface {
	Set(ctx context.Context, key []byte, value interface{}) error
	Get(ctx context.Context, key []byte) ([]byte, error)
	Delete(ctx context.Context, key []byte) error

	Restore(values []byte) error
	Backup() ([]byte, error)

	ListenToUpdates() <-chan *Update

	Close() error
}
