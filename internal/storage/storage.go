package storage

import "context"

// ObjectStore is the narrow blob-storage surface the core consumes.
type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) (string, error)
	Delete(ctx context.Context, key string) error
}
