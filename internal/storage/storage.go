// Package storage archives finished recordings: always to the local
// filesystem, optionally mirrored to an S3-compatible object store.
package storage

import "context"

// Store persists finished recording artifacts under a key.
type Store interface {
	Save(ctx context.Context, key string, data []byte, contentType string) error
	// URL returns a fetchable location for the key, or "" when the
	// backend has none.
	URL(ctx context.Context, key string) (string, error)
}
