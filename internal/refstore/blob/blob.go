// Package blob abstracts raw object I/O for the reference store's metadata
// (snapshots and branch pointers). Backends exist for memory (tests), the
// local filesystem, and S3.
package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a requested key does not exist.
var ErrNotFound = errors.New("object not found")

// Store is a flat key/value object store. Keys are slash-separated paths.
type Store interface {
	// Put writes data under key, overwriting any existing object.
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the object at key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// List returns all keys with the given prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists reports whether an object exists at key.
	Exists(ctx context.Context, key string) (bool, error)
}
