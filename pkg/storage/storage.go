// Package storage defines the Provider interface for object storage backends
// and the object key grammar shared by every component that touches blobs.
package storage

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned by providers when the requested key does not exist.
var ErrNotFound = errors.New("storage: object not found")

// Provider abstracts object storage operations.
type Provider interface {
	// Put writes data to storage under the given key, replacing any existing object.
	Put(ctx context.Context, key string, reader io.Reader, contentType string) error
	// Open returns a reader for the given storage key or ErrNotFound.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Copy duplicates srcKey to dstKey server side. Missing sources yield ErrNotFound.
	Copy(ctx context.Context, srcKey, dstKey string) error
	// Exists reports whether an object is stored at key.
	Exists(ctx context.Context, key string) (bool, error)
	// Delete removes the object at key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
