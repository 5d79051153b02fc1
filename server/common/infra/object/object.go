package object

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound reports that no object exists under the requested key.
var ErrNotFound = errors.New("object not found")

// Store is the blob storage surface the gallery needs: put/get/remove by
// key, with every stored object reachable through a stable public URL.
type Store interface {
	// Put stores the object under key and returns its public URL.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (string, error)
	// Get returns the object content. Returns ErrNotFound for missing keys.
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Remove deletes the object. Returns ErrNotFound when the key is absent.
	Remove(ctx context.Context, key string) error
}
