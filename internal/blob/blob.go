// Package blob provides object storage for uploaded media files.
//
// Backends are selected by configuration: an in-memory store for tests,
// a local filesystem store for single-node deployments, and S3 (or any
// S3-compatible endpoint) for production.
package blob

import (
	"context"
	"errors"
	"io"
)

// Errors returned by stores.
var (
	ErrNotFound    = errors.New("blob not found")
	ErrInvalidPath = errors.New("invalid blob path")
)

// Store is an object store addressed by slash-separated paths.
type Store interface {
	// Put writes size bytes from r to path and returns the download URL.
	Put(ctx context.Context, path string, r io.Reader, size int64, contentType string) (string, error)

	// Delete removes the object at path. Returns ErrNotFound if it does not exist.
	Delete(ctx context.Context, path string) error

	// URL returns a download URL for the object at path.
	URL(ctx context.Context, path string) (string, error)

	// Check verifies that the store is reachable.
	Check(ctx context.Context) error
}
