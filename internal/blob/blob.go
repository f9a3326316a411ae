// Package blob implements Chord's blob store collaborator: opaque
// byte uploads addressed by key, returning a download URL that feeds
// photo-message content and profile pictures.
package blob

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when no blob exists under a key.
var (
	ErrNotFound   = errors.New("blob: not found")
	ErrInvalidKey = errors.New("blob: invalid key")
)

// Store is the upload boundary.
type Store interface {
	// Put stores the bytes under key (overwriting) and returns the
	// public download URL for the blob.
	Put(ctx context.Context, key string, r io.Reader) (string, error)

	// DownloadURL returns the public URL for an existing blob, or
	// ErrNotFound.
	DownloadURL(ctx context.Context, key string) (string, error)

	// Open returns the blob contents, or ErrNotFound.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}
