package storage

import (
	"context"
	"io"
)

// ArtifactStore persists uploaded artifacts and resolves them back to bytes.
// The rest of the system treats the returned location as opaque.
type ArtifactStore interface {
	Save(ctx context.Context, key, contentType string, reader io.Reader, size int64) (string, error)
	Open(ctx context.Context, location string) (io.ReadCloser, error)
}
