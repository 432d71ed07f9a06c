package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// DiskStore keeps artifacts on the local filesystem under a single directory.
type DiskStore struct {
	baseDir string
}

// NewDiskStore ensures the upload directory exists and returns a store over it.
func NewDiskStore(baseDir string) (*DiskStore, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &DiskStore{baseDir: abs}, nil
}

// Save writes the artifact to disk and returns its absolute path as location.
func (s *DiskStore) Save(ctx context.Context, key, contentType string, reader io.Reader, size int64) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path := filepath.Join(s.baseDir, filepath.Base(key))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	if _, err := io.Copy(f, reader); err != nil {
		os.Remove(path)
		return "", err
	}
	return path, nil
}

// Open resolves a previously returned location back to a readable stream.
func (s *DiskStore) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	clean := filepath.Clean(location)
	if !strings.HasPrefix(clean, s.baseDir+string(os.PathSeparator)) {
		return nil, fmt.Errorf("location %q outside upload dir", location)
	}
	return os.Open(clean)
}
