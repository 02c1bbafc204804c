// Package blobstore stores serialized index files by name, on local disk or
// in an S3-compatible bucket.
package blobstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
)

// ErrNotFound is returned when a blob does not exist.
// The default maps to `os.ErrNotExist`.
var ErrNotFound = os.ErrNotExist

// Store reads and writes whole blobs.
type Store interface {
	Get(ctx context.Context, name string) ([]byte, error)
	// Put writes a blob atomically: readers see the old or the new content.
	Put(ctx context.Context, name string, data []byte) error
}

// Local stores blobs as files below Root. An empty Root resolves names
// against the working directory.
type Local struct {
	Root string
}

var _ Store = (*Local)(nil)

func NewLocal(root string) *Local {
	return &Local{Root: root}
}

func (l *Local) path(name string) string {
	if l.Root == "" || filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	return filepath.Join(l.Root, name)
}

func (l *Local) Get(_ context.Context, name string) ([]byte, error) {
	data, err := os.ReadFile(l.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

func (l *Local) Put(_ context.Context, name string, data []byte) (err error) {
	p := l.path(name)
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(p), ".blob-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()
	if _, err = f.Write(data); err != nil {
		return err
	}
	if err = f.Close(); err != nil {
		return err
	}
	return os.Rename(f.Name(), p)
}
