// Package storage is where anomaly clips end up
package storage

import (
	"context"
	"errors"
	"io"
)

var ErrInvalidName = errors.New("Invalid file name")

// Storage is an abstraction of a blob store (eg GCS)
type Storage interface {
	// When finished, you must close the WriteCloser. For remote stores, the upload
	// is only complete once Close has returned without error.
	// To abandon a write, cancel ctx before calling Close.
	WriteFile(ctx context.Context, name string) (io.WriteCloser, error)

	DeleteFile(ctx context.Context, name string) error

	// URI returns a reference to the named object that other systems can resolve,
	// eg gs://bucket/name or file:///abs/path
	URI(name string) string
}

// WriteFile copies content into a new blob, and returns the URI of the blob.
// If content cannot be read in full, no blob is left behind.
func WriteFile(ctx context.Context, s Storage, name string, content io.Reader) (string, error) {
	writeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	f, err := s.WriteFile(writeCtx, name)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, content); err != nil {
		// A GCS writer that is closed with a live context commits whatever it has
		cancel()
		f.Close()
		// Nothing exists remotely after a cancelled upload, so this only matters for local files
		s.DeleteFile(context.WithoutCancel(ctx), name)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return s.URI(name), nil
}
