package interfaces

import (
	"context"
	"io"
)

// BlobInfo describes a stored object
type BlobInfo struct {
	Key  string
	Size int64
}

// BlobStore persists downloaded documents and rendered reports.
// Keys are slash-separated, scoped by task.
type BlobStore interface {
	// Write stores the full content of r under key, replacing any
	// existing object
	Write(ctx context.Context, key string, r io.Reader) (int64, error)

	// Open returns a reader for the object. Caller closes it.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	Stat(ctx context.Context, key string) (*BlobInfo, error)
	Delete(ctx context.Context, key string) error
}
