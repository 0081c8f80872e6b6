// Package store exposes the remote object store behind a narrow contract:
// put, head, list, get, delete, plus a chunked put for large artifacts.
//
// The pipeline core only sees the ObjectStore interface; the S3
// implementation lives in s3.go. Tests substitute an in-memory fake.
package store

import (
	"context"
	"io"
	"time"
)

// ObjectInfo describes one remote object.
type ObjectInfo struct {
	Key  string
	Size int64
	ETag string
}

// ProgressFunc receives byte counts as a chunked transfer advances.
// Observability only, never correctness-relevant.
type ProgressFunc func(transferred int64)

// ObjectStore is the remote-storage contract the pipeline depends on.
type ObjectStore interface {
	// Put uploads body as a single atomic object. When contentMD5 is
	// non-empty the store itself verifies it and rejects a mismatched
	// payload. Returns the remote integrity tag.
	Put(ctx context.Context, key string, body io.Reader, size int64, contentMD5 string) (string, error)

	// PutFileMultipart uploads the file at path as a chunked transfer
	// with bounded part parallelism. Returns the remote integrity tag.
	PutFileMultipart(ctx context.Context, key, path string, partSize int64, concurrency int, progress ProgressFunc) (string, error)

	// Head returns the store's own metadata for key. A missing object is
	// errors.ErrNotFound.
	Head(ctx context.Context, key string) (ObjectInfo, error)

	// List returns every object under prefix, following pagination.
	List(ctx context.Context, prefix string) (map[string]ObjectInfo, error)

	// Get fetches the full content of key.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// AbortStaleMultipartUploads aborts incomplete chunked transfers
	// under prefix older than maxAge, left behind by crashed runs.
	// Best-effort; returns the count aborted.
	AbortStaleMultipartUploads(ctx context.Context, prefix string, maxAge time.Duration) (int, error)
}
