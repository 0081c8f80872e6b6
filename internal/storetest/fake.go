// Package storetest provides an in-memory ObjectStore for tests, with
// failure-injection hooks for exercising retry and verification paths.
package storetest

import (
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/opraflow/opraflow/errors"
	"github.com/opraflow/opraflow/store"
)

// FakeStore is an in-memory ObjectStore.
type FakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte

	// PutErr, when non-nil, is returned by Put/PutFileMultipart until
	// PutFailures attempts have failed (0 means fail forever).
	PutErr      error
	PutFailures int
	putAttempts int

	// HeadErr, when non-nil, is returned by Head until HeadFailures
	// attempts have failed (0 means fail forever).
	HeadErr      error
	HeadFailures int
	headAttempts int

	// HeadSizeOverride, when set, forces Head to report this size for
	// every key, simulating client/server disagreement.
	HeadSizeOverride *int64

	// PutCalls counts transfer attempts, network-touching calls only.
	PutCalls int
}

// New returns an empty fake store.
func New() *FakeStore {
	return &FakeStore{objects: make(map[string][]byte)}
}

// Seed stores an object directly, bypassing the failure hooks.
func (f *FakeStore) Seed(key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
}

// Objects returns a snapshot of stored keys to content length.
func (f *FakeStore) Objects() map[string]int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]int, len(f.objects))
	for k, v := range f.objects {
		out[k] = len(v)
	}
	return out
}

func (f *FakeStore) failPut() error {
	if f.PutErr == nil {
		return nil
	}
	if f.PutFailures > 0 && f.putAttempts >= f.PutFailures {
		return nil
	}
	f.putAttempts++
	return f.PutErr
}

// Put stores body under key.
func (f *FakeStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PutCalls++
	if err := f.failPut(); err != nil {
		return "", err
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	f.objects[key] = data
	return `"fake-etag"`, nil
}

// PutFileMultipart stores the file at path under key.
func (f *FakeStore) PutFileMultipart(_ context.Context, key, path string, _ int64, _ int, progress store.ProgressFunc) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.PutCalls++
	if err := f.failPut(); err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	if progress != nil {
		progress(int64(len(data)))
	}
	f.objects[key] = data
	return `"fake-multipart-etag"`, nil
}

func (f *FakeStore) failHead() error {
	if f.HeadErr == nil {
		return nil
	}
	if f.HeadFailures > 0 && f.headAttempts >= f.HeadFailures {
		return nil
	}
	f.headAttempts++
	return f.HeadErr
}

// Head reports stored metadata, honoring HeadErr and HeadSizeOverride.
func (f *FakeStore) Head(_ context.Context, key string) (store.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failHead(); err != nil {
		return store.ObjectInfo{}, err
	}
	data, ok := f.objects[key]
	if !ok {
		return store.ObjectInfo{}, errors.Wrapf(errors.ErrNotFound, "fake://%s", key)
	}
	size := int64(len(data))
	if f.HeadSizeOverride != nil {
		size = *f.HeadSizeOverride
	}
	return store.ObjectInfo{Key: key, Size: size, ETag: `"fake-etag"`}, nil
}

// List returns every object under prefix.
func (f *FakeStore) List(_ context.Context, prefix string) (map[string]store.ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]store.ObjectInfo)
	for key, data := range f.objects {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			out[key] = store.ObjectInfo{Key: key, Size: int64(len(data)), ETag: `"fake-etag"`}
		}
	}
	return out, nil
}

// Get returns stored content.
func (f *FakeStore) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "fake://%s", key)
	}
	return data, nil
}

// Delete removes key.
func (f *FakeStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	return nil
}

// AbortStaleMultipartUploads is a no-op for the fake.
func (f *FakeStore) AbortStaleMultipartUploads(_ context.Context, _ string, _ time.Duration) (int, error) {
	return 0, nil
}
