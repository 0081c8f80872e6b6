// Package transfer uploads local artifacts to the object store with retry
// and multi-layer verification.
//
// Three layers defend against silent corruption:
//  1. Content-MD5 on single-request puts: the store itself rejects a
//     mismatched payload.
//  2. An independent post-transfer Head: the store's reported size must
//     equal the local artifact's size, catching client/server disagreement
//     the transport digest cannot see (e.g. truncated multipart assembly).
//  3. The SHA-256 recorded in the ledger, enabling post-run audit.
package transfer

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/opraflow/opraflow/errors"
	"github.com/opraflow/opraflow/internal/checksum"
	"github.com/opraflow/opraflow/logger"
	"github.com/opraflow/opraflow/store"
)

const (
	// MultipartThreshold is the artifact size at which a single atomic
	// put (with inline Content-MD5) gives way to a chunked transfer,
	// where that guarantee is not available.
	MultipartThreshold = 100 * 1024 * 1024

	// DefaultPartSize is the chunk size for multipart transfers.
	DefaultPartSize = 64 * 1024 * 1024

	// DefaultConcurrency bounds parallel part uploads.
	DefaultConcurrency = 4

	// DefaultMaxAttempts is the total number of attempts per upload.
	DefaultMaxAttempts = 3
)

// Result is what a verified upload yields; the driver turns it directly
// into a ledger record.
type Result struct {
	ETag      string
	SizeBytes int64
	SHA256    string
}

// Uploader uploads artifacts with retry and verification.
type Uploader struct {
	store       store.ObjectStore
	threshold   int64
	partSize    int64
	concurrency int
	maxAttempts int

	// sleep is replaceable so retry tests do not wait for real backoff.
	sleep func(time.Duration)

	// Progress receives best-effort feedback during multipart
	// transfers. Optional; observability only.
	Progress store.ProgressFunc
}

// NewUploader returns an Uploader with the reference tuning.
func NewUploader(s store.ObjectStore) *Uploader {
	return &Uploader{
		store:       s,
		threshold:   MultipartThreshold,
		partSize:    DefaultPartSize,
		concurrency: DefaultConcurrency,
		maxAttempts: DefaultMaxAttempts,
		sleep:       time.Sleep,
	}
}

// Upload transfers the artifact at localPath to key and verifies it.
// Failed attempts are retried with exponential backoff (2s, 4s, 8s).
// Integrity failures are never retried.
func (u *Uploader) Upload(ctx context.Context, localPath, key string) (*Result, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat %s", localPath)
	}
	size := info.Size()

	digests, err := checksum.ComputeFile(localPath)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= u.maxAttempts; attempt++ {
		etag, err := u.transfer(ctx, localPath, key, size, digests.MD5Base64)
		if err == nil {
			err = u.verifyRemoteSize(ctx, key, size)
			if err == nil {
				return &Result{ETag: etag, SizeBytes: size, SHA256: digests.SHA256}, nil
			}
			if errors.IsIntegrity(err) {
				return nil, err
			}
			// A failed head is a transport problem like any other; the
			// whole attempt is retried.
		}

		lastErr = err
		if attempt == u.maxAttempts {
			break
		}

		wait := time.Duration(1<<attempt) * time.Second
		logger.Logger.Warnw("Upload attempt failed, retrying",
			"key", key, "attempt", attempt, "max_attempts", u.maxAttempts,
			"wait", wait.String(), "error", err)
		u.sleep(wait)
	}

	return nil, errors.Wrapf(errors.ErrTransfer,
		"upload of %s exhausted %d attempts: %v", key, u.maxAttempts, lastErr)
}

// transfer performs one attempt, choosing strategy by size.
func (u *Uploader) transfer(ctx context.Context, localPath, key string, size int64, md5b64 string) (string, error) {
	if size < u.threshold {
		f, err := os.Open(localPath)
		if err != nil {
			return "", errors.Wrapf(err, "failed to open %s", localPath)
		}
		defer f.Close()
		return u.store.Put(ctx, key, f, size, md5b64)
	}
	return u.store.PutFileMultipart(ctx, key, localPath, u.partSize, u.concurrency, u.Progress)
}

// verifyRemoteSize asserts the store's reported size equals the local
// artifact's. A mismatch is an integrity failure even though the transport
// layer reported success. A failing head itself is not: the metadata query
// can hit the same transient faults as the transfer.
func (u *Uploader) verifyRemoteSize(ctx context.Context, key string, expected int64) error {
	remote, err := u.store.Head(ctx, key)
	if err != nil {
		return errors.Wrapf(err, "post-upload head of %s", key)
	}
	if remote.Size != expected {
		return errors.Wrapf(errors.ErrIntegrity,
			"size mismatch for %s: expected %d, store reports %d",
			key, expected, remote.Size)
	}
	return nil
}

// BuildKey builds the Hive-partitioned object key, e.g.
// options/cbbo-1m/underlying=SPY/date=2025-08-07/data.parquet
func BuildKey(prefix, underlying string, tradeDate time.Time) string {
	return fmt.Sprintf("%s/underlying=%s/date=%s/data.parquet",
		prefix, underlying, tradeDate.Format("2006-01-02"))
}
