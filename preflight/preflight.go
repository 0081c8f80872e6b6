// Package preflight validates the environment before a long pipeline run.
//
// Every check is evaluated independently and all failures are aggregated
// into a single readiness error, so an operator fixes everything in one
// pass instead of replaying the run once per problem. Any failing check
// aborts before a single work item is touched.
package preflight

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/opraflow/opraflow/archive"
	"github.com/opraflow/opraflow/config"
	"github.com/opraflow/opraflow/convert"
	"github.com/opraflow/opraflow/errors"
	"github.com/opraflow/opraflow/ledger"
	"github.com/opraflow/opraflow/store"
)

const (
	// MinFreeBytes is the local headroom floor: one extracted daily file
	// plus one converted file held concurrently.
	MinFreeBytes = 512 * 1024 * 1024

	// WorkDirPrefix is the reserved name prefix of per-item working
	// directories; anything matching it at startup is residue of a
	// crashed run.
	WorkDirPrefix = ".opraflow_"

	// probeKey is the reserved key exercised by the write-permission
	// probe.
	probeKey = ".opraflow_preflight_test"

	// staleUploadAge is how old an incomplete multipart upload must be
	// before it is considered abandoned.
	staleUploadAge = 24 * time.Hour
)

// Summary is the structured result of a passing gate; the driver prints it
// as the operator-facing run banner.
type Summary struct {
	TotalItems          int
	FreeGB              float64
	PreviouslyCompleted int
	PreviouslyFailed    int
	Remaining           int
	StaleDirsCleaned    int
	StaleUploadsAborted int
}

// Run evaluates every readiness check. It returns a Summary on success, or
// an ErrReadiness aggregating every failing condition.
func Run(ctx context.Context, cfg *config.Config, objStore store.ObjectStore, conv convert.Converter, dryRun bool) (*Summary, error) {
	summary := &Summary{}
	var failures []error

	// 1. Source archive exists with a readable table of contents.
	if _, err := os.Stat(cfg.Source.ZipPath); err != nil {
		failures = append(failures, errors.Newf("archive not found: %s", cfg.Source.ZipPath))
	} else if items, err := archive.ListDataFiles(cfg.Source.ZipPath); err != nil {
		failures = append(failures, errors.Wrap(err, "invalid archive"))
	} else {
		summary.TotalItems = len(items)
	}

	// 2. Local disk headroom on the working volume.
	workDir := filepath.Dir(cfg.Source.ZipPath)
	if free, err := freeBytes(workDir); err == nil {
		summary.FreeGB = float64(free) / (1 << 30)
		if free < MinFreeBytes {
			failures = append(failures, errors.Newf(
				"insufficient disk space: %.1f GB free, need >= 0.5 GB", summary.FreeGB))
		}
	}

	// 3. Converter runtime dependency. A missing tool is an explicit
	// failure here, never a silent skip discovered on the first item.
	if err := conv.Available(); err != nil {
		failures = append(failures, err)
	}

	// 4. Destination credentials and permissions, exercised with a real
	// probe write+delete rather than metadata inspection. Skipped in
	// dry-run mode, which makes no network calls.
	if !dryRun {
		if cfg.S3.Bucket == "" {
			failures = append(failures, errors.New("s3.bucket not set (config or OPRAFLOW_S3_BUCKET)"))
		} else if err := probeWriteDelete(ctx, objStore, cfg.S3.Prefix); err != nil {
			failures = append(failures, errors.Wrap(err, "S3 access failed"))
		} else if n, err := objStore.AbortStaleMultipartUploads(ctx, cfg.S3.Prefix, staleUploadAge); err == nil {
			summary.StaleUploadsAborted = n
		}
	}

	// 5. Prior ledger integrity. A corrupt ledger is a hard stop, never
	// silently discarded.
	if _, err := os.Stat(cfg.Pipeline.LedgerPath); err == nil {
		led, err := ledger.Open(cfg.Pipeline.LedgerPath)
		if err != nil {
			failures = append(failures, errors.Wrap(err, "ledger unusable"))
		} else {
			s := led.Summarize()
			summary.PreviouslyCompleted = s.Completed
			summary.PreviouslyFailed = s.Failed
			summary.Remaining = summary.TotalItems - s.Completed
		}
	} else {
		summary.Remaining = summary.TotalItems
	}

	// 6. Stale working directories from crashed runs.
	summary.StaleDirsCleaned = cleanupStaleWorkDirs(workDir)

	if len(failures) > 0 {
		err := errors.Wrapf(errors.ErrReadiness,
			"%d pre-flight check(s) failed:\n%v",
			len(failures), errors.Join(failures...))
		return nil, errors.WithHint(err, "fix the issues above and re-run; completed items are never reprocessed")
	}
	return summary, nil
}

// probeWriteDelete exercises both write and delete permission against the
// destination with a real object.
func probeWriteDelete(ctx context.Context, objStore store.ObjectStore, prefix string) error {
	key := prefix + "/" + probeKey
	body := strings.NewReader("preflight")
	if _, err := objStore.Put(ctx, key, body, int64(body.Len()), ""); err != nil {
		return err
	}
	return objStore.Delete(ctx, key)
}

// cleanupStaleWorkDirs removes leftover per-item working directories from
// crashed runs and returns the count removed.
func cleanupStaleWorkDirs(baseDir string) int {
	entries, err := os.ReadDir(baseDir)
	if err != nil {
		return 0
	}

	cleaned := 0
	for _, entry := range entries {
		if entry.IsDir() && strings.HasPrefix(entry.Name(), WorkDirPrefix) {
			if err := os.RemoveAll(filepath.Join(baseDir, entry.Name())); err == nil {
				cleaned++
			}
		}
	}
	return cleaned
}

// freeBytes returns the available bytes on the volume holding path.
func freeBytes(path string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}
