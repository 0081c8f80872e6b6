// Package pipeline drives the extract → convert → upload loop over the
// archive's daily files, consulting the ledger for pending work and
// recording every outcome durably so an interrupted run resumes from the
// exact point of failure.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opraflow/opraflow/archive"
	"github.com/opraflow/opraflow/config"
	"github.com/opraflow/opraflow/convert"
	"github.com/opraflow/opraflow/errors"
	"github.com/opraflow/opraflow/ledger"
	"github.com/opraflow/opraflow/preflight"
	"github.com/opraflow/opraflow/store"
	"github.com/opraflow/opraflow/transfer"
)

// Source is the archive collaborator contract: list members, stream one
// member out, and expose the optional digest manifest.
type Source interface {
	ListDataFiles() ([]string, error)
	Extract(member, dest string) error
	ManifestDigests() map[string]string
}

// UploadExecutor is the transfer collaborator contract.
type UploadExecutor interface {
	Upload(ctx context.Context, localPath, key string) (*transfer.Result, error)
}

// Canceler reports a cooperative cancellation request. Checked at the top
// of each iteration only; an in-flight item always completes or fails
// normally.
type Canceler interface {
	Requested() bool
}

// Options selects the run mode.
type Options struct {
	// DryRun skips the network entirely but still records synthetic
	// completions, so resume logic is exercised identically.
	DryRun bool

	// Resume loads prior ledger state; disabled it starts from a fresh
	// aggregate (the durable document is still overwritten on first
	// update).
	Resume bool

	// DateFilter, when non-empty, narrows processing to these
	// YYYY-MM-DD partition keys.
	DateFilter map[string]bool

	// NoCleanup keeps per-item working directories for debugging.
	NoCleanup bool
}

// Stats summarizes a finished run.
type Stats struct {
	TotalItems       int
	PendingAtStart   int
	ProcessedThisRun int
	FailedThisRun    int
	Stopped          bool
	RemainingOnStop  int
	Ledger           ledger.Summary
	Preflight        *preflight.Summary
}

// Driver owns the run. The ledger is exclusively the driver's to mutate;
// every other component gets read-only access.
type Driver struct {
	cfg      *config.Config
	source   Source
	conv     convert.Converter
	uploader UploadExecutor
	objStore store.ObjectStore
	cancel   Canceler
	log      *zap.SugaredLogger
}

// New wires a Driver from its collaborators. objStore may be nil for
// dry-run drivers; the readiness gate skips remote checks in that mode.
func New(cfg *config.Config, src Source, conv convert.Converter, up UploadExecutor, objStore store.ObjectStore, cancel Canceler, log *zap.SugaredLogger) *Driver {
	return &Driver{
		cfg:      cfg,
		source:   src,
		conv:     conv,
		uploader: up,
		objStore: objStore,
		cancel:   cancel,
		log:      log,
	}
}

// Run executes the pipeline: readiness gate, ledger load, pending-set
// computation, then the item loop. A single item's failure is recorded and
// the loop continues; only readiness failures abort the run.
func (d *Driver) Run(ctx context.Context, opts Options) (*Stats, error) {
	pre, err := preflight.Run(ctx, d.cfg, d.objStore, d.conv, opts.DryRun)
	if err != nil {
		return nil, err
	}

	led, err := d.openLedger(opts)
	if err != nil {
		return nil, err
	}

	items, err := d.source.ListDataFiles()
	if err != nil {
		return nil, err
	}

	jobID := jobIDFromArchive(d.cfg.Source.ZipPath)
	if err := led.Init(jobID, d.cfg.Source.ZipPath, d.cfg.S3.Bucket, d.cfg.S3.Prefix); err != nil {
		return nil, err
	}

	pending := led.Pending(items)
	pending = d.filterByDate(pending, opts.DateFilter)

	stats := &Stats{
		TotalItems:     len(items),
		PendingAtStart: len(pending),
		Preflight:      pre,
	}

	if len(pending) == 0 {
		d.log.Infow("Nothing to process, all items already completed")
		stats.Ledger = led.Summarize()
		return stats, nil
	}

	digests := d.source.ManifestDigests()

	for i, item := range pending {
		if d.cancel != nil && d.cancel.Requested() {
			stats.Stopped = true
			stats.RemainingOnStop = len(pending) - i
			d.log.Warnw("Graceful shutdown",
				"processed", i, "remaining", stats.RemainingOnStop)
			break
		}

		tradeDate, err := archive.DateFromName(item)
		if err != nil {
			d.recordFailure(led, item, err, stats)
			continue
		}

		d.log.Infow("Processing item",
			"n", i+1, "of", len(pending),
			"date", tradeDate.Format("2006-01-02"), "item", item)

		if err := d.processItem(ctx, led, item, tradeDate, digests, opts); err != nil {
			d.recordFailure(led, item, err, stats)
			continue
		}
		stats.ProcessedThisRun++
	}

	stats.Ledger = led.Summarize()
	return stats, nil
}

// openLedger loads prior state or starts fresh per the resume toggle.
func (d *Driver) openLedger(opts Options) (*ledger.Ledger, error) {
	if opts.Resume {
		return ledger.Open(d.cfg.Pipeline.LedgerPath)
	}
	return ledger.Fresh(d.cfg.Pipeline.LedgerPath), nil
}

// processItem runs extract → verify → convert → upload for one item inside
// a scoped working directory destroyed on every exit path.
func (d *Driver) processItem(ctx context.Context, led *ledger.Ledger, item string, tradeDate time.Time, digests map[string]string, opts Options) error {
	// The working directory lives next to the archive so intermediates
	// stay on one volume, carries the reserved prefix so a crashed run's
	// residue is identifiable, and is uniquely named so concurrent dates
	// never collide.
	workDir := filepath.Join(
		filepath.Dir(d.cfg.Source.ZipPath),
		fmt.Sprintf("%s%s_%s", preflight.WorkDirPrefix,
			tradeDate.Format("2006-01-02"), uuid.NewString()[:8]),
	)
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create working directory %s", workDir)
	}
	if !opts.NoCleanup {
		defer os.RemoveAll(workDir)
	}

	dbnPath := filepath.Join(workDir, filepath.Base(item))
	parquetPath := filepath.Join(workDir, "data.parquet")

	if err := d.source.Extract(item, dbnPath); err != nil {
		return err
	}

	if want, ok := digests[item]; ok {
		if err := archive.VerifyFileDigest(dbnPath, want); err != nil {
			return err
		}
		d.log.Debugw("Digest verified against manifest", "item", item)
	}

	if err := d.conv.Convert(ctx, dbnPath, parquetPath); err != nil {
		return err
	}

	// Drop the raw intermediate before the upload to bound peak disk
	// usage at one converted file.
	if d.cfg.Pipeline.CleanupAfterUpload && !opts.NoCleanup {
		_ = os.Remove(dbnPath)
	}

	if opts.DryRun {
		info, err := os.Stat(parquetPath)
		if err != nil {
			return errors.Wrapf(err, "failed to stat converted file for %s", item)
		}
		d.log.Infow("Dry run, skipping upload",
			"would_upload", transfer.BuildKey(d.cfg.S3.Prefix, d.cfg.Pipeline.Underlying, tradeDate))
		return led.MarkCompleted(item, ledger.Completed{
			RemoteKey: "(dry-run)",
			SizeBytes: info.Size(),
		})
	}

	key := transfer.BuildKey(d.cfg.S3.Prefix, d.cfg.Pipeline.Underlying, tradeDate)
	result, err := d.uploader.Upload(ctx, parquetPath, key)
	if err != nil {
		return err
	}
	d.log.Infow("Uploaded", "key", key, "size_bytes", result.SizeBytes)

	return led.MarkCompleted(item, ledger.Completed{
		RemoteKey: key,
		ETag:      result.ETag,
		SHA256:    result.SHA256,
		SizeBytes: result.SizeBytes,
	})
}

// recordFailure durably records a per-item failure and keeps the run going.
func (d *Driver) recordFailure(led *ledger.Ledger, item string, cause error, stats *Stats) {
	d.log.Errorw("Item failed", "item", item, "error", cause)
	if err := led.MarkFailed(item, cause.Error()); err != nil {
		// The ledger write itself failing means resume state is at
		// risk; still continue so remaining items get their chance.
		d.log.Errorw("Failed to record failure in ledger", "item", item, "error", err)
	}
	stats.FailedThisRun++
}

// filterByDate narrows pending items to the requested partition keys.
func (d *Driver) filterByDate(items []string, filter map[string]bool) []string {
	if len(filter) == 0 {
		return items
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if date, err := archive.DateFromName(item); err == nil {
			if filter[date.Format("2006-01-02")] {
				out = append(out, item)
			}
		}
	}
	return out
}

// jobIDFromArchive derives a stable job id from the archive filename.
func jobIDFromArchive(zipPath string) string {
	base := filepath.Base(zipPath)
	return base[:len(base)-len(filepath.Ext(base))]
}
