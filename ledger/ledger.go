// Package ledger tracks per-item progress of a pipeline run in a durable,
// atomically-updated JSON document.
//
// The document is the only memory carried across runs: a resumed run
// re-derives its work set from the ledger, so the single invariant
// everything rests on is that a reader of the on-disk document, at any
// wall-clock instant, sees either the state from before some update or the
// state from after it, never a torn write. Save achieves that with a
// write-to-temp-then-rename protocol on the same volume.
package ledger

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/opraflow/opraflow/errors"
)

// Status is the recorded state of one work item.
type Status string

const (
	// StatusCompleted marks an item durably uploaded and verified.
	// Pending is implicit: an item with no record is pending.
	StatusCompleted Status = "completed"
	// StatusFailed marks an item whose last attempt failed. Failed items
	// are retry candidates, not terminal.
	StatusFailed Status = "failed"
)

// Record is the ledger entry for one item. Exactly one of the completion
// fields or Error is meaningful depending on Status.
type Record struct {
	Status Status `json:"status"`

	// Completion fields
	RemoteKey   string     `json:"remote_key,omitempty"`
	ETag        string     `json:"etag,omitempty"`
	SHA256      string     `json:"sha256,omitempty"`
	SizeBytes   int64      `json:"size_bytes,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Failure fields
	Error    string     `json:"error,omitempty"`
	FailedAt *time.Time `json:"failed_at,omitempty"`
}

// Completed holds the metadata recorded for a successful item. The caller
// builds it from the transfer result.
type Completed struct {
	RemoteKey string
	ETag      string
	SHA256    string
	SizeBytes int64
}

// document is the on-disk schema. Additive-only: any future run must still
// parse documents written by this one.
type document struct {
	JobID       string            `json:"job_id"`
	ZipPath     string            `json:"zip_path"`
	Bucket      string            `json:"s3_bucket"`
	Prefix      string            `json:"s3_prefix"`
	StartedAt   time.Time         `json:"started_at"`
	LastUpdated time.Time         `json:"last_updated"`
	Items       map[string]Record `json:"items"`
}

// Ledger is the durable aggregate. It is exclusively owned by the pipeline
// driver during a run; the readiness gate and the auditor get read-only
// access. Not safe for concurrent writers.
type Ledger struct {
	path string
	doc  document
}

// Summary holds completed/failed counts.
type Summary struct {
	Completed int
	Failed    int
}

// Open loads the ledger document at path if present. An absent document is
// not an error: it yields an empty aggregate. An unparseable document is
// ErrLedgerCorrupt.
func Open(path string) (*Ledger, error) {
	l := &Ledger{path: path}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return l, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read ledger %s", path)
	}

	if err := json.Unmarshal(data, &l.doc); err != nil {
		return nil, errors.Wrapf(errors.ErrLedgerCorrupt, "%s: %v", path, err)
	}
	return l, nil
}

// Fresh returns an empty aggregate bound to path, ignoring any existing
// document. Used by --no-resume: the first durable update overwrites the
// prior document wholesale.
func Fresh(path string) *Ledger {
	return &Ledger{path: path}
}

// Path returns the on-disk location of the ledger document.
func (l *Ledger) Path() string {
	return l.path
}

// Empty reports whether the aggregate holds no job yet.
func (l *Ledger) Empty() bool {
	return l.doc.JobID == ""
}

// Init creates a fresh aggregate and persists it immediately. A no-op when
// the aggregate is already populated, so re-initializing an existing ledger
// never discards history.
func (l *Ledger) Init(jobID, zipPath, bucket, prefix string) error {
	if !l.Empty() {
		return nil
	}

	now := time.Now().UTC()
	l.doc = document{
		JobID:       jobID,
		ZipPath:     zipPath,
		Bucket:      bucket,
		Prefix:      prefix,
		StartedAt:   now,
		LastUpdated: now,
		Items:       make(map[string]Record),
	}
	return l.save()
}

// MarkCompleted records a completed item and persists the whole document
// atomically. An explicit re-run may overwrite a prior record; that is a
// fresh completion, not a mutation of history.
func (l *Ledger) MarkCompleted(item string, c Completed) error {
	now := time.Now().UTC()
	if l.doc.Items == nil {
		l.doc.Items = make(map[string]Record)
	}
	l.doc.Items[item] = Record{
		Status:      StatusCompleted,
		RemoteKey:   c.RemoteKey,
		ETag:        c.ETag,
		SHA256:      c.SHA256,
		SizeBytes:   c.SizeBytes,
		CompletedAt: &now,
	}
	l.doc.LastUpdated = now
	return l.save()
}

// MarkFailed records a failed item and persists atomically.
func (l *Ledger) MarkFailed(item string, reason string) error {
	now := time.Now().UTC()
	if l.doc.Items == nil {
		l.doc.Items = make(map[string]Record)
	}
	l.doc.Items[item] = Record{
		Status:   StatusFailed,
		Error:    reason,
		FailedAt: &now,
	}
	l.doc.LastUpdated = now
	return l.save()
}

// Record returns the record for item, if any.
func (l *Ledger) Record(item string) (Record, bool) {
	rec, ok := l.doc.Items[item]
	return rec, ok
}

// CompletedRecords returns every completed entry keyed by item id.
func (l *Ledger) CompletedRecords() map[string]Record {
	out := make(map[string]Record)
	for item, rec := range l.doc.Items {
		if rec.Status == StatusCompleted {
			out[item] = rec
		}
	}
	return out
}

// Pending returns, in input order, every item whose record is absent or
// failed. Failed items are always eligible for retry.
func (l *Ledger) Pending(all []string) []string {
	pending := make([]string, 0, len(all))
	for _, item := range all {
		if rec, ok := l.doc.Items[item]; !ok || rec.Status != StatusCompleted {
			pending = append(pending, item)
		}
	}
	return pending
}

// Summarize returns counts of completed and failed records.
func (l *Ledger) Summarize() Summary {
	var s Summary
	for _, rec := range l.doc.Items {
		switch rec.Status {
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}

// save atomically writes the full document to disk.
//
// The temp file is created in the same directory as the target so the
// final rename stays on one volume; rename on a POSIX filesystem is atomic,
// so a crash at any point leaves either the old document or the new one,
// never a mixture. On failure the temp file is removed best-effort and the
// prior document remains untouched.
func (l *Ledger) save() error {
	data, err := json.MarshalIndent(&l.doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal ledger")
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create ledger directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".ledger_*.tmp")
	if err != nil {
		return errors.Wrap(err, "failed to create ledger temp file")
	}
	tmpPath := tmp.Name()

	if err := writeAndSync(tmp, data); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, l.path); err != nil {
		_ = os.Remove(tmpPath)
		return errors.Wrapf(err, "failed to rename ledger into place at %s", l.path)
	}
	return nil
}

// writeAndSync writes data and forces it to stable storage before the
// caller renames the file into place. Closes f in all cases.
func writeAndSync(f *os.File, data []byte) error {
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "failed to write ledger temp file")
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "failed to sync ledger temp file")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "failed to close ledger temp file")
	}
	return nil
}
