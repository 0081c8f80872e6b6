// Package validate is the post-run reconciliation auditor. It
// cross-references three independent sources of truth (the remote
// listing, the ledger's completed records, and the archive's manifest)
// and reports five named checks.
package validate

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"regexp"
	"sort"
	"strings"

	"github.com/opraflow/opraflow/archive"
	"github.com/opraflow/opraflow/errors"
	"github.com/opraflow/opraflow/ledger"
	"github.com/opraflow/opraflow/store"
)

// spotCheckSamples bounds how many remote objects the structural
// spot-check fetches. Cheap sanity, not exhaustive validation.
const spotCheckSamples = 3

// parquetMagic frames every well-formed Parquet file.
var parquetMagic = []byte("PAR1")

var keyDatePattern = regexp.MustCompile(`date=(\d{4}-\d{2}-\d{2})`)

// Check is one named verdict in the report.
type Check struct {
	Name   string
	Passed bool
	Detail string
}

// Report is the auditor's output: ordered checks plus an aggregate verdict.
type Report struct {
	Checks []Check
}

// Passed reports the aggregate verdict.
func (r *Report) Passed() bool {
	for _, c := range r.Checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

func (r *Report) add(name string, passed bool, detail string) {
	r.Checks = append(r.Checks, Check{Name: name, Passed: passed, Detail: detail})
}

// Params identifies the three sources of truth to reconcile.
type Params struct {
	Store      store.ObjectStore
	LedgerPath string
	ZipPath    string
	Prefix     string

	// ExpectedCount, when > 0, pins the exact remote object count;
	// otherwise the count check requires at least one object.
	ExpectedCount int
}

// Audit runs all five checks. Each contributes one entry regardless of the
// others' outcomes; only an unreadable ledger or an unreachable store
// aborts the audit itself.
func Audit(ctx context.Context, p Params) (*Report, error) {
	led, err := ledger.Open(p.LedgerPath)
	if err != nil {
		return nil, err
	}

	remote, err := p.Store.List(ctx, p.Prefix)
	if err != nil {
		return nil, err
	}

	// Only the dataset's own objects count; probe keys and other residue
	// under the prefix are ignored.
	parquet := make(map[string]store.ObjectInfo)
	for key, info := range remote {
		if strings.HasSuffix(key, ".parquet") {
			parquet[key] = info
		}
	}

	report := &Report{}
	checkObjectCount(report, parquet, p.ExpectedCount)
	checkLedgerConsistency(report, led, remote)
	checkDateCompleteness(report, parquet, archive.ManifestDates(p.ZipPath))
	checkZeroByte(report, parquet)
	checkParquetSpot(ctx, report, p.Store, parquet)
	return report, nil
}

// checkObjectCount: remote object count matches the expectation, or at
// least one when no expectation is given.
func checkObjectCount(r *Report, parquet map[string]store.ObjectInfo, expected int) {
	if expected > 0 {
		r.add("s3_object_count", len(parquet) == expected,
			fmt.Sprintf("expected %d, found %d", expected, len(parquet)))
		return
	}
	r.add("s3_object_count", len(parquet) > 0,
		fmt.Sprintf("expected at least 1, found %d", len(parquet)))
}

// checkLedgerConsistency: every completed record's key exists remotely
// with the exact recorded size.
func checkLedgerConsistency(r *Report, led *ledger.Ledger, remote map[string]store.ObjectInfo) {
	completed := led.CompletedRecords()

	var missing []string
	var mismatched []string
	for _, rec := range completed {
		info, ok := remote[rec.RemoteKey]
		switch {
		case !ok:
			missing = append(missing, rec.RemoteKey)
		case info.Size != rec.SizeBytes:
			mismatched = append(mismatched, fmt.Sprintf(
				"%s: ledger %d, store %d", rec.RemoteKey, rec.SizeBytes, info.Size))
		}
	}
	sort.Strings(missing)
	sort.Strings(mismatched)

	passed := len(missing) == 0 && len(mismatched) == 0
	detail := fmt.Sprintf("%d completed in ledger", len(completed))
	if len(missing) > 0 {
		detail += fmt.Sprintf("; missing remotely: %s", strings.Join(missing, ", "))
	}
	if len(mismatched) > 0 {
		detail += fmt.Sprintf("; size mismatches: %s", strings.Join(mismatched, ", "))
	}
	r.add("ledger_s3_consistency", passed, detail)
}

// checkDateCompleteness: partition dates present remotely must cover every
// date derivable from the archive manifest.
func checkDateCompleteness(r *Report, parquet map[string]store.ObjectInfo, expected map[string]bool) {
	actual := make(map[string]bool)
	for key := range parquet {
		if m := keyDatePattern.FindStringSubmatch(key); m != nil {
			actual[m[1]] = true
		}
	}

	var missing []string
	for date := range expected {
		if !actual[date] {
			missing = append(missing, date)
		}
	}
	sort.Strings(missing)

	detail := fmt.Sprintf("expected %d dates, found %d", len(expected), len(actual))
	if len(missing) > 0 {
		detail += fmt.Sprintf("; missing: %s", strings.Join(missing, ", "))
	}
	r.add("date_completeness", len(missing) == 0, detail)
}

// checkZeroByte: no remote object may be empty.
func checkZeroByte(r *Report, parquet map[string]store.ObjectInfo) {
	var zero []string
	for key, info := range parquet {
		if info.Size == 0 {
			zero = append(zero, key)
		}
	}
	sort.Strings(zero)

	if len(zero) > 0 {
		r.add("no_zero_byte_objects", false,
			fmt.Sprintf("zero-byte objects: %s", strings.Join(zero, ", ")))
		return
	}
	r.add("no_zero_byte_objects", true, "none found")
}

// checkParquetSpot fetches a random sample and verifies the content begins
// and ends with the Parquet magic marker.
func checkParquetSpot(ctx context.Context, r *Report, objStore store.ObjectStore, parquet map[string]store.ObjectInfo) {
	keys := make([]string, 0, len(parquet))
	for key := range parquet {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	rand.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
	if len(keys) > spotCheckSamples {
		keys = keys[:spotCheckSamples]
	}

	var bad []string
	for _, key := range keys {
		data, err := objStore.Get(ctx, key)
		if err != nil {
			bad = append(bad, fmt.Sprintf("%s: %v", key, err))
			continue
		}
		if !isParquetFramed(data) {
			bad = append(bad, fmt.Sprintf("%s: missing PAR1 framing", key))
		}
	}
	sort.Strings(bad)

	detail := fmt.Sprintf("sampled %d object(s)", len(keys))
	if len(bad) > 0 {
		detail += fmt.Sprintf("; failures: %s", strings.Join(bad, ", "))
	}
	r.add("parquet_spot_check", len(bad) == 0, detail)
}

// isParquetFramed checks the PAR1 magic at both ends of the content.
func isParquetFramed(data []byte) bool {
	return len(data) >= 8 &&
		bytes.HasPrefix(data, parquetMagic) &&
		bytes.HasSuffix(data, parquetMagic)
}

// ErrReportFailed is returned by Require when the aggregate verdict fails.
var ErrReportFailed = errors.New("validation failed")

// Require converts a failing report into an error for exit-code plumbing.
func (r *Report) Require() error {
	if r.Passed() {
		return nil
	}
	var failed []string
	for _, c := range r.Checks {
		if !c.Passed {
			failed = append(failed, c.Name)
		}
	}
	return errors.Wrapf(ErrReportFailed, "checks failed: %s", strings.Join(failed, ", "))
}
