package pipeline

import (
	"archive/zip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/opraflow/opraflow/archive"
	"github.com/opraflow/opraflow/config"
	"github.com/opraflow/opraflow/errors"
	"github.com/opraflow/opraflow/internal/storetest"
	"github.com/opraflow/opraflow/ledger"
	"github.com/opraflow/opraflow/transfer"
)

// fakeConverter writes a minimal Parquet-framed file.
type fakeConverter struct {
	unavailable error
	convertErr  error
}

func (c *fakeConverter) Available() error {
	return c.unavailable
}

func (c *fakeConverter) Convert(_ context.Context, _, parquetPath string) error {
	if c.convertErr != nil {
		return c.convertErr
	}
	return os.WriteFile(parquetPath, []byte("PAR1converted-columns-PAR1"), 0o644)
}

// fakeUploader satisfies UploadExecutor with per-key forced failures.
type fakeUploader struct {
	failKeys map[string]bool
	uploaded []string
}

func (u *fakeUploader) Upload(_ context.Context, localPath, key string) (*transfer.Result, error) {
	if u.failKeys[key] {
		return nil, errors.Wrapf(errors.ErrTransfer, "forced failure for %s", key)
	}
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, err
	}
	u.uploaded = append(u.uploaded, key)
	return &transfer.Result{ETag: `"t"`, SizeBytes: info.Size(), SHA256: "cafe"}, nil
}

// cancelAfter reports a shutdown request once n checks have passed.
type cancelAfter struct {
	n     int
	calls int
}

func (c *cancelAfter) Requested() bool {
	c.calls++
	return c.calls > c.n
}

// testEnv builds a three-item archive with a manifest and a matching
// config pointing at a fresh ledger path.
func testEnv(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	zipPath := filepath.Join(dir, "OPRA-20250801.zip")

	members := map[string][]byte{
		"opra-pillar-20250807.cbbo-1m.dbn.zst": []byte("raw-0807"),
		"opra-pillar-20250808.cbbo-1m.dbn.zst": []byte("raw-0808"),
		"opra-pillar-20250811.cbbo-1m.dbn.zst": []byte("raw-0811"),
	}
	writeZip(t, zipPath, members, nil)

	return &config.Config{
		Source: config.SourceConfig{ZipPath: zipPath},
		S3: config.S3Config{
			Bucket: "test-bucket",
			Prefix: "options/cbbo-1m",
			Region: "us-east-1",
		},
		Pipeline: config.PipelineConfig{
			Underlying:         "SPY",
			LedgerPath:         filepath.Join(t.TempDir(), "ledger.json"),
			ConverterBin:       "unused-by-fake",
			CleanupAfterUpload: true,
		},
	}
}

// writeZip builds the archive; digestOverride substitutes manifest digests
// for specific members (to force mismatches).
func writeZip(t *testing.T, path string, members map[string][]byte, digestOverride map[string]string) {
	t.Helper()

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	type fileEntry struct {
		Filename string `json:"filename"`
		Hash     string `json:"hash"`
	}
	var entries []fileEntry
	for name, data := range members {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)

		digest := digestOverride[name]
		if digest == "" {
			sum := sha256.Sum256(data)
			digest = hex.EncodeToString(sum[:])
		}
		entries = append(entries, fileEntry{Filename: name, Hash: "sha256:" + digest})
	}
	w, err := zw.Create("manifest.json")
	require.NoError(t, err)
	require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"files": entries}))
	require.NoError(t, zw.Close())
}

func newDriver(cfg *config.Config, up UploadExecutor) *Driver {
	return New(
		cfg,
		archive.NewZipSource(cfg.Source.ZipPath),
		&fakeConverter{},
		up,
		storetest.New(),
		nil,
		zap.NewNop().Sugar(),
	)
}

func TestDryRunCompletesAllItemsWithoutNetwork(t *testing.T) {
	cfg := testEnv(t)
	// A nil uploader would panic on any network attempt; the dry run
	// must never reach it.
	driver := New(cfg, archive.NewZipSource(cfg.Source.ZipPath),
		&fakeConverter{}, nil, nil, nil, zap.NewNop().Sugar())

	stats, err := driver.Run(context.Background(), Options{DryRun: true, Resume: true})
	require.NoError(t, err)

	assert.Equal(t, 3, stats.TotalItems)
	assert.Equal(t, 3, stats.ProcessedThisRun)
	assert.Equal(t, ledger.Summary{Completed: 3}, stats.Ledger)
}

func TestSecondRunProcessesNothing(t *testing.T) {
	cfg := testEnv(t)
	opts := Options{DryRun: true, Resume: true}

	_, err := newDriver(cfg, nil).Run(context.Background(), opts)
	require.NoError(t, err)

	stats, err := newDriver(cfg, nil).Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, 0, stats.PendingAtStart)
	assert.Equal(t, 0, stats.ProcessedThisRun)
	assert.Equal(t, ledger.Summary{Completed: 3}, stats.Ledger)
}

func TestFailedItemIsRetriedOnResume(t *testing.T) {
	cfg := testEnv(t)
	failingKey := transfer.BuildKey(cfg.S3.Prefix, "SPY", mustDate(t, "2025-08-08"))

	up := &fakeUploader{failKeys: map[string]bool{failingKey: true}}
	stats, err := newDriver(cfg, up).Run(context.Background(), Options{Resume: true})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ProcessedThisRun)
	assert.Equal(t, 1, stats.FailedThisRun)
	assert.Equal(t, ledger.Summary{Completed: 2, Failed: 1}, stats.Ledger)

	// The failure is cleared; the resumed run touches exactly the one
	// failed item.
	up2 := &fakeUploader{}
	stats2, err := newDriver(cfg, up2).Run(context.Background(), Options{Resume: true})
	require.NoError(t, err)
	assert.Equal(t, 1, stats2.PendingAtStart)
	assert.Equal(t, 1, stats2.ProcessedThisRun)
	assert.Equal(t, []string{failingKey}, up2.uploaded)
	assert.Equal(t, ledger.Summary{Completed: 3}, stats2.Ledger)
}

func TestCancellationStopsBeforeNextItem(t *testing.T) {
	cfg := testEnv(t)

	stats, err := New(cfg, archive.NewZipSource(cfg.Source.ZipPath),
		&fakeConverter{}, nil, nil, &cancelAfter{n: 1}, zap.NewNop().Sugar()).
		Run(context.Background(), Options{DryRun: true, Resume: true})
	require.NoError(t, err)

	assert.True(t, stats.Stopped)
	assert.Equal(t, 1, stats.ProcessedThisRun)
	assert.Equal(t, 2, stats.RemainingOnStop)
	assert.Equal(t, ledger.Summary{Completed: 1}, stats.Ledger)
}

func TestManifestDigestMismatchFailsItem(t *testing.T) {
	cfg := testEnv(t)
	members := map[string][]byte{
		"opra-pillar-20250807.cbbo-1m.dbn.zst": []byte("raw-0807"),
	}
	writeZip(t, cfg.Source.ZipPath, members, map[string]string{
		"opra-pillar-20250807.cbbo-1m.dbn.zst": strings.Repeat("0", 64),
	})

	stats, err := newDriver(cfg, nil).Run(context.Background(), Options{DryRun: true, Resume: true})
	require.NoError(t, err)

	assert.Equal(t, ledger.Summary{Failed: 1}, stats.Ledger)

	led, err := ledger.Open(cfg.Pipeline.LedgerPath)
	require.NoError(t, err)
	rec, ok := led.Record("opra-pillar-20250807.cbbo-1m.dbn.zst")
	require.True(t, ok)
	assert.Contains(t, rec.Error, "digest mismatch")
}

func TestDateFilterNarrowsProcessing(t *testing.T) {
	cfg := testEnv(t)

	stats, err := newDriver(cfg, nil).Run(context.Background(), Options{
		DryRun:     true,
		Resume:     true,
		DateFilter: map[string]bool{"2025-08-08": true},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, stats.PendingAtStart)
	assert.Equal(t, ledger.Summary{Completed: 1}, stats.Ledger)
}

func TestWorkingDirectoriesAreDestroyed(t *testing.T) {
	cfg := testEnv(t)

	_, err := newDriver(cfg, nil).Run(context.Background(), Options{DryRun: true, Resume: true})
	require.NoError(t, err)

	entries, err := os.ReadDir(filepath.Dir(cfg.Source.ZipPath))
	require.NoError(t, err)
	for _, entry := range entries {
		assert.False(t, strings.HasPrefix(entry.Name(), ".opraflow_"),
			"working directory residue: %s", entry.Name())
	}
}

func TestNoResumeReprocessesCompletedItems(t *testing.T) {
	cfg := testEnv(t)
	opts := Options{DryRun: true, Resume: true}

	_, err := newDriver(cfg, nil).Run(context.Background(), opts)
	require.NoError(t, err)

	stats, err := newDriver(cfg, nil).Run(context.Background(),
		Options{DryRun: true, Resume: false})
	require.NoError(t, err)

	assert.Equal(t, 3, stats.PendingAtStart)
	assert.Equal(t, 3, stats.ProcessedThisRun)
}

func mustDate(t *testing.T, s string) (d time.Time) {
	t.Helper()
	d, err := time.Parse("2006-01-02", s)
	require.NoError(t, err)
	return d
}
