package archive

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opraflow/opraflow/errors"
)

// writeTestZip builds a ZIP with the given members and an optional
// manifest mapping data members to their real digests.
func writeTestZip(t *testing.T, members map[string][]byte, withManifest bool) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "archive.zip")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, data := range members {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}

	if withManifest {
		type fileEntry struct {
			Filename string `json:"filename"`
			Hash     string `json:"hash"`
		}
		var entries []fileEntry
		for name, data := range members {
			sum := sha256.Sum256(data)
			entries = append(entries, fileEntry{
				Filename: name,
				Hash:     "sha256:" + hex.EncodeToString(sum[:]),
			})
		}
		w, err := zw.Create("manifest.json")
		require.NoError(t, err)
		require.NoError(t, json.NewEncoder(w).Encode(map[string]any{"files": entries}))
	}

	require.NoError(t, zw.Close())
	return path
}

func TestListDataFilesSortedAndFiltered(t *testing.T) {
	path := writeTestZip(t, map[string][]byte{
		"opra-pillar-20250808.cbbo-1m.dbn.zst": []byte("b"),
		"opra-pillar-20250807.cbbo-1m.dbn.zst": []byte("a"),
		"readme.txt":                           []byte("ignored"),
	}, false)

	names, err := ListDataFiles(path)
	require.NoError(t, err)
	assert.Equal(t, []string{
		"opra-pillar-20250807.cbbo-1m.dbn.zst",
		"opra-pillar-20250808.cbbo-1m.dbn.zst",
	}, names)
}

func TestListDataFilesBadArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-zip.zip")
	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o644))

	_, err := ListDataFiles(path)
	require.Error(t, err)
}

func TestDateFromName(t *testing.T) {
	d, err := DateFromName("opra-pillar-20250807.cbbo-1m.dbn.zst")
	require.NoError(t, err)
	assert.Equal(t, "2025-08-07", d.Format("2006-01-02"))

	_, err = DateFromName("no-date-here.dbn.zst")
	require.Error(t, err)
}

func TestExtractMember(t *testing.T) {
	content := []byte("raw market data bytes")
	path := writeTestZip(t, map[string][]byte{
		"opra-pillar-20250807.cbbo-1m.dbn.zst": content,
	}, false)

	dest := filepath.Join(t.TempDir(), "work", "extracted.dbn.zst")
	require.NoError(t, ExtractMember(path, "opra-pillar-20250807.cbbo-1m.dbn.zst", dest))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestExtractMissingMember(t *testing.T) {
	path := writeTestZip(t, map[string][]byte{
		"opra-pillar-20250807.cbbo-1m.dbn.zst": []byte("x"),
	}, false)

	err := ExtractMember(path, "absent.dbn.zst", filepath.Join(t.TempDir(), "out"))
	require.Error(t, err)
}

func TestManifestDigests(t *testing.T) {
	content := []byte("data to digest")
	path := writeTestZip(t, map[string][]byte{
		"opra-pillar-20250807.cbbo-1m.dbn.zst": content,
	}, true)

	digests := ManifestDigests(path)
	sum := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(sum[:]),
		digests["opra-pillar-20250807.cbbo-1m.dbn.zst"])
}

func TestManifestDigestsAbsent(t *testing.T) {
	path := writeTestZip(t, map[string][]byte{
		"opra-pillar-20250807.cbbo-1m.dbn.zst": []byte("x"),
	}, false)

	assert.Empty(t, ManifestDigests(path))
}

func TestManifestDates(t *testing.T) {
	path := writeTestZip(t, map[string][]byte{
		"opra-pillar-20250807.cbbo-1m.dbn.zst": []byte("a"),
		"opra-pillar-20250808.cbbo-1m.dbn.zst": []byte("b"),
	}, true)

	dates := ManifestDates(path)
	assert.True(t, dates["2025-08-07"])
	assert.True(t, dates["2025-08-08"])
	assert.Len(t, dates, 2)
}

func TestVerifyFileDigest(t *testing.T) {
	content := []byte("verify me")
	path := filepath.Join(t.TempDir(), "f.dbn.zst")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	sum := sha256.Sum256(content)
	require.NoError(t, VerifyFileDigest(path, hex.EncodeToString(sum[:])))

	err := VerifyFileDigest(path, fmt.Sprintf("%064d", 0))
	require.Error(t, err)
	assert.True(t, errors.IsIntegrity(err))
}

func TestZipSourceAdapter(t *testing.T) {
	content := []byte("adapted")
	path := writeTestZip(t, map[string][]byte{
		"opra-pillar-20250807.cbbo-1m.dbn.zst": content,
	}, true)

	src := NewZipSource(path)

	names, err := src.ListDataFiles()
	require.NoError(t, err)
	require.Len(t, names, 1)

	dest := filepath.Join(t.TempDir(), "out.dbn.zst")
	require.NoError(t, src.Extract(names[0], dest))

	assert.Len(t, src.ManifestDigests(), 1)
}
