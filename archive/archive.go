// Package archive reads the source container: a ZIP of daily market-data
// files named like opra-pillar-YYYYMMDD.cbbo-1m.dbn.zst, optionally carrying
// a manifest.json that maps each member to its expected SHA-256.
package archive

import (
	"archive/zip"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/opraflow/opraflow/errors"
	"github.com/opraflow/opraflow/internal/checksum"
)

// DataSuffix identifies the daily data members inside the archive.
const DataSuffix = ".dbn.zst"

// manifestName is the optional digest manifest member.
const manifestName = "manifest.json"

// copyChunk bounds memory while extracting large members.
const copyChunk = 8 * 1024 * 1024

var datePattern = regexp.MustCompile(`(\d{8})`)

// ListDataFiles returns all data member names in the ZIP, sorted so the
// pipeline processes trading dates in order.
func ListDataFiles(zipPath string) ([]string, error) {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open archive %s", zipPath)
	}
	defer zr.Close()

	var names []string
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, DataSuffix) {
			names = append(names, f.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// DateFromName extracts the trading date embedded in a member name.
func DateFromName(name string) (time.Time, error) {
	match := datePattern.FindString(name)
	if match == "" {
		return time.Time{}, errors.Newf("no date found in filename: %s", name)
	}
	d, err := time.Parse("20060102", match)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "invalid date in filename: %s", name)
	}
	return d, nil
}

// ExtractMember streams one named member out of the ZIP to dest.
func ExtractMember(zipPath, member, dest string) error {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return errors.Wrapf(err, "failed to open archive %s", zipPath)
	}
	defer zr.Close()

	src, err := zr.Open(member)
	if err != nil {
		return errors.Wrapf(err, "failed to open archive member %s", member)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", dest)
	}

	out, err := os.Create(dest)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", dest)
	}

	buf := make([]byte, copyChunk)
	if _, err := io.CopyBuffer(out, src, buf); err != nil {
		_ = out.Close()
		_ = os.Remove(dest)
		return errors.Wrapf(err, "failed to extract %s", member)
	}
	if err := out.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %s", dest)
	}
	return nil
}

// manifest is the optional manifest.json shape inside the archive.
type manifest struct {
	Files []struct {
		Filename string `json:"filename"`
		Hash     string `json:"hash"`
	} `json:"files"`
}

// ManifestDigests loads the expected SHA-256 per member from the embedded
// manifest. A missing or unreadable manifest yields an empty map: digest
// verification is opportunistic, not required.
func ManifestDigests(zipPath string) map[string]string {
	digests := make(map[string]string)

	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return digests
	}
	defer zr.Close()

	f, err := zr.Open(manifestName)
	if err != nil {
		return digests
	}
	defer f.Close()

	var m manifest
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return digests
	}

	for _, entry := range m.Files {
		if hash, ok := strings.CutPrefix(entry.Hash, "sha256:"); ok {
			digests[entry.Filename] = hash
		}
	}
	return digests
}

// ManifestDates returns the set of trading dates (YYYY-MM-DD) derivable
// from the embedded manifest's data members. Used by the auditor as an
// independent source of truth for partition completeness.
func ManifestDates(zipPath string) map[string]bool {
	dates := make(map[string]bool)

	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return dates
	}
	defer zr.Close()

	f, err := zr.Open(manifestName)
	if err != nil {
		return dates
	}
	defer f.Close()

	var m manifest
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return dates
	}

	for _, entry := range m.Files {
		if !strings.HasSuffix(entry.Filename, DataSuffix) {
			continue
		}
		if d, err := DateFromName(entry.Filename); err == nil {
			dates[d.Format("2006-01-02")] = true
		}
	}
	return dates
}

// VerifyFileDigest checks the file at path against the expected SHA-256.
// A mismatch is an integrity failure, never silently ignored.
func VerifyFileDigest(path, wantSHA256 string) error {
	got, err := checksum.SHA256File(path)
	if err != nil {
		return err
	}
	if got != wantSHA256 {
		return errors.Wrapf(errors.ErrIntegrity,
			"digest mismatch for %s: expected %.16s..., got %.16s...",
			filepath.Base(path), wantSHA256, got)
	}
	return nil
}
