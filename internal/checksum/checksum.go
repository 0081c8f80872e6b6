// Package checksum computes content digests for upload verification.
//
// Two digests serve two layers of defense: the MD5 (base64) rides the
// transfer as an inline transport check the remote store enforces, and
// the SHA-256 (hex) is recorded in the ledger for long-term audit.
package checksum

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"os"

	"github.com/opraflow/opraflow/errors"
)

// chunkSize bounds memory while streaming large artifacts.
const chunkSize = 8 * 1024 * 1024

// Pair holds the two digests computed in a single streaming pass.
type Pair struct {
	// SHA256 is the hex-encoded cryptographic digest for audit.
	SHA256 string
	// MD5Base64 is the base64-encoded transport digest (Content-MD5).
	MD5Base64 string
}

// Compute streams r once and returns both digests.
func Compute(r io.Reader) (Pair, error) {
	sha := sha256.New()
	md := md5.New()

	buf := make([]byte, chunkSize)
	if _, err := io.CopyBuffer(io.MultiWriter(sha, md), r, buf); err != nil {
		return Pair{}, errors.Wrap(err, "failed to stream content for digests")
	}

	return Pair{
		SHA256:    hex.EncodeToString(sha.Sum(nil)),
		MD5Base64: base64.StdEncoding.EncodeToString(md.Sum(nil)),
	}, nil
}

// ComputeFile opens path and computes both digests in one pass.
func ComputeFile(path string) (Pair, error) {
	f, err := os.Open(path)
	if err != nil {
		return Pair{}, errors.Wrapf(err, "failed to open %s for digests", path)
	}
	defer f.Close()

	return Compute(f)
}

// SHA256File returns the hex SHA-256 of the file at path.
func SHA256File(path string) (string, error) {
	pair, err := ComputeFile(path)
	if err != nil {
		return "", err
	}
	return pair.SHA256, nil
}
