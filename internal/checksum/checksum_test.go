package checksum

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeIsDeterministic(t *testing.T) {
	data := []byte("the same bytes every time")

	first, err := Compute(bytes.NewReader(data))
	require.NoError(t, err)
	second, err := Compute(bytes.NewReader(data))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.NotEmpty(t, first.SHA256)
	assert.NotEmpty(t, first.MD5Base64)
}

func TestComputeDetectsSingleByteChange(t *testing.T) {
	data := []byte("sensitive to every byte")
	altered := append([]byte{}, data...)
	altered[0] ^= 0x01

	original, err := Compute(bytes.NewReader(data))
	require.NoError(t, err)
	perturbed, err := Compute(bytes.NewReader(altered))
	require.NoError(t, err)

	assert.NotEqual(t, original.SHA256, perturbed.SHA256)
	assert.NotEqual(t, original.MD5Base64, perturbed.MD5Base64)
}

func TestComputeKnownVectors(t *testing.T) {
	// Empty input digests are fixed by the algorithms themselves.
	pair, err := Compute(bytes.NewReader(nil))
	require.NoError(t, err)

	assert.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", pair.SHA256)
	assert.Equal(t, "1B2M2Y8AsgTpgAmY7PhCfg==", pair.MD5Base64)
}

func TestComputeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "artifact.bin")
	require.NoError(t, os.WriteFile(path, []byte("file content"), 0o644))

	fromFile, err := ComputeFile(path)
	require.NoError(t, err)
	fromReader, err := Compute(bytes.NewReader([]byte("file content")))
	require.NoError(t, err)

	assert.Equal(t, fromReader, fromFile)

	sha, err := SHA256File(path)
	require.NoError(t, err)
	assert.Equal(t, fromFile.SHA256, sha)
}

func TestComputeFileMissing(t *testing.T) {
	_, err := ComputeFile(filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
}
