package convert

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeShim installs an executable script standing in for the real
// converter binary.
func writeShim(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell shim converter")
	}
	path := filepath.Join(t.TempDir(), "dbn-parquet-shim")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0o755))
	return path
}

func TestConvertInvokesBinaryWithBothPaths(t *testing.T) {
	bin := writeShim(t, `cp "$1" "$2"`)
	conv := NewExecConverter(bin)

	dir := t.TempDir()
	in := filepath.Join(dir, "day.dbn.zst")
	out := filepath.Join(dir, "data.parquet")
	require.NoError(t, os.WriteFile(in, []byte("raw-bytes"), 0o644))

	require.NoError(t, conv.Convert(context.Background(), in, out))

	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, []byte("raw-bytes"), got)
}

func TestConvertSurfacesStderr(t *testing.T) {
	bin := writeShim(t, `echo "bad zstd frame" >&2; exit 3`)
	conv := NewExecConverter(bin)

	dir := t.TempDir()
	err := conv.Convert(context.Background(),
		filepath.Join(dir, "day.dbn.zst"), filepath.Join(dir, "data.parquet"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad zstd frame")
	assert.Contains(t, err.Error(), "day.dbn.zst")
}

func TestConvertHonorsContextCancellation(t *testing.T) {
	bin := writeShim(t, `sleep 30`)
	conv := NewExecConverter(bin)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dir := t.TempDir()
	err := conv.Convert(ctx,
		filepath.Join(dir, "day.dbn.zst"), filepath.Join(dir, "data.parquet"))
	assert.Error(t, err)
}

func TestAvailableExplicitPath(t *testing.T) {
	bin := writeShim(t, `exit 0`)
	assert.NoError(t, NewExecConverter(bin).Available())

	missing := filepath.Join(t.TempDir(), "no-such-binary")
	assert.Error(t, NewExecConverter(missing).Available())
}

func TestAvailableSearchesPath(t *testing.T) {
	assert.Error(t, NewExecConverter("opraflow-nonexistent-converter").Available())
}
