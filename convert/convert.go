// Package convert turns raw .dbn.zst files into Parquet.
//
// The byte-format conversion itself is an external collaborator: raw bytes
// in, columnar bytes out. The pipeline only depends on the Converter
// contract, so tests can substitute a fake and the real tool can change
// without touching the driver.
package convert

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/opraflow/opraflow/errors"
)

// Converter converts a raw data file into the target columnar format.
type Converter interface {
	// Convert writes the Parquet rendition of dbnPath to parquetPath.
	// A failure is fatal for that item only.
	Convert(ctx context.Context, dbnPath, parquetPath string) error

	// Available reports whether the converter's runtime dependency is
	// present. Used by the readiness gate so a missing tool fails fast
	// instead of failing on the first item.
	Available() error
}

// ExecConverter shells out to an external dbn-to-parquet binary:
//
//	<bin> <input.dbn.zst> <output.parquet>
//
// The tool streams its conversion, so each multi-hundred-megabyte daily
// file never materializes in this process.
type ExecConverter struct {
	// Bin is the converter binary name or path.
	Bin string
}

// NewExecConverter returns a converter backed by the named binary.
func NewExecConverter(bin string) *ExecConverter {
	return &ExecConverter{Bin: bin}
}

// Available checks the binary resolves on PATH (or exists at an explicit
// path).
func (c *ExecConverter) Available() error {
	if filepath.IsAbs(c.Bin) || len(filepath.Dir(c.Bin)) > 1 {
		if _, err := os.Stat(c.Bin); err != nil {
			return errors.Wrapf(err, "converter binary not found at %s", c.Bin)
		}
		return nil
	}
	if _, err := exec.LookPath(c.Bin); err != nil {
		return errors.Wrapf(err, "converter binary %q not found on PATH", c.Bin)
	}
	return nil
}

// Convert runs the external tool and surfaces its stderr on failure.
func (c *ExecConverter) Convert(ctx context.Context, dbnPath, parquetPath string) error {
	if err := os.MkdirAll(filepath.Dir(parquetPath), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory for %s", parquetPath)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Bin, dbnPath, parquetPath)
	cmd.Env = os.Environ()
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "converter failed for %s: %s",
			filepath.Base(dbnPath), stderr.String())
	}
	return nil
}
