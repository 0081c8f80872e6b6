package config

import "github.com/opraflow/opraflow/errors"

// Validate checks that the configuration is internally consistent.
// Existence of the archive and reachability of the bucket are runtime
// concerns checked by the readiness gate, not here.
func (c *Config) Validate() error {
	if c.Source.ZipPath == "" {
		return errors.New("source.zip_path cannot be empty")
	}

	if c.S3.Prefix == "" {
		return errors.New("s3.prefix cannot be empty")
	}
	if c.S3.Region == "" {
		return errors.New("s3.region cannot be empty")
	}

	if c.Pipeline.Underlying == "" {
		return errors.New("pipeline.underlying cannot be empty")
	}
	if c.Pipeline.LedgerPath == "" {
		return errors.New("pipeline.ledger_path cannot be empty")
	}
	if c.Pipeline.ConverterBin == "" {
		return errors.New("pipeline.converter_bin cannot be empty")
	}

	return nil
}
