// Package config loads and validates opraflow configuration.
//
// Configuration is merged from three sources in precedence order
// (lowest to highest): built-in defaults, an opraflow.toml file, and
// OPRAFLOW_* environment variables. AWS credentials themselves are never
// read here; they resolve through the standard SDK chain.
package config

// Config holds all configuration for an opraflow run.
type Config struct {
	// Source holds the archive the pipeline reads from.
	Source SourceConfig `mapstructure:"source"`

	// S3 holds the upload target.
	S3 S3Config `mapstructure:"s3"`

	// Pipeline holds processing behavior.
	Pipeline PipelineConfig `mapstructure:"pipeline"`
}

// SourceConfig identifies the input archive.
type SourceConfig struct {
	// ZipPath is the path to the archive of daily .dbn.zst files.
	ZipPath string `mapstructure:"zip_path"`
}

// S3Config identifies the upload destination.
type S3Config struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
	Region string `mapstructure:"region"`
}

// PipelineConfig holds processing behavior.
type PipelineConfig struct {
	// Underlying is the option underlying symbol used in the Hive
	// partition key (underlying=SPY).
	Underlying string `mapstructure:"underlying"`

	// LedgerPath is where the durable run ledger lives.
	LedgerPath string `mapstructure:"ledger_path"`

	// ConverterBin is the external dbn-to-parquet converter binary.
	ConverterBin string `mapstructure:"converter_bin"`

	// CleanupAfterUpload removes the raw intermediate as soon as
	// conversion finishes, bounding peak disk usage.
	CleanupAfterUpload bool `mapstructure:"cleanup_after_upload"`
}
