package config

import "github.com/spf13/viper"

// Default values for configuration not supplied by file or environment.
const (
	DefaultPrefix       = "options/cbbo-1m"
	DefaultRegion       = "us-east-1"
	DefaultUnderlying   = "SPY"
	DefaultLedgerPath   = "data/staging/.opraflow_ledger.json"
	DefaultConverterBin = "dbn-parquet"
)

// SetDefaults registers default values on the given Viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("source.zip_path", "")

	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.prefix", DefaultPrefix)
	v.SetDefault("s3.region", DefaultRegion)

	v.SetDefault("pipeline.underlying", DefaultUnderlying)
	v.SetDefault("pipeline.ledger_path", DefaultLedgerPath)
	v.SetDefault("pipeline.converter_bin", DefaultConverterBin)
	v.SetDefault("pipeline.cleanup_after_upload", true)
}
