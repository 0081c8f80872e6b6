// Package commands holds the opraflow CLI subcommands.
package commands

import (
	"go.uber.org/zap"

	"github.com/opraflow/opraflow/logger"
)

// pipelineLogger returns the named logger subcommands hand to the driver.
func pipelineLogger() *zap.SugaredLogger {
	return logger.Logger.Named("pipeline")
}
