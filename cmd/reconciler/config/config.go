// Package config assembles component configurations from CLI flags and
// viper settings.
package config

import (
	"time"

	"banktransfer-reconciliation-service/internal/importer"
	"banktransfer-reconciliation-service/pkg/logger"

	"github.com/spf13/viper"
)

// CreateLoggerConfig creates the logger configuration for CLI runs
func CreateLoggerConfig(verbose bool) *logger.Config {
	config := logger.DefaultConfig()

	if verbose {
		config.Level = logger.DebugLevel
	}
	if format := viper.GetString("log-format"); format != "" {
		config.Format = logger.Format(format)
	}

	return config
}

// CreateImporterConfig creates an importer configuration with CLI
// overrides applied on top of the defaults
func CreateImporterConfig(region string) *importer.Config {
	config := importer.DefaultConfig()

	if v := viper.GetInt("max-retries"); viper.IsSet("max-retries") && v >= 0 {
		config.MaxRetries = v
	}
	if v := viper.GetDuration("retry-delay"); v > 0 {
		config.RetryDelay = v
	}
	if v := viper.GetDuration("lock-timeout"); v > 0 {
		config.LockTimeout = v
	}
	if v := viper.GetInt("order-code-entropy"); v > 0 {
		config.OrderCodeEntropy = v
	}
	config.Region = region

	return config
}

// ImportTimeout bounds one whole CLI import run
func ImportTimeout() time.Duration {
	if v := viper.GetDuration("import-timeout"); v > 0 {
		return v
	}
	return 10 * time.Minute
}
