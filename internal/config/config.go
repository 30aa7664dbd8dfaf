// Package config loads toposcope configuration through Viper and builds the
// process logger from it.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Load reads configuration from the given file path, or searches the default
// locations when path is empty. A missing config file is not an error; all
// settings have defaults and can be supplied through TOPOSCOPE_* environment
// variables.
func Load(path string) (*viper.Viper, error) {
	v := viper.New()

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("database.path", "toposcope.db")
	v.SetDefault("database.snapshot_retention", "168h")

	v.SetDefault("discovery.protocols", []string{"lldp", "cdp"})
	v.SetDefault("discovery.scan_interval", "0s")
	v.SetDefault("discovery.probe_timeout", "5s")
	v.SetDefault("discovery.max_hops", 3)
	v.SetDefault("discovery.include_end_hosts", false)
	v.SetDefault("discovery.auto_layout", true)
	v.SetDefault("discovery.persist_results", false)
	v.SetDefault("discovery.stale_after", "24h")
	v.SetDefault("discovery.concurrency", 10)

	v.SetDefault("snmp.community", "public")
	v.SetDefault("snmp.port", 161)
	v.SetDefault("snmp.version", "2c")

	v.SetEnvPrefix("TOPOSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("toposcope")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/toposcope")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path == "" && errors.As(err, &notFound) {
			return v, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	return v, nil
}

// NewLogger creates a configured Zap logger from Viper settings. Reads
// "logging.level" (debug, info, warn, error) and "logging.format"
// (json, console).
func NewLogger(v *viper.Viper) (*zap.Logger, error) {
	level := v.GetString("logging.level")
	format := v.GetString("logging.format")

	var zapLevel zapcore.Level
	if err := zapLevel.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	var cfg zap.Config
	switch format {
	case "console":
		cfg = zap.NewDevelopmentConfig()
	case "json", "":
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q: must be \"json\" or \"console\"", format)
	}

	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}
