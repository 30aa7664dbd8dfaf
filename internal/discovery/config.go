package discovery

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Hop count bounds for a discovery crawl. A hop budget outside this range is
// a configuration error, not a clamp.
const (
	MinHops = 1
	MaxHops = 20
)

// batchSize is the number of addresses popped from the work queue per
// scheduling round within a hop.
const batchSize = 10

// Config is the immutable discovery configuration, validated once at engine
// construction.
type Config struct {
	Protocols         []string      `mapstructure:"protocols"`
	ScanInterval      time.Duration `mapstructure:"scan_interval"`
	ProbeTimeout      time.Duration `mapstructure:"probe_timeout"`
	MaxHops           int           `mapstructure:"max_hops"`
	IncludeEndHosts   bool          `mapstructure:"include_end_hosts"`
	AutoLayout        bool          `mapstructure:"auto_layout"`
	PersistResults    bool          `mapstructure:"persist_results"`
	ExcludeInterfaces []string      `mapstructure:"exclude_interfaces"`
	Seeds             []string      `mapstructure:"seeds"`
	StaleAfter        time.Duration `mapstructure:"stale_after"`
	Concurrency       int           `mapstructure:"concurrency"`
	ProbesPerSecond   float64       `mapstructure:"probes_per_second"`
}

// DefaultConfig returns the default discovery configuration.
func DefaultConfig() Config {
	return Config{
		Protocols:       []string{ProtocolLLDP, ProtocolCDP},
		ScanInterval:    0,
		ProbeTimeout:    5 * time.Second,
		MaxHops:         3,
		IncludeEndHosts: false,
		AutoLayout:      true,
		PersistResults:  false,
		StaleAfter:      24 * time.Hour,
		Concurrency:     batchSize,
		ProbesPerSecond: 50,
	}
}

// FromViper loads discovery configuration from the "discovery" section,
// falling back to defaults for unset keys.
func FromViper(v *viper.Viper) (Config, error) {
	cfg := DefaultConfig()
	if v == nil {
		return cfg, nil
	}
	if sub := v.Sub("discovery"); sub != nil {
		if err := sub.Unmarshal(&cfg); err != nil {
			return cfg, fmt.Errorf("unmarshal discovery config: %w", err)
		}
	}
	return cfg, cfg.Validate()
}

// Validate rejects malformed configuration before any discovery starts.
// An empty protocol list is permitted and yields zero neighbor discovery.
func (c Config) Validate() error {
	if c.MaxHops < MinHops || c.MaxHops > MaxHops {
		return fmt.Errorf("max_hops %d out of range [%d,%d]", c.MaxHops, MinHops, MaxHops)
	}
	if c.ProbeTimeout <= 0 {
		return fmt.Errorf("probe_timeout must be positive, got %s", c.ProbeTimeout)
	}
	if c.ScanInterval < 0 {
		return fmt.Errorf("scan_interval must not be negative, got %s", c.ScanInterval)
	}
	if c.StaleAfter <= 0 {
		return fmt.Errorf("stale_after must be positive, got %s", c.StaleAfter)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	for _, p := range c.Protocols {
		if _, ok := decoderFor(p); !ok {
			return fmt.Errorf("%w: %q", ErrUnknownProtocol, p)
		}
	}
	return nil
}
