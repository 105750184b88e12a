package roam

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the radio-wide roam offload settings. The zero value
// disallows roam offload; use DefaultConfig or ParseEnv.
type Config struct {
	// RSOAllowed is the administrative switch for roam offload.
	RSOAllowed bool `env:"ROAM_OFFLOAD_ENABLED" envDefault:"true"`
	// DefaultTriggers are used for connections provisioned implicitly.
	DefaultTriggers Triggers      `env:"ROAM_DEFAULT_TRIGGERS" envDefault:"per|bmiss|low-rssi|periodic|btm|deauth"`
	ScanPeriod      time.Duration `env:"ROAM_SCAN_PERIOD" envDefault:"10s"`
	RSSIThreshold   int8          `env:"ROAM_RSSI_THRESHOLD" envDefault:"-75"`
	RSSIDiff        uint8         `env:"ROAM_RSSI_DIFF" envDefault:"5"`
	MaxChannels     uint8         `env:"ROAM_MAX_CHANNELS" envDefault:"0"`
	DualSTARoam     bool          `env:"ROAM_DUAL_STA" envDefault:"false"`
	// PrimaryVdev is the connection preferred for roaming when only one may
	// roam; negative means none.
	PrimaryVdev int64 `env:"ROAM_PRIMARY_VDEV" envDefault:"-1"`
	// CommandTimeout bounds each firmware command round-trip; zero means
	// no bound beyond the caller's context.
	CommandTimeout time.Duration `env:"ROAM_COMMAND_TIMEOUT" envDefault:"2s"`
}

// DefaultConfig returns the configuration ParseEnv yields with an empty
// environment.
func DefaultConfig() Config {
	scan := DefaultScanParams()
	return Config{
		RSOAllowed:      true,
		DefaultTriggers: TriggersDefault,
		ScanPeriod:      scan.Period,
		RSSIThreshold:   scan.RSSIThreshold,
		RSSIDiff:        scan.RSSIDiff,
		PrimaryVdev:     -1,
		CommandTimeout:  2 * time.Second,
	}
}

// ParseEnv loads a Config from environment variables.
func ParseEnv() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

// ScanParams returns the scan parameters new connections start with.
func (c Config) ScanParams() ScanParams {
	return ScanParams{
		Period:        c.ScanPeriod,
		RSSIThreshold: c.RSSIThreshold,
		RSSIDiff:      c.RSSIDiff,
		MaxChannels:   c.MaxChannels,
	}
}

// Capabilities returns the concurrency capability snapshot described by c.
func (c Config) Capabilities() Capabilities {
	return Capabilities{
		DualSTARoam: c.DualSTARoam,
		Primary:     VdevID(c.PrimaryVdev),
		HasPrimary:  c.PrimaryVdev >= 0,
	}
}
