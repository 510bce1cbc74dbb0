// Package config loads the MEMKIT_* environment settings shared by the
// allocators and the memctl tool.
package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Prefix is prepended to every variable name, so LogAlloc is read from
// MEMKIT_LOG_ALLOC.
const Prefix = "memkit"

// Config holds the environment-driven settings.
type Config struct {
	// LogAlloc enables debug records for pool/bind traffic.
	LogAlloc bool `envconfig:"LOG_ALLOC"`

	// LogLevel is the minimum level for the package logger: debug, info, warn, error.
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	// LogJSON switches the package logger to JSON records.
	LogJSON bool `envconfig:"LOG_JSON"`

	// Debug turns on debug-build behavior at runtime (zero-on-free for local storage).
	Debug bool `envconfig:"DEBUG"`

	// Split enables split reads/writes across address-contiguous blocks.
	Split bool `envconfig:"SPLIT" default:"true"`

	// BufferCache backs local heap blocks with a size-classed buffer cache.
	BufferCache bool `envconfig:"BUFFER_CACHE"`
}

// Load reads the configuration from the environment.
func Load() (Config, error) {
	var c Config
	if err := envconfig.Process(Prefix, &c); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	return c, nil
}

// Default returns the configuration with every variable unset.
func Default() Config {
	return Config{LogLevel: "info", Split: true}
}
