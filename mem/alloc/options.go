package alloc

import (
	"log/slog"

	"github.com/joshuapare/memkit/internal/config"
)

// Option configures an Allocator.
type Option func(*Allocator)

// WithLogger sets the logger. Default: the package logger in internal/logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Allocator) { a.log = l }
}

// WithSplitting enables or disables split reads and writes. Default: enabled.
func WithSplitting(on bool) Option {
	return func(a *Allocator) { a.splitting = on }
}

// WithAllocLogging emits a debug record for every pool and bind operation.
// Default: off.
func WithAllocLogging(on bool) Option {
	return func(a *Allocator) { a.logAlloc = on }
}

// FromConfig translates c into allocator options.
func FromConfig(c config.Config) []Option {
	return []Option{
		WithSplitting(c.Split),
		WithAllocLogging(c.LogAlloc),
	}
}

// FromEnv reads the MEMKIT_* environment and returns the matching options.
func FromEnv() ([]Option, error) {
	c, err := config.Load()
	if err != nil {
		return nil, err
	}
	return FromConfig(c), nil
}
