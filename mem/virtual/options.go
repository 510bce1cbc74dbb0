package virtual

import (
	"log/slog"

	"github.com/joshuapare/memkit/mem/alloc"
	"github.com/joshuapare/memkit/mem/process"
)

// Default flags for Allocate.
const (
	DefaultAllocation = process.StateCommit | process.StateReserve
	DefaultProtection = process.ProtReadWrite
)

type options struct {
	log   *slog.Logger
	state process.State
	prot  process.Protection
	alloc []alloc.Option
}

// Option configures a VirtualAllocator.
type Option func(*options)

// WithLogger sets the logger for the allocator and its pages.
// Default: the package logger in internal/logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithDefaults sets the allocation state and protection used by Allocate.
// Default: DefaultAllocation and DefaultProtection.
func WithDefaults(state process.State, prot process.Protection) Option {
	return func(o *options) {
		o.state = state
		o.prot = prot
	}
}

// WithAllocatorOptions passes options through to the underlying alloc.Allocator.
func WithAllocatorOptions(opts ...alloc.Option) Option {
	return func(o *options) { o.alloc = append(o.alloc, opts...) }
}

// FromEnv reads the MEMKIT_* environment and returns the matching options.
func FromEnv() ([]Option, error) {
	opts, err := alloc.FromEnv()
	if err != nil {
		return nil, err
	}
	return []Option{WithAllocatorOptions(opts...)}, nil
}
