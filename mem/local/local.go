// Package local provides allocators backed by memory of the current process.
//
// New returns an Allocator whose blocks are individual heap buffers. NewArena
// returns one that carves blocks out of a single buffer, in ascending address
// order, so consecutive blocks are address-contiguous and reads or writes can
// run from one into the next.
//
// Freed blocks are not zeroed unless WithZeroOnFree is set. Builds tagged
// memkit_debug, and processes started with MEMKIT_DEBUG=1 when options come
// from FromEnv, zero them by default.
package local

import (
	"sync"

	"github.com/joshuapare/memkit/internal/config"
	"github.com/joshuapare/memkit/internal/logger"
	"github.com/joshuapare/memkit/mem/alloc"
)

// Allocator is an alloc.Allocator over local memory.
type Allocator struct {
	*alloc.Allocator
	provider interface{ inUse() uint64 }
	zeroOnFree bool
}

type options struct {
	zeroOnFree  bool
	bufferCache bool
	alloc       []alloc.Option
}

// Option configures a local Allocator.
type Option func(*options)

// WithZeroOnFree zeroes blocks before they are released.
// Default: on in memkit_debug builds, off otherwise.
func WithZeroOnFree(on bool) Option {
	return func(o *options) { o.zeroOnFree = on }
}

// WithBufferCache backs heap blocks with size-classed reusable buffers.
// Ignored by arenas. Default: off.
func WithBufferCache(on bool) Option {
	return func(o *options) { o.bufferCache = on }
}

// WithAllocatorOptions passes options through to the underlying alloc.Allocator.
func WithAllocatorOptions(opts ...alloc.Option) Option {
	return func(o *options) { o.alloc = append(o.alloc, opts...) }
}

// FromConfig translates c into options.
func FromConfig(c config.Config) []Option {
	return []Option{
		WithZeroOnFree(debugBuild || c.Debug),
		WithBufferCache(c.BufferCache),
		WithAllocatorOptions(alloc.FromConfig(c)...),
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

func build(opts []Option) options {
	o := options{zeroOnFree: debugBuild}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// New returns an allocator that pools each block as its own heap buffer.
func New(opts ...Option) *Allocator {
	o := build(opts)
	h := newHeap(o.zeroOnFree, o.bufferCache)
	return &Allocator{
		Allocator:  alloc.New(h, o.alloc...),
		provider:   h,
		zeroOnFree: o.zeroOnFree,
	}
}

// NewArena returns an allocator that carves blocks out of one buffer of size
// bytes. Fails with ErrTooLarge or alloc.ErrZeroSize for unusable sizes.
func NewArena(size uint64, opts ...Option) (*Allocator, error) {
	o := build(opts)
	r, err := newArena(size, o.zeroOnFree)
	if err != nil {
		return nil, err
	}
	return &Allocator{
		Allocator:  alloc.New(r, o.alloc...),
		provider:   r,
		zeroOnFree: o.zeroOnFree,
	}, nil
}

// ZeroOnFree reports whether blocks are zeroed before release.
func (a *Allocator) ZeroOnFree() bool { return a.zeroOnFree }

// InUse returns the number of bytes held by pooled blocks.
func (a *Allocator) InUse() uint64 { return a.provider.inUse() }

var (
	defaultOnce sync.Once
	defaultHeap *Allocator
)

// Default returns the process-wide heap allocator, configured from the
// environment the first time it is requested. It is never closed.
func Default() *Allocator {
	defaultOnce.Do(func() {
		opts, err := FromEnv()
		if err != nil {
			logger.Warn("local: ignoring environment configuration", "error", err)
			opts = nil
		}
		defaultHeap = New(opts...)
	})
	return defaultHeap
}

// Malloc allocates size bytes from Default.
func Malloc(size uint64) (*alloc.Allocation, error) {
	return Default().Allocate(size)
}

// Realloc resizes h, or allocates a new handle from Default if h is nil.
func Realloc(h *alloc.Allocation, size uint64) (*alloc.Allocation, error) {
	if h == nil {
		return Malloc(size)
	}
	if err := h.Reallocate(size); err != nil {
		return nil, err
	}
	return h, nil
}

// Free unbinds h, releasing its block if h was the last handle on it.
func Free(h *alloc.Allocation) error {
	if h == nil {
		return nil
	}
	return h.Deallocate()
}
