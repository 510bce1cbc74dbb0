// Package alloc implements the provider-independent half of memkit: pooling
// raw blocks, binding handles to them, moving handles when a block moves, and
// reads and writes that cross address-contiguous blocks.
//
// # Layers
//
// An Allocator works on two layers:
//
//   - Pool, Repool and Unpool manage raw blocks obtained from a Provider.
//   - Bind, Rebind and Unbind attach Allocation handles to those blocks.
//
// A block stays pooled while at least one handle is bound to it. Unbinding
// the last handle releases the block; that is the only place a bound block is
// ever released. Repool may move a block, in which case every handle bound to
// it is rebound to the new block and every address issued for it (see
// Allocation.Address) follows.
//
// # Usage
//
//	a := alloc.New(provider)
//	defer a.Close()
//
//	h, err := a.Allocate(64)
//	if err != nil {
//	    return err
//	}
//	defer h.Close()
//
//	if err := h.Write(0, []byte("hello")); err != nil {
//	    return err
//	}
//	alias, _ := h.Alias()       // same bytes
//	clone, _ := h.Clone()       // independent copy
//	_ = h.Reallocate(4096)      // alias follows, clone does not
//
// # Split I/O
//
// When two pooled blocks are bound and the first ends exactly where the
// second starts, a read or write running off the end of the first continues
// into the second (WillSplit, SplitRead, SplitWrite). Ranges are half-open:
// a block [start, end) is adjacent to the next block iff end == next start.
// A request that runs out of adjacent blocks fails with *SplitError before
// any byte is copied. DenySplitting turns the behavior off.
//
// # Errors
//
// Every failure is a typed error: sentinels for precondition violations
// (ErrZeroSize, ErrBound, ErrUnpooled, ...) and *RangeError, *FaultError and
// *SplitError for failures that carry context. Provider faults never escape
// as panics.
//
// # Concurrency
//
// An Allocator and its handles must be used from one goroutine at a time.
package alloc
