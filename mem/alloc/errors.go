package alloc

import (
	"errors"
	"fmt"

	"github.com/joshuapare/memkit/mem/addr"
)

var (
	// ErrNoAllocator indicates a handle that was never attached to an allocator.
	ErrNoAllocator = errors.New("alloc: allocation has no allocator")

	// ErrZeroSize indicates an allocate or reallocate request for zero bytes.
	ErrZeroSize = errors.New("alloc: zero-sized allocation")

	// ErrDoubleAllocation indicates Allocate on a handle that is already valid.
	ErrDoubleAllocation = errors.New("alloc: allocation is already allocated")

	// ErrDeadAllocation indicates a handle whose range is no longer pooled.
	ErrDeadAllocation = errors.New("alloc: allocation is not valid")

	// ErrOutOfRange indicates an address or offset outside a handle's range.
	ErrOutOfRange = errors.New("alloc: address out of range")

	// ErrUnpooled indicates an address the allocator never pooled.
	ErrUnpooled = errors.New("alloc: address is not pooled")

	// ErrBound indicates Bind on a handle that is already bound.
	ErrBound = errors.New("alloc: allocation is already bound")

	// ErrUnbound indicates an operation that needs a bound handle.
	ErrUnbound = errors.New("alloc: allocation is not bound")

	// ErrFault indicates the copy primitive reported an access violation.
	ErrFault = errors.New("alloc: memory fault")

	// ErrSplitExceeded indicates a split read or write ran out of contiguous ranges.
	ErrSplitExceeded = errors.New("alloc: split exceeded contiguous ranges")

	// ErrPoolExhausted indicates the provider refused to supply storage.
	ErrPoolExhausted = errors.New("alloc: provider could not pool memory")

	// ErrForeignAllocation indicates a handle owned by a different allocator.
	ErrForeignAllocation = errors.New("alloc: allocation belongs to another allocator")

	// ErrClosed indicates use of an allocator after Close.
	ErrClosed = errors.New("alloc: allocator is closed")
)

// RangeError describes an access outside an allocation's [Start, End) range.
type RangeError struct {
	Address addr.Address // First byte of the request
	Size    uint64       // Requested length
	Start   addr.Address // Allocation start
	End     addr.Address // Allocation end (exclusive)
}

// Error implements the error interface.
func (e *RangeError) Error() string {
	return fmt.Sprintf("alloc: %d bytes at %s outside [%s, %s)", e.Size, e.Address, e.Start, e.End)
}

// Is reports whether target is ErrOutOfRange.
func (e *RangeError) Is(target error) bool { return target == ErrOutOfRange }

// FaultError wraps a fault reported while copying to or from pooled memory.
type FaultError struct {
	Op         string       // "read", "write" or "repool"
	Address    addr.Address // Start of the faulted copy
	Size       uint64       // Length of the faulted copy
	Allocation *Allocation  // Handle the copy was made for, nil for raw pool traffic
	Err        error        // Error returned by the provider
}

// Error implements the error interface.
func (e *FaultError) Error() string {
	return fmt.Sprintf("alloc: %s of %d bytes at %s: %v", e.Op, e.Size, e.Address, e.Err)
}

// Unwrap returns the provider error.
func (e *FaultError) Unwrap() error { return e.Err }

// Is reports whether target is ErrFault.
func (e *FaultError) Is(target error) bool { return target == ErrFault }

// SplitError describes a split read or write that could not be satisfied.
type SplitError struct {
	Address   addr.Address // Start of the request
	Size      uint64       // Requested length
	Satisfied uint64       // Bytes covered by contiguous bound ranges
}

// Error implements the error interface.
func (e *SplitError) Error() string {
	return fmt.Sprintf("alloc: split of %d bytes at %s covers only %d bytes", e.Size, e.Address, e.Satisfied)
}

// Is reports whether target is ErrSplitExceeded.
func (e *SplitError) Is(target error) bool { return target == ErrSplitExceeded }
