// Package fault copies memory without letting hardware faults escape.
//
// Every raw read or write in memkit goes through this package. A copy that
// touches an unmapped or protected page returns *Error instead of killing the
// process:
//
//	if err := fault.ReadAt(dst, 0x7f0000001000); err != nil {
//	    if errors.Is(err, fault.ErrAccessViolation) { ... }
//	}
//
// Faults are caught with runtime/debug.SetPanicOnFault, which turns SIGSEGV
// and SIGBUS on the current goroutine into a recoverable panic. Panics that
// are not memory faults (index errors and the like) are re-raised.
package fault

import (
	"errors"
	"fmt"
	"runtime/debug"
	"unsafe"
)

// minValidAddress is the lowest address treated as mappable. The runtime
// reports faults below it as nil dereferences, which carry no address.
const minValidAddress = 0x1000

// ErrAccessViolation indicates a copy touched an inaccessible address.
var ErrAccessViolation = errors.New("fault: access violation")

// Error describes a faulted copy.
type Error struct {
	Op    string  // "read", "write", "copy", "zero" or "probe"
	Addr  uintptr // Start of the range being accessed
	Size  int     // Length of the range
	Fault uintptr // Faulting address reported by the runtime, 0 if unknown
	Cause error   // Underlying runtime error, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Fault != 0 {
		return fmt.Sprintf("fault: %s of %d bytes at 0x%x faulted at 0x%x", e.Op, e.Size, e.Addr, e.Fault)
	}
	return fmt.Sprintf("fault: %s of %d bytes at 0x%x is inaccessible", e.Op, e.Size, e.Addr)
}

// Unwrap returns the underlying runtime error.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is ErrAccessViolation.
func (e *Error) Is(target error) bool { return target == ErrAccessViolation }

// Copy copies src into dst. Both must have the same length.
func Copy(dst, src []byte) error {
	if len(dst) != len(src) {
		return fmt.Errorf("fault: copy length mismatch: dst=%d src=%d", len(dst), len(src))
	}
	if len(src) == 0 {
		return nil
	}
	return guard("copy", base(src), len(src), func() { copy(dst, src) })
}

// ReadAt fills dst from the raw local address.
func ReadAt(dst []byte, address uintptr) error {
	if len(dst) == 0 {
		return nil
	}
	if address < minValidAddress {
		return &Error{Op: "read", Addr: address, Size: len(dst)}
	}
	src := unsafe.Slice((*byte)(unsafe.Pointer(address)), len(dst))
	return guard("read", address, len(dst), func() { copy(dst, src) })
}

// WriteAt copies src to the raw local address.
func WriteAt(address uintptr, src []byte) error {
	if len(src) == 0 {
		return nil
	}
	if address < minValidAddress {
		return &Error{Op: "write", Addr: address, Size: len(src)}
	}
	dst := unsafe.Slice((*byte)(unsafe.Pointer(address)), len(src))
	return guard("write", address, len(src), func() { copy(dst, src) })
}

// Zero clears b.
func Zero(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return guard("zero", base(b), len(b), func() { clear(b) })
}

// Bytes returns a slice over size bytes of raw local memory at address. The
// slice is only safe to touch through this package's functions.
func Bytes(address uintptr, size int) []byte {
	if address < minValidAddress || size <= 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(address)), size)
}

// guard runs fn with panic-on-fault enabled for this goroutine and converts
// a memory fault into *Error.
func guard(op string, address uintptr, size int, fn func()) (retErr error) {
	old := debug.SetPanicOnFault(true)
	defer debug.SetPanicOnFault(old)

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		fe, ok := r.(interface{ Addr() uintptr })
		if !ok {
			panic(r)
		}
		e := &Error{Op: op, Addr: address, Size: size, Fault: fe.Addr()}
		if err, ok := r.(error); ok {
			e.Cause = err
		}
		retErr = e
	}()

	fn()
	return nil
}

func base(b []byte) uintptr {
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}
