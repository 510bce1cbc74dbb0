// Package process gives memkit access to the memory of a running process:
// the current one (Self) or another one by pid (Open).
//
// A Handle reads and writes memory, allocates, frees, protects and locks
// regions, and describes the region containing an address. Every operation
// reports failure as an error; none of them let a memory fault escape.
//
// Protection and state values use the Windows PAGE_* and MEM_* numbering on
// every platform. On Linux they are translated to mmap/mprotect flags and
// region descriptors are built from /proc/<pid>/maps.
//
// Support by platform:
//
//	                      Self   Open(pid)
//	linux  read/write     yes    yes (process_vm_readv/writev)
//	linux  allocate/...   yes    ErrUnsupported
//	linux  query          yes    yes
//	windows               yes    yes
//	other                 ErrUnsupported
package process

import (
	"errors"
	"fmt"

	"github.com/joshuapare/memkit/mem/addr"
)

var (
	// ErrUnsupported indicates the operation is not available for this
	// process or platform.
	ErrUnsupported = errors.New("process: operation not supported")

	// ErrNotMapped indicates an address past the last region of the process.
	ErrNotMapped = errors.New("process: address not mapped")

	// ErrClosed indicates use of a handle after Close.
	ErrClosed = errors.New("process: handle is closed")

	// ErrPartial indicates a read or write that transferred fewer bytes than requested.
	ErrPartial = errors.New("process: partial transfer")
)

// Handle is an open process.
type Handle interface {
	// PID returns the process id.
	PID() int

	// Space returns the address space addresses of this process live in.
	Space() *addr.Space

	// PageSize returns the allocation granularity.
	PageSize() uint64

	// ReadMemory fills dst from address.
	ReadMemory(address uint64, dst []byte) error

	// WriteMemory copies src to address.
	WriteMemory(address uint64, src []byte) error

	// Allocate creates a region of size bytes, near hint if hint is not 0.
	// state selects StateCommit and/or StateReserve.
	Allocate(hint, size uint64, state State, prot Protection) (uint64, error)

	// Free releases (StateRelease) or decommits (StateDecommit) a region.
	Free(address, size uint64, state State) error

	// Protect changes the protection of [address, address+size) and returns
	// the previous protection of its first page.
	Protect(address, size uint64, prot Protection) (Protection, error)

	// Lock pins the pages of a range in physical memory.
	Lock(address, size uint64) error

	// Unlock reverses Lock.
	Unlock(address, size uint64) error

	// Query describes the region containing address. Unmapped gaps are
	// returned as StateFree regions; past the last region it fails with
	// ErrNotMapped.
	Query(address uint64) (Region, error)

	// Close releases the handle. Regions it allocated are not freed.
	Close() error
}

// Remapper is implemented by handles that can resize a region in place.
type Remapper interface {
	// Remap grows or shrinks the region at address without moving it.
	Remap(address, oldSize, newSize uint64) error
}

// Lister is implemented by handles that can list every mapped region in one pass.
type Lister interface {
	Regions() ([]Region, error)
}

// Walk calls fn for each mapped region of h in ascending address order until
// fn returns false. Free gaps are skipped.
func Walk(h Handle, fn func(Region) bool) error {
	if l, ok := h.(Lister); ok {
		regions, err := l.Regions()
		if err != nil {
			return err
		}
		for _, r := range regions {
			if !fn(r) {
				return nil
			}
		}
		return nil
	}

	var address uint64
	for {
		r, err := h.Query(address)
		if errors.Is(err, ErrNotMapped) {
			return nil
		}
		if err != nil {
			return err
		}
		if r.State != StateFree && !fn(r) {
			return nil
		}
		if r.Size == 0 || r.End() <= address {
			return nil
		}
		address = r.End()
	}
}

// Error records a failed OS call.
type Error struct {
	Op      string // Operation name, e.g. "mprotect"
	PID     int
	Address uint64
	Size    uint64
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("process %d: %s 0x%x+%d: %v", e.PID, e.Op, e.Address, e.Size, e.Err)
}

// Unwrap returns the OS error.
func (e *Error) Unwrap() error { return e.Err }

func newSpace(pid int) *addr.Space {
	return addr.NewSpace(fmt.Sprintf("pid:%d", pid), 0, ^uint64(0))
}
