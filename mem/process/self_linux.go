//go:build linux

package process

import (
	"errors"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/joshuapare/memkit/mem/addr"
	"github.com/joshuapare/memkit/mem/fault"
)

// self is the current process. Memory is touched directly through the fault
// package; regions come from mmap.
type self struct {
	pid    int
	closed bool
}

func newSelf() *self { return &self{pid: os.Getpid()} }

func (s *self) PID() int { return s.pid }

func (s *self) Space() *addr.Space { return addr.Local() }

func (s *self) PageSize() uint64 { return pageSize() }

func (s *self) Close() error {
	s.closed = true
	return nil
}

func (s *self) check() error {
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *self) ReadMemory(address uint64, dst []byte) error {
	if err := s.check(); err != nil {
		return err
	}
	return fault.ReadAt(dst, uintptr(address))
}

func (s *self) WriteMemory(address uint64, src []byte) error {
	if err := s.check(); err != nil {
		return err
	}
	return fault.WriteAt(uintptr(address), src)
}

func (s *self) Allocate(hint, size uint64, state State, prot Protection) (uint64, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	if size == 0 {
		return 0, &Error{Op: "mmap", PID: s.pid, Address: hint, Err: unix.EINVAL}
	}
	if !state.Has(StateCommit) && !state.Has(StateReserve) {
		return 0, &Error{Op: "mmap", PID: s.pid, Address: hint, Size: size, Err: unix.EINVAL}
	}

	p, err := unixProt(prot)
	if err != nil {
		return 0, err
	}
	flags := unix.MAP_PRIVATE | unix.MAP_ANONYMOUS
	if !state.Has(StateCommit) {
		p = unix.PROT_NONE
		flags |= unix.MAP_NORESERVE
	}
	start, length := pageSpan(hint, size)

	if hint != 0 {
		// Committing part of an earlier reservation only changes its protection.
		if state.Has(StateCommit) {
			if r, err := s.Query(start); err == nil && r.State == StateReserve && r.End() >= start+length {
				if err := mprotect(start, length, p); err != nil {
					return 0, &Error{Op: "mprotect", PID: s.pid, Address: start, Size: length, Err: err}
				}
				return start, nil
			}
		}
		flags |= unix.MAP_FIXED_NOREPLACE
	}

	ptr, err := unix.MmapPtr(-1, 0, unsafe.Pointer(uintptr(start)), uintptr(length), p, flags)
	if err != nil {
		return 0, &Error{Op: "mmap", PID: s.pid, Address: hint, Size: size, Err: err}
	}
	got := uint64(uintptr(ptr))
	if hint != 0 && got != start {
		// Kernels before 4.17 treat MAP_FIXED_NOREPLACE as a plain hint.
		_ = unix.MunmapPtr(ptr, uintptr(length))
		return 0, &Error{Op: "mmap", PID: s.pid, Address: hint, Size: size, Err: unix.EEXIST}
	}
	return got, nil
}

func (s *self) Free(address, size uint64, state State) error {
	if err := s.check(); err != nil {
		return err
	}
	start, length := pageSpan(address, size)
	switch {
	case state.Has(StateRelease):
		if err := unix.MunmapPtr(unsafe.Pointer(uintptr(start)), uintptr(length)); err != nil {
			return &Error{Op: "munmap", PID: s.pid, Address: start, Size: length, Err: err}
		}
	case state.Has(StateDecommit):
		b := fault.Bytes(uintptr(start), int(length))
		if err := unix.Madvise(b, unix.MADV_DONTNEED); err != nil {
			return &Error{Op: "madvise", PID: s.pid, Address: start, Size: length, Err: err}
		}
		if err := mprotect(start, length, unix.PROT_NONE); err != nil {
			return &Error{Op: "mprotect", PID: s.pid, Address: start, Size: length, Err: err}
		}
	default:
		return &Error{Op: "free", PID: s.pid, Address: address, Size: size, Err: unix.EINVAL}
	}
	return nil
}

func (s *self) Protect(address, size uint64, prot Protection) (Protection, error) {
	if err := s.check(); err != nil {
		return 0, err
	}
	p, err := unixProt(prot)
	if err != nil {
		return 0, err
	}
	old, err := s.Query(address)
	if err != nil {
		return 0, err
	}
	if old.State == StateFree {
		return 0, &Error{Op: "mprotect", PID: s.pid, Address: address, Size: size, Err: unix.ENOMEM}
	}
	start, length := pageSpan(address, size)
	if err := mprotect(start, length, p); err != nil {
		return 0, &Error{Op: "mprotect", PID: s.pid, Address: start, Size: length, Err: err}
	}
	return old.Protect, nil
}

func (s *self) Lock(address, size uint64) error {
	if err := s.check(); err != nil {
		return err
	}
	start, length := pageSpan(address, size)
	if err := unix.Mlock(fault.Bytes(uintptr(start), int(length))); err != nil {
		return &Error{Op: "mlock", PID: s.pid, Address: start, Size: length, Err: err}
	}
	return nil
}

func (s *self) Unlock(address, size uint64) error {
	if err := s.check(); err != nil {
		return err
	}
	start, length := pageSpan(address, size)
	if err := unix.Munlock(fault.Bytes(uintptr(start), int(length))); err != nil {
		return &Error{Op: "munlock", PID: s.pid, Address: start, Size: length, Err: err}
	}
	return nil
}

func (s *self) Query(address uint64) (Region, error) {
	if err := s.check(); err != nil {
		return Region{}, err
	}
	return queryMaps(s.pid, address)
}

func (s *self) Regions() ([]Region, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return readMaps(s.pid)
}

// Remap resizes a mapping without moving it. Growth fails if the pages
// after the mapping are taken.
func (s *self) Remap(address, oldSize, newSize uint64) error {
	if err := s.check(); err != nil {
		return err
	}
	start, oldLen := pageSpan(address, oldSize)
	_, newLen := pageSpan(address, newSize)
	if oldLen == newLen {
		return nil
	}
	r, _, errno := unix.Syscall6(unix.SYS_MREMAP, uintptr(start), uintptr(oldLen), uintptr(newLen), 0, 0, 0)
	if errno != 0 {
		return &Error{Op: "mremap", PID: s.pid, Address: start, Size: newLen, Err: errno}
	}
	if uint64(r) != start {
		return &Error{Op: "mremap", PID: s.pid, Address: start, Size: newLen, Err: errors.New("mapping moved")}
	}
	return nil
}

func mprotect(start, length uint64, prot int) error {
	return unix.Mprotect(fault.Bytes(uintptr(start), int(length)), prot)
}
