//go:build linux

package process

import (
	"golang.org/x/sys/unix"

	"github.com/joshuapare/memkit/mem/addr"
)

// remote is another process. Reads and writes go through
// process_vm_readv/writev; the kernel offers no way to map or protect
// memory in it.
type remote struct {
	pid    int
	space  *addr.Space
	closed bool
}

func newRemote(pid int) *remote {
	return &remote{pid: pid, space: newSpace(pid)}
}

func (r *remote) PID() int { return r.pid }

func (r *remote) Space() *addr.Space { return r.space }

func (r *remote) PageSize() uint64 { return pageSize() }

func (r *remote) Close() error {
	r.closed = true
	return nil
}

func (r *remote) check() error {
	if r.closed {
		return ErrClosed
	}
	return nil
}

func (r *remote) ReadMemory(address uint64, dst []byte) error {
	if err := r.check(); err != nil {
		return err
	}
	if len(dst) == 0 {
		return nil
	}
	liov := []unix.Iovec{{Base: &dst[0]}}
	liov[0].SetLen(len(dst))
	riov := []unix.RemoteIovec{{Base: uintptr(address), Len: len(dst)}}

	n, err := unix.ProcessVMReadv(r.pid, liov, riov, 0)
	if err != nil {
		return &Error{Op: "process_vm_readv", PID: r.pid, Address: address, Size: uint64(len(dst)), Err: err}
	}
	if n != len(dst) {
		return &Error{Op: "process_vm_readv", PID: r.pid, Address: address, Size: uint64(len(dst)), Err: ErrPartial}
	}
	return nil
}

func (r *remote) WriteMemory(address uint64, src []byte) error {
	if err := r.check(); err != nil {
		return err
	}
	if len(src) == 0 {
		return nil
	}
	liov := []unix.Iovec{{Base: &src[0]}}
	liov[0].SetLen(len(src))
	riov := []unix.RemoteIovec{{Base: uintptr(address), Len: len(src)}}

	n, err := unix.ProcessVMWritev(r.pid, liov, riov, 0)
	if err != nil {
		return &Error{Op: "process_vm_writev", PID: r.pid, Address: address, Size: uint64(len(src)), Err: err}
	}
	if n != len(src) {
		return &Error{Op: "process_vm_writev", PID: r.pid, Address: address, Size: uint64(len(src)), Err: ErrPartial}
	}
	return nil
}

func (r *remote) Allocate(hint, size uint64, _ State, _ Protection) (uint64, error) {
	return 0, &Error{Op: "allocate", PID: r.pid, Address: hint, Size: size, Err: ErrUnsupported}
}

func (r *remote) Free(address, size uint64, _ State) error {
	return &Error{Op: "free", PID: r.pid, Address: address, Size: size, Err: ErrUnsupported}
}

func (r *remote) Protect(address, size uint64, _ Protection) (Protection, error) {
	return 0, &Error{Op: "protect", PID: r.pid, Address: address, Size: size, Err: ErrUnsupported}
}

func (r *remote) Lock(address, size uint64) error {
	return &Error{Op: "lock", PID: r.pid, Address: address, Size: size, Err: ErrUnsupported}
}

func (r *remote) Unlock(address, size uint64) error {
	return &Error{Op: "unlock", PID: r.pid, Address: address, Size: size, Err: ErrUnsupported}
}

func (r *remote) Query(address uint64) (Region, error) {
	if err := r.check(); err != nil {
		return Region{}, err
	}
	return queryMaps(r.pid, address)
}

func (r *remote) Regions() ([]Region, error) {
	if err := r.check(); err != nil {
		return nil, err
	}
	return readMaps(r.pid)
}
