//go:build windows

package process

import (
	"os"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/joshuapare/memkit/mem/addr"
)

var (
	modkernel32        = windows.NewLazySystemDLL("kernel32.dll")
	procVirtualAllocEx = modkernel32.NewProc("VirtualAllocEx")
	procVirtualFreeEx  = modkernel32.NewProc("VirtualFreeEx")
)

const accessRights = windows.PROCESS_VM_OPERATION | windows.PROCESS_VM_READ |
	windows.PROCESS_VM_WRITE | windows.PROCESS_QUERY_INFORMATION

// winProcess wraps a process handle and the Ex family of memory calls.
type winProcess struct {
	pid    int
	h      windows.Handle
	space  *addr.Space
	owned  bool // h must be closed
	closed bool
}

// Self returns a handle to the current process.
func Self() (Handle, error) {
	return &winProcess{pid: os.Getpid(), h: windows.CurrentProcess(), space: addr.Local()}, nil
}

// Open returns a handle to the process with the given pid.
func Open(pid int) (Handle, error) {
	if pid == os.Getpid() {
		return Self()
	}
	h, err := windows.OpenProcess(accessRights, false, uint32(pid))
	if err != nil {
		return nil, &Error{Op: "OpenProcess", PID: pid, Err: err}
	}
	return &winProcess{pid: pid, h: h, space: newSpace(pid), owned: true}, nil
}

func (p *winProcess) PID() int { return p.pid }

func (p *winProcess) Space() *addr.Space { return p.space }

func (p *winProcess) PageSize() uint64 { return uint64(os.Getpagesize()) }

func (p *winProcess) check() error {
	if p.closed {
		return ErrClosed
	}
	return nil
}

func (p *winProcess) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if p.owned {
		return windows.CloseHandle(p.h)
	}
	return nil
}

func (p *winProcess) ReadMemory(address uint64, dst []byte) error {
	if err := p.check(); err != nil {
		return err
	}
	if len(dst) == 0 {
		return nil
	}
	var n uintptr
	if err := windows.ReadProcessMemory(p.h, uintptr(address), &dst[0], uintptr(len(dst)), &n); err != nil {
		return &Error{Op: "ReadProcessMemory", PID: p.pid, Address: address, Size: uint64(len(dst)), Err: err}
	}
	if int(n) != len(dst) {
		return &Error{Op: "ReadProcessMemory", PID: p.pid, Address: address, Size: uint64(len(dst)), Err: ErrPartial}
	}
	return nil
}

func (p *winProcess) WriteMemory(address uint64, src []byte) error {
	if err := p.check(); err != nil {
		return err
	}
	if len(src) == 0 {
		return nil
	}
	var n uintptr
	if err := windows.WriteProcessMemory(p.h, uintptr(address), &src[0], uintptr(len(src)), &n); err != nil {
		return &Error{Op: "WriteProcessMemory", PID: p.pid, Address: address, Size: uint64(len(src)), Err: err}
	}
	if int(n) != len(src) {
		return &Error{Op: "WriteProcessMemory", PID: p.pid, Address: address, Size: uint64(len(src)), Err: ErrPartial}
	}
	return nil
}

func (p *winProcess) Allocate(hint, size uint64, state State, prot Protection) (uint64, error) {
	if err := p.check(); err != nil {
		return 0, err
	}
	r, _, err := procVirtualAllocEx.Call(uintptr(p.h), uintptr(hint), uintptr(size), uintptr(state), uintptr(prot))
	if r == 0 {
		return 0, &Error{Op: "VirtualAllocEx", PID: p.pid, Address: hint, Size: size, Err: err}
	}
	return uint64(r), nil
}

func (p *winProcess) Free(address, size uint64, state State) error {
	if err := p.check(); err != nil {
		return err
	}
	// MEM_RELEASE requires a zero size.
	if state.Has(StateRelease) {
		size = 0
	}
	r, _, err := procVirtualFreeEx.Call(uintptr(p.h), uintptr(address), uintptr(size), uintptr(state))
	if r == 0 {
		return &Error{Op: "VirtualFreeEx", PID: p.pid, Address: address, Size: size, Err: err}
	}
	return nil
}

func (p *winProcess) Protect(address, size uint64, prot Protection) (Protection, error) {
	if err := p.check(); err != nil {
		return 0, err
	}
	var old uint32
	if err := windows.VirtualProtectEx(p.h, uintptr(address), uintptr(size), uint32(prot), &old); err != nil {
		return 0, &Error{Op: "VirtualProtectEx", PID: p.pid, Address: address, Size: size, Err: err}
	}
	return Protection(old), nil
}

func (p *winProcess) Lock(address, size uint64) error {
	if err := p.check(); err != nil {
		return err
	}
	if p.owned {
		return &Error{Op: "VirtualLock", PID: p.pid, Address: address, Size: size, Err: ErrUnsupported}
	}
	if err := windows.VirtualLock(uintptr(address), uintptr(size)); err != nil {
		return &Error{Op: "VirtualLock", PID: p.pid, Address: address, Size: size, Err: err}
	}
	return nil
}

func (p *winProcess) Unlock(address, size uint64) error {
	if err := p.check(); err != nil {
		return err
	}
	if p.owned {
		return &Error{Op: "VirtualUnlock", PID: p.pid, Address: address, Size: size, Err: ErrUnsupported}
	}
	if err := windows.VirtualUnlock(uintptr(address), uintptr(size)); err != nil {
		return &Error{Op: "VirtualUnlock", PID: p.pid, Address: address, Size: size, Err: err}
	}
	return nil
}

func (p *winProcess) Query(address uint64) (Region, error) {
	if err := p.check(); err != nil {
		return Region{}, err
	}
	var mbi windows.MemoryBasicInformation
	if err := windows.VirtualQueryEx(p.h, uintptr(address), &mbi, unsafe.Sizeof(mbi)); err != nil {
		if err == windows.ERROR_INVALID_PARAMETER {
			return Region{}, ErrNotMapped
		}
		return Region{}, &Error{Op: "VirtualQueryEx", PID: p.pid, Address: address, Err: err}
	}
	return Region{
		Base:              uint64(mbi.BaseAddress),
		AllocationBase:    uint64(mbi.AllocationBase),
		Size:              uint64(mbi.RegionSize),
		State:             State(mbi.State),
		Protect:           Protection(mbi.Protect),
		AllocationProtect: Protection(mbi.AllocationProtect),
		Type:              State(mbi.Type),
	}, nil
}
