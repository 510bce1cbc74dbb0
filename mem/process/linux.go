//go:build linux

package process

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Self returns a handle to the current process.
func Self() (Handle, error) {
	return newSelf(), nil
}

// Open returns a handle to the process with the given pid. Opening the
// current pid returns the same kind of handle as Self.
func Open(pid int) (Handle, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("process: invalid pid %d", pid)
	}
	if pid == os.Getpid() {
		return newSelf(), nil
	}
	if err := unix.Kill(pid, 0); err != nil && err != unix.EPERM {
		return nil, &Error{Op: "open", PID: pid, Err: err}
	}
	return newRemote(pid), nil
}

// unixProt translates a Protection to mmap/mprotect flags.
func unixProt(p Protection) (int, error) {
	if p&ProtGuard != 0 {
		return unix.PROT_NONE, nil
	}
	switch p.Access() {
	case ProtNoAccess:
		return unix.PROT_NONE, nil
	case ProtReadOnly:
		return unix.PROT_READ, nil
	case ProtReadWrite, ProtWriteCopy:
		return unix.PROT_READ | unix.PROT_WRITE, nil
	case ProtExecute:
		return unix.PROT_EXEC, nil
	case ProtExecuteRead:
		return unix.PROT_READ | unix.PROT_EXEC, nil
	case ProtExecuteReadWrite, ProtExecuteWriteCopy:
		return unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC, nil
	}
	return 0, fmt.Errorf("process: unsupported protection %s: %w", p, unix.EINVAL)
}

// protectionOf is the inverse of unixProt for rwx permission bits.
func protectionOf(read, write, exec bool) Protection {
	switch {
	case exec && write:
		return ProtExecuteReadWrite
	case exec && read:
		return ProtExecuteRead
	case exec:
		return ProtExecute
	case write:
		return ProtReadWrite
	case read:
		return ProtReadOnly
	}
	return ProtNoAccess
}

func pageSize() uint64 { return uint64(os.Getpagesize()) }

// pageSpan widens [address, address+size) to whole pages.
func pageSpan(address, size uint64) (uint64, uint64) {
	ps := pageSize()
	start := address &^ (ps - 1)
	end := (address + size + ps - 1) &^ (ps - 1)
	return start, end - start
}
