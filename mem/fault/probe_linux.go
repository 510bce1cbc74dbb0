//go:build linux

package fault

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// madvPopulateRead asks the kernel to map every page of a range up front.
// An unmappable page fails the call with EFAULT; older kernels answer EINVAL.
const madvPopulateRead = 22

// Probe pre-faults every page of b and reports the first inaccessible one.
//
// It tries MADV_POPULATE_READ first and falls back to touching one byte per
// page under the fault guard on kernels that lack it.
func Probe(b []byte) error {
	if len(b) == 0 {
		return nil
	}

	err := unix.Madvise(b, madvPopulateRead)
	if err == nil {
		return nil
	}
	// EINVAL and ENOSYS mean the advice is unknown here; anything else is a real fault.
	if !errors.Is(err, unix.EINVAL) && !errors.Is(err, unix.ENOSYS) {
		return &Error{Op: "probe", Addr: base(b), Size: len(b), Cause: fmt.Errorf("madvise populate: %w", err)}
	}
	return touch(b)
}
