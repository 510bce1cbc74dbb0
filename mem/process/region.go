package process

import "fmt"

// Region describes one run of pages in a process's address space that share
// state and protection.
type Region struct {
	Base              uint64     // First address of the run
	AllocationBase    uint64     // Base of the allocation the run belongs to
	Size              uint64     // Length in bytes
	State             State      // StateCommit, StateReserve or StateFree
	Protect           Protection // Current protection
	AllocationProtect Protection // Protection the allocation was created with
	Type              State      // StatePrivate, StateMapped or StateImage; 0 when free
	Path              string     // Backing file or pseudo-path such as [heap], if known
}

// End returns the first address past the region.
func (r Region) End() uint64 { return r.Base + r.Size }

// Contains reports whether address lies in [Base, End).
func (r Region) Contains(address uint64) bool {
	return address >= r.Base && address-r.Base < r.Size
}

// Readable reports whether the region is committed and readable.
func (r Region) Readable() bool {
	return r.State.Has(StateCommit) && r.Protect.Readable()
}

// Writable reports whether the region is committed and writable.
func (r Region) Writable() bool {
	return r.State.Has(StateCommit) && r.Protect.Writable()
}

// Clip returns the part of r inside [base, base+size), or false if they do
// not overlap.
func (r Region) Clip(base, size uint64) (Region, bool) {
	start := max(r.Base, base)
	end := min(r.End(), base+size)
	if start >= end {
		return Region{}, false
	}
	c := r
	c.Base = start
	c.Size = end - start
	return c, true
}

func (r Region) String() string {
	s := fmt.Sprintf("0x%x-0x%x %s %s", r.Base, r.End(), r.State, r.Protect)
	if r.Type != 0 {
		s += " " + r.Type.String()
	}
	if r.Path != "" {
		s += " " + r.Path
	}
	return s
}
