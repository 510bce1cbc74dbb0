package virtual

import (
	"cmp"
	"errors"
	"slices"
	"testing"

	"github.com/joshuapare/memkit/mem/addr"
	"github.com/joshuapare/memkit/mem/process"
)

const (
	fakeBase = 0x100000
	fakePage = 0x1000
	fakeSize = 0x400000
)

var errFakeFault = errors.New("fake: inaccessible")

type fakeRegion struct {
	base, size uint64
	state      process.State
	prot       process.Protection
}

// fakeHandle is an in-memory process with a flat address range starting at
// fakeBase. It has no Remapper, so resizes move.
type fakeHandle struct {
	space   *addr.Space
	mem     []byte
	regions []fakeRegion
	next    uint64
	freed   []uint64
	locked  map[uint64]bool
}

func newFakeHandle(t *testing.T) *fakeHandle {
	t.Helper()
	return &fakeHandle{
		space:  addr.NewSpace("fake", 0, ^uint64(0)),
		mem:    make([]byte, fakeSize),
		next:   fakeBase,
		locked: make(map[uint64]bool),
	}
}

func roundPage(n uint64) uint64 { return (n + fakePage - 1) &^ (fakePage - 1) }

// add maps a region the allocator did not create.
func (f *fakeHandle) add(base, size uint64, prot process.Protection) {
	f.regions = append(f.regions, fakeRegion{base: base, size: size, state: process.StateCommit, prot: prot})
	slices.SortFunc(f.regions, func(a, b fakeRegion) int { return cmp.Compare(a.base, b.base) })
}

func (f *fakeHandle) find(address uint64) int {
	for i, r := range f.regions {
		if address >= r.base && address < r.base+r.size {
			return i
		}
	}
	return -1
}

func (f *fakeHandle) PID() int { return 4242 }

func (f *fakeHandle) Space() *addr.Space { return f.space }

func (f *fakeHandle) PageSize() uint64 { return fakePage }

func (f *fakeHandle) Close() error { return nil }

// slice returns the backing bytes of [address, address+n) if every page of
// it is committed with a protection that allows the access.
func (f *fakeHandle) slice(address uint64, n int, allowed func(process.Protection) bool) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	end := address + uint64(n)
	for at := address; at < end; at = (at &^ (fakePage - 1)) + fakePage {
		i := f.find(at)
		if i < 0 || !f.regions[i].state.Has(process.StateCommit) || !allowed(f.regions[i].prot) {
			return nil, errFakeFault
		}
	}
	o := address - fakeBase
	return f.mem[o : o+uint64(n)], nil
}

func (f *fakeHandle) ReadMemory(address uint64, dst []byte) error {
	b, err := f.slice(address, len(dst), process.Protection.Readable)
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}

func (f *fakeHandle) WriteMemory(address uint64, src []byte) error {
	b, err := f.slice(address, len(src), process.Protection.Writable)
	if err != nil {
		return err
	}
	copy(b, src)
	return nil
}

func (f *fakeHandle) Allocate(hint, size uint64, state process.State, prot process.Protection) (uint64, error) {
	span := roundPage(size)
	base := hint
	if base == 0 {
		base = f.next
		f.next += span + fakePage
	}
	for _, r := range f.regions {
		if base < r.base+r.size && r.base < base+span {
			return 0, errors.New("fake: range in use")
		}
	}
	clear(f.mem[base-fakeBase : base-fakeBase+span])
	f.add(base, span, prot)
	f.regions[f.find(base)].state = state
	return base, nil
}

func (f *fakeHandle) Free(address, size uint64, state process.State) error {
	i := f.find(address)
	if i < 0 {
		return errors.New("fake: not mapped")
	}
	cut := f.regions[i]
	span := roundPage(size)
	f.carve(address, address+span)
	if state.Has(process.StateRelease) {
		f.freed = append(f.freed, address)
		return nil
	}
	cut.base, cut.size, cut.state = address, span, process.StateReserve
	f.regions = append(f.regions, cut)
	slices.SortFunc(f.regions, func(a, b fakeRegion) int { return cmp.Compare(a.base, b.base) })
	return nil
}

// carve removes [start, end) from every region, splitting where needed.
func (f *fakeHandle) carve(start, end uint64) {
	var out []fakeRegion
	for _, r := range f.regions {
		rend := r.base + r.size
		if rend <= start || r.base >= end {
			out = append(out, r)
			continue
		}
		if r.base < start {
			left := r
			left.size = start - r.base
			out = append(out, left)
		}
		if rend > end {
			right := r
			right.base = end
			right.size = rend - end
			out = append(out, right)
		}
	}
	f.regions = out
}

func (f *fakeHandle) Protect(address, _ uint64, prot process.Protection) (process.Protection, error) {
	i := f.find(address)
	if i < 0 {
		return 0, errors.New("fake: not mapped")
	}
	old := f.regions[i].prot
	f.regions[i].prot = prot
	return old, nil
}

func (f *fakeHandle) Lock(address, _ uint64) error {
	f.locked[address] = true
	return nil
}

func (f *fakeHandle) Unlock(address, _ uint64) error {
	delete(f.locked, address)
	return nil
}

func (f *fakeHandle) Query(address uint64) (process.Region, error) {
	var prevEnd uint64
	for _, r := range f.regions {
		if address < r.base {
			return process.Region{Base: prevEnd, Size: r.base - prevEnd, State: process.StateFree, Protect: process.ProtNoAccess}, nil
		}
		if address < r.base+r.size {
			return process.Region{
				Base:              r.base,
				AllocationBase:    r.base,
				Size:              r.size,
				State:             r.state,
				Protect:           r.prot,
				AllocationProtect: r.prot,
				Type:              process.StatePrivate,
			}, nil
		}
		prevEnd = r.base + r.size
	}
	return process.Region{}, process.ErrNotMapped
}

// remapHandle adds in-place resizing to fakeHandle for resizes that keep the
// page count, as mremap does for them.
type remapHandle struct {
	*fakeHandle
}

func (r remapHandle) Remap(_, oldSize, newSize uint64) error {
	if roundPage(oldSize) != roundPage(newSize) {
		return errors.New("fake: remap changes the page count")
	}
	return nil
}

var (
	_ process.Handle   = (*fakeHandle)(nil)
	_ process.Remapper = remapHandle{}
)
