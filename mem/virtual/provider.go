package virtual

import (
	"fmt"

	"github.com/joshuapare/memkit/mem/addr"
	"github.com/joshuapare/memkit/mem/alloc"
	"github.com/joshuapare/memkit/mem/process"
)

// request carries the flags for the next Pool call. Pool has no room for
// them in the alloc.Provider signature.
type request struct {
	hint  uint64
	state process.State
	prot  process.Protection
	adopt bool // wrap the existing region at hint instead of allocating
}

// block is one region the provider handed to the allocator.
type block struct {
	size  uint64
	owned bool
	state process.State
	prot  process.Protection
}

// provider implements alloc.Provider over a process handle.
type provider struct {
	handle process.Handle
	blocks map[uint64]block
	next   request

	// Flags for pools requested without a request, such as Allocation.Clone.
	state process.State
	prot  process.Protection
}

func newProvider(h process.Handle, state process.State, prot process.Protection) *provider {
	return &provider{handle: h, blocks: make(map[uint64]block), state: state, prot: prot}
}

func (p *provider) Space() *addr.Space { return p.handle.Space() }

func (p *provider) at(v uint64) addr.Address { return addr.New(p.handle.Space(), v) }

func (p *provider) Pool(size uint64) (addr.Address, error) {
	r := p.next
	p.next = request{}

	if r.adopt {
		p.blocks[r.hint] = block{size: size}
		return p.at(r.hint), nil
	}
	if r.state == 0 {
		r.state, r.prot = p.state, p.prot
	}
	base, err := p.handle.Allocate(r.hint, size, r.state, r.prot)
	if err != nil {
		return addr.Null(), err
	}
	p.blocks[base] = block{size: size, owned: true, state: r.state, prot: r.prot}
	return p.at(base), nil
}

func (p *provider) Repool(base addr.Address, oldSize, newSize uint64) (addr.Address, error) {
	k := base.Value()
	b, ok := p.blocks[k]
	if !ok {
		return addr.Null(), fmt.Errorf("virtual: no region at %s", base)
	}
	if !b.owned {
		return addr.Null(), fmt.Errorf("%w: %s", ErrNotOwned, base)
	}

	if rm, ok := p.handle.(process.Remapper); ok {
		if err := rm.Remap(k, oldSize, newSize); err == nil {
			b.size = newSize
			p.blocks[k] = b
			if newSize > oldSize && b.state.Has(process.StateCommit) {
				if err := p.zero(k+oldSize, newSize-oldSize, b.prot); err != nil {
					return addr.Null(), err
				}
			}
			return base, nil
		}
	}

	// Reserve-only blocks hold no data.
	if !b.state.Has(process.StateCommit) {
		nb, err := p.handle.Allocate(0, newSize, b.state, b.prot)
		if err != nil {
			return addr.Null(), err
		}
		p.blocks[nb] = block{size: newSize, owned: true, state: b.state, prot: b.prot}
		return p.at(nb), nil
	}

	nb, err := p.handle.Allocate(0, newSize, b.state, process.ProtReadWrite)
	if err != nil {
		return addr.Null(), err
	}
	err = p.copyPrefix(k, oldSize, nb, min(oldSize, newSize), b.prot)
	if err == nil && b.prot != process.ProtReadWrite {
		_, err = p.handle.Protect(nb, newSize, b.prot)
	}
	if err != nil {
		_ = p.handle.Free(nb, newSize, process.StateRelease)
		return addr.Null(), err
	}
	p.blocks[nb] = block{size: newSize, owned: true, state: b.state, prot: b.prot}
	return p.at(nb), nil
}

// copyPrefix copies n bytes from the block at src to dst. A source the
// block's protection keeps unreadable is opened for reading for the copy.
func (p *provider) copyPrefix(src, srcSize, dst, n uint64, prot process.Protection) error {
	data := make([]byte, n)
	err := p.withAccess(src, srcSize, prot, process.ProtReadOnly, func() error {
		return p.handle.ReadMemory(src, data)
	})
	if err != nil {
		return err
	}
	return p.handle.WriteMemory(dst, data)
}

// zero clears [address, address+size), lifting the protection for the write
// when it does not allow one.
func (p *provider) zero(address, size uint64, prot process.Protection) error {
	return p.withAccess(address, size, prot, process.ProtReadWrite, func() error {
		return p.handle.WriteMemory(address, make([]byte, size))
	})
}

// withAccess runs fn with the range set to need when its protection have
// does not already allow that access, restoring have afterwards.
func (p *provider) withAccess(address, size uint64, have, need process.Protection, fn func() error) error {
	switch {
	case need == process.ProtReadOnly && have.Readable(),
		need == process.ProtReadWrite && have.Writable():
		return fn()
	}
	if _, err := p.handle.Protect(address, size, need); err != nil {
		return err
	}
	err := fn()
	if _, rerr := p.handle.Protect(address, size, have); err == nil {
		err = rerr
	}
	return err
}

func (p *provider) Unpool(base addr.Address, size uint64) error {
	k := base.Value()
	b, ok := p.blocks[k]
	if !ok {
		return fmt.Errorf("virtual: no region at %s", base)
	}
	delete(p.blocks, k)
	if !b.owned {
		return nil
	}
	return p.handle.Free(k, size, process.StateRelease)
}

func (p *provider) ReadAt(address addr.Address, size uint64) ([]byte, error) {
	data := make([]byte, size)
	if err := p.handle.ReadMemory(address.Value(), data); err != nil {
		return nil, err
	}
	return data, nil
}

func (p *provider) WriteAt(address addr.Address, data []byte) error {
	return p.handle.WriteMemory(address.Value(), data)
}

var _ alloc.Provider = (*provider)(nil)
