package alloc

import (
	"errors"
	"fmt"

	"github.com/joshuapare/memkit/mem/addr"
	"github.com/joshuapare/memkit/mem/fault"
)

const testBase = 0x10000

var errRefused = errors.New("test provider: refused")

// testProvider hands out blocks from one flat buffer in ascending order, so
// consecutive Pool calls produce address-contiguous blocks.
type testProvider struct {
	space *addr.Space
	mem   []byte
	next  uint64
	live  map[uint64]uint64

	moveOnRepool bool   // always move on Repool
	refuse       bool   // fail every Pool/Repool
	faultAt      uint64 // ReadAt/WriteAt touching this address fault
	released     []uint64
}

func newTestProvider(capacity uint64) *testProvider {
	return &testProvider{
		space: addr.NewSpace("test", testBase, testBase+capacity-1),
		mem:   make([]byte, capacity),
		next:  testBase,
		live:  make(map[uint64]uint64),
	}
}

func (p *testProvider) Space() *addr.Space { return p.space }

func (p *testProvider) Pool(size uint64) (addr.Address, error) {
	if p.refuse {
		return addr.Null(), errRefused
	}
	if p.next+size > testBase+uint64(len(p.mem)) {
		return addr.Null(), fmt.Errorf("test provider: out of space for %d bytes", size)
	}
	base := p.next
	p.next += size
	p.live[base] = size
	clear(p.mem[base-testBase : base-testBase+size])
	return addr.New(p.space, base), nil
}

// skip leaves a gap of n bytes before the next block.
func (p *testProvider) skip(n uint64) { p.next += n }

func (p *testProvider) Repool(base addr.Address, oldSize, newSize uint64) (addr.Address, error) {
	if p.refuse {
		return addr.Null(), errRefused
	}
	k := base.Value()
	if !p.moveOnRepool && (newSize <= oldSize || k+oldSize == p.next) {
		if newSize > oldSize {
			p.next = k + newSize
		}
		p.live[k] = newSize
		return base, nil
	}
	n := min(oldSize, newSize)
	if err := p.check("copy", k, n); err != nil {
		return addr.Null(), err
	}
	nb, err := p.Pool(newSize)
	if err != nil {
		return addr.Null(), err
	}
	copy(p.slice(nb.Value(), n), p.slice(k, n))
	return nb, nil
}

func (p *testProvider) Unpool(base addr.Address, size uint64) error {
	k := base.Value()
	if _, ok := p.live[k]; !ok {
		return fmt.Errorf("test provider: unpool of unknown block 0x%x", k)
	}
	delete(p.live, k)
	clear(p.slice(k, size))
	p.released = append(p.released, k)
	return nil
}

func (p *testProvider) ReadAt(address addr.Address, size uint64) ([]byte, error) {
	if err := p.check("read", address.Value(), size); err != nil {
		return nil, err
	}
	return append([]byte(nil), p.slice(address.Value(), size)...), nil
}

func (p *testProvider) WriteAt(address addr.Address, data []byte) error {
	if err := p.check("write", address.Value(), uint64(len(data))); err != nil {
		return err
	}
	copy(p.slice(address.Value(), uint64(len(data))), data)
	return nil
}

func (p *testProvider) check(op string, v, size uint64) error {
	if p.faultAt != 0 && p.faultAt >= v && p.faultAt < v+size {
		return &fault.Error{Op: op, Addr: uintptr(v), Size: int(size), Fault: uintptr(p.faultAt)}
	}
	return nil
}

func (p *testProvider) slice(v, n uint64) []byte {
	off := v - testBase
	return p.mem[off : off+n]
}

func (p *testProvider) at(v uint64) addr.Address { return addr.New(p.space, v) }
