package addr

import "fmt"

// Pool tracks one contiguous block [base, base+size) and issues addresses
// inside it. Moving the pool re-labels every address it issued in O(1).
type Pool struct {
	space *Space
	base  uint64
	size  uint64
}

// NewPool creates a pool for the block starting at base.
func NewPool(base Address, size uint64) *Pool {
	s := base.Space()
	if s == nil {
		s = local
	}
	return &Pool{space: s, base: base.Value(), size: size}
}

// Space returns the space the pool's block lives in.
func (p *Pool) Space() *Space { return p.space }

// Size returns the block size in bytes.
func (p *Pool) Size() uint64 { return p.size }

// Base returns a tracked address for the start of the block.
func (p *Pool) Base() Address { return Address{space: p.space, pool: p, off: 0} }

// End returns a tracked address one past the end of the block.
func (p *Pool) End() Address { return Address{space: p.space, pool: p, off: p.size} }

// Address issues a tracked address at offset. Offsets up to and including
// Size are valid; Size itself denotes the end of the block.
func (p *Pool) Address(offset uint64) (Address, error) {
	if offset > p.size {
		return Address{}, &RangeError{Address: p.Base().Fixed(), Delta: int64(offset), Bound: p.String()}
	}
	return Address{space: p.space, pool: p, off: offset}, nil
}

// Contains reports whether a lies inside [base, base+size).
func (p *Pool) Contains(a Address) bool {
	if a.Space() != p.space {
		return false
	}
	v := a.Value()
	return v >= p.base && v-p.base < p.size
}

// Offset returns a's distance from the base. The end of the block is accepted.
func (p *Pool) Offset(a Address) (uint64, error) {
	if a.Space() != p.space {
		return 0, fmt.Errorf("%w: %s is not in %s", ErrSpaceMismatch, a, p.space.name)
	}
	v := a.Value()
	if v < p.base || v-p.base > p.size {
		return 0, fmt.Errorf("%w: %s is outside %s", ErrRange, a, p)
	}
	return v - p.base, nil
}

// Move re-points the block to newBase with newSize. Addresses issued earlier
// resolve against the new base from now on.
func (p *Pool) Move(newBase Address, newSize uint64) {
	if s := newBase.Space(); s != nil {
		p.space = s
	}
	p.base = newBase.Value()
	p.size = newSize
}

// Resize changes the block size in place.
func (p *Pool) Resize(newSize uint64) { p.size = newSize }

// Split cuts the block at offset. p keeps [base, base+offset) and the returned
// pool covers the rest. Addresses p already issued past offset still resolve
// to the same location but keep following p.
func (p *Pool) Split(offset uint64) (*Pool, error) {
	if offset == 0 || offset >= p.size {
		return nil, fmt.Errorf("%w: split at %d of %s", ErrRange, offset, p)
	}
	tail := &Pool{space: p.space, base: p.base + offset, size: p.size - offset}
	p.size = offset
	return tail, nil
}

func (p *Pool) String() string {
	return fmt.Sprintf("pool[0x%x+%d]", p.base, p.size)
}
