package addr

import (
	"cmp"
	"fmt"
	"math"

	"github.com/joshuapare/memkit/internal/buf"
)

// Address is a location inside a Space. The zero value is the null address.
//
// An address issued by a Pool is stored as an offset from the pool's base
// and follows the pool when it moves. Other addresses are fixed.
type Address struct {
	space *Space
	pool  *Pool
	off   uint64 // absolute value, or offset from pool.base when pool != nil
}

// New returns a fixed address in space. A nil space means the local space.
func New(space *Space, value uint64) Address {
	if space == nil {
		space = local
	}
	return Address{space: space, off: value}
}

// FromUintptr returns a fixed address in the local space.
func FromUintptr(p uintptr) Address { return New(local, uint64(p)) }

// Null returns the null address.
func Null() Address { return Address{} }

// IsNull reports whether the address resolves to zero.
func (a Address) IsNull() bool { return a.Value() == 0 }

// Space returns the space the address lives in, or nil for the null address.
func (a Address) Space() *Space {
	if a.pool != nil {
		return a.pool.space
	}
	return a.space
}

// Value resolves the address to its current numeric location.
func (a Address) Value() uint64 {
	if a.pool != nil {
		return a.pool.base + a.off
	}
	return a.off
}

// Pointer returns Value as a uintptr.
func (a Address) Pointer() uintptr { return uintptr(a.Value()) }

// Label returns the address relative to the base of its space.
func (a Address) Label() uint64 {
	s := a.Space()
	if s == nil {
		return a.Value()
	}
	return a.Value() - s.base
}

// Tracked reports whether the address follows a pool.
func (a Address) Tracked() bool { return a.pool != nil }

// Fixed returns a snapshot of the address that no longer follows its pool.
func (a Address) Fixed() Address {
	if a.pool == nil {
		return a
	}
	return Address{space: a.pool.space, off: a.Value()}
}

// Add offsets the address by delta bytes. The result stays tracked by the
// same pool as long as it does not fall below the pool's base.
func (a Address) Add(delta int64) (Address, error) {
	s := a.Space()
	if s == nil {
		s = local
	}
	v, ok := buf.Offset(a.Value(), delta)
	if !ok || !s.Contains(v) {
		return Address{}, &RangeError{Address: a, Delta: delta, Bound: s.String()}
	}
	if a.pool != nil {
		if off, ok := buf.Offset(a.off, delta); ok {
			return Address{space: s, pool: a.pool, off: off}, nil
		}
	}
	return Address{space: s, off: v}, nil
}

// Sub offsets the address by -n bytes.
func (a Address) Sub(n uint64) (Address, error) {
	if n > math.MaxInt64 {
		return Address{}, &RangeError{Address: a, Delta: math.MinInt64, Bound: "int64 offsets"}
	}
	return a.Add(-int64(n))
}

// Diff returns a - b in bytes.
func (a Address) Diff(b Address) (int64, error) {
	if a.Space() != b.Space() {
		return 0, fmt.Errorf("%w: %s and %s", ErrSpaceMismatch, a, b)
	}
	av, bv := a.Value(), b.Value()
	if av >= bv {
		d := av - bv
		if d > math.MaxInt64 {
			return 0, fmt.Errorf("%w: distance %s-%s overflows", ErrRange, a, b)
		}
		return int64(d), nil
	}
	d := bv - av
	if d > 1<<63 {
		return 0, fmt.Errorf("%w: distance %s-%s overflows", ErrRange, a, b)
	}
	return -int64(d - 1) - 1, nil
}

// Equal reports whether a and b denote the same location in the same space.
func (a Address) Equal(b Address) bool {
	return a.Space() == b.Space() && a.Value() == b.Value()
}

// Compare orders addresses by space name, then by value.
func (a Address) Compare(b Address) int {
	as, bs := a.Space(), b.Space()
	if as != bs {
		if c := cmp.Compare(spaceName(as), spaceName(bs)); c != 0 {
			return c
		}
	}
	return cmp.Compare(a.Value(), b.Value())
}

// Less reports whether a orders before b.
func (a Address) Less(b Address) bool { return a.Compare(b) < 0 }

func (a Address) String() string {
	if a.Space() == nil && a.off == 0 {
		return "<null>"
	}
	return fmt.Sprintf("0x%x", a.Value())
}

func spaceName(s *Space) string {
	if s == nil {
		return ""
	}
	return s.name
}
