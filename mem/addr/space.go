package addr

import "fmt"

// Space identifies an addressable space and bounds the values representable in it.
type Space struct {
	name  string
	base  uint64
	limit uint64 // inclusive
}

// NewSpace creates a space covering [base, limit].
func NewSpace(name string, base, limit uint64) *Space {
	if limit < base {
		base, limit = limit, base
	}
	return &Space{name: name, base: base, limit: limit}
}

// local is the space of the current process. It lives for the lifetime of the
// program and is the only package-level space.
var local = NewSpace("local", 0, uint64(^uintptr(0)))

// Local returns the space of the current process.
func Local() *Space { return local }

// Name returns the space's name.
func (s *Space) Name() string { return s.name }

// Base returns the lowest representable address value.
func (s *Space) Base() uint64 { return s.base }

// Limit returns the highest representable address value.
func (s *Space) Limit() uint64 { return s.limit }

// Contains reports whether v is representable in the space.
func (s *Space) Contains(v uint64) bool { return v >= s.base && v <= s.limit }

func (s *Space) String() string {
	return fmt.Sprintf("%s[0x%x-0x%x]", s.name, s.base, s.limit)
}
