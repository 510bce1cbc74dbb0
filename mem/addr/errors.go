package addr

import (
	"errors"
	"fmt"
)

var (
	// ErrRange indicates address arithmetic left the owning space or pool.
	ErrRange = errors.New("addr: address out of range")

	// ErrSpaceMismatch indicates an operation on addresses from two different spaces.
	ErrSpaceMismatch = errors.New("addr: addresses belong to different spaces")
)

// RangeError describes arithmetic that produced an unrepresentable address.
type RangeError struct {
	Address Address // Operand the arithmetic started from
	Delta   int64   // Signed offset that was applied
	Bound   string  // What was left: a space or pool description
}

// Error implements the error interface.
func (e *RangeError) Error() string {
	return fmt.Sprintf("addr: %s%+d leaves %s", e.Address, e.Delta, e.Bound)
}

// Is reports whether target is ErrRange.
func (e *RangeError) Is(target error) bool { return target == ErrRange }
