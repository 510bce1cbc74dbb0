// Package buf contains overflow-checked arithmetic for address ranges and
// bounded slicing of backing buffers.
package buf

import (
	"fmt"
	"math"
)

// AddOverflowSafe adds a and b, returning ok = false when the result would overflow uint64.
func AddOverflowSafe(a, b uint64) (uint64, bool) {
	if a > math.MaxUint64-b {
		return 0, false
	}
	return a + b, true
}

// Offset applies a signed delta to base, returning ok = false on wraparound
// in either direction.
func Offset(base uint64, delta int64) (uint64, bool) {
	if delta >= 0 {
		return AddOverflowSafe(base, uint64(delta))
	}
	// -MinInt64 is not representable; negate through uint64.
	mag := uint64(-(delta + 1)) + 1
	if mag > base {
		return 0, false
	}
	return base - mag, true
}

// Min returns the smaller of a and b.
func Min(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// CheckRange validates that [start, start+size) lies inside [base, base+limit).
// A zero size is rejected. Returns the exclusive end of the range.
//
//	end, err := buf.CheckRange(blockBase, blockSize, addr, n)
//	if err != nil {
//	    return fmt.Errorf("read: %w", err)
//	}
func CheckRange(base, limit, start, size uint64) (uint64, error) {
	if size == 0 {
		return 0, fmt.Errorf("empty range at 0x%x", start)
	}
	if start < base {
		return 0, fmt.Errorf("bounds: start=0x%x < base=0x%x", start, base)
	}
	end, ok := AddOverflowSafe(start, size)
	if !ok {
		return 0, fmt.Errorf("overflow: start=0x%x + size=%d", start, size)
	}
	blockEnd, ok := AddOverflowSafe(base, limit)
	if !ok {
		return 0, fmt.Errorf("overflow: base=0x%x + limit=%d", base, limit)
	}
	if end > blockEnd {
		return 0, fmt.Errorf("bounds: end=0x%x > block end=0x%x", end, blockEnd)
	}
	return end, nil
}

// Slice returns the sub-slice [off:off+n] if it fits within len(b).
func Slice(b []byte, off, n uint64) ([]byte, bool) {
	if off > uint64(len(b)) {
		return nil, false
	}
	end, ok := AddOverflowSafe(off, n)
	if !ok || end > uint64(len(b)) {
		return nil, false
	}
	return b[off:end], true
}

// Has reports whether b[off:off+n] is within bounds.
func Has(b []byte, off, n uint64) bool {
	_, ok := Slice(b, off, n)
	return ok
}
