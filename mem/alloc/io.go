package alloc

import (
	"errors"
	"fmt"
	"slices"

	"github.com/joshuapare/memkit/internal/buf"
	"github.com/joshuapare/memkit/mem/addr"
	"github.com/joshuapare/memkit/mem/fault"
)

func isFault(err error) bool {
	return errors.Is(err, fault.ErrAccessViolation)
}

// Read returns size bytes starting at address, crossing into adjacent blocks
// when WillSplit reports the request needs it.
func (a *Allocator) Read(address addr.Address, size uint64) ([]byte, error) {
	h := a.Find(address)
	if h == nil {
		return nil, a.notFound(address)
	}
	if a.WillSplit(address, size) {
		return a.SplitRead(address, size)
	}
	return a.ReadAllocation(h, address, size)
}

// Write copies data to address, crossing into adjacent blocks when WillSplit
// reports the request needs it.
func (a *Allocator) Write(address addr.Address, data []byte) error {
	h := a.Find(address)
	if h == nil {
		return a.notFound(address)
	}
	if a.WillSplit(address, uint64(len(data))) {
		return a.SplitWrite(address, data)
	}
	return a.WriteAllocation(h, address, data)
}

// notFound explains why Find returned nil for address: the block holding it
// has no handle left, or nothing is pooled there.
func (a *Allocator) notFound(address addr.Address) error {
	if k, ok := a.key(address); ok {
		for base, size := range a.pooled {
			if k >= base && k-base < size {
				return fmt.Errorf("%w: block %s holding %s has no handle", ErrUnbound, a.at(base), address)
			}
		}
	}
	return fmt.Errorf("%w: no allocation contains %s", ErrUnpooled, address)
}

// ReadAllocation reads size bytes at address, which must lie entirely inside h.
func (a *Allocator) ReadAllocation(h *Allocation, address addr.Address, size uint64) ([]byte, error) {
	k, err := a.live(h)
	if err != nil {
		return nil, err
	}
	if err := a.checkRange(k, address, size); err != nil {
		return nil, err
	}
	if size == 0 {
		return []byte{}, nil
	}
	return a.readRaw(h, address.Fixed(), size)
}

// WriteAllocation writes data at address, which must lie entirely inside h.
func (a *Allocator) WriteAllocation(h *Allocation, address addr.Address, data []byte) error {
	k, err := a.live(h)
	if err != nil {
		return err
	}
	if err := a.checkRange(k, address, uint64(len(data))); err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return a.writeRaw(h, address.Fixed(), data)
}

// live returns the base h is bound to, or an error if h cannot be used for I/O.
func (a *Allocator) live(h *Allocation) (uint64, error) {
	if err := a.checkHandle(h); err != nil {
		return 0, err
	}
	k, ok := a.associations[h]
	if !ok {
		return 0, ErrDeadAllocation
	}
	if _, ok := a.pooled[k]; !ok {
		return 0, ErrDeadAllocation
	}
	return k, nil
}

// checkRange verifies [address, address+size) lies in the block at k. A
// zero size only requires address to be inside the block or at its end.
func (a *Allocator) checkRange(k uint64, address addr.Address, size uint64) error {
	blockSize := a.pooled[k]
	v := address.Value()
	ok := address.Space() == a.space && v >= k
	if ok {
		if size == 0 {
			ok = v-k <= blockSize
		} else {
			_, err := buf.CheckRange(k, blockSize, v, size)
			ok = err == nil
		}
	}
	if ok {
		return nil
	}
	return &RangeError{
		Address: address.Fixed(),
		Size:    size,
		Start:   a.at(k),
		End:     a.at(k + blockSize),
	}
}

func (a *Allocator) readRaw(h *Allocation, address addr.Address, size uint64) ([]byte, error) {
	b, err := a.provider.ReadAt(address, size)
	if err != nil {
		return nil, &FaultError{Op: "read", Address: address, Size: size, Allocation: h, Err: err}
	}
	return b, nil
}

func (a *Allocator) writeRaw(h *Allocation, address addr.Address, data []byte) error {
	if err := a.provider.WriteAt(address, data); err != nil {
		return &FaultError{Op: "write", Address: address, Size: uint64(len(data)), Allocation: h, Err: err}
	}
	return nil
}

// WillSplit reports whether [address, address+size) runs past the end of the
// bound block containing address into a bound block that starts exactly
// where it ends. Always false while splitting is disabled.
func (a *Allocator) WillSplit(address addr.Address, size uint64) bool {
	if !a.splitting {
		return false
	}
	end, ok := a.crosses(address, size)
	if !ok {
		return false
	}

	// First bound block above address.
	i, found := slices.BinarySearch(a.bound, address.Value())
	if found {
		i++
	}
	return i < len(a.bound) && a.bound[i] == end
}

// crosses reports whether a request at address runs past the end of the
// bound block containing it, and returns that block's end.
func (a *Allocator) crosses(address addr.Address, size uint64) (uint64, bool) {
	if size == 0 {
		return 0, false
	}
	h := a.Find(address)
	if h == nil {
		return 0, false
	}
	base := a.associations[h]
	end := base + a.pooled[base]
	if last, ok := buf.AddOverflowSafe(address.Value(), size); ok && last <= end {
		return end, false
	}
	return end, true
}

// segment is one block's share of a split request.
type segment struct {
	h    *Allocation
	at   uint64
	size uint64
}

// plan walks bound blocks in ascending order from the one containing start,
// as long as each block ends where the next begins. It returns the segments
// covering the request and how many bytes they satisfy.
func (a *Allocator) plan(start, size uint64) ([]segment, uint64) {
	i, found := slices.BinarySearch(a.bound, start)
	if !found {
		i--
	}

	var segs []segment
	cur, remaining := start, size
	for ; i >= 0 && i < len(a.bound) && remaining > 0; i++ {
		base := a.bound[i]
		end := base + a.pooled[base]
		if cur < base || cur >= end {
			break
		}
		n := buf.Min(remaining, end-cur)
		segs = append(segs, segment{h: a.bindings[base][0], at: cur, size: n})
		cur += n
		remaining -= n
	}
	return segs, size - remaining
}

// SplitRead reads size bytes starting at address across address-contiguous
// blocks. A request that fits in one block, or any request while splitting
// is disabled, is served as a plain Read. Fails with *SplitError, without
// reading anything, if the contiguous blocks end before size bytes.
func (a *Allocator) SplitRead(address addr.Address, size uint64) ([]byte, error) {
	if _, ok := a.crosses(address, size); !ok || !a.splitting {
		return a.Read(address, size)
	}

	segs, got := a.plan(address.Value(), size)
	if got < size {
		return nil, &SplitError{Address: address.Fixed(), Size: size, Satisfied: got}
	}

	out := make([]byte, 0, size)
	for _, s := range segs {
		b, err := a.readRaw(s.h, a.at(s.at), s.size)
		if err != nil {
			return nil, err
		}
		out = append(out, b...)
	}
	a.stats.SplitReads++
	return out, nil
}

// SplitWrite writes data starting at address across address-contiguous
// blocks. A request that fits in one block, or any request while splitting
// is disabled, is served as a plain Write. Fails with *SplitError, without
// writing anything, if the contiguous blocks end before len(data) bytes.
func (a *Allocator) SplitWrite(address addr.Address, data []byte) error {
	size := uint64(len(data))
	if _, ok := a.crosses(address, size); !ok || !a.splitting {
		return a.Write(address, data)
	}

	segs, got := a.plan(address.Value(), size)
	if got < size {
		return &SplitError{Address: address.Fixed(), Size: size, Satisfied: got}
	}

	var off uint64
	for _, s := range segs {
		if err := a.writeRaw(s.h, a.at(s.at), data[off:off+s.size]); err != nil {
			return err
		}
		off += s.size
	}
	a.stats.SplitWrites++
	return nil
}
