package alloc

import (
	"errors"
	"fmt"
	"io"

	"github.com/joshuapare/memkit/mem/addr"
)

// Allocation is a handle to a pooled block. Several handles may alias one
// block; the block is released when the last of them is unbound.
//
// A handle is valid while it is bound to a pooled block. Handles are used by
// pointer: the allocator identifies them by address.
type Allocation struct {
	allocator *Allocator
}

// NewAllocation returns an unbound handle attached to a.
func NewAllocation(a *Allocator) *Allocation {
	return &Allocation{allocator: a}
}

// Allocator returns the owning allocator, or nil.
func (h *Allocation) Allocator() *Allocator { return h.allocator }

// AllocatedFrom reports whether h belongs to a.
func (h *Allocation) AllocatedFrom(a *Allocator) bool {
	return h.allocator != nil && h.allocator == a
}

// IsBound reports whether h is bound to a pooled block.
func (h *Allocation) IsBound() bool {
	return h.allocator != nil && h.allocator.IsBound(h)
}

// IsNull reports whether h refers to nothing.
func (h *Allocation) IsNull() bool { return h == nil || !h.IsBound() }

// IsValid reports whether h can be read and written: it has an allocator, is
// bound to a non-null address, and that block is pooled with a non-zero size.
func (h *Allocation) IsValid() bool {
	if h == nil || h.allocator == nil {
		return false
	}
	base, err := h.allocator.AddressOf(h)
	if err != nil || base.IsNull() {
		return false
	}
	return h.allocator.PooledSize(base) > 0
}

func (h *Allocation) check() error {
	if h.allocator == nil {
		return ErrNoAllocator
	}
	if !h.IsValid() {
		return ErrDeadAllocation
	}
	return nil
}

// Size returns the size of the bound block, or 0.
func (h *Allocation) Size() uint64 {
	if h.allocator == nil {
		return 0
	}
	return h.allocator.PooledSize(h.Start())
}

// Start returns the tracked base of the bound block, or the null address.
func (h *Allocation) Start() addr.Address {
	if h.allocator == nil {
		return addr.Null()
	}
	base, err := h.allocator.AddressOf(h)
	if err != nil {
		return addr.Null()
	}
	return base
}

// End returns the tracked address one past the bound block, or the null address.
func (h *Allocation) End() addr.Address {
	if h.allocator == nil {
		return addr.Null()
	}
	k, ok := h.allocator.associations[h]
	if !ok {
		return addr.Null()
	}
	return h.allocator.pools[k].End()
}

// BaseAddress returns the tracked base of the bound block.
func (h *Allocation) BaseAddress() (addr.Address, error) {
	if h.allocator == nil {
		return addr.Null(), ErrNoAllocator
	}
	return h.allocator.AddressOf(h)
}

// Address issues a tracked address at offset inside the block. The address
// keeps pointing at the same offset if the block is moved by a reallocation.
// Offset Size() denotes the end of the block.
func (h *Allocation) Address(offset uint64) (addr.Address, error) {
	if err := h.check(); err != nil {
		return addr.Null(), err
	}
	k := h.allocator.associations[h]
	a, err := h.allocator.pools[k].Address(offset)
	if err != nil {
		return addr.Null(), h.rangeError(addr.New(h.allocator.space, k+min(offset, h.Size()+1)), 0)
	}
	return a, nil
}

// Offset returns address relative to the start of the block.
func (h *Allocation) Offset(address addr.Address) (uint64, error) {
	if err := h.check(); err != nil {
		return 0, err
	}
	k := h.allocator.associations[h]
	off, err := h.allocator.pools[k].Offset(address)
	if err != nil {
		return 0, h.rangeError(address, 0)
	}
	return off, nil
}

// InRange reports whether [address, address+size) lies inside the block. A
// zero size checks address alone against [Start, End).
func (h *Allocation) InRange(address addr.Address, size uint64) bool {
	if !h.IsValid() {
		return false
	}
	if size == 0 {
		size = 1
	}
	k := h.allocator.associations[h]
	return h.allocator.checkRange(k, address, size) == nil
}

func (h *Allocation) rangeError(address addr.Address, size uint64) error {
	return &RangeError{Address: address.Fixed(), Size: size, Start: h.Start().Fixed(), End: h.End().Fixed()}
}

// Allocate pools size bytes and binds h to them.
func (h *Allocation) Allocate(size uint64) error {
	if h.allocator == nil {
		return ErrNoAllocator
	}
	if h.IsValid() {
		return ErrDoubleAllocation
	}
	if size == 0 {
		return ErrZeroSize
	}

	base, err := h.allocator.Pool(size)
	if err != nil {
		return err
	}
	if err := h.allocator.Bind(h, base); err != nil {
		_ = h.allocator.Unpool(base)
		return err
	}
	return nil
}

// Reallocate resizes the bound block, or allocates one if h is not valid.
// Aliases of h follow the block.
func (h *Allocation) Reallocate(size uint64) error {
	if h.allocator == nil {
		return ErrNoAllocator
	}
	if size == 0 {
		return ErrZeroSize
	}
	if !h.IsValid() {
		return h.Allocate(size)
	}
	return h.allocator.Reallocate(h, size)
}

// Deallocate unbinds h. The block is released if h was its last handle.
func (h *Allocation) Deallocate() error {
	if h.allocator == nil {
		return ErrNoAllocator
	}
	return h.allocator.Unbind(h)
}

// Close unbinds h if it is bound. It is safe to call on any handle and is
// meant for defer.
func (h *Allocation) Close() error {
	if h == nil || h.allocator == nil || !h.allocator.IsAssociated(h) {
		return nil
	}
	return h.allocator.Unbind(h)
}

// Read returns size bytes at offset.
func (h *Allocation) Read(offset, size uint64) ([]byte, error) {
	address, err := h.Address(offset)
	if err != nil {
		return nil, err
	}
	return h.ReadAddress(address, size)
}

// ReadAll returns the whole block.
func (h *Allocation) ReadAll() ([]byte, error) {
	return h.Read(0, h.Size())
}

// ReadAddress returns size bytes at address, which must lie inside the block.
// A request running past the end continues into an address-contiguous block
// when the allocator splits.
func (h *Allocation) ReadAddress(address addr.Address, size uint64) ([]byte, error) {
	if err := h.check(); err != nil {
		return nil, err
	}
	if !h.InRange(address, 0) && !(size == 0 && address.Equal(h.End())) {
		return nil, h.rangeError(address, size)
	}
	if h.allocator.WillSplit(address, size) {
		return h.allocator.SplitRead(address, size)
	}
	return h.allocator.ReadAllocation(h, address, size)
}

// Write copies data to offset.
func (h *Allocation) Write(offset uint64, data []byte) error {
	address, err := h.Address(offset)
	if err != nil {
		return err
	}
	return h.WriteAddress(address, data)
}

// WriteAddress copies data to address, which must lie inside the block.
// A request running past the end continues into an address-contiguous block
// when the allocator splits.
func (h *Allocation) WriteAddress(address addr.Address, data []byte) error {
	if err := h.check(); err != nil {
		return err
	}
	size := uint64(len(data))
	if !h.InRange(address, 0) && !(size == 0 && address.Equal(h.End())) {
		return h.rangeError(address, size)
	}
	if h.allocator.WillSplit(address, size) {
		return h.allocator.SplitWrite(address, data)
	}
	return h.allocator.WriteAllocation(h, address, data)
}

// ReadAt implements io.ReaderAt over the block.
func (h *Allocation) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("alloc: negative offset %d", off)
	}
	size := h.Size()
	if uint64(off) >= size {
		if err := h.check(); err != nil {
			return 0, err
		}
		return 0, io.EOF
	}
	n := min(uint64(len(p)), size-uint64(off))
	b, err := h.Read(uint64(off), n)
	if err != nil {
		return 0, err
	}
	copy(p, b)
	if n < uint64(len(p)) {
		return int(n), io.EOF
	}
	return int(n), nil
}

// WriteAt implements io.WriterAt over the block. Writes past the end fail
// without writing anything.
func (h *Allocation) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("alloc: negative offset %d", off)
	}
	if end := uint64(off) + uint64(len(p)); end > h.Size() || end < uint64(off) {
		if err := h.check(); err != nil {
			return 0, err
		}
		start, _ := h.Start().Add(off)
		return 0, h.rangeError(start, uint64(len(p)))
	}
	if err := h.Write(uint64(off), p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Alias returns a new handle bound to the same block. Writes through either
// handle are visible through the other.
func (h *Allocation) Alias() (*Allocation, error) {
	if err := h.check(); err != nil {
		return nil, err
	}
	base, err := h.allocator.AddressOf(h)
	if err != nil {
		return nil, err
	}
	alias := NewAllocation(h.allocator)
	if err := h.allocator.Bind(alias, base); err != nil {
		return nil, err
	}
	return alias, nil
}

// Clone returns a new handle bound to an independent copy of the block.
func (h *Allocation) Clone() (*Allocation, error) {
	if err := h.check(); err != nil {
		return nil, err
	}
	data, err := h.ReadAll()
	if err != nil {
		return nil, err
	}
	clone, err := h.allocator.Allocate(uint64(len(data)))
	if err != nil {
		return nil, err
	}
	if err := clone.Write(0, data); err != nil {
		return nil, errors.Join(err, clone.Close())
	}
	return clone, nil
}

func (h *Allocation) String() string {
	if !h.IsBound() {
		return "allocation<unbound>"
	}
	return fmt.Sprintf("allocation[%s+%d]", h.Start(), h.Size())
}
