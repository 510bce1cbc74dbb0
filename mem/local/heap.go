package local

import (
	"errors"
	"fmt"
	"math"
	"unsafe"

	"github.com/bytedance/gopkg/lang/mcache"

	"github.com/joshuapare/memkit/mem/addr"
	"github.com/joshuapare/memkit/mem/fault"
)

// ErrTooLarge indicates a request that cannot be represented as a Go slice.
var ErrTooLarge = errors.New("local: size exceeds addressable memory")

// heap is the alloc.Provider behind Allocator. Every block is a Go byte slice
// kept reachable through blocks until it is unpooled.
type heap struct {
	blocks     map[uint64][]byte
	zeroOnFree bool
	cache      bool
}

func newHeap(zeroOnFree, cache bool) *heap {
	return &heap{blocks: make(map[uint64][]byte), zeroOnFree: zeroOnFree, cache: cache}
}

func (h *heap) Space() *addr.Space { return addr.Local() }

func (h *heap) get(size uint64) ([]byte, error) {
	if size > math.MaxInt {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, size)
	}
	if h.cache {
		// Cached buffers come back dirty.
		b := mcache.Malloc(int(size))
		clear(b)
		return b, nil
	}
	return make([]byte, size), nil
}

func (h *heap) put(b []byte) {
	if h.cache {
		mcache.Free(b)
	}
}

func (h *heap) Pool(size uint64) (addr.Address, error) {
	b, err := h.get(size)
	if err != nil {
		return addr.Null(), err
	}
	k := uint64(uintptr(unsafe.Pointer(unsafe.SliceData(b))))
	h.blocks[k] = b
	return addr.New(addr.Local(), k), nil
}

func (h *heap) Repool(base addr.Address, oldSize, newSize uint64) (addr.Address, error) {
	k := base.Value()
	b, ok := h.blocks[k]
	if !ok {
		return addr.Null(), fmt.Errorf("local: repool of unknown block %s", base)
	}

	if newSize <= uint64(cap(b)) {
		grown := b[:newSize]
		if newSize > oldSize {
			clear(grown[oldSize:])
		}
		h.blocks[k] = grown
		return base, nil
	}

	nb, err := h.get(newSize)
	if err != nil {
		return addr.Null(), err
	}
	n := min(oldSize, newSize)
	if err := fault.Copy(nb[:n], b[:n]); err != nil {
		h.put(nb)
		return addr.Null(), err
	}
	nk := uint64(uintptr(unsafe.Pointer(unsafe.SliceData(nb))))
	h.blocks[nk] = nb
	return addr.New(addr.Local(), nk), nil
}

func (h *heap) Unpool(base addr.Address, size uint64) error {
	k := base.Value()
	b, ok := h.blocks[k]
	if !ok {
		return fmt.Errorf("local: unpool of unknown block %s", base)
	}
	delete(h.blocks, k)
	if h.zeroOnFree {
		if err := fault.Zero(b[:min(size, uint64(len(b)))]); err != nil {
			return err
		}
	}
	h.put(b)
	return nil
}

func (h *heap) ReadAt(address addr.Address, size uint64) ([]byte, error) {
	out := make([]byte, size)
	if err := fault.ReadAt(out, address.Pointer()); err != nil {
		return nil, err
	}
	return out, nil
}

func (h *heap) WriteAt(address addr.Address, data []byte) error {
	return fault.WriteAt(address.Pointer(), data)
}

func (h *heap) inUse() uint64 {
	var n uint64
	for _, b := range h.blocks {
		n += uint64(len(b))
	}
	return n
}
