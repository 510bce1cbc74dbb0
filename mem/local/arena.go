package local

import (
	"errors"
	"fmt"
	"slices"
	"unsafe"

	"github.com/joshuapare/memkit/internal/buf"
	"github.com/joshuapare/memkit/mem/addr"
	"github.com/joshuapare/memkit/mem/alloc"
	"github.com/joshuapare/memkit/mem/fault"
)

// ErrArenaFull indicates the arena has no free span large enough.
var ErrArenaFull = errors.New("local: arena exhausted")

// span is a free range of arena offsets.
type span struct {
	off, size uint64
}

func (s span) end() uint64 { return s.off + s.size }

// arena carves blocks out of one backing slice. New blocks come from the
// lowest free span that fits (first fit), then from the untouched tail, so
// blocks pooled back to back are address-contiguous.
type arena struct {
	mem        []byte
	base       uint64
	top        uint64 // offsets at or above top have never been handed out
	free       []span // sorted by offset, never adjacent to each other or to top
	live       map[uint64]uint64
	zeroOnFree bool
}

func newArena(size uint64, zeroOnFree bool) (*arena, error) {
	if size == 0 {
		return nil, alloc.ErrZeroSize
	}
	if size > uint64(maxSlice) {
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, size)
	}
	mem := make([]byte, size)
	return &arena{
		mem:        mem,
		base:       uint64(uintptr(unsafe.Pointer(unsafe.SliceData(mem)))),
		live:       make(map[uint64]uint64),
		zeroOnFree: zeroOnFree,
	}, nil
}

const maxSlice = int(^uint(0) >> 1)

func (r *arena) Space() *addr.Space { return addr.Local() }

func (r *arena) at(off uint64) addr.Address { return addr.New(addr.Local(), r.base+off) }

// take reserves size bytes and returns their offset.
func (r *arena) take(size uint64) (uint64, error) {
	for i, s := range r.free {
		if s.size < size {
			continue
		}
		if s.size == size {
			r.free = slices.Delete(r.free, i, i+1)
		} else {
			r.free[i] = span{off: s.off + size, size: s.size - size}
		}
		return s.off, nil
	}
	if uint64(len(r.mem))-r.top < size {
		return 0, fmt.Errorf("%w: %d bytes requested, %d left at the top", ErrArenaFull, size, uint64(len(r.mem))-r.top)
	}
	off := r.top
	r.top += size
	return off, nil
}

// give returns [off, off+size) to the free list, merging with neighbors and
// lowering top when the span reaches it.
func (r *arena) give(off, size uint64) {
	if size == 0 {
		return
	}
	s := span{off: off, size: size}
	i, _ := slices.BinarySearchFunc(r.free, off, func(f span, off uint64) int {
		switch {
		case f.off < off:
			return -1
		case f.off > off:
			return 1
		}
		return 0
	})
	if i < len(r.free) && r.free[i].off == s.end() {
		s.size += r.free[i].size
		r.free = slices.Delete(r.free, i, i+1)
	}
	if i > 0 && r.free[i-1].end() == s.off {
		s.off = r.free[i-1].off
		s.size += r.free[i-1].size
		r.free = slices.Delete(r.free, i-1, i)
		i--
	}
	if s.end() == r.top {
		r.top = s.off
		return
	}
	r.free = slices.Insert(r.free, i, s)
}

func (r *arena) Pool(size uint64) (addr.Address, error) {
	off, err := r.take(size)
	if err != nil {
		return addr.Null(), err
	}
	clear(r.mem[off : off+size])
	r.live[off] = size
	return r.at(off), nil
}

func (r *arena) offset(base addr.Address) (uint64, error) {
	v := base.Value()
	if v < r.base || v-r.base >= uint64(len(r.mem)) {
		return 0, fmt.Errorf("local: %s is outside the arena", base)
	}
	off := v - r.base
	if _, ok := r.live[off]; !ok {
		return 0, fmt.Errorf("local: no arena block at %s", base)
	}
	return off, nil
}

func (r *arena) Repool(base addr.Address, oldSize, newSize uint64) (addr.Address, error) {
	off, err := r.offset(base)
	if err != nil {
		return addr.Null(), err
	}

	if newSize <= oldSize {
		r.give(off+newSize, oldSize-newSize)
		r.live[off] = newSize
		return base, nil
	}
	if r.growInPlace(off, oldSize, newSize-oldSize) {
		clear(r.mem[off+oldSize : off+newSize])
		r.live[off] = newSize
		return base, nil
	}

	nb, err := r.Pool(newSize)
	if err != nil {
		return addr.Null(), err
	}
	if err := fault.Copy(r.block(nb.Value()-r.base, oldSize), r.block(off, oldSize)); err != nil {
		_ = r.Unpool(nb, newSize)
		return addr.Null(), err
	}
	return nb, nil
}

// block returns the arena bytes [off, off+size), or nil when the range
// runs past the arena.
func (r *arena) block(off, size uint64) []byte {
	b, _ := buf.Slice(r.mem, off, size)
	return b
}

// growInPlace extends the block at off by extra bytes if the bytes after it
// are free.
func (r *arena) growInPlace(off, size, extra uint64) bool {
	end := off + size
	if end == r.top {
		if uint64(len(r.mem))-r.top < extra {
			return false
		}
		r.top += extra
		return true
	}
	for i, s := range r.free {
		if s.off != end {
			continue
		}
		if s.size < extra {
			return false
		}
		if s.size == extra {
			r.free = slices.Delete(r.free, i, i+1)
		} else {
			r.free[i] = span{off: s.off + extra, size: s.size - extra}
		}
		return true
	}
	return false
}

func (r *arena) Unpool(base addr.Address, size uint64) error {
	off, err := r.offset(base)
	if err != nil {
		return err
	}
	size = r.live[off]
	delete(r.live, off)
	if r.zeroOnFree {
		clear(r.block(off, size))
	}
	r.give(off, size)
	return nil
}

func (r *arena) ReadAt(address addr.Address, size uint64) ([]byte, error) {
	out := make([]byte, size)
	if err := fault.ReadAt(out, address.Pointer()); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *arena) WriteAt(address addr.Address, data []byte) error {
	return fault.WriteAt(address.Pointer(), data)
}

func (r *arena) inUse() uint64 {
	var n uint64
	for _, size := range r.live {
		n += size
	}
	return n
}
