// Package virtual manages regions of a process's virtual address space as
// memkit allocations.
//
// A VirtualAllocator sits on a process.Handle. Allocate asks the OS for a new
// region and returns an owned Page; PageOf and Enumerate wrap regions that
// already exist without taking ownership. Every page is an alloc.Allocation,
// so reads, writes, aliases and split I/O work as for any other allocator.
//
//	h, _ := process.Self()
//	va := virtual.New(h)
//	defer va.Close()
//
//	page, err := va.Allocate(4096)
//	if err != nil {
//	    return err
//	}
//	_ = page.Write(0, []byte("hello"))
//	_, _ = page.Protect(process.ProtReadOnly)
//
// Page descriptors are cached. Query refreshes them; Protect and Reallocate
// mark them stale.
//
// A VirtualAllocator is not safe for concurrent use.
package virtual

import (
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/hashicorp/go-multierror"

	"github.com/joshuapare/memkit/internal/logger"
	"github.com/joshuapare/memkit/mem/addr"
	"github.com/joshuapare/memkit/mem/alloc"
	"github.com/joshuapare/memkit/mem/process"
)

// VirtualAllocator allocates, wraps and manages regions of one process.
type VirtualAllocator struct {
	*alloc.Allocator

	handle   process.Handle
	provider *provider
	log      *slog.Logger

	pages map[*alloc.Allocation]*Page
}

// New creates a VirtualAllocator over h. The allocator does not close h.
func New(h process.Handle, opts ...Option) *VirtualAllocator {
	o := options{state: DefaultAllocation, prot: DefaultProtection}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log != nil {
		o.alloc = append([]alloc.Option{alloc.WithLogger(o.log)}, o.alloc...)
	}

	p := newProvider(h, o.state, o.prot)
	return &VirtualAllocator{
		Allocator: alloc.New(p, o.alloc...),
		handle:    h,
		provider:  p,
		log:       o.log,
		pages:     make(map[*alloc.Allocation]*Page),
	}
}

func (va *VirtualAllocator) logger() *slog.Logger {
	if va.log != nil {
		return va.log
	}
	return logger.L
}

// Handle returns the process handle.
func (va *VirtualAllocator) Handle() process.Handle { return va.handle }

// DefaultAllocation returns the state Allocate requests.
func (va *VirtualAllocator) DefaultAllocation() process.State { return va.provider.state }

// SetDefaultAllocation sets the state Allocate requests.
func (va *VirtualAllocator) SetDefaultAllocation(state process.State) { va.provider.state = state }

// DefaultProtection returns the protection Allocate requests.
func (va *VirtualAllocator) DefaultProtection() process.Protection { return va.provider.prot }

// SetDefaultProtection sets the protection Allocate requests.
func (va *VirtualAllocator) SetDefaultProtection(prot process.Protection) { va.provider.prot = prot }

// Allocate creates an owned region of size bytes with the default flags.
func (va *VirtualAllocator) Allocate(size uint64) (*Page, error) {
	return va.AllocateAt(0, size, va.provider.state, va.provider.prot)
}

// AllocateWith creates an owned region of size bytes with the given flags.
func (va *VirtualAllocator) AllocateWith(size uint64, state process.State, prot process.Protection) (*Page, error) {
	return va.AllocateAt(0, size, state, prot)
}

// AllocateAt creates an owned region at address, or wherever the OS chooses
// if address is 0.
func (va *VirtualAllocator) AllocateAt(address, size uint64, state process.State, prot process.Protection) (*Page, error) {
	if size == 0 {
		return nil, alloc.ErrZeroSize
	}
	va.provider.next = request{hint: address, state: state, prot: prot}
	base, err := va.Pool(size)
	va.provider.next = request{}
	if err != nil {
		return nil, err
	}

	p, err := va.bind(base, true)
	if err != nil {
		return nil, err
	}
	va.logger().Debug("allocate page", "base", base, "size", size, "state", state, "protect", prot)
	return p, nil
}

func (va *VirtualAllocator) bind(base addr.Address, owned bool) (*Page, error) {
	h := va.Null()
	if err := va.Bind(h, base); err != nil {
		return nil, errors.Join(err, va.Unpool(base))
	}
	p := &Page{Allocation: h, va: va, owned: owned}
	va.pages[h] = p
	return p, nil
}

// PageOf returns the page containing address. If no page does, the region of
// the target process around address is wrapped as a new page that the
// allocator does not own. A wrapped region never overlaps an owned page.
func (va *VirtualAllocator) PageOf(address addr.Address) (*Page, error) {
	if address.Space() != va.Space() {
		return nil, fmt.Errorf("virtual: %s is not in %s: %w", address, va.Space().Name(), addr.ErrSpaceMismatch)
	}
	if p, err := va.pageContaining(address.Value()); p != nil || err != nil {
		return p, err
	}

	r, err := va.handle.Query(address.Value())
	if err != nil {
		return nil, err
	}
	if r.State == process.StateFree {
		return nil, fmt.Errorf("%w: %s", ErrFreeRegion, address)
	}
	r, ok := va.clipPooled(r, address.Value())
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrFreeRegion, address)
	}
	return va.adopt(r)
}

// adopt wraps r as an unowned page.
func (va *VirtualAllocator) adopt(r process.Region) (*Page, error) {
	va.provider.next = request{hint: r.Base, adopt: true}
	base, err := va.Pool(r.Size)
	va.provider.next = request{}
	if err != nil {
		return nil, err
	}
	p, err := va.bind(base, false)
	if err != nil {
		return nil, err
	}
	p.region = r
	va.logger().Debug("wrap page", "base", base, "size", r.Size, "state", r.State, "protect", r.Protect)
	return p, nil
}

// clipPooled trims r to the stretch around address that no pooled block
// covers. The OS merges neighbouring mappings, so a region reported for a
// foreign address can run into pages this allocator already tracks.
func (va *VirtualAllocator) clipPooled(r process.Region, address uint64) (process.Region, bool) {
	start, end := r.Base, r.End()
	for base, b := range va.provider.blocks {
		bend := base + va.span(b.size)
		switch {
		case bend <= address && bend > start:
			start = bend
		case base > address && base < end:
			end = base
		}
	}
	if start >= end {
		return process.Region{}, false
	}
	return r.Clip(start, end-start)
}

// span rounds size up to whole pages.
func (va *VirtualAllocator) span(size uint64) uint64 {
	ps := va.handle.PageSize()
	return (size + ps - 1) &^ (ps - 1)
}

// pageContaining returns the page whose block contains address. A block that
// only user aliases still hold gets a fresh page bound to it.
func (va *VirtualAllocator) pageContaining(address uint64) (*Page, error) {
	h := va.Find(addr.New(va.Space(), address))
	if h == nil {
		return nil, nil
	}
	base, err := va.AddressOf(h)
	if err != nil {
		return nil, err
	}
	if p := va.pageAt(base.Value()); p != nil {
		return p, nil
	}
	return va.bind(base, va.provider.blocks[base.Value()].owned)
}

func (va *VirtualAllocator) pageAt(base uint64) *Page {
	for h, p := range va.pages {
		if h.IsBound() && h.Start().Value() == base {
			return p
		}
	}
	return nil
}

// HasPage reports whether p is a live page of this allocator.
func (va *VirtualAllocator) HasPage(p *Page) bool {
	if p == nil || p.va != va || p.Allocation == nil {
		return false
	}
	return va.pages[p.Allocation] == p && va.IsBound(p.Allocation)
}

func (va *VirtualAllocator) checkPage(p *Page) error {
	if !va.HasPage(p) {
		return ErrNoPage
	}
	return nil
}

// Protect changes the protection of the page and returns the previous one.
func (va *VirtualAllocator) Protect(p *Page, prot process.Protection) (process.Protection, error) {
	if err := va.checkPage(p); err != nil {
		return 0, err
	}
	old, err := va.handle.Protect(p.Start().Value(), p.Size(), prot)
	if err != nil {
		return 0, err
	}
	p.fresh = false
	if b, ok := va.provider.blocks[p.Start().Value()]; ok && b.owned {
		b.prot = prot
		va.provider.blocks[p.Start().Value()] = b
	}
	return old, nil
}

// Lock pins the page in physical memory.
func (va *VirtualAllocator) Lock(p *Page) error {
	if err := va.checkPage(p); err != nil {
		return err
	}
	return va.handle.Lock(p.Start().Value(), p.Size())
}

// Unlock reverses Lock.
func (va *VirtualAllocator) Unlock(p *Page) error {
	if err := va.checkPage(p); err != nil {
		return err
	}
	return va.handle.Unlock(p.Start().Value(), p.Size())
}

// Query refreshes the page's region descriptor and returns it. The
// descriptor is limited to the page's own range.
func (va *VirtualAllocator) Query(p *Page) (process.Region, error) {
	if err := va.checkPage(p); err != nil {
		return process.Region{}, err
	}
	base := p.Start().Value()
	r, err := va.handle.Query(base)
	if err != nil {
		return process.Region{}, err
	}
	if c, ok := r.Clip(base, va.span(p.Size())); ok {
		r = c
	}
	p.region = r
	p.fresh = true
	return r, nil
}

// QueryAddress fills buf with the descriptors of consecutive regions starting
// with the one containing address, free gaps included. It returns the number
// of descriptors written.
func (va *VirtualAllocator) QueryAddress(address addr.Address, buf []process.Region) (int, error) {
	v := address.Value()
	for n := range buf {
		r, err := va.handle.Query(v)
		if errors.Is(err, process.ErrNotMapped) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		buf[n] = r
		if r.End() <= v {
			return n + 1, nil
		}
		v = r.End()
	}
	return len(buf), nil
}

// Enumerate walks the target process's address space and returns a page for
// every mapped region. Owned pages are refreshed; regions not covered by one
// are wrapped, reusing earlier wrappers with the same range.
func (va *VirtualAllocator) Enumerate() ([]*Page, error) {
	var result *multierror.Error
	err := process.Walk(va.handle, func(r process.Region) bool {
		for _, piece := range va.uncovered(r) {
			if err := va.refreshOrAdopt(piece); err != nil {
				result = multierror.Append(result, err)
			}
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	for _, p := range va.Pages() {
		if p.owned {
			if _, err := va.Query(p); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return va.Pages(), result.ErrorOrNil()
}

// uncovered returns the parts of r outside every owned page.
func (va *VirtualAllocator) uncovered(r process.Region) []process.Region {
	var owned [][2]uint64
	for base, b := range va.provider.blocks {
		if b.owned {
			owned = append(owned, [2]uint64{base, base + va.span(b.size)})
		}
	}
	slices.SortFunc(owned, func(x, y [2]uint64) int { return cmp.Compare(x[0], y[0]) })

	var pieces []process.Region
	start := r.Base
	for _, o := range owned {
		if o[1] <= start || o[0] >= r.End() {
			continue
		}
		if o[0] > start {
			if c, ok := r.Clip(start, o[0]-start); ok {
				pieces = append(pieces, c)
			}
		}
		start = max(start, o[1])
	}
	if start < r.End() {
		if c, ok := r.Clip(start, r.End()-start); ok {
			pieces = append(pieces, c)
		}
	}
	return pieces
}

func (va *VirtualAllocator) refreshOrAdopt(r process.Region) error {
	if p := va.pageAt(r.Base); p != nil && p.Size() == r.Size {
		p.region = r
		p.fresh = true
		return nil
	}
	// The region changed shape since it was wrapped; drop stale wrappers.
	for _, p := range va.Pages() {
		if p.owned {
			continue
		}
		if _, overlaps := r.Clip(p.Start().Value(), p.Size()); overlaps {
			if err := va.Release(p); err != nil {
				return err
			}
		}
	}
	p, err := va.adopt(r)
	if err != nil {
		return err
	}
	p.fresh = true
	return nil
}

// Pages returns the live pages in ascending address order.
func (va *VirtualAllocator) Pages() []*Page {
	out := make([]*Page, 0, len(va.pages))
	for _, p := range va.pages {
		if va.HasPage(p) {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(x, y *Page) int { return x.Start().Compare(y.Start()) })
	return out
}

// Release frees an owned page's region, unbinding every alias of it, or
// detaches a wrapped page leaving the target's memory untouched.
func (va *VirtualAllocator) Release(p *Page) error {
	if err := va.checkPage(p); err != nil {
		return err
	}
	delete(va.pages, p.Allocation)
	p.fresh = false

	if p.owned {
		va.logger().Debug("release page", "base", p.Start(), "size", p.Size())
		return va.Deallocate(p.Allocation)
	}
	va.logger().Debug("detach page", "base", p.Start(), "size", p.Size())
	return va.Unbind(p.Allocation)
}

// Close releases every owned page, detaches every wrapped one and closes the
// underlying allocator. It does not close the process handle.
func (va *VirtualAllocator) Close() error {
	var result *multierror.Error
	for _, p := range va.Pages() {
		if err := va.Release(p); err != nil {
			va.logger().Warn("release during close failed", "page", p, "error", err)
			result = multierror.Append(result, err)
		}
	}
	clear(va.pages)
	if err := va.Allocator.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
