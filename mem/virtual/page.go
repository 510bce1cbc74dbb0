package virtual

import (
	"fmt"

	"github.com/joshuapare/memkit/mem/alloc"
	"github.com/joshuapare/memkit/mem/process"
)

// Page is a region of the target process bound to a VirtualAllocator.
//
// The embedded Allocation reads and writes the region and can be aliased.
// An owned page was allocated by the VirtualAllocator and Close releases it.
// A wrapped page (from PageOf or Enumerate) belongs to the target process
// and Close only detaches it.
type Page struct {
	*alloc.Allocation

	va     *VirtualAllocator
	owned  bool
	region process.Region
	fresh  bool
}

// Owned reports whether closing the page releases the region.
func (p *Page) Owned() bool { return p.owned }

// Region returns the cached region descriptor. It may be stale; see Fresh.
func (p *Page) Region() process.Region { return p.region }

// Fresh reports whether the cached descriptor reflects the last query and
// nothing has changed the region since.
func (p *Page) Fresh() bool { return p.fresh }

// Query refreshes and returns the region descriptor.
func (p *Page) Query() (process.Region, error) { return p.va.Query(p) }

// Protect changes the page protection and returns the previous one.
func (p *Page) Protect(prot process.Protection) (process.Protection, error) {
	return p.va.Protect(p, prot)
}

// Lock pins the page in physical memory.
func (p *Page) Lock() error { return p.va.Lock(p) }

// Unlock reverses Lock.
func (p *Page) Unlock() error { return p.va.Unlock(p) }

// Reallocate resizes an owned page. Every alias follows the region if it moves.
func (p *Page) Reallocate(size uint64) error {
	if !p.owned {
		return ErrNotOwned
	}
	p.fresh = false
	return p.Allocation.Reallocate(size)
}

// Close releases an owned page or detaches a wrapped one. Closing a page that
// is no longer bound is a no-op.
func (p *Page) Close() error {
	if !p.va.HasPage(p) {
		return nil
	}
	return p.va.Release(p)
}

func (p *Page) String() string {
	kind := "wrapped"
	if p.owned {
		kind = "owned"
	}
	return fmt.Sprintf("page(%s %s)", kind, p.Allocation)
}
