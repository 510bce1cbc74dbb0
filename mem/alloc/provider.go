package alloc

import "github.com/joshuapare/memkit/mem/addr"

// Provider supplies raw storage to an Allocator. LocalAllocator backs it with
// heap buffers and VirtualAllocator with pages of a target process.
//
// Providers do no bookkeeping beyond keeping their storage alive; binding,
// aliasing and split I/O live in the Allocator.
type Provider interface {
	// Space returns the address space the provider's storage lives in.
	Space() *addr.Space

	// Pool returns the base of size bytes of fresh, zeroed storage.
	Pool(size uint64) (addr.Address, error)

	// Repool resizes the block at base from oldSize to newSize bytes.
	//
	// Returning base means the block was resized in place. Any other address
	// is a new block holding a copy of the first min(oldSize, newSize) bytes;
	// the old block must stay readable until Unpool is called on it.
	Repool(base addr.Address, oldSize, newSize uint64) (addr.Address, error)

	// Unpool releases the block at base.
	Unpool(base addr.Address, size uint64) error

	// ReadAt copies size bytes starting at address. Inaccessible memory must be
	// reported as an error, never as a panic or signal.
	ReadAt(address addr.Address, size uint64) ([]byte, error)

	// WriteAt copies data to address under the same fault rules as ReadAt.
	WriteAt(address addr.Address, data []byte) error
}
