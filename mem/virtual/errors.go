package virtual

import "errors"

var (
	// ErrNoPage indicates a page that is not bound to this allocator.
	ErrNoPage = errors.New("virtual: page does not belong to this allocator")

	// ErrNotOwned indicates an operation that needs an owned region, such as
	// resizing, on a wrapped one.
	ErrNotOwned = errors.New("virtual: region is not owned by this allocator")

	// ErrFreeRegion indicates PageOf on an address no region covers.
	ErrFreeRegion = errors.New("virtual: address is in a free region")
)
