package alloc

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/hashicorp/go-multierror"

	"github.com/joshuapare/memkit/internal/buf"
	"github.com/joshuapare/memkit/internal/logger"
	"github.com/joshuapare/memkit/mem/addr"
)

// Allocator tracks the blocks pooled from a Provider and the handles bound to
// them. It is not safe for concurrent use.
type Allocator struct {
	provider Provider
	space    *addr.Space
	log      *slog.Logger
	logAlloc bool

	splitting bool
	closed    bool

	// pooled maps a block base to its size.
	pooled map[uint64]uint64

	// pools holds the address pool of every pooled block, keyed by base.
	pools map[uint64]*addr.Pool

	// bindings maps a block base to the handles bound to it, in bind order.
	bindings map[uint64][]*Allocation

	// associations maps a handle to the base it is bound to.
	associations map[*Allocation]uint64

	// bound holds the keys of bindings in ascending order.
	bound []uint64

	stats Stats
}

// Stats holds allocator counters.
type Stats struct {
	PoolCalls     int    // Pool() calls that succeeded
	RepoolCalls   int    // Repool() calls that succeeded
	RepoolMoves   int    // Repools that moved the block
	UnpoolCalls   int    // Unpool() calls
	Releases      int    // Blocks handed back to the provider
	BindCalls     int    // Successful binds, including rebinds
	UnbindCalls   int    // Successful unbinds
	SplitReads    int    // Reads served across more than one block
	SplitWrites   int    // Writes served across more than one block
	BytesPooled   uint64 // Total bytes requested from the provider
	BytesReleased uint64 // Total bytes handed back to the provider
	Pooled        int    // Blocks currently pooled
	Bound         int    // Handles currently bound
}

// New creates an allocator over p.
func New(p Provider, opts ...Option) *Allocator {
	a := &Allocator{
		provider:     p,
		space:        p.Space(),
		splitting:    true,
		pooled:       make(map[uint64]uint64),
		pools:        make(map[uint64]*addr.Pool),
		bindings:     make(map[uint64][]*Allocation),
		associations: make(map[*Allocation]uint64),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Provider returns the storage provider.
func (a *Allocator) Provider() Provider { return a.provider }

// Space returns the address space of the provider.
func (a *Allocator) Space() *addr.Space { return a.space }

// Stats returns a snapshot of the allocator counters.
func (a *Allocator) Stats() Stats {
	s := a.stats
	s.Pooled = len(a.pooled)
	s.Bound = len(a.associations)
	return s
}

func (a *Allocator) logger() *slog.Logger {
	if a.log != nil {
		return a.log
	}
	return logger.L
}

func (a *Allocator) debug(msg string, args ...any) {
	if a.logAlloc {
		a.logger().Debug(msg, args...)
	}
}

// key resolves address to a map key, rejecting the null address and
// addresses from other spaces.
func (a *Allocator) key(address addr.Address) (uint64, bool) {
	if address.IsNull() || address.Space() != a.space {
		return 0, false
	}
	return address.Value(), true
}

func (a *Allocator) pooledKey(address addr.Address) (uint64, error) {
	k, ok := a.key(address)
	if ok {
		if _, ok = a.pooled[k]; ok {
			return k, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrUnpooled, address)
}

func (a *Allocator) at(k uint64) addr.Address { return addr.New(a.space, k) }

// Pool requests size bytes from the provider and registers the block. The
// returned address is tracked: it follows the block if a later Repool moves it.
func (a *Allocator) Pool(size uint64) (addr.Address, error) {
	if a.closed {
		return addr.Null(), ErrClosed
	}
	if size == 0 {
		return addr.Null(), ErrZeroSize
	}

	base, err := a.provider.Pool(size)
	if err != nil {
		return addr.Null(), fmt.Errorf("%w: %d bytes: %w", ErrPoolExhausted, size, err)
	}
	k, ok := a.key(base)
	if !ok {
		return addr.Null(), fmt.Errorf("%w: provider returned %s", ErrPoolExhausted, base)
	}
	if _, dup := a.pooled[k]; dup {
		return addr.Null(), fmt.Errorf("%w: provider returned live block %s", ErrPoolExhausted, base)
	}

	p := addr.NewPool(base, size)
	a.pooled[k] = size
	a.pools[k] = p

	a.stats.PoolCalls++
	a.stats.BytesPooled += size
	a.debug("pool", "base", base, "size", size)
	return p.Base(), nil
}

// Repool resizes the block at address to newSize. If the provider moves the
// block, every handle bound to it is rebound to the new block and addresses
// issued for the block follow it. The first min(old, newSize) bytes are
// preserved. Returns the block's (tracked) base.
func (a *Allocator) Repool(address addr.Address, newSize uint64) (addr.Address, error) {
	if a.closed {
		return addr.Null(), ErrClosed
	}
	k, err := a.pooledKey(address)
	if err != nil {
		return addr.Null(), err
	}
	if newSize == 0 {
		return addr.Null(), ErrZeroSize
	}
	oldSize := a.pooled[k]

	nb, err := a.provider.Repool(a.at(k), oldSize, newSize)
	if err != nil {
		if isFault(err) {
			return addr.Null(), &FaultError{Op: "repool", Address: a.at(k), Size: buf.Min(oldSize, newSize), Err: err}
		}
		return addr.Null(), fmt.Errorf("%w: repool %s to %d bytes: %w", ErrPoolExhausted, address, newSize, err)
	}
	nk, ok := a.key(nb)
	if !ok {
		return addr.Null(), fmt.Errorf("%w: provider returned %s", ErrPoolExhausted, nb)
	}

	p := a.pools[k]
	a.stats.RepoolCalls++
	a.debug("repool", "base", a.at(k), "size", oldSize, "new_base", nb, "new_size", newSize)

	if nk == k {
		a.pooled[k] = newSize
		p.Resize(newSize)
		return p.Base(), nil
	}

	a.stats.RepoolMoves++
	a.stats.BytesPooled += newSize
	a.pooled[nk] = newSize
	delete(a.pools, k)
	p.Move(nb, newSize)
	a.pools[nk] = p

	// The last handle moved off k releases the old block.
	var result *multierror.Error
	for _, h := range slices.Clone(a.bindings[k]) {
		if err := a.move(h, nk); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if _, still := a.pooled[k]; still {
		if err := a.release(k); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return p.Base(), result.ErrorOrNil()
}

// Unpool unbinds every handle bound to address and releases the block.
func (a *Allocator) Unpool(address addr.Address) error {
	k, err := a.pooledKey(address)
	if err != nil {
		return err
	}
	a.stats.UnpoolCalls++

	handles := slices.Clone(a.bindings[k])
	if len(handles) == 0 {
		return a.release(k)
	}

	var result *multierror.Error
	for _, h := range handles {
		if err := a.Unbind(h); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// release hands the block at k back to the provider. Only an emptied binding
// set or the unpooling of a never-bound block reach it.
func (a *Allocator) release(k uint64) error {
	size := a.pooled[k]
	delete(a.pooled, k)
	delete(a.pools, k)

	a.stats.Releases++
	a.stats.BytesReleased += size
	a.debug("release", "base", a.at(k), "size", size)

	if err := a.provider.Unpool(a.at(k), size); err != nil {
		return fmt.Errorf("alloc: release %s: %w", a.at(k), err)
	}
	return nil
}

// attach adds h to the binding set of k.
func (a *Allocator) attach(h *Allocation, k uint64) {
	set := a.bindings[k]
	if len(set) == 0 {
		i, _ := slices.BinarySearch(a.bound, k)
		a.bound = slices.Insert(a.bound, i, k)
	}
	a.bindings[k] = append(set, h)
	a.associations[h] = k
	h.allocator = a
	a.stats.BindCalls++
}

// detach removes h from its binding set. It reports the base h was bound to
// and whether that set is now empty.
func (a *Allocator) detach(h *Allocation) (uint64, bool) {
	k := a.associations[h]
	delete(a.associations, h)
	a.stats.UnbindCalls++

	set := a.bindings[k]
	if i := slices.Index(set, h); i >= 0 {
		set = slices.Delete(set, i, i+1)
	}
	if len(set) > 0 {
		a.bindings[k] = set
		return k, false
	}

	delete(a.bindings, k)
	if i, found := slices.BinarySearch(a.bound, k); found {
		a.bound = slices.Delete(a.bound, i, i+1)
	}
	return k, true
}

// move rebinds h to the pooled block nk, releasing its old block if h was
// the last handle on it.
func (a *Allocator) move(h *Allocation, nk uint64) error {
	old, empty := a.detach(h)
	a.attach(h, nk)
	a.debug("rebind", "from", a.at(old), "to", a.at(nk))
	if empty {
		return a.release(old)
	}
	return nil
}

func (a *Allocator) checkHandle(h *Allocation) error {
	if h == nil || h.allocator == nil {
		return ErrNoAllocator
	}
	if h.allocator != a {
		return ErrForeignAllocation
	}
	return nil
}

// Bind binds h to the pooled block at address.
func (a *Allocator) Bind(h *Allocation, address addr.Address) error {
	if h == nil {
		return ErrNoAllocator
	}
	if h.allocator != nil && h.allocator != a {
		return ErrForeignAllocation
	}
	if _, ok := a.associations[h]; ok {
		return ErrBound
	}
	k, err := a.pooledKey(address)
	if err != nil {
		return err
	}
	a.attach(h, k)
	a.debug("bind", "base", a.at(k), "count", len(a.bindings[k]))
	return nil
}

// Rebind moves h to the pooled block at address. An unbound handle is bound.
func (a *Allocator) Rebind(h *Allocation, address addr.Address) error {
	if err := a.checkHandle(h); err != nil && !errors.Is(err, ErrNoAllocator) {
		return err
	}
	if _, ok := a.associations[h]; !ok {
		return a.Bind(h, address)
	}
	k, err := a.pooledKey(address)
	if err != nil {
		return err
	}
	if a.associations[h] == k {
		return nil
	}
	return a.move(h, k)
}

// Unbind detaches h from its block. Unbinding the last handle on a block
// releases the block.
func (a *Allocator) Unbind(h *Allocation) error {
	if err := a.checkHandle(h); err != nil {
		return err
	}
	if _, ok := a.associations[h]; !ok {
		return ErrUnbound
	}
	k, empty := a.detach(h)
	a.debug("unbind", "base", a.at(k), "remaining", len(a.bindings[k]))
	if empty {
		return a.release(k)
	}
	return nil
}

// IsPooled reports whether address is the base of a pooled block.
func (a *Allocator) IsPooled(address addr.Address) bool {
	_, err := a.pooledKey(address)
	return err == nil
}

// PooledSize returns the size of the block at address, or 0 if not pooled.
func (a *Allocator) PooledSize(address addr.Address) uint64 {
	k, ok := a.key(address)
	if !ok {
		return 0
	}
	return a.pooled[k]
}

// IsAssociated reports whether the allocator has a base recorded for h.
func (a *Allocator) IsAssociated(h *Allocation) bool {
	_, ok := a.associations[h]
	return ok
}

// IsBound reports whether h is bound to a block that is still pooled.
func (a *Allocator) IsBound(h *Allocation) bool {
	k, ok := a.associations[h]
	if !ok {
		return false
	}
	_, ok = a.pooled[k]
	return ok
}

// BindCount returns the number of handles bound to address.
func (a *Allocator) BindCount(address addr.Address) int {
	k, ok := a.key(address)
	if !ok {
		return 0
	}
	return len(a.bindings[k])
}

// AddressOf returns the tracked base of the block h is bound to.
func (a *Allocator) AddressOf(h *Allocation) (addr.Address, error) {
	k, ok := a.associations[h]
	if !ok {
		return addr.Null(), ErrUnbound
	}
	return a.pools[k].Base(), nil
}

// Find returns the handle whose block contains address: an exact base match
// first, then the closest bound block below address. Returns nil if no bound
// block contains it.
func (a *Allocator) Find(address addr.Address) *Allocation {
	k, ok := a.key(address)
	if !ok {
		return nil
	}
	if set := a.bindings[k]; len(set) > 0 {
		return set[0]
	}

	i, _ := slices.BinarySearch(a.bound, k)
	if i == 0 {
		return nil
	}
	base := a.bound[i-1]
	if k-base < a.pooled[base] {
		return a.bindings[base][0]
	}
	return nil
}

// HasAddress reports whether a bound block contains address.
func (a *Allocator) HasAddress(address addr.Address) bool {
	return a.Find(address) != nil
}

// Null returns an unbound handle attached to the allocator.
func (a *Allocator) Null() *Allocation { return NewAllocation(a) }

// Allocate returns a new handle bound to size fresh bytes.
func (a *Allocator) Allocate(size uint64) (*Allocation, error) {
	h := NewAllocation(a)
	if err := h.Allocate(size); err != nil {
		return nil, err
	}
	return h, nil
}

// Reallocate resizes the block h is bound to. Every alias of h sees the new size.
func (a *Allocator) Reallocate(h *Allocation, size uint64) error {
	if err := a.checkHandle(h); err != nil {
		return err
	}
	base, err := a.AddressOf(h)
	if err != nil {
		return err
	}
	_, err = a.Repool(base, size)
	return err
}

// Deallocate unpools the block h is bound to, unbinding every alias of h.
// Use Allocation.Deallocate to drop a single handle.
func (a *Allocator) Deallocate(h *Allocation) error {
	if err := a.checkHandle(h); err != nil {
		return err
	}
	base, err := a.AddressOf(h)
	if err != nil {
		return err
	}
	return a.Unpool(base)
}

// Close unbinds every handle and releases every block. Failures do not stop
// the teardown; they are logged and returned together.
func (a *Allocator) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true

	var result *multierror.Error
	for len(a.bound) > 0 {
		k := a.bound[0]
		h := a.bindings[k][0]
		if err := a.Unbind(h); err != nil {
			a.logger().Warn("unbind during close failed", "base", a.at(k), "error", err)
			result = multierror.Append(result, err)
		}
	}
	for _, k := range slices.Sorted(maps.Keys(a.pooled)) {
		if err := a.release(k); err != nil {
			a.logger().Warn("release during close failed", "base", a.at(k), "error", err)
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// AllowSplitting enables split reads and writes.
func (a *Allocator) AllowSplitting() { a.splitting = true }

// DenySplitting disables split reads and writes. Requests crossing a block
// boundary then fail with ErrOutOfRange.
func (a *Allocator) DenySplitting() { a.splitting = false }

// Splits reports whether split reads and writes are enabled.
func (a *Allocator) Splits() bool { return a.splitting }
