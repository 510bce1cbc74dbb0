package virtual

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/memkit/mem/addr"
	"github.com/joshuapare/memkit/mem/alloc"
	"github.com/joshuapare/memkit/mem/process"
)

func newVA(t *testing.T, h process.Handle, opts ...Option) *VirtualAllocator {
	t.Helper()
	va := New(h, opts...)
	t.Cleanup(func() { require.NoError(t, va.Close()) })
	return va
}

func TestVirtualAllocator_AllocateZero(t *testing.T) {
	va := newVA(t, newFakeHandle(t))

	_, err := va.Allocate(0)
	assert.ErrorIs(t, err, alloc.ErrZeroSize)
	_, err = va.AllocateAt(0x300000, 0, DefaultAllocation, DefaultProtection)
	assert.ErrorIs(t, err, alloc.ErrZeroSize)
}

func TestVirtualAllocator_Allocate(t *testing.T) {
	f := newFakeHandle(t)
	va := newVA(t, f)

	p, err := va.Allocate(100)
	require.NoError(t, err)
	assert.True(t, p.Owned())
	assert.False(t, p.Fresh())
	assert.Equal(t, uint64(100), p.Size())
	assert.Equal(t, uint64(fakeBase), p.Start().Value())
	assert.Same(t, f.space, p.Start().Space())
	assert.True(t, va.HasPage(p))

	r, err := p.Query()
	require.NoError(t, err)
	assert.True(t, p.Fresh())
	assert.Equal(t, r, p.Region())
	assert.Equal(t, uint64(fakeBase), r.Base)
	assert.Equal(t, uint64(fakePage), r.Size)
	assert.Equal(t, DefaultAllocation, r.State)
	assert.Equal(t, process.ProtReadWrite, r.Protect)
}

func TestVirtualAllocator_ReadWrite(t *testing.T) {
	f := newFakeHandle(t)
	va := newVA(t, f)

	p, err := va.Allocate(64)
	require.NoError(t, err)
	require.NoError(t, p.Write(10, []byte("virtual")))

	got, err := p.Read(10, 7)
	require.NoError(t, err)
	assert.Equal(t, []byte("virtual"), got)
	assert.Equal(t, []byte("virtual"), f.mem[10:17])
}

func TestVirtualAllocator_Protect(t *testing.T) {
	va := newVA(t, newFakeHandle(t))

	p, err := va.Allocate(64)
	require.NoError(t, err)
	_, err = p.Query()
	require.NoError(t, err)

	old, err := p.Protect(process.ProtReadOnly)
	require.NoError(t, err)
	assert.Equal(t, process.ProtReadWrite, old)
	assert.False(t, p.Fresh(), "protect makes the descriptor stale")

	assert.ErrorIs(t, p.Write(0, []byte{1}), alloc.ErrFault)
	_, err = p.Read(0, 1)
	require.NoError(t, err)

	r, err := p.Query()
	require.NoError(t, err)
	assert.Equal(t, process.ProtReadOnly, r.Protect)
}

func TestVirtualAllocator_Defaults(t *testing.T) {
	va := newVA(t, newFakeHandle(t), WithDefaults(process.StateReserve, process.ProtNoAccess))
	assert.Equal(t, process.StateReserve, va.DefaultAllocation())
	assert.Equal(t, process.ProtNoAccess, va.DefaultProtection())

	va.SetDefaultAllocation(process.StateCommit)
	va.SetDefaultProtection(process.ProtReadOnly)

	p, err := va.Allocate(8)
	require.NoError(t, err)
	r, err := p.Query()
	require.NoError(t, err)
	assert.Equal(t, process.StateCommit, r.State)
	assert.Equal(t, process.ProtReadOnly, r.Protect)
	assert.ErrorIs(t, p.Write(0, []byte{1}), alloc.ErrFault)

	q, err := va.AllocateWith(8, process.StateReserve, process.ProtReadWrite)
	require.NoError(t, err)
	_, err = q.Read(0, 1)
	assert.ErrorIs(t, err, alloc.ErrFault, "reserved pages are not accessible")
}

func TestVirtualAllocator_AllocateAtTaken(t *testing.T) {
	va := newVA(t, newFakeHandle(t))

	p, err := va.Allocate(8)
	require.NoError(t, err)
	_, err = va.AllocateAt(p.Start().Value(), 8, DefaultAllocation, DefaultProtection)
	assert.ErrorIs(t, err, alloc.ErrPoolExhausted)
}

func TestVirtualAllocator_PageOfOwned(t *testing.T) {
	f := newFakeHandle(t)
	va := newVA(t, f)

	p, err := va.Allocate(100)
	require.NoError(t, err)
	q, err := va.PageOf(addr.New(f.space, fakeBase+50))
	require.NoError(t, err)
	assert.Same(t, p, q)
}

func TestVirtualAllocator_PageOfDoesNotOwn(t *testing.T) {
	f := newFakeHandle(t)
	va := newVA(t, f)

	f.add(0x200000, 0x2000, process.ProtReadWrite)
	copy(f.mem[0x100000:], "foreign bytes")

	p, err := va.PageOf(addr.New(f.space, 0x200800))
	require.NoError(t, err)
	assert.False(t, p.Owned())
	assert.Equal(t, uint64(0x200000), p.Start().Value())
	assert.Equal(t, uint64(0x2000), p.Size())
	assert.Equal(t, uint64(0x200000), p.Region().Base)

	got, err := p.Read(0, 13)
	require.NoError(t, err)
	assert.Equal(t, []byte("foreign bytes"), got)

	require.NoError(t, p.Close())
	assert.False(t, va.HasPage(p))
	assert.Empty(t, f.freed)

	r, err := f.Query(0x200000)
	require.NoError(t, err)
	assert.Equal(t, process.StateCommit, r.State)
	assert.Equal(t, uint64(0x2000), r.Size)
	assert.Equal(t, []byte("foreign bytes"), f.mem[0x100000:0x10000d])
}

func TestVirtualAllocator_PageOfErrors(t *testing.T) {
	f := newFakeHandle(t)
	va := newVA(t, f)
	f.add(0x200000, 0x1000, process.ProtReadWrite)

	_, err := va.PageOf(addr.New(f.space, 0x180000))
	assert.ErrorIs(t, err, ErrFreeRegion)

	_, err = va.PageOf(addr.New(f.space, 0x300000))
	assert.ErrorIs(t, err, process.ErrNotMapped)

	_, err = va.PageOf(addr.New(addr.Local(), 0x200000))
	assert.ErrorIs(t, err, addr.ErrSpaceMismatch)
}

func TestVirtualAllocator_PageOfAliasedBlock(t *testing.T) {
	f := newFakeHandle(t)
	va := newVA(t, f)
	f.add(0x200000, 0x1000, process.ProtReadWrite)

	p, err := va.PageOf(addr.New(f.space, 0x200000))
	require.NoError(t, err)
	alias, err := p.Alias()
	require.NoError(t, err)
	require.NoError(t, p.Close())
	assert.True(t, alias.IsValid(), "the alias keeps the block")

	q, err := va.PageOf(addr.New(f.space, 0x200010))
	require.NoError(t, err)
	assert.NotSame(t, p, q)
	assert.False(t, q.Owned())
	assert.Equal(t, 2, va.BindCount(q.Start()))
}

func TestVirtualAllocator_MergedRegionsAreClipped(t *testing.T) {
	f := newFakeHandle(t)
	va := newVA(t, f)

	own, err := va.AllocateAt(0x300000, fakePage, DefaultAllocation, DefaultProtection)
	require.NoError(t, err)
	// The OS reports the page and its neighbours as one region.
	f.regions = []fakeRegion{{base: 0x2fe000, size: 0x5000, state: process.StateCommit, prot: process.ProtReadWrite}}

	left, err := va.PageOf(addr.New(f.space, 0x2fe010))
	require.NoError(t, err)
	assert.Equal(t, uint64(0x2fe000), left.Start().Value())
	assert.Equal(t, uint64(0x2000), left.Size())

	right, err := va.PageOf(addr.New(f.space, 0x301800))
	require.NoError(t, err)
	assert.Equal(t, uint64(0x301000), right.Start().Value())
	assert.Equal(t, uint64(0x2000), right.Size())

	r, err := own.Query()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x300000), r.Base)
	assert.Equal(t, uint64(fakePage), r.Size)

	pages, err := va.Enumerate()
	require.NoError(t, err)
	require.Len(t, pages, 3)
	assert.Same(t, left, pages[0])
	assert.Same(t, own, pages[1])
	assert.Same(t, right, pages[2])
}

func TestVirtualAllocator_Enumerate(t *testing.T) {
	f := newFakeHandle(t)
	va := newVA(t, f)

	own, err := va.Allocate(8)
	require.NoError(t, err)
	f.add(0x200000, 0x1000, process.ProtReadOnly)
	f.add(0x280000, 0x3000, process.ProtExecuteRead)

	pages, err := va.Enumerate()
	require.NoError(t, err)
	require.Len(t, pages, 3)
	assert.Same(t, own, pages[0])
	assert.True(t, pages[0].Owned())
	assert.False(t, pages[1].Owned())
	assert.Equal(t, process.ProtReadOnly, pages[1].Region().Protect)
	assert.Equal(t, process.ProtExecuteRead, pages[2].Region().Protect)
	for _, p := range pages {
		assert.True(t, p.Fresh())
	}

	again, err := va.Enumerate()
	require.NoError(t, err)
	assert.Equal(t, pages, again, "unchanged regions keep their pages")

	f.carve(0x200000, 0x201000)
	f.add(0x200000, 0x2000, process.ProtReadOnly)
	again, err = va.Enumerate()
	require.NoError(t, err)
	require.Len(t, again, 3)
	assert.NotSame(t, pages[1], again[1])
	assert.Equal(t, uint64(0x2000), again[1].Size())
	assert.False(t, va.HasPage(pages[1]))
}

func TestVirtualAllocator_QueryAddress(t *testing.T) {
	f := newFakeHandle(t)
	va := newVA(t, f)
	f.add(0x200000, 0x1000, process.ProtReadWrite)
	f.add(0x202000, 0x1000, process.ProtReadOnly)

	buf := make([]process.Region, 4)
	n, err := va.QueryAddress(addr.New(f.space, 0x200400), buf)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	assert.Equal(t, uint64(0x200000), buf[0].Base)
	assert.Equal(t, process.StateFree, buf[1].State)
	assert.Equal(t, uint64(0x201000), buf[1].Base)
	assert.Equal(t, process.ProtReadOnly, buf[2].Protect)

	n, err = va.QueryAddress(addr.New(f.space, 0x200000), buf[:1])
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestVirtualAllocator_ReallocateMoves(t *testing.T) {
	f := newFakeHandle(t)
	va := newVA(t, f)

	p, err := va.Allocate(16)
	require.NoError(t, err)
	require.NoError(t, p.Write(0, []byte("0123456789abcdef")))
	alias, err := p.Alias()
	require.NoError(t, err)
	tail, err := p.Address(12)
	require.NoError(t, err)
	old := p.Start().Value()

	require.NoError(t, p.Reallocate(3*fakePage))
	assert.NotEqual(t, old, p.Start().Value())
	assert.Contains(t, f.freed, old)
	assert.True(t, va.HasPage(p))
	assert.Equal(t, uint64(3*fakePage), alias.Size())

	got, err := alias.Read(0, 16)
	require.NoError(t, err)
	assert.Equal(t, []byte("0123456789abcdef"), got)
	got, err = va.Read(tail, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("cdef"), got, "issued addresses follow the move")
}

func TestVirtualAllocator_ReallocateWrapped(t *testing.T) {
	f := newFakeHandle(t)
	va := newVA(t, f)
	f.add(0x200000, 0x1000, process.ProtReadWrite)

	p, err := va.PageOf(addr.New(f.space, 0x200000))
	require.NoError(t, err)
	assert.ErrorIs(t, p.Reallocate(0x2000), ErrNotOwned)

	alias, err := p.Alias()
	require.NoError(t, err)
	assert.ErrorIs(t, alias.Reallocate(0x2000), ErrNotOwned)
	require.NoError(t, alias.Close())
}

func TestVirtualAllocator_Release(t *testing.T) {
	f := newFakeHandle(t)
	va := newVA(t, f)

	p, err := va.Allocate(8)
	require.NoError(t, err)
	alias, err := p.Alias()
	require.NoError(t, err)
	base := p.Start().Value()

	require.NoError(t, va.Release(p))
	assert.False(t, alias.IsValid(), "releasing an owned page unbinds its aliases")
	assert.Equal(t, []uint64{base}, f.freed)
	assert.False(t, va.HasPage(p))
	assert.ErrorIs(t, va.Release(p), ErrNoPage)
	assert.NoError(t, p.Close())
}

func TestVirtualAllocator_ForeignPage(t *testing.T) {
	f := newFakeHandle(t)
	va := newVA(t, f)
	other := newVA(t, f)

	p, err := va.Allocate(8)
	require.NoError(t, err)

	_, err = other.Protect(p, process.ProtReadOnly)
	assert.ErrorIs(t, err, ErrNoPage)
	assert.ErrorIs(t, other.Lock(p), ErrNoPage)
	_, err = other.Query(p)
	assert.ErrorIs(t, err, ErrNoPage)
	assert.False(t, other.HasPage(nil))
}

func TestVirtualAllocator_LockUnlock(t *testing.T) {
	f := newFakeHandle(t)
	va := newVA(t, f)

	p, err := va.Allocate(8)
	require.NoError(t, err)
	require.NoError(t, p.Lock())
	assert.True(t, f.locked[p.Start().Value()])
	require.NoError(t, p.Unlock())
	assert.Empty(t, f.locked)
}

func TestVirtualAllocator_SplitAcrossPages(t *testing.T) {
	f := newFakeHandle(t)
	va := newVA(t, f)

	a, err := va.AllocateAt(0x300000, fakePage, DefaultAllocation, DefaultProtection)
	require.NoError(t, err)
	b, err := va.AllocateAt(0x301000, fakePage, DefaultAllocation, DefaultProtection)
	require.NoError(t, err)

	start, err := a.Address(fakePage - 4)
	require.NoError(t, err)
	assert.True(t, va.WillSplit(start, 8))
	require.NoError(t, va.SplitWrite(start, []byte("abcdefgh")))

	head, err := a.Read(fakePage-4, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), head)
	rest, err := b.Read(0, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("efgh"), rest)

	got, err := va.Read(start, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcdefgh"), got)
}

func TestVirtualAllocator_Close(t *testing.T) {
	f := newFakeHandle(t)
	va := New(f)
	f.add(0x200000, 0x1000, process.ProtReadWrite)

	owned, err := va.Allocate(8)
	require.NoError(t, err)
	wrapped, err := va.PageOf(addr.New(f.space, 0x200000))
	require.NoError(t, err)
	base := owned.Start().Value()

	require.NoError(t, va.Close())
	assert.Equal(t, []uint64{base}, f.freed)
	assert.False(t, va.HasPage(owned))
	assert.False(t, va.HasPage(wrapped))
	assert.Empty(t, va.Pages())
	assert.Equal(t, 0, va.Stats().Pooled)

	_, err = va.Allocate(8)
	assert.ErrorIs(t, err, alloc.ErrClosed)
}

func TestVirtualAllocator_Clone(t *testing.T) {
	f := newFakeHandle(t)
	va := newVA(t, f)

	p, err := va.Allocate(8)
	require.NoError(t, err)
	require.NoError(t, p.Write(0, []byte("original")))

	c, err := p.Clone()
	require.NoError(t, err)
	assert.NotEqual(t, p.Start().Value(), c.Start().Value())
	require.NoError(t, c.Write(0, []byte("copied!!")))
	got, err := p.Read(0, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte("original"), got)

	q, err := va.PageOf(c.Start())
	require.NoError(t, err)
	assert.True(t, q.Owned(), "clones are regions the allocator created")
	require.NoError(t, c.Close())
	assert.True(t, va.HasPage(q))
}

func TestVirtualAllocator_ReallocateProtected(t *testing.T) {
	for _, prot := range []process.Protection{
		process.ProtReadOnly,
		process.ProtNoAccess,
		process.ProtExecute,
		process.ProtReadWrite | process.ProtGuard,
	} {
		t.Run(prot.String(), func(t *testing.T) {
			f := newFakeHandle(t)
			va := newVA(t, f)

			p, err := va.Allocate(16)
			require.NoError(t, err)
			require.NoError(t, p.Write(0, []byte("keep this prefix")))
			old := p.Start().Value()
			_, err = p.Protect(prot)
			require.NoError(t, err)

			require.NoError(t, p.Reallocate(3*fakePage))
			assert.NotEqual(t, old, p.Start().Value())
			assert.Contains(t, f.freed, old)

			r, err := p.Query()
			require.NoError(t, err)
			assert.Equal(t, prot, r.Protect, "protection survives the move")

			_, err = p.Protect(process.ProtReadWrite)
			require.NoError(t, err)
			got, err := p.Read(0, 16)
			require.NoError(t, err)
			assert.Equal(t, []byte("keep this prefix"), got)
		})
	}
}

func TestVirtualAllocator_ReallocateReserved(t *testing.T) {
	f := newFakeHandle(t)
	va := newVA(t, f)

	p, err := va.AllocateWith(8, process.StateReserve, process.ProtReadWrite)
	require.NoError(t, err)
	require.NoError(t, p.Reallocate(2*fakePage))

	r, err := p.Query()
	require.NoError(t, err)
	assert.Equal(t, process.StateReserve, r.State)
	assert.Equal(t, uint64(2*fakePage), p.Size())
}

func TestVirtualAllocator_ShrinkGrowZeroes(t *testing.T) {
	for _, prot := range []process.Protection{process.ProtReadWrite, process.ProtReadOnly} {
		t.Run(prot.String(), func(t *testing.T) {
			f := newFakeHandle(t)
			va := newVA(t, remapHandle{f})

			p, err := va.Allocate(64)
			require.NoError(t, err)
			require.NoError(t, p.Write(0, bytes.Repeat([]byte{0xff}, 64)))
			_, err = p.Protect(prot)
			require.NoError(t, err)
			base := p.Start().Value()

			require.NoError(t, p.Reallocate(16))
			require.NoError(t, p.Reallocate(64))
			assert.Equal(t, base, p.Start().Value(), "resized in place")

			got, err := p.Read(0, 64)
			require.NoError(t, err)
			assert.Equal(t, bytes.Repeat([]byte{0xff}, 16), got[:16])
			assert.Equal(t, make([]byte, 48), got[16:], "bytes cut by the shrink do not come back")

			r, err := p.Query()
			require.NoError(t, err)
			assert.Equal(t, prot, r.Protect)
		})
	}
}
