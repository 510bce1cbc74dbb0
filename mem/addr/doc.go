// Package addr provides addresses that are independent of the allocator that
// owns the memory behind them.
//
// # Spaces
//
// Every Address lives in a Space: the local process, another process, or any
// other addressable range an allocator hands out. Addresses from different
// spaces never compare equal, even when their numeric values match.
//
//	remote := addr.NewSpace("pid:4242", 0x10000, 0x7fffffffffff)
//	a := addr.New(remote, 0x400000)
//	b, err := a.Add(0x10) // fails with *RangeError if it leaves the space
//
// # Pools
//
// A Pool covers one contiguous block [base, base+size). Addresses issued by a
// pool are stored relative to the pool's base, so when the block moves
// (Pool.Move) every outstanding address follows it without being touched:
//
//	p := addr.NewPool(addr.New(addr.Local(), 0x1000), 64)
//	field, _ := p.Address(8)   // 0x1008
//	p.Move(addr.New(addr.Local(), 0x9000), 128)
//	field.Value()              // 0x9008
//
// Use Address.Fixed to take a snapshot that no longer follows its pool.
//
// # Comparison
//
// Address values hold a pool pointer, so == compares representation, not
// location. Use Equal, Compare and Less.
package addr
