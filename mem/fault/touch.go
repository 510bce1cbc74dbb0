package fault

import "os"

// touch reads one byte per page (and the last byte) so every page is faulted in.
func touch(b []byte) error {
	pageSize := os.Getpagesize()
	var sink byte // keeps the reads from being optimized away

	err := guard("probe", base(b), len(b), func() {
		for i := 0; i < len(b); i += pageSize {
			sink ^= b[i]
		}
		sink ^= b[len(b)-1]
	})
	_ = sink
	return err
}
