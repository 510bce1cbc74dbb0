package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/joshuapare/memkit/internal/logger"
	"github.com/joshuapare/memkit/mem/alloc"
	"github.com/joshuapare/memkit/mem/local"
	"github.com/joshuapare/memkit/mem/process"
	"github.com/joshuapare/memkit/mem/virtual"
)

func init() {
	rootCmd.AddCommand(newSelftestCmd())
}

func newSelftestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "selftest",
		Short: "Exercise the local, arena and virtual allocators",
		Long: `The selftest command runs a short allocate, write, resize, read and free
cycle against each allocator in this process and reports the result of each.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSelftest(cmd.OutOrStdout())
		},
	}
}

type check struct {
	name string
	run  func() error
}

func runSelftest(out io.Writer) error {
	checks := []check{
		{"local", checkLocal},
		{"arena", checkArena},
		{"virtual", checkVirtual},
	}
	var failed int
	for _, c := range checks {
		if err := c.run(); err != nil {
			failed++
			logger.Error("selftest failed", "check", c.name, "error", err)
			fmt.Fprintf(out, "%-8s FAIL %v\n", c.name, err)
			continue
		}
		fmt.Fprintf(out, "%-8s ok\n", c.name)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d checks failed", failed, len(checks))
	}
	return nil
}

// roundTrip writes a pattern through h, grows it and reads the pattern back.
func roundTrip(h *alloc.Allocation, grow func(uint64) error) error {
	want := []byte("memkit selftest")
	if err := h.Write(0, want); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := grow(h.Size() * 4); err != nil {
		return fmt.Errorf("reallocate: %w", err)
	}
	got, err := h.Read(0, uint64(len(want)))
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if !bytes.Equal(got, want) {
		return fmt.Errorf("read back %q, want %q", got, want)
	}
	return nil
}

func checkLocal() error {
	a := local.New(local.FromConfig(cfg)...)
	defer a.Close()

	h, err := a.Allocate(32)
	if err != nil {
		return err
	}
	defer h.Close()
	return roundTrip(h, h.Reallocate)
}

func checkArena() error {
	a, err := local.NewArena(4096, local.WithAllocatorOptions(alloc.WithSplitting(true)))
	if err != nil {
		return err
	}
	defer a.Close()

	first, err := a.Allocate(16)
	if err != nil {
		return err
	}
	defer first.Close()
	second, err := a.Allocate(16)
	if err != nil {
		return err
	}
	defer second.Close()

	start, err := first.Address(12)
	if err != nil {
		return err
	}
	if !a.WillSplit(start, 8) {
		return errors.New("adjacent arena blocks did not split")
	}
	if err := a.Write(start, []byte("12345678")); err != nil {
		return fmt.Errorf("split write: %w", err)
	}
	got, err := second.Read(0, 4)
	if err != nil {
		return err
	}
	if string(got) != "5678" {
		return fmt.Errorf("second block holds %q, want %q", got, "5678")
	}
	return nil
}

func checkVirtual() error {
	h, err := process.Self()
	if err != nil {
		if errors.Is(err, process.ErrUnsupported) {
			return nil
		}
		return err
	}
	defer h.Close()

	va := virtual.New(h, virtual.WithAllocatorOptions(allocOptions()...))
	defer va.Close()

	p, err := va.Allocate(h.PageSize())
	if err != nil {
		return err
	}
	defer p.Close()
	if err := roundTrip(p.Allocation, p.Reallocate); err != nil {
		return err
	}

	if _, err := p.Protect(process.ProtReadOnly); err != nil {
		return fmt.Errorf("protect: %w", err)
	}
	if err := p.Write(0, []byte{0}); !errors.Is(err, alloc.ErrFault) {
		return fmt.Errorf("write to read-only page returned %v", err)
	}
	r, err := p.Query()
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	if r.Protect != process.ProtReadOnly {
		return fmt.Errorf("query reports %s, want %s", r.Protect, process.ProtReadOnly)
	}
	return nil
}
