package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/memkit/mem/addr"
	"github.com/joshuapare/memkit/mem/alloc"
	"github.com/joshuapare/memkit/mem/process"
	"github.com/joshuapare/memkit/mem/virtual"
)

var queryCount int

func init() {
	cmd := newQueryCmd()
	cmd.Flags().IntVarP(&queryCount, "count", "n", 1, "Number of consecutive regions to describe")
	rootCmd.AddCommand(cmd)
}

func newQueryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "query <pid> <addr>",
		Short: "Describe the region containing an address",
		Long: `The query command prints the region descriptor for the region containing
an address, followed by the regions after it when --count is greater than one.
Unmapped gaps are reported as FREE regions.

Example:
  memctl query 1234 0x7ffd5000
  memctl query self 0x400000 -n 4`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(cmd, args)
		},
	}
}

func runQuery(cmd *cobra.Command, args []string) error {
	if queryCount < 1 {
		return fmt.Errorf("--count must be at least 1")
	}
	h, err := openProcess(args[0])
	if err != nil {
		return fmt.Errorf("failed to open process: %w", err)
	}
	defer h.Close()

	address, err := parseAddress(args[1])
	if err != nil {
		return err
	}

	va := virtual.New(h, virtual.WithAllocatorOptions(allocOptions()...))
	defer va.Close()

	buf := make([]process.Region, queryCount)
	n, err := va.QueryAddress(addr.New(h.Space(), address), buf)
	if err != nil {
		return fmt.Errorf("failed to query 0x%x: %w", address, err)
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		list := make([]regionJSON, 0, n)
		for _, r := range buf[:n] {
			list = append(list, toJSON(r))
		}
		return printJSON(out, list)
	}
	for _, r := range buf[:n] {
		fmt.Fprintln(out, r)
	}
	return nil
}

func allocOptions() []alloc.Option {
	return alloc.FromConfig(cfg)
}
