package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/joshuapare/memkit/mem/process"
	"github.com/joshuapare/memkit/mem/virtual"
)

var regionsAll bool

func init() {
	cmd := newRegionsCmd()
	cmd.Flags().BoolVarP(&regionsAll, "all", "a", false, "Include reserved and inaccessible regions")
	rootCmd.AddCommand(cmd)
}

func newRegionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "regions <pid>",
		Short: "List the mapped regions of a process",
		Long: `The regions command lists every mapped region of a process in address order.
Only readable regions are shown unless --all is given.

Example:
  memctl regions 1234
  memctl regions self --all --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRegions(cmd, args)
		},
	}
}

// regionJSON is the --json form of a region.
type regionJSON struct {
	Base    string `json:"base"`
	End     string `json:"end"`
	Size    uint64 `json:"size"`
	State   string `json:"state"`
	Protect string `json:"protect"`
	Type    string `json:"type,omitempty"`
	Path    string `json:"path,omitempty"`
}

func toJSON(r process.Region) regionJSON {
	out := regionJSON{
		Base:    fmt.Sprintf("0x%x", r.Base),
		End:     fmt.Sprintf("0x%x", r.End()),
		Size:    r.Size,
		State:   r.State.String(),
		Protect: r.Protect.String(),
		Path:    r.Path,
	}
	if r.Type != 0 {
		out.Type = r.Type.String()
	}
	return out
}

func runRegions(cmd *cobra.Command, args []string) error {
	h, err := openProcess(args[0])
	if err != nil {
		return fmt.Errorf("failed to open process: %w", err)
	}
	defer h.Close()

	va := virtual.New(h, virtual.WithAllocatorOptions(allocOptions()...))
	defer va.Close()

	pages, err := va.Enumerate()
	if err != nil {
		return fmt.Errorf("failed to enumerate regions: %w", err)
	}

	var regions []process.Region
	for _, p := range pages {
		r := p.Region()
		if !regionsAll && !r.Readable() {
			continue
		}
		regions = append(regions, r)
	}

	out := cmd.OutOrStdout()
	if jsonOut {
		list := make([]regionJSON, 0, len(regions))
		for _, r := range regions {
			list = append(list, toJSON(r))
		}
		return printJSON(out, list)
	}
	for _, r := range regions {
		fmt.Fprintln(out, r)
	}
	return nil
}
