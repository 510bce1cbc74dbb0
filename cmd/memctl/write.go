package main

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(newWriteCmd())
}

func newWriteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "write <pid> <addr> <hex>",
		Short: "Write bytes to process memory",
		Long: `The write command writes hex-encoded bytes starting at addr. Spaces and
colons in the hex string are ignored. The target range must be writable.

Example:
  memctl write 1234 0x7f0000001000 "de ad be ef"
  memctl write self 0x7f0000001000 90:90:90`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWrite(cmd, args)
		},
	}
}

func decodeHex(s string) ([]byte, error) {
	s = strings.NewReplacer(" ", "", ":", "").Replace(s)
	data, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid hex data: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("no data to write")
	}
	return data, nil
}

func runWrite(cmd *cobra.Command, args []string) error {
	address, err := parseAddress(args[1])
	if err != nil {
		return err
	}
	data, err := decodeHex(args[2])
	if err != nil {
		return err
	}

	s, err := openSession(args[0])
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.write(address, data); err != nil {
		return fmt.Errorf("failed to write %d bytes at 0x%x: %w", len(data), address, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %d bytes at 0x%x\n", len(data), address)
	return nil
}
