package main

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/joshuapare/memkit/internal/buf"
)

var (
	readUTF16  bool
	readLatin1 bool
	readWords  int
	readRaw    bool
)

func init() {
	cmd := newReadCmd()
	cmd.Flags().BoolVar(&readUTF16, "utf16", false, "Decode the bytes as UTF-16LE text")
	cmd.Flags().BoolVar(&readLatin1, "latin1", false, "Decode the bytes as Windows-1252 text")
	cmd.Flags().IntVar(&readWords, "words", 0, "Print little-endian words of this width (1, 2, 4 or 8)")
	cmd.Flags().BoolVar(&readRaw, "raw", false, "Write the bytes unformatted")
	rootCmd.AddCommand(cmd)
}

func newReadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "read <pid> <addr> <len>",
		Short: "Read bytes from process memory",
		Long: `The read command reads len bytes starting at addr and prints them as a hex dump.
Reads that run from one region into the next are split across both.

Example:
  memctl read 1234 0x7f0000001000 64
  memctl read 1234 0x7f0000001000 64 --utf16
  memctl read self 0x400000 32 --words 8`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(cmd, args)
		},
	}
}

func runRead(cmd *cobra.Command, args []string) error {
	address, err := parseAddress(args[1])
	if err != nil {
		return err
	}
	size, err := strconv.ParseUint(args[2], 0, 64)
	if err != nil || size == 0 {
		return fmt.Errorf("invalid length %q", args[2])
	}
	switch readWords {
	case 0, 1, 2, 4, 8:
	default:
		return fmt.Errorf("--words must be 1, 2, 4 or 8")
	}

	s, err := openSession(args[0])
	if err != nil {
		return err
	}
	defer s.Close()

	data, err := s.read(address, size)
	if err != nil {
		return fmt.Errorf("failed to read %d bytes at 0x%x: %w", size, address, err)
	}

	out := cmd.OutOrStdout()
	switch {
	case readRaw:
		_, err = out.Write(data)
		return err
	case readUTF16:
		text, err := buf.DecodeUTF16LE(data, true)
		if err != nil {
			return fmt.Errorf("failed to decode UTF-16: %w", err)
		}
		fmt.Fprintln(out, text)
	case readLatin1:
		text, err := buf.DecodeLatin1(data, true)
		if err != nil {
			return fmt.Errorf("failed to decode text: %w", err)
		}
		fmt.Fprintln(out, text)
	case readWords > 0:
		for i, w := range buf.Words(data, readWords) {
			fmt.Fprintf(out, "0x%x: 0x%0*x\n", address+uint64(i*readWords), readWords*2, w)
		}
	case jsonOut:
		return printJSON(out, map[string]any{
			"address": fmt.Sprintf("0x%x", address),
			"size":    size,
			"hex":     hex.EncodeToString(data),
		})
	default:
		fmt.Fprint(out, hex.Dump(data))
	}
	return nil
}
