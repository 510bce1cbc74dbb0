package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joshuapare/memkit/internal/config"
	"github.com/joshuapare/memkit/internal/logger"
	"github.com/joshuapare/memkit/mem/process"
)

var (
	// Global flags
	verbose bool
	jsonOut bool
)

var rootCmd = &cobra.Command{
	Use:   "memctl",
	Short: "Inspect and edit process memory",
	Long: `memctl lists, queries, reads and writes the virtual memory of a process
through the memkit allocators. A pid of 0 or "self" means memctl itself.

Environment:
  MEMKIT_LOG_LEVEL   minimum log level (debug, info, warn, error)
  MEMKIT_LOG_JSON    emit JSON log records
  MEMKIT_LOG_ALLOC   log pool and bind traffic at debug level`,
	Version:           "0.1.0",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Output in JSON format")
}

// cfg is loaded once per invocation by setup.
var cfg = config.Default()

func setup(cmd *cobra.Command, _ []string) error {
	c, err := config.Load()
	if err != nil {
		return err
	}
	cfg = c

	level := logger.ParseLevel(c.LogLevel)
	if verbose {
		level = slog.LevelDebug
		cfg.LogAlloc = true
	}
	logger.Init(logger.Options{
		Enabled: true,
		Output:  cmd.ErrOrStderr(),
		JSON:    c.LogJSON,
		Level:   level,
	})
	return nil
}

func execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openProcess returns a handle for pid, or for memctl itself when pid is
// "self" or 0.
func openProcess(pid string) (process.Handle, error) {
	if pid == "self" {
		return process.Self()
	}
	n, err := strconv.Atoi(pid)
	if err != nil {
		return nil, fmt.Errorf("invalid pid %q", pid)
	}
	if n == 0 {
		return process.Self()
	}
	return process.Open(n)
}

// parseAddress accepts decimal, 0x-prefixed hex and 0o/0b forms.
func parseAddress(s string) (uint64, error) {
	v, err := strconv.ParseUint(strings.ReplaceAll(s, "_", ""), 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q", s)
	}
	return v, nil
}

// printJSON outputs data as JSON
func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
