package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"runtime"
	"strings"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes memctl with args and returns what it printed.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() {
		verbose, jsonOut = false, false
		readUTF16, readLatin1, readWords, readRaw = false, false, 0, false
		regionsAll, queryCount = false, 1
	})
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func requireLinux(t *testing.T) {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("process memory access is implemented for linux")
	}
}

func TestParseAddress(t *testing.T) {
	v, err := parseAddress("0x7fff_0000")
	require.NoError(t, err)
	assert.Equal(t, uint64(0x7fff0000), v)

	v, err = parseAddress("4096")
	require.NoError(t, err)
	assert.Equal(t, uint64(4096), v)

	_, err = parseAddress("zz")
	assert.Error(t, err)
}

func TestDecodeHex(t *testing.T) {
	b, err := decodeHex("de ad:BE ef")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, b)

	_, err = decodeHex("abc")
	assert.Error(t, err)
	_, err = decodeHex("")
	assert.Error(t, err)
}

func TestOpenProcess_BadPID(t *testing.T) {
	_, err := openProcess("abc")
	assert.ErrorContains(t, err, "invalid pid")
}

func TestSelftest(t *testing.T) {
	requireLinux(t)
	out, err := run(t, "selftest")
	require.NoError(t, err, out)
	assert.Contains(t, out, "local    ok")
	assert.Contains(t, out, "arena    ok")
	assert.Contains(t, out, "virtual  ok")
}

func TestReadWrite_Self(t *testing.T) {
	requireLinux(t)
	data := []byte("memctl round trip")
	address := fmt.Sprintf("0x%x", uintptr(unsafe.Pointer(&data[0])))

	out, err := run(t, "read", "self", address, fmt.Sprint(len(data)))
	require.NoError(t, err)
	assert.Contains(t, out, hex.Dump(data)[:20])

	out, err = run(t, "write", "self", address, "4d 45 4d")
	require.NoError(t, err)
	assert.Contains(t, out, "wrote 3 bytes")
	assert.Equal(t, "MEMctl round trip", string(data))
	runtime.KeepAlive(data)
}

func TestRead_UTF16AndWords(t *testing.T) {
	requireLinux(t)
	data := []byte{'h', 0, 'i', 0, 0x01, 0x02, 0x03, 0x04}
	address := fmt.Sprintf("0x%x", uintptr(unsafe.Pointer(&data[0])))

	out, err := run(t, "read", "self", address, "4", "--utf16")
	require.NoError(t, err)
	assert.Equal(t, "hi\n", out)

	out, err = run(t, "read", "self", address, "8", "--words", "4")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasSuffix(lines[1], "0x04030201"), lines[1])
	runtime.KeepAlive(data)
}

func TestQuery_Self(t *testing.T) {
	requireLinux(t)
	data := make([]byte, 64)
	address := fmt.Sprintf("0x%x", uintptr(unsafe.Pointer(&data[0])))

	out, err := run(t, "query", "self", address, "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"state": "COMMIT"`)
	assert.Contains(t, out, `"protect": "READWRITE"`)
	runtime.KeepAlive(data)
}

func TestRegions_Self(t *testing.T) {
	requireLinux(t)
	out, err := run(t, "regions", "self")
	require.NoError(t, err)
	assert.Contains(t, out, "COMMIT")
	assert.Contains(t, out, "[stack]")
}

func TestRead_BadArgs(t *testing.T) {
	_, err := run(t, "read", "self", "0x1000", "0")
	assert.ErrorContains(t, err, "invalid length")

	_, err = run(t, "read", "self", "0x1000", "8", "--words", "3")
	assert.ErrorContains(t, err, "--words")
}
