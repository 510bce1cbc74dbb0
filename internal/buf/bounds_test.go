package buf

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddOverflowSafe(t *testing.T) {
	sum, ok := AddOverflowSafe(10, 5)
	require.True(t, ok)
	assert.Equal(t, uint64(15), sum)

	_, ok = AddOverflowSafe(math.MaxUint64, 1)
	assert.False(t, ok, "expected overflow when adding to MaxUint64")
}

func TestOffset(t *testing.T) {
	v, ok := Offset(100, -40)
	require.True(t, ok)
	assert.Equal(t, uint64(60), v)

	v, ok = Offset(100, 28)
	require.True(t, ok)
	assert.Equal(t, uint64(128), v)

	_, ok = Offset(10, -11)
	assert.False(t, ok, "underflow below zero")

	_, ok = Offset(0, math.MinInt64)
	assert.False(t, ok)

	v, ok = Offset(math.MaxUint64, math.MinInt64)
	require.True(t, ok)
	assert.Equal(t, uint64(math.MaxUint64)-(1<<63), v)
}

func TestCheckRange(t *testing.T) {
	end, err := CheckRange(0x1000, 0x100, 0x1010, 0x10)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1020), end)

	_, err = CheckRange(0x1000, 0x100, 0x10f8, 0x10)
	require.Error(t, err, "range runs past the block end")

	_, err = CheckRange(0x1000, 0x100, 0xff8, 4)
	require.Error(t, err, "range starts before the block")

	_, err = CheckRange(0x1000, 0x100, 0x1000, 0)
	require.Error(t, err, "empty range")

	end, err = CheckRange(0x1000, 0x100, 0x1000, 0x100)
	require.NoError(t, err, "whole block")
	assert.Equal(t, uint64(0x1100), end)
}

func TestSliceAndHas(t *testing.T) {
	data := []byte{0, 1, 2, 3, 4}

	got, ok := Slice(data, 1, 3)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, got)

	_, ok = Slice(data, 4, 2)
	assert.False(t, ok, "Slice should fail when extending beyond len")
	assert.False(t, Has(data, 2, 4))
	assert.True(t, Has(data, 2, 1))
	assert.False(t, Has(data, 6, 0))

	_, ok = Slice(data, 1, math.MaxUint64)
	assert.False(t, ok, "overflowing length")
}

func TestWords(t *testing.T) {
	b := []byte{0x01, 0x00, 0x02, 0x00, 0xff}
	assert.Equal(t, []uint64{1, 2}, Words(b, 2))
	assert.Equal(t, []uint64{0x00020001}, Words(b, 4))
	assert.Len(t, Words(b, 1), 5)
	assert.Nil(t, Words(b, 3))
	assert.Empty(t, Words(b, 8))
}
