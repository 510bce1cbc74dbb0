package process

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProtection_Access(t *testing.T) {
	tests := []struct {
		prot             Protection
		read, write, exe bool
	}{
		{ProtNoAccess, false, false, false},
		{ProtReadOnly, true, false, false},
		{ProtReadWrite, true, true, false},
		{ProtWriteCopy, true, true, false},
		{ProtExecute, false, false, true},
		{ProtExecuteRead, true, false, true},
		{ProtExecuteReadWrite, true, true, true},
		{ProtReadWrite | ProtGuard, false, false, false},
		{ProtReadOnly | ProtNoCache, true, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.prot.String(), func(t *testing.T) {
			assert.Equal(t, tt.read, tt.prot.Readable())
			assert.Equal(t, tt.write, tt.prot.Writable())
			assert.Equal(t, tt.exe, tt.prot.Executable())
		})
	}
}

func TestFlags_String(t *testing.T) {
	assert.Equal(t, "READWRITE", ProtReadWrite.String())
	assert.Equal(t, "READONLY|GUARD", (ProtReadOnly | ProtGuard).String())
	assert.Equal(t, "0", Protection(0).String())
	assert.Equal(t, "COMMIT|RESERVE", (StateCommit | StateReserve).String())
	assert.Equal(t, "PRIVATE|0x3", (StatePrivate | 3).String())
}

func TestState_Has(t *testing.T) {
	s := StateCommit | StateReserve
	assert.True(t, s.Has(StateCommit))
	assert.True(t, s.Has(StateCommit|StateReserve))
	assert.False(t, s.Has(StateCommit|StateFree))
}

func TestRegion(t *testing.T) {
	r := Region{Base: 0x1000, Size: 0x2000, State: StateCommit, Protect: ProtReadWrite, Type: StatePrivate}

	assert.Equal(t, uint64(0x3000), r.End())
	assert.True(t, r.Contains(0x1000))
	assert.True(t, r.Contains(0x2fff))
	assert.False(t, r.Contains(0x3000))
	assert.False(t, r.Contains(0xfff))
	assert.True(t, r.Readable())
	assert.True(t, r.Writable())
	assert.Equal(t, "0x1000-0x3000 COMMIT READWRITE PRIVATE", r.String())

	c, ok := r.Clip(0x2000, 0x4000)
	assert.True(t, ok)
	assert.Equal(t, uint64(0x2000), c.Base)
	assert.Equal(t, uint64(0x1000), c.Size)
	_, ok = r.Clip(0x3000, 0x10)
	assert.False(t, ok)

	reserved := Region{Base: 0x1000, Size: 0x1000, State: StateReserve, Protect: ProtReadWrite}
	assert.False(t, reserved.Readable(), "reserved pages are not accessible")
}
