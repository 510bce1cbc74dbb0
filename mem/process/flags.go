package process

import (
	"fmt"
	"strings"
)

// Protection is a page protection bit set. Values match the Windows PAGE_*
// constants so they pass through to the OS unchanged there.
type Protection uint32

const (
	ProtNoAccess         Protection = 0x01
	ProtReadOnly         Protection = 0x02
	ProtReadWrite        Protection = 0x04
	ProtWriteCopy        Protection = 0x08
	ProtExecute          Protection = 0x10
	ProtExecuteRead      Protection = 0x20
	ProtExecuteReadWrite Protection = 0x40
	ProtExecuteWriteCopy Protection = 0x80
	ProtGuard            Protection = 0x100
	ProtNoCache          Protection = 0x200
	ProtWriteCombine     Protection = 0x400
)

// accessMask covers the mutually exclusive access values; the rest are modifiers.
const accessMask Protection = 0xff

var protectionNames = []flagName{
	{uint32(ProtNoAccess), "NOACCESS"},
	{uint32(ProtReadOnly), "READONLY"},
	{uint32(ProtReadWrite), "READWRITE"},
	{uint32(ProtWriteCopy), "WRITECOPY"},
	{uint32(ProtExecute), "EXECUTE"},
	{uint32(ProtExecuteRead), "EXECUTE_READ"},
	{uint32(ProtExecuteReadWrite), "EXECUTE_READWRITE"},
	{uint32(ProtExecuteWriteCopy), "EXECUTE_WRITECOPY"},
	{uint32(ProtGuard), "GUARD"},
	{uint32(ProtNoCache), "NOCACHE"},
	{uint32(ProtWriteCombine), "WRITECOMBINE"},
}

// Access returns p without its modifier bits.
func (p Protection) Access() Protection { return p & accessMask }

// Readable reports whether p allows reads.
func (p Protection) Readable() bool {
	switch p.Access() {
	case ProtReadOnly, ProtReadWrite, ProtWriteCopy, ProtExecuteRead, ProtExecuteReadWrite, ProtExecuteWriteCopy:
		return p&ProtGuard == 0
	}
	return false
}

// Writable reports whether p allows writes.
func (p Protection) Writable() bool {
	switch p.Access() {
	case ProtReadWrite, ProtWriteCopy, ProtExecuteReadWrite, ProtExecuteWriteCopy:
		return p&ProtGuard == 0
	}
	return false
}

// Executable reports whether p allows execution.
func (p Protection) Executable() bool {
	switch p.Access() {
	case ProtExecute, ProtExecuteRead, ProtExecuteReadWrite, ProtExecuteWriteCopy:
		return true
	}
	return false
}

// String renders p as NAME|NAME, with any unknown bits in hex.
func (p Protection) String() string {
	return flagString(uint32(p), protectionNames)
}

// State is a region state, allocation type or memory type bit set. Values
// match the Windows MEM_* constants.
type State uint32

const (
	StateCommit     State = 0x1000
	StateReserve    State = 0x2000
	StateDecommit   State = 0x4000
	StateRelease    State = 0x8000
	StateFree       State = 0x10000
	StatePrivate    State = 0x20000
	StateMapped     State = 0x40000
	StateReset      State = 0x80000
	StateTopDown    State = 0x100000
	StateImage      State = 0x1000000
	StateLargePages State = 0x20000000
)

var stateNames = []flagName{
	{uint32(StateCommit), "COMMIT"},
	{uint32(StateReserve), "RESERVE"},
	{uint32(StateDecommit), "DECOMMIT"},
	{uint32(StateRelease), "RELEASE"},
	{uint32(StateFree), "FREE"},
	{uint32(StatePrivate), "PRIVATE"},
	{uint32(StateMapped), "MAPPED"},
	{uint32(StateReset), "RESET"},
	{uint32(StateTopDown), "TOP_DOWN"},
	{uint32(StateImage), "IMAGE"},
	{uint32(StateLargePages), "LARGE_PAGES"},
}

// Has reports whether every bit of flag is set in s.
func (s State) Has(flag State) bool { return s&flag == flag }

// String renders s as NAME|NAME, with any unknown bits in hex.
func (s State) String() string {
	return flagString(uint32(s), stateNames)
}

type flagName struct {
	flag uint32
	name string
}

func flagString(v uint32, names []flagName) string {
	if v == 0 {
		return "0"
	}
	var parts []string
	rest := v
	for _, n := range names {
		if v&n.flag == n.flag {
			parts = append(parts, n.name)
			rest &^= n.flag
		}
	}
	if rest != 0 {
		parts = append(parts, fmt.Sprintf("0x%x", rest))
	}
	return strings.Join(parts, "|")
}
