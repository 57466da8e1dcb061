package entryfunc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeModule struct {
	entry uint64
	sym   Symbol
	ok    bool
}

func (m fakeModule) EntryPoint() uint64 { return m.entry }
func (m fakeModule) AddrSym(pc uint64) (Symbol, bool) {
	return m.sym, m.ok
}

func TestZeroSizedEntrySymbolMatches(t *testing.T) {
	mod := fakeModule{entry: 0x400000, sym: Symbol{Value: 0x400000, Size: 0}, ok: true}
	require.True(t, InEntryFunction(0x400000, 0, mod))
	require.True(t, InEntryFunction(0x400050, 0, mod), "zero-sized entry symbol matches any pc at or after it")
}

func TestPastEntrySizeFails(t *testing.T) {
	mod := fakeModule{entry: 0x400000, sym: Symbol{Value: 0x400000, Size: 0x10}, ok: true}
	require.True(t, InEntryFunction(0x400008, 0, mod))
	require.False(t, InEntryFunction(0x400010, 0, mod), "pc at entry+size is outside the entry function")
}

func TestPcBeforeEntryFails(t *testing.T) {
	mod := fakeModule{entry: 0x400000, sym: Symbol{Value: 0x400000}, ok: true}
	require.False(t, InEntryFunction(0x3fffff, 0, mod))
}

func TestSymbolNotAtEntryFails(t *testing.T) {
	mod := fakeModule{entry: 0x400000, sym: Symbol{Value: 0x400100}, ok: true}
	require.False(t, InEntryFunction(0x400100, 0, mod))
}

func TestNoSymbolFails(t *testing.T) {
	mod := fakeModule{entry: 0x400000, ok: false}
	require.False(t, InEntryFunction(0x400000, 0, mod))
}

func TestBiasIsApplied(t *testing.T) {
	mod := fakeModule{entry: 0x1000, sym: Symbol{Value: 0x555555555000, Size: 0}, ok: true}
	require.True(t, InEntryFunction(0x555555555000, 0x555555554000, mod))
}
