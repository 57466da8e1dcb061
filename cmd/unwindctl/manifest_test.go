package main

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/corewalk/unwind/pkg/regfile"
	"github.com/corewalk/unwind/pkg/unwind"
)

const sampleManifest = `
word-size: 8
num-regs: 32
initial-pc: 0x400123
initial-registers:
  6: 0xdead
  7: 0x1000
modules:
  - name: main
    map-low: 0x400000
    map-high: 0x401000
    load-bias: 0x400000
    entry-point: 0
    symbols:
      - value: 0x400000
        size: 0
    frames:
      - source: eh
        pc-low: 0x123
        pc-high: 0x200
        return-addr-reg: 16
        regs:
          6:
            kind: same-value
          16:
            kind: expression
            ops:
              - atom: breg
                number: 7
                number2: 8
              - atom: deref
`

func writeManifest(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.yml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadManifestParsesFramesAndRules(t *testing.T) {
	path := writeManifest(t, sampleManifest)
	m, err := loadManifest(path)
	require.NoError(t, err)
	require.Equal(t, 8, m.WordSize)
	require.Len(t, m.Modules, 1)
	require.Len(t, m.Modules[0].Frames, 1)
}

func TestManifestModuleLookupAndStep(t *testing.T) {
	path := writeManifest(t, sampleManifest)
	m, err := loadManifest(path)
	require.NoError(t, err)

	lookup := newManifestModuleLookup(m)
	mod, ok := lookup.ModuleForPC(0x400123)
	require.True(t, ok)
	require.Equal(t, uint64(0x400000), mod.LoadBias())

	eh, has := mod.EHCFI()
	require.True(t, has)
	frame, err := eh.AddrFrame(0x123)
	require.NoError(t, err)
	require.Equal(t, 16, frame.ReturnAddrReg)

	_, has = mod.DwarfCFI()
	require.False(t, has)
}

func TestManifestDrivesASingleUnwindStep(t *testing.T) {
	path := writeManifest(t, sampleManifest)
	m, err := loadManifest(path)
	require.NoError(t, err)

	mem := fakeCLIMem{0x1008: 0x4005a0}
	arch := unwind.Arch{WordSize: 8, NumRegs: 32, ByteOrder: binary.LittleEndian}
	sess, err := unwind.NewSession(arch, mem, newManifestModuleLookup(m), 0)
	require.NoError(t, err)

	regs := regfile.New(32)
	for i, v := range m.InitialRegisters {
		regs.Set(i, v)
	}
	root := sess.NewRootFrame(m.InitialPC, regs, false)

	res, next, err := sess.Step(root)
	require.NoError(t, err)
	require.Equal(t, unwind.Stepped, res)
	require.Equal(t, uint64(0x4005a0), next.PC())

	v, ok := next.Registers().Get(6)
	require.True(t, ok)
	require.Equal(t, uint64(0xdead), v)
}

type fakeCLIMem map[uint64]uint64

func (m fakeCLIMem) ReadWord(addr uint64, width int) (uint64, error) {
	v, ok := m[addr]
	if !ok {
		return 0, os.ErrNotExist
	}
	return v, nil
}
