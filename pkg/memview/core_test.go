package memview

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeCoreFixture(t *testing.T, contents []byte) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "core")
	require.NoError(t, os.WriteFile(path, contents, 0o600))
	return path
}

func TestCoreImageReadWord(t *testing.T) {
	buf := make([]byte, 0x1000)
	binary.LittleEndian.PutUint64(buf[0x100:], 0xdeadbeefcafef00d)
	path := writeCoreFixture(t, buf)

	segs := []Segment{{Vaddr: 0x400000, Memsz: 0x1000, FileOffset: 0}}
	img, err := OpenCoreImage(path, segs, 1, binary.LittleEndian)
	require.NoError(t, err)
	defer img.Close()

	v, err := img.ReadWord(0x400100, 8)
	require.NoError(t, err)
	require.Equal(t, uint64(0xdeadbeefcafef00d), v)
}

func TestCoreImageUnmappedAddress(t *testing.T) {
	path := writeCoreFixture(t, make([]byte, 0x1000))
	segs := []Segment{{Vaddr: 0x400000, Memsz: 0x1000, FileOffset: 0}}
	img, err := OpenCoreImage(path, segs, 1, binary.LittleEndian)
	require.NoError(t, err)
	defer img.Close()

	_, err = img.ReadWord(0x500000, 8)
	require.ErrorIs(t, err, ErrNotMapped)
}

func TestCoreImageStraddlingSegmentFails(t *testing.T) {
	path := writeCoreFixture(t, make([]byte, 0x1000))
	segs := []Segment{{Vaddr: 0x400000, Memsz: 0x8, FileOffset: 0}}
	img, err := OpenCoreImage(path, segs, 1, binary.LittleEndian)
	require.NoError(t, err)
	defer img.Close()

	// Segment covers [0x400000, 0x400008); an 8-byte read at 0x400004
	// straddles the end of the segment.
	_, err = img.ReadWord(0x400004, 8)
	require.Error(t, err)
}

func TestCoreImageRespectsSegmentAlignment(t *testing.T) {
	buf := make([]byte, 0x2000)
	binary.BigEndian.PutUint32(buf[0x10:], 0x01020304)
	path := writeCoreFixture(t, buf)

	// Unaligned vaddr, aligned down to a 0x1000 boundary; FileOffset is
	// relative to the aligned segment start (0x400000), matching how a
	// real ELF program header's p_offset/p_vaddr pair stay congruent mod
	// the segment alignment.
	segs := []Segment{{Vaddr: 0x400010, Memsz: 0x10, FileOffset: 0}}
	img, err := OpenCoreImage(path, segs, 0x1000, binary.BigEndian)
	require.NoError(t, err)
	defer img.Close()

	v, err := img.ReadWord(0x400010, 4)
	require.NoError(t, err)
	require.Equal(t, uint64(0x01020304), v)
}
