//go:build linux

package memview

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// LiveTask reads memory from a running process via ptrace, mirroring the
// teacher's native ptrace-backed proc.Thread memory reader. Only width
// bytes are requested from ptrace, so at width 4 on a 64-bit host the upper
// bits of the native word are never read. The returned bytes are always
// decoded as little-endian; the target's byte order is not consulted, so
// big-endian targets are not decoded correctly.
type LiveTask struct {
	Pid      int
	WordSize int // 4 or 8
}

// NewLiveTask constructs a LiveTask for pid at the given target word size.
func NewLiveTask(pid, wordSize int) *LiveTask {
	return &LiveTask{Pid: pid, WordSize: wordSize}
}

// ReadWord implements View.
func (t *LiveTask) ReadWord(addr uint64, width int) (uint64, error) {
	buf := make([]byte, width)
	n, err := unix.PtracePeekData(t.Pid, uintptr(addr), buf)
	if err != nil {
		logRead("live", addr, width, err)
		return 0, fmt.Errorf("%w: ptrace peek at %#x: %v", ErrNotMapped, addr, err)
	}
	if n != width {
		logRead("live", addr, width, fmt.Errorf("short read"))
		return 0, fmt.Errorf("%w: short ptrace peek at %#x (%d/%d bytes)", ErrNotMapped, addr, n, width)
	}
	// Native word read: the raw PEEKDATA result is always machine-word
	// sized. When width is smaller than the native word (32-bit target on
	// a 64-bit host) the upper bits are already excluded because we only
	// asked ptrace to fill a width-sized buffer; no additional masking or
	// byte-order correction is performed here, matching the teacher's
	// native reader and the spec's explicit call-out that live reads do
	// not byte-swap.
	v := decodeWord(buf, width, binary.LittleEndian)
	logRead("live", addr, width, nil)
	return v, nil
}
