// Package memview implements the read-only random-access byte source over a
// target address space that the rest of the unwinding engine reads
// registers and CFA-relative values through.
//
// Two backends are provided: LiveTask, which reads a running process via
// ptrace, and CoreImage, which reads a memory-mapped core file by scanning
// its loadable segments. Both satisfy View.
package memview

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/corewalk/unwind/internal/logflags"
)

// ErrNotMapped is returned when an address is not covered by any mapped
// region of the target (live task or core image).
var ErrNotMapped = errors.New("memview: address not mapped")

// ErrCrossesSegment is returned when a read would straddle two core-image
// segments (or the edge of the only one that partially covers it) instead
// of lying entirely within one.
var ErrCrossesSegment = errors.New("memview: read crosses segment boundary")

// View is a read-only random-access byte source over a target address
// space, supporting word reads at the configured width.
type View interface {
	// ReadWord reads a machine word of the given width (4 or 8 bytes) at
	// addr and returns it as an unsigned integer decoded per the view's
	// byte order.
	ReadWord(addr uint64, width int) (uint64, error)
}

// decodeWord interprets buf (exactly width bytes) as an unsigned integer
// using order. Shared by both backends: CoreImage passes its configured
// byte order, LiveTask always passes binary.LittleEndian.
func decodeWord(buf []byte, width int, order binary.ByteOrder) uint64 {
	switch width {
	case 4:
		return uint64(order.Uint32(buf))
	case 8:
		return order.Uint64(buf)
	default:
		panic(fmt.Sprintf("memview: unsupported word width %d", width))
	}
}

func logRead(component string, addr uint64, width int, err error) {
	if !logflags.MemView() {
		return
	}
	l := logflags.MemViewLogger()
	if err != nil {
		l.Debugf("%s read %#x width=%d failed: %v", component, addr, width, err)
	} else {
		l.Debugf("%s read %#x width=%d ok", component, addr, width)
	}
}
