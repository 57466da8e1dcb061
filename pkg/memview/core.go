package memview

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

// Segment describes one loadable segment of a core (or core-like) image:
// its virtual address range and where the corresponding bytes live in the
// backing file. This is the reduced contract the out-of-scope ELF/program-
// header reader is expected to supply; CoreImage asks nothing else of it.
type Segment struct {
	Vaddr      uint64 // start of the virtual range
	Memsz      uint64 // size of the virtual range
	FileOffset uint64 // offset of the segment's data within the backing file
}

// end returns the (exclusive) end of the virtual range, aligned up to
// align (1 means unaligned / no-op).
func (s Segment) end(align uint64) uint64 {
	e := s.Vaddr + s.Memsz
	if align > 1 {
		e = (e + align - 1) &^ (align - 1)
	}
	return e
}

func (s Segment) start(align uint64) uint64 {
	v := s.Vaddr
	if align > 1 {
		v &^= align - 1
	}
	return v
}

// CoreImage is a read-only View over a core dump's loadable segments,
// backed by a memory-mapped file so large cores are never copied wholesale
// into process memory — grounded on saferwall/pe's use of mmap-go for
// zero-copy section access, applied here to core-file segment data instead
// of PE sections.
type CoreImage struct {
	segments []Segment
	align    uint64
	order    binary.ByteOrder
	data     mmap.MMap
	file     *os.File
}

// OpenCoreImage mmaps path and wraps it as a CoreImage using segments as
// its loadable-segment table and align as the session's segment alignment
// (1 disables alignment adjustment). order is the target's endianness, as
// read from its ELF header.
func OpenCoreImage(path string, segments []Segment, align uint64, order binary.ByteOrder) (*CoreImage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("memview: open core image: %w", err)
	}
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("memview: mmap core image: %w", err)
	}
	if align == 0 {
		align = 1
	}
	return &CoreImage{segments: segments, align: align, order: order, data: m, file: f}, nil
}

// Close unmaps the core image and closes the underlying file.
func (c *CoreImage) Close() error {
	err := c.data.Unmap()
	if cerr := c.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// ReadWord implements View. It scans the loadable segments for one that
// entirely contains [addr, addr+width) and decodes the word from the
// mapped file bytes at segment_file_offset + (addr - start). A read that
// isn't entirely contained in a single segment fails rather than
// straddling two, per spec.
func (c *CoreImage) ReadWord(addr uint64, width int) (uint64, error) {
	end := addr + uint64(width)
	for _, seg := range c.segments {
		start := seg.start(c.align)
		segEnd := seg.end(c.align)
		if addr < start || end > segEnd {
			continue
		}
		if addr >= start && end <= segEnd {
			fileOff := seg.FileOffset + (addr - start)
			if fileOff+uint64(width) > uint64(len(c.data)) {
				logRead("core", addr, width, ErrNotMapped)
				return 0, fmt.Errorf("%w: segment data truncated at %#x", ErrNotMapped, addr)
			}
			v := decodeWord(c.data[fileOff:fileOff+uint64(width)], width, c.order)
			logRead("core", addr, width, nil)
			return v, nil
		}
	}
	// The address fell at least partially inside an aligned segment range
	// but not entirely (straddles the boundary), vs. not being covered at
	// all: distinguish the two for a clearer error, though both are fatal.
	for _, seg := range c.segments {
		start := seg.start(c.align)
		segEnd := seg.end(c.align)
		if addr < segEnd && end > start && !(addr >= start && end <= segEnd) {
			logRead("core", addr, width, ErrCrossesSegment)
			return 0, fmt.Errorf("%w: [%#x,%#x) vs segment [%#x,%#x)", ErrCrossesSegment, addr, end, start, segEnd)
		}
	}
	logRead("core", addr, width, ErrNotMapped)
	return 0, fmt.Errorf("%w: %#x not in any loadable segment", ErrNotMapped, addr)
}
