// Package unwind implements the Unwinder: it orchestrates one unwind step
// by selecting a module and CFI source for the current PC, invoking the
// Frame Rule Applier, and classifying the result — plus the data model
// (Session, FrameState) and the Entry-Function Oracle integration that
// make up the rest of spec.md's CORE.
//
// Grounded on original_source/libdwfl/dwfl_frame_unwind.c (six-step
// algorithm: cached-child short-circuit, PC adjustment, module lookup,
// EH-then-DWARF CFI fallback, Entry-Function Oracle consultation) and on
// the teacher's pkg/proc/stack.go for Go-idiom struct shapes (this module
// does not replicate delve's Go-runtime-specific goroutine/system-stack
// switching policy — see SPEC_FULL.md Non-goals).
package unwind

import (
	"encoding/binary"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/corewalk/unwind/pkg/cfi"
	"github.com/corewalk/unwind/pkg/entryfunc"
	"github.com/corewalk/unwind/pkg/memview"
	"github.com/corewalk/unwind/pkg/regfile"
)

// PCClass classifies a FrameState's PC field, per spec.md §3.
type PCClass int

const (
	// PCError: the state is unusable for further unwinding.
	PCError PCClass = iota
	// PCSet: the frame has a valid PC and may be unwound further.
	PCSet
	// PCUndefined: the frame is terminal (outermost frame reached).
	PCUndefined
)

// Arch carries the architectural facts a Session needs: word width (4 or
// 8 bytes), register count, and byte order (taken from the target's ELF
// header per SPEC_FULL.md's endianness resolution).
type Arch struct {
	WordSize  int
	NumRegs   int
	ByteOrder binary.ByteOrder
}

// Module is the reduced external module-lookup contract: entry point and
// symbol lookup (for the Entry-Function Oracle), load bias, and access to
// its two possible CFI sources.
type Module interface {
	entryfunc.Module
	LoadBias() uint64
	EHCFI() (cfi.Provider, bool)
	DwarfCFI() (cfi.Provider, bool)
	// Key identifies this module uniquely for the purposes of caching CFI
	// lookups; typically its load base address.
	Key() uintptr
}

// ModuleLookup resolves a PC to the module containing it — the "ELF/
// program-header enumeration" collaborator spec.md places out of scope.
type ModuleLookup interface {
	ModuleForPC(pc uint64) (Module, bool)
}

// FrameState is a complete snapshot of one logical stack frame, per
// spec.md §3.
type FrameState struct {
	session     *Session
	regs        *regfile.File
	pc          uint64
	pcClass     PCClass
	signalFrame bool
	innermost   bool
	unwound     *FrameState
	err         error // populated only when pcClass == PCError
}

// NewRootFrame constructs the innermost FrameState of a new unwind: the
// frame the caller is currently stopped at.
func (s *Session) NewRootFrame(pc uint64, regs *regfile.File, signalFrame bool) *FrameState {
	return &FrameState{
		session:     s,
		regs:        regs,
		pc:          pc,
		pcClass:     PCSet,
		signalFrame: signalFrame,
		innermost:   true,
	}
}

// PC returns the frame's program counter.
func (f *FrameState) PC() uint64 { return f.pc }

// PCClass returns the frame's PC classification.
func (f *FrameState) PCClass() PCClass { return f.pcClass }

// Registers returns the frame's register file.
func (f *FrameState) Registers() *regfile.File { return f.regs }

// SignalFrame reports whether this frame was created by signal delivery.
func (f *FrameState) SignalFrame() bool { return f.signalFrame }

// Err returns the error that put this frame into PCError state, if any.
func (f *FrameState) Err() error { return f.err }

type cacheKey struct {
	mod uintptr
	pc  uint64
}

// Session owns the chain of FrameStates rooted at the frame the caller
// starts unwinding from, the architectural facts, and exactly one target
// (a live task or a core image) — enforced by construction, since target
// is accepted as the single memview.View the constructor is given.
type Session struct {
	Arch    Arch
	Target  memview.View
	Modules ModuleLookup

	cache *lru.Cache[cacheKey, *cfi.Frame]
}

// NewSession constructs a Session. cacheSize bounds the CFI-frame-lookup
// cache (spec.md's Non-goals forbid caching unwound frames, not caching
// CFI table lookups — this cache holds the latter); 0 disables caching.
func NewSession(arch Arch, target memview.View, modules ModuleLookup, cacheSize int) (*Session, error) {
	s := &Session{Arch: arch, Target: target, Modules: modules}
	if cacheSize > 0 {
		c, err := lru.New[cacheKey, *cfi.Frame](cacheSize)
		if err != nil {
			return nil, newError(UnknownError, "unwind: create CFI cache: %w", err)
		}
		s.cache = c
	}
	return s, nil
}
