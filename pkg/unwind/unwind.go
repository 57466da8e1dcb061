package unwind

import (
	"errors"

	"github.com/corewalk/unwind/internal/logflags"
	"github.com/corewalk/unwind/pkg/cfi"
	"github.com/corewalk/unwind/pkg/entryfunc"
)

// StepResult is the outcome of one Step call, per spec.md §6.
type StepResult int

const (
	// Stepped: the consumer's current-frame handle now refers to the
	// unwound frame.
	Stepped StepResult = iota
	// Terminal: the previous frame was the outermost.
	Terminal
	// Failed: the last error is populated.
	Failed
)

// Step computes the previous (caller) frame from cur, or reports that the
// outermost frame has been reached, or reports failure. It implements the
// six-step algorithm of spec.md §4.5, grounded on dwfl_frame_unwind in
// original_source/libdwfl/dwfl_frame_unwind.c.
//
// Calling Step twice on the same FrameState yields the same outcome and the
// same unwound FrameState object identity, since the second call
// short-circuits via the cached child (step 1).
func (s *Session) Step(cur *FrameState) (StepResult, *FrameState, error) {
	if cur.unwound != nil {
		return classify(cur.unwound)
	}

	pc := cur.pc
	adjusted := pc
	if !cur.innermost && !cur.signalFrame {
		// The saved return address points to the instruction after the
		// call; the unwinding rules for the call site are keyed by the
		// call instruction's address.
		adjusted = pc - 1
	}

	mod, ok := s.Modules.ModuleForPC(adjusted)
	if !ok {
		err := newError(NoDWARF, "unwind: no module contains pc %#x", adjusted)
		return Failed, nil, err
	}
	bias := mod.LoadBias()

	if logflags.Unwind() {
		logflags.UnwindLogger().Debugf("step: pc=%#x adjusted=%#x bias=%#x", pc, adjusted, bias)
	}

	sawNoMatch := false

	if prov, has := mod.EHCFI(); has {
		frame, err := s.lookupFrame(mod, prov, adjusted, bias)
		switch {
		case err == nil:
			return s.finishStep(cur, frame)
		case errors.Is(err, cfi.ErrNoMatch):
			sawNoMatch = true
		default:
			return Failed, nil, newError(LibDW, "unwind: eh_frame lookup at %#x: %w", adjusted, err)
		}
	}

	if prov, has := mod.DwarfCFI(); has {
		frame, err := s.lookupFrame(mod, prov, adjusted, bias)
		switch {
		case err == nil:
			return s.finishStep(cur, frame)
		case errors.Is(err, cfi.ErrNoMatch):
			sawNoMatch = true
		default:
			return Failed, nil, newError(LibDW, "unwind: debug_frame lookup at %#x: %w", adjusted, err)
		}
	}

	_ = sawNoMatch // both "absent" and "NO_MATCH" land here per spec.md step 6
	if entryfunc.InEntryFunction(adjusted, bias, mod) {
		cur.unwound = terminalSentinel(s)
		return Terminal, nil, nil
	}
	return Failed, nil, newError(NoDWARF, "unwind: no CFI covers pc %#x and it is not the entry function", adjusted)
}

// lookupFrame resolves adjusted to a cfi.Frame via prov, consulting (and
// populating) the per-module CFI lookup cache first.
func (s *Session) lookupFrame(mod Module, prov cfi.Provider, adjusted, bias uint64) (*cfi.Frame, error) {
	modPC := adjusted - bias
	if s.cache != nil {
		key := cacheKey{mod: mod.Key(), pc: modPC}
		if f, ok := s.cache.Get(key); ok {
			return f, nil
		}
		f, err := prov.AddrFrame(modPC)
		if err != nil {
			return nil, err
		}
		s.cache.Add(key, f)
		return f, nil
	}
	return prov.AddrFrame(modPC)
}

// finishStep applies frame to cur, attaches the result as cur's unwound
// child, and classifies it.
func (s *Session) finishStep(cur *FrameState, frame *cfi.Frame) (StepResult, *FrameState, error) {
	unwound := s.applyFrame(cur, frame)
	cur.unwound = unwound
	return classify(unwound)
}

// classify maps a FrameState's pcClass to the public StepResult/error pair.
func classify(fs *FrameState) (StepResult, *FrameState, error) {
	switch fs.pcClass {
	case PCSet:
		return Stepped, fs, nil
	case PCUndefined:
		return Terminal, nil, nil
	default: // PCError
		err := fs.err
		if err == nil {
			err = newError(UnknownError, "unwind: frame is in an error state")
		}
		return Failed, nil, err
	}
}

// terminalSentinel builds a FrameState representing "outermost frame
// reached" via the Entry-Function Oracle, so a second Step call on the
// same cur short-circuits to the same Terminal outcome (idempotence,
// spec.md §8).
func terminalSentinel(s *Session) *FrameState {
	return &FrameState{session: s, pcClass: PCUndefined}
}
