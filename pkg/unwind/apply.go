package unwind

import (
	"github.com/corewalk/unwind/internal/logflags"
	"github.com/corewalk/unwind/pkg/cfi"
	"github.com/corewalk/unwind/pkg/dwarfexpr"
	"github.com/corewalk/unwind/pkg/regfile"
)

// applyFrame is the Frame Rule Applier (spec.md §4.4): given the source
// FrameState and a CFI frame for its PC, it produces an unwound FrameState.
// Grounded on handle_cfi in original_source/libdwfl/dwfl_frame_unwind.c.
func (s *Session) applyFrame(src *FrameState, frame *cfi.Frame) *FrameState {
	unwound := &FrameState{
		session:     s,
		regs:        regfile.New(s.Arch.NumRegs),
		signalFrame: frame.SignalFrame,
	}

	for r := 0; r < s.Arch.NumRegs; r++ {
		rule := frame.RuleFor(r)
		switch rule.Kind {
		case cfi.RuleUndefined:
			continue

		case cfi.RuleSameValue:
			v, ok := src.regs.Get(r)
			if !ok {
				unwound.pcClass = PCError
				unwound.err = newError(UnknownError, "unwind: same-value rule for register %d but source register is unset", r)
				return unwound
			}
			unwound.regs.Set(r, v)

		case cfi.RuleExpression:
			v, _, err := dwarfexpr.Execute(rule.Ops, src.regs, s.Target, s.Arch.WordSize, frame.CFA.Ops)
			if err != nil {
				// Known concession (spec.md §4.4): leave the register
				// unset rather than failing the whole frame. Some
				// toolchains emit invalid ops on vDSO-style frames; using
				// the register later will itself fail, but frames that
				// never touch it still unwind correctly.
				if logflags.Unwind() {
					logflags.UnwindLogger().Debugf("register %d expression rule failed, leaving unset: %v", r, err)
				}
				continue
			}
			unwound.regs.Set(r, v)

		default:
			unwound.pcClass = PCError
			unwound.err = newError(UnknownError, "unwind: unrecognized rule kind %v for register %d", rule.Kind, r)
			return unwound
		}
	}

	pc, ok := unwound.regs.Get(frame.ReturnAddrReg)
	switch {
	case !ok:
		unwound.pcClass = PCUndefined
	case !frame.DefaultSameValue && pc == 0:
		// Architectures differ on whether a zero return address denotes
		// end-of-stack (PowerPC 32) or an explicit undefined marker
		// (x86/x86-64 use DW_CFA_undefined instead) — the per-table flag
		// selects, per spec.md §4.4.
		unwound.pcClass = PCUndefined
	default:
		unwound.pc = pc
		unwound.pcClass = PCSet
	}
	return unwound
}
