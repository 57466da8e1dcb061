package dwarfexpr

import (
	"errors"
	"fmt"
	"sort"

	"github.com/corewalk/unwind/internal/logflags"
	"github.com/corewalk/unwind/pkg/memview"
	"github.com/corewalk/unwind/pkg/regfile"
)

// ErrEval is the single "evaluation failed" error kind spec.md calls for;
// all failure modes (empty ops, stack underflow, unset register, memory
// failure, unrecognized opcode, unresolved branch, missing CFA) wrap it so
// callers can match on it uniformly while %w still carries the detail.
var ErrEval = errors.New("dwarfexpr: evaluation failed")

func evalErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrEval, fmt.Sprintf(format, args...))
}

// mask truncates v to width bytes (4 or 8), implementing the unsigned
// wraparound arithmetic spec.md requires for plus/mul/shl/and.
func mask(v uint64, width int) uint64 {
	if width == 4 {
		return v & 0xffffffff
	}
	return v
}

// signExtend reinterprets the low width*8 bits of v as signed, widened to
// a full int64 — used for the signed-compare opcodes.
func signExtend(v uint64, width int) int64 {
	if width == 4 {
		return int64(int32(uint32(v)))
	}
	return int64(v)
}

// stack is the unbounded LIFO the interpreter evaluates against. It starts
// with capacity 32 and doubles on overflow, and is never reused across
// evaluations (spec.md §5: "released unconditionally on every exit path" —
// in Go this just means we never retain it past Execute returning).
type stack struct {
	vals []uint64
}

func newStack() *stack {
	return &stack{vals: make([]uint64, 0, 32)}
}

func (s *stack) push(v uint64) {
	if len(s.vals) == cap(s.vals) {
		grown := make([]uint64, len(s.vals), cap(s.vals)*2)
		copy(grown, s.vals)
		s.vals = grown
	}
	s.vals = append(s.vals, v)
}

func (s *stack) pop() (uint64, error) {
	if len(s.vals) == 0 {
		return 0, evalErr("pop from empty stack")
	}
	v := s.vals[len(s.vals)-1]
	s.vals = s.vals[:len(s.vals)-1]
	return v, nil
}

func (s *stack) peek() (uint64, error) {
	if len(s.vals) == 0 {
		return 0, evalErr("peek on empty stack")
	}
	return s.vals[len(s.vals)-1], nil
}

// Registers is the minimal read interface Execute needs from a source
// frame's register file.
type Registers interface {
	Get(i int) (uint64, bool)
}

var _ Registers = (*regfile.File)(nil)

// hasCFA reports whether ops contains a call_frame_cfa opcode, scanned
// before execution begins per spec.md's CFA pre-pass.
func hasCFA(ops []Op) bool {
	for _, op := range ops {
		if op.Atom == OpCallFrameCFA {
			return true
		}
	}
	return false
}

// findByOffset binary-searches ops (which must be ascending by ByteOffset)
// for the Op whose ByteOffset equals target, mirroring the C original's
// bsearch-based branch resolution.
func findByOffset(ops []Op, target int64) int {
	i := sort.Search(len(ops), func(i int) bool { return ops[i].ByteOffset >= target })
	if i < len(ops) && ops[i].ByteOffset == target {
		return i
	}
	return -1
}

// Execute evaluates ops against regs and mem, returning the final value and
// whether it is a memory location (is_location) or an immediate value. If
// ops contains a call_frame_cfa opcode, cfaOps is evaluated first (with its
// own cfaOps set to nil, so a CFA expression may not itself reference
// call_frame_cfa — preventing unbounded recursion on pathological CFI, per
// spec.md §9) against the same regs, and the result is cached for the
// duration of this call.
func Execute(ops []Op, regs Registers, mem memview.View, wordSize int, cfaOps []Op) (result uint64, isLocation bool, err error) {
	if len(ops) == 0 {
		return 0, false, evalErr("empty opcode list")
	}

	var cfa uint64
	cfaValid := false
	if hasCFA(ops) {
		if cfaOps == nil {
			err = evalErr("call_frame_cfa used without a CFA expression")
		} else {
			cfa, _, err = Execute(cfaOps, regs, mem, wordSize, nil)
		}
		cfaValid = err == nil
	}

	st := newStack()

	resolveTarget := func(cur Op) (int, error) {
		target := cur.ByteOffset + 1 + 2 + int64(int16(cur.Number))
		idx := findByOffset(ops, target)
		if idx < 0 {
			return 0, evalErr("branch target %#x not found", target)
		}
		return idx, nil
	}

	if logflags.DwarfExpr() {
		logflags.DwarfExprLogger().Debugf("executing %d ops", len(ops))
	}

	for i := 0; i < len(ops); i++ {
		op := ops[i]
		switch op.Atom {
		case OpLit:
			st.push(mask(uint64(op.Number), wordSize))

		case OpConst:
			st.push(mask(uint64(op.Number), wordSize))

		case OpBreg:
			v, ok := regs.Get(int(op.Number))
			if !ok {
				return 0, false, evalErr("register %d unset (breg)", op.Number)
			}
			st.push(mask(uint64(int64(v)+op.Number2), wordSize))

		case OpBregx:
			v, ok := regs.Get(int(op.Number))
			if !ok {
				return 0, false, evalErr("register %d unset (bregx)", op.Number)
			}
			st.push(mask(uint64(int64(v)+op.Number2), wordSize))

		case OpPlusUconst:
			a, perr := st.pop()
			if perr != nil {
				return 0, false, perr
			}
			st.push(mask(a+uint64(op.Number), wordSize))

		case OpPlus, OpMul, OpShl, OpAnd:
			b, perr := st.pop()
			if perr != nil {
				return 0, false, perr
			}
			a, perr := st.pop()
			if perr != nil {
				return 0, false, perr
			}
			var v uint64
			switch op.Atom {
			case OpPlus:
				v = a + b
			case OpMul:
				v = a * b
			case OpShl:
				v = a << (b & 63)
			case OpAnd:
				v = a & b
			}
			st.push(mask(v, wordSize))

		case OpLt, OpLe, OpEq, OpNe, OpGe, OpGt:
			b, perr := st.pop()
			if perr != nil {
				return 0, false, perr
			}
			a, perr := st.pop()
			if perr != nil {
				return 0, false, perr
			}
			sa, sb := signExtend(a, wordSize), signExtend(b, wordSize)
			var cond bool
			switch op.Atom {
			case OpLt:
				cond = sa < sb
			case OpLe:
				cond = sa <= sb
			case OpEq:
				cond = sa == sb
			case OpNe:
				cond = sa != sb
			case OpGe:
				cond = sa >= sb
			case OpGt:
				cond = sa > sb
			}
			if cond {
				st.push(1)
			} else {
				st.push(0)
			}

		case OpDup:
			v, perr := st.peek()
			if perr != nil {
				return 0, false, perr
			}
			st.push(v)

		case OpDrop:
			if _, perr := st.pop(); perr != nil {
				return 0, false, perr
			}

		case OpNop:
			// no effect

		case OpDeref:
			addr, perr := st.pop()
			if perr != nil {
				return 0, false, perr
			}
			v, rerr := mem.ReadWord(addr, wordSize)
			if rerr != nil {
				return 0, false, fmt.Errorf("%w: deref at %#x: %v", ErrEval, addr, rerr)
			}
			st.push(v)

		case OpCallFrameCFA:
			if !cfaValid {
				return 0, false, evalErr("CFA unavailable for call_frame_cfa")
			}
			st.push(cfa)
			isLocation = true

		case OpStackValue:
			isLocation = false

		case OpBra:
			cond, perr := st.pop()
			if perr != nil {
				return 0, false, perr
			}
			if cond == 0 {
				continue
			}
			idx, terr := resolveTarget(op)
			if terr != nil {
				return 0, false, terr
			}
			i = idx - 1

		case OpSkip:
			idx, terr := resolveTarget(op)
			if terr != nil {
				return 0, false, terr
			}
			i = idx - 1

		default:
			return 0, false, evalErr("unrecognized opcode %v", op.Atom)
		}
	}

	result, err = st.pop()
	if err != nil {
		return 0, false, err
	}

	if isLocation {
		v, rerr := mem.ReadWord(result, wordSize)
		if rerr != nil {
			return 0, false, fmt.Errorf("%w: final location read at %#x: %v", ErrEval, result, rerr)
		}
		return v, isLocation, nil
	}
	return result, isLocation, nil
}
