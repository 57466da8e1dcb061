// Package dwarfexpr implements the DWARF expression interpreter: a small
// stack machine that evaluates Canonical Frame Address expressions and
// per-register recovery rules against a register file and a memory view.
//
// Grounded on the teacher's pkg/dwarf/op.ExecuteStackProgram (shape: regs +
// memory-read callback + opcode list in, value + is-location flag out) and
// on original_source/libdwfl/dwfl_frame_unwind.c's expr_eval (exact
// per-opcode semantics, the CFA pre-pass, and the bra/skip branch-target
// search).
package dwarfexpr

// Atom identifies a DWARF expression opcode family. Only the families
// spec.md names are implemented; anything else is Unknown and fails
// evaluation.
type Atom int

const (
	Unknown Atom = iota

	// Literal push: lit0..lit31. Number holds 0..31.
	OpLit
	// Sized/LEB constant push: const1u/s .. const8u/s, constu, consts.
	// Number holds the (already sign-extended-at-its-own-width, if
	// signed) immediate; the value is pre-widened by the encoder that
	// built the Op, and the Op does not record the original encoding.
	OpConst
	// Register-base push: breg0..breg31. Number is the register index
	// (0..31), Number2 the signed offset.
	OpBreg
	// bregx: register in Number, signed offset in Number2.
	OpBregx

	OpPlusUconst // pop x, push x+Number
	OpPlus       // pop b,a; push a+b
	OpMul        // pop b,a; push a*b
	OpShl        // pop b,a; push a<<b
	OpAnd        // pop b,a; push a&b

	OpLt // signed compares
	OpLe
	OpEq
	OpNe
	OpGe
	OpGt

	OpDup
	OpDrop
	OpNop

	OpDeref

	OpCallFrameCFA
	OpStackValue

	OpBra
	OpSkip
)

// Op is one opcode in a DWARF expression: a tagged instruction with up to
// two immediate operands and the byte offset it occupies within the
// expression (used as a bra/skip branch target). Ops within one expression
// must be stored in ascending ByteOffset order — the branch search below
// relies on it, matching the C original's use of bsearch over the same
// invariant.
type Op struct {
	Atom       Atom
	Number     int64
	Number2    int64
	ByteOffset int64
}

// Lit builds a literal-push Op (lit0..lit31).
func Lit(n int64) Op { return Op{Atom: OpLit, Number: n} }

// Const builds a sized/LEB constant-push Op with value n (already
// sign-extended to the target word width by the caller if it came from a
// signed encoding).
func Const(n int64) Op { return Op{Atom: OpConst, Number: n} }

// Breg builds a breg-family Op reading register reg plus signed offset off.
func Breg(reg int64, off int64) Op { return Op{Atom: OpBreg, Number: reg, Number2: off} }

// Bregx builds a bregx Op reading register reg plus signed offset off.
func Bregx(reg int64, off int64) Op { return Op{Atom: OpBregx, Number: reg, Number2: off} }
