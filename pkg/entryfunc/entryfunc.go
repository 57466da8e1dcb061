// Package entryfunc implements the entry-function termination heuristic:
// whether a PC lies within the program's entry routine and unwinding
// should therefore terminate rather than report failure, because the
// entry routine typically carries no CFI (there is no meaningful caller).
//
// Grounded verbatim on no_fde in original_source/libdwfl/dwfl_frame_unwind.c
// ("GDB's 'inside entry func' heuristic", per its own comment); spec.md
// §4.6 describes the same contract.
package entryfunc

// Symbol is the reduced contract entryfunc needs from an external
// symbol-lookup collaborator: the value and size of the symbol closest to
// (at or before) a PC.
type Symbol struct {
	Value uint64
	Size  uint64
}

// Module is the reduced contract entryfunc needs from the external module
// lookup: the ELF entry-point address (unbiased) and a closest-symbol
// lookup.
type Module interface {
	// EntryPoint returns the module's unbiased ELF entry-point address.
	EntryPoint() uint64
	// AddrSym returns the symbol whose value is closest to, and at or
	// before, pc (already adjusted by bias), or ok=false if none exists.
	AddrSym(pc uint64) (sym Symbol, ok bool)
}

// InEntryFunction reports whether pc (already adjusted per spec.md §4.5's
// return-address rule, and given as an absolute address; bias is added to
// EntryPoint to bring the entry point into the same space) lies within
// mod's entry function.
//
// It requires, in order: pc at or after the (bias-adjusted) entry point;
// a symbol at or before pc whose value equals the entry point exactly; and,
// if that symbol has a nonzero size, pc strictly below entry+size. A
// zero-sized entry symbol (the common case — "_start" is typically
// size-less) matches any pc at or after the entry point.
func InEntryFunction(pc uint64, bias uint64, mod Module) bool {
	entry := mod.EntryPoint() + bias
	if pc < entry {
		return false
	}
	sym, ok := mod.AddrSym(pc)
	if !ok {
		return false
	}
	if sym.Value != entry {
		return false
	}
	if sym.Size != 0 && pc >= sym.Value+sym.Size {
		return false
	}
	return true
}
