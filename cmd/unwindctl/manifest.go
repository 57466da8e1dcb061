package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/corewalk/unwind/pkg/cfi"
	"github.com/corewalk/unwind/pkg/dwarfexpr"
	"github.com/corewalk/unwind/pkg/entryfunc"
	"github.com/corewalk/unwind/pkg/memview"
	"github.com/corewalk/unwind/pkg/unwind"
)

// Manifest is unwindctl's standalone description of a target: the real
// ELF/DWARF readers that would normally produce a Module and its CFI tables
// are out of scope (spec.md places them out of scope as external
// collaborators), so the demo CLI reads this small, explicit YAML shape
// instead. It is a fixture format, not a stand-in for DWARF.
type Manifest struct {
	WordSize         int              `yaml:"word-size"`
	NumRegs          int              `yaml:"num-regs"`
	BigEndian        bool             `yaml:"big-endian"`
	InitialPC        uint64           `yaml:"initial-pc"`
	InitialRegisters map[int]uint64   `yaml:"initial-registers"`
	Segments         []SegmentSpec    `yaml:"segments"`
	Modules          []ModuleSpec     `yaml:"modules"`
}

// SegmentSpec is one loadable segment backing a core file, mirroring
// memview.Segment.
type SegmentSpec struct {
	Vaddr      uint64 `yaml:"vaddr"`
	Memsz      uint64 `yaml:"memsz"`
	FileOffset uint64 `yaml:"file-offset"`
}

// ModuleSpec describes one loaded module: its mapped address range
// (absolute), its ELF entry point (unbiased), its load bias, a closest-
// symbol table (absolute values), and its CFI records.
type ModuleSpec struct {
	Name       string       `yaml:"name"`
	MapLow     uint64       `yaml:"map-low"`
	MapHigh    uint64       `yaml:"map-high"`
	LoadBias   uint64       `yaml:"load-bias"`
	EntryPoint uint64       `yaml:"entry-point"`
	Symbols    []SymbolSpec `yaml:"symbols"`
	Frames     []FrameSpec  `yaml:"frames"`
}

// SymbolSpec is one entry of a module's closest-symbol table, values given
// in the same absolute address space as Manifest.InitialPC.
type SymbolSpec struct {
	Value uint64 `yaml:"value"`
	Size  uint64 `yaml:"size"`
}

// FrameSpec is one CFI record. Source selects which of the module's two CFI
// sources (spec.md §4.5) it belongs to. PCLow/PCHigh are module-relative
// (unbiased), matching the space pkg/unwind's Step queries a Provider in.
type FrameSpec struct {
	Source           string         `yaml:"source"` // "eh" or "dwarf"
	PCLow            uint64         `yaml:"pc-low"`
	PCHigh           uint64         `yaml:"pc-high"`
	CFA              RuleSpec       `yaml:"cfa"`
	Regs             map[int]RuleSpec `yaml:"regs"`
	ReturnAddrReg    int            `yaml:"return-addr-reg"`
	SignalFrame      bool           `yaml:"signal-frame"`
	DefaultSameValue bool           `yaml:"default-same-value"`
}

// RuleSpec is one register (or CFA) recovery rule.
type RuleSpec struct {
	Kind string   `yaml:"kind"` // "undefined" | "same-value" | "expression"
	Ops  []OpSpec `yaml:"ops"`
}

// OpSpec is one DWARF expression opcode.
type OpSpec struct {
	Atom       string `yaml:"atom"`
	Number     int64  `yaml:"number"`
	Number2    int64  `yaml:"number2"`
	ByteOffset int64  `yaml:"byte-offset"`
}

func loadManifest(path string) (*Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	if m.NumRegs == 0 {
		m.NumRegs = 32
	}
	return &m, nil
}

var atomNames = map[string]dwarfexpr.Atom{
	"lit":            dwarfexpr.OpLit,
	"const":          dwarfexpr.OpConst,
	"breg":           dwarfexpr.OpBreg,
	"bregx":          dwarfexpr.OpBregx,
	"plus-uconst":    dwarfexpr.OpPlusUconst,
	"plus":           dwarfexpr.OpPlus,
	"mul":            dwarfexpr.OpMul,
	"shl":            dwarfexpr.OpShl,
	"and":            dwarfexpr.OpAnd,
	"lt":             dwarfexpr.OpLt,
	"le":             dwarfexpr.OpLe,
	"eq":             dwarfexpr.OpEq,
	"ne":             dwarfexpr.OpNe,
	"ge":             dwarfexpr.OpGe,
	"gt":             dwarfexpr.OpGt,
	"dup":            dwarfexpr.OpDup,
	"drop":           dwarfexpr.OpDrop,
	"nop":            dwarfexpr.OpNop,
	"deref":          dwarfexpr.OpDeref,
	"call-frame-cfa": dwarfexpr.OpCallFrameCFA,
	"stack-value":    dwarfexpr.OpStackValue,
	"bra":            dwarfexpr.OpBra,
	"skip":           dwarfexpr.OpSkip,
}

func (o OpSpec) toOp() (dwarfexpr.Op, error) {
	atom, ok := atomNames[o.Atom]
	if !ok {
		return dwarfexpr.Op{}, fmt.Errorf("unwindctl: unrecognized opcode atom %q", o.Atom)
	}
	return dwarfexpr.Op{Atom: atom, Number: o.Number, Number2: o.Number2, ByteOffset: o.ByteOffset}, nil
}

func (r RuleSpec) toRule() (cfi.Rule, error) {
	switch r.Kind {
	case "", "undefined":
		return cfi.Rule{Kind: cfi.RuleUndefined}, nil
	case "same-value":
		return cfi.Rule{Kind: cfi.RuleSameValue}, nil
	case "expression":
		ops := make([]dwarfexpr.Op, 0, len(r.Ops))
		for _, o := range r.Ops {
			op, err := o.toOp()
			if err != nil {
				return cfi.Rule{}, err
			}
			ops = append(ops, op)
		}
		return cfi.Rule{Kind: cfi.RuleExpression, Ops: ops}, nil
	default:
		return cfi.Rule{}, fmt.Errorf("unwindctl: unrecognized rule kind %q", r.Kind)
	}
}

func (f FrameSpec) toFrame() (*cfi.Frame, error) {
	cfaRule, err := f.CFA.toRule()
	if err != nil {
		return nil, err
	}
	regs := make(map[int]cfi.Rule, len(f.Regs))
	for i, rs := range f.Regs {
		rule, err := rs.toRule()
		if err != nil {
			return nil, err
		}
		regs[i] = rule
	}
	return &cfi.Frame{
		CFA:              cfaRule,
		Regs:             regs,
		ReturnAddrReg:    f.ReturnAddrReg,
		SignalFrame:      f.SignalFrame,
		DefaultSameValue: f.DefaultSameValue,
	}, nil
}

// manifestProvider serves one module's CFI records for a single source
// ("eh" or "dwarf") via linear range scan — adequate for the small, hand-
// written manifests this CLI targets; a real CFI table would use the
// section's own index instead.
type manifestProvider struct {
	frames []FrameSpec
}

func (p *manifestProvider) AddrFrame(pc uint64) (*cfi.Frame, error) {
	for _, f := range p.frames {
		if pc >= f.PCLow && pc < f.PCHigh {
			return f.toFrame()
		}
	}
	return nil, cfi.ErrNoMatch
}

// manifestModule adapts one ModuleSpec to unwind.Module and entryfunc.Module.
type manifestModule struct {
	spec     ModuleSpec
	eh, dw   *manifestProvider
	hasEH    bool
	hasDwarf bool
}

func newManifestModule(spec ModuleSpec) *manifestModule {
	m := &manifestModule{spec: spec}
	var ehFrames, dwFrames []FrameSpec
	for _, f := range spec.Frames {
		switch f.Source {
		case "eh":
			ehFrames = append(ehFrames, f)
		case "dwarf":
			dwFrames = append(dwFrames, f)
		}
	}
	if len(ehFrames) > 0 {
		m.eh = &manifestProvider{frames: ehFrames}
		m.hasEH = true
	}
	if len(dwFrames) > 0 {
		m.dw = &manifestProvider{frames: dwFrames}
		m.hasDwarf = true
	}
	return m
}

func (m *manifestModule) EntryPoint() uint64 { return m.spec.EntryPoint }

func (m *manifestModule) AddrSym(pc uint64) (entryfunc.Symbol, bool) {
	var best *SymbolSpec
	for i := range m.spec.Symbols {
		s := &m.spec.Symbols[i]
		if s.Value > pc {
			continue
		}
		if best == nil || s.Value > best.Value {
			best = s
		}
	}
	if best == nil {
		return entryfunc.Symbol{}, false
	}
	return entryfunc.Symbol{Value: best.Value, Size: best.Size}, true
}

func (m *manifestModule) LoadBias() uint64 { return m.spec.LoadBias }

func (m *manifestModule) EHCFI() (cfi.Provider, bool) {
	if !m.hasEH {
		return nil, false
	}
	return m.eh, true
}

func (m *manifestModule) DwarfCFI() (cfi.Provider, bool) {
	if !m.hasDwarf {
		return nil, false
	}
	return m.dw, true
}

func (m *manifestModule) Key() uintptr { return uintptr(m.spec.MapLow) }

// manifestModuleLookup resolves a PC to a module by its mapped range.
type manifestModuleLookup struct {
	modules []*manifestModule
}

func newManifestModuleLookup(m *Manifest) *manifestModuleLookup {
	l := &manifestModuleLookup{}
	for _, spec := range m.Modules {
		l.modules = append(l.modules, newManifestModule(spec))
	}
	return l
}

func (l *manifestModuleLookup) ModuleForPC(pc uint64) (unwind.Module, bool) {
	for _, mod := range l.modules {
		if pc >= mod.spec.MapLow && pc < mod.spec.MapHigh {
			return mod, true
		}
	}
	return nil, false
}

func (m *Manifest) segments() []memview.Segment {
	segs := make([]memview.Segment, 0, len(m.Segments))
	for _, s := range m.Segments {
		segs = append(segs, memview.Segment{Vaddr: s.Vaddr, Memsz: s.Memsz, FileOffset: s.FileOffset})
	}
	return segs
}
