package asm

import (
	"fmt"
	"os"
	"strings"

	"github.com/lookbusy1344/cal-assembler/parser"
)

// Stack depths. Overflow is a hard error: the assembler prints a message
// and exits.
const (
	MaxBaseStack      = 16
	MaxQualifierStack = 16
	MaxSectionStack   = 16
	MaxListStack      = 16
	MaxMacroDepth     = 32
)

// Lister receives listing output. The driver installs a formatter; a
// suppressed listing uses NopLister.
type Lister interface {
	File(name string)
	Line(addr uint32, parcels []uint16, sl *parser.SourceLine)
	Diag(code parser.ErrorCode, line int)
	Space(n int)
	Eject()
	Title(s string)
	Summary(errs, warns int, mask uint64)
	SymbolTable(m *Module)
}

// NopLister discards all listing output.
type NopLister struct{}

func (NopLister) File(string)                              {}
func (NopLister) Line(uint32, []uint16, *parser.SourceLine) {}
func (NopLister) Diag(parser.ErrorCode, int)               {}
func (NopLister) Space(int)                                {}
func (NopLister) Eject()                                   {}
func (NopLister) Title(string)                             {}
func (NopLister) Summary(int, int, uint64)                 {}
func (NopLister) SymbolTable(*Module)                      {}

// Assembler is the whole of the per-file mutable state: the current
// module, section and qualifier, the numeric base, the pass number, the
// control stacks and the diagnostic counters.
type Assembler struct {
	// Modes from the command line and config.
	Flexible          bool
	OldFormat         bool
	ImplicitExternals bool
	SectionStacking   bool
	WarningsAreErrors bool
	DefaultIdent      string

	Pass int
	Base int

	DefaultModule *Module
	FirstModule   *Module
	LastModule    *Module
	Module        *Module
	Section       *Section
	Qualifier     *Qualifier

	baseStack    [MaxBaseStack]int
	baseDepth    int
	qualStack    [MaxQualifierStack]*Qualifier
	qualDepth    int
	sectionStack [MaxSectionStack]*Section
	sectionDepth int
	listStack    [MaxListStack]bool
	listDepth    int
	ListOn       bool

	ErrCount   int
	WarnCount  int
	LineMask   uint64
	GlobalMask uint64

	Date  string
	Time  string
	JDate string

	Labels parser.LocalLabels
	Lister Lister

	// Source lines of the file being assembled, shared by both passes.
	Lines  []string
	LineNo int

	// cursor walks the module list in pass 2 so module-start
	// pseudo-instructions resynchronize on the modules pass 1 created.
	cursor *Module
}

// New creates assembler state with the default module installed as the
// fallback lookup scope.
func New() *Assembler {
	a := &Assembler{
		Base:   parser.BaseMixed,
		ListOn: true,
		Lister: NopLister{},
	}
	a.DefaultModule = NewModule("")
	a.resync()
	return a
}

// ResetFile zeroes the per-file state ahead of a new source file. Module
// lists are rebuilt per file.
func (a *Assembler) ResetFile() {
	a.DefaultModule = NewModule("")
	a.FirstModule = nil
	a.LastModule = nil
	a.Pass = 0
	a.Base = parser.BaseMixed
	a.baseDepth = 0
	a.qualDepth = 0
	a.sectionDepth = 0
	a.listDepth = 0
	a.ListOn = true
	a.ErrCount = 0
	a.WarnCount = 0
	a.LineMask = 0
	a.GlobalMask = 0
	a.Labels.Reset()
	a.resync()
}

// resync points the current module, section and qualifier at the default
// module; module-start and module-end pseudo-instructions call it through
// BeginModule/EndModule.
func (a *Assembler) resync() {
	a.Module = a.DefaultModule
	a.Section = a.Module.MixedSection()
	a.Qualifier = a.Module.RootQual
}

// BeginModule starts a named module and makes it current.
func (a *Assembler) BeginModule(ident string) *Module {
	m := NewModule(ident)
	if a.FirstModule == nil {
		a.FirstModule = m
	} else {
		a.LastModule.Next = m
	}
	a.LastModule = m
	a.Module = m
	a.Section = m.MixedSection()
	a.Qualifier = m.RootQual
	return m
}

// EndModule finishes the current module and resynchronizes on the default
// module.
func (a *Assembler) EndModule() {
	if a.ErrCount > 0 {
		a.Module.HasErrors = true
	}
	a.resync()
}

// EnterModulePass2 advances the module cursor and makes the next pass-1
// module current. Pass 2 must observe modules 1:1 with pass 1; a missing
// module (a desynchronized source) starts a fresh one.
func (a *Assembler) EnterModulePass2() *Module {
	if a.cursor == nil {
		a.cursor = a.FirstModule
	} else {
		a.cursor = a.cursor.Next
	}
	if a.cursor == nil {
		return a.BeginModule(a.DefaultIdent)
	}
	m := a.cursor
	a.Module = m
	a.Section = m.MixedSection()
	a.Qualifier = m.RootQual
	return m
}

// ResetPass resets the location counters of every section ahead of pass 2.
func (a *Assembler) ResetPass() {
	reset := func(m *Module) {
		for _, s := range m.Sections {
			s.ResetCounters()
		}
	}
	reset(a.DefaultModule)
	for m := a.FirstModule; m != nil; m = m.Next {
		reset(m)
	}
	a.Labels.Reset()
	a.resync()
	a.Base = parser.BaseMixed
	a.baseDepth = 0
	a.qualDepth = 0
	a.sectionDepth = 0
	a.cursor = nil
}

// RegisterError records a diagnostic. Repeated occurrences of one kind
// count once per line; the global mask accumulates across the run.
func (a *Assembler) RegisterError(code parser.ErrorCode) {
	if code == parser.ErrNone {
		return
	}
	bit := code.Bit()
	if a.LineMask&bit != 0 {
		return
	}
	a.LineMask |= bit
	a.GlobalMask |= bit
	if code.IsError() {
		a.ErrCount++
	} else if code.IsWarning() {
		a.WarnCount++
	}
	a.Lister.Diag(code, a.LineNo)
}

// BeginLine clears the per-line registration mask.
func (a *Assembler) BeginLine(n int) {
	a.LineNo = n
	a.LineMask = 0
}

// Fatalf reports an unrecoverable condition (stack overflow, I/O failure)
// and exits.
func (a *Assembler) Fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "cal: "+format+"\n", args...)
	os.Exit(1)
}

// PushBase / PopBase manage the BASE pseudo-instruction stack.
func (a *Assembler) PushBase(base int) {
	if a.baseDepth >= MaxBaseStack {
		a.Fatalf("base stack overflow")
	}
	a.baseStack[a.baseDepth] = a.Base
	a.baseDepth++
	a.Base = base
}

func (a *Assembler) PopBase() parser.ErrorCode {
	if a.baseDepth == 0 {
		return parser.ErrIllegalNesting
	}
	a.baseDepth--
	a.Base = a.baseStack[a.baseDepth]
	return parser.ErrNone
}

// PushQualifier / PopQualifier manage the QUAL stack.
func (a *Assembler) PushQualifier(q *Qualifier) {
	if a.qualDepth >= MaxQualifierStack {
		a.Fatalf("qualifier stack overflow")
	}
	a.qualStack[a.qualDepth] = a.Qualifier
	a.qualDepth++
	a.Qualifier = q
}

func (a *Assembler) PopQualifier() parser.ErrorCode {
	if a.qualDepth == 0 {
		return parser.ErrIllegalNesting
	}
	a.qualDepth--
	a.Qualifier = a.qualStack[a.qualDepth]
	return parser.ErrNone
}

// PushSection / PopSection manage SECTION stacking (disabled by -s).
func (a *Assembler) PushSection(s *Section) {
	if a.sectionDepth >= MaxSectionStack {
		a.Fatalf("section stack overflow")
	}
	if a.SectionStacking {
		a.sectionStack[a.sectionDepth] = a.Section
		a.sectionDepth++
	}
	a.Section = s
}

func (a *Assembler) PopSection() parser.ErrorCode {
	if a.sectionDepth == 0 {
		return parser.ErrIllegalNesting
	}
	a.sectionDepth--
	a.Section = a.sectionStack[a.sectionDepth]
	return parser.ErrNone
}

// PushList / PopList manage the listing-control stack.
func (a *Assembler) PushList(on bool) {
	if a.listDepth >= MaxListStack {
		a.Fatalf("list control stack overflow")
	}
	a.listStack[a.listDepth] = a.ListOn
	a.listDepth++
	a.ListOn = on
}

func (a *Assembler) PopList() parser.ErrorCode {
	if a.listDepth == 0 {
		return parser.ErrIllegalNesting
	}
	a.listDepth--
	a.ListOn = a.listStack[a.listDepth]
	return parser.ErrNone
}

// Micro implements parser.MicroResolver: the current module's micros, then
// the default module's, then the built-ins.
func (a *Assembler) Micro(name string) (string, bool) {
	if mic := a.Module.FindMicro(name); mic != nil {
		return mic.Text, true
	}
	if a.Module != a.DefaultModule {
		if mic := a.DefaultModule.FindMicro(name); mic != nil {
			return mic.Text, true
		}
	}
	switch strings.ToUpper(name) {
	case "$APP":
		return "^", true
	case "$CNC":
		return "_", true
	case "$CPU":
		return "CRAY XMP", true
	case "$MIC":
		return "\"", true
	case "$CMNT":
		return ";", true
	case "$DATE":
		return a.Date, true
	case "$TIME":
		return a.Time, true
	case "$JDATE":
		return a.JDate, true
	case "$QUAL":
		return a.Qualifier.ID, true
	}
	return "", false
}

// LocationValue returns the value a location symbol receives: the current
// location counter as a parcel address, relocatable or immobile per the
// containing section, plain when the module is absolute.
func (a *Assembler) LocationValue() Value {
	// OriginOffset is zero in pass 1; including it keeps pass-2 counter
	// references consistent with origin-adjusted pass-1 symbols.
	v := Value{
		Attr:    AttrParcelAddress,
		Int:     int64(a.Section.OriginOffset + a.Section.LocationCounter),
		Section: a.Section,
	}
	if !a.Module.Absolute {
		v.Coef = 1
		if a.Section.Immobile() {
			v.Attr |= AttrImmobile
		} else {
			v.Attr |= AttrRelocatable
		}
	}
	return v
}

// AddLocationSymbol defines the symbol named in a location field at the
// current location counter. In pass 1 an undefined placeholder is filled
// in and a defined symbol is a double definition. In pass 2 the symbol is
// marked defined-in-pass-2; a second pass-2 definition is a double
// definition.
func (a *Assembler) AddLocationSymbol(id string, v Value) parser.ErrorCode {
	return a.addSymbolValue(a.Qualifier, id, v)
}

func (a *Assembler) addSymbolValue(q *Qualifier, id string, v Value) parser.ErrorCode {
	sym := &Symbol{ID: id, ExtIndex: -1}
	node := q.InsertSymbol(sym)
	if node == sym {
		// Newly created. One full copy of the value.
		node.Value = v
		if a.Pass == 2 {
			node.Value.Attr |= AttrDefinedPass2
		}
		return parser.ErrNone
	}
	if a.Pass == 2 {
		if node.Value.Attr&AttrDefinedPass2 != 0 && node.Value.Attr&AttrRedefinable == 0 {
			return parser.ErrDoubleDefinition
		}
		// Pass-1 values were already adjusted by their section origins, so a
		// pass-2 definition only marks the symbol; undefined and redefinable
		// symbols still take the new value.
		if node.Value.Attr&(AttrUndefined|AttrRedefinable) != 0 {
			keep := node.Value.Attr & (AttrExternal | AttrEntry | AttrRedefinable)
			ext := node.ExtIndex
			node.Value = v
			node.Value.Attr |= keep
			node.ExtIndex = ext
		}
		node.Value.Attr |= AttrDefinedPass2
		return parser.ErrNone
	}
	if node.Value.Attr&AttrUndefined != 0 || node.Value.Attr&AttrRedefinable != 0 {
		keep := node.Value.Attr & (AttrExternal | AttrEntry)
		ext := node.ExtIndex
		node.Value = v
		node.Value.Attr |= keep
		node.ExtIndex = ext
		return parser.ErrNone
	}
	return parser.ErrDoubleDefinition
}

// DefineSymbol defines a symbol with an explicit value (EQU, SET) in the
// current qualifier.
func (a *Assembler) DefineSymbol(id string, v Value) parser.ErrorCode {
	return a.addSymbolValue(a.Qualifier, id, v)
}

// FindSymbolValue performs scoped lookup: an explicit qualifier in the
// current module, else the current qualifier, the module's root qualifier,
// and finally the default module's root.
func (a *Assembler) FindSymbolValue(name, qual string, hasQual bool) *Symbol {
	if hasQual {
		q := a.Module.FindQualifier(qual)
		if q == nil {
			return nil
		}
		return q.FindSymbol(name)
	}
	if sym := a.Qualifier.FindSymbol(name); sym != nil {
		return sym
	}
	if a.Qualifier != a.Module.RootQual {
		if sym := a.Module.RootQual.FindSymbol(name); sym != nil {
			return sym
		}
	}
	if a.Module != a.DefaultModule {
		if sym := a.DefaultModule.RootQual.FindSymbol(name); sym != nil {
			return sym
		}
	}
	return nil
}
