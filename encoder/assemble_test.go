package encoder

import (
	"testing"

	"github.com/lookbusy1344/cal-assembler/asm"
	"github.com/lookbusy1344/cal-assembler/parser"
)

func tokenizeTest(t *testing.T, field string) ([]parser.Token, []parser.ErrorCode) {
	t.Helper()
	return parser.TokenizeField(field, parser.BaseMixed, false, nil)
}

// assembleLines runs both passes over the given source.
func assembleLines(t *testing.T, setup func(*asm.Assembler), lines ...string) *asm.Assembler {
	t.Helper()
	a := asm.New()
	a.ResetFile()
	a.DefaultIdent = "TEST"
	if setup != nil {
		setup(a)
	}
	a.Lines = lines
	New(a).Assemble()
	return a
}

func TestEquAndImmediateInstruction(t *testing.T) {
	a := assembleLines(t, nil,
		"         IDENT TEST",
		"X        EQU   5",
		"         A1    X",
		"         END",
	)
	m := a.FirstModule
	if m == nil || m.Ident != "TEST" {
		t.Fatal("module not created")
	}

	sym := m.RootQual.FindSymbol("X")
	if sym == nil {
		t.Fatal("symbol X missing")
	}
	if sym.Value.Int != 5 {
		t.Errorf("X value: got %d", sym.Value.Int)
	}
	if sym.Value.Attr&asm.AttrDefinedPass2 == 0 {
		t.Error("X must carry the defined-in-pass-2 bit")
	}
	if sym.Value.Attr&(asm.AttrRelocatable|asm.AttrImmobile|asm.AttrExternal) != 0 {
		t.Error("X must be a plain integer")
	}

	// A1 X packs opcode 020, i=1, jkm=5 into the first parcel pair.
	blk := m.FirstBlock
	if blk == nil {
		t.Fatal("no object block")
	}
	want := uint64(0o020)<<25 | 1<<22 | 5
	if got := blk.Word(0) >> 32; got != want {
		t.Errorf("instruction pair: got %#x, want %#x", got, want)
	}
}

func TestLiteralsShareOneEntry(t *testing.T) {
	a := assembleLines(t, nil,
		"         IDENT TEST",
		"         A1    =1",
		"         A2    =1",
		"         END",
	)
	m := a.FirstModule
	if len(m.Literals) != 1 {
		t.Fatalf("expected one literal entry, got %d", len(m.Literals))
	}
	sec := m.LiteralsSection()
	if sec.Size != 4 {
		t.Errorf("literals section size: got %d parcels, want 4", sec.Size)
	}
	if got := sec.Block.Word(sec.OriginOffset); got != 1 {
		t.Errorf("literal image: got %#x, want 1", got)
	}
	// Both instructions carry the literal's word address in jkm.
	blk := m.FirstBlock
	addr := uint64(sec.OriginOffset) / 4
	want := uint64(0o020)<<25 | 1<<22 | addr&0x3fffff
	if got := blk.Word(0) >> 32; got != want {
		t.Errorf("first instruction: got %#x, want %#x", got, want)
	}
}

func TestImplicitExternalReference(t *testing.T) {
	a := assembleLines(t, func(a *asm.Assembler) { a.ImplicitExternals = true },
		"         IDENT TEST",
		"         A1    FOO",
		"         END",
	)
	m := a.FirstModule
	if m.ExternalCount != 1 {
		t.Fatalf("expected one external, got %d", m.ExternalCount)
	}
	if m.FirstExternal.ID != "FOO" || m.FirstExternal.ExtIndex != 0 {
		t.Errorf("external chain: %s index %d", m.FirstExternal.ID, m.FirstExternal.ExtIndex)
	}
	blk := m.FirstBlock
	if len(blk.Externals) != 1 {
		t.Fatalf("expected one external fixup, got %d", len(blk.Externals))
	}
	en := blk.Externals[0]
	if en.ExtIndex != 0 || en.FieldLen != 22 || en.BitAddress != 31 {
		t.Errorf("fixup: %+v", en)
	}
	if a.ErrCount != 0 {
		t.Errorf("implicit externals must not count as errors, got %d", a.ErrCount)
	}
}

func TestAbsOriginScaledToParcels(t *testing.T) {
	a := assembleLines(t, nil,
		"         IDENT TEST",
		"         ABS   D'2'",
		"         CON   1",
		"         END",
	)
	m := a.FirstModule
	if !m.Absolute {
		t.Fatal("module must be absolute")
	}
	// A plain ABS operand is a word address: two words is eight parcels.
	if m.Origin != 8 {
		t.Errorf("origin: got %d parcels, want 8", m.Origin)
	}
}

func TestConData(t *testing.T) {
	a := assembleLines(t, nil,
		"         IDENT TEST",
		"TAB      CON   1,2,3",
		"         END",
	)
	m := a.FirstModule
	blk := m.FirstBlock
	for i, want := range []uint64{1, 2, 3} {
		if got := blk.Word(uint32(i * 4)); got != want {
			t.Errorf("word %d: got %#x, want %#x", i, got, want)
		}
	}
	sym := m.RootQual.FindSymbol("TAB")
	if sym == nil {
		t.Fatal("TAB missing")
	}
	if sym.Value.Attr.AddressType() != asm.AttrWordAddress {
		t.Error("TAB must be a word address")
	}
	if sym.Value.Int != 0 {
		t.Errorf("TAB value: got %d", sym.Value.Int)
	}
}

func TestVwdFields(t *testing.T) {
	a := assembleLines(t, nil,
		"         IDENT TEST",
		"         BASE  D",
		"         VWD   4:7,12:X'ABC',48:0",
		"         END",
	)
	blk := a.FirstModule.FirstBlock
	want := uint64(7)<<60 | uint64(0xABC)<<48
	if got := blk.Word(0); got != want {
		t.Errorf("packed word: got %#x, want %#x", got, want)
	}
}

func TestBssReservesWithoutEmitting(t *testing.T) {
	a := assembleLines(t, nil,
		"         IDENT TEST",
		"BUF      BSS   4",
		"         CON   D'9'",
		"         END",
	)
	m := a.FirstModule
	if m.MixedSection().Size != 20 {
		t.Errorf("section size: got %d parcels, want 20", m.MixedSection().Size)
	}
	blk := m.FirstBlock
	if got := blk.Word(16); got != 9 {
		t.Errorf("word after gap: got %#x", got)
	}
	// The reserved words were never written.
	if blk.LowestParcel != 16 {
		t.Errorf("lowest parcel: got %d, want 16", blk.LowestParcel)
	}
}

func TestBsszEmitsZeros(t *testing.T) {
	a := assembleLines(t, nil,
		"         IDENT TEST",
		"         BSSZ  2",
		"         END",
	)
	blk := a.FirstModule.FirstBlock
	if blk.Empty() {
		t.Fatal("BSSZ must write the image")
	}
	if blk.LowestParcel != 0 || blk.HighestParcel != 7 {
		t.Errorf("extent: %d..%d", blk.LowestParcel, blk.HighestParcel)
	}
}

func TestMacroExpansion(t *testing.T) {
	a := assembleLines(t, nil,
		"         IDENT TEST",
		"LOADX    MACRO REG,VAL",
		"         REG   VAL",
		"         ENDM",
		"         LOADX A1,5",
		"         END",
	)
	blk := a.FirstModule.FirstBlock
	want := uint64(0o020)<<25 | 1<<22 | 5
	if got := blk.Word(0) >> 32; got != want {
		t.Errorf("expanded instruction: got %#x, want %#x", got, want)
	}
}

func TestRegisterForms(t *testing.T) {
	a := assembleLines(t, nil,
		"         IDENT TEST",
		"         A1    A2+A3",
		"         S4    S5-S6",
		"         END",
	)
	blk := a.FirstModule.FirstBlock
	p0 := uint16(blk.Word(0) >> 48)
	if p0 != uint16(0o030)<<9|1<<6|2<<3|3 {
		t.Errorf("A1 A2+A3: got %#o", p0)
	}
	p1 := uint16(blk.Word(0) >> 32)
	if p1 != uint16(0o061)<<9|4<<6|5<<3|6 {
		t.Errorf("S4 S5-S6: got %#o", p1)
	}
}

func TestBranchRelocation(t *testing.T) {
	a := assembleLines(t, nil,
		"         IDENT TEST",
		"LOOP     PASS",
		"         J     LOOP",
		"         END",
	)
	m := a.FirstModule
	blk := m.FirstBlock
	// PASS in parcel 0, J in parcels 1-2 with target parcel 0.
	if got := uint16(blk.Word(0) >> 48); got != uint16(0o001)<<9 {
		t.Errorf("PASS parcel: got %#o", got)
	}
	if len(blk.Relocs) != 1 {
		t.Fatalf("expected one relocation, got %d", len(blk.Relocs))
	}
	re := blk.Relocs[0]
	if re.TargetBlock != blk.Index || !re.Parcel || re.Offset != 1 {
		t.Errorf("relocation: %+v", re)
	}
}

func TestEntryAndExternalChains(t *testing.T) {
	a := assembleLines(t, nil,
		"         IDENT TEST",
		"         ENTRY START",
		"         EXT   FOO,BAR",
		"START    PASS",
		"         A1    FOO",
		"         END",
	)
	m := a.FirstModule
	if m.EntryCount != 1 || m.FirstEntry.ID != "START" {
		t.Fatal("entry chain wrong")
	}
	if m.FirstEntry.Value.Attr&asm.AttrUndefined != 0 {
		t.Error("START must be defined by its location field")
	}
	if m.ExternalCount != 2 {
		t.Fatalf("expected 2 externals, got %d", m.ExternalCount)
	}
	if m.FirstExternal.ID != "FOO" || m.FirstExternal.Next.ID != "BAR" {
		t.Error("external chain order wrong")
	}
	if m.FirstExternal.ExtIndex != 0 || m.FirstExternal.Next.ExtIndex != 1 {
		t.Error("external indices wrong")
	}
}

func TestBasePseudo(t *testing.T) {
	a := assembleLines(t, nil,
		"         IDENT TEST",
		"         BASE  D",
		"         A1    10",
		"         BASE  *",
		"         A2    10",
		"         END",
	)
	blk := a.FirstModule.FirstBlock
	if got := blk.Word(0) >> 32 & 0x3fffff; got != 10 {
		t.Errorf("decimal base: jkm %d", got)
	}
	if got := blk.Word(0) & 0x3fffff; got != 8 {
		t.Errorf("restored mixed base: jkm %d", got)
	}
}

func TestCountersSettleAtModuleEnd(t *testing.T) {
	a := assembleLines(t, nil,
		"         IDENT TEST",
		"         A1    5",
		"         CON   1",
		"         END",
	)
	for _, s := range a.FirstModule.Sections {
		if s.ParcelBitPos != 0 {
			t.Errorf("section %q: %d pending bits", s.ID, s.ParcelBitPos)
		}
		if s.LocationCounter > s.OriginCounter {
			t.Errorf("section %q: location counter ahead of origin", s.ID)
		}
	}
}

func TestDoubleDefinitionError(t *testing.T) {
	a := assembleLines(t, nil,
		"         IDENT TEST",
		"X        EQU   1",
		"X        EQU   2",
		"         END",
	)
	if a.ErrCount == 0 {
		t.Error("double definition must raise an error")
	}
	if a.GlobalMask&parser.ErrDoubleDefinition.Bit() == 0 {
		t.Error("double-definition bit missing from the global mask")
	}
}

func TestDefaultModulePromotion(t *testing.T) {
	a := assembleLines(t, nil,
		"         A1    5",
	)
	m := a.FirstModule
	if m == nil {
		t.Fatal("default module was not promoted")
	}
	if m.Ident != "TEST" {
		t.Errorf("promoted ident: got %q", m.Ident)
	}
	if m.FirstBlock == nil {
		t.Error("promoted module must own the emitted block")
	}
}

func TestFlexibleLocalLabels(t *testing.T) {
	a := assembleLines(t, func(a *asm.Assembler) { a.Flexible = true },
		"         IDENT TEST",
		"1:",
		"         J     1b",
		"         END",
	)
	m := a.FirstModule
	sym := m.RootQual.FindSymbol("@1$1")
	if sym == nil {
		t.Fatal("renamed local label missing")
	}
	blk := m.FirstBlock
	if len(blk.Relocs) != 1 {
		t.Fatalf("expected a parcel relocation for the branch, got %d", len(blk.Relocs))
	}
}
