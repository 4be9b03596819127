package asm

import (
	"testing"

	"github.com/lookbusy1344/cal-assembler/parser"
)

func TestCompareNames(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"ABC", "abc", 0},
		{"AB", "ABC", -1}, // shorter sorts left
		{"ABC", "AB", 1},
		{"A", "B", -1},
		{"B", "A", 1},
		{"ALPHA", "ALPHB", -1},
	}
	for _, tt := range tests {
		if got := compareNames(tt.a, tt.b); got != tt.want {
			t.Errorf("compareNames(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestInsertSymbolRejectsDuplicates(t *testing.T) {
	q := &Qualifier{}
	first := &Symbol{ID: "X", ExtIndex: -1}
	if got := q.InsertSymbol(first); got != first {
		t.Fatal("first insert should return the new symbol")
	}
	dup := &Symbol{ID: "x", ExtIndex: -1}
	if got := q.InsertSymbol(dup); got != first {
		t.Error("duplicate insert must return the pre-existing entry")
	}
}

func TestExternalChainIndices(t *testing.T) {
	m := NewModule("T")
	names := []string{"ONE", "TWO", "THREE"}
	for _, n := range names {
		sym := &Symbol{ID: n, ExtIndex: -1}
		m.RootQual.InsertSymbol(sym)
		m.AddExternal(sym)
	}
	// Duplicate add is silently ignored.
	m.AddExternal(m.RootQual.FindSymbol("TWO"))

	if m.ExternalCount != 3 {
		t.Fatalf("expected 3 externals, got %d", m.ExternalCount)
	}
	i := 0
	for sym := m.FirstExternal; sym != nil; sym = sym.Next {
		if sym.ExtIndex != i {
			t.Errorf("external %s: index %d, want %d", sym.ID, sym.ExtIndex, i)
		}
		if sym.ID != names[i] {
			t.Errorf("external %d: got %s, want %s", i, sym.ID, names[i])
		}
		i++
	}
}

func TestAddLocationSymbolPassOne(t *testing.T) {
	a := New()
	a.ResetFile()
	a.Pass = 1
	a.BeginModule("T")

	v := a.LocationValue()
	if code := a.AddLocationSymbol("L", v); code != parser.ErrNone {
		t.Fatalf("first definition: %v", code)
	}
	if code := a.AddLocationSymbol("L", v); code != parser.ErrDoubleDefinition {
		t.Errorf("second definition: got %v, want double definition", code)
	}

	// An undefined placeholder is filled in without error.
	a.DefineSymbol("FWD", Value{Attr: AttrUndefined})
	if code := a.AddLocationSymbol("FWD", v); code != parser.ErrNone {
		t.Errorf("filling an undefined symbol: %v", code)
	}
	sym := a.FindSymbolValue("FWD", "", false)
	if sym.Value.Attr&AttrUndefined != 0 {
		t.Error("symbol should be defined after fill-in")
	}
}

func TestAddLocationSymbolPassTwo(t *testing.T) {
	a := New()
	a.ResetFile()
	a.Pass = 1
	a.BeginModule("T")
	v := a.LocationValue()
	if code := a.AddLocationSymbol("L", v); code != parser.ErrNone {
		t.Fatal(code)
	}

	a.Pass = 2
	if code := a.AddLocationSymbol("L", v); code != parser.ErrNone {
		t.Fatalf("pass-2 redefinition should mark the symbol: %v", code)
	}
	sym := a.FindSymbolValue("L", "", false)
	if sym.Value.Attr&AttrDefinedPass2 == 0 {
		t.Error("defined-in-pass-2 bit not set")
	}
	if code := a.AddLocationSymbol("L", v); code != parser.ErrDoubleDefinition {
		t.Errorf("second pass-2 definition: got %v, want double definition", code)
	}
}

func TestRedefinableSymbols(t *testing.T) {
	a := New()
	a.ResetFile()
	a.Pass = 1
	a.BeginModule("T")

	if code := a.DefineSymbol("S", Value{Int: 1, Attr: AttrRedefinable}); code != parser.ErrNone {
		t.Fatal(code)
	}
	if code := a.DefineSymbol("S", Value{Int: 2, Attr: AttrRedefinable}); code != parser.ErrNone {
		t.Fatalf("SET symbols are redefinable: %v", code)
	}
	if got := a.FindSymbolValue("S", "", false).Value.Int; got != 2 {
		t.Errorf("expected 2, got %d", got)
	}
}

func TestQualifierScopedLookup(t *testing.T) {
	a := New()
	a.ResetFile()
	a.Pass = 1
	a.BeginModule("T")

	// ROOT lives in the module's unnamed qualifier.
	a.DefineSymbol("ROOT", Value{Int: 1})

	q := a.Module.AddQualifier("Q")
	a.PushQualifier(q)
	a.DefineSymbol("INNER", Value{Int: 2})

	if sym := a.FindSymbolValue("INNER", "", false); sym == nil || sym.Value.Int != 2 {
		t.Error("lookup in current qualifier failed")
	}
	if sym := a.FindSymbolValue("ROOT", "", false); sym == nil || sym.Value.Int != 1 {
		t.Error("fallback to the root qualifier failed")
	}
	if sym := a.FindSymbolValue("INNER", "Q", true); sym == nil || sym.Value.Int != 2 {
		t.Error("explicitly qualified lookup failed")
	}

	if code := a.PopQualifier(); code != parser.ErrNone {
		t.Fatal(code)
	}
	if sym := a.FindSymbolValue("INNER", "", false); sym != nil {
		t.Error("INNER must not be visible from the root qualifier")
	}
}

func TestDefaultModuleFallback(t *testing.T) {
	a := New()
	a.ResetFile()
	a.Pass = 1
	a.DefineSymbol("GLOBAL", Value{Int: 7}) // into the default module

	a.BeginModule("T")
	if sym := a.FindSymbolValue("GLOBAL", "", false); sym == nil || sym.Value.Int != 7 {
		t.Error("fallback to the default module failed")
	}
}

func TestQualifierStackUnderflow(t *testing.T) {
	a := New()
	a.ResetFile()
	if code := a.PopQualifier(); code != parser.ErrIllegalNesting {
		t.Errorf("expected illegal nesting, got %v", code)
	}
	if code := a.PopBase(); code != parser.ErrIllegalNesting {
		t.Errorf("expected illegal nesting, got %v", code)
	}
}
