package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/lookbusy1344/cal-assembler/asm"
	"github.com/lookbusy1344/cal-assembler/parser"
)

// fileLister formats the human-readable listing: a per-line record with
// address and packed code, diagnostics, the end-of-run error summary and a
// symbol-table dump per module.
type fileLister struct {
	w     io.Writer
	date  string
	clock string
}

func newFileLister(w io.Writer, date, clock string) *fileLister {
	return &fileLister{w: w, date: date, clock: clock}
}

func (l *fileLister) File(name string) {
	_, _ = fmt.Fprintf(l.w, "CAL  %s  %s    %s\n\n", l.date, l.clock, name)
}

func (l *fileLister) Line(addr uint32, parcels []uint16, sl *parser.SourceLine) {
	if sl.CommentLine || (sl.Empty() && len(parcels) == 0) {
		_, _ = fmt.Fprintf(l.w, "%26s%s\n", "", sl.Raw)
		return
	}
	code := ""
	shown := parcels
	if len(shown) > 4 {
		shown = shown[:4]
	}
	for _, p := range shown {
		code += fmt.Sprintf("%06o ", p)
	}
	_, _ = fmt.Fprintf(l.w, "%8o  %-28s  %s\n", addr, code, sl.Raw)

	// Continuation lines for long data emissions.
	rest := parcels[len(shown):]
	for len(rest) > 0 {
		n := len(rest)
		if n > 4 {
			n = 4
		}
		code = ""
		for _, p := range rest[:n] {
			code += fmt.Sprintf("%06o ", p)
		}
		_, _ = fmt.Fprintf(l.w, "%8s  %-28s\n", "", code)
		rest = rest[n:]
	}
}

func (l *fileLister) Diag(code parser.ErrorCode, line int) {
	_, _ = fmt.Fprintf(l.w, "*** %-3s line %d: %s\n", code.Indicator(), line, code.Message())
}

func (l *fileLister) Space(n int) {
	for i := 0; i < n; i++ {
		_, _ = fmt.Fprintln(l.w)
	}
}

func (l *fileLister) Eject() {
	_, _ = fmt.Fprint(l.w, "\f")
}

func (l *fileLister) Title(s string) {
	_, _ = fmt.Fprintf(l.w, "\n%s\n\n", s)
}

func (l *fileLister) Summary(errs, warns int, mask uint64) {
	_, _ = fmt.Fprintf(l.w, "\n%d errors, %d warnings\n", errs, warns)
	if mask == 0 {
		return
	}
	_, _ = fmt.Fprintln(l.w, "Diagnostics issued:")
	for _, code := range parser.AllCodes() {
		if mask&code.Bit() != 0 {
			_, _ = fmt.Fprintf(l.w, "  %-3s %s\n", code.Indicator(), code.Message())
		}
	}
}

func (l *fileLister) SymbolTable(m *asm.Module) {
	type entry struct {
		qual string
		sym  *asm.Symbol
	}
	var entries []entry
	m.EachSymbol(func(q *asm.Qualifier, s *asm.Symbol) {
		entries = append(entries, entry{qual: q.ID, sym: s})
	})
	if len(entries) == 0 {
		return
	}

	_, _ = fmt.Fprintf(l.w, "\nSymbol Table - %s\n", m.Ident)
	_, _ = fmt.Fprintln(l.w, "=======================")
	_, _ = fmt.Fprintf(l.w, "%-20s %-10s %-12s %s\n", "Name", "Qualifier", "Value", "Attributes")

	// Sort symbols by value for easier reading
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].sym.Value.Int < entries[j].sym.Value.Int
	})

	for _, en := range entries {
		s := en.sym
		_, _ = fmt.Fprintf(l.w, "%-20s %-10s %-12o %s\n",
			s.ID, en.qual, s.Value.Int, attributeString(&s.Value))
	}
}

func attributeString(v *asm.Value) string {
	var attrs []byte
	switch v.Attr.AddressType() {
	case asm.AttrWordAddress:
		attrs = append(attrs, 'W')
	case asm.AttrParcelAddress:
		attrs = append(attrs, 'P')
	case asm.AttrByteAddress:
		attrs = append(attrs, 'B')
	}
	if v.Attr&asm.AttrRelocatable != 0 {
		attrs = append(attrs, '+')
	}
	if v.Attr&asm.AttrImmobile != 0 {
		attrs = append(attrs, 'I')
	}
	if v.Attr&asm.AttrExternal != 0 {
		attrs = append(attrs, 'X')
	}
	if v.Attr&asm.AttrEntry != 0 {
		attrs = append(attrs, 'E')
	}
	if v.Attr&asm.AttrUndefined != 0 {
		attrs = append(attrs, 'U')
	}
	if v.Attr&asm.AttrRedefinable != 0 {
		attrs = append(attrs, '=')
	}
	return string(attrs)
}
