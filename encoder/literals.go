package encoder

import (
	"github.com/lookbusy1344/cal-assembler/parser"
)

// EmitLiterals places every literal of the current module in the literals
// section. It runs twice per module: before pass 2 the section is still
// being sized and the call assigns offsets; after pass 2 it writes the
// values. Listing is suppressed throughout.
func (e *Encoder) EmitLiterals() {
	a := e.A
	m := a.Module
	if len(m.Literals) == 0 {
		return
	}
	sec := m.LiteralsSection()
	prev := a.Section
	a.Section = sec

	for _, lit := range m.Literals {
		e.ForceWordBoundary()
		sec.LocationCounter = sec.OriginCounter
		lit.Offset = sec.LocationCounter
		lit.Placed = true
		e.BeginItem()

		toks := lit.Tokens
		if len(toks) == 1 && toks[0].Kind == parser.TokenString {
			e.EmitStringBytes(toks[0].Str)
			e.ForceWordBoundary()
			continue
		}
		v, _ := a.Evaluate(toks)
		if v.IsFloat {
			e.EmitWord(ToCrayFloat(v.Float))
			continue
		}
		e.RecordDataFixup(&v, 64)
		e.EmitWord(uint64(v.Int)) // #nosec G115 -- 64-bit pattern
	}

	a.Section = prev
}

// EmitStringBytes appends a string literal's field image byte by byte.
func (e *Encoder) EmitStringBytes(lit *parser.StringLit) {
	for _, b := range lit.Bytes() {
		e.EmitFieldBits(uint64(b), 8)
	}
}
