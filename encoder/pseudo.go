package encoder

import (
	"strings"

	"github.com/lookbusy1344/cal-assembler/asm"
	"github.com/lookbusy1344/cal-assembler/parser"
)

// pseudoDef binds a pseudo-instruction to its handler. Handlers with
// usesLocation consume the location field themselves; the others raise an
// ignored-location warning when one is present.
type pseudoDef struct {
	handler      func(*Encoder, *parser.SourceLine, []parser.Token) parser.ErrorCode
	usesLocation bool
}

var pseudoTable = map[string]pseudoDef{
	"IDENT":    {handler: (*Encoder).pIdent},
	"END":      {handler: (*Encoder).pEnd},
	"ABS":      {handler: (*Encoder).pAbs},
	"EQU":      {handler: (*Encoder).pEqu, usesLocation: true},
	"=":        {handler: (*Encoder).pEqu, usesLocation: true},
	"SET":      {handler: (*Encoder).pSet, usesLocation: true},
	"CON":      {handler: (*Encoder).pCon, usesLocation: true},
	"DATA":     {handler: (*Encoder).pData, usesLocation: true},
	"VWD":      {handler: (*Encoder).pVwd, usesLocation: true},
	"BSS":      {handler: (*Encoder).pBss, usesLocation: true},
	"BSSZ":     {handler: (*Encoder).pBssz, usesLocation: true},
	"ORG":      {handler: (*Encoder).pOrg},
	"SECTION":  {handler: (*Encoder).pSection, usesLocation: true},
	"BLOCK":    {handler: (*Encoder).pBlock, usesLocation: true},
	"QUAL":     {handler: (*Encoder).pQual},
	"BASE":     {handler: (*Encoder).pBase},
	"EXT":      {handler: (*Encoder).pExt},
	"ENTRY":    {handler: (*Encoder).pEntry},
	"MICRO":    {handler: (*Encoder).pMicro, usesLocation: true},
	"LIST":     {handler: (*Encoder).pList},
	"SPACE":    {handler: (*Encoder).pSpace},
	"EJECT":    {handler: (*Encoder).pEject},
	"TITLE":    {handler: (*Encoder).pTitle},
	"SUBTITLE": {handler: (*Encoder).pTitle},
	"COMMENT":  {handler: (*Encoder).pComment},
	"STACK":    {handler: (*Encoder).pStack},
	"FORMAT":   {handler: (*Encoder).pFormat},
}

func (e *Encoder) pIdent(sl *parser.SourceLine, opToks []parser.Token) parser.ErrorCode {
	name := operandName(opToks)
	if name == "" {
		name = e.A.DefaultIdent
	}
	name = asm.TruncateName(name)
	if e.A.Pass == 1 {
		e.A.BeginModule(name)
	} else {
		e.A.EnterModulePass2()
	}
	return parser.ErrNone
}

func (e *Encoder) pEnd(sl *parser.SourceLine, opToks []parser.Token) parser.ErrorCode {
	e.A.RegisterError(parser.InfoModuleEnd)
	e.A.EndModule()
	return parser.ErrNone
}

func (e *Encoder) pAbs(sl *parser.SourceLine, opToks []parser.Token) parser.ErrorCode {
	e.A.Module.Absolute = true
	if len(opToks) > 0 {
		v, code := e.A.Evaluate(opToks)
		if code != parser.ErrNone {
			return code
		}
		parcel := parcelAddress(&v)
		if parcel < 0 {
			return parser.ErrOperandField
		}
		// Module.Origin holds parcels; the writer uses it as-is.
		e.A.Module.Origin = uint32(parcel) // #nosec G115 -- checked non-negative
	}
	return parser.ErrNone
}

// parcelAddress rescales an evaluated operand to parcels. Plain and word
// operands are word addresses.
func parcelAddress(v *asm.Value) int64 {
	switch v.Attr.AddressType() {
	case asm.AttrParcelAddress:
		return v.Int
	case asm.AttrByteAddress:
		return v.Int / 2
	default:
		return v.Int * 4
	}
}

func (e *Encoder) pEqu(sl *parser.SourceLine, opToks []parser.Token) parser.ErrorCode {
	return e.define(sl, opToks, 0)
}

func (e *Encoder) pSet(sl *parser.SourceLine, opToks []parser.Token) parser.ErrorCode {
	return e.define(sl, opToks, asm.AttrRedefinable)
}

func (e *Encoder) define(sl *parser.SourceLine, opToks []parser.Token, extra asm.Attr) parser.ErrorCode {
	if sl.Location == "" {
		return parser.ErrLocationField
	}
	v, code := e.A.Evaluate(opToks)
	if code != parser.ErrNone && code != parser.ErrUndefined {
		return code
	}
	v.Attr |= extra
	if code := e.A.DefineSymbol(sl.Location, v); code != parser.ErrNone {
		return code
	}
	return code
}

// defineStorageLabel defines the location symbol of a storage
// pseudo-instruction as a word address at the (already aligned) location
// counter.
func (e *Encoder) defineStorageLabel(sl *parser.SourceLine) parser.ErrorCode {
	if sl.Location == "" {
		return parser.ErrNone
	}
	v := e.A.LocationValue()
	v.Attr = v.Attr&^asm.AttrParcelAddress | asm.AttrWordAddress
	v.Int /= 4
	return e.A.AddLocationSymbol(sl.Location, v)
}

func (e *Encoder) pCon(sl *parser.SourceLine, opToks []parser.Token) parser.ErrorCode {
	e.ForceWordBoundary()
	e.BeginItem()
	if code := e.defineStorageLabel(sl); code != parser.ErrNone {
		e.A.RegisterError(code)
	}
	var first parser.ErrorCode
	for _, sub := range parser.SplitSubfields(opToks) {
		e.BeginItem()
		if len(sub) == 1 && sub[0].Kind == parser.TokenString {
			e.EmitWord(uint64(sub[0].Str.Value())) // #nosec G115 -- 64-bit pattern
			continue
		}
		v, code := e.A.Evaluate(sub)
		if first == parser.ErrNone {
			first = code
		}
		if v.IsFloat {
			e.EmitWord(ToCrayFloat(v.Float))
			continue
		}
		e.RecordDataFixup(&v, 64)
		e.EmitWord(uint64(v.Int)) // #nosec G115 -- 64-bit pattern
	}
	return first
}

func (e *Encoder) pData(sl *parser.SourceLine, opToks []parser.Token) parser.ErrorCode {
	e.ForceWordBoundary()
	e.BeginItem()
	if code := e.defineStorageLabel(sl); code != parser.ErrNone {
		e.A.RegisterError(code)
	}
	var first parser.ErrorCode
	for _, sub := range parser.SplitSubfields(opToks) {
		e.BeginItem()
		if len(sub) == 1 && sub[0].Kind == parser.TokenString {
			// Strings keep their full field image, padded to a word.
			e.EmitStringBytes(sub[0].Str)
			e.ForceWordBoundary()
			continue
		}
		v, code := e.A.Evaluate(sub)
		if first == parser.ErrNone {
			first = code
		}
		if v.IsFloat {
			e.EmitWord(ToCrayFloat(v.Float))
			continue
		}
		e.RecordDataFixup(&v, 64)
		e.EmitWord(uint64(v.Int)) // #nosec G115 -- 64-bit pattern
	}
	return first
}

func (e *Encoder) pVwd(sl *parser.SourceLine, opToks []parser.Token) parser.ErrorCode {
	e.BeginItem()
	if sl.Location != "" {
		e.ForceParcelBoundary()
		e.BeginItem()
		if code := e.A.AddLocationSymbol(sl.Location, e.A.LocationValue()); code != parser.ErrNone {
			e.A.RegisterError(code)
		}
	}
	var first parser.ErrorCode
	for _, sub := range parser.SplitSubfields(opToks) {
		wToks, vToks, ok := splitColon(sub)
		if !ok {
			if first == parser.ErrNone {
				first = parser.ErrOperandField
			}
			e.A.RegisterError(parser.ErrOperandField)
			continue
		}
		w, code := e.A.Evaluate(wToks)
		if code != parser.ErrNone || !w.Plain() || w.Int < 0 || w.Int > 64 {
			e.A.RegisterError(parser.ErrFieldWidth)
			if first == parser.ErrNone {
				first = parser.ErrFieldWidth
			}
			continue
		}
		width := int(w.Int)
		v, code := e.A.Evaluate(vToks)
		if first == parser.ErrNone {
			first = code
		}
		e.checkFieldWidth(&v, width)
		e.RecordDataFixup(&v, width)
		e.EmitFieldBits(uint64(v.Int), width) // #nosec G115 -- bit pattern
	}
	return first
}

func (e *Encoder) pBss(sl *parser.SourceLine, opToks []parser.Token) parser.ErrorCode {
	e.ForceWordBoundary()
	e.BeginItem()
	if code := e.defineStorageLabel(sl); code != parser.ErrNone {
		e.A.RegisterError(code)
	}
	v, code := e.A.Evaluate(opToks)
	if code != parser.ErrNone {
		return code
	}
	if v.Int < 0 {
		return parser.ErrOperandField
	}
	e.AdvanceBitPosition(int(v.Int) * 64)
	return parser.ErrNone
}

func (e *Encoder) pBssz(sl *parser.SourceLine, opToks []parser.Token) parser.ErrorCode {
	e.ForceWordBoundary()
	e.BeginItem()
	if code := e.defineStorageLabel(sl); code != parser.ErrNone {
		e.A.RegisterError(code)
	}
	v, code := e.A.Evaluate(opToks)
	if code != parser.ErrNone {
		return code
	}
	if v.Int < 0 {
		return parser.ErrOperandField
	}
	for n := int64(0); n < v.Int; n++ {
		e.EmitWord(0)
	}
	return parser.ErrNone
}

func (e *Encoder) pOrg(sl *parser.SourceLine, opToks []parser.Token) parser.ErrorCode {
	v, code := e.A.Evaluate(opToks)
	if code != parser.ErrNone {
		return code
	}
	parcel := parcelAddress(&v)
	if parcel < 0 {
		return parser.WarnAddressCounter
	}
	s := e.A.Section
	s.OriginCounter = uint32(parcel) // #nosec G115 -- checked non-negative
	s.LocationCounter = s.OriginCounter
	s.ParcelBitPos = 0
	if e.A.Pass == 1 && s.OriginCounter > s.Size {
		s.Size = s.OriginCounter
	}
	return parser.ErrNone
}

func (e *Encoder) pSection(sl *parser.SourceLine, opToks []parser.Token) parser.ErrorCode {
	if operandName(opToks) == "*" {
		return e.A.PopSection()
	}
	id := sl.Location
	subs := parser.SplitSubfields(opToks)
	typ := asm.SectionMixed
	loc := asm.LocNone
	if len(subs) > 0 && len(subs[0]) > 0 {
		t, ok := sectionTypeByName(tokenName(subs[0][0]))
		if !ok {
			return parser.ErrOperandField
		}
		typ = t
	}
	if len(subs) > 1 && len(subs[1]) > 0 {
		l, ok := sectionLocByName(tokenName(subs[1][0]))
		if !ok {
			return parser.ErrOperandField
		}
		loc = l
	}
	sec := e.A.Module.FindSection(id)
	if sec == nil || sec.Type != typ || sec.Loc != loc {
		sec = e.A.Module.AddSection(id, typ, loc)
	}
	e.A.PushSection(sec)
	return parser.ErrNone
}

func (e *Encoder) pBlock(sl *parser.SourceLine, opToks []parser.Token) parser.ErrorCode {
	id := sl.Location
	if id == "" {
		id = operandName(opToks)
	}
	if id == "*" {
		return e.A.PopSection()
	}
	sec := e.A.Module.FindSection(id)
	if sec == nil {
		sec = e.A.Module.AddSection(id, asm.SectionCommon, asm.LocNone)
	}
	e.A.PushSection(sec)
	return parser.ErrNone
}

func (e *Encoder) pQual(sl *parser.SourceLine, opToks []parser.Token) parser.ErrorCode {
	name := operandName(opToks)
	if name == "*" {
		return e.A.PopQualifier()
	}
	q := e.A.Module.RootQual
	if name != "" {
		q = e.A.Module.AddQualifier(name)
	}
	e.A.PushQualifier(q)
	return parser.ErrNone
}

func (e *Encoder) pBase(sl *parser.SourceLine, opToks []parser.Token) parser.ErrorCode {
	switch strings.ToUpper(operandName(opToks)) {
	case "*":
		return e.A.PopBase()
	case "O":
		e.A.PushBase(parser.BaseOctal)
	case "D":
		e.A.PushBase(parser.BaseDecimal)
	case "M":
		e.A.PushBase(parser.BaseMixed)
	default:
		return parser.ErrOperandField
	}
	return parser.ErrNone
}

func (e *Encoder) pExt(sl *parser.SourceLine, opToks []parser.Token) parser.ErrorCode {
	for _, sub := range parser.SplitSubfields(opToks) {
		if len(sub) != 1 || sub[0].Kind != parser.TokenName {
			e.A.RegisterError(parser.WarnExternalDeclaration)
			continue
		}
		sym := e.findOrCreateRootSymbol(sub[0].Name)
		sym.Value.Attr |= asm.AttrExternal
		e.A.Module.AddExternal(sym)
	}
	return parser.ErrNone
}

func (e *Encoder) pEntry(sl *parser.SourceLine, opToks []parser.Token) parser.ErrorCode {
	for _, sub := range parser.SplitSubfields(opToks) {
		if len(sub) != 1 || sub[0].Kind != parser.TokenName {
			e.A.RegisterError(parser.ErrOperandField)
			continue
		}
		sym := e.findOrCreateRootSymbol(sub[0].Name)
		e.A.Module.AddEntryPoint(sym)
	}
	return parser.ErrNone
}

func (e *Encoder) findOrCreateRootSymbol(name string) *asm.Symbol {
	sym := &asm.Symbol{ID: name, ExtIndex: -1}
	sym.Value.Attr = asm.AttrUndefined
	return e.A.Module.RootQual.InsertSymbol(sym)
}

func (e *Encoder) pMicro(sl *parser.SourceLine, opToks []parser.Token) parser.ErrorCode {
	if sl.Location == "" {
		return parser.ErrLocationField
	}
	if len(opToks) < 1 || opToks[0].Kind != parser.TokenString {
		return parser.ErrOperandField
	}
	e.A.Module.AddMicro(sl.Location, opToks[0].Str.Chars)
	return parser.ErrNone
}

func (e *Encoder) pList(sl *parser.SourceLine, opToks []parser.Token) parser.ErrorCode {
	switch strings.ToUpper(operandName(opToks)) {
	case "*":
		return e.A.PopList()
	case "OFF":
		e.A.PushList(false)
	default:
		e.A.PushList(true)
	}
	return parser.ErrNone
}

func (e *Encoder) pSpace(sl *parser.SourceLine, opToks []parser.Token) parser.ErrorCode {
	n := 1
	if len(opToks) > 0 {
		v, code := e.A.Evaluate(opToks)
		if code != parser.ErrNone {
			return code
		}
		n = int(v.Int)
	}
	if e.A.Pass == 2 && e.A.ListOn {
		e.A.Lister.Space(n)
	}
	return parser.ErrNone
}

func (e *Encoder) pEject(sl *parser.SourceLine, opToks []parser.Token) parser.ErrorCode {
	if e.A.Pass == 2 && e.A.ListOn {
		e.A.Lister.Eject()
	}
	return parser.ErrNone
}

func (e *Encoder) pTitle(sl *parser.SourceLine, opToks []parser.Token) parser.ErrorCode {
	text := sl.Operand
	if len(opToks) == 1 && opToks[0].Kind == parser.TokenString {
		text = opToks[0].Str.Chars
	}
	if e.A.Pass == 2 && e.A.ListOn {
		e.A.Lister.Title(text)
	}
	return parser.ErrNone
}

func (e *Encoder) pComment(sl *parser.SourceLine, opToks []parser.Token) parser.ErrorCode {
	text := sl.Operand
	if len(opToks) == 1 && opToks[0].Kind == parser.TokenString {
		text = opToks[0].Str.Chars
	}
	e.A.Module.Comment = text
	return parser.ErrNone
}

func (e *Encoder) pStack(sl *parser.SourceLine, opToks []parser.Token) parser.ErrorCode {
	v, code := e.A.Evaluate(opToks)
	if code != parser.ErrNone {
		return code
	}
	if v.Int < 0 {
		return parser.ErrOperandField
	}
	e.A.Module.StackSize = uint32(v.Int) // #nosec G115 -- checked non-negative
	return parser.ErrNone
}

func (e *Encoder) pFormat(sl *parser.SourceLine, opToks []parser.Token) parser.ErrorCode {
	switch strings.ToUpper(operandName(opToks)) {
	case "OLD":
		e.A.OldFormat = true
	case "NEW":
		e.A.OldFormat = false
	default:
		return parser.ErrOperandField
	}
	return parser.ErrNone
}

// RecordDataFixup records a fixup for a data field whose MSB sits at the
// current bit cursor rather than at an instruction boundary.
func (e *Encoder) RecordDataFixup(v *asm.Value, fieldLen int) {
	if e.A.Pass != 2 {
		return
	}
	s := e.A.Section
	blk := s.Block
	if blk == nil {
		return
	}
	parcel := v.Attr.AddressType() == asm.AttrParcelAddress
	if v.Attr&asm.AttrExternal != 0 && v.Extern != nil {
		blk.AddExternal(asm.ExternalEntry{
			ExtIndex:   v.Extern.ExtIndex,
			BitAddress: uint64(s.OriginOffset+s.OriginCounter)*16 + uint64(s.ParcelBitPos), // #nosec G115 -- bit cursor
			FieldLen:   fieldLen,
			Parcel:     parcel,
		})
		return
	}
	if v.Attr&(asm.AttrRelocatable|asm.AttrImmobile) != 0 && v.Section != nil && v.Section.Block != nil {
		blk.AddReloc(asm.RelocEntry{
			TargetBlock: v.Section.Block.Index,
			Offset:      s.OriginOffset + s.OriginCounter,
			Parcel:      parcel,
		})
	}
}

func operandName(toks []parser.Token) string {
	if len(toks) > 0 {
		return tokenName(toks[0])
	}
	return ""
}

func tokenName(tok parser.Token) string {
	if tok.Kind == parser.TokenName {
		return tok.Name
	}
	if tok.Kind == parser.TokenOperator && tok.Op == parser.OpMul {
		return "*"
	}
	return ""
}

func sectionTypeByName(name string) (asm.SectionType, bool) {
	switch strings.ToUpper(name) {
	case "MIXED", "":
		return asm.SectionMixed, true
	case "CODE":
		return asm.SectionCode, true
	case "DATA":
		return asm.SectionData, true
	case "STACK":
		return asm.SectionStack, true
	case "COMMON":
		return asm.SectionCommon, true
	case "DYNAMIC":
		return asm.SectionDynamic, true
	case "TASKCOM":
		return asm.SectionTaskCommon, true
	case "NONE":
		return asm.SectionNone, true
	}
	return asm.SectionMixed, false
}

func sectionLocByName(name string) (asm.SectionLoc, bool) {
	switch strings.ToUpper(name) {
	case "CM", "":
		return asm.LocCM, true
	case "EM":
		return asm.LocEM, true
	case "LM":
		return asm.LocLM, true
	}
	return asm.LocNone, false
}

// splitColon splits width:value subfield tokens on the top-level colon.
func splitColon(toks []parser.Token) ([]parser.Token, []parser.Token, bool) {
	depth := 0
	for i, tok := range toks {
		switch tok.Kind {
		case parser.TokenLParen:
			depth++
		case parser.TokenRParen:
			depth--
		case parser.TokenColonSep:
			if depth == 0 {
				return toks[:i], toks[i+1:], true
			}
		}
	}
	return nil, nil, false
}
