package encoder

import (
	"strings"

	"github.com/lookbusy1344/cal-assembler/asm"
	"github.com/lookbusy1344/cal-assembler/parser"
)

// Assemble runs the two passes over the source lines loaded into the
// assembler state: pass 1 gathers definitions and sizes sections; between
// passes literals are reserved, object blocks created and symbol values
// adjusted by their section origins; pass 2 emits code and records fixups,
// then the literals are emitted for real.
func (e *Encoder) Assemble() {
	a := e.A

	a.Pass = 1
	e.runPass()
	e.promoteDefaultModule()

	for m := a.FirstModule; m != nil; m = m.Next {
		a.Module = m
		e.EmitLiterals()
		m.CreateObjectBlocks()
		m.AdjustSymbolValues()
	}

	a.Pass = 2
	a.ResetPass()
	e.runPass()

	for m := a.FirstModule; m != nil; m = m.Next {
		a.Module = m
		e.EmitLiterals()
	}
}

// promoteDefaultModule turns the default module into a real one when a
// source file assembles content without any module-start
// pseudo-instruction. The -i/-n identifier (or the source file name)
// becomes its name.
func (e *Encoder) promoteDefaultModule() {
	a := e.A
	if a.FirstModule != nil {
		return
	}
	m := a.DefaultModule
	hasContent := false
	for _, s := range m.Sections {
		if s.Size > 0 {
			hasContent = true
			break
		}
	}
	if !hasContent && m.EntryCount == 0 && m.ExternalCount == 0 {
		return
	}
	m.Ident = asm.TruncateName(a.DefaultIdent)
	a.FirstModule = m
	a.LastModule = m
}

// runPass drives one pass over every source line in file order.
func (e *Encoder) runPass() {
	a := e.A
	i := 0
	for i < len(a.Lines) {
		n := i + 1
		a.BeginLine(n)
		sl := e.prepareLine(a.Lines[i], n)
		i++
		if sl == nil {
			continue
		}
		if strings.EqualFold(sl.Result, "MACRO") {
			i = e.captureMacro(sl, i)
			continue
		}
		e.processLine(sl, 0)
	}
}

// prepareLine substitutes micros and splits a raw line into fields.
func (e *Encoder) prepareLine(raw string, n int) *parser.SourceLine {
	a := e.A
	line, codes := parser.SubstituteMicros(raw, a)
	for _, c := range codes {
		a.RegisterError(c)
	}
	sl, codes := parser.ExtractFields(line, n, a.OldFormat, a.Flexible, &a.Labels)
	for _, c := range codes {
		a.RegisterError(c)
	}
	return &sl
}

// captureMacro stores a macro body (the lines up to ENDM) and returns the
// index of the line after the body. Bodies are captured in pass 1 only;
// pass 2 skips over them.
func (e *Encoder) captureMacro(sl *parser.SourceLine, i int) int {
	a := e.A
	if sl.Location == "" {
		a.RegisterError(parser.ErrLocationField)
	}
	var params []string
	if sl.Operand != "" {
		for _, p := range strings.Split(sl.Operand, ",") {
			params = append(params, strings.TrimSpace(p))
		}
	}
	var body []string
	for ; i < len(a.Lines); i++ {
		if isEndm(a.Lines[i]) {
			i++
			break
		}
		body = append(body, a.Lines[i])
	}
	if a.Pass == 1 && sl.Location != "" {
		def := &asm.MacroDef{ID: sl.Location, Params: params, Body: body}
		if _, existed := a.Module.AddMacro(def); existed {
			a.RegisterError(parser.WarnRedefinedMacro)
		}
	}
	return i
}

func isEndm(line string) bool {
	fields := strings.Fields(line)
	for n, f := range fields {
		if n > 1 {
			break
		}
		if strings.EqualFold(f, "ENDM") {
			return true
		}
	}
	return false
}

// processLine dispatches one source line: location-only lines define a
// symbol, then the result field selects a pseudo-instruction, a macro, or
// a machine instruction.
func (e *Encoder) processLine(sl *parser.SourceLine, depth int) {
	a := e.A
	if depth > asm.MaxMacroDepth {
		a.Fatalf("macro expansion too deep at line %d", sl.Number)
	}
	if sl.CommentLine || sl.Empty() {
		e.list(sl)
		return
	}
	e.BeginLine()

	if sl.Result == "" {
		if sl.Location != "" {
			e.ForceParcelBoundary()
			e.BeginItem()
			if code := a.AddLocationSymbol(sl.Location, a.LocationValue()); code != parser.ErrNone {
				a.RegisterError(code)
			}
		}
		e.list(sl)
		return
	}

	if def, ok := pseudoTable[strings.ToUpper(sl.Result)]; ok {
		if !def.usesLocation && sl.Location != "" {
			a.RegisterError(parser.WarnIgnoredLocationSymbol)
		}
		opToks := e.tokenizeOperand(sl.Operand)
		if code := def.handler(e, sl, opToks); code != parser.ErrNone {
			a.RegisterError(code)
		}
		e.list(sl)
		return
	}

	if mac := e.findMacro(sl.Result); mac != nil {
		e.list(sl)
		e.expandMacro(mac, sl, depth)
		return
	}

	// Machine instruction: the result field is the instruction.
	resToks := e.tokenizeOperand(sl.Result)
	opToks := e.tokenizeOperand(sl.Operand)
	e.ForceParcelBoundary()
	e.BeginItem()
	if sl.Location != "" {
		if code := a.AddLocationSymbol(sl.Location, a.LocationValue()); code != parser.ErrNone {
			a.RegisterError(code)
		}
	}
	if code := e.MachineInstruction(resToks, opToks); code != parser.ErrNone {
		a.RegisterError(code)
	}
	e.list(sl)
}

func (e *Encoder) tokenizeOperand(field string) []parser.Token {
	a := e.A
	toks, codes := parser.TokenizeField(field, a.Base, a.Flexible, &a.Labels)
	for _, c := range codes {
		a.RegisterError(c)
	}
	return toks
}

func (e *Encoder) findMacro(name string) *asm.MacroDef {
	a := e.A
	if mac := a.Module.FindMacro(name); mac != nil {
		return mac
	}
	if a.Module != a.DefaultModule {
		if mac := a.DefaultModule.FindMacro(name); mac != nil {
			return mac
		}
	}
	return nil
}

// expandMacro substitutes arguments into the stored body and assembles the
// produced lines in place.
func (e *Encoder) expandMacro(mac *asm.MacroDef, sl *parser.SourceLine, depth int) {
	var args []string
	if sl.Operand != "" {
		for _, p := range strings.Split(sl.Operand, ",") {
			args = append(args, strings.TrimSpace(p))
		}
	}
	for _, line := range mac.Body {
		expanded := line
		for pi, param := range mac.Params {
			arg := ""
			if pi < len(args) {
				arg = args[pi]
			}
			expanded = substituteWord(expanded, param, arg)
		}
		body := e.prepareLine(expanded, sl.Number)
		if body == nil {
			continue
		}
		e.processLine(body, depth+1)
	}
}

// substituteWord replaces whole-word occurrences of a macro parameter.
func substituteWord(line, param, arg string) string {
	if param == "" {
		return line
	}
	var sb strings.Builder
	for i := 0; i < len(line); {
		j := strings.Index(line[i:], param)
		if j < 0 {
			sb.WriteString(line[i:])
			break
		}
		j += i
		beforeOK := j == 0 || !isWordChar(line[j-1])
		end := j + len(param)
		afterOK := end >= len(line) || !isWordChar(line[end])
		if beforeOK && afterOK {
			sb.WriteString(line[i:j])
			sb.WriteString(arg)
		} else {
			sb.WriteString(line[i:end])
		}
		i = end
	}
	return sb.String()
}

func isWordChar(c byte) bool {
	return c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' ||
		c == '_' || c == '$' || c == '@' || c == '%'
}

// list emits the line to the listing during pass 2.
func (e *Encoder) list(sl *parser.SourceLine) {
	a := e.A
	if a.Pass != 2 || !a.ListOn {
		return
	}
	s := a.Section
	addr := s.OriginOffset + s.LocationCounter
	a.Lister.Line(addr, e.LineParcels(), sl)
}
