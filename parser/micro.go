package parser

import "strings"

// MicroResolver resolves a micro name to its replacement text. The
// assembler's implementation searches the current module, then the default
// module, then the built-in micros ($APP, $CNC, $CPU, $MIC, $CMNT, $DATE,
// $TIME, $JDATE, $QUAL).
type MicroResolver interface {
	Micro(name string) (string, bool)
}

// SubstituteMicros replaces "name" spans in a raw source line with the
// value of the named micro. The replacement text is not rescanned, so a
// micro expanding to the micro character itself ($MIC) is safe. A failed
// lookup or unterminated span raises a micro-substitution warning and
// leaves the span out of the result.
func SubstituteMicros(line string, r MicroResolver) (string, []ErrorCode) {
	if !strings.ContainsRune(line, '"') {
		return line, nil
	}
	var codes []ErrorCode
	var sb strings.Builder
	i := 0
	for i < len(line) {
		ch := line[i]
		if ch != '"' {
			sb.WriteByte(ch)
			i++
			continue
		}
		end := strings.IndexByte(line[i+1:], '"')
		if end < 0 {
			codes = append(codes, WarnMicroSubstitution)
			break
		}
		name := line[i+1 : i+1+end]
		if text, ok := r.Micro(name); ok {
			sb.WriteString(text)
		} else {
			codes = append(codes, WarnMicroSubstitution)
		}
		i += end + 2
	}
	return sb.String(), codes
}
