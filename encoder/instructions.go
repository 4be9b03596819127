package encoder

import (
	"strings"

	"github.com/lookbusy1344/cal-assembler/parser"
)

// Machine-instruction opcodes (octal). The result-field register pattern
// selects the family; the operand shape selects the opcode within it.
const (
	opERR  = 0o000
	opPASS = 0o001
	opEX   = 0o004
	opJ    = 0o006
	opR    = 0o007
	opJAZ  = 0o010
	opJAN  = 0o011
	opJAP  = 0o012
	opJAM  = 0o013
	opJSZ  = 0o014
	opJSN  = 0o015
	opJSP  = 0o016
	opJSM  = 0o017

	opAiExp  = 0o020
	opAiSj   = 0o023
	opAiBjk  = 0o024
	opBjkAi  = 0o025
	opAiAdd  = 0o030
	opAiSub  = 0o031
	opAiMul  = 0o032

	opSiExp    = 0o040
	opSiMaskR  = 0o042
	opSiMaskL  = 0o043
	opSiAnd    = 0o044
	opSiXor    = 0o046
	opSiCompl  = 0o047
	opSiOr     = 0o051
	opSiAdd    = 0o060
	opSiSub    = 0o061
	opSiTjk    = 0o074
	opTjkSi    = 0o075

	opLoadA  = 0o100 // +h: Ai exp,Ah
	opStoreA = 0o110 // +h: exp,Ah Ai
	opLoadS  = 0o120 // +h: Si exp,Ah
	opStoreS = 0o130 // +h: exp,Ah Si
)

// branchOpcodes maps jump and control mnemonics appearing in the result
// field.
var branchOpcodes = map[string]struct {
	gh     int
	parcel bool // takes a parcel-address operand
}{
	"J":    {opJ, true},
	"R":    {opR, true},
	"JAZ":  {opJAZ, true},
	"JAN":  {opJAN, true},
	"JAP":  {opJAP, true},
	"JAM":  {opJAM, true},
	"JSZ":  {opJSZ, true},
	"JSN":  {opJSN, true},
	"JSP":  {opJSP, true},
	"JSM":  {opJSM, true},
	"EX":   {opEX, false},
	"PASS": {opPASS, false},
	"ERR":  {opERR, false},
}

// MachineInstruction assembles one machine instruction. The location
// symbol, when present, has already been defined at the instruction's
// parcel address.
func (e *Encoder) MachineInstruction(resToks, opToks []parser.Token) parser.ErrorCode {
	if len(resToks) == 0 {
		return parser.ErrResultField
	}

	// Jump and control mnemonics.
	if resToks[0].Kind == parser.TokenName {
		op, ok := branchOpcodes[strings.ToUpper(resToks[0].Name)]
		if !ok {
			return parser.ErrResultField
		}
		if !op.parcel {
			e.EmitOneParcel(op.gh, 0, 0, 0)
			return parser.ErrNone
		}
		v, code := e.A.Evaluate(opToks)
		toParcelAddress(&v)
		e.EmitTwoParcelIJKM(op.gh, &v)
		return code
	}

	// Store: the result field is exp,Ah and the operand names the register.
	if before, h, found := splitAddressField(resToks); found {
		if len(opToks) != 1 || opToks[0].Kind != parser.TokenRegister {
			return parser.ErrOperandField
		}
		reg := opToks[0].Reg
		v, code := e.A.Evaluate(before)
		switch reg.Type {
		case parser.RegA:
			e.EmitTwoParcelJKM(opStoreA|h, reg.Ordinal, &v)
		case parser.RegS:
			e.EmitTwoParcelJKM(opStoreS|h, reg.Ordinal, &v)
		default:
			return parser.ErrOperandField
		}
		return code
	}

	if resToks[0].Kind != parser.TokenRegister || len(resToks) != 1 {
		return parser.ErrResultField
	}
	reg := resToks[0].Reg
	switch reg.Type {
	case parser.RegA:
		return e.aInstruction(reg.Ordinal, opToks)
	case parser.RegS:
		return e.sInstruction(reg.Ordinal, opToks)
	case parser.RegB:
		if len(opToks) == 1 && opToks[0].Kind == parser.TokenRegister && opToks[0].Reg.Type == parser.RegA {
			e.EmitOneParcelJK(opBjkAi, opToks[0].Reg.Ordinal, reg.Ordinal)
			return parser.ErrNone
		}
		return parser.ErrOperandField
	case parser.RegT:
		if len(opToks) == 1 && opToks[0].Kind == parser.TokenRegister && opToks[0].Reg.Type == parser.RegS {
			e.EmitOneParcelJK(opTjkSi, opToks[0].Reg.Ordinal, reg.Ordinal)
			return parser.ErrNone
		}
		return parser.ErrOperandField
	}
	return parser.ErrResultField
}

// aInstruction assembles the address-register family.
func (e *Encoder) aInstruction(i int, opToks []parser.Token) parser.ErrorCode {
	if len(opToks) == 0 {
		return parser.ErrOperandField
	}

	// Memory load: exp,Ah.
	if before, h, found := splitAddressField(opToks); found {
		v, code := e.A.Evaluate(before)
		e.EmitTwoParcelJKM(opLoadA|h, i, &v)
		return code
	}

	if opToks[0].Kind == parser.TokenRegister {
		r0 := opToks[0].Reg
		switch {
		case r0.Type == parser.RegA && len(opToks) == 1:
			e.EmitOneParcel(opAiAdd, i, r0.Ordinal, 0)
			return parser.ErrNone
		case r0.Type == parser.RegA && len(opToks) == 3:
			op, r1, code := registerPair(opToks, parser.RegA)
			if code != parser.ErrNone {
				return code
			}
			switch op {
			case parser.OpAdd:
				e.EmitOneParcel(opAiAdd, i, r0.Ordinal, r1)
			case parser.OpSub:
				e.EmitOneParcel(opAiSub, i, r0.Ordinal, r1)
			case parser.OpMul:
				e.EmitOneParcel(opAiMul, i, r0.Ordinal, r1)
			default:
				return parser.ErrOperandField
			}
			return parser.ErrNone
		case r0.Type == parser.RegS && len(opToks) == 1:
			e.EmitOneParcel(opAiSj, i, r0.Ordinal, 0)
			return parser.ErrNone
		case r0.Type == parser.RegB && len(opToks) == 1:
			e.EmitOneParcelJK(opAiBjk, i, r0.Ordinal)
			return parser.ErrNone
		default:
			return parser.ErrOperandField
		}
	}

	// Immediate expression.
	v, code := e.A.Evaluate(opToks)
	e.EmitTwoParcelJKM(opAiExp, i, &v)
	return code
}

// sInstruction assembles the scalar-register family.
func (e *Encoder) sInstruction(i int, opToks []parser.Token) parser.ErrorCode {
	if len(opToks) == 0 {
		return parser.ErrOperandField
	}

	if before, h, found := splitAddressField(opToks); found {
		v, code := e.A.Evaluate(before)
		e.EmitTwoParcelJKM(opLoadS|h, i, &v)
		return code
	}

	// Mask forms: Si <exp and Si >exp.
	if opToks[0].Kind == parser.TokenOperator {
		switch opToks[0].Op {
		case parser.OpMaskRight, parser.OpMaskLeft:
			v, code := e.A.Evaluate(opToks[1:])
			gh := opSiMaskR
			if opToks[0].Op == parser.OpMaskLeft {
				gh = opSiMaskL
			}
			e.checkFieldWidth(&v, 6)
			e.EmitOneParcelJK(gh, i, int(v.Int)&0x3f)
			return code
		case parser.OpComplement:
			if len(opToks) == 2 && opToks[1].Kind == parser.TokenRegister && opToks[1].Reg.Type == parser.RegS {
				e.EmitOneParcel(opSiCompl, i, 0, opToks[1].Reg.Ordinal)
				return parser.ErrNone
			}
		}
	}

	if opToks[0].Kind == parser.TokenRegister {
		r0 := opToks[0].Reg
		switch {
		case r0.Type == parser.RegS && len(opToks) == 1:
			e.EmitOneParcel(opSiAdd, i, r0.Ordinal, 0)
			return parser.ErrNone
		case r0.Type == parser.RegS && len(opToks) == 3:
			op, r1, code := registerPair(opToks, parser.RegS)
			if code != parser.ErrNone {
				return code
			}
			var gh int
			switch op {
			case parser.OpAdd:
				gh = opSiAdd
			case parser.OpSub:
				gh = opSiSub
			case parser.OpAnd:
				gh = opSiAnd
			case parser.OpOr:
				gh = opSiOr
			case parser.OpXor:
				gh = opSiXor
			default:
				return parser.ErrOperandField
			}
			e.EmitOneParcel(gh, i, r0.Ordinal, r1)
			return parser.ErrNone
		case r0.Type == parser.RegT && len(opToks) == 1:
			e.EmitOneParcelJK(opSiTjk, i, r0.Ordinal)
			return parser.ErrNone
		default:
			return parser.ErrOperandField
		}
	}

	v, code := e.A.Evaluate(opToks)
	e.EmitTwoParcelJKM(opSiExp, i, &v)
	return code
}

// registerPair validates the reg-op-reg operand shape and returns the
// operator and second ordinal.
func registerPair(toks []parser.Token, typ parser.RegisterType) (parser.OpKind, int, parser.ErrorCode) {
	if toks[1].Kind != parser.TokenOperator {
		return parser.OpNone, 0, parser.ErrOperandField
	}
	if toks[2].Kind != parser.TokenRegister || toks[2].Reg.Type != typ {
		return parser.OpNone, 0, parser.ErrOperandField
	}
	return toks[1].Op, toks[2].Reg.Ordinal, parser.ErrNone
}

// splitAddressField recognizes the memory-reference shape exp,Ah: a
// top-level comma whose right side is a single A register. It returns the
// tokens before the comma and the address-register ordinal.
func splitAddressField(toks []parser.Token) ([]parser.Token, int, bool) {
	depth := 0
	for idx, tok := range toks {
		switch tok.Kind {
		case parser.TokenLParen:
			depth++
		case parser.TokenRParen:
			depth--
		case parser.TokenComma:
			if depth != 0 {
				continue
			}
			rest := toks[idx+1:]
			if len(rest) == 1 && rest[0].Kind == parser.TokenRegister && rest[0].Reg.Type == parser.RegA {
				return toks[:idx], rest[0].Reg.Ordinal, true
			}
			return nil, 0, false
		}
	}
	return nil, 0, false
}
