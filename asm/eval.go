package asm

import (
	"github.com/lookbusy1344/cal-assembler/parser"
)

// MaxEvalStack bounds the argument and operator stacks of the evaluator.
const MaxEvalStack = 32

type opEntry struct {
	op       parser.OpKind
	sentinel bool // subexpression start
	literal  bool // '=' literal start
	litStart int
}

type evaluator struct {
	a      *Assembler
	tokens []parser.Token
	args   []Value
	ops    []opEntry
	code   parser.ErrorCode
}

// Evaluate computes the value of one operand subexpression. Diagnostics
// are registered as they are found; the first error-class code is also
// returned so callers can bail out of the surrounding field.
func (a *Assembler) Evaluate(tokens []parser.Token) (Value, parser.ErrorCode) {
	e := &evaluator{
		a:      a,
		tokens: tokens,
		args:   make([]Value, 0, MaxEvalStack),
		ops:    make([]opEntry, 0, MaxEvalStack),
	}
	return e.run()
}

func (e *evaluator) fail(code parser.ErrorCode) {
	e.a.RegisterError(code)
	if e.code == parser.ErrNone && code.IsError() {
		e.code = code
	}
}

func (e *evaluator) pushArg(v Value) {
	if len(e.args) >= MaxEvalStack {
		e.a.Fatalf("expression argument stack overflow")
	}
	e.args = append(e.args, v)
}

func (e *evaluator) popArg() Value {
	if len(e.args) == 0 {
		e.fail(parser.ErrExpression)
		return Value{}
	}
	v := e.args[len(e.args)-1]
	e.args = e.args[:len(e.args)-1]
	return v
}

func (e *evaluator) pushOp(op opEntry) {
	if len(e.ops) >= MaxEvalStack {
		e.a.Fatalf("expression operator stack overflow")
	}
	e.ops = append(e.ops, op)
}

func (e *evaluator) run() (Value, parser.ErrorCode) {
	if len(e.tokens) == 0 {
		return Value{}, parser.ErrNone
	}
	for i := 0; i < len(e.tokens); i++ {
		tok := e.tokens[i]
		switch tok.Kind {
		case parser.TokenNumber:
			if tok.IsFloat {
				e.pushArg(Value{IsFloat: true, Float: tok.Float})
			} else {
				e.pushArg(Value{Int: tok.Int})
			}

		case parser.TokenString:
			e.pushArg(Value{Int: tok.Str.Value()})

		case parser.TokenName:
			e.pushArg(e.nameValue(tok))

		case parser.TokenRegister:
			e.fail(parser.ErrOperandField)
			e.pushArg(Value{})

		case parser.TokenOperator:
			if tok.Op.Unary() {
				e.pushOp(opEntry{op: tok.Op})
				break
			}
			e.reduce(tok.Op.Precedence(), i)
			e.pushOp(opEntry{op: tok.Op})

		case parser.TokenLParen:
			e.pushOp(opEntry{sentinel: true})

		case parser.TokenRParen:
			e.reduce(99, i)
			if len(e.ops) == 0 || !e.ops[len(e.ops)-1].sentinel {
				e.fail(parser.ErrExpression)
				break
			}
			e.ops = e.ops[:len(e.ops)-1]

		case parser.TokenLiteral:
			e.pushOp(opEntry{literal: true, litStart: i + 1})

		case parser.TokenError:
			e.fail(tok.Err)

		default:
			e.fail(parser.ErrSyntax)
		}
	}
	e.reduce(99, len(e.tokens))

	if len(e.ops) != 0 {
		e.fail(parser.ErrExpression)
	}
	if len(e.args) != 1 {
		e.fail(parser.ErrExpression)
		return Value{}, e.code
	}
	result := e.args[0]
	e.finalize(&result)
	return result, e.code
}

// reduce pops and applies operators whose precedence group is at or below
// prec. Subexpression and literal entries act as sentinels: a popped
// literal registers its expression and replaces the argument with the
// literal's address.
func (e *evaluator) reduce(prec int, end int) {
	for len(e.ops) > 0 {
		top := e.ops[len(e.ops)-1]
		if top.sentinel {
			return
		}
		if top.literal {
			if prec < 99 {
				return
			}
			e.ops = e.ops[:len(e.ops)-1]
			e.applyLiteral(top.litStart, end)
			continue
		}
		if top.op.Precedence() > prec {
			return
		}
		e.ops = e.ops[:len(e.ops)-1]
		if top.op.Unary() {
			v := e.popArg()
			e.applyUnary(top.op, &v)
			e.pushArg(v)
		} else {
			r := e.popArg()
			l := e.popArg()
			e.applyBinary(top.op, &l, &r)
			e.pushArg(l)
		}
	}
}

// nameValue resolves a symbol reference. An unresolved name in pass 1
// produces an undefined value; in pass 2 it is an error unless implicit
// externals are on, in which case the name is installed as a new external.
func (e *evaluator) nameValue(tok parser.Token) Value {
	a := e.a
	if tok.Name == "*" {
		v := a.LocationValue()
		v.Attr |= AttrCounter
		if v.Coef != 0 {
			if v.Attr&AttrImmobile != 0 {
				v.addCoef(v.Section, 0, v.Coef)
			} else {
				v.addCoef(v.Section, v.Coef, 0)
			}
		}
		return v
	}
	sym := a.FindSymbolValue(tok.Name, tok.Qual, tok.HasQual)
	if sym == nil {
		if a.Pass == 2 && a.ImplicitExternals && !tok.HasQual {
			sym = &Symbol{ID: tok.Name, ExtIndex: -1}
			sym.Value.Attr = AttrExternal
			sym = a.Module.RootQual.InsertSymbol(sym)
			a.Module.AddExternal(sym)
		} else {
			if a.Pass == 2 {
				e.fail(parser.ErrUndefined)
			}
			return Value{Attr: AttrUndefined}
		}
	}
	v := sym.Value
	v.coefs = nil
	if v.Attr&AttrExternal != 0 {
		v.Extern = sym
		v.extCoef = 1
		return v
	}
	if a.Pass == 2 && v.Attr&AttrUndefined != 0 {
		e.fail(parser.ErrUndefined)
	}
	if v.Coef != 0 && v.Section != nil {
		if v.Attr&AttrImmobile != 0 {
			v.addCoef(v.Section, 0, v.Coef)
		} else {
			v.addCoef(v.Section, v.Coef, 0)
		}
	}
	return v
}

// applyLiteral registers tokens[start:end] in the literals section and
// replaces the evaluated argument with the literal's word address.
func (e *evaluator) applyLiteral(start, end int) {
	a := e.a
	e.popArg() // the literal's own value; its address is the result
	lit := a.Module.AddLiteral(e.tokens[start:end])
	sec := a.Module.LiteralsSection()
	v := Value{
		Attr:    AttrWordAddress | AttrLiteral,
		Int:     int64(sec.OriginOffset+lit.Offset) / 4,
		Section: sec,
	}
	if !a.Module.Absolute {
		v.Coef = 1
		v.Attr |= AttrRelocatable
		v.addCoef(sec, 1, 0)
	}
	e.pushArg(v)
}

func (e *evaluator) toInt(v *Value) int64 {
	if v.IsFloat {
		e.fail(parser.WarnExpressionElement)
		v.IsFloat = false
		v.Int = int64(v.Float)
	}
	return v.Int
}

func (e *evaluator) applyUnary(op parser.OpKind, v *Value) {
	switch op {
	case parser.OpPlus:

	case parser.OpNeg:
		if v.IsFloat {
			v.Float = -v.Float
			return
		}
		v.Int = -v.Int
		v.scaleCoefs(-1)

	case parser.OpComplement:
		v.Int = ^e.toInt(v)

	case parser.OpMaskRight:
		n := e.toInt(v)
		v.Int = int64(maskBits(n))

	case parser.OpMaskLeft:
		n := e.toInt(v)
		v.Int = int64(maskBits(n) << uint(64-clampShift(n)))

	case parser.OpWord:
		e.toInt(v)
		v.Attr = v.Attr&^attrAddressMask | AttrWordAddress

	case parser.OpParcel:
		e.toInt(v)
		v.Attr = v.Attr&^attrAddressMask | AttrParcelAddress

	case parser.OpByte:
		e.toInt(v)
		v.Attr = v.Attr&^attrAddressMask | AttrByteAddress
	}
}

func maskBits(n int64) uint64 {
	s := clampShift(n)
	if s == 64 {
		return ^uint64(0)
	}
	return (uint64(1) << uint(s)) - 1
}

func clampShift(n int64) int {
	if n < 0 {
		return 0
	}
	if n > 64 {
		return 64
	}
	return int(n)
}

// applyBinary applies l = l op r in place, running the address-type
// algebra and relocation bookkeeping.
func (e *evaluator) applyBinary(op parser.OpKind, l, r *Value) {
	li := e.toInt(l)
	ri := e.toInt(r)

	lA, rA := l.Attr.AddressType(), r.Attr.AddressType()
	resultAttr := lA | rA
	if lA != 0 && rA != 0 {
		if lA == rA {
			resultAttr = lA
		} else {
			// Mixed address subtypes: convert both to byte addresses; the
			// result is a plain integer.
			li = toByteUnits(li, lA)
			ri = toByteUnits(ri, rA)
			resultAttr = 0
			e.fail(parser.WarnExpressionElement)
		}
	}

	undef := (l.Attr | r.Attr) & AttrUndefined

	switch op {
	case parser.OpAdd:
		if l.extCoef > 0 && r.extCoef > 0 {
			e.fail(parser.ErrRelocatableField)
		}
		l.Int = li + ri
		l.mergeCoefs(r, 1)

	case parser.OpSub:
		if l.extCoef > 0 && r.extCoef > 0 {
			e.fail(parser.ErrRelocatableField)
		}
		l.Int = li - ri
		l.mergeCoefs(r, -1)

	case parser.OpMul:
		switch {
		case !l.relocated() && r.relocated():
			r.scaleCoefs(li)
			l.coefs, l.extCoef, l.Extern = r.coefs, r.extCoef, r.Extern
		case l.relocated() && !r.relocated():
			l.scaleCoefs(ri)
		case l.relocated() && r.relocated():
			e.fail(parser.WarnExpressionElement)
			l.mergeCoefs(r, 1)
		}
		l.Int = li * ri

	case parser.OpDiv:
		if ri == 0 {
			// Expression error; the right operand is pushed back.
			e.fail(parser.ErrExpression)
			*l = *r
			break
		}
		l.Int = li / ri

	case parser.OpAnd:
		l.Int = li & ri
		l.mergeCoefs(r, 1)

	case parser.OpOr:
		l.Int = li | ri
		l.mergeCoefs(r, 1)

	case parser.OpXor:
		l.Int = li ^ ri
		l.mergeCoefs(r, 1)

	case parser.OpShiftL:
		l.Int = int64(uint64(li) << uint(clampShift(ri))) // #nosec G115 -- 64-bit pattern

	case parser.OpShiftR:
		l.Int = int64(uint64(li) >> uint(clampShift(ri))) // #nosec G115 -- 64-bit pattern
	}

	l.Attr = l.Attr&^attrAddressMask | resultAttr | undef
	l.IsFloat = false
}

func toByteUnits(v int64, addr Attr) int64 {
	switch addr {
	case AttrWordAddress:
		return v * 8
	case AttrParcelAddress:
		return v * 2
	}
	return v
}

// finalize runs the post-evaluation relocation check: at most one section
// may carry a nonzero coefficient and its combined relocatable+immobile
// coefficient must be exactly +1; an external reference may not also carry
// a section coefficient.
func (e *evaluator) finalize(v *Value) {
	var base *sectionCoef
	sections := 0
	for i := range v.coefs {
		c := &v.coefs[i]
		if c.reloc != 0 || c.immobile != 0 {
			sections++
			base = c
		}
	}

	switch {
	case v.extCoef < 0 || v.extCoef > 1:
		e.fail(parser.ErrRelocatableField)
	case v.extCoef == 1:
		if sections != 0 {
			e.fail(parser.ErrRelocatableField)
		}
		v.Attr |= AttrExternal
	case sections > 1:
		e.fail(parser.ErrRelocatableField)
	case sections == 1:
		total := base.reloc + base.immobile
		if total != 1 {
			e.fail(parser.ErrRelocatableField)
			break
		}
		v.Section = base.section
		v.Coef = 1
		if base.immobile != 0 {
			v.Attr |= AttrImmobile
		} else {
			v.Attr |= AttrRelocatable
		}
	default:
		if v.Attr&(AttrRelocatable|AttrImmobile) != 0 {
			// Contributions cancelled out; the value is absolute.
			v.Attr &^= AttrRelocatable | AttrImmobile
			v.Coef = 0
			v.Section = nil
		}
	}
	v.coefs = nil
	v.extCoef = 0
}
