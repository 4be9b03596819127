package asm

// Attr is the attribute bitset of a Value. At most one of the three address
// attributes may be set, and relocatable and immobile are mutually
// exclusive.
type Attr uint16

const (
	AttrWordAddress Attr = 1 << iota
	AttrParcelAddress
	AttrByteAddress
	AttrLiteral
	AttrRelocatable
	AttrImmobile
	AttrExternal
	AttrEntry
	AttrCounter
	AttrUndefined
	AttrDefinedPass2
	AttrRedefinable
)

const attrAddressMask = AttrWordAddress | AttrParcelAddress | AttrByteAddress

// AddressType returns the address attribute, or zero for a plain value.
func (a Attr) AddressType() Attr {
	return a & attrAddressMask
}

// sectionCoef accumulates one section's relocation contribution while an
// expression is evaluated.
type sectionCoef struct {
	section  *Section
	reloc    int64
	immobile int64
}

// Value is a typed, attributed quantity: the result of evaluating an
// expression or the worth of a symbol. Section is the relocation base and
// Coef the multiple of the section origin the value contributes.
type Value struct {
	Attr    Attr
	IsFloat bool
	Int     int64
	Float   float64
	Section *Section
	Extern  *Symbol
	Coef    int64

	// Working state while an expression is evaluated; cleared by finalize.
	coefs   []sectionCoef
	extCoef int64
}

// Plain reports whether the value carries no address type, relocation or
// external reference.
func (v *Value) Plain() bool {
	return v.Attr.AddressType() == 0 && v.Attr&(AttrRelocatable|AttrImmobile|AttrExternal) == 0
}

// Defined reports whether the value is usable (not undefined).
func (v *Value) Defined() bool {
	return v.Attr&AttrUndefined == 0
}

// addCoef merges a section contribution into the working set.
func (v *Value) addCoef(sec *Section, reloc, immobile int64) {
	for i := range v.coefs {
		if v.coefs[i].section == sec {
			v.coefs[i].reloc += reloc
			v.coefs[i].immobile += immobile
			return
		}
	}
	v.coefs = append(v.coefs, sectionCoef{section: sec, reloc: reloc, immobile: immobile})
}

// mergeCoefs folds another value's contributions in, scaled by sign.
func (v *Value) mergeCoefs(o *Value, sign int64) {
	for _, c := range o.coefs {
		v.addCoef(c.section, c.reloc*sign, c.immobile*sign)
	}
	v.extCoef += o.extCoef * sign
	if v.Extern == nil {
		v.Extern = o.Extern
	}
}

// scaleCoefs multiplies every contribution by k.
func (v *Value) scaleCoefs(k int64) {
	for i := range v.coefs {
		v.coefs[i].reloc *= k
		v.coefs[i].immobile *= k
	}
	v.extCoef *= k
}

// relocated reports whether any contribution is outstanding.
func (v *Value) relocated() bool {
	if v.extCoef != 0 {
		return true
	}
	for _, c := range v.coefs {
		if c.reloc != 0 || c.immobile != 0 {
			return true
		}
	}
	return false
}
