package encoder

import (
	"github.com/lookbusy1344/cal-assembler/asm"
)

// Instruction shapes. A parcel is 16 bits; instructions are one or two
// parcels. The one-parcel form is gh(7) i(3) j(3) k(3); the two-parcel
// forms put a 22-bit jkm immediate or a 24-bit ijkm parcel address in the
// low bits of the 32-bit pair.

// EmitOneParcel packs gh(7) i(3) j(3) k(3) into a single parcel.
func (e *Encoder) EmitOneParcel(gh, i, j, k int) {
	e.BeginItem()
	p := uint16(gh&0x7f)<<9 | uint16(i&7)<<6 | uint16(j&7)<<3 | uint16(k&7) // #nosec G115 -- masked fields
	e.EmitParcel(p)
}

// EmitOneParcelJK packs gh(7) i(3) jk(6): the j and k fields together hold
// a six-bit constant (B and T register ordinals, mask counts).
func (e *Encoder) EmitOneParcelJK(gh, i, jk int) {
	e.EmitOneParcel(gh, i, (jk>>3)&7, jk&7)
}

// EmitTwoParcelJKM packs gh(7) i(3) jkm(22) into a parcel pair. The jkm
// field takes the value's low 22 bits; a relocatable or external value
// records its fixup against the MSB of the pair.
func (e *Encoder) EmitTwoParcelJKM(gh, i int, v *asm.Value) {
	e.BeginItem()
	e.RecordFieldFixup(v, 22)
	e.checkFieldWidth(v, 22)
	word := uint32(gh&0x7f)<<25 | uint32(i&7)<<22 | uint32(v.Int)&0x3fffff // #nosec G115 -- masked fields
	e.EmitParcel(uint16(word >> 16))                                      // #nosec G115 -- high parcel
	e.EmitParcel(uint16(word))                                            // #nosec G115 -- low parcel
}

// EmitTwoParcelIJKM packs gh(7) ijkm(24) into a parcel pair: the branch
// shape, whose field is a parcel address.
func (e *Encoder) EmitTwoParcelIJKM(gh int, v *asm.Value) {
	e.BeginItem()
	e.RecordFieldFixup(v, 24)
	e.checkFieldWidth(v, 24)
	word := uint32(gh&0x7f)<<25 | uint32(v.Int)&0xffffff // #nosec G115 -- masked fields
	e.EmitParcel(uint16(word >> 16))                     // #nosec G115 -- high parcel
	e.EmitParcel(uint16(word))                           // #nosec G115 -- low parcel
}

// toParcelAddress rescales an address-typed value to parcels for branch
// fields: word addresses hold four parcels, byte addresses two per parcel.
func toParcelAddress(v *asm.Value) {
	switch v.Attr.AddressType() {
	case asm.AttrWordAddress:
		v.Int *= 4
	case asm.AttrByteAddress:
		v.Int /= 2
	default:
		return
	}
	v.Attr = v.Attr&^(asm.AttrWordAddress|asm.AttrByteAddress) | asm.AttrParcelAddress
}
