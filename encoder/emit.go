package encoder

import (
	"github.com/lookbusy1344/cal-assembler/asm"
	"github.com/lookbusy1344/cal-assembler/parser"
)

// Encoder emits code and data into the current section of the assembler
// state. Pass 1 only advances counters and grows section sizes; pass 2
// writes image bytes and records fixups.
type Encoder struct {
	A *asm.Assembler

	// Extent of the current line's emission, for the listing.
	lineStart uint32
	lineEnd   uint32
}

// New creates an encoder over assembler state.
func New(a *asm.Assembler) *Encoder {
	return &Encoder{A: a}
}

// AdvanceBitPosition moves the emission cursor forward by count bits,
// carrying into the parcel and word counters. In pass 1 the section size
// grows to cover the cursor.
func (e *Encoder) AdvanceBitPosition(count int) {
	s := e.A.Section
	bits := s.ParcelBitPos + count
	s.OriginCounter += uint32(bits / 16) // #nosec G115 -- cursor arithmetic
	s.ParcelBitPos = bits % 16
	if e.A.Pass == 1 {
		size := s.OriginCounter
		if s.ParcelBitPos > 0 {
			size++
		}
		if size > s.Size {
			s.Size = size
		}
	}
}

// EmitFieldBits appends an n-bit field (n <= 64) at the cursor, crossing
// parcel and word boundaries as needed. The word containing each completed
// portion is written back immediately so the image is always current.
func (e *Encoder) EmitFieldBits(v uint64, n int) {
	if n <= 0 {
		return
	}
	if n < 64 {
		v &= (uint64(1) << uint(n)) - 1
	}
	s := e.A.Section
	if e.A.Pass != 2 || s.Block == nil {
		e.AdvanceBitPosition(n)
		return
	}
	for n > 0 {
		addr := s.OriginOffset + s.OriginCounter
		bitpos := s.WordBitPos()
		remaining := 64 - bitpos
		take := n
		if take > remaining {
			take = remaining
		}
		chunk := v >> uint(n-take)
		if take < 64 {
			chunk &= (uint64(1) << uint(take)) - 1
		}
		word := s.Block.Word(addr)
		word |= chunk << uint(remaining-take)
		s.Block.SetWord(addr, word)
		e.AdvanceBitPosition(take)
		n -= take
	}
	end := s.OriginOffset + s.OriginCounter
	if s.ParcelBitPos > 0 {
		end++
	}
	if end > e.lineEnd {
		e.lineEnd = end
	}
}

// ForceParcelBoundary advances to the next parcel when mid-parcel.
func (e *Encoder) ForceParcelBoundary() {
	s := e.A.Section
	if s.ParcelBitPos != 0 {
		e.AdvanceBitPosition(16 - s.ParcelBitPos)
	}
}

// ForceWordBoundary advances to the next 64-bit word boundary. From bit
// position 0 of a word it is a no-op.
func (e *Encoder) ForceWordBoundary() {
	e.ForceParcelBoundary()
	s := e.A.Section
	if rem := s.OriginCounter % 4; rem != 0 {
		e.AdvanceBitPosition(int(16 * (4 - rem)))
	}
}

// EmitParcel appends one 16-bit parcel. The cursor must be on a parcel
// boundary; instructions always are.
func (e *Encoder) EmitParcel(v uint16) {
	e.EmitFieldBits(uint64(v), 16)
}

// EmitWord appends one 64-bit word. The caller forces word alignment first.
func (e *Encoder) EmitWord(v uint64) {
	e.EmitFieldBits(v, 64)
}

// BeginItem marks the start of an instruction or data item: the location
// counter captures where the item begins.
func (e *Encoder) BeginItem() {
	s := e.A.Section
	s.LocationCounter = s.OriginCounter
}

// BeginLine resets the listing extent for a new source line.
func (e *Encoder) BeginLine() {
	s := e.A.Section
	e.lineStart = s.OriginOffset + s.OriginCounter
	e.lineEnd = e.lineStart
}

// LineParcels returns the parcels emitted for the current line, read back
// from the block image.
func (e *Encoder) LineParcels() []uint16 {
	s := e.A.Section
	if e.A.Pass != 2 || s.Block == nil || e.lineEnd <= e.lineStart {
		return nil
	}
	start, end := e.lineStart, e.lineEnd
	if end-start > 16 {
		end = start + 16 // the listing shows at most four words per line
	}
	parcels := make([]uint16, 0, end-start)
	for p := start; p < end; p++ {
		w := s.Block.Word(p)
		shift := uint(48 - (p%4)*16)
		parcels = append(parcels, uint16(w>>shift)) // #nosec G115 -- 16-bit slice of word
	}
	return parcels
}

// RecordFieldFixup records the relocation or external-fixup entry for an
// address field about to be emitted at the current location counter. The
// bit address of an external fixup is the MSB of the 32-bit instruction
// pair.
func (e *Encoder) RecordFieldFixup(v *asm.Value, fieldLen int) {
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
			BitAddress: uint64(s.OriginOffset+s.LocationCounter)*16 + 31,
			FieldLen:   fieldLen,
			Parcel:     parcel,
		})
		return
	}
	if v.Attr&(asm.AttrRelocatable|asm.AttrImmobile) != 0 && v.Section != nil && v.Section.Block != nil {
		blk.AddReloc(asm.RelocEntry{
			TargetBlock: v.Section.Block.Index,
			Offset:      s.OriginOffset + s.LocationCounter,
			Parcel:      parcel,
		})
	}
}

// checkFieldWidth warns when a defined absolute value does not fit its
// field.
func (e *Encoder) checkFieldWidth(v *asm.Value, n int) {
	if !v.Defined() || v.Attr&(asm.AttrRelocatable|asm.AttrImmobile|asm.AttrExternal) != 0 {
		return
	}
	if n >= 64 {
		return
	}
	limit := int64(1) << uint(n)
	if v.Int >= limit || v.Int < -(limit>>1) {
		e.A.RegisterError(parser.WarnTruncation)
	}
}
