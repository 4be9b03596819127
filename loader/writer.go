package loader

import (
	"encoding/binary"

	"github.com/lookbusy1344/cal-assembler/asm"
)

// Table type codes from the loader format.
const (
	tableTXT = 0x3
	tableXRT = 0x5
	tableBRT = 0x6
	tablePDT = 0xE
)

// Meta is the provenance stamped into each PDT trailer.
type Meta struct {
	Date           string
	Time           string
	OSName         string
	OSDate         string
	ProductName    string
	ProductVersion string
}

// packName packs an identifier into one 8-byte blank-padded big-endian
// word.
func packName(s string) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		c := byte(' ')
		if i < len(s) {
			c = s[i]
		}
		v = v<<8 | uint64(c)
	}
	return v
}

// packText packs arbitrary text eight characters per word, blank padded.
func packText(s string) []uint64 {
	if s == "" {
		return nil
	}
	var words []uint64
	for i := 0; i < len(s); i += 8 {
		end := i + 8
		if end > len(s) {
			end = len(s)
		}
		words = append(words, packName(s[i:end]))
	}
	return words
}

// blockSizeWords is the linker-visible extent of a block in words.
func blockSizeWords(b *asm.ObjectBlock) uint64 {
	if b.Empty() {
		return 0
	}
	return uint64(((b.HighestParcel+4)&^3)-(b.LowestParcel&^3)) / 4
}

// hlmWords is a block's contribution to the module's high load memory.
func hlmWords(b *asm.ObjectBlock) uint64 {
	if b.Empty() {
		return 0
	}
	return uint64((b.HighestParcel+4+3)&^3) / 4
}

// WriteModule serializes one module: the PDT, one TXT per block, a BRT per
// block with relocation entries, the module's XRT when any external fixups
// exist, and the end-of-record.
func WriteModule(ds *Dataset, m *asm.Module, meta Meta) error {
	if err := writePDT(ds, m, meta); err != nil {
		return err
	}
	for b := m.FirstBlock; b != nil; b = b.Next {
		if err := writeTXT(ds, m, b); err != nil {
			return err
		}
	}
	for b := m.FirstBlock; b != nil; b = b.Next {
		if len(b.Relocs) > 0 {
			if err := writeBRT(ds, b); err != nil {
				return err
			}
		}
	}
	if err := writeXRT(ds, m); err != nil {
		return err
	}
	return ds.EOR()
}

func writePDT(ds *Dataset, m *asm.Module, meta Meta) error {
	var mixed *asm.ObjectBlock
	var commons []*asm.ObjectBlock
	for b := m.FirstBlock; b != nil; b = b.Next {
		if b.Type == asm.SectionMixed && b.ID == "" && mixed == nil {
			mixed = b
		} else {
			commons = append(commons, b)
		}
	}

	extCount := uint64(m.ExternalCount)  // #nosec G115 -- chain length
	entryCount := uint64(m.EntryCount)   // #nosec G115 -- chain length
	blockCount := uint64(1 + len(commons))
	comment := packText(m.Comment)
	total := uint64(1+20+2) + 2*uint64(len(commons)) + 3*entryCount + extCount +
		11 + uint64(len(comment))

	header := uint64(tablePDT)<<60 | (total&0xffffff)<<36 | (extCount&0x3fff)<<22 |
		(entryCount*3&0x3fff)<<8 | (blockCount*2)&0xff
	if err := ds.WriteWord(header); err != nil {
		return err
	}

	// Fixed 20-word header entry.
	var hlm uint64
	for b := m.FirstBlock; b != nil; b = b.Next {
		hlm += hlmWords(b)
	}
	if !m.Absolute {
		hlm += 0o200
	}
	fixed := [20]uint64{
		0:  20,
		1:  0x0980000000000000,
		14: hlm,
		17: 3,
		18: packName("CRAY-XMP"),
		19: 0,
	}
	for _, w := range fixed {
		if err := ds.WriteWord(w); err != nil {
			return err
		}
	}

	// Program entry.
	name := packName(m.Ident)
	if mixed == nil {
		name = packName("")
	}
	if err := ds.WriteWord(name); err != nil {
		return err
	}
	var flags uint64
	if m.Absolute {
		flags |= 1 << 63
		// Module.Origin is a parcel address; the TXT header reads the same
		// value.
		flags |= (uint64(m.Origin) & 0xffffff) << 24
	}
	if m.HasErrors {
		flags |= 1 << 62
	}
	if mixed != nil {
		flags |= blockSizeWords(mixed) & 0xffffff
	}
	if err := ds.WriteWord(flags); err != nil {
		return err
	}

	// Common-block entries.
	for _, b := range commons {
		if err := ds.WriteWord(packName(b.ID)); err != nil {
			return err
		}
		w := blockSizeWords(b)
		if b.Loc == asm.LocEM {
			w |= 2 << 48
		}
		if err := ds.WriteWord(w); err != nil {
			return err
		}
	}

	// Entry entries, three words each, in declaration order.
	primary := true
	for sym := m.FirstEntry; sym != nil; sym = sym.Next {
		if err := ds.WriteWord(packName(sym.ID)); err != nil {
			return err
		}
		var ef uint64
		if sym.Value.Attr.AddressType() == asm.AttrParcelAddress {
			ef |= 1
		}
		if sym.Value.Section != nil && sym.Value.Section.Block != nil {
			ef |= uint64(sym.Value.Section.Block.Index) << 1 // #nosec G115 -- block index
		}
		if primary {
			ef |= 0x100
			primary = false
		}
		if err := ds.WriteWord(ef); err != nil {
			return err
		}
		if err := ds.WriteWord(uint64(sym.Value.Int)); err != nil { // #nosec G115 -- 64-bit pattern
			return err
		}
	}

	// External entries, one name per word, in external-chain order.
	for sym := m.FirstExternal; sym != nil; sym = sym.Next {
		if err := ds.WriteWord(packName(sym.ID)); err != nil {
			return err
		}
	}

	// Trailer.
	trailer := []uint64{
		packName(meta.Date),
		packName(meta.Time),
		packName(meta.OSName),
		packName(meta.OSDate),
		0,
		packName(meta.ProductName),
		packName(meta.ProductVersion),
		0, 0, 0, 0,
	}
	for _, w := range trailer {
		if err := ds.WriteWord(w); err != nil {
			return err
		}
	}
	for _, w := range comment {
		if err := ds.WriteWord(w); err != nil {
			return err
		}
	}
	return nil
}

func writeTXT(ds *Dataset, m *asm.Module, b *asm.ObjectBlock) error {
	// The load address is the module's parcel origin for absolute modules,
	// zero otherwise, matching the PDT program entry.
	var load uint64
	if m.Absolute {
		load = uint64(m.Origin)
	}

	if b.Empty() {
		// A block with nothing written gets a header-only record with a
		// zero parcel count.
		header := uint64(tableTXT)<<60 | 1<<36 | load/2
		return ds.WriteWord(header)
	}

	first := b.LowestParcel &^ 3
	limit := (b.HighestParcel + 4) &^ 3
	parcelCount := uint64(limit - first)

	header := uint64(tableTXT)<<60 | (parcelCount/2+1)<<36 | load/2
	if err := ds.WriteWord(header); err != nil {
		return err
	}
	for p := first; p < limit; p += 4 {
		base := p / 4 * 8
		var w uint64
		if int(base+8) <= len(b.Image) {
			w = binary.BigEndian.Uint64(b.Image[base : base+8])
		}
		if err := ds.WriteWord(w); err != nil {
			return err
		}
	}
	return nil
}

func writeBRT(ds *Dataset, b *asm.ObjectBlock) error {
	entries := len(b.Relocs)
	header := uint64(tableBRT)<<60 | (uint64(entries+1)/2+1)<<36 | // #nosec G115 -- table length
		uint64(b.Index)<<25 // #nosec G115 -- block index
	if err := ds.WriteWord(header); err != nil {
		return err
	}
	pack := func(e asm.RelocEntry) uint64 {
		v := uint64(e.TargetBlock)<<25 | uint64(e.Offset)&0xffffff // #nosec G115 -- block index
		if e.Parcel {
			v |= 1 << 24
		}
		return v
	}
	for i := 0; i < entries; i += 2 {
		w := pack(b.Relocs[i]) << 32
		if i+1 < entries {
			w |= pack(b.Relocs[i+1])
		} else {
			w |= 0xffffffff
		}
		if err := ds.WriteWord(w); err != nil {
			return err
		}
	}
	return nil
}

func writeXRT(ds *Dataset, m *asm.Module) error {
	entries := 0
	for b := m.FirstBlock; b != nil; b = b.Next {
		entries += len(b.Externals)
	}
	if entries == 0 {
		return nil
	}
	header := uint64(tableXRT)<<60 | uint64(entries+1)<<36 // #nosec G115 -- table length
	if err := ds.WriteWord(header); err != nil {
		return err
	}
	for b := m.FirstBlock; b != nil; b = b.Next {
		for _, e := range b.Externals {
			w := uint64(b.Index)<<51 | uint64(e.ExtIndex)<<36 | // #nosec G115 -- indices
				uint64(e.FieldLen)<<30 | e.BitAddress&0x3fffffff // #nosec G115 -- field length
			if e.Parcel {
				w |= 1 << 50
			}
			if err := ds.WriteWord(w); err != nil {
				return err
			}
		}
	}
	return nil
}
