package asm

import (
	"encoding/binary"
	"math"
	"strings"

	"github.com/lookbusy1344/cal-assembler/parser"
)

// SectionType classifies a section's contents.
type SectionType int

const (
	SectionMixed SectionType = iota
	SectionCode
	SectionData
	SectionStack
	SectionCommon
	SectionDynamic
	SectionTaskCommon
	SectionNone
)

var sectionTypeNames = map[SectionType]string{
	SectionMixed:      "MIXED",
	SectionCode:       "CODE",
	SectionData:       "DATA",
	SectionStack:      "STACK",
	SectionCommon:     "COMMON",
	SectionDynamic:    "DYNAMIC",
	SectionTaskCommon: "TASKCOM",
	SectionNone:       "NONE",
}

func (t SectionType) String() string {
	if name, ok := sectionTypeNames[t]; ok {
		return name
	}
	return "?"
}

// SectionLoc is the memory the section is destined for.
type SectionLoc int

const (
	LocNone SectionLoc = iota
	LocCM              // central memory
	LocEM              // extended memory
	LocLM              // local memory
)

func (l SectionLoc) String() string {
	switch l {
	case LocCM:
		return "CM"
	case LocEM:
		return "EM"
	case LocLM:
		return "LM"
	}
	return ""
}

// Section is a region of code or data within a module. Counters are in
// parcels; ParcelBitPos is the bit cursor within the current parcel.
type Section struct {
	ID    string
	Index int
	Type  SectionType
	Loc   SectionLoc

	OriginOffset uint32 // parcel offset of this section within its block
	Size         uint32 // parcels, grown during pass 1

	OriginCounter   uint32 // parcel index where the next emit begins
	LocationCounter uint32 // parcel index where the current instruction began
	ParcelBitPos    int    // 0..15

	Block *ObjectBlock
}

// WordBitPos returns the bit cursor within the current 64-bit word (0..63).
func (s *Section) WordBitPos() int {
	return int(s.OriginCounter%4)*16 + s.ParcelBitPos
}

// Immobile reports whether addresses in the section do not move with the
// module (common and stack storage).
func (s *Section) Immobile() bool {
	switch s.Type {
	case SectionStack, SectionCommon, SectionDynamic, SectionTaskCommon:
		return true
	}
	return false
}

// ResetCounters prepares the section for the next pass.
func (s *Section) ResetCounters() {
	s.OriginCounter = 0
	s.LocationCounter = 0
	s.ParcelBitPos = 0
}

// RelocEntry records one relocatable field in a block: the block at whose
// base the fixup is applied, the parcel offset of the field within the
// referring block, and whether the field holds a parcel address.
type RelocEntry struct {
	TargetBlock int
	Offset      uint32
	Parcel      bool
}

// ExternalEntry records one external fixup: the external symbol's index,
// the bit address of the field's MSB within the block, the field length in
// bits, and whether the field holds a parcel address.
type ExternalEntry struct {
	ExtIndex   int
	BitAddress uint64
	FieldLen   int
	Parcel     bool
}

// Image and fixup tables grow in fixed increments.
const (
	imageIncrement = 4096
	tableIncrement = 64
)

// ObjectBlock is the concatenation of all sections of a module sharing
// (id, type, location). The image is filled only in pass 2.
type ObjectBlock struct {
	ID    string
	Index int
	Type  SectionType
	Loc   SectionLoc

	Image     []byte
	ImageSize uint32 // bytes in use
	Offset    uint32 // running parcel offset as sections are placed

	LowestParcel  uint32
	HighestParcel uint32

	Relocs    []RelocEntry
	Externals []ExternalEntry

	Next *ObjectBlock
}

func newObjectBlock(id string, index int, typ SectionType, loc SectionLoc) *ObjectBlock {
	return &ObjectBlock{
		ID:           id,
		Index:        index,
		Type:         typ,
		Loc:          loc,
		LowestParcel: math.MaxUint32,
	}
}

// ensure grows the image so byte index n-1 is addressable. New bytes are
// zero.
func (b *ObjectBlock) ensure(n uint32) {
	if n <= uint32(len(b.Image)) {
		if n > b.ImageSize {
			b.ImageSize = n
		}
		return
	}
	size := (n + imageIncrement - 1) / imageIncrement * imageIncrement
	grown := make([]byte, size)
	copy(grown, b.Image)
	b.Image = grown
	b.ImageSize = n
}

// Word fetches the 64-bit word containing parcel address p. Words are
// stored big-endian.
func (b *ObjectBlock) Word(p uint32) uint64 {
	base := p / 4 * 8
	if base+8 > uint32(len(b.Image)) {
		b.ensure(base + 8)
	}
	return binary.BigEndian.Uint64(b.Image[base : base+8])
}

// SetWord stores the 64-bit word containing parcel address p and tracks
// the written extent.
func (b *ObjectBlock) SetWord(p uint32, w uint64) {
	base := p / 4 * 8
	b.ensure(base + 8)
	binary.BigEndian.PutUint64(b.Image[base:base+8], w)
	wordFirst := p &^ 3
	if wordFirst < b.LowestParcel {
		b.LowestParcel = wordFirst
	}
	if wordFirst+3 > b.HighestParcel {
		b.HighestParcel = wordFirst + 3
	}
}

// AddReloc appends a relocation entry, growing the table in fixed
// increments.
func (b *ObjectBlock) AddReloc(e RelocEntry) {
	if len(b.Relocs) == cap(b.Relocs) {
		grown := make([]RelocEntry, len(b.Relocs), cap(b.Relocs)+tableIncrement)
		copy(grown, b.Relocs)
		b.Relocs = grown
	}
	b.Relocs = append(b.Relocs, e)
}

// AddExternal appends an external fixup entry.
func (b *ObjectBlock) AddExternal(e ExternalEntry) {
	if len(b.Externals) == cap(b.Externals) {
		grown := make([]ExternalEntry, len(b.Externals), cap(b.Externals)+tableIncrement)
		copy(grown, b.Externals)
		b.Externals = grown
	}
	b.Externals = append(b.Externals, e)
}

// Empty reports whether nothing was ever written to the block image.
func (b *ObjectBlock) Empty() bool {
	return b.LowestParcel == math.MaxUint32
}

// Literal is a deduplicated literal expression and its assigned parcel
// offset within the literals section.
type Literal struct {
	Tokens []parser.Token
	Offset uint32
	Placed bool
}

// Module is the top-level compilation unit.
type Module struct {
	Ident     string
	Comment   string
	Absolute  bool
	Origin    uint32 // load origin in parcels, absolute modules only
	StackSize uint32
	HasErrors bool

	Sections []*Section

	FirstBlock *ObjectBlock
	LastBlock  *ObjectBlock
	BlockCount int

	Literals []*Literal

	FirstEntry    *Symbol
	LastEntry     *Symbol
	EntryCount    int
	FirstExternal *Symbol
	LastExternal  *Symbol
	ExternalCount int

	Qualifiers *Qualifier
	RootQual   *Qualifier
	Macros     *MacroDef
	Micros     *Micro
	Duplicated *MacroDef

	Next *Module
}

// NewModule creates a module seeded with the unnamed mixed section and the
// literals section.
func NewModule(ident string) *Module {
	m := &Module{Ident: ident}
	m.RootQual = &Qualifier{}
	m.Qualifiers = m.RootQual
	m.Sections = []*Section{
		{ID: "", Index: 0, Type: SectionMixed},
		{ID: "=", Index: 1, Type: SectionData},
	}
	return m
}

// MixedSection returns the seeded unnamed mixed section.
func (m *Module) MixedSection() *Section {
	return m.Sections[0]
}

// LiteralsSection returns the seeded literals section.
func (m *Module) LiteralsSection() *Section {
	return m.Sections[1]
}

// AddSection appends a section created by the SECTION or BLOCK
// pseudo-instructions.
func (m *Module) AddSection(id string, typ SectionType, loc SectionLoc) *Section {
	s := &Section{ID: id, Index: len(m.Sections), Type: typ, Loc: loc}
	m.Sections = append(m.Sections, s)
	return s
}

// FindSection returns the first section matching id (case-insensitive), or
// nil.
func (m *Module) FindSection(id string) *Section {
	for _, s := range m.Sections {
		if strings.EqualFold(s.ID, id) {
			return s
		}
	}
	return nil
}

// AddLiteral registers a literal expression, deduplicating by structural
// equality of the token sequence.
func (m *Module) AddLiteral(tokens []parser.Token) *Literal {
	for _, lit := range m.Literals {
		if parser.TokensEqual(lit.Tokens, tokens) {
			return lit
		}
	}
	lit := &Literal{Tokens: append([]parser.Token(nil), tokens...)}
	m.Literals = append(m.Literals, lit)
	return lit
}

// CreateObjectBlocks groups sections by (id, type, location) into object
// blocks, numbering blocks in encounter order. Each section's origin
// offset is the block's offset at placement time; the block offset then
// advances by the section size rounded up to a whole word.
func (m *Module) CreateObjectBlocks() {
	for _, s := range m.Sections {
		if s.Index < 2 && s.Size == 0 {
			continue
		}
		blk := m.findBlock(s.ID, s.Type, s.Loc)
		if blk == nil {
			blk = newObjectBlock(s.ID, m.BlockCount, s.Type, s.Loc)
			m.BlockCount++
			if m.FirstBlock == nil {
				m.FirstBlock = blk
			} else {
				m.LastBlock.Next = blk
			}
			m.LastBlock = blk
		}
		s.Block = blk
		s.OriginOffset = blk.Offset
		blk.Offset += (s.Size + 3) &^ 3
	}
}

func (m *Module) findBlock(id string, typ SectionType, loc SectionLoc) *ObjectBlock {
	for b := m.FirstBlock; b != nil; b = b.Next {
		if strings.EqualFold(b.ID, id) && b.Type == typ && b.Loc == loc {
			return b
		}
	}
	return nil
}

// AdjustSymbolValues adds each symbol's section origin offset to its value,
// scaled to the symbol's address unit: word addresses move by a quarter of
// the parcel offset, parcel addresses by the offset itself, byte addresses
// by twice the offset.
func (m *Module) AdjustSymbolValues() {
	m.walkQualifiers(m.Qualifiers, func(q *Qualifier) {
		walkSymbols(q.Symbols, func(sym *Symbol) {
			v := &sym.Value
			if v.Coef == 0 || v.Section == nil {
				return
			}
			off := int64(v.Section.OriginOffset)
			switch v.Attr.AddressType() {
			case AttrWordAddress:
				off /= 4
			case AttrByteAddress:
				off *= 2
			}
			v.Int += v.Coef * off
		})
	})
}

// EachSymbol visits every symbol of the module in qualifier and tree
// order.
func (m *Module) EachSymbol(f func(q *Qualifier, s *Symbol)) {
	m.walkQualifiers(m.Qualifiers, func(q *Qualifier) {
		walkSymbols(q.Symbols, func(s *Symbol) {
			f(q, s)
		})
	})
}

func (m *Module) walkQualifiers(q *Qualifier, f func(*Qualifier)) {
	if q == nil {
		return
	}
	m.walkQualifiers(q.Left, f)
	f(q)
	m.walkQualifiers(q.Right, f)
}

func walkSymbols(s *Symbol, f func(*Symbol)) {
	if s == nil {
		return
	}
	walkSymbols(s.Left, f)
	f(s)
	walkSymbols(s.Right, f)
}
