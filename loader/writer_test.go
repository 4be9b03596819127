package loader

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lookbusy1344/cal-assembler/asm"
)

func words(t *testing.T, buf *bytes.Buffer) []uint64 {
	t.Helper()
	b := buf.Bytes()
	require.Zero(t, len(b)%8, "dataset must be whole words")
	out := make([]uint64, len(b)/8)
	for i := range out {
		out[i] = binary.BigEndian.Uint64(b[i*8:])
	}
	return out
}

// payload strips the block control words the dataset layer interleaves.
func payload(ws []uint64) []uint64 {
	var out []uint64
	for i, w := range ws {
		if i%BlockWords == 0 {
			continue // BCW
		}
		out = append(out, w)
	}
	return out
}

func TestDatasetFraming(t *testing.T) {
	var buf bytes.Buffer
	ds := NewDataset(&buf)
	require.NoError(t, ds.WriteWord(42))
	require.NoError(t, ds.EOR())
	require.NoError(t, ds.EOF())
	require.NoError(t, ds.EOD())
	require.NoError(t, ds.Close())

	ws := words(t, &buf)
	require.Len(t, ws, BlockWords, "one padded block")
	assert.Equal(t, uint64(0), ws[0]>>60, "block control word first")
	assert.Equal(t, uint64(42), ws[1])
	assert.Equal(t, uint64(0x8), ws[2]>>60, "EOR")
	assert.Equal(t, uint64(0xE), ws[3]>>60, "EOF")
	assert.Equal(t, uint64(0xF), ws[4]>>60, "EOD")
	assert.Equal(t, uint64(0), ws[5], "zero padding to the block boundary")
}

func TestPackName(t *testing.T) {
	assert.Equal(t, uint64(0x2020202020202020), packName(""))
	assert.Equal(t, uint64(0x4142202020202020), packName("AB"))
	// "CRAY-XMP" is exactly eight characters.
	assert.Equal(t, uint64(0x435241592D584D50), packName("CRAY-XMP"))
}

// testModule builds a module with one mixed block of 13 words.
func testModule(t *testing.T) *asm.Module {
	t.Helper()
	m := asm.NewModule("TST")
	s1 := m.MixedSection()
	s1.Size = 40 // 10 words
	s2 := m.AddSection("", asm.SectionMixed, asm.LocNone)
	s2.Size = 12 // 3 words
	m.CreateObjectBlocks()
	require.Equal(t, 1, m.BlockCount, "same (id, type, location) shares one block")

	blk := m.FirstBlock
	blk.SetWord(0, 0x1111111111111111)
	blk.SetWord(48, 0x2222222222222222) // last of the 13 words
	return m
}

func TestWriteTXTHeader(t *testing.T) {
	m := testModule(t)
	var buf bytes.Buffer
	ds := NewDataset(&buf)
	require.NoError(t, writeTXT(ds, m, m.FirstBlock))
	require.NoError(t, ds.Close())

	ws := payload(words(t, &buf))
	header := ws[0]
	assert.Equal(t, uint64(0x3), header>>60)

	// 13 words = 52 parcels.
	parcelCount := uint64(52)
	assert.Equal(t, parcelCount/2+1, header>>36&0xffffff)
	assert.Equal(t, uint64(0), header&0xfffffffff, "relocatable module loads at zero")

	assert.Equal(t, uint64(0x1111111111111111), ws[1])
	assert.Equal(t, uint64(0x2222222222222222), ws[13])
}

func TestAbsoluteModuleOrigin(t *testing.T) {
	m := testModule(t)
	m.Absolute = true
	m.Origin = 200 // parcels

	var buf bytes.Buffer
	ds := NewDataset(&buf)
	require.NoError(t, writePDT(ds, m, Meta{}))
	require.NoError(t, writeTXT(ds, m, m.FirstBlock))
	require.NoError(t, ds.Close())

	ws := payload(words(t, &buf))

	// Program entry flags: absolute bit, origin in bits 24-47.
	flags := ws[22]
	assert.Equal(t, uint64(1), flags>>63, "absolute bit")
	assert.Equal(t, uint64(200), flags>>24&0xffffff, "PDT origin")

	// The TXT header carries the same parcel origin, halved.
	var txt uint64
	for _, w := range ws {
		if w>>60 == 0x3 {
			txt = w
			break
		}
	}
	require.NotZero(t, txt, "TXT header missing")
	assert.Equal(t, uint64(200/2), txt&0xfffffffff, "TXT load address")
}

func TestWriteTXTEmptyBlock(t *testing.T) {
	m := asm.NewModule("TST")
	m.MixedSection().Size = 4
	m.CreateObjectBlocks()

	var buf bytes.Buffer
	ds := NewDataset(&buf)
	require.NoError(t, writeTXT(ds, m, m.FirstBlock))
	require.NoError(t, ds.Close())

	ws := payload(words(t, &buf))
	// Header only, zero parcel count.
	assert.Equal(t, uint64(0x3), ws[0]>>60)
	assert.Equal(t, uint64(1), ws[0]>>36&0xffffff)
	assert.Equal(t, uint64(0), ws[1], "no image words follow")
}

func TestWriteBRTPacking(t *testing.T) {
	m := asm.NewModule("TST")
	m.MixedSection().Size = 8
	m.CreateObjectBlocks()
	blk := m.FirstBlock
	blk.AddReloc(asm.RelocEntry{TargetBlock: 1, Offset: 2, Parcel: true})
	blk.AddReloc(asm.RelocEntry{TargetBlock: 0, Offset: 4})
	blk.AddReloc(asm.RelocEntry{TargetBlock: 1, Offset: 6, Parcel: true})

	var buf bytes.Buffer
	ds := NewDataset(&buf)
	require.NoError(t, writeBRT(ds, blk))
	require.NoError(t, ds.Close())

	ws := payload(words(t, &buf))
	header := ws[0]
	assert.Equal(t, uint64(0x6), header>>60)
	assert.Equal(t, uint64((3+1)/2+1), header>>36&0xffffff)

	e0 := uint64(1)<<25 | 1<<24 | 2
	e1 := uint64(0)<<25 | 4
	e2 := uint64(1)<<25 | 1<<24 | 6
	assert.Equal(t, e0<<32|e1, ws[1])
	assert.Equal(t, e2<<32|0xffffffff, ws[2], "odd entry count pads with ones")
}

func TestWriteXRTEntries(t *testing.T) {
	m := asm.NewModule("TST")
	m.MixedSection().Size = 8
	m.CreateObjectBlocks()
	blk := m.FirstBlock
	blk.AddExternal(asm.ExternalEntry{ExtIndex: 3, BitAddress: 31, FieldLen: 22, Parcel: true})

	var buf bytes.Buffer
	ds := NewDataset(&buf)
	require.NoError(t, writeXRT(ds, m))
	require.NoError(t, ds.Close())

	ws := payload(words(t, &buf))
	header := ws[0]
	assert.Equal(t, uint64(0x5), header>>60)
	assert.Equal(t, uint64(2), header>>36&0xffffff)

	entry := ws[1]
	assert.Equal(t, uint64(blk.Index), entry>>51&0x1fff)
	assert.Equal(t, uint64(1), entry>>50&1, "parcel flag")
	assert.Equal(t, uint64(3), entry>>36&0x3fff, "external index")
	assert.Equal(t, uint64(22), entry>>30&0x3f, "field length")
	assert.Equal(t, uint64(31), entry&0x3fffffff, "bit address")
}

func TestWriteXRTOmittedWithoutExternals(t *testing.T) {
	m := asm.NewModule("TST")
	var buf bytes.Buffer
	ds := NewDataset(&buf)
	require.NoError(t, writeXRT(ds, m))
	require.NoError(t, ds.Close())
	assert.Zero(t, buf.Len(), "no XRT record without external fixups")
}

func TestWriteModulePDT(t *testing.T) {
	m := testModule(t)
	m.Comment = "TEST MODULE"

	// One entry point and two externals.
	entry := &asm.Symbol{ID: "START", ExtIndex: -1}
	entry.Value = asm.Value{Attr: asm.AttrParcelAddress, Int: 4}
	m.RootQual.InsertSymbol(entry)
	m.AddEntryPoint(entry)
	for _, id := range []string{"EXTA", "EXTB"} {
		sym := &asm.Symbol{ID: id, ExtIndex: -1}
		m.RootQual.InsertSymbol(sym)
		m.AddExternal(sym)
	}

	var buf bytes.Buffer
	ds := NewDataset(&buf)
	require.NoError(t, WriteModule(ds, m, Meta{Date: "01/02/03", Time: "04:05:06", OSName: "COS", ProductName: "CAL"}))
	require.NoError(t, ds.Close())

	ws := payload(words(t, &buf))
	header := ws[0]
	assert.Equal(t, uint64(0xE), header>>60, "PDT type code")
	assert.Equal(t, uint64(2), header>>22&0x3fff, "external count")
	assert.Equal(t, uint64(3), header>>8&0x3fff, "entry count times three")
	assert.Equal(t, uint64(2), header&0xff, "block count times two")

	commentWords := uint64((len(m.Comment) + 7) / 8)
	total := uint64(1+20+2) + 3 + 2 + 11 + commentWords
	assert.Equal(t, total, header>>36&0xffffff, "PDT length")

	// Fixed header entry.
	assert.Equal(t, uint64(20), ws[1], "header entry length")
	assert.Equal(t, uint64(0x0980000000000000), ws[2])
	assert.Equal(t, packName("CRAY-XMP"), ws[19])

	// Program entry: name, then flags and extent.
	assert.Equal(t, packName("TST"), ws[21])
	flags := ws[22]
	assert.Zero(t, flags>>63, "relocatable module")
	assert.Equal(t, uint64(13), flags&0xffffff, "program size in words")

	// Entry entry follows the program entry.
	assert.Equal(t, packName("START"), ws[23])
	eflags := ws[24]
	assert.Equal(t, uint64(1), eflags&1, "parcel-address entry")
	assert.Equal(t, uint64(0x100), eflags&0x100, "primary entry")
	assert.Equal(t, uint64(4), ws[25], "entry value")

	// External names in chain order.
	assert.Equal(t, packName("EXTA"), ws[26])
	assert.Equal(t, packName("EXTB"), ws[27])

	// Trailer begins with the date.
	assert.Equal(t, packName("01/02/03"), ws[28])

	// The record ends with an EOR after the TXT (and no BRT here).
	last := ws[len(ws)-1]
	for last == 0 {
		ws = ws[:len(ws)-1]
		last = ws[len(ws)-1]
	}
	assert.Equal(t, uint64(0x8), last>>60, "module record ends with EOR")
}
