package loader

import (
	"encoding/binary"
	"fmt"
	"io"
)

// BlockWords is the size of one COS dataset block, control word included.
const BlockWords = 512

// Control-word modes. A block begins with a block control word (mode 0);
// records, files and the dataset end with record control words.
const (
	modeBCW = 0x0
	modeEOR = 0x8
	modeEOF = 0xE
	modeEOD = 0xF
)

// Dataset is the record-framed sequential word sink of the COS loader
// format: a sequence of 512-word blocks, each led by a one-word control
// header, with EOR/EOF/EOD termination words.
type Dataset struct {
	w         io.Writer
	blockUsed int // words written in the current block, control word included
	blockNum  int
}

// NewDataset wraps a writer in dataset framing.
func NewDataset(w io.Writer) *Dataset {
	return &Dataset{w: w}
}

func (d *Dataset) putWord(v uint64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	if _, err := d.w.Write(buf[:]); err != nil {
		return fmt.Errorf("dataset write: %w", err)
	}
	return nil
}

// WriteWord writes one payload word, opening a new block with its control
// word as needed.
func (d *Dataset) WriteWord(v uint64) error {
	if d.blockUsed == 0 || d.blockUsed == BlockWords {
		bcw := uint64(modeBCW)<<60 | uint64(d.blockNum)&0xffffff // #nosec G115 -- 24-bit block number
		if err := d.putWord(bcw); err != nil {
			return err
		}
		d.blockNum++
		d.blockUsed = 1
	}
	if err := d.putWord(v); err != nil {
		return err
	}
	d.blockUsed++
	return nil
}

func (d *Dataset) control(mode uint64) error {
	return d.WriteWord(mode << 60)
}

// EOR terminates the current record.
func (d *Dataset) EOR() error {
	return d.control(modeEOR)
}

// EOF terminates the current file.
func (d *Dataset) EOF() error {
	return d.control(modeEOF)
}

// EOD terminates the dataset.
func (d *Dataset) EOD() error {
	return d.control(modeEOD)
}

// Close pads the final block with zero words so the dataset is a whole
// number of 512-word blocks.
func (d *Dataset) Close() error {
	for d.blockUsed != 0 && d.blockUsed != BlockWords {
		if err := d.putWord(0); err != nil {
			return err
		}
		d.blockUsed++
	}
	return nil
}
