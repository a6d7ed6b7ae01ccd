// Package memtable decodes the terminal's in-memory quote table: a fixed-stride
// array of per-instrument rows whose 4-byte little-endian fields sit at byte
// offsets known from the terminal build. The offsets are versioned configuration,
// not derived data.
package memtable

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrShortBuffer means the supplied buffer does not cover the requested row.
	ErrShortBuffer = errors.New("buffer too short for row")
	// ErrDecode covers layout mismatches such as an out-of-window row index.
	ErrDecode = errors.New("row decode failed")
)

const fieldWidth = 4 // all table fields are 4-byte little-endian unsigned ints

// FieldOffsets holds the byte offset of each semantic field of row 0, relative
// to the process base address.
type FieldOffsets struct {
	Code       int64
	PrevClose  int64
	Open       int64
	High       int64
	Low        int64
	Current    int64
	Volume     int64
	CurVolume  int64
	BuyVolume  int64
	SellVolume int64
	SellPrice  int64
}

func (f FieldOffsets) all() []int64 {
	return []int64{
		f.Code, f.PrevClose, f.Open, f.High, f.Low, f.Current,
		f.Volume, f.CurVolume, f.BuyVolume, f.SellVolume, f.SellPrice,
	}
}

// Layout describes one build's quote table: where it starts, how far apart the
// rows are and how many rows the collector watches.
type Layout struct {
	Base      uintptr
	RowStride int64
	Rows      int
	Fields    FieldOffsets
}

func (l Layout) Validate() error {
	if l.RowStride <= 0 {
		return fmt.Errorf("%w: row stride %d", ErrDecode, l.RowStride)
	}
	if l.Rows <= 0 {
		return fmt.Errorf("%w: row count %d", ErrDecode, l.Rows)
	}
	for _, off := range l.Fields.all() {
		if off < 0 {
			return fmt.Errorf("%w: negative field offset %d", ErrDecode, off)
		}
	}
	return nil
}

func (l Layout) minOffset() int64 {
	offs := l.Fields.all()
	min := offs[0]
	for _, o := range offs[1:] {
		if o < min {
			min = o
		}
	}
	return min
}

func (l Layout) maxOffset() int64 {
	offs := l.Fields.all()
	max := offs[0]
	for _, o := range offs[1:] {
		if o > max {
			max = o
		}
	}
	return max
}

// Window returns the single address range covering every field of every row,
// so one bounded read serves a whole collector tick.
func (l Layout) Window() (addr uintptr, length int) {
	start := l.minOffset()
	end := l.maxOffset() + fieldWidth + int64(l.Rows-1)*l.RowStride
	return l.Base + uintptr(start), int(end - start)
}

// RawQuote is one decoded row, still in the table's integer representation.
// Price fields carry the terminal's fixed-point scale.
type RawQuote struct {
	Code       uint32
	PrevClose  uint32
	Open       uint32
	High       uint32
	Low        uint32
	Current    uint32
	Volume     uint32
	CurVolume  uint32
	BuyVolume  uint32
	SellVolume uint32
	SellPrice  uint32
}

// DecodeRow decodes row from buf, where buf is the byte range returned by a
// Window read. Decoding is pure; an undersized buffer fails with ErrShortBuffer
// and never reads out of bounds.
func (l Layout) DecodeRow(buf []byte, row int) (RawQuote, error) {
	if row < 0 || row >= l.Rows {
		return RawQuote{}, fmt.Errorf("%w: row %d outside window of %d", ErrDecode, row, l.Rows)
	}

	origin := l.minOffset()
	rowBase := int64(row) * l.RowStride

	var err error
	field := func(off int64) uint32 {
		if err != nil {
			return 0
		}
		p := rowBase + off - origin
		if p < 0 || p+fieldWidth > int64(len(buf)) {
			err = fmt.Errorf("%w: need %d bytes, have %d", ErrShortBuffer, p+fieldWidth, len(buf))
			return 0
		}
		return binary.LittleEndian.Uint32(buf[p:])
	}

	f := l.Fields
	q := RawQuote{
		Code:       field(f.Code),
		PrevClose:  field(f.PrevClose),
		Open:       field(f.Open),
		High:       field(f.High),
		Low:        field(f.Low),
		Current:    field(f.Current),
		Volume:     field(f.Volume),
		CurVolume:  field(f.CurVolume),
		BuyVolume:  field(f.BuyVolume),
		SellVolume: field(f.SellVolume),
		SellPrice:  field(f.SellPrice),
	}
	if err != nil {
		return RawQuote{}, err
	}
	return q, nil
}
