package memtable

import (
	"encoding/binary"
	"errors"
	"testing"
)

func testLayout(rows int) Layout {
	return Layout{
		Base:      0x1000,
		RowStride: 0x40,
		Rows:      rows,
		Fields: FieldOffsets{
			Code:       0x00,
			PrevClose:  0x04,
			Open:       0x08,
			High:       0x0C,
			Low:        0x10,
			Current:    0x14,
			Volume:     0x18,
			CurVolume:  0x1C,
			BuyVolume:  0x20,
			SellVolume: 0x24,
			SellPrice:  0x28,
		},
	}
}

func putRow(buf []byte, l Layout, row int, q RawQuote) {
	base := row * int(l.RowStride)
	put := func(off int64, v uint32) {
		binary.LittleEndian.PutUint32(buf[base+int(off):], v)
	}
	put(l.Fields.Code, q.Code)
	put(l.Fields.PrevClose, q.PrevClose)
	put(l.Fields.Open, q.Open)
	put(l.Fields.High, q.High)
	put(l.Fields.Low, q.Low)
	put(l.Fields.Current, q.Current)
	put(l.Fields.Volume, q.Volume)
	put(l.Fields.CurVolume, q.CurVolume)
	put(l.Fields.BuyVolume, q.BuyVolume)
	put(l.Fields.SellVolume, q.SellVolume)
	put(l.Fields.SellPrice, q.SellPrice)
}

func TestDecodeRow(t *testing.T) {
	l := testLayout(3)
	_, length := l.Window()
	buf := make([]byte, length)

	want := RawQuote{
		Code:      600519,
		PrevClose: 10000,
		Open:      10100,
		High:      11000,
		Low:       9950,
		Current:   11000,
		Volume:    123456,
		CurVolume: 789,
	}
	putRow(buf, l, 1, want)

	got, err := l.DecodeRow(buf, 1)
	if err != nil {
		t.Fatalf("DecodeRow failed: %v", err)
	}
	if got != want {
		t.Errorf("decoded row mismatch: got %+v want %+v", got, want)
	}

	// row 0 was never written and must decode to zeroes, not garbage
	zero, err := l.DecodeRow(buf, 0)
	if err != nil {
		t.Fatalf("DecodeRow row 0 failed: %v", err)
	}
	if zero != (RawQuote{}) {
		t.Errorf("expected zero row, got %+v", zero)
	}
}

func TestDecodeRowShortBuffer(t *testing.T) {
	l := testLayout(2)
	_, length := l.Window()

	for _, size := range []int{0, 1, fieldWidth - 1, length - 1} {
		_, err := l.DecodeRow(make([]byte, size), 1)
		if !errors.Is(err, ErrShortBuffer) {
			t.Errorf("size %d: expected ErrShortBuffer, got %v", size, err)
		}
	}

	// exactly-sized buffer decodes
	if _, err := l.DecodeRow(make([]byte, length), 1); err != nil {
		t.Errorf("exact buffer should decode: %v", err)
	}
}

func TestDecodeRowOutOfWindow(t *testing.T) {
	l := testLayout(2)
	_, length := l.Window()
	buf := make([]byte, length)

	for _, row := range []int{-1, 2, 100} {
		_, err := l.DecodeRow(buf, row)
		if !errors.Is(err, ErrDecode) {
			t.Errorf("row %d: expected ErrDecode, got %v", row, err)
		}
	}
}

func TestWindowCoversAllRows(t *testing.T) {
	l := testLayout(80)
	addr, length := l.Window()
	if addr != l.Base {
		t.Errorf("window starts at %#x, want %#x", addr, l.Base)
	}
	// last field of the last row must fit
	wantEnd := int64(79)*l.RowStride + l.Fields.SellPrice + fieldWidth
	if int64(length) != wantEnd {
		t.Errorf("window length %d, want %d", length, wantEnd)
	}
}

func TestLayoutValidate(t *testing.T) {
	l := testLayout(1)
	if err := l.Validate(); err != nil {
		t.Fatalf("valid layout rejected: %v", err)
	}
	bad := l
	bad.RowStride = 0
	if err := bad.Validate(); err == nil {
		t.Error("zero stride accepted")
	}
	bad = l
	bad.Rows = 0
	if err := bad.Validate(); err == nil {
		t.Error("zero rows accepted")
	}
}
