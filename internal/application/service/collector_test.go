package service

import (
	"context"
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"

	"tdxmon/internal/domain/model"
	"tdxmon/internal/infrastructure/memtable"
	"tdxmon/internal/infrastructure/procmem"
)

// fakeProcess serves a static byte image of the target's address space.
type fakeProcess struct {
	base   uintptr
	image  []byte
	closed bool
}

func (p *fakeProcess) ReadAt(addr uintptr, buf []byte) error {
	off := int(addr - p.base)
	if off < 0 || off+len(buf) > len(p.image) {
		return procmem.ErrReadFault
	}
	copy(buf, p.image[off:])
	return nil
}

func (p *fakeProcess) Pid() int     { return 4242 }
func (p *fakeProcess) Close() error { p.closed = true; return nil }

type mockStore struct {
	quotes map[string]*model.RealtimeQuote
	events map[string]*model.LimitUpEvent // code|date
}

func newMockStore() *mockStore {
	return &mockStore{
		quotes: map[string]*model.RealtimeQuote{},
		events: map[string]*model.LimitUpEvent{},
	}
}

func (m *mockStore) UpsertRealtimeQuote(ctx context.Context, q *model.RealtimeQuote) error {
	cp := *q
	m.quotes[q.Code] = &cp
	return nil
}

func (m *mockStore) UpsertLimitUpEvent(ctx context.Context, code, name, date string, percent float64, at time.Time) error {
	key := code + "|" + date
	if ev, ok := m.events[key]; ok {
		ev.ChangePercent = percent
		return nil
	}
	m.events[key] = &model.LimitUpEvent{
		Code: code, Name: name, Date: date,
		ChangePercent: percent, ContinuousCount: 1,
		FirstLimitUpTime: at.Format("15:04:05"),
	}
	return nil
}

func (m *mockStore) QueryLimitUpEvent(ctx context.Context, code, date string) (*model.LimitUpEvent, error) {
	if ev, ok := m.events[code+"|"+date]; ok {
		return ev, nil
	}
	return nil, errors.New("not found")
}

func (m *mockStore) BatchUpsertHistoricalBars(ctx context.Context, g model.Granularity, bars []model.HistoricalBar) error {
	return nil
}

func (m *mockStore) ReplaceSectorMembership(ctx context.Context, meta model.SectorRecord, members []model.SectorMember) error {
	return nil
}

func (m *mockStore) QuerySectorsByType(ctx context.Context, t model.SectorType) ([]model.SectorRecord, error) {
	return nil, nil
}

func (m *mockStore) QuerySectorMembers(ctx context.Context, sectorCode string) ([]model.SectorMember, error) {
	return nil, nil
}

func (m *mockStore) QueryLatestSnapshot(ctx context.Context) ([]model.RealtimeQuote, error) {
	out := make([]model.RealtimeQuote, 0, len(m.quotes))
	for _, q := range m.quotes {
		out = append(out, *q)
	}
	return out, nil
}

func (m *mockStore) QueryInstrumentDetail(ctx context.Context, code string) (*model.RealtimeQuote, error) {
	if q, ok := m.quotes[code]; ok {
		return q, nil
	}
	return nil, errors.New("not found")
}

func (m *mockStore) Close() error { return nil }

func testLayout(rows int) memtable.Layout {
	return memtable.Layout{
		Base:      0x400000,
		RowStride: 0x40,
		Rows:      rows,
		Fields: memtable.FieldOffsets{
			Code: 0x00, PrevClose: 0x04, Open: 0x08, High: 0x0C, Low: 0x10,
			Current: 0x14, Volume: 0x18, CurVolume: 0x1C, BuyVolume: 0x20,
			SellVolume: 0x24, SellPrice: 0x28,
		},
	}
}

func writeRow(image []byte, l memtable.Layout, row int, code, prevClose, current, volume uint32) {
	base := row * int(l.RowStride)
	put := func(off int64, v uint32) { binary.LittleEndian.PutUint32(image[base+int(off):], v) }
	put(l.Fields.Code, code)
	put(l.Fields.PrevClose, prevClose)
	put(l.Fields.Open, prevClose)
	put(l.Fields.High, current)
	put(l.Fields.Low, prevClose)
	put(l.Fields.Current, current)
	put(l.Fields.Volume, volume)
}

func newTestCollector(st *mockStore, proc procmem.Process, openErr error, rows int) *Collector {
	l := testLayout(rows)
	return NewCollector(CollectorDeps{
		Open: func(string) (procmem.Process, error) {
			if openErr != nil {
				return nil, openErr
			}
			return proc, nil
		},
		Process:   "tdxw.exe",
		Layout:    l,
		Store:     st,
		Period:    time.Second,
		Threshold: 9.9,
		Scale:     1000,
		Now:       func() time.Time { return time.Date(2024, 2, 14, 10, 30, 0, 0, time.Local) },
	})
}

func TestCollectorTickEndToEnd(t *testing.T) {
	l := testLayout(3)
	_, length := l.Window()
	image := make([]byte, length)
	// row 0: 11.00 over 10.00 -> +10%, limit-up at 9.9
	writeRow(image, l, 0, 600519, 10000, 11000, 123456)
	// row 1: zero prev close -> compute skip
	writeRow(image, l, 1, 600520, 0, 5000, 10)
	// row 2: unused (code 0)

	st := newMockStore()
	c := newTestCollector(st, &fakeProcess{base: 0x400000, image: image}, nil, 3)
	c.collectOnce(context.Background())

	q, ok := st.quotes["600519"]
	if !ok {
		t.Fatal("quote for 600519 not stored")
	}
	if math.Abs(q.ChangePercent-10.0) > 1e-9 {
		t.Errorf("change percent %v, want 10.0", q.ChangePercent)
	}
	if q.Current != 11.0 || q.PrevClose != 10.0 {
		t.Errorf("prices not scaled: current=%v prev=%v", q.Current, q.PrevClose)
	}
	if q.Volume != 123456 {
		t.Errorf("volume %d, want 123456", q.Volume)
	}

	if _, err := st.QueryLimitUpEvent(context.Background(), "600519", "2024-02-14"); err != nil {
		t.Error("limit-up event for 600519 not created")
	}

	// the compute-skip row neither stores a quote nor aborts its siblings
	if _, ok := st.quotes["600520"]; ok {
		t.Error("zero prev close row must be skipped, not stored")
	}
	if len(st.quotes) != 1 {
		t.Errorf("expected exactly 1 stored quote, got %d", len(st.quotes))
	}
}

func TestCollectorBelowThresholdNoEvent(t *testing.T) {
	l := testLayout(1)
	_, length := l.Window()
	image := make([]byte, length)
	writeRow(image, l, 0, 600000, 10000, 10500, 1) // +5%

	st := newMockStore()
	c := newTestCollector(st, &fakeProcess{base: 0x400000, image: image}, nil, 1)
	c.collectOnce(context.Background())

	if len(st.events) != 0 {
		t.Errorf("no limit-up event expected, got %d", len(st.events))
	}
	if _, ok := st.quotes["600000"]; !ok {
		t.Error("quote must still be stored")
	}
}

func TestCollectorKeepsFeedingFlaggedInstrument(t *testing.T) {
	l := testLayout(1)
	_, length := l.Window()
	image := make([]byte, length)
	writeRow(image, l, 0, 600000, 10000, 11000, 1) // +10%, flags

	st := newMockStore()
	proc := &fakeProcess{base: 0x400000, image: image}
	c := newTestCollector(st, proc, nil, 1)
	c.collectOnce(context.Background())

	// price dips below the threshold; the store must still see the tick so it
	// can count the board break
	writeRow(image, l, 0, 600000, 10000, 10500, 1)
	c.collectOnce(context.Background())

	ev, err := st.QueryLimitUpEvent(context.Background(), "600000", "2024-02-14")
	if err != nil {
		t.Fatal("event missing after dip")
	}
	if math.Abs(ev.ChangePercent-5.0) > 1e-9 {
		t.Errorf("event not updated on dip tick: %v", ev.ChangePercent)
	}
	if len(st.events) != 1 {
		t.Errorf("repeated crossings must update, not duplicate: %d events", len(st.events))
	}
}

func TestCollectorProcessUnavailableRetries(t *testing.T) {
	st := newMockStore()
	c := newTestCollector(st, nil, procmem.ErrProcessNotFound, 1)

	// not fatal, just an empty tick
	c.collectOnce(context.Background())
	if len(st.quotes) != 0 {
		t.Error("no quotes expected while process is down")
	}

	// target comes up: next tick attaches and collects
	l := testLayout(1)
	_, length := l.Window()
	image := make([]byte, length)
	writeRow(image, l, 0, 600000, 10000, 10100, 1)
	proc := &fakeProcess{base: 0x400000, image: image}
	c.deps.Open = func(string) (procmem.Process, error) { return proc, nil }

	c.collectOnce(context.Background())
	if len(st.quotes) != 1 {
		t.Error("collector did not recover once the process appeared")
	}
}

// gatedStore holds every quote upsert until the test releases it.
type gatedStore struct {
	*mockStore
	entered chan struct{}
	release chan struct{}
}

func (g *gatedStore) UpsertRealtimeQuote(ctx context.Context, q *model.RealtimeQuote) error {
	g.entered <- struct{}{}
	<-g.release
	return g.mockStore.UpsertRealtimeQuote(ctx, q)
}

// Shutdown waits on Run, and Run must not return while a tick still has an
// upsert in flight; otherwise the store could be closed under the tick.
func TestCollectorRunFinishesInFlightTick(t *testing.T) {
	l := testLayout(1)
	_, length := l.Window()
	image := make([]byte, length)
	writeRow(image, l, 0, 600000, 10000, 10100, 1)

	st := &gatedStore{
		mockStore: newMockStore(),
		entered:   make(chan struct{}, 64),
		release:   make(chan struct{}),
	}
	c := NewCollector(CollectorDeps{
		Open:      func(string) (procmem.Process, error) { return &fakeProcess{base: 0x400000, image: image}, nil },
		Process:   "tdxw.exe",
		Layout:    l,
		Store:     st,
		Period:    5 * time.Millisecond,
		Threshold: 9.9,
		Scale:     1000,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	<-st.entered
	cancel()

	select {
	case <-done:
		t.Fatal("Run returned while an upsert was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(st.release)
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the tick completed")
	}
}

func TestCollectorReadFaultDropsHandle(t *testing.T) {
	st := newMockStore()
	// image too small: every window read faults
	proc := &fakeProcess{base: 0x400000, image: make([]byte, 4)}
	c := newTestCollector(st, proc, nil, 1)

	c.collectOnce(context.Background())
	if !proc.closed {
		t.Error("faulting handle must be closed for reopen on next tick")
	}
	if len(st.quotes) != 0 {
		t.Error("no quotes expected after read fault")
	}
}
