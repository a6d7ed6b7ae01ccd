package stream

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tdxmon/internal/application/port"
	"tdxmon/internal/domain/model"
)

type fakeStore struct {
	quotes  []model.RealtimeQuote
	snapErr error
}

func (f *fakeStore) UpsertRealtimeQuote(ctx context.Context, q *model.RealtimeQuote) error {
	return nil
}

func (f *fakeStore) UpsertLimitUpEvent(ctx context.Context, code, name, date string, percent float64, at time.Time) error {
	return nil
}

func (f *fakeStore) QueryLimitUpEvent(ctx context.Context, code, date string) (*model.LimitUpEvent, error) {
	return nil, port.ErrNotFound
}

func (f *fakeStore) BatchUpsertHistoricalBars(ctx context.Context, g model.Granularity, bars []model.HistoricalBar) error {
	return nil
}

func (f *fakeStore) ReplaceSectorMembership(ctx context.Context, meta model.SectorRecord, members []model.SectorMember) error {
	return nil
}

func (f *fakeStore) QuerySectorsByType(ctx context.Context, t model.SectorType) ([]model.SectorRecord, error) {
	return nil, nil
}

func (f *fakeStore) QuerySectorMembers(ctx context.Context, sectorCode string) ([]model.SectorMember, error) {
	return nil, nil
}

func (f *fakeStore) QueryLatestSnapshot(ctx context.Context) ([]model.RealtimeQuote, error) {
	if f.snapErr != nil {
		return nil, f.snapErr
	}
	return f.quotes, nil
}

func (f *fakeStore) QueryInstrumentDetail(ctx context.Context, code string) (*model.RealtimeQuote, error) {
	for i := range f.quotes {
		if f.quotes[i].Code == code {
			return &f.quotes[i], nil
		}
	}
	return nil, port.ErrNotFound
}

func (f *fakeStore) Close() error { return nil }

func testQuotes() []model.RealtimeQuote {
	return []model.RealtimeQuote{
		{Code: "600519", Current: 11.0, PrevClose: 10.0, ChangePercent: 10.0},
		{Code: "000001", Current: 9.5, PrevClose: 9.4, ChangePercent: 1.06},
	}
}

func recvOne(t *testing.T, sub *Subscriber) []byte {
	t.Helper()
	select {
	case b, ok := <-sub.C():
		if !ok {
			t.Fatal("subscriber channel closed unexpectedly")
		}
		return b
	case <-time.After(time.Second):
		t.Fatal("no payload received")
	}
	return nil
}

func TestBroadcastReachesEverySubscriberOnce(t *testing.T) {
	hub := NewHub(&fakeStore{quotes: testQuotes()}, nil, time.Second)

	subs := make([]*Subscriber, 5)
	for i := range subs {
		subs[i] = hub.Subscribe()
	}
	// one connection dies mid-broadcast
	hub.Unsubscribe(subs[2])

	hub.broadcastOnce(context.Background())

	for i, sub := range subs {
		if i == 2 {
			select {
			case _, ok := <-sub.C():
				if ok {
					t.Error("removed subscriber still received a payload")
				}
			default:
				t.Error("removed subscriber channel not closed")
			}
			continue
		}
		payload := recvOne(t, sub)
		var snap Snapshot
		if err := json.Unmarshal(payload, &snap); err != nil {
			t.Fatalf("subscriber %d: bad payload: %v", i, err)
		}
		if len(snap.Quotes) != 2 {
			t.Errorf("subscriber %d: got %d quotes, want 2", i, len(snap.Quotes))
		}
		// exactly once
		select {
		case <-sub.C():
			t.Errorf("subscriber %d received a second payload", i)
		default:
		}
	}
}

func TestSlowSubscriberDoesNotStallTick(t *testing.T) {
	hub := NewHub(&fakeStore{quotes: testQuotes()}, nil, time.Second)
	slow := hub.Subscribe()
	fast := hub.Subscribe()

	// more ticks than the slow subscriber's buffer can take
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 20; i++ {
			hub.broadcastOnce(context.Background())
		}
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("broadcast blocked on a slow subscriber")
	}

	recvOne(t, fast)
	_ = slow
}

func TestBroadcastSkipsTickOnStoreError(t *testing.T) {
	st := &fakeStore{snapErr: errors.New("db locked")}
	hub := NewHub(st, nil, time.Second)
	sub := hub.Subscribe()

	hub.broadcastOnce(context.Background())
	select {
	case <-sub.C():
		t.Error("no payload expected when the snapshot query fails")
	default:
	}
}

func TestServeSSEDeliversSnapshot(t *testing.T) {
	hub := NewHub(&fakeStore{quotes: testQuotes()}, nil, time.Second)
	h := NewHandler(hub, &fakeStore{quotes: testQuotes()})

	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/realtime")
	if err != nil {
		t.Fatalf("sse request failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type %q", ct)
	}

	// wait for the handler to register, then fire one tick
	deadline := time.Now().Add(time.Second)
	for {
		hub.mu.Lock()
		n := len(hub.subs)
		hub.mu.Unlock()
		if n == 1 || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	hub.broadcastOnce(context.Background())

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	if !strings.HasPrefix(line, "data: ") {
		t.Fatalf("not an sse data line: %q", line)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &snap); err != nil {
		t.Fatalf("bad event payload: %v", err)
	}
	if len(snap.Quotes) != 2 {
		t.Errorf("got %d quotes, want 2", len(snap.Quotes))
	}
}

func TestServeDetail(t *testing.T) {
	hub := NewHub(&fakeStore{}, nil, time.Second)
	h := NewHandler(hub, &fakeStore{quotes: testQuotes()})

	mux := http.NewServeMux()
	h.Register(mux)
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/stock/600519")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d", resp.StatusCode)
	}
	var q model.RealtimeQuote
	if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
		t.Fatal(err)
	}
	if q.Code != "600519" || q.ChangePercent != 10.0 {
		t.Errorf("detail mismatch: %+v", q)
	}

	missing, err := http.Get(srv.URL + "/api/stock/999999")
	if err != nil {
		t.Fatal(err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("missing instrument: status %d, want 404", missing.StatusCode)
	}
}
