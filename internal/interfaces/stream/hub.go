package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"tdxmon/internal/application/port"
	"tdxmon/internal/domain/model"
)

// Snapshot is one broadcast frame: every current quote at one instant.
type Snapshot struct {
	Ts     int64                 `json:"ts"`
	Quotes []model.RealtimeQuote `json:"quotes"`
}

// SnapshotCache receives a best-effort mirror of each broadcast payload.
type SnapshotCache interface {
	Publish(ctx context.Context, payload []byte, quotes []model.RealtimeQuote) error
}

// Subscriber is one open stream connection. Payloads arrive on C; the channel
// closes when the hub shuts down or the subscriber is removed.
type Subscriber struct {
	ch   chan []byte
	once sync.Once
}

func (s *Subscriber) C() <-chan []byte { return s.ch }

func (s *Subscriber) shut() { s.once.Do(func() { close(s.ch) }) }

// Hub owns the subscriber set and the broadcast tick. It reads the snapshot
// from the store on its own period, serializes it once, and fans it out; a
// slow or dead subscriber never delays the others or the tick.
type Hub struct {
	store  port.Store
	cache  SnapshotCache // optional, may be nil
	period time.Duration
	now    func() time.Time

	mu   sync.Mutex
	subs map[*Subscriber]struct{}
}

func NewHub(store port.Store, cache SnapshotCache, period time.Duration) *Hub {
	return &Hub{
		store:  store,
		cache:  cache,
		period: period,
		now:    time.Now,
		subs:   map[*Subscriber]struct{}{},
	}
}

// Subscribe admits a new connection; it starts receiving from the next tick.
func (h *Hub) Subscribe() *Subscriber {
	sub := &Subscriber{ch: make(chan []byte, 8)}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	log.Debug().Int("subscribers", n).Msg("subscriber joined")
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscriber) {
	h.mu.Lock()
	_, ok := h.subs[sub]
	delete(h.subs, sub)
	n := len(h.subs)
	h.mu.Unlock()
	if ok {
		sub.shut()
		log.Debug().Int("subscribers", n).Msg("subscriber left")
	}
}

// Run broadcasts until ctx is cancelled, then closes every subscriber.
func (h *Hub) Run(ctx context.Context) error {
	ticker := time.NewTicker(h.period)
	defer ticker.Stop()

	log.Info().Dur("period", h.period).Msg("distributor started")

	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return ctx.Err()
		case <-ticker.C:
			h.broadcastOnce(ctx)
		}
	}
}

func (h *Hub) broadcastOnce(ctx context.Context) {
	quotes, err := h.store.QueryLatestSnapshot(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("snapshot query failed, skipping broadcast tick")
		return
	}
	if quotes == nil {
		quotes = []model.RealtimeQuote{}
	}
	payload, err := json.Marshal(Snapshot{Ts: h.now().UnixMilli(), Quotes: quotes})
	if err != nil {
		log.Error().Err(err).Msg("snapshot marshal failed")
		return
	}

	h.mu.Lock()
	targets := make([]*Subscriber, 0, len(h.subs))
	for sub := range h.subs {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.ch <- payload:
		default:
			// subscriber is not draining; drop this frame for it rather than
			// stall the tick
		}
	}

	if h.cache != nil {
		if err := h.cache.Publish(ctx, payload, quotes); err != nil {
			log.Warn().Err(err).Msg("redis snapshot mirror failed")
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	subs := h.subs
	h.subs = map[*Subscriber]struct{}{}
	h.mu.Unlock()
	for sub := range subs {
		sub.shut()
	}
}
