package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"tdxmon/internal/application/port"
)

// Handler exposes the live snapshot stream (SSE and websocket) and the
// on-demand instrument lookup.
type Handler struct {
	hub      *Hub
	store    port.Store
	upgrader websocket.Upgrader
}

func NewHandler(hub *Hub, store port.Store) *Handler {
	return &Handler{
		hub:   hub,
		store: store,
		upgrader: websocket.Upgrader{
			// the stream is public read-only data; any origin may subscribe
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/realtime", h.ServeSSE)
	mux.HandleFunc("GET /ws", h.ServeWS)
	mux.HandleFunc("GET /api/stock/{code}", h.ServeDetail)
}

// ServeSSE streams one self-contained JSON snapshot per broadcast tick as a
// server-sent event. Clients send nothing; they reconnect on disconnect.
func (h *Handler) ServeSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sub := h.hub.Subscribe()
	defer h.hub.Unsubscribe(sub)

	for {
		select {
		case <-r.Context().Done():
			return
		case payload, ok := <-sub.C():
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				log.Debug().Err(err).Msg("sse write failed, dropping subscriber")
				return
			}
			flusher.Flush()
		}
	}
}

// ServeWS pushes the same snapshot frames over a websocket. The server never
// reads application messages; the read loop only notices the peer going away.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	sub := h.hub.Subscribe()
	defer h.hub.Unsubscribe(sub)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case payload, ok := <-sub.C():
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Debug().Err(err).Msg("websocket write failed, dropping subscriber")
				return
			}
		}
	}
}

// ServeDetail answers a point lookup straight from the store, without waiting
// for the next broadcast tick.
func (h *Handler) ServeDetail(w http.ResponseWriter, r *http.Request) {
	code := r.PathValue("code")
	w.Header().Set("Content-Type", "application/json")

	quote, err := h.store.QueryInstrumentDetail(r.Context(), code)
	switch {
	case errors.Is(err, port.ErrNotFound):
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "stock not found", "code": code})
	case err != nil:
		log.Error().Err(err).Str("code", code).Msg("detail query failed")
		w.WriteHeader(http.StatusInternalServerError)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "internal error"})
	default:
		_ = json.NewEncoder(w).Encode(quote)
	}
}
