package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog/log"
)

// ChangeEvent announces that a row of a table changed
type ChangeEvent struct {
	Table string `json:"table"`
	ID    string `json:"id,omitempty"`
}

// subscriberBuffer bounds events queued for a slow client; further
// events are dropped and the client catches up on its next pull
const subscriberBuffer = 64

// Hub fans change events out to connected change feed clients
type Hub struct {
	mu   sync.RWMutex
	subs map[chan ChangeEvent]struct{}
}

// NewHub creates an empty hub
func NewHub() *Hub {
	return &Hub{subs: make(map[chan ChangeEvent]struct{})}
}

// Publish queues ev for every subscriber without blocking
func (h *Hub) Publish(ev ChangeEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			log.Warn().Str("table", ev.Table).Msg("change feed subscriber lagging, dropping event")
		}
	}
}

// Subscribers returns the number of connected clients
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

func (h *Hub) subscribe() chan ChangeEvent {
	ch := make(chan ChangeEvent, subscriberBuffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) unsubscribe(ch chan ChangeEvent) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// Stream handles GET /v1/sync/stream, upgrading to a websocket that
// carries one JSON ChangeEvent per message
func (h *Hub) Stream(w http.ResponseWriter, r *http.Request) {
	logger := log.Ctx(r.Context())

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		logger.Warn().Err(err).Msg("change feed upgrade failed")
		return
	}
	defer conn.CloseNow()

	ch := h.subscribe()
	defer h.unsubscribe(ch)
	logger.Debug().Int("subscribers", h.Subscribers()).Msg("change feed client connected")

	// Clients never send; CloseRead handles control frames and cancels
	// ctx when the client goes away
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				logger.Debug().Err(err).Msg("change feed client dropped")
				return
			}
		}
	}
}
