package api

import (
	"sync"

	"github.com/hochfrequenz/gastown-harness/internal/domain"
)

// DefaultClientBuffer is the number of events a client may fall behind
// before it is dropped
const DefaultClientBuffer = 64

// Hub fans pipeline events out to SSE and websocket clients. Emit never
// blocks: a client whose buffer is full is disconnected.
type Hub struct {
	clients map[chan domain.Event]struct{}
	buffer  int
	dropped int
	mu      sync.Mutex
}

// NewHub creates a new Hub
func NewHub() *Hub {
	return &Hub{
		clients: make(map[chan domain.Event]struct{}),
		buffer:  DefaultClientBuffer,
	}
}

// Subscribe registers a client. The channel is closed when the client
// unsubscribes or is dropped for being slow.
func (h *Hub) Subscribe() chan domain.Event {
	ch := make(chan domain.Event, h.buffer)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes a client
func (h *Hub) Unsubscribe(ch chan domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[ch]; ok {
		delete(h.clients, ch)
		close(ch)
	}
}

// Emit implements domain.EventSink
func (h *Hub) Emit(ev domain.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client <- ev:
		default:
			close(client)
			delete(h.clients, client)
			h.dropped++
		}
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped returns how many clients were disconnected for being slow
func (h *Hub) Dropped() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}
