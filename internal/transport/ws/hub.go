package ws

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"taleweave.ai/internal/protocol"
)

// Hub fans status events out to every connected client. Publish never
// blocks: a client whose queue is full misses the event.
type Hub struct {
	log *zap.Logger

	mu      sync.Mutex
	clients map[chan []byte]struct{}
	dropped int
}

func NewHub(log *zap.Logger) *Hub {
	if log == nil {
		log = zap.NewNop()
	}
	return &Hub{log: log, clients: map[chan []byte]struct{}{}}
}

// Publish matches orchestrator.Observer.
func (h *Hub) Publish(ev protocol.StatusEvent) {
	b, err := json.Marshal(protocol.StatusMsg{
		Type:            protocol.TypeStatus,
		ProtocolVersion: protocol.Version,
		Event:           ev,
	})
	if err != nil {
		h.log.Warn("ws: encode status", zap.Error(err))
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for out := range h.clients {
		select {
		case out <- b:
		default:
			h.dropped++
		}
	}
}

func (h *Hub) add(out chan []byte) (remove func()) {
	h.mu.Lock()
	h.clients[out] = struct{}{}
	h.mu.Unlock()
	return func() {
		h.mu.Lock()
		delete(h.clients, out)
		h.mu.Unlock()
	}
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Dropped counts status messages skipped because a client was behind.
func (h *Hub) Dropped() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}
