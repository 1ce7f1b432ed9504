package ws

import (
	"log/slog"
	"sync"

	"github.com/cwrk-planet/meet-service/internal/domain"
	"github.com/cwrk-planet/meet-service/internal/metrics"
	"github.com/cwrk-planet/meet-service/pkg/logger"
)

// Hub indexes open connections by connection id. It implements
// relay.Deliverer and registry.Notifier.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client

	metrics *metrics.Metrics
}

func NewHub(m *metrics.Metrics) *Hub {
	return &Hub{clients: make(map[string]*client), metrics: m}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c.id] = c
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[c.id] == c {
		delete(h.clients, c.id)
	}
}

func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.clients)
}

// Deliver enqueues ev without blocking. A client whose queue is full is
// disconnected.
func (h *Hub) Deliver(connID string, ev domain.Event) bool {
	h.mu.RLock()
	c := h.clients[connID]
	h.mu.RUnlock()
	if c == nil {
		return false
	}

	b, err := encodeEvent(ev)
	if err != nil {
		slog.Error("ws encode failed", "type", ev.Type, "err", err)
		return false
	}
	return h.enqueue(c, b)
}

func (h *Hub) enqueue(c *client, b []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- b:
		return true
	default:
		h.metrics.Dropped(metrics.DropQueueFull)
		slog.Warn("ws send queue full, disconnecting", logger.Conn(c.id))
		c.kick()
		return false
	}
}

func (h *Hub) Welcome(joined domain.Participant, others []domain.Participant) {
	h.Deliver(joined.ConnectionID, domain.Event{
		Type: TypeRoomParticipants,
		Payload: RoomParticipantsPayload{
			RoomID:       joined.RoomID,
			Participants: participantItems(others),
		},
	})
}

func (h *Hub) ParticipantJoined(recipients []domain.Participant, joined domain.Participant) {
	ev := domain.Event{
		Type:    TypeUserJoined,
		Payload: ParticipantItem{ID: joined.ConnectionID, Name: joined.DisplayName},
	}
	for _, p := range recipients {
		h.Deliver(p.ConnectionID, ev)
	}
}

func (h *Hub) ParticipantLeft(recipients []domain.Participant, left domain.Participant) {
	ev := domain.Event{Type: TypeUserLeft, Payload: left.ConnectionID}
	for _, p := range recipients {
		h.Deliver(p.ConnectionID, ev)
	}
}

func (h *Hub) RoomExpired(recipients []domain.Participant, roomID string) {
	ev := domain.Event{Type: TypeError, Payload: ErrorPayload{Message: "Room expired"}}
	for _, p := range recipients {
		h.Deliver(p.ConnectionID, ev)
	}
}

// CloseAll disconnects every client; used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	list := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		list = append(list, c)
	}
	h.mu.RUnlock()

	for _, c := range list {
		c.kick()
	}
}
