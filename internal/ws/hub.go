package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pliu/lounge/internal/models"
)

// Hub pushes message events to connected viewers. Delivery is best effort:
// events are dropped when the hub is saturated and slow clients are disconnected.
type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// Events published by the message log.
	events chan models.Event

	// Register requests from the clients.
	register chan *Client

	// Unregister requests from clients.
	unregister chan *Client

	// Closed when the hub stops for good.
	done     chan struct{}
	doneOnce sync.Once

	connected atomic.Int64
	log       *slog.Logger
}

func NewHub(buffer int, log *slog.Logger) *Hub {
	return &Hub{
		events:     make(chan models.Event, buffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]bool),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run serves register, unregister and publish requests until ctx is canceled.
func (h *Hub) Run(ctx context.Context) error {
	h.log.Info("Starting live feed hub")
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()
		case client := <-h.register:
			h.clients[client] = true
			h.connected.Add(1)
		case client := <-h.unregister:
			h.drop(client)
		case event := <-h.events:
			h.broadcast(event)
		}
	}
}

// Publish queues an event for delivery without blocking the caller.
func (h *Hub) Publish(event models.Event) {
	select {
	case h.events <- event:
	default:
		h.log.Warn("Live feed saturated, dropping event", "action", event.Action, "id", event.Message.ID)
	}
}

// Clients returns the number of connected viewers.
func (h *Hub) Clients() int {
	return int(h.connected.Load())
}

func (h *Hub) broadcast(event models.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.log.Error("Error encoding event", "err", err)
		return
	}
	for client := range h.clients {
		if !event.Message.VisibleTo(client.viewer) {
			continue
		}
		select {
		case client.send <- payload:
		default:
			h.log.Warn("Disconnecting slow viewer", "viewer", client.viewer)
			h.drop(client)
		}
	}
}

func (h *Hub) drop(client *Client) {
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		h.connected.Add(-1)
	}
}

func (h *Hub) shutdown() {
	for client := range h.clients {
		h.drop(client)
	}
	h.doneOnce.Do(func() { close(h.done) })
}

func (h *Hub) join(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) leave(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}
