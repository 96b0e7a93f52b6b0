package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/matheus-giordani/emme7-bot/entity"
	"github.com/matheus-giordani/emme7-bot/internal/lib/sl"
)

const (
	EventNewMessage = "new_message"
	EventNewLead    = "new_lead"
)

// Event is what staff clients receive.
type Event struct {
	Type   string      `json:"type"`
	ChatID string      `json:"chat_id,omitempty"`
	Data   interface{} `json:"data"`
}

// Hub keeps the connected staff clients and fans events out to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *Event
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	log        *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		log:        log.With(sl.Module("ws.hub")),
	}
}

// Run serves the hub until ctx is done, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.log.Debug("client connected", slog.String("user", client.username))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				h.log.Warn("marshal event", sl.Err(err))
				continue
			}
			h.mu.Lock()
			for client := range h.clients {
				if !client.wants(event) {
					continue
				}
				select {
				case client.send <- data:
				default:
					// slow reader
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) BroadcastMessage(msg entity.ChatMessage) {
	h.publish(&Event{Type: EventNewMessage, ChatID: msg.ChatID, Data: msg})
}

func (h *Hub) BroadcastLead(lead entity.CustomerLead) {
	h.publish(&Event{Type: EventNewLead, ChatID: lead.ChatID, Data: lead})
}

// publish never blocks the caller; events are dropped when the hub lags.
func (h *Hub) publish(event *Event) {
	select {
	case h.broadcast <- event:
	default:
		h.log.Warn("event dropped", slog.String("type", event.Type))
	}
}

type clientEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// handleClientMessage applies a client command. "subscribe" with a chat_id
// narrows message events to that chat; an empty chat_id clears the filter.
func (h *Hub) handleClientMessage(client *Client, raw []byte) {
	var event clientEvent
	if err := json.Unmarshal(raw, &event); err != nil {
		h.log.Warn("failed to parse client ws message", sl.Err(err))
		return
	}

	switch event.Type {
	case "subscribe":
		var data struct {
			ChatID string `json:"chat_id"`
		}
		if err := json.Unmarshal(event.Data, &data); err != nil {
			h.log.Warn("failed to parse subscribe data", sl.Err(err))
			return
		}
		client.subscribe(data.ChatID)
	default:
		h.log.Debug("unknown client message", slog.String("type", event.Type))
	}
}
