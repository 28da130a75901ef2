package realtime

import (
	"context"

	"github.com/rs/zerolog"
)

// Hub manages WebSocket clients and routes progress messages by execution id.
type Hub struct {
	clients map[*Client]bool

	// executionID -> set of subscribed clients
	subscriptions map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	subscribe  chan subscribeMsg
	broadcast  chan broadcastMsg
	done       chan struct{}

	logger zerolog.Logger
}

type subscribeMsg struct {
	client      *Client
	executionID string
}

type broadcastMsg struct {
	executionID string
	payload     []byte
}

func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients:       make(map[*Client]bool),
		subscriptions: make(map[string]map[*Client]bool),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		subscribe:     make(chan subscribeMsg),
		broadcast:     make(chan broadcastMsg, 256),
		done:          make(chan struct{}),
		logger:        logger,
	}
}

// Broadcast queues payload for every subscriber of executionID.
func (h *Hub) Broadcast(executionID string, payload []byte) {
	select {
	case h.broadcast <- broadcastMsg{executionID: executionID, payload: payload}:
	case <-h.done:
	}
}

// Run serves the hub until ctx is cancelled. A hub cannot be restarted.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			h.logger.Debug().Int("clients", len(h.clients)).Msg("Client registered")

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				h.logger.Debug().Int("clients", len(h.clients)).Msg("Client unregistered")
			}

		case msg := <-h.subscribe:
			if _, ok := h.clients[msg.client]; !ok {
				continue
			}
			if _, ok := h.subscriptions[msg.executionID]; !ok {
				h.subscriptions[msg.executionID] = make(map[*Client]bool)
			}
			h.subscriptions[msg.executionID][msg.client] = true
			h.deliver(msg.client, subscribedEnvelope(msg.executionID))
			h.logger.Debug().
				Str("executionId", msg.executionID).
				Int("subscribers", len(h.subscriptions[msg.executionID])).
				Msg("Client subscribed")

		case msg := <-h.broadcast:
			for client := range h.subscriptions[msg.executionID] {
				h.deliver(client, msg.payload)
			}
		}
	}
}

// deliver drops clients whose send buffer is full.
func (h *Hub) deliver(client *Client, payload []byte) {
	select {
	case client.send <- payload:
	default:
		h.drop(client)
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
	for executionID, subs := range h.subscriptions {
		delete(subs, client)
		if len(subs) == 0 {
			delete(h.subscriptions, executionID)
		}
	}
}
