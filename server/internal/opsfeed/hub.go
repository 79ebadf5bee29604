package opsfeed

import (
	"context"
	"sync"
)

// Hub is the central pub/sub broker for operator dashboard clients.
//
// # Design: single-writer event loop
//
// Registry mutations (register, unregister) are serialised through the Run
// goroutine via channels, which applies each one under the write lock.
// Publish holds a read-lock for the shortest possible time to copy the
// target set, then sends outside the lock so a slow client can never stall
// the event loop.
type Hub struct {
	clients map[*Client]struct{}
	topics  map[string]map[*Client]struct{}

	mu sync.RWMutex

	register   chan *Client
	unregister chan *Client
	stopped    chan struct{}
}

// NewHub creates an idle Hub. Call Run in a goroutine to start it.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		topics:     make(map[string]map[*Client]struct{}),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		stopped:    make(chan struct{}),
	}
}

// Run starts the hub's event loop. Call exactly once, in its own goroutine.
// Exits when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = struct{}{}
			for _, topic := range client.topics {
				if h.topics[topic] == nil {
					h.topics[topic] = make(map[*Client]struct{})
				}
				h.topics[topic][client] = struct{}{}
			}
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				for _, topic := range client.topics {
					delete(h.topics[topic], client)
					if len(h.topics[topic]) == 0 {
						delete(h.topics, topic)
					}
				}
				close(client.send)
			}
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
			}
			h.clients = make(map[*Client]struct{})
			h.topics = make(map[string]map[*Client]struct{})
			h.mu.Unlock()
			return
		}
	}
}

// Publish sends msg to every client subscribed to topic. Safe to call from
// any goroutine (fleetserver's session loop, sessionmgr's dead-session
// sweep, etc.). A client whose send buffer is full is disconnected so it
// cannot stall other subscribers.
func (h *Hub) Publish(topic string, msg Message) {
	h.mu.RLock()
	targets := h.topics[topic]
	var clients []*Client
	for c := range targets {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		select {
		case c.send <- msg:
		default:
			h.unregister <- c
		}
	}
}

// Subscribe registers client with the hub and its topics.
func (h *Hub) Subscribe(client *Client) {
	h.register <- client
}

// Unsubscribe removes client from the hub and all its topic subscriptions.
func (h *Hub) Unsubscribe(client *Client) {
	h.unregister <- client
}

// ConnectedCount returns the current number of connected operator clients.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
