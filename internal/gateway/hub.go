package gateway

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Hub owns every connected tab. The client set is touched on the Run
// goroutine only; each removed tab closes its session on its own goroutine.
type Hub struct {
	log *slog.Logger

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	// userID -> open tabs of that user (multi-tab or multi-device)
	clients map[string]map[*Client]bool
	online  atomic.Int64
	// session teardown writes to the store, so it runs off the Run goroutine
	closing sync.WaitGroup
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:        log,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[string]map[*Client]bool),
	}
}

// Run serves registrations until ctx ends, then closes every tab.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case c := <-h.register:
			if h.clients[c.UserID] == nil {
				h.clients[c.UserID] = make(map[*Client]bool)
			}
			h.clients[c.UserID][c] = true
			h.online.Add(1)
			h.log.Debug("tab connected", "user_id", c.UserID, "tabs", len(h.clients[c.UserID]))
		case c := <-h.unregister:
			h.remove(c)
		case <-ctx.Done():
			for _, set := range h.clients {
				for c := range set {
					h.remove(c)
				}
			}
			h.closing.Wait()
			h.log.Info("hub stopped")
			return
		}
	}
}

func (h *Hub) remove(c *Client) {
	set, ok := h.clients[c.UserID]
	if !ok || !set[c] {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.UserID)
	}
	h.online.Add(-1)
	h.closing.Add(1)
	go func() {
		defer h.closing.Done()
		c.shutdown()
	}()
	h.log.Debug("tab disconnected", "user_id", c.UserID)
}

// Online is the number of connected tabs.
func (h *Hub) Online() int {
	return int(h.online.Load())
}

// add hands c to Run. It fails once the hub has stopped.
func (h *Hub) add(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) drop(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
