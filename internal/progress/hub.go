package progress

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var activeSubscribers = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "profusion_progress_subscribers",
	Help: "Currently connected progress subscribers across all scopes.",
})

type broadcastMsg struct {
	scope   string
	event   Event
	payload []byte
}

// Hub broadcasts progress events to the subscribers registered under a
// scope (the owning user's id). Delivery is fire-and-forget, at-most-once:
// subscribers that join after a publish never see it, and a subscriber
// whose buffer is full is dropped rather than blocking the producer.
// Authoritative state lives on the Dataset record, not here.
//
// All sends on and closes of client channels happen inside the single run
// goroutine, so a publish can never race a channel close.
type Hub struct {
	mu     sync.RWMutex
	scopes map[string]map[*Client]bool
	logger *slog.Logger

	register   chan *Client
	unregister chan *Client
	broadcast  chan broadcastMsg
	quit       chan struct{}
	running    bool

	messagesSent int64
}

// NewHub creates a hub; call Start before publishing.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		scopes:     make(map[string]map[*Client]bool),
		logger:     logger.With(slog.String("component", "progress.hub")),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan broadcastMsg),
		quit:       make(chan struct{}),
	}
}

// Start launches the registration loop.
func (h *Hub) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.run()
}

func (h *Hub) run() {
	for {
		select {
		case <-h.quit:
			h.closeAll()
			h.logger.Info("hub shut down")
			return

		case client := <-h.register:
			h.mu.Lock()
			clients, ok := h.scopes[client.scope]
			if !ok {
				clients = make(map[*Client]bool)
				h.scopes[client.scope] = clients
			}
			clients[client] = true
			count := len(clients)
			h.mu.Unlock()

			activeSubscribers.Inc()
			h.logger.Info("subscriber registered",
				slog.String("scope", client.scope),
				slog.String("client_id", client.id),
				slog.Int("scope_clients", count))

		case client := <-h.unregister:
			h.dropClient(client, "unregister")

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// Publish delivers the event to every current subscriber of the scope.
// Subscribers in other scopes never observe it.
func (h *Hub) Publish(scope string, event Event) {
	payload, err := json.Marshal(map[string]interface{}{
		"type":      "cleaning:progress",
		"data":      event,
		"timestamp": time.Now().Format(time.RFC3339),
	})
	if err != nil {
		h.logger.Error("failed to marshal progress event",
			slog.String("scope", scope),
			slog.String("error", err.Error()))
		return
	}

	select {
	case h.broadcast <- broadcastMsg{scope: scope, event: event, payload: payload}:
	case <-h.quit:
	}
}

// deliver runs on the hub goroutine only.
func (h *Hub) deliver(msg broadcastMsg) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.scopes[msg.scope]))
	for client := range h.scopes[msg.scope] {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		select {
		case client.send <- msg.payload:
			h.messagesSent++
		default:
			// Slow subscriber: drop it instead of stalling the run.
			h.dropClient(client, "send buffer full")
		}
	}

	h.logger.Debug("progress published",
		slog.String("scope", msg.scope),
		slog.String("stage", msg.event.Stage),
		slog.Int("progress", msg.event.Progress),
		slog.Int("subscribers", len(clients)))
}

// dropClient runs on the hub goroutine only; it is the sole place a live
// client's channel is closed.
func (h *Hub) dropClient(client *Client, reason string) {
	h.mu.Lock()
	clients, ok := h.scopes[client.scope]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, ok := clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(h.scopes, client.scope)
	}
	h.mu.Unlock()

	close(client.send)
	activeSubscribers.Dec()
	h.logger.Info("subscriber dropped",
		slog.String("scope", client.scope),
		slog.String("client_id", client.id),
		slog.String("reason", reason),
		slog.Duration("connection_duration", time.Since(client.connectedAt)))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for scope, clients := range h.scopes {
		for client := range clients {
			close(client.send)
			activeSubscribers.Dec()
		}
		delete(h.scopes, scope)
	}
}

// SubscriberCount returns the number of live subscribers for a scope.
func (h *Hub) SubscriberCount(scope string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.scopes[scope])
}

// Stop halts the loop; the loop closes every client channel on its way
// out.
func (h *Hub) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()
	close(h.quit)
}

var _ Publisher = (*Hub)(nil)
