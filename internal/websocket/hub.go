// Package websocket streams workflow progress to the browser UI. A single
// Hub goroutine owns the client set; every client has a read pump and a
// write pump.
package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"munireports/internal/infrastructure"
	"munireports/internal/progress"
)

// Disconnect reasons
const (
	reasonNormal   = "normal"
	reasonSlow     = "slow_consumer"
	reasonShutdown = "shutdown"
)

const broadcastBuffer = 256

// Hub maintains the set of active clients and broadcasts messages to them
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	// mu guards clients for readers outside the run loop
	mu sync.RWMutex

	logger  *slog.Logger
	metrics *Metrics

	started  atomic.Bool
	stopOnce sync.Once
	quit     chan struct{}
	done     chan struct{}

	messagesSent atomic.Int64
}

// NewHub creates a hub. metrics may be nil.
func NewHub(logger *slog.Logger, metrics *Metrics) *Hub {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.With(slog.String("component", "websocket.hub")),
		metrics:    metrics,
		quit:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start runs the hub loop. Calling it again has no effect.
func (h *Hub) Start() {
	if h.started.CompareAndSwap(false, true) {
		go h.run()
	}
}

// Stop disconnects every client and ends the hub loop
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.quit)
		if h.started.Load() {
			<-h.done
		}
	})
}

func (h *Hub) run() {
	defer close(h.done)
	ctx := context.Background()

	for {
		select {
		case <-h.quit:
			h.mu.Lock()
			for c := range h.clients {
				h.drop(ctx, c, reasonShutdown)
			}
			h.mu.Unlock()
			h.logger.Info("Hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()

			cctx := c.context()
			h.metrics.connected(cctx)
			h.logger.InfoContext(cctx, "Client registered",
				slog.String("client_id", c.id),
				slog.String("remote_addr", c.remoteAddr),
				slog.Int("total_clients", count))

			if data, err := encode(Message{
				Type:      TypeConnection,
				Data:      map[string]string{"status": "connected", "client_id": c.id},
				Timestamp: time.Now(),
				TraceID:   c.traceID,
			}); err == nil {
				select {
				case c.send <- data:
				default:
				}
			}

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				h.drop(ctx, c, reasonNormal)
			}
			h.mu.Unlock()

		case msg := <-h.broadcast:
			h.mu.Lock()
			delivered := 0
			for c := range h.clients {
				select {
				case c.send <- msg:
					delivered++
				default:
					h.logger.WarnContext(c.context(), "Client send buffer full, disconnecting",
						slog.String("client_id", c.id))
					h.drop(ctx, c, reasonSlow)
				}
			}
			h.mu.Unlock()
			h.messagesSent.Add(int64(delivered))
		}
	}
}

// drop removes c and closes its send channel. The caller holds h.mu.
func (h *Hub) drop(ctx context.Context, c *Client, reason string) {
	delete(h.clients, c)
	close(c.send)
	connected := time.Since(c.connectedAt)
	h.metrics.disconnected(ctx, connected, reason)
	h.logger.InfoContext(c.context(), "Client unregistered",
		slog.String("client_id", c.id),
		slog.String("reason", reason),
		slog.Duration("connection_duration", connected),
		slog.Int("total_clients", len(h.clients)))
}

// Register adds c. It reports false once the hub has stopped.
func (h *Hub) Register(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.quit:
		return false
	}
}

// Unregister removes c if it is still registered
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.quit:
	}
}

// Broadcast queues a raw frame for every client. Frames sent after Stop
// are dropped.
func (h *Hub) Broadcast(data []byte) {
	select {
	case h.broadcast <- data:
	case <-h.quit:
	}
}

// BroadcastMessage encodes m and broadcasts it
func (h *Hub) BroadcastMessage(m Message) {
	data, err := encode(m)
	if err != nil {
		h.logger.Error("Failed to encode message",
			slog.String("type", m.Type),
			slog.String("error", err.Error()))
		return
	}
	h.Broadcast(data)
}

// BroadcastEvent broadcasts a progress event
func (h *Hub) BroadcastEvent(e progress.Event) {
	h.BroadcastMessage(EventMessage(e))
}

// Follow broadcasts every event from events until the channel closes or
// ctx ends. It is meant to run on its own goroutine over a progress.Sink
// subscription.
func (h *Hub) Follow(ctx context.Context, events <-chan progress.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.quit:
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			h.BroadcastEvent(e)
		}
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// MessagesSent counts frames handed to client send buffers
func (h *Hub) MessagesSent() int64 {
	return h.messagesSent.Load()
}

func encode(m Message) ([]byte, error) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	return json.Marshal(m)
}
