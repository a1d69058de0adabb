// Package stream fans the engine's structured events out to external
// observers over WebSocket, exports run counters for Prometheus, and can
// relay Postgres NOTIFY events from other processes into the same feed.
//
// The engine emits events inline from its loop, so everything here is
// non-blocking: a slow client gets skipped, never waited on.
package stream

import (
	"log"
	"sync"
	"time"

	"github.com/lucasreyna/backtestEngine/internal/backtest"
)

// Client represents one connected observer.
type Client struct {
	ID   string
	Send chan Message
}

// Message is the envelope delivered to clients.
type Message struct {
	Type      string `json:"type"`
	RunID     string `json:"run_id,omitempty"`
	Data      any    `json:"data,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Broadcaster manages observer connections and fans messages out to them.
// It also implements backtest.Observer so an engine can emit directly.
type Broadcaster struct {
	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *log.Logger
	shutdown   chan struct{}
	once       sync.Once
}

// NewBroadcaster creates a broadcaster. A nil logger uses the default.
func NewBroadcaster(logger *log.Logger) *Broadcaster {
	if logger == nil {
		logger = log.New(log.Writer(), "[stream] ", log.LstdFlags)
	}
	return &Broadcaster{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		shutdown:   make(chan struct{}),
	}
}

// Register adds a client to the fan-out set.
func (b *Broadcaster) Register(client *Client) {
	select {
	case b.register <- client:
	case <-b.shutdown:
	}
}

// Unregister removes a client and closes its send channel.
func (b *Broadcaster) Unregister(client *Client) {
	select {
	case b.unregister <- client:
	case <-b.shutdown:
	}
}

// Emit implements backtest.Observer: engine events become stream messages
// and feed the Prometheus counters.
func (b *Broadcaster) Emit(event backtest.Event) {
	recordEventMetrics(event)
	b.Broadcast(Message{
		Type:      string(event.Type),
		RunID:     event.RunID,
		Data:      event.Payload,
		Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
	})
}

// Broadcast queues a message for all clients, dropping it when the
// broadcaster is saturated or shut down.
func (b *Broadcaster) Broadcast(message Message) {
	select {
	case b.broadcast <- message:
	case <-b.shutdown:
	default:
	}
}

// Run starts the fan-out loop; call it in a goroutine.
func (b *Broadcaster) Run() {
	for {
		select {
		case client := <-b.register:
			b.mu.Lock()
			b.clients[client] = true
			b.mu.Unlock()
			b.logger.Printf("client registered (total: %d)", b.ClientCount())

		case client := <-b.unregister:
			b.mu.Lock()
			if _, ok := b.clients[client]; ok {
				delete(b.clients, client)
				close(client.Send)
			}
			b.mu.Unlock()
			b.logger.Printf("client unregistered (total: %d)", b.ClientCount())

		case message := <-b.broadcast:
			b.mu.RLock()
			clients := make([]*Client, 0, len(b.clients))
			for client := range b.clients {
				clients = append(clients, client)
			}
			b.mu.RUnlock()

			for _, client := range clients {
				select {
				case client.Send <- message:
				default:
					// Slow client: skip rather than stall the engine's feed.
					b.logger.Printf("client %s send channel full, skipping", client.ID)
				}
			}

		case <-b.shutdown:
			return
		}
	}
}

// Shutdown closes every client connection and stops the loop.
func (b *Broadcaster) Shutdown() {
	b.once.Do(func() {
		close(b.shutdown)
		b.mu.Lock()
		for client := range b.clients {
			close(client.Send)
		}
		b.clients = make(map[*Client]bool)
		b.mu.Unlock()
	})
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
