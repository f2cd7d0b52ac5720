package channels

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/akmatori/contractmon/internal/models"
)

const (
	feedSendBuffer   = 32
	feedWriteTimeout = 10 * time.Second
	feedPingInterval = 30 * time.Second
)

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
}

// LiveFeed broadcasts alerts to connected WebSocket subscribers. A
// subscriber that cannot keep up is disconnected rather than slowing delivery.
type LiveFeed struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*feedClient]struct{}
	closed  bool
}

// NewLiveFeed creates an empty feed
func NewLiveFeed() *LiveFeed {
	return &LiveFeed{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // served behind the API auth middleware
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		clients: make(map[*feedClient]struct{}),
	}
}

func (f *LiveFeed) Name() string { return "livefeed" }

func (f *LiveFeed) ValidateConfig() error { return nil }

// Subscribers returns the number of connected clients
func (f *LiveFeed) Subscribers() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clients)
}

// SendAlert queues the event for every subscriber without blocking
func (f *LiveFeed) SendAlert(ctx context.Context, event models.ContractViolationEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		select {
		case c.send <- payload:
		default:
			log.Printf("Warning: LiveFeed: subscriber %s too slow, disconnecting", c.conn.RemoteAddr())
			f.removeLocked(c)
		}
	}
	return nil
}

// ServeHTTP upgrades the request and subscribes the connection
func (f *LiveFeed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("LiveFeed: failed to upgrade WebSocket: %v", err)
		return
	}

	c := &feedClient{conn: conn, send: make(chan []byte, feedSendBuffer)}
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		conn.Close()
		return
	}
	f.clients[c] = struct{}{}
	f.mu.Unlock()

	log.Printf("LiveFeed: subscriber connected from %s", r.RemoteAddr)

	go f.writeLoop(c)
	f.readLoop(c)
}

// readLoop discards client messages and detects disconnects
func (f *LiveFeed) readLoop(c *feedClient) {
	defer f.remove(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("LiveFeed: subscriber read error: %v", err)
			}
			return
		}
	}
}

func (f *LiveFeed) writeLoop(c *feedClient) {
	ticker := time.NewTicker(feedPingInterval)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (f *LiveFeed) remove(c *feedClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removeLocked(c)
}

func (f *LiveFeed) removeLocked(c *feedClient) {
	if _, ok := f.clients[c]; !ok {
		return
	}
	delete(f.clients, c)
	close(c.send)
}

// Close disconnects every subscriber and rejects new ones
func (f *LiveFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for c := range f.clients {
		f.removeLocked(c)
	}
	return nil
}
