package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket" //nolint:staticcheck // TODO: migrate to github.com/coder/websocket
)

// Event types broadcast to WebSocket clients.
const (
	EventEntityCreated   = "entity_created"
	EventEmbeddingReady  = "embedding_ready"
	EventEmbeddingFailed = "embedding_failed"
)

const (
	eventBuffer  = 256
	clientBuffer = 64
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
)

// IngestionEvent is the payload broadcast when an entity moves through the
// ingestion pipeline.
type IngestionEvent struct {
	Type      string    `json:"type"`
	EntityID  string    `json:"entity_id"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Subscriber receives encoded ingestion events from the hub.
type Subscriber interface {
	// Deliver queues data without blocking. It returns false when the
	// subscriber has fallen behind and should be dropped.
	Deliver(event IngestionEvent, data []byte) bool
	Close()
}

// ChannelSubscriber delivers events to C. With EntityID set it only
// receives events about that entity.
type ChannelSubscriber struct {
	C        chan []byte
	EntityID string

	closeOnce sync.Once
}

// Deliver implements Subscriber.
func (s *ChannelSubscriber) Deliver(event IngestionEvent, data []byte) bool {
	if s.EntityID != "" && event.EntityID != s.EntityID {
		return true
	}
	select {
	case s.C <- data:
		return true
	default:
		return false
	}
}

// Close closes C. The hub never delivers to a closed subscriber.
func (s *ChannelSubscriber) Close() {
	s.closeOnce.Do(func() { close(s.C) })
}

// WebSocketHub fans ingestion events out to subscribers.
type WebSocketHub struct {
	events chan IngestionEvent
	done   chan struct{}

	mu      sync.Mutex
	subs    map[Subscriber]struct{}
	stopped bool

	stopOnce sync.Once

	// origins lists host[:port] patterns allowed to connect.
	origins []string
}

// NewWebSocketHub creates a hub. origins are host[:port] patterns allowed
// to connect; requests without an Origin header are always accepted.
func NewWebSocketHub(origins ...string) *WebSocketHub {
	return &WebSocketHub{
		events:  make(chan IngestionEvent, eventBuffer),
		done:    make(chan struct{}),
		subs:    make(map[Subscriber]struct{}),
		origins: origins,
	}
}

// Publish queues an ingestion event. Events are dropped while the hub is
// saturated; publishers never block.
func (h *WebSocketHub) Publish(eventType, entityID, reason string) {
	event := IngestionEvent{
		Type:      eventType,
		EntityID:  entityID,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	}
	select {
	case h.events <- event:
	default:
		log.Printf("WARNING: WebSocket event queue full, dropping %s for %s", eventType, entityID)
	}
}

// Run delivers queued events until Stop is called.
func (h *WebSocketHub) Run() {
	for {
		select {
		case <-h.done:
			log.Println("WebSocket hub stopping...")
			return
		case event := <-h.events:
			h.fanOut(event)
		}
	}
}

func (h *WebSocketHub) fanOut(event IngestionEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Printf("ERROR: Failed to marshal WebSocket event: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		if !sub.Deliver(event, data) {
			delete(h.subs, sub)
			sub.Close()
			log.Printf("WARNING: dropped slow WebSocket client (total: %d)", len(h.subs))
		}
	}
}

// Register adds sub. It returns false once the hub has stopped.
func (h *WebSocketHub) Register(sub Subscriber) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return false
	}
	h.subs[sub] = struct{}{}
	log.Printf("WebSocket client connected (total: %d)", len(h.subs))
	return true
}

// Unregister removes and closes sub if it is still registered.
func (h *WebSocketHub) Unregister(sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub]; !ok {
		return
	}
	delete(h.subs, sub)
	sub.Close()
	log.Printf("WebSocket client disconnected (total: %d)", len(h.subs))
}

// Clients returns the number of registered subscribers.
func (h *WebSocketHub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Stop ends Run and closes every subscriber.
func (h *WebSocketHub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)

		h.mu.Lock()
		defer h.mu.Unlock()
		h.stopped = true
		for sub := range h.subs {
			sub.Close()
		}
		clear(h.subs)
	})
}

// ServeHTTP upgrades the request and streams events to it. The optional
// entity_id query parameter narrows the stream to one entity.
func (h *WebSocketHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Accept rejects origins outside the allowed patterns with 403.
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.origins,
	})
	if err != nil {
		log.Printf("ERROR: WebSocket upgrade failed: %v", err)
		return
	}

	client := &wsClient{
		ChannelSubscriber: ChannelSubscriber{
			C:        make(chan []byte, clientBuffer),
			EntityID: r.URL.Query().Get("entity_id"),
		},
		conn: conn,
	}
	if !h.Register(client) {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	go client.pump(h)
}

// wsClient is a Subscriber backed by a WebSocket connection.
type wsClient struct {
	ChannelSubscriber
	conn *websocket.Conn
}

// pump writes queued events and keeps the connection alive until the peer
// goes away or the hub closes the client.
func (c *wsClient) pump(h *WebSocketHub) {
	// Clients only listen; CloseRead discards their frames and cancels ctx
	// when the connection closes.
	ctx := c.conn.CloseRead(context.Background())

	ping := time.NewTicker(pingInterval)
	defer func() {
		ping.Stop()
		h.Unregister(c)
		_ = c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.C:
			if !ok {
				return
			}
			wctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				log.Printf("ERROR: WebSocket write failed: %v", err)
				return
			}
		case <-ping.C:
			pctx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.conn.Ping(pctx)
			cancel()
			if err != nil {
				return
			}
		}
	}
}
