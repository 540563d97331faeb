package server

import (
	"sync"

	"github.com/Arachneee/EvoShot/internal/protocol"
)

const (
	defaultMaxConnsPerIP = 5
	defaultMaxTotalConns = 1000
)

// Broadcaster is the outbound capability the game controller gets.
// Every method takes pre-encoded frames and never blocks.
type Broadcaster interface {
	Send(sessionID string, data []byte)
	Close(sessionID string)
	Broadcast(data []byte)
	BroadcastExcept(data []byte, excludeSessionID string)
}

// SessionHandler receives the lifecycle and inbound messages of every connection
type SessionHandler interface {
	OnConnect(sessionID string)
	HandleMessage(sessionID string, msg protocol.Message)
	OnDisconnect(sessionID string)
}

// Hub tracks all connected clients by session id
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]*Client
	unregister chan *Client
	stop       chan struct{}
	stopOnce   sync.Once

	codec   protocol.Codec
	handler SessionHandler

	// Connection limiting (mutex-protected, accessed from HTTP handlers)
	connMu        sync.Mutex
	ipConns       map[string]int
	totalConns    int
	maxConnsPerIP int
	maxTotalConns int
}

// NewHub creates a Hub that frames messages with codec.
// Non-positive limits fall back to the defaults.
func NewHub(codec protocol.Codec, maxConnsPerIP, maxTotalConns int) *Hub {
	if maxConnsPerIP <= 0 {
		maxConnsPerIP = defaultMaxConnsPerIP
	}
	if maxTotalConns <= 0 {
		maxTotalConns = defaultMaxTotalConns
	}
	return &Hub{
		clients:       make(map[string]*Client),
		unregister:    make(chan *Client, 64),
		stop:          make(chan struct{}),
		codec:         codec,
		ipConns:       make(map[string]int),
		maxConnsPerIP: maxConnsPerIP,
		maxTotalConns: maxTotalConns,
	}
}

// SetHandler installs the session handler. Call before serving connections.
func (h *Hub) SetHandler(handler SessionHandler) {
	h.handler = handler
}

// Codec returns the wire codec shared by all clients
func (h *Hub) Codec() protocol.Codec { return h.codec }

// TryAccept reserves a connection slot for ip, or reports false when a limit is reached.
// Check and reservation happen under one lock so concurrent upgrades cannot overshoot.
func (h *Hub) TryAccept(ip string) bool {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.totalConns >= h.maxTotalConns {
		return false
	}
	if h.ipConns[ip] >= h.maxConnsPerIP {
		return false
	}
	h.ipConns[ip]++
	h.totalConns++
	return true
}

// TrackDisconnect releases a slot taken by TryAccept
func (h *Hub) TrackDisconnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]--
	if h.ipConns[ip] <= 0 {
		delete(h.ipConns, ip)
	}
	h.totalConns--
}

// Register adds the client synchronously so replies to its first message can be routed
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.sessionID] = c
	h.mu.Unlock()
	if h.handler != nil {
		h.handler.OnConnect(c.sessionID)
	}
}

// Unregister queues the client for removal; a stopped hub drops the request
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.stop:
	}
}

// Run processes unregister events until Stop
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.unregister:
			h.mu.Lock()
			if cur, ok := h.clients[client.sessionID]; ok && cur == client {
				delete(h.clients, client.sessionID)
				close(client.send)
			}
			h.mu.Unlock()
			if h.handler != nil {
				h.handler.OnDisconnect(client.sessionID)
			}
		case <-h.stop:
			return
		}
	}
}

// Stop ends Run and closes every client connection
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.stop)
		h.mu.RLock()
		defer h.mu.RUnlock()
		for _, c := range h.clients {
			c.conn.Close()
		}
	})
}

func (h *Hub) client(sessionID string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[sessionID]
}

// Send queues data for one session; unknown sessions are ignored
func (h *Hub) Send(sessionID string, data []byte) {
	if c := h.client(sessionID); c != nil {
		c.SendRaw(data)
	}
}

// Close flushes what is already queued for the session, then closes it
func (h *Hub) Close(sessionID string) {
	if c := h.client(sessionID); c != nil {
		c.CloseAfterFlush()
	}
}

// Broadcast queues data for every connected session
func (h *Hub) Broadcast(data []byte) {
	h.BroadcastExcept(data, "")
}

// BroadcastExcept queues data for every connected session but one
func (h *Hub) BroadcastExcept(data []byte, excludeSessionID string) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sid, c := range h.clients {
		if sid == excludeSessionID {
			continue
		}
		c.SendRaw(data)
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// TotalConns returns the tracked connection count
func (h *Hub) TotalConns() int {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	return h.totalConns
}
