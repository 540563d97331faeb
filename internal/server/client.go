package server

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Arachneee/EvoShot/internal/protocol"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = (pongWait * 9) / 10
	maxMessageSize    = 4096
	sendBufSize       = 256
	maxMessagesPerSec = 50
)

// Client represents a WebSocket connection
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	sessionID  string
	remoteAddr string
	ticketName string // name carried by the join ticket, if any
	frameType  int
	limiter    msgLimiter
	closeOnce  sync.Once
}

// msgLimiter allows at most limit messages per fixed one-second window
type msgLimiter struct {
	limit   int
	count   int
	resetAt time.Time
}

func (l *msgLimiter) allow(now time.Time) bool {
	if now.After(l.resetAt) {
		l.count = 0
		l.resetAt = now.Add(time.Second)
	}
	l.count++
	return l.count <= l.limit
}

// NewClient creates a new Client
func NewClient(hub *Hub, conn *websocket.Conn, sessionID, remoteAddr, ticketName string) *Client {
	frameType := websocket.TextMessage
	if hub.codec.Binary() {
		frameType = websocket.BinaryMessage
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufSize),
		sessionID:  sessionID,
		remoteAddr: remoteAddr,
		ticketName: ticketName,
		frameType:  frameType,
		limiter:    msgLimiter{limit: maxMessagesPerSec},
	}
}

// SessionID returns the id the hub routes this connection by
func (c *Client) SessionID() string { return c.sessionID }

// ReadPump reads messages from the WebSocket connection
func (c *Client) ReadPump() {
	defer func() {
		c.hub.TrackDisconnect(c.remoteAddr)
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("ws error: %v", err)
			}
			break
		}

		if !c.limiter.allow(time.Now()) {
			log.Printf("session %s: rate limit exceeded for %s, disconnecting", c.sessionID, c.remoteAddr)
			break
		}

		c.handleMessage(message)
	}
}

func (c *Client) handleMessage(raw []byte) {
	msg, err := c.hub.codec.Decode(raw)
	if err != nil {
		log.Printf("session %s: %v", c.sessionID, err)
		c.SendMessage(protocol.Error{Code: protocol.CodeBadMessage, Message: err.Error()})
		return
	}
	if conn, ok := msg.(protocol.Connect); ok && conn.PlayerName == "" {
		conn.PlayerName = c.ticketName
		msg = conn
	}
	if c.hub.handler != nil {
		c.hub.handler.HandleMessage(c.sessionID, msg)
	}
}

// WritePump writes messages to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			switch {
			case !ok:
				c.writeFrame(websocket.CloseMessage, []byte{})
				return
			case message == nil: // close marker queued by CloseAfterFlush
				c.writeFrame(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.writeFrame(c.frameType, message); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.writeFrame(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) writeFrame(frameType int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(frameType, data)
}

// SendMessage encodes msg with the hub codec and queues it
func (c *Client) SendMessage(msg protocol.Message) {
	data, err := c.hub.codec.Encode(msg)
	if err != nil {
		log.Printf("encode %s error: %v", msg.Type(), err)
		return
	}
	c.SendRaw(data)
}

// SendRaw queues pre-encoded bytes for the write pump
func (c *Client) SendRaw(data []byte) {
	if data == nil {
		return
	}
	defer func() { recover() }()
	select {
	case c.send <- data:
	default:
		// Client too slow, drop message
	}
}

// CloseAfterFlush lets the write pump drain what is queued, then closes the connection.
// A full buffer closes at once.
func (c *Client) CloseAfterFlush() {
	c.closeOnce.Do(func() {
		defer func() { recover() }()
		select {
		case c.send <- nil:
		default:
			c.conn.Close()
		}
	})
}
