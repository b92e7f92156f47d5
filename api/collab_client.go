package api

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/netscope/scancollab/internal/slogging"
	"golang.org/x/time/rate"
)

// CollabClient is the connection side of a session: one read pump, one
// write pump and a bounded outbound queue.
type CollabClient struct {
	hub     *Hub
	room    *Room
	conn    *websocket.Conn
	session *Session

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	closeCode CloseCode
	closeText string

	limiter *rate.Limiter
	logger  *slogging.ContextLogger

	// owned by the room goroutine
	sendFailures int
	evicting     bool
}

func (h *Hub) newClient(conn *websocket.Conn, session *Session) *CollabClient {
	bufSize := h.cfg.SendBufferSize
	if bufSize <= 0 {
		bufSize = 256
	}
	limit := rate.Inf
	burst := 0
	if h.cfg.EphemeralRate > 0 {
		limit = rate.Limit(h.cfg.EphemeralRate)
		burst = int(h.cfg.EphemeralRate * 2)
		if burst < 1 {
			burst = 1
		}
	}
	return &CollabClient{
		hub:     h,
		conn:    conn,
		session: session,
		send:    make(chan []byte, bufSize),
		done:    make(chan struct{}),
		limiter: rate.NewLimiter(limit, burst),
		logger:  slogging.Get().WithSession(session.ID, session.UserID, session.ScanID),
	}
}

// Session returns the client's session record
func (c *CollabClient) Session() *Session {
	return c.session
}

// enqueue queues data without blocking and reports whether it was accepted
func (c *CollabClient) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// sendJSON queues a direct reply that bypasses the room
func (c *CollabClient) sendJSON(msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("Failed to marshal reply: %v", err)
		return
	}
	if !c.enqueue(data) {
		c.logger.Debug("Dropped direct reply: send buffer full")
	}
}

// shutdown asks the write pump to send a close frame with code and stop. Idempotent.
func (c *CollabClient) shutdown(code CloseCode, text string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeText = text
		close(c.done)
	})
}

// allowEphemeral applies the per-session typing and cursor rate limit
func (c *CollabClient) allowEphemeral() bool {
	return c.limiter.Allow()
}

// submit forwards a validated message to the client's room
func (c *CollabClient) submit(msg AsyncMessage) bool {
	if c.room == nil {
		return false
	}
	return c.room.submit(c, msg)
}

// readPump pumps messages from the WebSocket to the router
func (c *CollabClient) readPump() {
	defer func() {
		c.shutdown(CloseNormal, "")
		if c.room != nil {
			c.room.leave(c)
		}
		c.hub.unregisterSession(c)
		slogging.LogWebSocketConnection("disconnected", c.session.ID, c.session.UserID, c.session.ScanID)
	}()

	pongWait := c.hub.cfg.PongWait()
	if c.hub.cfg.MaxMessageBytes > 0 {
		c.conn.SetReadLimit(c.hub.cfg.MaxMessageBytes)
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.session.Touch(c.hub.clock.Now())
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				slogging.LogWebSocketError("read", err.Error(), c.session.ID, c.session.UserID)
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.session.Touch(c.hub.clock.Now())

		slogging.LogWebSocketMessage(slogging.WSMessageInbound, c.session.ID, c.session.ScanID, "", message, c.hub.wsLog)

		if err := c.hub.router.RouteMessage(c, message); err != nil {
			c.logger.Debug("Ignored message: %v", err)
		}
	}
}

// writePump pumps queued messages to the WebSocket and keeps the connection alive with pings
func (c *CollabClient) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	writeTimeout := c.hub.cfg.WriteTimeout
	for {
		select {
		case message := <-c.send:
			if err := c.writeFrame(message, writeTimeout); err != nil {
				return
			}
			// flush what is already queued
			n := len(c.send)
			for i := 0; i < n; i++ {
				if err := c.writeFrame(<-c.send, writeTimeout); err != nil {
					return
				}
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(int(c.closeCode), c.closeText),
				time.Now().Add(writeTimeout))
			return
		}
	}
}

func (c *CollabClient) writeFrame(message []byte, timeout time.Duration) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		slogging.LogWebSocketError("write", err.Error(), c.session.ID, c.session.UserID)
		return err
	}
	slogging.LogWebSocketMessage(slogging.WSMessageOutbound, c.session.ID, c.session.ScanID, "", message, c.hub.wsLog)
	return nil
}
