package server

import (
	"sync"
	"time"

	"token-observer/src/models"

	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

const (
	writeWait      = 2 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// -----------------------------------------------------------------------------
// Client Structure
// -----------------------------------------------------------------------------

// Client is one connection session. Lifecycle: registered on upgrade
// (Open), pumping messages (Active), done-channel closed on unregister
// (Closed). The send channel is never closed; writers check done first, so
// a send racing a disconnect is dropped instead of panicking.
type Client struct {
	hub  *SyncServer
	conn *websocket.Conn
	send chan models.MEnvelope

	// initial snapshot envelopes, delivered on registration
	initial []models.MEnvelope

	done      chan struct{}
	closeOnce sync.Once
}

// -----------------------------------------------------------------------------

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// -----------------------------------------------------------------------------

// trySend queues an envelope for the session without ever blocking. Returns
// false when the session is gone or its buffer is full.
func (c *Client) trySend(env models.MEnvelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- env:
		return true
	default:
		return false
	}
}

// -----------------------------------------------------------------------------
// readPump - handles incoming requests from the client
// Act as a Watchdog for the connection
// -----------------------------------------------------------------------------

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
			// Hub already stopped and closed every session itself
		}
		c.conn.Close()
		c.hub.Logger.Info("Client disconnected")
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
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.Logger.Info("WebSocket error: %v", err)
			}
			break
		}
		// Handle the request (get-tokens / get-token-details / get-global-stats)
		c.hub.handleClientMessage(c, message)
	}
}

// -----------------------------------------------------------------------------
// writePump - sends messages and liveness pings to the client
// -----------------------------------------------------------------------------

func (c *Client) writePump() {
	keepAliveInterval := time.Duration(c.hub.Config.Sync.KeepAliveSeconds) * time.Second

	keepAlive := time.NewTicker(keepAliveInterval)
	ping := time.NewTicker(pingPeriod)
	defer func() {
		keepAlive.Stop()
		ping.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(message); err != nil {
				c.hub.Logger.Info("Write error: %v", err)
				return
			}

		case <-keepAlive.C:
			// Application-level liveness signal; no pong handling is expected
			// beyond the transport acknowledgement below.
			env, err := newEnvelope(models.EventKeepAlive, "", models.MKeepAlive{Timestamp: time.Now().UnixMilli()})
			if err != nil {
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(env); err != nil {
				return
			}

		case <-ping.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}
