package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"token-observer/src/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Hub Pattern Implementation
// -----------------------------------------------------------------------------

// runHub is the main Hub loop. It is the only goroutine that touches the
// clients set, so connect/disconnect/broadcast never race each other.
func (s *SyncServer) runHub() {
	for {
		select {
		case client := <-s.register:
			s.clients[client] = struct{}{}
			s.connCount.Add(1)
			// Deliver the implicit list + stats subscription computed at
			// upgrade time, so a fresh dashboard paints without asking.
			for _, env := range client.initial {
				client.trySend(env)
			}
			client.initial = nil

		case client := <-s.unregister:
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				s.connCount.Add(-1)
				client.close()
			}

		case env := <-s.broadcast:
			s.lastUpdate.Store(time.Now().Unix())

			// Broadcast to all clients
			for client := range s.clients {
				if !client.trySend(env) {
					// Client too slow, disconnect to prevent Hub blocking
					delete(s.clients, client)
					s.connCount.Add(-1)
					client.close()
				}
			}

		case <-s.done:
			for client := range s.clients {
				delete(s.clients, client)
				s.connCount.Add(-1)
				client.close()
			}
			return
		}
	}
}

// -----------------------------------------------------------------------------
// Data Exchange Interface Implementation
// -----------------------------------------------------------------------------

// Run consumes normalized change events until ctx is cancelled or the
// events channel closes, broadcasting each one.
func (s *SyncServer) Run(ctx context.Context, events <-chan models.MChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			s.Broadcast(event)
		}
	}
}

// -----------------------------------------------------------------------------

// Broadcast sends a token-update carrying the full record to every live
// session. Best effort: a session that just disconnected simply misses it.
func (s *SyncServer) Broadcast(event models.MChangeEvent) {
	env, err := newEnvelope(models.EventTokenUpdate, "", event.Token)
	if err != nil {
		s.Logger.Error("Broadcast marshal failed for %s: %v", event.Address, err)
		return
	}

	select {
	case s.broadcast <- env:
	case <-s.done:
	}
}

// -----------------------------------------------------------------------------
// WebSocket Handlers
// -----------------------------------------------------------------------------

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// -----------------------------------------------------------------------------

func (s *SyncServer) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Info("Failed to upgrade websocket: %v", err)
		return
	}

	client := &Client{
		hub:  s,
		conn: conn,
		// Buffered channel to prevent blocking the Hub loop
		send: make(chan models.MEnvelope, 256),
		done: make(chan struct{}),
	}

	// Compute the initial dashboard snapshot here, outside the hub loop, so
	// a slow store never stalls broadcasting.
	client.initial = s.initialSnapshot()

	select {
	case s.register <- client:
	case <-s.done:
		// Hub already stopped, refuse the session
		conn.Close()
		return
	}

	// Start goroutines for reading/writing
	go client.writePump()
	go client.readPump()
}

// -----------------------------------------------------------------------------

// initialSnapshot builds the default dashboard view: first list page plus
// global stats. Failures skip the priming rather than failing the session.
func (s *SyncServer) initialSnapshot() []models.MEnvelope {
	var initial []models.MEnvelope

	if page, err := s.Snapshot.ListPage("", "", 1); err != nil {
		s.Logger.Warning("Initial list snapshot failed: %v", err)
	} else if env, err := newEnvelope(models.EventTokensListUpdate, "", page); err == nil {
		initial = append(initial, env)
	}

	if stats, err := s.Snapshot.GlobalStats(); err != nil {
		s.Logger.Warning("Initial stats snapshot failed: %v", err)
	} else if env, err := newEnvelope(models.EventGlobalStatsUpdate, "", stats); err == nil {
		initial = append(initial, env)
	}

	return initial
}

// -----------------------------------------------------------------------------
// Client Message Handling
// -----------------------------------------------------------------------------

// handleClientMessage demultiplexes one inbound request to the snapshot
// query service and replies to the requesting session only, echoing the
// request's correlation id.
func (s *SyncServer) handleClientMessage(client *Client, message []byte) {
	var req models.MEnvelope
	if err := json.Unmarshal(message, &req); err != nil {
		s.Logger.Info("Failed to parse client request: %v, disconnecting client", err)
		client.conn.Close()
		return
	}

	switch req.Event {
	case models.EventGetTokens:
		var payload models.MListRequest
		if len(req.Data) > 0 {
			if err := json.Unmarshal(req.Data, &payload); err != nil {
				s.replyError(client, req.ID, "malformed get-tokens payload")
				return
			}
		}
		page, err := s.Snapshot.ListPage(payload.Sort, payload.Direction, payload.Page)
		if err != nil {
			s.Logger.Error("get-tokens failed: %v", err)
			s.replyError(client, req.ID, "failed to list tokens")
			return
		}
		s.reply(client, models.EventTokensListUpdate, req.ID, page)

	case models.EventGetTokenDetails:
		var payload models.MDetailRequest
		if err := json.Unmarshal(req.Data, &payload); err != nil {
			s.replyError(client, req.ID, "malformed get-token-details payload")
			return
		}
		token, err := s.Snapshot.GetByID(payload.ID)
		if err != nil {
			s.Logger.Error("get-token-details failed for %s: %v", payload.ID, err)
			s.replyError(client, req.ID, "failed to load token")
			return
		}
		if token == nil {
			s.replyError(client, req.ID, "Token not found")
			return
		}
		s.reply(client, models.EventTokenDetails, req.ID, token)

	case models.EventGetGlobalStats:
		stats, err := s.Snapshot.GlobalStats()
		if err != nil {
			s.Logger.Error("get-global-stats failed: %v", err)
			s.replyError(client, req.ID, "failed to compute stats")
			return
		}
		s.reply(client, models.EventGlobalStatsUpdate, req.ID, stats)

	default:
		s.replyError(client, req.ID, "unsupported event")
	}
}

// -----------------------------------------------------------------------------

func (s *SyncServer) reply(client *Client, event, id string, data interface{}) {
	env, err := newEnvelope(event, id, data)
	if err != nil {
		s.Logger.Error("Reply marshal failed for %s: %v", event, err)
		return
	}
	client.trySend(env)
}

// -----------------------------------------------------------------------------

func (s *SyncServer) replyError(client *Client, id, message string) {
	s.reply(client, models.EventError, id, models.MErrorPayload{Message: message})
}

// -----------------------------------------------------------------------------

func newEnvelope(event, id string, data interface{}) (models.MEnvelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return models.MEnvelope{}, err
	}
	return models.MEnvelope{Event: event, ID: id, Data: raw}, nil
}
