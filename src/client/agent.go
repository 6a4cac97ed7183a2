package client

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"token-observer/src/logger"
	"token-observer/src/models"
	"token-observer/src/network"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Errors
// -----------------------------------------------------------------------------

var (
	// ErrNotConnected is returned by Emit and push requests while the push
	// transport is down. Data getters never surface it; they fall back to pull.
	ErrNotConnected = errors.New("push transport not connected")

	// ErrRequestTimeout is returned when a push request got no reply within
	// the bounded wait.
	ErrRequestTimeout = errors.New("request timed out")

	// ErrTokenNotFound is returned for lookups of unknown tokens.
	ErrTokenNotFound = errors.New("token not found")
)

// QueryError is a server-side query failure relayed to the requester. It is
// an answer, not a transport fault, so getters return it instead of falling
// back to pull.
type QueryError struct {
	Message string
}

func (e *QueryError) Error() string {
	return e.Message
}

// -----------------------------------------------------------------------------

// Synthetic connectivity events dispatched to the listener registry.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

const (
	dialTimeout = 5 * time.Second
	sendWait    = 2 * time.Second
)

// -----------------------------------------------------------------------------
// Client Sync Agent
// -----------------------------------------------------------------------------

// Listener is an application callback for one named event.
type Listener func(data json.RawMessage)

// SyncAgent owns exactly one transport at a time and exposes a stable
// subscribe/request API to application code regardless of which transport is
// active. It reconnects the push transport with a fixed delay and a capped
// attempt count; once attempts are exhausted it degrades to periodic pull
// polling, feeding the same listener registry.
type SyncAgent struct {
	Config *models.MConfig
	Logger *logger.Logger

	wsURL string
	pull  *PullClient
	cache *TokenCache

	mu       sync.Mutex
	state    ConnState
	attempts int
	conn     *websocket.Conn
	connLost chan struct{}

	writeMu sync.Mutex

	listenersMu sync.RWMutex
	listeners   map[string][]Listener

	pendingMu sync.Mutex
	pending   map[string]chan models.MEnvelope

	closed atomic.Bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// -----------------------------------------------------------------------------

// NewSyncAgent builds an agent against serverURL ("http://host:port"); the
// push endpoint is derived from it.
func NewSyncAgent(cfg *models.MConfig, log *logger.Logger, serverURL string) *SyncAgent {
	nm := network.NewAsyncNetworkManager(cfg, log)

	return &SyncAgent{
		Config:    cfg,
		Logger:    log,
		wsURL:     "ws" + strings.TrimPrefix(serverURL, "http") + "/ws",
		pull:      NewPullClient(serverURL, nm, log),
		cache:     NewTokenCache(time.Duration(cfg.Sync.CacheTTLHours) * time.Hour),
		state:     Disconnected,
		listeners: make(map[string][]Listener),
		pending:   make(map[string]chan models.MEnvelope),
	}
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Start launches the connection manager. It returns immediately; the first
// connect happens in the background so application code can issue requests
// right away and be served by the pull fallback until the push side is up.
func (a *SyncAgent) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.run(ctx)
	}()
}

// -----------------------------------------------------------------------------

// Close tears the agent down: manager loop, poll timers and the live
// connection. Callbacks fired after Close are suppressed.
func (a *SyncAgent) Close() error {
	a.closed.Store(true)
	if a.cancel != nil {
		a.cancel()
	}

	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()
	if conn != nil {
		conn.Close()
	}

	a.wg.Wait()
	return nil
}

// -----------------------------------------------------------------------------

// run is the single control loop driving the Disconnected -> Connecting ->
// Connected state machine. Reconnection attempts are sequential; backoff and
// fallback are transitions here, never independently scheduled timers.
func (a *SyncAgent) run(ctx context.Context) {
	delay := time.Duration(a.Config.Sync.ReconnectDelayMs) * time.Millisecond
	maxAttempts := a.Config.Sync.MaxReconnectAttempts

	for {
		a.setState(Connecting)

		if err := a.connectOnce(ctx); err != nil {
			a.setState(Disconnected)
			attempts := a.bumpAttempts()
			a.Logger.Warning("Connect attempt %d/%d failed: %v", attempts, maxAttempts, err)

			if attempts >= maxAttempts {
				a.Logger.Warning("Reconnect attempts exhausted, falling back to pull polling")
				a.pollLoop(ctx)
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		a.resetAttempts()
		a.setState(Connected)
		a.Logger.Info("Push transport connected")
		a.dispatch(EventConnect, nil)

		a.mu.Lock()
		lost := a.connLost
		a.mu.Unlock()

		select {
		case <-ctx.Done():
			a.closeConn()
			return
		case <-lost:
			a.setState(Disconnected)
			a.dispatch(EventDisconnect, nil)
			a.Logger.Warning("Push transport lost, reconnecting")

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}
	}
}

// -----------------------------------------------------------------------------

func (a *SyncAgent) connectOnce(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}

	conn, resp, err := dialer.DialContext(ctx, a.wsURL, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return err
	}

	lost := make(chan struct{}, 1)

	a.mu.Lock()
	a.conn = conn
	a.connLost = lost
	a.mu.Unlock()

	// Single shared dispatcher for this connection. The listener registry
	// outlives the socket, so every registered callback is live on the new
	// transport in its original registration order.
	go a.readLoop(conn, lost)

	return nil
}

// -----------------------------------------------------------------------------

func (a *SyncAgent) closeConn() {
	a.mu.Lock()
	conn := a.conn
	a.conn = nil
	a.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// -----------------------------------------------------------------------------

// readLoop drains one connection, routing correlated replies to the pending
// table and everything else to the listener registry.
func (a *SyncAgent) readLoop(conn *websocket.Conn, lost chan struct{}) {
	defer func() {
		conn.Close()
		a.failPending()
		select {
		case lost <- struct{}{}:
		default:
		}
	}()

	for {
		var env models.MEnvelope
		if err := conn.ReadJSON(&env); err != nil {
			if !a.closed.Load() {
				a.Logger.Debug("Read loop ended: %v", err)
			}
			return
		}

		if env.Event == models.EventKeepAlive {
			continue
		}

		if env.ID != "" {
			a.resolvePending(env)
			continue
		}

		a.dispatch(env.Event, env.Data)
	}
}

// -----------------------------------------------------------------------------
// State Accessors
// -----------------------------------------------------------------------------

func (a *SyncAgent) State() ConnState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *SyncAgent) ReconnectAttempts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.attempts
}

func (a *SyncAgent) setState(s ConnState) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

func (a *SyncAgent) bumpAttempts() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.attempts++
	return a.attempts
}

func (a *SyncAgent) resetAttempts() {
	a.mu.Lock()
	a.attempts = 0
	a.mu.Unlock()
}

// -----------------------------------------------------------------------------
// Listener Registry
// -----------------------------------------------------------------------------

// On registers a callback for a named event. Registration order is
// preserved, and the registry survives reconnects.
func (a *SyncAgent) On(event string, fn Listener) {
	a.listenersMu.Lock()
	a.listeners[event] = append(a.listeners[event], fn)
	a.listenersMu.Unlock()
}

// -----------------------------------------------------------------------------

func (a *SyncAgent) dispatch(event string, data json.RawMessage) {
	a.listenersMu.RLock()
	callbacks := append([]Listener(nil), a.listeners[event]...)
	a.listenersMu.RUnlock()

	for _, fn := range callbacks {
		// Liveness guard: never run application callbacks after teardown
		if a.closed.Load() {
			return
		}
		fn(data)
	}
}

// -----------------------------------------------------------------------------
// Push Requests
// -----------------------------------------------------------------------------

// Emit sends a fire-and-forget event over the push transport. It fails
// immediately when not connected; nothing is queued for replay.
func (a *SyncAgent) Emit(event string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return a.write(models.MEnvelope{Event: event, Data: raw})
}

// -----------------------------------------------------------------------------

func (a *SyncAgent) write(env models.MEnvelope) error {
	a.mu.Lock()
	conn := a.conn
	connected := a.state == Connected
	a.mu.Unlock()

	if conn == nil || !connected {
		return ErrNotConnected
	}

	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(sendWait))
	return conn.WriteJSON(env)
}

// -----------------------------------------------------------------------------

// request sends one correlated request and waits for its reply with a
// bounded timeout. A timed-out request deregisters its pending entry, so
// repeated calls never leak table slots.
func (a *SyncAgent) request(ctx context.Context, event string, payload interface{}) (*models.MEnvelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	ch := make(chan models.MEnvelope, 1)

	a.pendingMu.Lock()
	a.pending[id] = ch
	a.pendingMu.Unlock()
	defer a.removePending(id)

	if err := a.write(models.MEnvelope{Event: event, ID: id, Data: raw}); err != nil {
		return nil, err
	}

	timeout := time.Duration(a.Config.Sync.RequestTimeoutSeconds) * time.Second
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrNotConnected
		}
		if resp.Event == models.EventError {
			var payload models.MErrorPayload
			if err := json.Unmarshal(resp.Data, &payload); err != nil || payload.Message == "" {
				return nil, &QueryError{Message: "query failed"}
			}
			return nil, &QueryError{Message: payload.Message}
		}
		return &resp, nil
	case <-timer.C:
		return nil, ErrRequestTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// -----------------------------------------------------------------------------

func (a *SyncAgent) resolvePending(env models.MEnvelope) {
	a.pendingMu.Lock()
	ch, ok := a.pending[env.ID]
	if ok {
		delete(a.pending, env.ID)
	}
	a.pendingMu.Unlock()

	if ok {
		ch <- env
	}
	// A reply arriving after its request timed out is dropped here.
}

func (a *SyncAgent) removePending(id string) {
	a.pendingMu.Lock()
	delete(a.pending, id)
	a.pendingMu.Unlock()
}

// failPending aborts every in-flight request when the connection dies, so
// callers fall back to pull instead of waiting out their full timeout.
func (a *SyncAgent) failPending() {
	a.pendingMu.Lock()
	for id, ch := range a.pending {
		delete(a.pending, id)
		close(ch)
	}
	a.pendingMu.Unlock()
}

// -----------------------------------------------------------------------------
// Data Operations
// -----------------------------------------------------------------------------

// GetTokens returns one page of the token listing. Served over push when
// connected, otherwise over pull; the caller never sees which.
func (a *SyncAgent) GetTokens(ctx context.Context, sort, direction string, page int) (*models.MTokenPage, error) {
	if a.State() == Connected {
		resp, err := a.request(ctx, models.EventGetTokens, models.MListRequest{Sort: sort, Direction: direction, Page: page})
		if err == nil {
			var result models.MTokenPage
			if err := json.Unmarshal(resp.Data, &result); err != nil {
				return nil, err
			}
			return &result, nil
		}
		var qe *QueryError
		if errors.As(err, &qe) {
			return nil, qe
		}
		a.Logger.Debug("Push get-tokens failed (%v), using pull", err)
	}

	return a.pull.GetTokens(ctx, sort, direction, page)
}

// -----------------------------------------------------------------------------

// GetTokenDetails returns one token by id, consulting the TTL cache first.
func (a *SyncAgent) GetTokenDetails(ctx context.Context, id string) (*models.MToken, error) {
	if token, ok := a.cache.Get(id); ok {
		return token, nil
	}

	token, err := a.fetchTokenDetails(ctx, id)
	if err != nil {
		return nil, err
	}

	a.cache.Put(id, *token)
	return token, nil
}

func (a *SyncAgent) fetchTokenDetails(ctx context.Context, id string) (*models.MToken, error) {
	if a.State() == Connected {
		resp, err := a.request(ctx, models.EventGetTokenDetails, models.MDetailRequest{ID: id})
		if err == nil {
			var token models.MToken
			if err := json.Unmarshal(resp.Data, &token); err != nil {
				return nil, err
			}
			return &token, nil
		}
		var qe *QueryError
		if errors.As(err, &qe) {
			if qe.Message == "Token not found" {
				return nil, ErrTokenNotFound
			}
			return nil, qe
		}
		a.Logger.Debug("Push get-token-details failed (%v), using pull", err)
	}

	return a.pull.GetTokenByID(ctx, id)
}

// -----------------------------------------------------------------------------

// GetGlobalStats returns the collection-wide aggregates.
func (a *SyncAgent) GetGlobalStats(ctx context.Context) (*models.MGlobalStats, error) {
	if a.State() == Connected {
		resp, err := a.request(ctx, models.EventGetGlobalStats, struct{}{})
		if err == nil {
			var stats models.MGlobalStats
			if err := json.Unmarshal(resp.Data, &stats); err != nil {
				return nil, err
			}
			return &stats, nil
		}
		var qe *QueryError
		if errors.As(err, &qe) {
			return nil, qe
		}
		a.Logger.Debug("Push get-global-stats failed (%v), using pull", err)
	}

	return a.pull.GetGlobalStats(ctx)
}

// -----------------------------------------------------------------------------
// Pull Polling Fallback
// -----------------------------------------------------------------------------

// pollLoop periodically replays the default dashboard queries over pull and
// feeds the results to the listener registry, so application callbacks keep
// firing with the push transport gone. Runs until ctx is cancelled.
func (a *SyncAgent) pollLoop(ctx context.Context) {
	interval := time.Duration(a.Config.Sync.PollIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	a.pollOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.pollOnce(ctx)
		}
	}
}

// -----------------------------------------------------------------------------

func (a *SyncAgent) pollOnce(ctx context.Context) {
	if page, err := a.pull.GetTokens(ctx, "", "", 1); err != nil {
		a.Logger.Debug("Poll tokens failed: %v", err)
	} else if raw, err := json.Marshal(page); err == nil {
		a.dispatch(models.EventTokensListUpdate, raw)
	}

	if stats, err := a.pull.GetGlobalStats(ctx); err != nil {
		a.Logger.Debug("Poll stats failed: %v", err)
	} else if raw, err := json.Marshal(stats); err == nil {
		a.dispatch(models.EventGlobalStatsUpdate, raw)
	}
}
