package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"token-observer/src/logger"
	"token-observer/src/models"
	"token-observer/src/query"
	"token-observer/src/server"
	"token-observer/src/storage"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------

func newAgentConfig(t *testing.T) *models.MConfig {
	t.Helper()
	return &models.MConfig{
		Name:     "test",
		Host:     "127.0.0.1",
		Port:     9999,
		LogLevel: "ERROR",
		Storage: models.MStorageConfig{
			DBType: "sqlite",
			DBPath: filepath.Join(t.TempDir(), "tokens.db"),
		},
		Network: models.MNetworkConfig{RequestTimeout: 5},
		Sync: models.MSyncConfig{
			KeepAliveSeconds:      30,
			ReconnectDelayMs:      20,
			MaxReconnectAttempts:  3,
			RequestTimeoutSeconds: 5,
			PollIntervalSeconds:   1,
			CacheTTLHours:         24,
		},
	}
}

// -----------------------------------------------------------------------------

// newBackend stands up the full server over httptest: REST plus a live hub.
func newBackend(t *testing.T, cfg *models.MConfig) (*storage.SQLiteTokenStore, *httptest.Server) {
	t.Helper()

	log := logger.NewLogger("ERROR", "test-server")

	store, err := storage.NewSQLiteTokenStore(cfg, log)
	require.NoError(t, err)
	require.NoError(t, store.Initialize())
	t.Cleanup(func() { store.Close() })

	srv := server.NewSyncServer(cfg, log, query.NewSnapshotService(store, log))
	srv.StartHub()
	t.Cleanup(func() { srv.Stop() })

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return store, ts
}

// -----------------------------------------------------------------------------

func seedBackend(t *testing.T, store *storage.SQLiteTokenStore, n int) {
	t.Helper()
	for i := 1; i <= n; i++ {
		require.NoError(t, store.UpsertToken(models.MToken{
			Address:   fmt.Sprintf("0xtoken%03d", i),
			Name:      fmt.Sprintf("Token %d", i),
			Price:     float64(i),
			Volume24h: float64(i * 10),
			MarketCap: float64(i * 100),
			CreatedAt: int64(1000 + i),
			UpdatedAt: int64(1000 + i),
		}))
	}
}

// -----------------------------------------------------------------------------

func waitConnected(t *testing.T, agent *SyncAgent) {
	t.Helper()
	require.Eventually(t, func() bool {
		return agent.State() == Connected
	}, 5*time.Second, 20*time.Millisecond)
}

// -----------------------------------------------------------------------------

func TestPushRoundTrip(t *testing.T) {
	cfg := newAgentConfig(t)
	store, ts := newBackend(t, cfg)
	seedBackend(t, store, 12)

	agent := NewSyncAgent(cfg, logger.NewLogger("ERROR", "test-agent"), ts.URL)
	agent.Start(context.Background())
	t.Cleanup(func() { agent.Close() })

	waitConnected(t, agent)

	page, err := agent.GetTokens(context.Background(), "marketCap", "desc", 1)
	require.NoError(t, err)
	require.Len(t, page.Tokens, 10)
	require.Equal(t, 2, page.TotalPages)
	require.Equal(t, "0xtoken012", page.Tokens[0].Address)

	stats, err := agent.GetGlobalStats(context.Background())
	require.NoError(t, err)
	require.Equal(t, 12, stats.TotalTokens)

	_, err = agent.GetTokenDetails(context.Background(), "0xmissing")
	require.ErrorIs(t, err, ErrTokenNotFound)
}

// -----------------------------------------------------------------------------

func TestTokenDetailsServedFromCache(t *testing.T) {
	cfg := newAgentConfig(t)
	store, ts := newBackend(t, cfg)
	seedBackend(t, store, 1)

	agent := NewSyncAgent(cfg, logger.NewLogger("ERROR", "test-agent"), ts.URL)
	agent.Start(context.Background())
	t.Cleanup(func() { agent.Close() })

	waitConnected(t, agent)

	first, err := agent.GetTokenDetails(context.Background(), "0xtoken001")
	require.NoError(t, err)
	require.Equal(t, float64(1), first.Price)

	// The store moves on, but within the TTL the agent answers from cache
	updated := *first
	updated.Price = 42.0
	require.NoError(t, store.UpsertToken(updated))

	second, err := agent.GetTokenDetails(context.Background(), "0xToken001")
	require.NoError(t, err)
	require.Equal(t, float64(1), second.Price)
}

// -----------------------------------------------------------------------------

func TestPullFallbackWhenPushUnavailable(t *testing.T) {
	cfg := newAgentConfig(t)
	store, ts := newBackend(t, cfg)
	seedBackend(t, store, 3)

	agent := NewSyncAgent(cfg, logger.NewLogger("ERROR", "test-agent"), ts.URL)
	// Push endpoint is unreachable; data operations must still be served
	agent.wsURL = "ws://127.0.0.1:1/ws"
	agent.Start(context.Background())
	t.Cleanup(func() { agent.Close() })

	page, err := agent.GetTokens(context.Background(), "", "", 1)
	require.NoError(t, err)
	require.Len(t, page.Tokens, 3)

	token, err := agent.GetTokenDetails(context.Background(), "0xtoken002")
	require.NoError(t, err)
	require.Equal(t, "0xtoken002", token.Address)

	stats, err := agent.GetGlobalStats(context.Background())
	require.NoError(t, err)
	require.Equal(t, 3, stats.TotalTokens)
}

// -----------------------------------------------------------------------------

func TestReconnectExhaustionFallsBackToPolling(t *testing.T) {
	cfg := newAgentConfig(t)
	store, ts := newBackend(t, cfg)
	seedBackend(t, store, 2)

	agent := NewSyncAgent(cfg, logger.NewLogger("ERROR", "test-agent"), ts.URL)
	agent.wsURL = "ws://127.0.0.1:1/ws"

	got := make(chan models.MTokenPage, 4)
	agent.On(models.EventTokensListUpdate, func(data json.RawMessage) {
		var page models.MTokenPage
		if json.Unmarshal(data, &page) == nil {
			select {
			case got <- page:
			default:
			}
		}
	})

	agent.Start(context.Background())
	t.Cleanup(func() { agent.Close() })

	// All attempts burn down, then polling takes over and keeps the listener
	// registry fed
	require.Eventually(t, func() bool {
		return agent.ReconnectAttempts() >= cfg.Sync.MaxReconnectAttempts
	}, 5*time.Second, 20*time.Millisecond)
	require.Equal(t, Disconnected, agent.State())

	select {
	case page := <-got:
		require.Len(t, page.Tokens, 2)
	case <-time.After(5 * time.Second):
		t.Fatal("polling never delivered a listing update")
	}
}

// -----------------------------------------------------------------------------

func TestRequestTimeoutReleasesPendingSlot(t *testing.T) {
	cfg := newAgentConfig(t)
	cfg.Sync.RequestTimeoutSeconds = 1

	// A server that accepts the session but never answers requests
	upgrader := websocket.Upgrader{}
	mute := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(mute.Close)

	agent := NewSyncAgent(cfg, logger.NewLogger("ERROR", "test-agent"), mute.URL)
	agent.Start(context.Background())
	t.Cleanup(func() { agent.Close() })

	waitConnected(t, agent)

	_, err := agent.request(context.Background(), models.EventGetTokens, models.MListRequest{Page: 1})
	require.ErrorIs(t, err, ErrRequestTimeout)

	// The timed-out slot is deregistered, not leaked
	agent.pendingMu.Lock()
	remaining := len(agent.pending)
	agent.pendingMu.Unlock()
	require.Zero(t, remaining)
}

// -----------------------------------------------------------------------------

func TestKeepAliveNotDispatchedToListeners(t *testing.T) {
	cfg := newAgentConfig(t)

	// A server that opens the session with a keep-alive followed by a real
	// push; receiving the push proves the keep-alive was already consumed
	upgrader := websocket.Upgrader{}
	stub := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ka, _ := json.Marshal(models.MKeepAlive{Timestamp: time.Now().UnixMilli()})
		conn.WriteJSON(models.MEnvelope{Event: models.EventKeepAlive, Data: ka})

		update, _ := json.Marshal(models.MToken{Address: "0xaaa", Price: 1})
		conn.WriteJSON(models.MEnvelope{Event: models.EventTokenUpdate, Data: update})

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(stub.Close)

	agent := NewSyncAgent(cfg, logger.NewLogger("ERROR", "test-agent"), stub.URL)

	keepAlives := make(chan struct{}, 1)
	agent.On(models.EventKeepAlive, func(json.RawMessage) {
		select {
		case keepAlives <- struct{}{}:
		default:
		}
	})
	updates := make(chan models.MToken, 1)
	agent.On(models.EventTokenUpdate, func(data json.RawMessage) {
		var token models.MToken
		if json.Unmarshal(data, &token) == nil {
			select {
			case updates <- token:
			default:
			}
		}
	})

	agent.Start(context.Background())
	t.Cleanup(func() { agent.Close() })

	select {
	case token := <-updates:
		require.Equal(t, "0xaaa", token.Address)
	case <-time.After(5 * time.Second):
		t.Fatal("token update never dispatched")
	}

	// Heartbeats are transport liveness, never application events
	require.Empty(t, keepAlives)
}

// -----------------------------------------------------------------------------

func TestEmitRequiresConnection(t *testing.T) {
	cfg := newAgentConfig(t)
	agent := NewSyncAgent(cfg, logger.NewLogger("ERROR", "test-agent"), "http://127.0.0.1:1")

	err := agent.Emit("custom-event", map[string]string{"k": "v"})
	require.ErrorIs(t, err, ErrNotConnected)
}

// -----------------------------------------------------------------------------

func TestConnectivityEventsFireOnLifecycle(t *testing.T) {
	cfg := newAgentConfig(t)
	_, ts := newBackend(t, cfg)

	agent := NewSyncAgent(cfg, logger.NewLogger("ERROR", "test-agent"), ts.URL)

	connected := make(chan struct{}, 1)
	agent.On(EventConnect, func(json.RawMessage) {
		select {
		case connected <- struct{}{}:
		default:
		}
	})

	agent.Start(context.Background())
	t.Cleanup(func() { agent.Close() })

	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("connect event never fired")
	}
	require.Zero(t, agent.ReconnectAttempts())
}
