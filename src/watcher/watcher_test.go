package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"token-observer/src/logger"
	"token-observer/src/models"

	"github.com/stretchr/testify/require"
)

// -----------------------------------------------------------------------------
// Stub store: scripted notifications plus an in-memory record set.
// -----------------------------------------------------------------------------

type stubStore struct {
	mu            sync.Mutex
	tokens        map[string]models.MToken
	notifications chan models.MStoreNotification
	listenErr     error
	listenCalls   int

	// When set, Listen hands out an already-closed channel, as a
	// subscription torn down by cancellation would look.
	closedChannel bool
}

func newStubStore() *stubStore {
	return &stubStore{
		tokens:        make(map[string]models.MToken),
		notifications: make(chan models.MStoreNotification, 16),
	}
}

func (s *stubStore) Initialize() error                  { return nil }
func (s *stubStore) CleanupOldData() error              { return nil }
func (s *stubStore) Close() error                       { return nil }
func (s *stubStore) CountTokens() (int, error)          { return len(s.tokens), nil }
func (s *stubStore) UpsertToken(t models.MToken) error  { s.put(t); return nil }
func (s *stubStore) GlobalStats() (models.MGlobalStats, error) {
	return models.MGlobalStats{}, nil
}
func (s *stubStore) GetByAddressFold(a string) (*models.MToken, error)       { return s.GetByAddress(a) }
func (s *stubStore) SearchByAddressFragment(f string) (*models.MToken, error) { return nil, nil }
func (s *stubStore) ListPage(string, bool, int, int) ([]models.MToken, error) {
	return nil, nil
}

func (s *stubStore) put(t models.MToken) {
	s.mu.Lock()
	s.tokens[t.Address] = t
	s.mu.Unlock()
}

func (s *stubStore) GetByAddress(address string) (*models.MToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tokens[address]; ok {
		return &t, nil
	}
	return nil, nil
}

func (s *stubStore) Listen(ctx context.Context) (<-chan models.MStoreNotification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listenCalls++
	if s.listenErr != nil {
		err := s.listenErr
		s.listenErr = nil
		return nil, err
	}
	if s.closedChannel {
		ch := make(chan models.MStoreNotification)
		close(ch)
		return ch, nil
	}
	return s.notifications, nil
}

func (s *stubStore) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listenCalls
}

// -----------------------------------------------------------------------------

func startFeed(t *testing.T, store *stubStore) (*ChangeFeed, context.CancelFunc) {
	t.Helper()

	feed := NewChangeFeed(store, logger.NewLogger("ERROR", "test"))
	ctx, cancel := context.WithCancel(context.Background())

	wg := &sync.WaitGroup{}
	feed.Start(ctx, wg)

	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	return feed, cancel
}

// -----------------------------------------------------------------------------

func waitEvent(t *testing.T, feed *ChangeFeed) models.MChangeEvent {
	t.Helper()
	select {
	case ev := <-feed.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change event")
		return models.MChangeEvent{}
	}
}

// -----------------------------------------------------------------------------

func TestEmitsFullRecordPerNotification(t *testing.T) {
	store := newStubStore()
	store.put(models.MToken{Address: "0xaaa", Name: "Alpha", Price: 3.14})

	feed, _ := startFeed(t, store)

	store.notifications <- models.MStoreNotification{Op: "insert", Address: "0xaaa"}

	ev := waitEvent(t, feed)
	require.Equal(t, models.ChangeInsert, ev.Kind)
	require.Equal(t, "0xaaa", ev.Address)
	require.Equal(t, "Alpha", ev.Token.Name)
	require.Equal(t, 3.14, ev.Token.Price)
}

// -----------------------------------------------------------------------------

func TestDropsEventWhenRecordVanished(t *testing.T) {
	store := newStubStore()
	store.put(models.MToken{Address: "0xkept", Name: "Kept"})

	feed, _ := startFeed(t, store)

	// The record behind this notification no longer exists
	store.notifications <- models.MStoreNotification{Op: "update", Address: "0xgone"}
	store.notifications <- models.MStoreNotification{Op: "update", Address: "0xkept"}

	// Only the surviving record comes through; the vanished one is dropped
	ev := waitEvent(t, feed)
	require.Equal(t, "0xkept", ev.Address)
}

// -----------------------------------------------------------------------------

func TestIgnoresDeletes(t *testing.T) {
	store := newStubStore()
	store.put(models.MToken{Address: "0xaaa", Name: "Alpha"})

	feed, _ := startFeed(t, store)

	store.notifications <- models.MStoreNotification{Op: "delete", Address: "0xaaa"}
	store.notifications <- models.MStoreNotification{Op: "replace", Address: "0xaaa"}

	ev := waitEvent(t, feed)
	require.Equal(t, models.ChangeReplace, ev.Kind)
}

// -----------------------------------------------------------------------------

func TestReestablishesAfterSubscriptionError(t *testing.T) {
	store := newStubStore()
	store.put(models.MToken{Address: "0xaaa", Name: "Alpha"})
	store.listenErr = errors.New("subscription refused")

	feed, _ := startFeed(t, store)

	// First Listen fails; the watcher retries and the second succeeds
	require.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return store.listenCalls >= 2
	}, 5*time.Second, 50*time.Millisecond)

	store.notifications <- models.MStoreNotification{Op: "insert", Address: "0xaaa"}
	ev := waitEvent(t, feed)
	require.Equal(t, "0xaaa", ev.Address)
}

// -----------------------------------------------------------------------------

func TestNoResubscribeAfterCancel(t *testing.T) {
	store := newStubStore()
	store.closedChannel = true

	feed := NewChangeFeed(store, logger.NewLogger("ERROR", "test"))

	// The subscription channel closing and the context ending arrive
	// together; the watcher must stop instead of reopening a dead
	// subscription
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	wg := &sync.WaitGroup{}
	feed.Start(ctx, wg)
	wg.Wait()

	require.Equal(t, 1, store.calls())

	_, open := <-feed.Events()
	require.False(t, open)
}
