package storage

import (
	"context"
	"sync"

	"token-observer/src/models"
)

// -----------------------------------------------------------------------------
// In-Process Change Notifier
// -----------------------------------------------------------------------------

// changeNotifier fans store notifications out to subscribers. Backends
// without a native notification channel (SQLite) publish here after commit.
type changeNotifier struct {
	mu   sync.Mutex
	subs map[int]chan models.MStoreNotification
	next int
}

// -----------------------------------------------------------------------------

func newChangeNotifier() *changeNotifier {
	return &changeNotifier{
		subs: make(map[int]chan models.MStoreNotification),
	}
}

// -----------------------------------------------------------------------------

// Subscribe registers a new subscriber channel. The channel closes and the
// subscription is released when ctx is cancelled.
func (n *changeNotifier) Subscribe(ctx context.Context) <-chan models.MStoreNotification {
	n.mu.Lock()
	id := n.next
	n.next++
	// Buffered so a burst of writes doesn't stall the committing writer
	ch := make(chan models.MStoreNotification, 64)
	n.subs[id] = ch
	n.mu.Unlock()

	go func() {
		<-ctx.Done()
		n.mu.Lock()
		if sub, ok := n.subs[id]; ok {
			delete(n.subs, id)
			close(sub)
		}
		n.mu.Unlock()
	}()

	return ch
}

// -----------------------------------------------------------------------------

// Publish delivers a notification to every subscriber. Slow subscribers have
// the notification dropped rather than blocking the writer; consumers are
// expected to converge via their next re-read.
func (n *changeNotifier) Publish(notification models.MStoreNotification) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for _, ch := range n.subs {
		select {
		case ch <- notification:
		default:
		}
	}
}

// -----------------------------------------------------------------------------

// CloseAll releases every subscription.
func (n *changeNotifier) CloseAll() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for id, ch := range n.subs {
		delete(n.subs, id)
		close(ch)
	}
}
