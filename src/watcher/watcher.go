package watcher

import (
	"context"
	"sync"
	"time"

	"token-observer/src/interfaces"
	"token-observer/src/logger"
	"token-observer/src/models"
)

// -----------------------------------------------------------------------------
// ChangeFeed Watcher
// -----------------------------------------------------------------------------

// relistenBaseDelay paces re-establishment of a dead store subscription.
const relistenBaseDelay = 1 * time.Second

// -----------------------------------------------------------------------------

// ChangeFeed watches the token store's change notifications and emits one
// normalized MChangeEvent per observed insert/update/replace. The
// notification payload may be partial, so every event is built from a fresh
// re-read of the affected record.
//
// Delivery is best effort: if the record vanished between notification and
// re-read the event is dropped, and while the subscription is being
// re-established no events flow at all. Consumers converge via TTL caches
// or polling.
type ChangeFeed struct {
	Store  interfaces.ITokenStore
	Logger *logger.Logger

	events chan models.MChangeEvent
}

// -----------------------------------------------------------------------------

func NewChangeFeed(store interfaces.ITokenStore, log *logger.Logger) *ChangeFeed {
	return &ChangeFeed{
		Store:  store,
		Logger: log,
		events: make(chan models.MChangeEvent, 256),
	}
}

// -----------------------------------------------------------------------------

// Events is the stream of normalized change events.
func (w *ChangeFeed) Events() <-chan models.MChangeEvent {
	return w.events
}

// -----------------------------------------------------------------------------

// Start runs the watch loop until ctx is cancelled. The events channel is
// closed on return.
func (w *ChangeFeed) Start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(w.events)
		w.run(ctx)
	}()
}

// -----------------------------------------------------------------------------

func (w *ChangeFeed) run(ctx context.Context) {
	delay := relistenBaseDelay

	for {
		notifications, err := w.Store.Listen(ctx)
		if err != nil {
			w.Logger.Warning("ChangeFeed: failed to open store subscription: %v, retrying in %v", err, delay)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			// Exponential backoff, capped at 30s
			if delay < 30*time.Second {
				delay *= 2
			}
			continue
		}

		delay = relistenBaseDelay
		w.Logger.Info("ChangeFeed: store subscription established")

		if !w.consume(ctx, notifications) {
			return
		}
		// A subscription closing because ctx was cancelled can race the
		// ctx branch in consume; never re-establish with a dead context.
		if ctx.Err() != nil {
			return
		}
		w.Logger.Warning("ChangeFeed: store subscription closed, re-establishing")
	}
}

// -----------------------------------------------------------------------------

// consume drains one subscription. Returns false when ctx ended, true when
// the subscription closed and should be re-established.
func (w *ChangeFeed) consume(ctx context.Context, notifications <-chan models.MStoreNotification) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case n, ok := <-notifications:
			if !ok {
				return true
			}
			w.handle(ctx, n)
		}
	}
}

// -----------------------------------------------------------------------------

func (w *ChangeFeed) handle(ctx context.Context, n models.MStoreNotification) {
	kind, ok := normalizeKind(n.Op)
	if !ok {
		// Deletes and anything unknown produce no event. The dashboard only
		// ever fetches positively, it never displays removals.
		return
	}

	token, err := w.Store.GetByAddress(n.Address)
	if err != nil {
		w.Logger.Debug("ChangeFeed: re-read of %s failed: %v, dropping event", n.Address, err)
		return
	}
	if token == nil {
		// Record deleted between notification and re-read: drop silently.
		w.Logger.Debug("ChangeFeed: %s vanished before re-read, dropping event", n.Address)
		return
	}

	event := models.MChangeEvent{
		Kind:    kind,
		Address: token.Address,
		Token:   *token,
	}

	select {
	case w.events <- event:
	case <-ctx.Done():
	}
}

// -----------------------------------------------------------------------------

func normalizeKind(op string) (models.MChangeKind, bool) {
	switch op {
	case "insert":
		return models.ChangeInsert, true
	case "update":
		return models.ChangeUpdate, true
	case "replace":
		return models.ChangeReplace, true
	default:
		return "", false
	}
}
