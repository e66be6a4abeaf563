package repositories

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"
)

const postsChannel = "posts_changed"

// PostWatcher fans out posts_changed notifications to per-user subscribers.
// The payload of each notification is the id of the user whose posts
// changed.
type PostWatcher struct {
	dsn    string
	logger *slog.Logger

	mu   sync.Mutex
	subs map[string]map[chan struct{}]struct{}
}

func NewPostWatcher(dsn string, logger *slog.Logger) *PostWatcher {
	return &PostWatcher{
		dsn:    dsn,
		logger: logger,
		subs:   make(map[string]map[chan struct{}]struct{}),
	}
}

// Subscribe returns a channel that receives a value whenever the posts of
// userID change. Bursts are coalesced. Call cancel to unsubscribe.
func (w *PostWatcher) Subscribe(userID string) (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)

	w.mu.Lock()
	if w.subs[userID] == nil {
		w.subs[userID] = make(map[chan struct{}]struct{})
	}
	w.subs[userID][ch] = struct{}{}
	w.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			w.mu.Lock()
			delete(w.subs[userID], ch)
			if len(w.subs[userID]) == 0 {
				delete(w.subs, userID)
			}
			w.mu.Unlock()
		})
	}
	return ch, cancel
}

// Notify signals the subscribers of userID. An empty userID signals every
// subscriber.
func (w *PostWatcher) Notify(userID string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	signal := func(set map[chan struct{}]struct{}) {
		for ch := range set {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	}

	if userID == "" {
		for _, set := range w.subs {
			signal(set)
		}
		return
	}
	signal(w.subs[userID])
}

// Subscribers returns the number of open subscriptions.
func (w *PostWatcher) Subscribers() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, set := range w.subs {
		n += len(set)
	}
	return n
}

// Run listens for notifications until ctx is done.
func (w *PostWatcher) Run(ctx context.Context) error {
	listener := pq.NewListener(w.dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			w.logger.Warn("posts listener event", slog.Int("event", int(ev)), slog.String("error", err.Error()))
		}
	})
	defer listener.Close()

	if err := listener.Listen(postsChannel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", postsChannel, err)
	}
	w.logger.Info("posts watcher started", slog.String("channel", postsChannel))

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("posts watcher stopped")
			return nil
		case n := <-listener.Notify:
			// nil after a reconnect; notifications may have been missed
			if n == nil {
				w.Notify("")
				continue
			}
			w.Notify(n.Extra)
		case <-ping.C:
			if err := listener.Ping(); err != nil {
				w.logger.Warn("posts listener ping failed", slog.String("error", err.Error()))
			}
		}
	}
}
