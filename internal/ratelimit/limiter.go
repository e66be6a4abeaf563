// Package ratelimit bounds authentication attempts per key within a sliding
// time window.
package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	DefaultMaxAttempts = 5
	DefaultWindow      = 15 * time.Minute

	statsTimeout   = 2 * time.Second
	statsQueueSize = 1024
)

// Clock returns the current time. Tests substitute a fake.
type Clock func() time.Time

// Limit describes the state of one key with attempts inside the window.
type Limit struct {
	Attempts  int           `json:"attempts"`
	Remaining int           `json:"remaining"`
	ResetIn   time.Duration `json:"reset_in"`
}

type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(clock Clock) Option {
	return func(l *Limiter) { l.now = clock }
}

// WithStats records every Attempt decision to store. A single background
// writer drains a bounded queue; decisions that do not fit are dropped and
// store failures are only logged. Call Close to flush the queue.
func WithStats(store StatsStore, logger *slog.Logger) Option {
	return func(l *Limiter) {
		l.stats = store
		if logger != nil {
			l.logger = logger
		}
	}
}

// Limiter is a sliding-window attempt counter keyed by an identity such as a
// normalized email address. It is safe for concurrent use.
type Limiter struct {
	mu          sync.Mutex
	attempts    map[string][]time.Time
	maxAttempts int
	window      time.Duration
	now         Clock

	stats     StatsStore
	decisions chan Decision
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

// New creates a Limiter. Non-positive arguments fall back to the defaults.
func New(maxAttempts int, window time.Duration, opts ...Option) *Limiter {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if window <= 0 {
		window = DefaultWindow
	}

	l := &Limiter{
		attempts:    make(map[string][]time.Time),
		maxAttempts: maxAttempts,
		window:      window,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.stats != nil {
		l.decisions = make(chan Decision, statsQueueSize)
		l.done = make(chan struct{})
		go l.writeStats()
	}
	return l
}

// Close stops the stats writer after it has drained the queued decisions.
// Attempt must not be called after Close.
func (l *Limiter) Close() {
	if l.decisions == nil {
		return
	}
	l.closeOnce.Do(func() {
		close(l.decisions)
		<-l.done
	})
}

func (l *Limiter) MaxAttempts() int { return l.maxAttempts }

func (l *Limiter) Window() time.Duration { return l.window }

// recent returns the attempts of list that are still inside the window.
// Caller must hold l.mu.
func (l *Limiter) recent(list []time.Time, now time.Time) []time.Time {
	kept := make([]time.Time, 0, len(list))
	for _, t := range list {
		if now.Sub(t) < l.window {
			kept = append(kept, t)
		}
	}
	return kept
}

// Attempt records an attempt for key and reports whether it is allowed.
// A denied attempt is not recorded.
func (l *Limiter) Attempt(key string) bool {
	l.mu.Lock()
	now := l.now()
	recent := l.recent(l.attempts[key], now)

	allowed := len(recent) < l.maxAttempts
	if allowed {
		l.attempts[key] = append(recent, now)
	}
	l.mu.Unlock()

	l.recordDecision(allowed, now)
	return allowed
}

// RemainingTime returns how long until the oldest stored attempt of key
// leaves the window, or 0 if nothing is stored.
//
// The oldest attempt is taken from the stored list as-is, without pruning, so
// the result can be stale (and even negative) when no Attempt has been made
// for key since its attempts expired.
func (l *Limiter) RemainingTime(key string) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	list := l.attempts[key]
	if len(list) == 0 {
		return 0
	}
	return l.window - l.now().Sub(oldest(list))
}

// RemainingAttempts returns how many more attempts key may make right now.
func (l *Limiter) RemainingAttempts(key string) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	recent := l.prune(key, l.now())
	remaining := l.maxAttempts - len(recent)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Reset clears all attempts for key.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	delete(l.attempts, key)
	l.mu.Unlock()
}

// ActiveLimits reports every key that has at least one attempt inside the window.
func (l *Limiter) ActiveLimits() map[string]Limit {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	active := make(map[string]Limit)
	for key := range l.attempts {
		recent := l.prune(key, now)
		if len(recent) == 0 {
			continue
		}
		active[key] = Limit{
			Attempts:  len(recent),
			Remaining: l.maxAttempts - len(recent),
			ResetIn:   l.window - now.Sub(oldest(recent)),
		}
	}
	return active
}

// Prune drops keys whose attempts have all expired and returns how many were removed.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key := range l.attempts {
		if len(l.prune(key, now)) == 0 {
			removed++
		}
	}
	return removed
}

// prune rewrites the stored list of key to its recent attempts and deletes
// the key when none remain. Caller must hold l.mu.
func (l *Limiter) prune(key string, now time.Time) []time.Time {
	list, ok := l.attempts[key]
	if !ok {
		return nil
	}
	recent := l.recent(list, now)
	if len(recent) == 0 {
		delete(l.attempts, key)
		return nil
	}
	l.attempts[key] = recent
	return recent
}

// Totals reports the allowed and denied decisions seen by the stats store.
// It returns zero counters when the store cannot be read back.
func (l *Limiter) Totals(ctx context.Context) (Counters, error) {
	reader, ok := l.stats.(StatsReader)
	if !ok {
		return Counters{}, nil
	}
	return reader.Totals(ctx)
}

func (l *Limiter) recordDecision(allowed bool, at time.Time) {
	if l.decisions == nil {
		return
	}
	select {
	case l.decisions <- Decision{Allowed: allowed, At: at}:
	default:
		l.logger.Debug("rate limit stats queue full, decision dropped", slog.Bool("allowed", allowed))
	}
}

func (l *Limiter) writeStats() {
	defer close(l.done)
	for d := range l.decisions {
		ctx, cancel := context.WithTimeout(context.Background(), statsTimeout)
		if err := l.stats.Record(ctx, d); err != nil {
			l.logger.Warn("failed to record rate limit decision",
				slog.Bool("allowed", d.Allowed),
				slog.String("error", err.Error()))
		}
		cancel()
	}
}

func oldest(list []time.Time) time.Time {
	first := list[0]
	for _, t := range list[1:] {
		if t.Before(first) {
			first = t
		}
	}
	return first
}
