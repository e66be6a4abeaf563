package security

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BradenHooton/postguard/internal/metrics"
	"github.com/BradenHooton/postguard/internal/models"
	pkglogger "github.com/BradenHooton/postguard/pkg/logger"
	"github.com/BradenHooton/postguard/pkg/sanitize"
)

const (
	defaultQueueSize = 256
	persistTimeout   = 5 * time.Second
)

// EventStore persists security events.
type EventStore interface {
	Create(ctx context.Context, event *models.SecurityEvent) error
}

// Config controls where events go. With logging disabled in development,
// events are only written to the debug log.
type Config struct {
	Enabled     bool
	Environment string
	QueueSize   int
}

func (c Config) debugOnly() bool {
	return !c.Enabled && c.Environment == "development"
}

// Recorder records security events without blocking the caller. Events are
// persisted by a single writer goroutine in the order Record was called.
// Failed writes are logged and dropped.
type Recorder struct {
	cfg      Config
	store    EventStore
	resolver IPResolver
	seclog   *pkglogger.SecurityLogger
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu     sync.RWMutex
	queue  chan *models.SecurityEvent
	closed bool
	done   chan struct{}
}

type RecorderOption func(*Recorder)

func WithMetrics(m *metrics.Metrics) RecorderOption {
	return func(r *Recorder) { r.metrics = m }
}

func WithNow(now func() time.Time) RecorderOption {
	return func(r *Recorder) { r.now = now }
}

func NewRecorder(cfg Config, store EventStore, resolver IPResolver, logger *slog.Logger, opts ...RecorderOption) *Recorder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	r := &Recorder{
		cfg:      cfg,
		store:    store,
		resolver: resolver,
		seclog:   pkglogger.NewSecurityLogger(logger),
		logger:   logger,
		now:      time.Now,
		queue:    make(chan *models.SecurityEvent, cfg.QueueSize),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start runs the writer until Stop is called. It blocks; run it in a goroutine.
func (r *Recorder) Start() {
	defer close(r.done)
	for event := range r.queue {
		r.write(event)
	}
}

// Stop stops accepting events and waits for queued ones to be written or
// for ctx to expire.
func (r *Recorder) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Record classifies an event and queues it for persistence. userID may be
// empty for anonymous events. It never blocks and never fails.
func (r *Recorder) Record(ctx context.Context, eventType, userID string, details map[string]interface{}) {
	if r.cfg.debugOnly() {
		r.seclog.Debug(ctx, eventType, userID, details)
		return
	}

	event := r.build(ctx, eventType, userID, details)

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.logger.Warn("security event after shutdown dropped", slog.String("event_type", eventType))
		r.metrics.SecurityEventDropped()
		return
	}

	select {
	case r.queue <- event:
	default:
		r.logger.Warn("security event queue full, event dropped", slog.String("event_type", eventType))
		r.metrics.SecurityEventDropped()
	}
}

func (r *Recorder) build(ctx context.Context, eventType, userID string, details map[string]interface{}) *models.SecurityEvent {
	// details end up in admin views; keys double as JSONB paths
	copied := make(models.EventDetails, len(details))
	for k, v := range sanitize.Map(details, sanitize.ForHTML) {
		copied[sanitize.ForDatabase(k)] = v
	}

	event := &models.SecurityEvent{
		ID:          uuid.New(),
		EventType:   eventType,
		Timestamp:   r.now().UTC(),
		Details:     copied,
		Severity:    Classify(eventType),
		Environment: r.cfg.Environment,
	}
	if userID != "" {
		id := userID
		event.UserID = &id
	}
	if info, ok := RequestInfoFrom(ctx); ok {
		event.UserAgent = info.UserAgent
		// Resolved by the writer; the request address is only a hint.
		event.IPAddress = info.IPAddress
	}
	return event
}

// write resolves the event address, logs it and persists it.
func (r *Recorder) write(event *models.SecurityEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	event.IPAddress = r.resolveIP(ctx, event.IPAddress)

	userID := ""
	if event.UserID != nil {
		userID = *event.UserID
	}
	r.seclog.Event(ctx, pkglogger.SecurityRecord{
		EventType:   event.EventType,
		UserID:      userID,
		Severity:    string(event.Severity),
		IPAddress:   event.IPAddress,
		UserAgent:   event.UserAgent,
		Environment: event.Environment,
		Timestamp:   event.Timestamp,
		Details:     event.Details,
	})
	r.metrics.SecurityEvent(event.EventType, string(event.Severity))

	if err := r.store.Create(ctx, event); err != nil {
		r.metrics.SecurityEventFailed()
		r.logger.Error("failed to log security event",
			slog.String("event_type", event.EventType),
			slog.String("error", err.Error()))
	}
}

func (r *Recorder) resolveIP(ctx context.Context, hint string) (ip string) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("ip resolver panicked", slog.Any("panic", rec))
			ip = models.IPUnknown
		}
	}()
	if r.resolver == nil {
		if hint == "" {
			return models.IPUnknown
		}
		return hint
	}
	ip = r.resolver.Resolve(ctx, hint)
	if ip == "" {
		ip = models.IPUnknown
	}
	return ip
}
