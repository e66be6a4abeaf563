package logger

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

// SecurityRecord is the log view of a security event
type SecurityRecord struct {
	EventType   string
	UserID      string
	Severity    string
	IPAddress   string
	UserAgent   string
	Environment string
	Timestamp   time.Time
	Details     map[string]interface{}
}

// SecurityLogger writes security events as structured log lines
type SecurityLogger struct {
	logger *slog.Logger
}

func NewSecurityLogger(logger *slog.Logger) *SecurityLogger {
	return &SecurityLogger{logger: logger}
}

// Debug writes the short local line used when events are not persisted.
func (sl *SecurityLogger) Debug(ctx context.Context, eventType, userID string, details map[string]interface{}) {
	attrs := []slog.Attr{
		slog.String("log_type", "security"),
		slog.String("event_type", eventType),
	}
	if userID != "" {
		attrs = append(attrs, slog.String("user_id", userID))
	}
	attrs = append(attrs, detailsGroup(details))

	sl.logger.LogAttrs(ctx, slog.LevelDebug, "[SECURITY LOG] "+eventType, attrs...)
}

// Event writes a full security record. High severity events log at WARN.
func (sl *SecurityLogger) Event(ctx context.Context, rec SecurityRecord) {
	attrs := []slog.Attr{
		slog.String("log_type", "security"),
		slog.String("event_type", rec.EventType),
		slog.String("severity", rec.Severity),
		slog.String("environment", rec.Environment),
		slog.String("timestamp", rec.Timestamp.UTC().Format(time.RFC3339)),
	}

	if rec.UserID != "" {
		attrs = append(attrs, slog.String("user_id", rec.UserID))
	}
	if rec.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", rec.IPAddress))
	}
	if rec.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", rec.UserAgent))
	}
	attrs = append(attrs, detailsGroup(rec.Details))

	level := slog.LevelInfo
	if rec.Severity == "high" {
		level = slog.LevelWarn
	}
	sl.logger.LogAttrs(ctx, level, "security_event", attrs...)
}

// detailsGroup renders details in key order with email values masked.
func detailsGroup(details map[string]interface{}) slog.Attr {
	keys := make([]string, 0, len(details))
	for k := range details {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	args := make([]any, 0, len(keys))
	for _, k := range keys {
		v := details[k]
		if s, ok := v.(string); ok && isEmailKey(k) {
			v = SanitizedEmail(s)
		}
		args = append(args, slog.String(k, fmt.Sprint(v)))
	}
	return slog.Group("details", args...)
}
