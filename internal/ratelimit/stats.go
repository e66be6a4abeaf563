package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Decision is the outcome of a single Attempt call. Keys are email
// addresses and are deliberately not part of it.
type Decision struct {
	Allowed bool
	At      time.Time
}

// StatsStore persists attempt decisions for reporting. Implementations are
// best-effort; the limiter never depends on them.
type StatsStore interface {
	Record(ctx context.Context, d Decision) error
}

// StatsReader is implemented by stores that can report cumulative totals.
type StatsReader interface {
	Totals(ctx context.Context) (Counters, error)
}

type Counters struct {
	Allowed int64 `json:"allowed"`
	Denied  int64 `json:"denied"`
}

// MemoryStatsStore keeps process-local totals. Used when Redis is not configured.
type MemoryStatsStore struct {
	mu    sync.Mutex
	total Counters
}

func NewMemoryStatsStore() *MemoryStatsStore {
	return &MemoryStatsStore{}
}

func (s *MemoryStatsStore) Record(_ context.Context, d Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d.Allowed {
		s.total.Allowed++
	} else {
		s.total.Denied++
	}
	return nil
}

func (s *MemoryStatsStore) Totals(_ context.Context) (Counters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total, nil
}

// RedisStatsStore writes cumulative and per-minute counters to Redis hashes:
//
//	<prefix>:total                 allowed|denied
//	<prefix>:minute:200601021504   allowed|denied (expires after ttl)
//
// Keys themselves are not tracked since they are email addresses.
type RedisStatsStore struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

type RedisStatsOption func(*RedisStatsStore)

func WithStatsPrefix(prefix string) RedisStatsOption {
	return func(s *RedisStatsStore) { s.prefix = strings.Trim(prefix, ":") }
}

func WithStatsTTL(d time.Duration) RedisStatsOption {
	return func(s *RedisStatsStore) { s.ttl = d }
}

func NewRedisStatsStore(rdb *redis.Client, opts ...RedisStatsOption) *RedisStatsStore {
	s := &RedisStatsStore{
		rdb:    rdb,
		prefix: "postguard:login_limits",
		ttl:    24 * time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStatsStore) Record(ctx context.Context, d Decision) error {
	if s == nil || s.rdb == nil {
		return nil
	}

	at := d.At
	if at.IsZero() {
		at = time.Now()
	}
	field := fieldFor(d.Allowed)

	pipe := s.rdb.Pipeline()
	pipe.HIncrBy(ctx, s.prefix+":total", field, 1)

	bucketKey := s.bucketKey(at)
	pipe.HIncrBy(ctx, bucketKey, field, 1)
	if s.ttl > 0 {
		pipe.Expire(ctx, bucketKey, s.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("record limiter stats: %w", err)
	}
	return nil
}

// Totals reads the cumulative counters.
func (s *RedisStatsStore) Totals(ctx context.Context) (Counters, error) {
	vals, err := s.rdb.HGetAll(ctx, s.prefix+":total").Result()
	if err != nil {
		return Counters{}, fmt.Errorf("read limiter stats: %w", err)
	}
	return parseCounters(vals), nil
}

func (s *RedisStatsStore) bucketKey(at time.Time) string {
	return fmt.Sprintf("%s:minute:%s", s.prefix, at.UTC().Format("200601021504"))
}

func fieldFor(allowed bool) string {
	if allowed {
		return "allowed"
	}
	return "denied"
}

func parseCounters(vals map[string]string) Counters {
	var c Counters
	c.Allowed, _ = strconv.ParseInt(vals["allowed"], 10, 64)
	c.Denied, _ = strconv.ParseInt(vals["denied"], 10, 64)
	return c
}
