package security

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/BradenHooton/postguard/internal/metrics"
	"github.com/BradenHooton/postguard/internal/models"
	pkghttp "github.com/BradenHooton/postguard/pkg/http"
)

const publicIPCacheKey = "postguard:ip:public"

// IPResolver determines the address recorded on a security event. It never
// fails; unresolvable addresses become models.IPUnknown.
type IPResolver interface {
	Resolve(ctx context.Context, requestIP string) string
}

// IPCache stores the result of public IP lookups.
type IPCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// LookupConfig configures LookupResolver.
type LookupConfig struct {
	Environment string
	URL         string  // JSON endpoint returning {"ip": "..."}
	RPS         float64 // outbound lookup budget
	CacheTTL    time.Duration
	HTTPClient  *http.Client
}

// LookupResolver returns "localhost" in development and the request address
// when it is a routable client address. Loopback or missing request
// addresses are resolved to the host's public address through an external
// lookup service, cached and throttled.
type LookupResolver struct {
	cfg     LookupConfig
	client  *http.Client
	limiter *rate.Limiter
	cache   IPCache
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewLookupResolver(cfg LookupConfig, cache IPCache, m *metrics.Metrics, logger *slog.Logger) *LookupResolver {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	rps := cfg.RPS
	if rps <= 0 {
		rps = 1
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	if cache == nil {
		cache = NewMemoryIPCache()
	}
	return &LookupResolver{
		cfg:     cfg,
		client:  client,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		cache:   cache,
		metrics: m,
		logger:  logger,
	}
}

func (r *LookupResolver) Resolve(ctx context.Context, requestIP string) string {
	if r.cfg.Environment == "development" {
		return models.IPLocalhost
	}

	if net.ParseIP(requestIP) != nil && !pkghttp.IsLoopback(requestIP) {
		return requestIP
	}

	ip, err := r.publicIP(ctx)
	if err != nil {
		r.logger.Debug("public IP lookup failed", slog.String("error", err.Error()))
		return models.IPUnknown
	}
	return ip
}

var errThrottled = errors.New("ip lookup throttled")

func (r *LookupResolver) publicIP(ctx context.Context) (string, error) {
	if cached, err := r.cache.Get(ctx, publicIPCacheKey); err == nil && cached != "" {
		r.metrics.IPLookup("cache")
		return cached, nil
	}

	if !r.limiter.Allow() {
		r.metrics.IPLookup("throttled")
		return "", errThrottled
	}

	ip, err := r.fetch(ctx)
	if err != nil {
		r.metrics.IPLookup("error")
		return "", err
	}
	r.metrics.IPLookup("remote")

	if err := r.cache.Set(ctx, publicIPCacheKey, ip, r.cfg.CacheTTL); err != nil {
		r.logger.Warn("failed to cache public IP", slog.String("error", err.Error()))
	}
	return ip, nil
}

func (r *LookupResolver) fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.URL, nil)
	if err != nil {
		return "", fmt.Errorf("build lookup request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("lookup request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("lookup returned status %d", resp.StatusCode)
	}

	var body struct {
		IP string `json:"ip"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode lookup response: %w", err)
	}
	if net.ParseIP(body.IP) == nil {
		return "", fmt.Errorf("lookup returned invalid address %q", body.IP)
	}
	return body.IP, nil
}

// RedisIPCache keeps lookup results in Redis so every instance shares them.
type RedisIPCache struct {
	rdb *redis.Client
}

func NewRedisIPCache(rdb *redis.Client) *RedisIPCache {
	return &RedisIPCache{rdb: rdb}
}

func (c *RedisIPCache) Get(ctx context.Context, key string) (string, error) {
	return c.rdb.Get(ctx, key).Result()
}

func (c *RedisIPCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, value, ttl).Err()
}

type memoryEntry struct {
	value   string
	expires time.Time
}

// MemoryIPCache is the process-local IPCache used without Redis.
type MemoryIPCache struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

var errCacheMiss = errors.New("cache miss")

func NewMemoryIPCache() *MemoryIPCache {
	return &MemoryIPCache{entries: make(map[string]memoryEntry), now: time.Now}
}

func (c *MemoryIPCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expires) {
		delete(c.entries, key)
		return "", errCacheMiss
	}
	return e.value, nil
}

func (c *MemoryIPCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	c.entries[key] = memoryEntry{value: value, expires: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}
