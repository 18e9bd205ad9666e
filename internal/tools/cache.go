package tools

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// defaultCacheTTL bounds staleness of cached lookups against the company
// dataset, which is refreshed out of band.
const defaultCacheTTL = 15 * time.Minute

// Cache memoizes read-only tool results in Redis, keyed by tool name and a
// digest of the arguments. A nil Cache (or one built over a nil client) is a
// no-op, so tools never need to branch on whether caching is configured.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewCache wraps a Redis client. client may be nil to disable caching.
func NewCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Cache{client: client, ttl: ttl, logger: logger}
}

func (c *Cache) enabled() bool { return c != nil && c.client != nil }

func cacheKey(tool string, args json.RawMessage) string {
	sum := sha256.Sum256(args)
	return fmt.Sprintf("prospecta:tool:%s:%s", tool, hex.EncodeToString(sum[:8]))
}

// Get returns a cached result for the call, or false on miss. Redis failures
// degrade to misses.
func (c *Cache) Get(ctx context.Context, tool string, args json.RawMessage) (Result, bool) {
	if !c.enabled() {
		return Result{}, false
	}
	raw, err := c.client.Get(ctx, cacheKey(tool, args)).Bytes()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("tools: cache read", "tool", tool, "error", err)
		}
		return Result{}, false
	}
	var res Result
	if err := json.Unmarshal(raw, &res); err != nil {
		return Result{}, false
	}
	return res, true
}

// Put stores a successful result. Failures are never cached; Redis errors
// are logged and dropped.
func (c *Cache) Put(ctx context.Context, tool string, args json.RawMessage, res Result) {
	if !c.enabled() || !res.Success {
		return
	}
	raw, err := json.Marshal(res)
	if err != nil {
		return
	}
	if err := c.client.Set(ctx, cacheKey(tool, args), raw, c.ttl).Err(); err != nil {
		c.logger.Warn("tools: cache write", "tool", tool, "error", err)
	}
}
