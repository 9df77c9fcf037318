// Package cache implements the shared response cache: a content-addressed,
// per-worker-TTL cache fronting every worker dispatch so identical requests
// never pay for a duplicate LLM or search call. It is backed by Redis, with
// an in-memory FIFO fallback when Redis is unavailable.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/scribeforge/orchestrator/internal/domain"
	"github.com/scribeforge/orchestrator/internal/metrics"
)

// Fingerprint is the canonical request form hashed to produce a cache key.
// Only fields that affect the worker's output participate.
type Fingerprint struct {
	WorkerKind     domain.WorkerKind
	Model          string
	SystemPrompt   string
	UserPrompt     string
	Temperature    float64
	MaxTokens      int
	ContextDigest  string // hash of the relevant ProjectContext fields
}

// Key derives the cache key for a fingerprint: a hex SHA-256 digest over its
// canonical JSON form.
func (f Fingerprint) Key() string {
	b, _ := json.Marshal(f)
	h := sha256.Sum256(b)
	return "rc:" + hex.EncodeToString(h[:])
}

// entry is what gets stored, value and expiry together so the in-memory
// fallback can self-expire without a sweep goroutine.
type entry struct {
	Value     string    `json:"value"`
	StoredAt  time.Time `json:"stored_at"`
	TTL       time.Duration `json:"ttl"`
}

func (e entry) expired() bool {
	return time.Since(e.StoredAt) > e.TTL
}

// Cache is the response cache. Get/Set never return a stale entry: an
// expired Redis key is treated as a miss, and the in-memory fallback checks
// expiry explicitly.
type Cache struct {
	rdb *redis.Client

	mu       sync.Mutex
	mem      map[string]entry
	order    []string
	capacity int
}

// New constructs a Cache. rdb may be nil, in which case the cache runs
// entirely in memory (used in tests and when Redis is not configured).
func New(rdb *redis.Client, memCapacity int) *Cache {
	if memCapacity <= 0 {
		memCapacity = 1000
	}
	return &Cache{
		rdb:      rdb,
		mem:      make(map[string]entry),
		capacity: memCapacity,
	}
}

// Get looks up a fingerprint. The worker label is used only for metrics.
func (c *Cache) Get(ctx context.Context, worker domain.WorkerKind, fp Fingerprint) (string, bool) {
	key := fp.Key()

	if c.rdb != nil {
		val, err := c.rdb.Get(ctx, key).Result()
		switch {
		case err == nil:
			metrics.CacheLookupsTotal.WithLabelValues(string(worker), "hit").Inc()
			return val, true
		case err == redis.Nil:
			// fall through to in-memory lookup below: Set writes to
			// memory when the Redis write fails, so an entry can live
			// there without a Redis copy.
		default:
			slog.Warn("response cache redis get failed, falling back to memory", slog.Any("error", err))
		}
	}

	c.mu.Lock()
	e, ok := c.mem[key]
	if ok && e.expired() {
		delete(c.mem, key)
		ok = false
	}
	c.mu.Unlock()

	if !ok {
		metrics.CacheLookupsTotal.WithLabelValues(string(worker), "miss").Inc()
		return "", false
	}
	metrics.CacheLookupsTotal.WithLabelValues(string(worker), "hit").Inc()
	return e.Value, true
}

// Set stores a response under the fingerprint's key with the given TTL.
func (c *Cache) Set(ctx context.Context, fp Fingerprint, value string, ttl time.Duration) {
	key := fp.Key()

	if c.rdb != nil {
		if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
			slog.Warn("response cache redis set failed, writing to memory only", slog.Any("error", err))
		} else {
			return
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.mem[key]; !exists {
		if len(c.order) >= c.capacity {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.mem, oldest)
		}
		c.order = append(c.order, key)
	}
	c.mem[key] = entry{Value: value, StoredAt: time.Now(), TTL: ttl}
}

// Invalidate removes a fingerprint's entry from both tiers.
func (c *Cache) Invalidate(ctx context.Context, fp Fingerprint) {
	key := fp.Key()
	if c.rdb != nil {
		if err := c.rdb.Del(ctx, key).Err(); err != nil {
			slog.Warn("response cache redis del failed", slog.Any("error", err))
		}
	}
	c.mu.Lock()
	delete(c.mem, key)
	c.mu.Unlock()
}

// DigestContext produces a stable short digest of a ProjectContext for use
// as Fingerprint.ContextDigest, so two requests that differ only in
// irrelevant context fields still collide correctly.
func DigestContext(pc domain.ProjectContext) string {
	b, _ := json.Marshal(struct {
		Prev  []domain.PreviousPhase
		Style *domain.StyleGuide
		Prefs domain.UserPreferences
	}{pc.PreviousPhases, pc.StyleGuide, pc.UserPreferences})
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:8])
}
