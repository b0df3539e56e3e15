package revenue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const (
	cacheVersionKey = "revenue:snapshot:version"
	cacheKeyPrefix  = "revenue:snapshot"
	// InvalidateChannel carries invalidation reasons between processes.
	InvalidateChannel = "revenue.invalidate"
)

// Invalidation reasons.
const (
	ReasonBatchImport    = "batch_import"
	ReasonSummaryRefresh = "summary_refresh"
	ReasonManual         = "manual"
)

// Cache tiers reported to the Recorder.
const (
	TierLocal = "local"
	TierRedis = "redis"
)

type cacheEntry struct {
	snap    MetricsSnapshot
	expires time.Time
}

// SnapshotCache keeps recent snapshots in process and, when a Redis client is
// configured, in a versioned shared tier. Invalidation waits for in-flight
// populates and drops every key.
type SnapshotCache struct {
	client   *redis.Client
	ttl      time.Duration
	logger   *slog.Logger
	recorder Recorder
	now      func() time.Time

	gate    sync.RWMutex
	mu      sync.Mutex
	entries map[string]cacheEntry
	flight  singleflight.Group
}

// NewSnapshotCache builds a cache. client may be nil for a process-local cache.
func NewSnapshotCache(client *redis.Client, ttl time.Duration, logger *slog.Logger, recorder Recorder) *SnapshotCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &SnapshotCache{
		client:   client,
		ttl:      ttl,
		logger:   logger,
		recorder: recorderOrNop(recorder),
		now:      time.Now,
		entries:  make(map[string]cacheEntry),
	}
}

// Loader computes a snapshot on a cache miss.
type Loader func(ctx context.Context) (MetricsSnapshot, error)

// Get returns the cached snapshot for key or computes it with load.
// Concurrent misses for one key share a single load. Failed loads are never
// cached.
func (c *SnapshotCache) Get(ctx context.Context, key string, load Loader) (MetricsSnapshot, error) {
	if load == nil {
		return MetricsSnapshot{}, errors.New("revenue: cache loader required")
	}
	if snap, ok := c.lookup(key); ok {
		c.recorder.CacheLookup(TierLocal, true)
		return snap.Clone(), nil
	}
	c.recorder.CacheLookup(TierLocal, false)

	for {
		ch := c.flight.DoChan(key, func() (interface{}, error) {
			return c.populate(ctx, key, load)
		})
		select {
		case <-ctx.Done():
			return MetricsSnapshot{}, canceled(context.Cause(ctx))
		case res := <-ch:
			if res.Err != nil {
				// the shared load died with its leader's context, not ours
				if res.Shared && errors.Is(res.Err, ErrCanceled) && ctx.Err() == nil {
					continue
				}
				return MetricsSnapshot{}, res.Err
			}
			return res.Val.(MetricsSnapshot).Clone(), nil
		}
	}
}

func (c *SnapshotCache) lookup(key string) (MetricsSnapshot, bool) {
	c.gate.RLock()
	defer c.gate.RUnlock()
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	if !ok {
		return MetricsSnapshot{}, false
	}
	if !c.now().Before(entry.expires) {
		delete(c.entries, key)
		return MetricsSnapshot{}, false
	}
	return entry.snap, true
}

func (c *SnapshotCache) store(key string, snap MetricsSnapshot) {
	if c.ttl <= 0 {
		return
	}
	c.mu.Lock()
	c.entries[key] = cacheEntry{snap: snap, expires: c.now().Add(c.ttl)}
	c.mu.Unlock()
}

// populate holds the read side of the gate for its whole run, so an
// invalidation never interleaves with a load that started before it.
func (c *SnapshotCache) populate(ctx context.Context, key string, load Loader) (MetricsSnapshot, error) {
	c.gate.RLock()
	defer c.gate.RUnlock()

	redisKey, shared := c.sharedKey(ctx, key)
	if shared {
		if snap, ok := c.fetchShared(ctx, redisKey); ok {
			c.recorder.CacheLookup(TierRedis, true)
			c.store(key, snap)
			return snap, nil
		}
		c.recorder.CacheLookup(TierRedis, false)
	}

	snap, err := load(ctx)
	if err != nil {
		return MetricsSnapshot{}, err
	}
	c.store(key, snap)
	if shared {
		c.putShared(ctx, redisKey, snap)
	}
	return snap, nil
}

// sharedKey composes the versioned Redis key. Redis failures degrade to the
// local tier only.
func (c *SnapshotCache) sharedKey(ctx context.Context, key string) (string, bool) {
	if c.client == nil || c.ttl <= 0 {
		return "", false
	}
	ver, err := c.Version(ctx)
	if err != nil {
		c.logger.Warn("revenue cache version unavailable", slog.Any("error", err))
		return "", false
	}
	return fmt.Sprintf("%s:%s:%d", cacheKeyPrefix, key, ver), true
}

func (c *SnapshotCache) fetchShared(ctx context.Context, redisKey string) (MetricsSnapshot, bool) {
	payload, err := c.client.Get(ctx, redisKey).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("revenue cache read failed", slog.String("key", redisKey), slog.Any("error", err))
		}
		return MetricsSnapshot{}, false
	}
	var snap MetricsSnapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		c.logger.Warn("revenue cache payload invalid", slog.String("key", redisKey), slog.Any("error", err))
		return MetricsSnapshot{}, false
	}
	return snap, true
}

func (c *SnapshotCache) putShared(ctx context.Context, redisKey string, snap MetricsSnapshot) {
	raw, err := json.Marshal(snap)
	if err != nil {
		c.logger.Warn("revenue cache encode failed", slog.Any("error", err))
		return
	}
	if err := c.client.Set(ctx, redisKey, raw, c.ttl).Err(); err != nil {
		c.logger.Warn("revenue cache write failed", slog.String("key", redisKey), slog.Any("error", err))
	}
}

// Version returns the shared cache version, initialising when missing.
func (c *SnapshotCache) Version(ctx context.Context) (int64, error) {
	if c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, cacheVersionKey).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// InvalidateLocal drops every in-process entry once in-flight populates finish.
func (c *SnapshotCache) InvalidateLocal() {
	c.gate.Lock()
	defer c.gate.Unlock()
	c.clearLocal()
}

func (c *SnapshotCache) clearLocal() {
	c.mu.Lock()
	clear(c.entries)
	c.mu.Unlock()
}

// Invalidate drops every entry in every tier and tells other processes to do
// the same. The shared version is bumped before the local tier is cleared,
// both under the gate, so no populate can refill the local tier from the
// previous version.
func (c *SnapshotCache) Invalidate(ctx context.Context, reason string) error {
	if err := c.bumpAndClear(ctx); err != nil {
		return err
	}
	if c.client == nil {
		return nil
	}
	if reason == "" {
		reason = ReasonManual
	}
	if err := c.client.Publish(ctx, InvalidateChannel, reason).Err(); err != nil {
		return fmt.Errorf("revenue: publish invalidation: %w", err)
	}
	return nil
}

func (c *SnapshotCache) bumpAndClear(ctx context.Context) error {
	c.gate.Lock()
	defer c.gate.Unlock()
	defer c.clearLocal()
	if c.client == nil {
		return nil
	}
	if _, err := c.client.Incr(ctx, cacheVersionKey).Result(); err != nil {
		return fmt.Errorf("revenue: bump cache version: %w", err)
	}
	return nil
}

// Listen subscribes to invalidations published by any process and clears the
// local tier on each. It returns once the subscription is active.
func (c *SnapshotCache) Listen(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	pubsub := c.client.Subscribe(ctx, InvalidateChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("revenue: subscribe %s: %w", InvalidateChannel, err)
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				c.InvalidateLocal()
				c.logger.Info("revenue cache invalidated", slog.String("reason", strings.TrimSpace(msg.Payload)))
			}
		}
	}()
	return nil
}
