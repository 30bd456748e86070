// Package rediscache is an optional, non-authoritative acceleration cache
// for resume-candidate ranking (spec §4.10). Scanning every session's
// projected DAG to build a SessionSummary is cheap per session but adds
// up across a large library; this cache lets a deployment memoize that
// scan in Redis with a short TTL. The event log remains the only source
// of truth — a cache miss, a stale entry, or Redis being entirely absent
// must never change a ranking result, only its latency.
//
// Grounded on Generativebots-ocx-backend-go-svc's internal/infra
// GoRedisAdapter (connect-with-timeout, Set/Get/Del over go-redis v9);
// adapted from a generic byte-blob KV wrapper to a typed summary cache.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/workrail/durable-core/projection"
)

// SummaryCache caches one []projection.SessionSummary blob per cache key
// (typically "all" for an unscoped catalog, or a workflowId for a scoped
// one) with a TTL.
type SummaryCache struct {
	rdb    *redis.Client
	ttl    time.Duration
	prefix string
}

// New connects to addr and pings it with a short timeout; the caller
// decides whether to fall back to an uncached path on error, exactly as
// the durable core's resume ranking does when Cache is nil.
func New(addr, password string, db int, ttl time.Duration) (*SummaryCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("rediscache: ping %s: %w", addr, err)
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &SummaryCache{rdb: rdb, ttl: ttl, prefix: "workrail:resume-summaries:"}, nil
}

func (c *SummaryCache) Close() error { return c.rdb.Close() }

// Get returns the cached summaries for key, or ok=false on a cache miss,
// a decode error, or any Redis error — every failure mode here is
// equivalent to "recompute from the event log", never an error the
// caller must propagate.
func (c *SummaryCache) Get(ctx context.Context, key string) ([]projection.SessionSummary, bool) {
	raw, err := c.rdb.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			return nil, false
		}
		return nil, false
	}
	var summaries []projection.SessionSummary
	if err := json.Unmarshal(raw, &summaries); err != nil {
		return nil, false
	}
	return summaries, true
}

// Set stores summaries under key with the cache's configured TTL.
// Errors are returned for callers that want to log them, but are never
// fatal to resume ranking.
func (c *SummaryCache) Set(ctx context.Context, key string, summaries []projection.SessionSummary) error {
	raw, err := json.Marshal(summaries)
	if err != nil {
		return fmt.Errorf("rediscache: encode summaries: %w", err)
	}
	return c.rdb.Set(ctx, c.prefix+key, raw, c.ttl).Err()
}

// Invalidate drops the cached entry for key, used after an append that
// changes a session's recap/workflow/activity-index fields materially
// enough that a stale ranking would be misleading before the TTL lapses.
func (c *SummaryCache) Invalidate(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, c.prefix+key).Err()
}
