// Package cache holds the short-lived aggregate cache behind the stats,
// results and activity endpoints.  Entries expire after a fixed TTL and
// are evicted together whenever the vote ledger changes.
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/election-backend/internal/config"
)

// Logical entry names.  Every ledger write evicts all of them.
const (
	KeyStats    = "stats"
	KeyResults  = "results"
	KeyActivity = "recent-activity"
)

var allKeys = []string{KeyStats, KeyResults, KeyActivity}

// Results is a Redis-backed read cache.  A nil Redis client or a disabled
// config turns every call into a miss and every write into a no-op.
type Results struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func NewResults(cfg config.CacheConfig, rdb *redis.Client) *Results {
	if !cfg.Enabled {
		rdb = nil
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "results"
	}
	return &Results{rdb: rdb, prefix: prefix, ttl: ttl}
}

// Enabled reports whether entries are actually stored.
func (r *Results) Enabled() bool { return r != nil && r.rdb != nil }

// TTL is the lifetime given to each entry.
func (r *Results) TTL() time.Duration { return r.ttl }

func (r *Results) key(name string) string { return r.prefix + ":" + name }

// Get returns the stored payload for name.  Redis errors count as misses.
func (r *Results) Get(ctx context.Context, name string) ([]byte, bool) {
	if !r.Enabled() {
		return nil, false
	}
	bs, err := r.rdb.Get(ctx, r.key(name)).Bytes()
	if err != nil {
		return nil, false
	}
	return bs, true
}

// Set stores payload under name for the configured TTL.
func (r *Results) Set(ctx context.Context, name string, payload []byte) error {
	if !r.Enabled() {
		return nil
	}
	return r.rdb.SetEx(ctx, r.key(name), payload, r.ttl).Err()
}

// Invalidate evicts every aggregate entry.  Callers run it after commit and
// treat failure as non-fatal; the TTL bounds staleness regardless.
func (r *Results) Invalidate(ctx context.Context) error {
	if !r.Enabled() {
		return nil
	}
	keys := make([]string, len(allKeys))
	for i, k := range allKeys {
		keys[i] = r.key(k)
	}
	err := r.rdb.Del(ctx, keys...).Err()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	return err
}
