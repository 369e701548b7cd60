// Package ratelimit implements fixed-window counters in Redis.  A window
// starts with the first increment of a key and ends when the key expires;
// every call counts, including calls made after the limit was hit.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrScript increments KEYS[1], arms the expiry on the first hit of a
// window and returns {count, pttl}.  A key found without an expiry (left over
// from a crash or a manual write) gets one so it cannot block forever.
var incrScript = redis.NewScript(`
	local count = redis.call('INCR', KEYS[1])
	if count == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	local ttl = redis.call('PTTL', KEYS[1])
	if ttl < 0 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
		ttl = tonumber(ARGV[1])
	end
	return { count, ttl }
`)

// Result is the outcome of one Check.
type Result struct {
	Allowed   bool
	Count     int64
	Remaining int64
	TTL       time.Duration
}

// RetryAfterSeconds rounds the window's remaining lifetime up to whole
// seconds, the unit shown to users.
func (r Result) RetryAfterSeconds() int {
	return int(math.Ceil(r.TTL.Seconds()))
}

// Limiter is a fixed-window limiter over a shared Redis.
type Limiter struct {
	rdb *redis.Client
}

func New(rdb *redis.Client) *Limiter { return &Limiter{rdb: rdb} }

// Check counts one hit against key and reports whether it fits in limit for
// the current window.
func (l *Limiter) Check(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	if window < time.Millisecond {
		window = time.Millisecond
	}
	vals, err := incrScript.Run(ctx, l.rdb, []string{key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit %s: %w", key, err)
	}
	if len(vals) != 2 {
		return Result{}, fmt.Errorf("ratelimit %s: unexpected script result %v", key, vals)
	}
	count, ttlMs := vals[0], vals[1]
	remaining := int64(limit) - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{
		Allowed:   count <= int64(limit),
		Count:     count,
		Remaining: remaining,
		TTL:       time.Duration(ttlMs) * time.Millisecond,
	}, nil
}

// Reset drops the counters for keys, opening fresh windows.
func (l *Limiter) Reset(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return l.rdb.Del(ctx, keys...).Err()
}

// Wait blocks until a hit on key fits in limit, sleeping out the current
// window whenever it is full.  It returns ctx.Err() if ctx ends first.
func (l *Limiter) Wait(ctx context.Context, key string, limit int, window time.Duration) error {
	for {
		res, err := l.Check(ctx, key, limit, window)
		if err != nil {
			return err
		}
		if res.Allowed {
			return nil
		}
		wait := res.TTL
		if wait <= 0 {
			wait = 50 * time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
