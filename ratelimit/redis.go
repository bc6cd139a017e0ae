package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/onnwee/yuka/telemetry"
)

// Redis is a sliding-window limiter backed by a sorted set per key.
type Redis struct {
	rdb    redis.UniversalClient
	cfg    Config
	prefix string
}

// NewRedis connects to addr and verifies it with PING.
func NewRedis(ctx context.Context, addr string, cfg Config) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &Redis{rdb: rdb, cfg: cfg, prefix: "yuka:ratelimit:"}, nil
}

// Close releases the connection pool.
func (l *Redis) Close() error { return l.rdb.Close() }

// Allow trims the window, counts, and records the event when it fits.
func (l *Redis) Allow(ctx context.Context, key string) (bool, error) {
	if l.cfg.Limit <= 0 {
		return true, nil
	}
	ctx, span := telemetry.StartSpan(ctx, "yuka-ratelimit", "ratelimit.Allow")
	defer span.End()

	k := l.prefix + key
	now := time.Now().UnixMilli()
	windowStart := now - l.cfg.Window.Milliseconds()

	pipe := l.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, k, "0", strconv.FormatInt(windowStart, 10))
	countCmd := pipe.ZCard(ctx, k)
	if _, err := pipe.Exec(ctx); err != nil {
		telemetry.RecordError(span, err)
		return false, err
	}
	if countCmd.Val() >= int64(l.cfg.Limit) {
		return false, nil
	}

	pipe = l.rdb.Pipeline()
	// Members must be unique so two events in the same millisecond both count.
	pipe.ZAdd(ctx, k, redis.Z{Score: float64(now), Member: strconv.FormatInt(now, 10) + "-" + uuid.NewString()})
	pipe.Expire(ctx, k, l.cfg.Window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		telemetry.RecordError(span, err)
		return false, err
	}
	telemetry.SetSpanSuccess(span)
	return true, nil
}
