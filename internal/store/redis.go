package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps redis client.
type Redis struct {
	Client *redis.Client
	prefix string
}

// NewRedis connects to redis with short timeouts.
func NewRedis(addr string) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
	})
	return &Redis{Client: client, prefix: "boacid:"}
}

// Healthy verifies redis connectivity.
func (r *Redis) Healthy(ctx context.Context) bool {
	if r == nil || r.Client == nil {
		return false
	}
	return r.Client.Ping(ctx).Err() == nil
}

// Close closes the client.
func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}

// Revoke marks a session token id as revoked until its expiry.
func (r *Redis) Revoke(ctx context.Context, jti string, until time.Time) error {
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	return r.Client.Set(ctx, r.prefix+"revoked:"+jti, 1, ttl).Err()
}

// IsRevoked reports whether a session token id was revoked.
func (r *Redis) IsRevoked(ctx context.Context, jti string) (bool, error) {
	n, err := r.Client.Exists(ctx, r.prefix+"revoked:"+jti).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// WindowLimiter is a fixed one-minute window rate limiter shared by every
// process pointing at the same redis.
type WindowLimiter struct {
	r         *Redis
	scope     string
	perMinute int
}

// Limiter returns a limiter allowing perMinute hits per key and scope.
func (r *Redis) Limiter(scope string, perMinute int) *WindowLimiter {
	return &WindowLimiter{r: r, scope: scope, perMinute: perMinute}
}

// Allow counts a hit for key and reports whether it is within the limit.
func (l *WindowLimiter) Allow(ctx context.Context, key string) (bool, error) {
	window := time.Now().Unix() / 60
	k := fmt.Sprintf("%sratelimit:%s:%s:%d", l.r.prefix, l.scope, key, window)

	pipe := l.r.Client.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, 2*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return false, err
	}
	return incr.Val() <= int64(l.perMinute), nil
}
