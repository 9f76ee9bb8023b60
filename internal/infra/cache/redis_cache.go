package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"order-engine/internal/domain"

	"github.com/go-redis/redis/v8"
)

func NewRedisClient(host string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         host + ":6379",
		DB:           0,
		PoolSize:     200,
		MinIdleConns: 20,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
}

// CouponCache holds coupon terms for validation lookups. Entries are
// advisory: redemption always goes to storage.
type CouponCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewCouponCache(rdb *redis.Client, ttl time.Duration) *CouponCache {
	return &CouponCache{rdb: rdb, ttl: ttl}
}

func couponKey(code string) string {
	return "coupon:" + code
}

func (c *CouponCache) Get(ctx context.Context, code string) (*domain.Coupon, error) {
	b, err := c.rdb.Get(ctx, couponKey(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache get %s: %w", code, err)
	}
	var cp domain.Coupon
	if err := json.Unmarshal(b, &cp); err != nil {
		return nil, fmt.Errorf("cache decode %s: %w", code, err)
	}
	return &cp, nil
}

func (c *CouponCache) Set(ctx context.Context, coupon *domain.Coupon) error {
	data, err := json.Marshal(coupon)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", coupon.Code, err)
	}
	return c.rdb.Set(ctx, couponKey(coupon.Code), data, c.ttl).Err()
}

func (c *CouponCache) Invalidate(ctx context.Context, code string) error {
	return c.rdb.Del(ctx, couponKey(code)).Err()
}

// IdempotencyStore remembers request keys so a retried submission is not
// processed twice.
type IdempotencyStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewIdempotencyStore(rdb *redis.Client, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{rdb: rdb, ttl: ttl}
}

func idempotencyKey(key string) string {
	return "idempotent-key:" + key
}

// Reserve claims key and reports false when it was already claimed.
func (s *IdempotencyStore) Reserve(ctx context.Context, key string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, idempotencyKey(key), "exists", s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("reserve idempotency key: %w", err)
	}
	return ok, nil
}

// Release frees key so the client may retry after a failed request.
func (s *IdempotencyStore) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, idempotencyKey(key)).Err()
}
