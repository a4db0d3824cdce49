package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	// keyVersion is bumped whenever domain.Cart changes shape, orphaning old entries.
	keyVersion = 1
	DefaultTTL = 15 * time.Minute
	maxJitter  = 5 * time.Minute
)

// RedisCache keeps carts as JSON under storefront:cart:v<N>:<user>. Works with
// a single node, sentinel or cluster client.
type RedisCache struct {
	client  redis.UniversalClient
	baseTTL time.Duration
}

// NewRedisCache uses DefaultTTL when ttl is zero. Every entry gets up to
// maxJitter on top so carts written together do not expire together.
func NewRedisCache(client redis.UniversalClient, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCache{client: client, baseTTL: ttl}
}

// Get reports ErrCacheMiss for absent keys. An entry that no longer decodes
// is dropped and also reported as a miss.
func (r *RedisCache) Get(ctx context.Context, userID string) (*domain.Cart, error) {
	key := cacheKey(userID)
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}

	var cart domain.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		if delErr := r.client.Del(ctx, key).Err(); delErr != nil {
			return nil, fmt.Errorf("drop undecodable cart %s: %w", key, errors.Join(err, delErr))
		}
		return nil, ErrCacheMiss
	}
	return &cart, nil
}

func (r *RedisCache) Set(ctx context.Context, userID string, cart *domain.Cart) error {
	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("marshal cart for %s: %w", userID, err)
	}
	if err := r.client.Set(ctx, cacheKey(userID), data, r.ttl()).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", cacheKey(userID), err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, cacheKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", cacheKey(userID), err)
	}
	return nil
}

func (r *RedisCache) ttl() time.Duration {
	return r.baseTTL + rand.N(maxJitter)
}

func cacheKey(userID string) string {
	return fmt.Sprintf("storefront:cart:v%d:%s", keyVersion, userID)
}
