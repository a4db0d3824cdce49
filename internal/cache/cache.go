// Package cache holds the read-through cache in front of stored carts.
package cache

import (
	"context"
	"errors"

	"github.com/fjod/storefront/internal/domain"
)

// CartCache is keyed by user id. Callers treat every error other than
// ErrCacheMiss as "cache unavailable" and fall back to the store.
type CartCache interface {
	Get(ctx context.Context, userID string) (*domain.Cart, error)
	Set(ctx context.Context, userID string, cart *domain.Cart) error
	Delete(ctx context.Context, userID string) error
}

var ErrCacheMiss = errors.New("cache miss")

// Nop never holds anything; every Get is a miss.
type Nop struct{}

func (Nop) Get(context.Context, string) (*domain.Cart, error) { return nil, ErrCacheMiss }

func (Nop) Set(context.Context, string, *domain.Cart) error { return nil }

func (Nop) Delete(context.Context, string) error { return nil }

var (
	_ CartCache = Nop{}
	_ CartCache = (*RedisCache)(nil)
)
