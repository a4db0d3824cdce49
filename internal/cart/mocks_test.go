package cart

import (
	"context"
	"sync"

	"github.com/fjod/storefront/internal/cache"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/store"
)

type MockCache struct {
	mu       sync.Mutex
	carts    map[string]*domain.Cart
	GetErr   error
	Deleted  []string
	SetCalls int
}

func NewMockCache() *MockCache {
	return &MockCache{carts: make(map[string]*domain.Cart)}
}

func (m *MockCache) Get(_ context.Context, userID string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	c, ok := m.carts[userID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return c, nil
}

func (m *MockCache) Set(_ context.Context, userID string, c *domain.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.SetCalls++
	m.carts[userID] = c
	return nil
}

func (m *MockCache) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Deleted = append(m.Deleted, userID)
	delete(m.carts, userID)
	return nil
}

// countingRepo counts reads that reach the store and records whether the
// catalog was used while a cart update was open.
type countingRepo struct {
	*store.MemoryStore
	mu              sync.Mutex
	reads           int
	updating        bool
	catalogInUpdate int
}

func (r *countingRepo) UpdateCart(ctx context.Context, userID string, fn func(*domain.Cart) error) (*domain.Cart, error) {
	return r.MemoryStore.UpdateCart(ctx, userID, func(c *domain.Cart) error {
		r.mu.Lock()
		r.updating = true
		r.mu.Unlock()
		defer func() {
			r.mu.Lock()
			r.updating = false
			r.mu.Unlock()
		}()
		return fn(c)
	})
}

// catalog returns a Catalog that notes lookups made inside UpdateCart.
func (r *countingRepo) catalog() Catalog {
	return &watchedCatalog{MemoryStore: r.MemoryStore, repo: r}
}

type watchedCatalog struct {
	*store.MemoryStore
	repo *countingRepo
}

func (c *watchedCatalog) GetProduct(ctx context.Context, id int64) (*domain.Product, error) {
	c.repo.mu.Lock()
	if c.repo.updating {
		c.repo.catalogInUpdate++
	}
	c.repo.mu.Unlock()
	return c.MemoryStore.GetProduct(ctx, id)
}

func (r *countingRepo) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	r.mu.Lock()
	r.reads++
	r.mu.Unlock()
	return r.MemoryStore.GetCart(ctx, userID)
}
