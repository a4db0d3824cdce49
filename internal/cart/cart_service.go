// Package cart implements the per-user shopping cart: adding, updating and
// removing lines under the stock guard, and pricing the result.
package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fjod/storefront/internal/cache"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/pricing"
	"github.com/fjod/storefront/internal/stock"
	"golang.org/x/sync/singleflight"
)

var (
	ErrInvalidQuantity      = errors.New("quantity must be at least 1")
	ErrQuantityExceedsStock = errors.New("quantity exceeds stock")
	ErrCartHoldsAllStock    = errors.New("cart already holds all available stock")
)

type Catalog interface {
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
	GetProducts(ctx context.Context, ids []int64) (map[int64]*domain.Product, error)
}

type Repository interface {
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	UpdateCart(ctx context.Context, userID string, fn func(*domain.Cart) error) (*domain.Cart, error)
}

type CartService struct {
	catalog Catalog
	repo    Repository
	cache   cache.CartCache
	log     *slog.Logger
	sfg     singleflight.Group // Prevents cache stampede
}

func NewCartService(catalog Catalog, repo Repository, c cache.CartCache, log *slog.Logger) *CartService {
	return &CartService{
		catalog: catalog,
		repo:    repo,
		cache:   c,
		log:     log,
	}
}

// AddResult describes what an add actually did. Added is lower than Requested
// when the guard clamped the quantity to the stock left.
type AddResult struct {
	Line      domain.LineItem
	Requested int
	Added     int
	Available int
}

func (r *AddResult) Clamped() bool {
	return r.Added < r.Requested
}

// Warning is the message shown to the shopper for a clamped add.
func (r *AddResult) Warning() string {
	if !r.Clamped() {
		return ""
	}
	return fmt.Sprintf("only %d available, added %d", r.Available, r.Added)
}

type UpdateResult struct {
	Line      LineView
	Totals    pricing.Totals
	ItemCount int
}

// GetCart returns the user's cart, or an empty one if none exists yet. The
// returned cart may be shared with concurrent callers and must not be mutated.
func (s *CartService) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	// Use singleflight to prevent multiple concurrent cache misses for same key
	v, err, _ := s.sfg.Do(userID, func() (interface{}, error) {
		cart, err := s.cache.Get(ctx, userID)
		if err == nil {
			return cart, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.WarnContext(ctx, "cache get failed", "user_id", userID, "error", err)
		}

		cart, err = s.repo.GetCart(ctx, userID)
		if errors.Is(err, domain.ErrCartNotFound) {
			now := time.Now()
			return &domain.Cart{UserID: userID, CreatedAt: now, UpdatedAt: now}, nil
		}
		if err != nil {
			return nil, err
		}

		if errSet := s.cache.Set(ctx, userID, cart); errSet != nil {
			s.log.WarnContext(ctx, "cache set failed", "user_id", userID, "error", errSet)
		}
		return cart, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.Cart), nil
}

// AddItem merges quantity into the line for productID/sizeID, creating it if
// needed. The line never grows beyond the stock available: a request that
// does not fit is clamped. When nothing fits it fails with stock.ErrOutOfStock,
// or with ErrCartHoldsAllStock if the existing line already takes it all.
func (s *CartService) AddItem(ctx context.Context, userID string, productID int64, sizeID *int64, quantity int) (*AddResult, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	size, err := resolveSize(product, sizeID)
	if err != nil {
		return nil, err
	}

	result := &AddResult{Requested: quantity}
	cart, err := s.repo.UpdateCart(ctx, userID, func(c *domain.Cart) error {
		existing := 0
		line := c.FindLine(productID, sizeID)
		if line != nil {
			existing = line.Quantity
		}

		a := stock.CheckAvailability(product, size, existing+quantity)
		added := a.Allowed - existing
		if !a.InStock || added <= 0 {
			if existing > 0 {
				return ErrCartHoldsAllStock
			}
			return stock.ErrOutOfStock
		}
		result.Added = added
		result.Available = a.Available

		if line != nil {
			line.Quantity += added
			return nil
		}
		c.Items = append(c.Items, domain.LineItem{
			ProductID: productID,
			SizeID:    sizeID,
			Quantity:  added,
			AddedAt:   time.Now(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateCache(userID)

	if l := cart.FindLine(productID, sizeID); l != nil {
		result.Line = *l
	}
	if result.Clamped() {
		s.log.WarnContext(ctx, "add to cart clamped to stock",
			"user_id", userID,
			"product_id", productID,
			"requested", result.Requested,
			"added", result.Added,
			"available", result.Available)
	}
	return result, nil
}

// UpdateItem sets the quantity of one line. Unlike AddItem it never clamps:
// a quantity above the stock available fails with ErrQuantityExceedsStock
// and the cart is left unchanged.
//
// The product is loaded before UpdateCart: the callback runs while the cart
// row is locked and must not wait on another store connection.
func (s *CartService) UpdateItem(ctx context.Context, userID string, lineID int64, quantity int) (*UpdateResult, error) {
	if quantity < 1 {
		return nil, ErrInvalidQuantity
	}

	current, err := s.repo.GetCart(ctx, userID)
	if errors.Is(err, domain.ErrCartNotFound) {
		return nil, domain.ErrLineNotFound
	}
	if err != nil {
		return nil, err
	}
	target := current.Line(lineID)
	if target == nil {
		return nil, domain.ErrLineNotFound
	}
	product, err := s.catalog.GetProduct(ctx, target.ProductID)
	if err != nil {
		return nil, err
	}
	size, err := resolveSize(product, target.SizeID)
	if err != nil {
		return nil, err
	}
	available := stock.Available(product, size)
	if quantity > available {
		return nil, fmt.Errorf("%w: only %d available", ErrQuantityExceedsStock, max(available, 0))
	}

	cart, err := s.repo.UpdateCart(ctx, userID, func(c *domain.Cart) error {
		// Line ids are never reused, so a line still present is the one priced above.
		line := c.Line(lineID)
		if line == nil {
			return domain.ErrLineNotFound
		}
		line.Quantity = quantity
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateCache(userID)

	view, err := s.price(ctx, cart)
	if err != nil {
		return nil, err
	}
	result := &UpdateResult{Totals: view.Totals, ItemCount: view.ItemCount}
	for _, l := range view.Lines {
		if l.ID == lineID {
			result.Line = l
		}
	}
	return result, nil
}

// RemoveItem deletes a line. A line that is not in the cart is reported as
// domain.ErrLineNotFound since it means the client state is stale.
func (s *CartService) RemoveItem(ctx context.Context, userID string, lineID int64) error {
	_, err := s.repo.UpdateCart(ctx, userID, func(c *domain.Cart) error {
		if !c.RemoveLine(lineID) {
			return domain.ErrLineNotFound
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.invalidateCache(userID)
	return nil
}

// View prices the user's cart against the live catalog.
func (s *CartService) View(ctx context.Context, userID string) (*View, error) {
	cart, err := s.GetCart(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.price(ctx, cart)
}

// Totals prices the user's cart without the line details.
func (s *CartService) Totals(ctx context.Context, userID string) (pricing.Totals, error) {
	view, err := s.View(ctx, userID)
	if err != nil {
		return pricing.Totals{}, err
	}
	return view.Totals, nil
}

// Invalidate drops the cached copy of the user's cart.
func (s *CartService) Invalidate(userID string) {
	s.invalidateCache(userID)
}

func (s *CartService) invalidateCache(userID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.log.Warn("cache invalidate failed", "user_id", userID, "error", err)
	}
}

// resolveSize enforces that products with sizes get one of their own sizes
// and products without sizes get none.
func resolveSize(p *domain.Product, sizeID *int64) (*domain.SizeVariant, error) {
	if sizeID == nil {
		if domain.HasSizes(p) {
			return nil, stock.ErrSizeRequired
		}
		return nil, nil
	}
	size, ok := domain.FindSize(p, *sizeID)
	if !ok {
		return nil, domain.ErrSizeNotFound
	}
	return size, nil
}
