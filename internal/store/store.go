package store

import (
	"context"
	"time"

	"github.com/fjod/storefront/internal/domain"
)

// Store is the persistence contract shared by the PostgreSQL repository and
// the in-memory store.
type Store interface {
	// GetProduct returns domain.ErrProductNotFound for unknown ids.
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)

	// GetProducts skips unknown ids instead of failing.
	GetProducts(ctx context.Context, ids []int64) (map[int64]*domain.Product, error)

	// GetCart returns domain.ErrCartNotFound when the user has no cart yet.
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)

	// UpdateCart runs fn on the user's cart while holding that cart exclusively,
	// creating the cart first if needed. Lines with a zero ID are inserted,
	// changed lines are updated and lines missing from the result are deleted.
	// Nothing is written when fn fails.
	UpdateCart(ctx context.Context, userID string, fn func(*domain.Cart) error) (*domain.Cart, error)

	// CreateSession stores a new checkout session. A repeated idempotency key
	// for the same user returns domain.ErrDuplicateIdempotencyKey. A user has
	// at most one non-terminal session; a second one returns
	// domain.ErrCheckoutActive.
	CreateSession(ctx context.Context, s *domain.CheckoutSession) error

	GetSessionByIdempotencyKey(ctx context.Context, userID, key string) (*domain.CheckoutSession, error)

	// TransitionSession saves s only if the stored status is still from.
	TransitionSession(ctx context.Context, s *domain.CheckoutSession, from domain.CheckoutStatus) error

	// GetStuckSessions lists non-terminal sessions not updated since before.
	GetStuckSessions(ctx context.Context, before time.Time) ([]*domain.CheckoutSession, error)

	// CommitOrder applies c as one unit: stock decrements, order with items
	// and shipping address, cart line removal, session completion and the
	// outbox event. A decrement that would take stock below zero fails the
	// whole unit with *stock.ViolationsError. A snapshot line that is no
	// longer in the cart fails it with domain.ErrCartChanged.
	CommitOrder(ctx context.Context, c *domain.Commit) (*domain.Order, error)

	GetOrder(ctx context.Context, id int64) (*domain.Order, error)

	// ListOrders returns the user's orders newest first.
	ListOrders(ctx context.Context, userID string) ([]*domain.Order, error)

	GetUnprocessedEvents(ctx context.Context, limit int) ([]*domain.OutboxEvent, error)

	MarkEventAsProcessed(ctx context.Context, id int64) error

	// AddEvent appends an outbox event outside of a commit.
	AddEvent(ctx context.Context, e *domain.OutboxEvent) error

	Close() error
}
