package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/stock"
)

// MemoryStore implements Store with in-memory storage. It backs
// STORE_DRIVER=memory and the service tests.
type MemoryStore struct {
	mu       sync.RWMutex
	products map[int64]*domain.Product
	carts    map[string]*domain.Cart
	sessions map[string]*domain.CheckoutSession
	orders   map[int64]*domain.Order
	outbox   []*domain.OutboxEvent

	// cartLocks serializes read-modify-write cycles per user. Always taken
	// before mu.
	locksMu   sync.Mutex
	cartLocks map[string]*sync.Mutex

	nextCartID  int64
	nextLineID  int64
	nextOrderID int64
	nextItemID  int64
	nextEventID int64
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products:  make(map[int64]*domain.Product),
		carts:     make(map[string]*domain.Cart),
		sessions:  make(map[string]*domain.CheckoutSession),
		orders:    make(map[int64]*domain.Order),
		cartLocks: make(map[string]*sync.Mutex),
	}
}

// PutProduct adds or replaces a catalog product.
func (s *MemoryStore) PutProduct(p *domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = copyProduct(p)
}

// DeleteProduct removes a product and every cart line that references it.
// Orders keep their items with the product reference cleared.
func (s *MemoryStore) DeleteProduct(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.products, id)
	for _, c := range s.carts {
		c.Items = slices.DeleteFunc(c.Items, func(item domain.LineItem) bool {
			return item.ProductID == id
		})
	}
	for _, o := range s.orders {
		for i := range o.Items {
			if o.Items[i].ProductID != nil && *o.Items[i].ProductID == id {
				o.Items[i].ProductID = nil
			}
		}
	}
}

func (s *MemoryStore) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	return copyProduct(p), nil
}

func (s *MemoryStore) GetProducts(_ context.Context, ids []int64) (map[int64]*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make(map[int64]*domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := s.products[id]; ok {
			result[id] = copyProduct(p)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetCart(_ context.Context, userID string) (*domain.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.carts[userID]
	if !ok {
		return nil, domain.ErrCartNotFound
	}
	return copyCart(c), nil
}

func (s *MemoryStore) UpdateCart(ctx context.Context, userID string, fn func(*domain.Cart) error) (*domain.Cart, error) {
	unlock := s.lockCart(userID)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	current, ok := s.carts[userID]
	if !ok {
		s.nextCartID++
		now := time.Now()
		current = &domain.Cart{ID: s.nextCartID, UserID: userID, CreatedAt: now, UpdatedAt: now}
		s.carts[userID] = current
	}
	working := copyCart(current)
	s.mu.Unlock()

	// fn may read the catalog, so mu is not held while it runs.
	if err := fn(working); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range working.Items {
		if working.Items[i].ID == 0 {
			s.nextLineID++
			working.Items[i].ID = s.nextLineID
		}
		if working.Items[i].AddedAt.IsZero() {
			working.Items[i].AddedAt = time.Now()
		}
	}
	working.UpdatedAt = time.Now()
	s.carts[userID] = copyCart(working)
	return working, nil
}

func (s *MemoryStore) CreateSession(_ context.Context, cs *domain.CheckoutSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.sessions {
		if existing.UserID != cs.UserID {
			continue
		}
		if cs.IdempotencyKey != "" && existing.IdempotencyKey == cs.IdempotencyKey {
			return domain.ErrDuplicateIdempotencyKey
		}
		if !cs.Status.IsTerminal() && !existing.Status.IsTerminal() {
			return domain.ErrCheckoutActive
		}
	}
	now := time.Now()
	cs.CreatedAt, cs.UpdatedAt = now, now
	cp := *cs
	s.sessions[cs.ID] = &cp
	return nil
}

func (s *MemoryStore) GetSessionByIdempotencyKey(_ context.Context, userID, key string) (*domain.CheckoutSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cs := range s.sessions {
		if cs.UserID == userID && cs.IdempotencyKey == key {
			cp := *cs
			return &cp, nil
		}
	}
	return nil, domain.ErrSessionNotFound
}

// GetSession is used by tests to inspect the journal.
func (s *MemoryStore) GetSession(id string) (*domain.CheckoutSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.sessions[id]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	cp := *cs
	return &cp, nil
}

func (s *MemoryStore) TransitionSession(_ context.Context, cs *domain.CheckoutSession, from domain.CheckoutStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(cs, from)
}

func (s *MemoryStore) transitionLocked(cs *domain.CheckoutSession, from domain.CheckoutStatus) error {
	stored, ok := s.sessions[cs.ID]
	if !ok {
		return domain.ErrSessionNotFound
	}
	if stored.Status != from {
		return domain.ErrSessionStateChanged
	}
	cs.UpdatedAt = time.Now()
	cp := *cs
	s.sessions[cs.ID] = &cp
	return nil
}

func (s *MemoryStore) GetStuckSessions(_ context.Context, before time.Time) ([]*domain.CheckoutSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stuck []*domain.CheckoutSession
	for _, cs := range s.sessions {
		if !cs.Status.IsTerminal() && cs.UpdatedAt.Before(before) {
			cp := *cs
			stuck = append(stuck, &cp)
		}
	}
	sort.Slice(stuck, func(i, j int) bool { return stuck[i].UpdatedAt.Before(stuck[j].UpdatedAt) })
	return stuck, nil
}

// CommitOrder validates every decrement before touching anything, so a
// failure leaves the store unchanged.
func (s *MemoryStore) CommitOrder(ctx context.Context, c *domain.Commit) (*domain.Order, error) {
	unlock := s.lockCart(c.Order.UserID)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[c.SessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	if session.Status != domain.CheckoutStatusCommitting {
		return nil, domain.ErrSessionStateChanged
	}

	if missing := missingLines(s.carts[c.Order.UserID], c.CartLineIDs); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %v", domain.ErrCartChanged, missing)
	}

	// First pass: every counter must cover its decrement
	var violations []stock.Violation
	for _, d := range c.Decrements {
		counter, err := s.stockCounter(d)
		if err != nil {
			violations = append(violations, stock.DecrementViolation(d, 0))
			continue
		}
		if *counter < d.Quantity {
			violations = append(violations, stock.DecrementViolation(d, *counter))
		}
	}
	if len(violations) > 0 {
		return nil, &stock.ViolationsError{Violations: violations}
	}

	// Second pass: apply
	for _, d := range c.Decrements {
		counter, _ := s.stockCounter(d)
		*counter -= d.Quantity
	}

	now := time.Now()
	order := copyOrder(c.Order)
	s.nextOrderID++
	order.ID = s.nextOrderID
	order.CreatedAt, order.UpdatedAt = now, now
	for i := range order.Items {
		s.nextItemID++
		order.Items[i].ID = s.nextItemID
	}
	s.orders[order.ID] = order

	if cart, ok := s.carts[order.UserID]; ok {
		cart.Items = slices.DeleteFunc(cart.Items, func(item domain.LineItem) bool {
			return slices.Contains(c.CartLineIDs, item.ID)
		})
		cart.UpdatedAt = now
	}

	completed := *session
	completed.Status = domain.CheckoutStatusCompleted
	orderID := order.ID
	completed.OrderID = &orderID
	completed.ChargeID = order.ChargeID
	if err := s.transitionLocked(&completed, domain.CheckoutStatusCommitting); err != nil {
		return nil, err
	}

	event := c.Event
	event.CreatedAt = now
	s.appendEventLocked(&event)

	return copyOrder(order), nil
}

// missingLines lists the ids in lineIDs that cart no longer holds.
func missingLines(cart *domain.Cart, lineIDs []int64) []int64 {
	var missing []int64
	for _, id := range lineIDs {
		if cart == nil || cart.Line(id) == nil {
			missing = append(missing, id)
		}
	}
	return missing
}

func (s *MemoryStore) GetOrder(_ context.Context, id int64) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return copyOrder(o), nil
}

func (s *MemoryStore) ListOrders(_ context.Context, userID string) ([]*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var orders []*domain.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			orders = append(orders, copyOrder(o))
		}
	}
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID > orders[j].ID })
	return orders, nil
}

func (s *MemoryStore) GetUnprocessedEvents(_ context.Context, limit int) ([]*domain.OutboxEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var events []*domain.OutboxEvent
	for _, e := range s.outbox {
		if e.ProcessedAt != nil {
			continue
		}
		cp := *e
		events = append(events, &cp)
		if len(events) == limit {
			break
		}
	}
	return events, nil
}

func (s *MemoryStore) MarkEventAsProcessed(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.outbox {
		if e.ID == id {
			now := time.Now()
			e.ProcessedAt = &now
			return nil
		}
	}
	return domain.ErrEventNotFound
}

func (s *MemoryStore) AddEvent(_ context.Context, e *domain.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e.CreatedAt = time.Now()
	s.appendEventLocked(e)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) appendEventLocked(e *domain.OutboxEvent) {
	s.nextEventID++
	e.ID = s.nextEventID
	cp := *e
	s.outbox = append(s.outbox, &cp)
}

func (s *MemoryStore) lockCart(userID string) func() {
	s.locksMu.Lock()
	l, ok := s.cartLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.cartLocks[userID] = l
	}
	s.locksMu.Unlock()
	l.Lock()
	return l.Unlock
}

// stockCounter points at the counter a decrement draws from. Callers hold mu.
func (s *MemoryStore) stockCounter(d domain.StockDecrement) (*int, error) {
	p, ok := s.products[d.ProductID]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	if d.SizeID == nil {
		return &p.Stock, nil
	}
	size, ok := domain.FindSize(p, *d.SizeID)
	if !ok {
		return nil, domain.ErrSizeNotFound
	}
	return &size.Stock, nil
}

func copyProduct(p *domain.Product) *domain.Product {
	cp := *p
	cp.Sizes = slices.Clone(p.Sizes)
	return &cp
}

func copyCart(c *domain.Cart) *domain.Cart {
	cp := *c
	cp.Items = slices.Clone(c.Items)
	return &cp
}

func copyOrder(o *domain.Order) *domain.Order {
	cp := *o
	cp.Items = slices.Clone(o.Items)
	return &cp
}
