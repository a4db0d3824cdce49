package http

import (
	"context"
	"sync"

	"github.com/fjod/storefront/internal/cart"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/payment"
)

type MockCartService struct {
	view      *cart.View
	addResult *cart.AddResult
	update    *cart.UpdateResult
	err       error

	// captured arguments of the last mutation
	userID   string
	lineID   int64
	quantity int
	sizeID   *int64
}

func (m *MockCartService) View(ctx context.Context, userID string) (*cart.View, error) {
	if m.err != nil {
		return nil, m.err
	}
	if m.view == nil {
		return &cart.View{}, nil
	}
	return m.view, nil
}

func (m *MockCartService) AddItem(ctx context.Context, userID string, productID int64, sizeID *int64, quantity int) (*cart.AddResult, error) {
	m.userID, m.quantity, m.sizeID = userID, quantity, sizeID
	if m.err != nil {
		return nil, m.err
	}
	return m.addResult, nil
}

func (m *MockCartService) UpdateItem(ctx context.Context, userID string, lineID int64, quantity int) (*cart.UpdateResult, error) {
	m.userID, m.lineID, m.quantity = userID, lineID, quantity
	if m.err != nil {
		return nil, m.err
	}
	return m.update, nil
}

func (m *MockCartService) RemoveItem(ctx context.Context, userID string, lineID int64) error {
	m.userID, m.lineID = userID, lineID
	return m.err
}

type MockCheckoutService struct {
	result *domain.CheckoutResult
	err    error
	req    domain.CheckoutRequest
	called bool
}

func (m *MockCheckoutService) Checkout(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutResult, error) {
	m.called = true
	m.req = req
	if m.err != nil {
		return nil, m.err
	}
	return m.result, nil
}

type MockOrderReader struct {
	orders []*domain.Order
	err    error
}

func (m *MockOrderReader) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	if m.err != nil {
		return nil, m.err
	}
	for _, o := range m.orders {
		if o.ID == id {
			return o, nil
		}
	}
	return nil, domain.ErrOrderNotFound
}

func (m *MockOrderReader) ListOrders(ctx context.Context, userID string) ([]*domain.Order, error) {
	if m.err != nil {
		return nil, m.err
	}
	var out []*domain.Order
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, nil
}

// MockGateway approves every charge except those with the tok_chargeDeclined token.
type MockGateway struct {
	mu      sync.Mutex
	charges []payment.ChargeRequest
}

func (g *MockGateway) Charge(ctx context.Context, req payment.ChargeRequest) (*payment.ChargeResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.charges = append(g.charges, req)
	if req.Token == "tok_chargeDeclined" {
		return nil, &payment.DeclineError{Code: "card_declined", Message: "Your card was declined."}
	}
	return &payment.ChargeResult{ChargeID: "ch_test"}, nil
}

func (g *MockGateway) Name() string { return "mock" }
