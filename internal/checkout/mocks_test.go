package checkout

import (
	"context"
	"errors"
	"sync"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/payment"
	"github.com/fjod/storefront/internal/reconcile"
	"github.com/fjod/storefront/internal/store"
)

// MockGateway implements payment.Gateway for testing
type MockGateway struct {
	mu       sync.Mutex
	ChargeID string
	Err      error
	OnCharge func() // runs while the charge is "in flight"
	Calls    []payment.ChargeRequest
}

func (m *MockGateway) Name() string {
	return "mock"
}

func (m *MockGateway) Charge(_ context.Context, req payment.ChargeRequest) (*payment.ChargeResult, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, req)
	m.mu.Unlock()
	if m.OnCharge != nil {
		m.OnCharge()
	}
	if m.Err != nil {
		return nil, m.Err
	}
	return &payment.ChargeResult{ChargeID: m.ChargeID}, nil
}

// failingCommitStore breaks CommitOrder while everything else hits the store.
type failingCommitStore struct {
	*store.MemoryStore
	CommitErr error
}

func (f *failingCommitStore) CommitOrder(context.Context, *domain.Commit) (*domain.Order, error) {
	return nil, f.CommitErr
}

type failingJournal struct {
	reconcile.Journal
	Attempts int
}

func (f *failingJournal) Record(context.Context, reconcile.Escalation) error {
	f.Attempts++
	return errors.New("mongo unavailable")
}

type MockInvalidator struct {
	Users []string
}

func (m *MockInvalidator) Invalidate(userID string) {
	m.Users = append(m.Users, userID)
}
