package publisher

import (
	"context"
	"sync"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/segmentio/kafka-go"
)

type MockEventSource struct {
	mu          sync.Mutex
	Events      []*domain.OutboxEvent
	GetErr      error
	MarkErr     error
	ProcessedID []int64
}

func (m *MockEventSource) GetUnprocessedEvents(_ context.Context, limit int) ([]*domain.OutboxEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.GetErr != nil {
		return nil, m.GetErr
	}
	var pending []*domain.OutboxEvent
	for _, e := range m.Events {
		if e.ProcessedAt == nil {
			pending = append(pending, e)
		}
		if len(pending) == limit {
			break
		}
	}
	return pending, nil
}

func (m *MockEventSource) MarkEventAsProcessed(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MarkErr != nil {
		return m.MarkErr
	}
	for _, e := range m.Events {
		if e.ID == id {
			now := time.Now()
			e.ProcessedAt = &now
		}
	}
	m.ProcessedID = append(m.ProcessedID, id)
	return nil
}

// MockWriter records messages and fails the ones whose key is in FailKeys.
type MockWriter struct {
	mu       sync.Mutex
	Messages []kafka.Message
	FailKeys map[string]error
	Closed   bool
}

func (m *MockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		if err, ok := m.FailKeys[string(msg.Key)]; ok {
			return err
		}
		m.Messages = append(m.Messages, msg)
	}
	return nil
}

func (m *MockWriter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

type MockRecoverer struct {
	mu        sync.Mutex
	Calls     int
	OlderThan time.Duration
	Recovered int
	Err       error
}

func (m *MockRecoverer) RecoverStuckSessions(_ context.Context, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls++
	m.OlderThan = olderThan
	return m.Recovered, m.Err
}

func (m *MockRecoverer) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls
}
