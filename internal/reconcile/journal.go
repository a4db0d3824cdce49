// Package reconcile records checkouts that need a human: a card was charged
// but no order could be written for it.
package reconcile

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

var ErrEscalationNotFound = errors.New("escalation not found")

type Escalation struct {
	CheckoutID  string    `bson:"checkout_id" json:"checkout_id"`
	UserID      string    `bson:"user_id" json:"user_id"`
	ChargeID    string    `bson:"charge_id" json:"charge_id"`
	AmountMinor int64     `bson:"amount_minor" json:"amount_minor"`
	Currency    string    `bson:"currency" json:"currency"`
	Reason      string    `bson:"reason" json:"reason"`
	Status      Status    `bson:"status" json:"status"`
	Note        string    `bson:"note,omitempty" json:"note,omitempty"`
	CreatedAt   time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time `bson:"updated_at" json:"updated_at"`
}

// Journal stores escalations. Recording the same checkout twice keeps a
// single entry with the latest reason.
type Journal interface {
	Record(ctx context.Context, e Escalation) error
	ListOpen(ctx context.Context) ([]Escalation, error)
	Resolve(ctx context.Context, checkoutID, note string) error
}

// MemoryJournal is used when MongoDB is not configured.
type MemoryJournal struct {
	mu      sync.Mutex
	entries map[string]Escalation
}

func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{entries: make(map[string]Escalation)}
}

func (j *MemoryJournal) Record(_ context.Context, e Escalation) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	now := time.Now()
	if existing, ok := j.entries[e.CheckoutID]; ok {
		e.CreatedAt = existing.CreatedAt
	} else {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	e.Status = StatusOpen
	j.entries[e.CheckoutID] = e
	return nil
}

func (j *MemoryJournal) Backfill(_ context.Context, e Escalation) (bool, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.entries[e.CheckoutID]; ok {
		return false, nil
	}
	now := time.Now()
	e.CreatedAt, e.UpdatedAt = now, now
	e.Status = StatusOpen
	j.entries[e.CheckoutID] = e
	return true, nil
}

func (j *MemoryJournal) ListOpen(_ context.Context) ([]Escalation, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var open []Escalation
	for _, e := range j.entries {
		if e.Status == StatusOpen {
			open = append(open, e)
		}
	}
	sort.Slice(open, func(a, b int) bool {
		if open[a].CreatedAt.Equal(open[b].CreatedAt) {
			return open[a].CheckoutID < open[b].CheckoutID
		}
		return open[a].CreatedAt.Before(open[b].CreatedAt)
	})
	return open, nil
}

func (j *MemoryJournal) Resolve(_ context.Context, checkoutID, note string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, ok := j.entries[checkoutID]
	if !ok {
		return ErrEscalationNotFound
	}
	e.Status = StatusResolved
	e.Note = note
	e.UpdatedAt = time.Now()
	j.entries[checkoutID] = e
	return nil
}
