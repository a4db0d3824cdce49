package domain

import "time"

const (
	EventOrderCreated      = "order.created"
	EventCheckoutEscalated = "checkout.escalated"
)

// StockDecrement takes Quantity units from the size stock when SizeID is set,
// from the product stock otherwise.
type StockDecrement struct {
	LineID      int64
	ProductID   int64
	SizeID      *int64
	ProductName string
	SizeLabel   string
	Quantity    int
}

// Commit is everything the Committing step writes as one unit.
type Commit struct {
	SessionID   string
	Order       *Order
	Decrements  []StockDecrement
	CartLineIDs []int64
	Event       OutboxEvent
}

type OutboxEvent struct {
	ID          int64
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
	ProcessedAt *time.Time
}
