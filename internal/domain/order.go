package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "pending"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusFailed   PaymentStatus = "failed"
	PaymentStatusRefunded PaymentStatus = "refunded"
)

type PaymentMethod string

const (
	PaymentMethodCard PaymentMethod = "card"
	PaymentMethodCash PaymentMethod = "cash"
)

// Order is written once at checkout. Only Status and PaymentStatus change afterwards.
type Order struct {
	ID            int64
	OrderNumber   string
	UserID        string
	Email         string
	Status        OrderStatus
	PaymentMethod PaymentMethod
	PaymentStatus PaymentStatus
	ChargeID      string
	Subtotal      decimal.Decimal
	ShippingCost  decimal.Decimal
	TaxAmount     decimal.Decimal
	TotalAmount   decimal.Decimal
	Items         []OrderItem
	Shipping      ShippingAddress
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// OrderItem freezes the effective unit price and the size label at order time.
// ProductID becomes nil when the product is deleted from the catalog.
type OrderItem struct {
	ID        int64
	ProductID *int64
	Size      string
	Price     decimal.Decimal
	Quantity  int
}

type ShippingAddress struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Address   string `json:"address"`
	City      string `json:"city"`
	State     string `json:"state"`
	ZipCode   string `json:"zip_code"`
	Phone     string `json:"phone"`
}

// ItemTotal is the frozen line total of an order item.
func ItemTotal(item OrderItem) decimal.Decimal {
	return item.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
}
