package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentInstruction is the payment part of a checkout request. It is either
// CardPayment or CashOnDelivery.
type PaymentInstruction interface {
	Method() PaymentMethod
}

type CardPayment struct {
	Token string
}

func (CardPayment) Method() PaymentMethod { return PaymentMethodCard }

type CashOnDelivery struct{}

func (CashOnDelivery) Method() PaymentMethod { return PaymentMethodCash }

type CheckoutRequest struct {
	UserID         string
	Email          string
	IdempotencyKey string
	Payment        PaymentInstruction
	Shipping       ShippingAddress
}

type CheckoutResult struct {
	CheckoutID    string
	OrderID       int64
	OrderNumber   string
	PaymentStatus PaymentStatus
	TotalAmount   decimal.Decimal
}

// CheckoutSession journals one checkout attempt.
type CheckoutSession struct {
	ID             string
	UserID         string
	IdempotencyKey string
	Status         CheckoutStatus
	PaymentMethod  PaymentMethod
	TotalAmount    decimal.Decimal
	Currency       string
	ChargeID       string
	OrderID        *int64
	FailureReason  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
