package checkout

import (
	"errors"
	"fmt"
)

var (
	ErrCartEmpty          = errors.New("cart is empty, nothing to checkout")
	ErrInvalidRequest     = errors.New("invalid checkout request")
	ErrCheckoutInProgress = errors.New("a checkout for this cart is still in progress")
	ErrIllegalTransition  = errors.New("illegal transition of checkout status")
)

// PaymentError is a failed charge. Nothing was written for the checkout
// beyond its session.
type PaymentError struct {
	CheckoutID string
	Declined   bool
	Err        error
}

func (e *PaymentError) Error() string {
	return e.Err.Error()
}

func (e *PaymentError) Unwrap() error {
	return e.Err
}

// CommitError means the order could not be written. When ChargeID is set the
// card was charged and the checkout was escalated for manual reconciliation.
type CommitError struct {
	CheckoutID string
	ChargeID   string
	Escalated  bool
	Err        error
}

func (e *CommitError) Error() string {
	if e.Escalated {
		return fmt.Sprintf("order could not be saved after payment %s, escalated for reconciliation: %v", e.ChargeID, e.Err)
	}
	return fmt.Sprintf("order could not be saved: %v", e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// PreviousFailureError is returned when an idempotency key is replayed for a
// checkout that already failed.
type PreviousFailureError struct {
	CheckoutID string
	Reason     string
}

func (e *PreviousFailureError) Error() string {
	return fmt.Sprintf("checkout %s failed: %s", e.CheckoutID, e.Reason)
}
