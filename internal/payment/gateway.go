// Package payment talks to the card payment processor. Amounts are always in
// minor currency units.
package payment

import (
	"context"
	"errors"
	"fmt"
)

type ChargeRequest struct {
	AmountMinor    int64
	Currency       string
	Token          string
	Description    string
	IdempotencyKey string
}

type ChargeResult struct {
	ChargeID string
}

type Gateway interface {
	Charge(ctx context.Context, req ChargeRequest) (*ChargeResult, error)
	// Name identifies the provider in logs and metrics.
	Name() string
}

// DeclineError means the processor answered and refused the charge.
type DeclineError struct {
	Code    string
	Message string
}

func (e *DeclineError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("payment declined: %s", e.Code)
	}
	return fmt.Sprintf("payment declined: %s", e.Message)
}

// TransportError means the charge did not get a clear answer: the processor
// was unreachable, timed out or failed internally. NotSent is true when the
// request never left this process, so the card was certainly not charged.
type TransportError struct {
	Err     error
	NotSent bool
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("payment processor unavailable: %v", e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// OutcomeUnknown reports whether err leaves open the possibility that the
// card was charged.
func OutcomeUnknown(err error) bool {
	var transport *TransportError
	return errors.As(err, &transport) && !transport.NotSent
}
