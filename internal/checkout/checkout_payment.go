package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/payment"
	"github.com/fjod/storefront/internal/pricing"
)

// pay charges the card for the session total. Cash on delivery skips the
// processor and leaves the payment pending. No lock is held while the
// processor is called.
func (s *CheckoutService) pay(ctx context.Context, session *domain.CheckoutSession, instruction domain.PaymentInstruction, orderNumber string) (domain.PaymentStatus, error) {
	card, ok := instruction.(domain.CardPayment)
	if !ok {
		return domain.PaymentStatusPending, nil
	}

	start := s.now()
	res, err := s.payments.Charge(ctx, payment.ChargeRequest{
		AmountMinor:    pricing.MinorUnits(session.TotalAmount),
		Currency:       session.Currency,
		Token:          card.Token,
		Description:    fmt.Sprintf("Order %s", orderNumber),
		IdempotencyKey: session.ID,
	})
	elapsed := s.now().Sub(start)

	if err != nil {
		var decline *payment.DeclineError
		if errors.As(err, &decline) {
			s.metrics.ObservePayment(s.payments.Name(), "declined", elapsed)
			return "", &PaymentError{CheckoutID: session.ID, Declined: true, Err: err}
		}
		s.metrics.ObservePayment(s.payments.Name(), "error", elapsed)
		return "", &PaymentError{CheckoutID: session.ID, Err: err}
	}

	s.metrics.ObservePayment(s.payments.Name(), "success", elapsed)
	session.ChargeID = res.ChargeID
	return domain.PaymentStatusPaid, nil
}
