package checkout

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/pricing"
	"github.com/fjod/storefront/internal/reconcile"
)

type orderItemPayload struct {
	ProductID int64  `json:"product_id"`
	Size      string `json:"size,omitempty"`
	Price     string `json:"price"`
	Quantity  int    `json:"quantity"`
}

type orderCreatedPayload struct {
	CheckoutID    string             `json:"checkout_id"`
	OrderNumber   string             `json:"order_number"`
	UserID        string             `json:"user_id"`
	PaymentMethod string             `json:"payment_method"`
	PaymentStatus string             `json:"payment_status"`
	TotalAmount   string             `json:"total_amount"`
	Currency      string             `json:"currency"`
	Items         []orderItemPayload `json:"items"`
	CreatedAt     time.Time          `json:"created_at"`
}

type escalatedPayload struct {
	CheckoutID  string `json:"checkout_id"`
	UserID      string `json:"user_id"`
	ChargeID    string `json:"charge_id,omitempty"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
	Reason      string `json:"reason"`
}

// buildCommit freezes the snapshot into the order and everything the commit
// changes alongside it.
func (s *CheckoutService) buildCommit(
	session *domain.CheckoutSession,
	req *domain.CheckoutRequest,
	snap *snapshot,
	orderNumber string,
	paymentStatus domain.PaymentStatus) *domain.Commit {

	order := &domain.Order{
		OrderNumber:   orderNumber,
		UserID:        req.UserID,
		Email:         req.Shipping.Email,
		Status:        domain.OrderStatusPending,
		PaymentMethod: req.Payment.Method(),
		PaymentStatus: paymentStatus,
		ChargeID:      session.ChargeID,
		Subtotal:      snap.Totals.Subtotal,
		ShippingCost:  snap.Totals.Shipping,
		TaxAmount:     snap.Totals.Tax,
		TotalAmount:   snap.Totals.GrandTotal,
		Shipping:      req.Shipping,
	}

	commit := &domain.Commit{SessionID: session.ID, Order: order}
	items := make([]orderItemPayload, 0, len(snap.Lines))
	for _, l := range snap.Lines {
		productID := l.Product.ID
		item := domain.OrderItem{
			ProductID: &productID,
			Price:     pricing.UnitPrice(l.Product, l.Size),
			Quantity:  l.Quantity,
		}
		dec := domain.StockDecrement{
			LineID:      l.LineID,
			ProductID:   productID,
			ProductName: l.Product.Name,
			Quantity:    l.Quantity,
		}
		if l.Size != nil {
			sizeID := l.Size.ID
			item.Size = l.Size.Label
			dec.SizeID = &sizeID
			dec.SizeLabel = l.Size.Label
		}
		order.Items = append(order.Items, item)
		commit.Decrements = append(commit.Decrements, dec)
		commit.CartLineIDs = append(commit.CartLineIDs, l.LineID)
		items = append(items, orderItemPayload{
			ProductID: productID,
			Size:      item.Size,
			Price:     item.Price.StringFixed(2),
			Quantity:  item.Quantity,
		})
	}

	payload, _ := json.Marshal(orderCreatedPayload{
		CheckoutID:    session.ID,
		OrderNumber:   orderNumber,
		UserID:        req.UserID,
		PaymentMethod: string(order.PaymentMethod),
		PaymentStatus: string(paymentStatus),
		TotalAmount:   order.TotalAmount.StringFixed(2),
		Currency:      session.Currency,
		Items:         items,
		CreatedAt:     s.now().UTC(),
	})
	commit.Event = domain.OutboxEvent{
		AggregateID: orderNumber,
		EventType:   domain.EventOrderCreated,
		Payload:     payload,
	}
	return commit
}

// commitFailed handles a failure after payment. A charged card is never
// dropped silently: the checkout is escalated before the session is failed.
func (s *CheckoutService) commitFailed(ctx context.Context, log *slog.Logger, session *domain.CheckoutSession, from domain.CheckoutStatus, cause error) error {
	session.Status = from
	reason := "commit failed: " + cause.Error()

	cerr := &CommitError{CheckoutID: session.ID, ChargeID: session.ChargeID, Err: cause}
	if session.ChargeID != "" {
		s.escalate(ctx, log, session, reason)
		cerr.Escalated = true
	} else {
		log.ErrorContext(ctx, "checkout commit failed", "error", cause)
	}

	s.fail(ctx, log, session, reason)
	return cerr
}

// escalate records the checkout for manual reconciliation. The error log is
// the record of last resort when the journal cannot be written.
func (s *CheckoutService) escalate(ctx context.Context, log *slog.Logger, session *domain.CheckoutSession, reason string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	e := reconcile.Escalation{
		CheckoutID:  session.ID,
		UserID:      session.UserID,
		ChargeID:    session.ChargeID,
		AmountMinor: pricing.MinorUnits(session.TotalAmount),
		Currency:    session.Currency,
		Reason:      reason,
	}
	journalErr := s.journal.Record(ctx, e)

	log.ErrorContext(ctx, "checkout escalated for manual reconciliation",
		"charge_id", e.ChargeID,
		"amount_minor", e.AmountMinor,
		"currency", e.Currency,
		"reason", reason,
		"journal_error", journalErr)

	payload, _ := json.Marshal(escalatedPayload{
		CheckoutID:  e.CheckoutID,
		UserID:      e.UserID,
		ChargeID:    e.ChargeID,
		AmountMinor: e.AmountMinor,
		Currency:    e.Currency,
		Reason:      reason,
	})
	event := &domain.OutboxEvent{AggregateID: session.ID, EventType: domain.EventCheckoutEscalated, Payload: payload}
	if err := s.repo.AddEvent(ctx, event); err != nil {
		log.WarnContext(ctx, "failed to queue escalation event", "error", err)
	}
}

// RecoverStuckSessions fails sessions that have not moved since before
// olderThan ago, which means the process handling them died. Card checkouts
// that reached payment are escalated since they may have been charged.
func (s *CheckoutService) RecoverStuckSessions(ctx context.Context, olderThan time.Duration) (int, error) {
	sessions, err := s.repo.GetStuckSessions(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, session := range sessions {
		log := s.log.With("checkout_id", session.ID, "user_id", session.UserID)
		from := session.Status
		reason := "abandoned in " + from.String()

		charged := session.PaymentMethod == domain.PaymentMethodCard &&
			(from == domain.CheckoutStatusAwaitingPayment || from == domain.CheckoutStatusCommitting)

		session.Status = domain.CheckoutStatusFailed
		session.FailureReason = reason
		if err := s.repo.TransitionSession(ctx, session, from); err != nil {
			// Finished or recovered by someone else in the meantime.
			log.InfoContext(ctx, "stuck checkout moved on before recovery", "error", err)
			continue
		}
		if charged {
			s.escalate(ctx, log, session, reason)
		}
		log.WarnContext(ctx, "recovered stuck checkout", "from", from.String(), "escalated", charged)
		recovered++
	}
	return recovered, nil
}
