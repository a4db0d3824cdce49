// Package checkout turns a user's cart into an order: it re-validates stock,
// charges the card and commits the order, journaling every attempt as a
// checkout session.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/metrics"
	"github.com/fjod/storefront/internal/payment"
	"github.com/fjod/storefront/internal/reconcile"
	"github.com/fjod/storefront/internal/stock"
	"github.com/google/uuid"
)

type Repository interface {
	GetProducts(ctx context.Context, ids []int64) (map[int64]*domain.Product, error)
	GetCart(ctx context.Context, userID string) (*domain.Cart, error)
	CreateSession(ctx context.Context, s *domain.CheckoutSession) error
	GetSessionByIdempotencyKey(ctx context.Context, userID, key string) (*domain.CheckoutSession, error)
	TransitionSession(ctx context.Context, s *domain.CheckoutSession, from domain.CheckoutStatus) error
	GetStuckSessions(ctx context.Context, before time.Time) ([]*domain.CheckoutSession, error)
	CommitOrder(ctx context.Context, c *domain.Commit) (*domain.Order, error)
	GetOrder(ctx context.Context, id int64) (*domain.Order, error)
	AddEvent(ctx context.Context, e *domain.OutboxEvent) error
}

// CartInvalidator drops cached copies of a cart after checkout emptied it.
type CartInvalidator interface {
	Invalidate(userID string)
}

// Outcome labels for the checkout counter.
const (
	OutcomeCompleted        = "completed"
	OutcomeReplayed         = "replayed"
	OutcomeInProgress       = "in_progress"
	OutcomeCartEmpty        = "cart_empty"
	OutcomeValidationFailed = "validation_failed"
	OutcomePaymentDeclined  = "payment_declined"
	OutcomePaymentError     = "payment_error"
	OutcomeCommitFailed     = "commit_failed"
	OutcomeInvalid          = "invalid_request"
	OutcomeError            = "error"
)

type Config struct {
	Currency string
}

type CheckoutService struct {
	repo     Repository
	payments payment.Gateway
	journal  reconcile.Journal
	carts    CartInvalidator
	metrics  *metrics.Metrics
	log      *slog.Logger
	cfg      Config
	now      func() time.Time
}

func NewCheckoutService(
	repo Repository,
	payments payment.Gateway,
	journal reconcile.Journal,
	carts CartInvalidator,
	m *metrics.Metrics,
	log *slog.Logger,
	cfg Config) *CheckoutService {
	if cfg.Currency == "" {
		cfg.Currency = "usd"
	}
	return &CheckoutService{
		repo:     repo,
		payments: payments,
		journal:  journal,
		carts:    carts,
		metrics:  m,
		log:      log,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Checkout runs one checkout attempt for req.UserID. A replayed idempotency
// key returns the result of the first attempt instead of starting a new one.
func (s *CheckoutService) Checkout(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutResult, error) {
	res, outcome, err := s.checkout(ctx, req)
	s.metrics.CheckoutOutcome(outcome)
	return res, err
}

func (s *CheckoutService) checkout(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutResult, string, error) {
	if err := validateRequest(&req); err != nil {
		return nil, OutcomeInvalid, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.repo.GetSessionByIdempotencyKey(ctx, req.UserID, req.IdempotencyKey)
		if err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
			return nil, OutcomeError, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if existing != nil {
			s.log.InfoContext(ctx, "duplicate checkout request",
				"idempotency_key", req.IdempotencyKey,
				"checkout_id", existing.ID,
				"status", existing.Status.String())
			res, err := s.replay(ctx, existing)
			return res, OutcomeReplayed, err
		}
	}

	// The cart is read from the store, never from the cache.
	cart, err := s.repo.GetCart(ctx, req.UserID)
	if err != nil && !errors.Is(err, domain.ErrCartNotFound) {
		return nil, OutcomeError, fmt.Errorf("failed to get cart: %w", err)
	}
	if cart == nil || cart.IsEmpty() {
		return nil, OutcomeCartEmpty, ErrCartEmpty
	}

	session := &domain.CheckoutSession{
		ID:             uuid.NewString(),
		UserID:         req.UserID,
		IdempotencyKey: req.IdempotencyKey,
		Status:         domain.CheckoutStatusValidating,
		PaymentMethod:  req.Payment.Method(),
		Currency:       s.cfg.Currency,
	}
	if err := s.repo.CreateSession(ctx, session); err != nil {
		if errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
			return nil, OutcomeReplayed, ErrCheckoutInProgress
		}
		if errors.Is(err, domain.ErrCheckoutActive) {
			// Checkouts of one cart run one at a time.
			return nil, OutcomeInProgress, fmt.Errorf("%w: %w", ErrCheckoutInProgress, err)
		}
		return nil, OutcomeError, fmt.Errorf("failed to create checkout session: %w", err)
	}
	log := s.log.With("checkout_id", session.ID, "user_id", req.UserID)

	snap, err := s.snapshot(ctx, cart)
	if err != nil {
		var verr *stock.ViolationsError
		if errors.As(err, &verr) {
			s.fail(ctx, log, session, err.Error())
			log.InfoContext(ctx, "checkout rejected by stock validation", "violations", len(verr.Violations))
			return nil, OutcomeValidationFailed, err
		}
		s.fail(ctx, log, session, "validation error")
		return nil, OutcomeError, err
	}

	session.TotalAmount = snap.Totals.GrandTotal
	if err := s.transition(ctx, session, domain.CheckoutStatusAwaitingPayment); err != nil {
		return nil, OutcomeError, err
	}

	orderNumber := newOrderNumber(s.now())
	paymentStatus, err := s.pay(ctx, session, req.Payment, orderNumber)
	if err != nil {
		s.fail(ctx, log, session, err.Error())
		var perr *PaymentError
		if errors.As(err, &perr) && perr.Declined {
			log.InfoContext(ctx, "payment declined", "error", err)
			return nil, OutcomePaymentDeclined, err
		}
		if payment.OutcomeUnknown(err) {
			s.escalate(ctx, log, session, "payment outcome unknown: "+err.Error())
		} else {
			log.WarnContext(ctx, "payment failed", "error", err)
		}
		return nil, OutcomePaymentError, err
	}

	if err := s.transition(ctx, session, domain.CheckoutStatusCommitting); err != nil {
		return nil, OutcomeCommitFailed, s.commitFailed(ctx, log, session, domain.CheckoutStatusAwaitingPayment, err)
	}

	order, err := s.repo.CommitOrder(ctx, s.buildCommit(session, &req, snap, orderNumber, paymentStatus))
	if err != nil {
		var verr *stock.ViolationsError
		if errors.As(err, &verr) && session.ChargeID == "" {
			// Nothing was charged, so this is an ordinary stock failure.
			s.fail(ctx, log, session, err.Error())
			return nil, OutcomeValidationFailed, err
		}
		return nil, OutcomeCommitFailed, s.commitFailed(ctx, log, session, domain.CheckoutStatusCommitting, err)
	}

	s.carts.Invalidate(req.UserID)
	log.InfoContext(ctx, "checkout completed",
		"order_id", order.ID,
		"order_number", order.OrderNumber,
		"total", order.TotalAmount.StringFixed(2),
		"payment_status", string(order.PaymentStatus))

	return &domain.CheckoutResult{
		CheckoutID:    session.ID,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		PaymentStatus: order.PaymentStatus,
		TotalAmount:   order.TotalAmount,
	}, OutcomeCompleted, nil
}

// replay answers a repeated idempotency key from the journaled session.
func (s *CheckoutService) replay(ctx context.Context, session *domain.CheckoutSession) (*domain.CheckoutResult, error) {
	switch session.Status {
	case domain.CheckoutStatusCompleted:
		if session.OrderID == nil {
			return nil, fmt.Errorf("completed checkout %s has no order", session.ID)
		}
		order, err := s.repo.GetOrder(ctx, *session.OrderID)
		if err != nil {
			return nil, fmt.Errorf("failed to load order for checkout %s: %w", session.ID, err)
		}
		return &domain.CheckoutResult{
			CheckoutID:    session.ID,
			OrderID:       order.ID,
			OrderNumber:   order.OrderNumber,
			PaymentStatus: order.PaymentStatus,
			TotalAmount:   order.TotalAmount,
		}, nil
	case domain.CheckoutStatusFailed:
		return nil, &PreviousFailureError{CheckoutID: session.ID, Reason: session.FailureReason}
	default:
		return nil, ErrCheckoutInProgress
	}
}

// transition moves session to next, checking the state machine and that no
// one else moved it in the meantime.
func (s *CheckoutService) transition(ctx context.Context, session *domain.CheckoutSession, next domain.CheckoutStatus) error {
	from := session.Status
	if !domain.CanTransitionTo(from, next) {
		return fmt.Errorf("%w: %s to %s", ErrIllegalTransition, from, next)
	}
	session.Status = next
	if err := s.repo.TransitionSession(ctx, session, from); err != nil {
		session.Status = from
		return fmt.Errorf("failed to move checkout %s to %s: %w", session.ID, next, err)
	}
	return nil
}

// fail records the failure reason on the session. It runs even when ctx is
// already cancelled.
func (s *CheckoutService) fail(ctx context.Context, log *slog.Logger, session *domain.CheckoutSession, reason string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	session.FailureReason = reason
	if err := s.transition(ctx, session, domain.CheckoutStatusFailed); err != nil {
		log.ErrorContext(ctx, "failed to mark checkout as failed", "error", err, "reason", reason)
	}
}

func validateRequest(req *domain.CheckoutRequest) error {
	if req.UserID == "" {
		return fmt.Errorf("%w: user is required", ErrInvalidRequest)
	}
	switch p := req.Payment.(type) {
	case domain.CardPayment:
		if strings.TrimSpace(p.Token) == "" {
			return fmt.Errorf("%w: payment token is required for card payments", ErrInvalidRequest)
		}
	case domain.CashOnDelivery:
	default:
		return fmt.Errorf("%w: unknown payment method", ErrInvalidRequest)
	}

	a := &req.Shipping
	if a.Email == "" {
		a.Email = req.Email
	}
	var missing []string
	for _, f := range []struct{ name, value string }{
		{"first_name", a.FirstName},
		{"last_name", a.LastName},
		{"email", a.Email},
		{"address", a.Address},
		{"city", a.City},
		{"state", a.State},
		{"zip_code", a.ZipCode},
	} {
		if strings.TrimSpace(f.value) == "" {
			missing = append(missing, f.name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: shipping address is missing %s", ErrInvalidRequest, strings.Join(missing, ", "))
	}
	return nil
}

// newOrderNumber is the commit timestamp followed by a random suffix, 20
// characters in total.
func newOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return now.UTC().Format("20060102150405") + suffix
}
