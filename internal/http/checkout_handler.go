package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fjod/storefront/internal/domain"
)

const maxIdempotencyKeyLength = 255

type CheckoutService interface {
	Checkout(ctx context.Context, req domain.CheckoutRequest) (*domain.CheckoutResult, error)
}

type CheckoutHandler struct {
	checkout CheckoutService
	timeout  time.Duration
	log      *slog.Logger
}

func NewCheckoutHandler(checkout CheckoutService, timeout time.Duration, log *slog.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: checkout,
		timeout:  timeout,
		log:      log,
	}
}

type CheckoutRequestDTO struct {
	PaymentMethod   string                 `json:"payment_method"`
	PaymentToken    string                 `json:"payment_token,omitempty"`
	ShippingAddress domain.ShippingAddress `json:"shipping_address"`
}

type CheckoutResponseDTO struct {
	Success       bool   `json:"success"`
	OrderID       int64  `json:"order_id"`
	OrderNumber   string `json:"order_number"`
	CheckoutID    string `json:"checkout_id"`
	PaymentStatus string `json:"payment_status"`
	TotalAmount   string `json:"total_amount"`
}

// POST /checkout
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if len(idempotencyKey) > maxIdempotencyKeyLength {
		respondError(w, http.StatusBadRequest, "invalid_idempotency_key", "Idempotency-Key is too long")
		return
	}

	var req CheckoutRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	var payment domain.PaymentInstruction
	switch domain.PaymentMethod(strings.ToLower(req.PaymentMethod)) {
	case domain.PaymentMethodCard:
		if strings.TrimSpace(req.PaymentToken) == "" {
			respondError(w, http.StatusBadRequest, "missing_payment_token", "payment_token is required for card payments")
			return
		}
		payment = domain.CardPayment{Token: req.PaymentToken}
	case domain.PaymentMethodCash:
		payment = domain.CashOnDelivery{}
	default:
		respondError(w, http.StatusBadRequest, "invalid_payment_method", "payment_method must be card or cash")
		return
	}

	res, err := h.checkout.Checkout(ctx, domain.CheckoutRequest{
		UserID:         userID,
		Email:          getEmailFromContext(r.Context()),
		IdempotencyKey: idempotencyKey,
		Payment:        payment,
		Shipping:       req.ShippingAddress,
	})
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	respondJSON(w, http.StatusCreated, CheckoutResponseDTO{
		Success:       true,
		OrderID:       res.OrderID,
		OrderNumber:   res.OrderNumber,
		CheckoutID:    res.CheckoutID,
		PaymentStatus: string(res.PaymentStatus),
		TotalAmount:   res.TotalAmount.StringFixed(2),
	})
}
