package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/fjod/storefront/internal/cart"
	"github.com/fjod/storefront/internal/checkout"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/stock"
)

type ErrorResponse struct {
	Success    bool              `json:"success"`
	Error      string            `json:"error"`
	Code       string            `json:"code,omitempty"`
	Violations []stock.Violation `json:"violations,omitempty"`
	CheckoutID string            `json:"checkout_id,omitempty"`
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// handleServiceError converts a cart, checkout or store error into a JSON
// error response. Unexpected errors are logged and hidden from the client.
func handleServiceError(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	status, resp := mapError(err)
	if status >= http.StatusInternalServerError {
		log.ErrorContext(r.Context(), "request failed",
			"error", err,
			"code", resp.Code,
			"request_id", getRequestID(r.Context()))
	}
	respondJSON(w, status, resp)
}

// mapError picks the status code and body for err. A late stock violation
// from an uncharged commit is reported like a validation failure so the
// shopper can fix the cart and retry.
func mapError(err error) (int, ErrorResponse) {
	var (
		commitErr   *checkout.CommitError
		paymentErr  *checkout.PaymentError
		violations  *stock.ViolationsError
		previousErr *checkout.PreviousFailureError
	)
	switch {
	case errors.As(err, &commitErr) && commitErr.Escalated:
		return http.StatusInternalServerError, ErrorResponse{
			Error:      "payment was received but the order could not be saved, support has been notified",
			Code:       "commit_failed",
			CheckoutID: commitErr.CheckoutID,
		}
	case errors.As(err, &violations):
		resp := ErrorResponse{
			Error:      "some items in your cart are no longer available in the requested quantity",
			Code:       "validation_failed",
			Violations: violations.Violations,
		}
		if errors.As(err, &commitErr) {
			resp.CheckoutID = commitErr.CheckoutID
		}
		return http.StatusConflict, resp
	case errors.As(err, &commitErr):
		return http.StatusInternalServerError, ErrorResponse{Error: "order could not be saved", Code: "commit_failed", CheckoutID: commitErr.CheckoutID}
	case errors.As(err, &paymentErr):
		if paymentErr.Declined {
			return http.StatusPaymentRequired, ErrorResponse{Error: paymentErr.Error(), Code: "payment_declined", CheckoutID: paymentErr.CheckoutID}
		}
		return http.StatusBadGateway, ErrorResponse{Error: "payment provider unavailable, please try again", Code: "payment_error", CheckoutID: paymentErr.CheckoutID}
	case errors.As(err, &previousErr):
		return http.StatusUnprocessableEntity, ErrorResponse{Error: previousErr.Error(), Code: "checkout_failed", CheckoutID: previousErr.CheckoutID}
	case errors.Is(err, checkout.ErrCheckoutInProgress):
		return http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "checkout_in_progress"}
	case errors.Is(err, cart.ErrQuantityExceedsStock):
		return http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "quantity_exceeds_stock"}
	case errors.Is(err, cart.ErrCartHoldsAllStock):
		return http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "stock_limit_reached"}
	case errors.Is(err, stock.ErrOutOfStock):
		return http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "out_of_stock"}
	case errors.Is(err, cart.ErrInvalidQuantity):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "invalid_quantity"}
	case errors.Is(err, stock.ErrSizeRequired):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "size_required"}
	case errors.Is(err, domain.ErrSizeNotFound):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "size_not_found"}
	case errors.Is(err, checkout.ErrCartEmpty):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "cart_empty"}
	case errors.Is(err, checkout.ErrInvalidRequest):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "invalid_request"}
	case errors.Is(err, domain.ErrProductNotFound),
		errors.Is(err, domain.ErrLineNotFound),
		errors.Is(err, domain.ErrOrderNotFound):
		return http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "not_found"}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrorResponse{Error: "request timed out", Code: "timeout"}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal server error", Code: "internal_error"}
	}
}
