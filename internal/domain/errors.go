package domain

import "errors"

var (
	ErrProductNotFound         = errors.New("product not found")
	ErrSizeNotFound            = errors.New("size not found for product")
	ErrCartNotFound            = errors.New("cart not found")
	ErrLineNotFound            = errors.New("cart line not found")
	ErrOrderNotFound           = errors.New("order not found")
	ErrSessionNotFound         = errors.New("checkout session not found")
	ErrDuplicateIdempotencyKey = errors.New("checkout with this idempotency key already exists")
	ErrEventNotFound           = errors.New("outbox event not found")
	ErrSessionStateChanged     = errors.New("checkout session is no longer in the expected state")
	ErrCheckoutActive          = errors.New("another checkout of this cart is still running")
	ErrCartChanged             = errors.New("cart lines of the checkout are no longer in the cart")
)
