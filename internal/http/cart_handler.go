package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/storefront/internal/cart"
	"github.com/fjod/storefront/internal/pricing"
	"github.com/go-chi/chi/v5"
)

type CartService interface {
	View(ctx context.Context, userID string) (*cart.View, error)
	AddItem(ctx context.Context, userID string, productID int64, sizeID *int64, quantity int) (*cart.AddResult, error)
	UpdateItem(ctx context.Context, userID string, lineID int64, quantity int) (*cart.UpdateResult, error)
	RemoveItem(ctx context.Context, userID string, lineID int64) error
}

type CartHandler struct {
	carts   CartService
	timeout time.Duration
	log     *slog.Logger
}

func NewCartHandler(carts CartService, timeout time.Duration, log *slog.Logger) *CartHandler {
	return &CartHandler{
		carts:   carts,
		timeout: timeout,
		log:     log,
	}
}

type AddItemRequestDTO struct {
	ProductID int64  `json:"product_id"`
	SizeID    *int64 `json:"size_id,omitempty"`
	Quantity  int    `json:"quantity"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity"`
}

type CartLineDTO struct {
	ID          int64  `json:"id"`
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	SizeID      *int64 `json:"size_id,omitempty"`
	Size        string `json:"size,omitempty"`
	UnitPrice   string `json:"unit_price"`
	Quantity    int    `json:"quantity"`
	LineTotal   string `json:"line_total"`
	InStock     bool   `json:"in_stock"`
}

type TotalsDTO struct {
	Subtotal   string `json:"subtotal"`
	Shipping   string `json:"shipping"`
	Tax        string `json:"tax"`
	GrandTotal string `json:"total"`
}

type CartResponseDTO struct {
	Items      []CartLineDTO `json:"items"`
	Totals     TotalsDTO     `json:"totals"`
	TotalItems int           `json:"total_items"`
}

type AddItemResponseDTO struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Warning   string `json:"warning,omitempty"`
	LineID    int64  `json:"line_id"`
	Requested int    `json:"requested"`
	Added     int    `json:"added"`
	CartCount int    `json:"cart_count"`
}

type UpdateItemResponseDTO struct {
	Success    bool        `json:"success"`
	Item       CartLineDTO `json:"item"`
	Totals     TotalsDTO   `json:"totals"`
	TotalItems int         `json:"total_items"`
}

// GET /cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	view, err := h.carts.View(ctx, userID)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	respondJSON(w, http.StatusOK, convertView(view))
}

// POST /cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	var req AddItemRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	if req.ProductID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be positive")
		return
	}
	if req.SizeID != nil && *req.SizeID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_size_id", "size_id must be positive")
		return
	}
	if !validQuantity(req.Quantity) {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
		return
	}

	res, err := h.carts.AddItem(ctx, userID, req.ProductID, req.SizeID, req.Quantity)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	resp := AddItemResponseDTO{
		Success:   true,
		Message:   "Product added to cart",
		Warning:   res.Warning(),
		LineID:    res.Line.ID,
		Requested: res.Requested,
		Added:     res.Added,
	}
	if view, err := h.carts.View(ctx, userID); err == nil {
		resp.CartCount = len(view.Lines)
	} else {
		h.log.WarnContext(ctx, "failed to count cart lines after add", "error", err, "user_id", userID)
	}

	respondJSON(w, http.StatusCreated, resp)
}

// PATCH /cart/items/{id}
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	lineID, ok := lineIDParam(w, r)
	if !ok {
		return
	}

	var req UpdateQuantityRequestDTO
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if !validQuantity(req.Quantity) {
		respondError(w, http.StatusBadRequest, "invalid_quantity", "quantity must be between 1 and 99")
		return
	}

	res, err := h.carts.UpdateItem(ctx, userID, lineID, req.Quantity)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	respondJSON(w, http.StatusOK, UpdateItemResponseDTO{
		Success:    true,
		Item:       convertLine(res.Line),
		Totals:     convertTotals(res.Totals),
		TotalItems: res.ItemCount,
	})
}

// DELETE /cart/items/{id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	userID := getUserIDFromContext(r.Context())
	if userID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	lineID, ok := lineIDParam(w, r)
	if !ok {
		return
	}

	if err := h.carts.RemoveItem(ctx, userID, lineID); err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func lineIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	lineID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || lineID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_item_id", "item id must be a positive integer")
		return 0, false
	}
	return lineID, true
}

func validQuantity(q int) bool {
	return q >= 1 && q <= 99
}

func convertView(v *cart.View) CartResponseDTO {
	items := make([]CartLineDTO, 0, len(v.Lines))
	for _, l := range v.Lines {
		items = append(items, convertLine(l))
	}
	return CartResponseDTO{
		Items:      items,
		Totals:     convertTotals(v.Totals),
		TotalItems: v.ItemCount,
	}
}

func convertLine(l cart.LineView) CartLineDTO {
	return CartLineDTO{
		ID:          l.ID,
		ProductID:   l.ProductID,
		ProductName: l.ProductName,
		SizeID:      l.SizeID,
		Size:        l.Size,
		UnitPrice:   l.UnitPrice.StringFixed(2),
		Quantity:    l.Quantity,
		LineTotal:   l.LineTotal.StringFixed(2),
		InStock:     l.InStock,
	}
}

func convertTotals(t pricing.Totals) TotalsDTO {
	return TotalsDTO{
		Subtotal:   t.Subtotal.StringFixed(2),
		Shipping:   t.Shipping.StringFixed(2),
		Tax:        t.Tax.StringFixed(2),
		GrandTotal: t.GrandTotal.StringFixed(2),
	}
}
