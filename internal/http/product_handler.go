package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/pricing"
	"github.com/go-chi/chi/v5"
)

type ProductReader interface {
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
}

type ProductHandler struct {
	catalog ProductReader
	timeout time.Duration
	log     *slog.Logger
}

func NewProductHandler(catalog ProductReader, timeout time.Duration, log *slog.Logger) *ProductHandler {
	return &ProductHandler{
		catalog: catalog,
		timeout: timeout,
		log:     log,
	}
}

type SizeResponse struct {
	ID      int64  `json:"id"`
	Label   string `json:"label"`
	Price   string `json:"price"`
	Stock   int    `json:"stock"`
	InStock bool   `json:"in_stock"`
}

type ProductResponse struct {
	ID       int64          `json:"id"`
	Name     string         `json:"name"`
	Price    string         `json:"price"`
	Stock    int            `json:"stock"`
	Featured bool           `json:"featured"`
	InStock  bool           `json:"in_stock"`
	Sizes    []SizeResponse `json:"sizes"`
}

// GET /products/{id}
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	productID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || productID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product id must be a positive integer")
		return
	}

	p, err := h.catalog.GetProduct(ctx, productID)
	if err != nil {
		handleServiceError(w, r, h.log, err)
		return
	}

	sizes := make([]SizeResponse, len(p.Sizes))
	for i := range p.Sizes {
		s := &p.Sizes[i]
		sizes[i] = SizeResponse{
			ID:      s.ID,
			Label:   s.Label,
			Price:   pricing.UnitPrice(p, s).StringFixed(2),
			Stock:   s.Stock,
			InStock: s.Stock > 0,
		}
	}

	respondJSON(w, http.StatusOK, &ProductResponse{
		ID:       p.ID,
		Name:     p.Name,
		Price:    p.Price.StringFixed(2),
		Stock:    p.Stock,
		Featured: p.Featured,
		InStock:  domain.InStock(p),
		Sizes:    sizes,
	})
}
