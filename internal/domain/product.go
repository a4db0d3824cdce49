package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is the catalog view the cart and checkout read. Stock is only
// mutated by the checkout commit.
type Product struct {
	ID        int64
	Name      string
	Price     decimal.Decimal
	Stock     int
	Featured  bool
	Sizes     []SizeVariant
	CreatedAt time.Time
}

// SizeVariant is a size option of a product with its own stock counter.
type SizeVariant struct {
	ID              int64
	ProductID       int64
	Label           string
	PriceAdjustment decimal.Decimal
	Stock           int
}

// HasSizes reports whether the shopper must pick a size before buying p.
func HasSizes(p *Product) bool {
	return len(p.Sizes) > 0
}

// InStock is true when the product itself or any of its sizes has stock left.
func InStock(p *Product) bool {
	if p.Stock > 0 {
		return true
	}
	for _, s := range p.Sizes {
		if s.Stock > 0 {
			return true
		}
	}
	return false
}

// FindSize returns the size of p with the given id.
func FindSize(p *Product, sizeID int64) (*SizeVariant, bool) {
	for i := range p.Sizes {
		if p.Sizes[i].ID == sizeID {
			return &p.Sizes[i], true
		}
	}
	return nil, false
}
