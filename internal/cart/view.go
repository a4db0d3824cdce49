package cart

import (
	"context"
	"time"

	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/pricing"
	"github.com/fjod/storefront/internal/stock"
	"github.com/shopspring/decimal"
)

type View struct {
	Lines     []LineView
	Totals    pricing.Totals
	ItemCount int
}

type LineView struct {
	ID          int64
	ProductID   int64
	ProductName string
	SizeID      *int64
	Size        string
	UnitPrice   decimal.Decimal
	Quantity    int
	LineTotal   decimal.Decimal
	InStock     bool
	AddedAt     time.Time
}

// Resolve pairs cart lines with catalog products. Lines whose product or size
// no longer exists are returned in missing.
func Resolve(items []domain.LineItem, products map[int64]*domain.Product) (resolved []stock.Line, missing []domain.LineItem) {
	for _, item := range items {
		p, ok := products[item.ProductID]
		if !ok {
			missing = append(missing, item)
			continue
		}
		var size *domain.SizeVariant
		if item.SizeID != nil {
			if size, ok = domain.FindSize(p, *item.SizeID); !ok {
				missing = append(missing, item)
				continue
			}
		}
		resolved = append(resolved, stock.Line{LineID: item.ID, Product: p, Size: size, Quantity: item.Quantity})
	}
	return resolved, missing
}

// PricingLines maps resolved lines to the pricing engine input.
func PricingLines(lines []stock.Line) []pricing.Line {
	out := make([]pricing.Line, 0, len(lines))
	for _, l := range lines {
		out = append(out, pricing.Line{UnitPrice: pricing.UnitPrice(l.Product, l.Size), Quantity: l.Quantity})
	}
	return out
}

// ProductIDs lists the distinct products referenced by items.
func ProductIDs(items []domain.LineItem) []int64 {
	seen := make(map[int64]bool, len(items))
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		if !seen[item.ProductID] {
			seen[item.ProductID] = true
			ids = append(ids, item.ProductID)
		}
	}
	return ids
}

func (s *CartService) price(ctx context.Context, cart *domain.Cart) (*View, error) {
	view := &View{Totals: pricing.ComputeTotals(nil)}
	if cart.IsEmpty() {
		return view, nil
	}

	products, err := s.catalog.GetProducts(ctx, ProductIDs(cart.Items))
	if err != nil {
		return nil, err
	}

	resolved, missing := Resolve(cart.Items, products)
	for _, item := range missing {
		s.log.WarnContext(ctx, "cart line references unknown product or size",
			"user_id", cart.UserID, "line_id", item.ID, "product_id", item.ProductID)
	}

	addedAt := make(map[int64]time.Time, len(cart.Items))
	for _, item := range cart.Items {
		addedAt[item.ID] = item.AddedAt
	}

	for _, l := range resolved {
		unit := pricing.UnitPrice(l.Product, l.Size)
		lv := LineView{
			ID:          l.LineID,
			ProductID:   l.Product.ID,
			ProductName: l.Product.Name,
			UnitPrice:   unit,
			Quantity:    l.Quantity,
			LineTotal:   pricing.LineTotal(unit, l.Quantity),
			InStock:     stock.Available(l.Product, l.Size) >= l.Quantity,
			AddedAt:     addedAt[l.LineID],
		}
		if l.Size != nil {
			id := l.Size.ID
			lv.SizeID = &id
			lv.Size = l.Size.Label
		}
		view.Lines = append(view.Lines, lv)
		view.ItemCount += l.Quantity
	}
	view.Totals = pricing.ComputeTotals(PricingLines(resolved))
	return view, nil
}
