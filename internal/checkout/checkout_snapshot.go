package checkout

import (
	"context"
	"fmt"

	"github.com/fjod/storefront/internal/cart"
	"github.com/fjod/storefront/internal/domain"
	"github.com/fjod/storefront/internal/pricing"
	"github.com/fjod/storefront/internal/stock"
)

// snapshot is the validated cart a checkout charges and commits. Its totals
// are final: nothing is re-priced after validation.
type snapshot struct {
	Lines  []stock.Line
	Totals pricing.Totals
}

// snapshot re-checks every line against live stock and prices the result.
// All violations are reported together.
func (s *CheckoutService) snapshot(ctx context.Context, c *domain.Cart) (*snapshot, error) {
	products, err := s.repo.GetProducts(ctx, cart.ProductIDs(c.Items))
	if err != nil {
		return nil, fmt.Errorf("failed to load products: %w", err)
	}

	lines, missing := cart.Resolve(c.Items, products)
	violations := stock.Validate(lines)
	for _, item := range missing {
		// The product or size is gone from the catalog.
		violations = append(violations, stock.Violation{
			LineID:    item.ID,
			ProductID: item.ProductID,
			SizeID:    item.SizeID,
			Requested: item.Quantity,
			Available: 0,
		})
	}
	if len(violations) > 0 {
		return nil, &stock.ViolationsError{Violations: violations}
	}

	return &snapshot{
		Lines:  lines,
		Totals: pricing.ComputeTotals(cart.PricingLines(lines)),
	}, nil
}
