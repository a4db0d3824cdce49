// Package pricing computes cart and order totals. Every function is pure and
// works on exact decimals.
package pricing

import (
	"github.com/fjod/storefront/internal/domain"
	"github.com/shopspring/decimal"
)

var (
	FreeShippingThreshold = decimal.RequireFromString("50.00")
	FlatShipping          = decimal.RequireFromString("5.00")
	TaxRate               = decimal.RequireFromString("0.10")
)

// Line is a priced cart line: the effective unit price and a quantity >= 1.
type Line struct {
	UnitPrice decimal.Decimal
	Quantity  int
}

type Totals struct {
	Subtotal   decimal.Decimal
	Shipping   decimal.Decimal
	Tax        decimal.Decimal
	GrandTotal decimal.Decimal
}

// UnitPrice is the product price plus the size adjustment when a size is given.
func UnitPrice(p *domain.Product, size *domain.SizeVariant) decimal.Decimal {
	if size == nil {
		return p.Price
	}
	return p.Price.Add(size.PriceAdjustment)
}

func LineTotal(unitPrice decimal.Decimal, quantity int) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
}

// ShippingFor waives shipping from FreeShippingThreshold upwards (inclusive).
func ShippingFor(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.GreaterThanOrEqual(FreeShippingThreshold) {
		return decimal.Zero
	}
	return FlatShipping
}

// TaxFor is TaxRate of the subtotal, rounded half-up to cents.
func TaxFor(subtotal decimal.Decimal) decimal.Decimal {
	return subtotal.Mul(TaxRate).Round(2)
}

// ComputeTotals prices a set of lines. An empty set yields all zeros.
func ComputeTotals(lines []Line) Totals {
	if len(lines) == 0 {
		return Totals{
			Subtotal:   decimal.Zero,
			Shipping:   decimal.Zero,
			Tax:        decimal.Zero,
			GrandTotal: decimal.Zero,
		}
	}

	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(LineTotal(l.UnitPrice, l.Quantity))
	}

	shipping := ShippingFor(subtotal)
	tax := TaxFor(subtotal)
	return Totals{
		Subtotal:   subtotal,
		Shipping:   shipping,
		Tax:        tax,
		GrandTotal: subtotal.Add(shipping).Add(tax),
	}
}

// MinorUnits converts an amount in major units to cents.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}
