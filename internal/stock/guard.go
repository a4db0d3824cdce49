// Package stock decides how much of a product or size can be bought right now.
package stock

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fjod/storefront/internal/domain"
)

var (
	ErrOutOfStock   = errors.New("out of stock")
	ErrSizeRequired = errors.New("please select a size")
)

// Availability is the outcome of checking a requested quantity against stock.
type Availability struct {
	Requested int
	Available int
	Allowed   int
	InStock   bool
}

// Clamped is true when only part of the requested quantity can be fulfilled.
func (a Availability) Clamped() bool {
	return a.InStock && a.Allowed < a.Requested
}

// Available returns the counter that governs a line: the size stock when a
// size is given, the product stock otherwise.
func Available(p *domain.Product, size *domain.SizeVariant) int {
	if size != nil {
		return size.Stock
	}
	return p.Stock
}

// CheckAvailability clamps requested to the available stock.
func CheckAvailability(p *domain.Product, size *domain.SizeVariant, requested int) Availability {
	available := max(Available(p, size), 0)
	return Availability{
		Requested: requested,
		Available: available,
		Allowed:   min(requested, available),
		InStock:   available > 0,
	}
}

// Line is a cart line resolved against live catalog data.
type Line struct {
	LineID   int64
	Product  *domain.Product
	Size     *domain.SizeVariant
	Quantity int
}

// Violation is a line whose quantity exceeds what is in stock.
type Violation struct {
	LineID      int64  `json:"line_id"`
	ProductID   int64  `json:"product_id"`
	SizeID      *int64 `json:"size_id,omitempty"`
	ProductName string `json:"product_name,omitempty"`
	Size        string `json:"size,omitempty"`
	Requested   int    `json:"requested"`
	Available   int    `json:"available"`
}

// ViolationsError lists every offending line so the whole cart can be fixed at once.
type ViolationsError struct {
	Violations []Violation
}

func (e *ViolationsError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		name := v.ProductName
		if name == "" {
			name = fmt.Sprintf("product %d", v.ProductID)
		}
		if v.Size != "" {
			name += " (" + v.Size + ")"
		}
		parts = append(parts, fmt.Sprintf("%s: requested %d, available %d", name, v.Requested, v.Available))
	}
	return "insufficient stock: " + strings.Join(parts, "; ")
}

// Validate checks every line and returns all violations, not just the first.
func Validate(lines []Line) []Violation {
	var violations []Violation
	for _, l := range lines {
		a := CheckAvailability(l.Product, l.Size, l.Quantity)
		if a.Allowed >= l.Quantity {
			continue
		}
		violations = append(violations, NewViolation(l, a.Available))
	}
	return violations
}

func NewViolation(l Line, available int) Violation {
	v := Violation{
		LineID:      l.LineID,
		ProductID:   l.Product.ID,
		ProductName: l.Product.Name,
		Requested:   l.Quantity,
		Available:   available,
	}
	if l.Size != nil {
		id := l.Size.ID
		v.SizeID = &id
		v.Size = l.Size.Label
	}
	return v
}

// DecrementViolation reports a commit-time decrement that found less stock
// than it needed.
func DecrementViolation(d domain.StockDecrement, available int) Violation {
	return Violation{
		LineID:      d.LineID,
		ProductID:   d.ProductID,
		SizeID:      d.SizeID,
		ProductName: d.ProductName,
		Size:        d.SizeLabel,
		Requested:   d.Quantity,
		Available:   max(available, 0),
	}
}
