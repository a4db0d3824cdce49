package domain

import "time"

type Cart struct {
	ID        int64      `json:"id"`
	UserID    string     `json:"user_id"`
	Items     []LineItem `json:"items"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// LineItem is one product (and optional size) with a quantity. A zero ID
// marks a line that has not been persisted yet.
type LineItem struct {
	ID        int64     `json:"id"`
	ProductID int64     `json:"product_id"`
	SizeID    *int64    `json:"size_id,omitempty"`
	Quantity  int       `json:"quantity"`
	AddedAt   time.Time `json:"added_at"`
}

// SameLine reports whether item is the line for productID and sizeID.
// A line without a size only matches a request without a size.
func SameLine(item LineItem, productID int64, sizeID *int64) bool {
	if item.ProductID != productID {
		return false
	}
	if item.SizeID == nil || sizeID == nil {
		return item.SizeID == nil && sizeID == nil
	}
	return *item.SizeID == *sizeID
}

func (c *Cart) FindLine(productID int64, sizeID *int64) *LineItem {
	for i := range c.Items {
		if SameLine(c.Items[i], productID, sizeID) {
			return &c.Items[i]
		}
	}
	return nil
}

func (c *Cart) Line(id int64) *LineItem {
	for i := range c.Items {
		if c.Items[i].ID == id {
			return &c.Items[i]
		}
	}
	return nil
}

// RemoveLine deletes the line with the given id and reports whether it existed.
func (c *Cart) RemoveLine(id int64) bool {
	for i := range c.Items {
		if c.Items[i].ID == id {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return true
		}
	}
	return false
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// TotalItems is the number of units across all lines.
func TotalItems(c *Cart) int {
	n := 0
	for _, item := range c.Items {
		n += item.Quantity
	}
	return n
}
