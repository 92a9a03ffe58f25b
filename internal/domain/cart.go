package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ItemType discriminates what kind of catalog entity a cart line refers to.
type ItemType string

const (
	ItemTypeCourse   ItemType = "course"
	ItemTypeResource ItemType = "resource"
)

// Valid reports whether the item type is one of the known values.
func (t ItemType) Valid() bool {
	return t == ItemTypeCourse || t == ItemTypeResource
}

// ParseItemType converts a raw string into an ItemType.
func ParseItemType(s string) (ItemType, error) {
	t := ItemType(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown item type %q", s)
	}
	return t, nil
}

// CartItem is a single line in a cart. Title and Price are denormalized
// copies taken at add-time and are not re-fetched from the catalog.
type CartItem struct {
	ID       int64           `json:"id"`
	ItemType ItemType        `json:"item_type"`
	ItemID   int64           `json:"item_id"`
	Title    string          `json:"title"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
	// Details is a secondary price override used by some resource types.
	Details *decimal.Decimal `json:"details,omitempty"`
}

// EffectivePrice returns the price used for totals: the Details override when
// present, the denormalized Price otherwise.
func (i CartItem) EffectivePrice() decimal.Decimal {
	if i.Details != nil {
		return *i.Details
	}
	return i.Price
}

// Subtotal returns EffectivePrice multiplied by quantity.
func (i CartItem) Subtotal() decimal.Decimal {
	return i.EffectivePrice().Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Cart is the live aggregate of cart lines for one user or guest session.
// Total and item count are always derived from Items, never stored.
type Cart struct {
	ID         string     `json:"id"`
	UserID     string     `json:"user_id"`
	Items      []CartItem `json:"items"`
	Currency   string     `json:"currency"`
	Version    int        `json:"version"`
	NextItemID int64      `json:"next_item_id"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
}

// Total recomputes the cart total over all items.
func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.Items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// ItemCount returns the summed quantity across all items.
func (c *Cart) ItemCount() int {
	var count int
	for _, item := range c.Items {
		count += item.Quantity
	}
	return count
}

// FindItemIndex returns the index of the item matching the identity pair
// (item type, catalog item ID), or -1 when absent. At most one line may exist
// per identity pair.
func (c *Cart) FindItemIndex(itemType ItemType, itemID int64) int {
	for i := range c.Items {
		if c.Items[i].ItemType == itemType && c.Items[i].ItemID == itemID {
			return i
		}
	}
	return -1
}

// FindItemByLineID returns the index of the item with the given line ID, or -1.
func (c *Cart) FindItemByLineID(id int64) int {
	for i := range c.Items {
		if c.Items[i].ID == id {
			return i
		}
	}
	return -1
}

// ParsePrice parses a denormalized price string and enforces that it is a
// non-negative decimal.
func ParsePrice(s string) (decimal.Decimal, error) {
	price, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse price %q: %w", s, err)
	}
	if price.IsNegative() {
		return decimal.Zero, fmt.Errorf("price %q must not be negative", s)
	}
	return price, nil
}
