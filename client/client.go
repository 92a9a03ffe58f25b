// Package client implements the storefront-side cart: a guest cart persisted
// to local device storage, an authenticated cart that mirrors the remote cart
// API with optimistic updates, and a facade that switches between the two and
// merges the guest cart into the server cart on login.
package client

import (
	"github.com/shopspring/decimal"

	"github.com/Jolabdan-Technology-Solutions/dance-realmx-cart/internal/domain"
)

// ItemInput carries the caller-supplied fields for adding an item. Title and
// price come from the caller because the cart does no catalog lookups.
type ItemInput struct {
	ItemType domain.ItemType
	ItemID   int64
	Title    string
	Price    string
	Quantity int
	// Details is an optional secondary price override, as a decimal string.
	Details string
}

// cartReader is the read surface shared by the guest and remote adapters.
type cartReader interface {
	Items() []domain.CartItem
	Total() decimal.Decimal
	ItemCount() int
}

// snapshotItems returns a defensive copy so callers cannot mutate adapter state.
func snapshotItems(items []domain.CartItem) []domain.CartItem {
	out := make([]domain.CartItem, len(items))
	copy(out, items)
	return out
}

func totalOf(items []domain.CartItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.Subtotal())
	}
	return total
}

func countOf(items []domain.CartItem) int {
	var count int
	for _, item := range items {
		count += item.Quantity
	}
	return count
}
