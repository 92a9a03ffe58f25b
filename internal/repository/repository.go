package repository

import (
	"context"

	"github.com/Jolabdan-Technology-Solutions/dance-realmx-cart/internal/domain"
)

// CartRepository defines cart persistence, keyed by user ID.
type CartRepository interface {
	// Get retrieves a cart by its user ID.
	Get(ctx context.Context, userID string) (*domain.Cart, error)

	// Save persists a cart, overwriting any existing cart for the user.
	Save(ctx context.Context, cart *domain.Cart) error

	// SaveIfVersion persists the cart only when the stored version still
	// matches expectedVersion, bumping the version on success. Returns false
	// without error when the cart was modified concurrently.
	SaveIfVersion(ctx context.Context, cart *domain.Cart, expectedVersion int) (bool, error)

	// Delete removes the cart for the user.
	Delete(ctx context.Context, userID string) error
}
