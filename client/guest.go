package client

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Jolabdan-Technology-Solutions/dance-realmx-cart/client/localstore"
	"github.com/Jolabdan-Technology-Solutions/dance-realmx-cart/internal/domain"
)

// guestStorageKey is the key the guest cart persists under in local storage.
const guestStorageKey = "guest_cart"

// GuestCart holds cart items for an unauthenticated visitor, persisted to
// local device storage after every mutation. Mutations never fail on storage
// errors: the in-memory state is authoritative for the session and persistence
// is best effort.
type GuestCart struct {
	mu       sync.Mutex
	store    *localstore.Store
	logger   *slog.Logger
	items    []domain.CartItem
	lastID   int64
	onChange func()
}

// NewGuestCart loads any persisted guest cart from the store. Missing or
// corrupt stored data starts an empty cart rather than failing.
func NewGuestCart(store *localstore.Store, logger *slog.Logger) *GuestCart {
	g := &GuestCart{
		store:  store,
		logger: logger,
	}

	data, err := store.Read(guestStorageKey)
	if err != nil {
		logger.Warn("guest cart load failed, starting empty", slog.String("error", err.Error()))
		return g
	}
	if len(data) == 0 {
		return g
	}

	var items []domain.CartItem
	if err := json.Unmarshal(data, &items); err != nil {
		logger.Warn("guest cart data corrupt, starting empty", slog.String("error", err.Error()))
		return g
	}

	g.items = items
	for _, item := range items {
		if item.ID > g.lastID {
			g.lastID = item.ID
		}
	}
	return g
}

// SetOnChange registers a callback invoked after every state change. The
// callback runs while the cart lock is held and must not call back into the
// cart.
func (g *GuestCart) SetOnChange(fn func()) {
	g.mu.Lock()
	g.onChange = fn
	g.mu.Unlock()
}

// AddItem adds an item to the guest cart. Adding an identity pair that is
// already present increments that line's quantity and refreshes its
// denormalized title and price instead of creating a duplicate line.
func (g *GuestCart) AddItem(input ItemInput) error {
	if !input.ItemType.Valid() {
		return fmt.Errorf("unknown item type %q", input.ItemType)
	}
	if input.ItemID <= 0 {
		return fmt.Errorf("item ID must be positive, got %d", input.ItemID)
	}

	quantity := input.Quantity
	if quantity < 1 {
		quantity = 1
	}

	price := g.normalizePrice(input.Price)
	details := g.normalizeDetails(input.Details)

	g.mu.Lock()
	defer g.mu.Unlock()

	if idx := findItem(g.items, input.ItemType, input.ItemID); idx >= 0 {
		g.items[idx].Quantity += quantity
		g.items[idx].Title = input.Title
		g.items[idx].Price = price
		g.items[idx].Details = details
	} else {
		g.items = append(g.items, domain.CartItem{
			ID:       g.nextLocalID(),
			ItemType: input.ItemType,
			ItemID:   input.ItemID,
			Title:    input.Title,
			Price:    price,
			Quantity: quantity,
			Details:  details,
		})
	}

	g.persistLocked()
	g.notifyLocked()
	return nil
}

// UpdateQuantity sets the quantity for the identity pair. A quantity of zero
// or less removes the line. Updating an absent pair is a no-op.
func (g *GuestCart) UpdateQuantity(itemType domain.ItemType, itemID int64, quantity int) {
	g.mu.Lock()
	defer g.mu.Unlock()

	idx := findItem(g.items, itemType, itemID)
	if idx < 0 {
		return
	}

	if quantity <= 0 {
		g.items = append(g.items[:idx], g.items[idx+1:]...)
	} else {
		g.items[idx].Quantity = quantity
	}

	g.persistLocked()
	g.notifyLocked()
}

// RemoveItem removes the line for the identity pair. Removing an absent pair
// is a no-op.
func (g *GuestCart) RemoveItem(itemType domain.ItemType, itemID int64) {
	g.mu.Lock()
	defer g.mu.Unlock()

	idx := findItem(g.items, itemType, itemID)
	if idx < 0 {
		return
	}

	g.items = append(g.items[:idx], g.items[idx+1:]...)
	g.persistLocked()
	g.notifyLocked()
}

// Clear removes all items and the persisted copy.
func (g *GuestCart) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.items = nil
	if err := g.store.Delete(guestStorageKey); err != nil {
		g.logger.Warn("guest cart clear failed", slog.String("error", err.Error()))
	}
	g.notifyLocked()
}

// Items returns a copy of the current cart lines.
func (g *GuestCart) Items() []domain.CartItem {
	g.mu.Lock()
	defer g.mu.Unlock()
	return snapshotItems(g.items)
}

// Total returns the summed effective price across all lines.
func (g *GuestCart) Total() decimal.Decimal {
	g.mu.Lock()
	defer g.mu.Unlock()
	return totalOf(g.items)
}

// ItemCount returns the summed quantity across all lines.
func (g *GuestCart) ItemCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return countOf(g.items)
}

// normalizePrice clamps malformed or negative prices to zero so a bad catalog
// value never blocks adding to the cart.
func (g *GuestCart) normalizePrice(raw string) decimal.Decimal {
	price, err := domain.ParsePrice(raw)
	if err != nil {
		g.logger.Warn("invalid price, using zero", slog.String("price", raw))
		return decimal.Zero
	}
	return price
}

func (g *GuestCart) normalizeDetails(raw string) *decimal.Decimal {
	if raw == "" {
		return nil
	}
	details, err := domain.ParsePrice(raw)
	if err != nil {
		g.logger.Warn("invalid details price, ignoring", slog.String("details", raw))
		return nil
	}
	return &details
}

// nextLocalID returns a timestamp-derived line ID that stays strictly
// increasing even when two adds land in the same millisecond.
func (g *GuestCart) nextLocalID() int64 {
	id := time.Now().UnixMilli()
	if id <= g.lastID {
		id = g.lastID + 1
	}
	g.lastID = id
	return id
}

func (g *GuestCart) persistLocked() {
	data, err := json.Marshal(g.items)
	if err != nil {
		g.logger.Warn("guest cart marshal failed", slog.String("error", err.Error()))
		return
	}
	if err := g.store.Write(guestStorageKey, data); err != nil {
		g.logger.Warn("guest cart persist failed", slog.String("error", err.Error()))
	}
}

func (g *GuestCart) notifyLocked() {
	if g.onChange != nil {
		g.onChange()
	}
}

func findItem(items []domain.CartItem, itemType domain.ItemType, itemID int64) int {
	for i := range items {
		if items[i].ItemType == itemType && items[i].ItemID == itemID {
			return i
		}
	}
	return -1
}
