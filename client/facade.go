package client

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/Jolabdan-Technology-Solutions/dance-realmx-cart/internal/domain"
)

// AuthState reports the current authentication state. Implementations are
// supplied by the host application's session layer.
type AuthState interface {
	// UserID returns the authenticated user's ID, or ok=false for guests.
	UserID() (id string, ok bool)
}

// MergeResult reports the outcome of a guest-to-server cart merge.
type MergeResult struct {
	Merged int
	Failed int
}

// Cart is the single entry point the storefront uses. It dispatches every
// operation to the guest or remote adapter based on the current auth state,
// and merges the guest cart into the server cart once per login transition.
type Cart struct {
	auth      AuthState
	guest     *GuestCart
	newRemote func(userID string) *RemoteCart
	logger    *slog.Logger

	mu         sync.Mutex
	remote     *RemoteCart
	mergedUser string // user ID whose login transition has been merged
	onChange   func()
}

// NewCart creates the facade. newRemote is called once per login to build the
// adapter for the authenticated user.
func NewCart(auth AuthState, guest *GuestCart, newRemote func(userID string) *RemoteCart, logger *slog.Logger) *Cart {
	return &Cart{
		auth:      auth,
		guest:     guest,
		newRemote: newRemote,
		logger:    logger,
	}
}

// SetOnChange registers a callback invoked after every cart state change,
// regardless of which adapter is active. The callback must not call back into
// the cart.
func (c *Cart) SetOnChange(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	remote := c.remote
	c.mu.Unlock()

	c.guest.SetOnChange(fn)
	if remote != nil {
		remote.SetOnChange(fn)
	}
}

// SyncAuth reconciles the facade with the current auth state. On a login
// transition it loads the server cart and merges the guest cart into it,
// returning the merge outcome. Calling it again for the same login is a
// no-op, so a double trigger from the host application cannot merge twice.
// On logout it drops the remote adapter so operations fall back to the guest
// cart.
func (c *Cart) SyncAuth(ctx context.Context) (*MergeResult, error) {
	userID, authenticated := c.auth.UserID()

	c.mu.Lock()
	if !authenticated {
		c.remote = nil
		c.mergedUser = ""
		c.mu.Unlock()
		return nil, nil
	}

	if c.mergedUser == userID {
		c.mu.Unlock()
		return nil, nil
	}

	remote := c.newRemote(userID)
	if c.onChange != nil {
		remote.SetOnChange(c.onChange)
	}
	c.remote = remote
	c.mergedUser = userID
	c.mu.Unlock()

	if err := remote.Refetch(ctx); err != nil {
		c.logger.Warn("initial cart fetch failed", slog.String("error", err.Error()))
	}

	result := c.mergeGuestInto(ctx, remote)
	return &result, nil
}

// mergeGuestInto pushes every guest line to the server cart. The server's
// dedup-increment makes each add safe against lines already in the server
// cart. Failures are counted, not fatal: a partial merge still clears the
// guest cart once every call has settled, and the outcome is reported so the
// host can surface it.
func (c *Cart) mergeGuestInto(ctx context.Context, remote *RemoteCart) MergeResult {
	var result MergeResult

	for _, item := range c.guest.Items() {
		input := ItemInput{
			ItemType: item.ItemType,
			ItemID:   item.ItemID,
			Title:    item.Title,
			Price:    item.Price.String(),
			Quantity: item.Quantity,
		}
		if item.Details != nil {
			input.Details = item.Details.String()
		}

		if err := remote.AddItem(ctx, input); err != nil {
			result.Failed++
			c.logger.Warn("guest item merge failed",
				slog.String("item_type", string(item.ItemType)),
				slog.String("item_id", strconv.FormatInt(item.ItemID, 10)),
				slog.String("error", err.Error()),
			)
			continue
		}
		result.Merged++
	}

	c.guest.Clear()
	return result
}

// active returns the adapter for the current auth state, running the one-shot
// merge when a login transition has not been synced yet.
func (c *Cart) active(ctx context.Context) (remote *RemoteCart, guest *GuestCart) {
	if _, authenticated := c.auth.UserID(); authenticated {
		// SyncAuth is idempotent per login, safe to call on every operation.
		if _, err := c.SyncAuth(ctx); err != nil {
			c.logger.Warn("auth sync failed", slog.String("error", err.Error()))
		}
		c.mu.Lock()
		remote = c.remote
		c.mu.Unlock()
		if remote != nil {
			return remote, nil
		}
	}
	return nil, c.guest
}

// AddItem adds an item to whichever cart is active.
func (c *Cart) AddItem(ctx context.Context, input ItemInput) error {
	remote, guest := c.active(ctx)
	if remote != nil {
		return remote.AddItem(ctx, input)
	}
	return guest.AddItem(input)
}

// UpdateQuantity sets the quantity for the identity pair. Zero or less
// removes the line.
func (c *Cart) UpdateQuantity(ctx context.Context, itemType domain.ItemType, itemID int64, quantity int) error {
	remote, guest := c.active(ctx)
	if remote != nil {
		return remote.UpdateQuantity(ctx, itemType, itemID, quantity)
	}
	guest.UpdateQuantity(itemType, itemID, quantity)
	return nil
}

// RemoveItem removes the line for the identity pair.
func (c *Cart) RemoveItem(ctx context.Context, itemType domain.ItemType, itemID int64) error {
	remote, guest := c.active(ctx)
	if remote != nil {
		return remote.RemoveItem(ctx, itemType, itemID)
	}
	guest.RemoveItem(itemType, itemID)
	return nil
}

// Clear empties whichever cart is active.
func (c *Cart) Clear(ctx context.Context) error {
	remote, guest := c.active(ctx)
	if remote != nil {
		return remote.Clear(ctx)
	}
	guest.Clear()
	return nil
}

// Items returns the active cart's lines.
func (c *Cart) Items(ctx context.Context) []domain.CartItem {
	remote, guest := c.active(ctx)
	if remote != nil {
		return remote.Items()
	}
	return guest.Items()
}

// Total returns the active cart's total.
func (c *Cart) Total(ctx context.Context) decimal.Decimal {
	remote, guest := c.active(ctx)
	if remote != nil {
		return remote.Total()
	}
	return guest.Total()
}

// ItemCount returns the active cart's summed quantity.
func (c *Cart) ItemCount(ctx context.Context) int {
	remote, guest := c.active(ctx)
	if remote != nil {
		return remote.ItemCount()
	}
	return guest.ItemCount()
}

// Loading reports whether a remote mutation is awaiting confirmation. Guest
// operations are synchronous, so a guest cart is never loading.
func (c *Cart) Loading() bool {
	c.mu.Lock()
	remote := c.remote
	c.mu.Unlock()
	if remote != nil {
		return remote.Loading()
	}
	return false
}
