package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/Jolabdan-Technology-Solutions/dance-realmx-cart/internal/domain"
	apperrors "github.com/Jolabdan-Technology-Solutions/dance-realmx-cart/pkg/errors"
	"github.com/Jolabdan-Technology-Solutions/dance-realmx-cart/pkg/httpclient"
)

// RemoteCart mirrors the authenticated user's server-side cart. Every
// mutation applies optimistically to the visible state, then calls the cart
// API; on success the server snapshot replaces the visible state, on failure
// the visible state rolls back to the last confirmed server snapshot and a
// typed error is returned. When responses race, whichever snapshot arrives
// last wins.
type RemoteCart struct {
	client  httpDoer
	baseURL string
	userID  string
	logger  *slog.Logger

	mu        sync.Mutex
	items     []domain.CartItem // visible state, may include optimistic changes
	confirmed []domain.CartItem // last snapshot acknowledged by the server
	inFlight  int
	onChange  func()
}

// httpDoer is satisfied by httpclient.Client and httpclient.CircuitBreakerClient.
type httpDoer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// RemoteConfig configures a RemoteCart.
type RemoteConfig struct {
	BaseURL    string
	UserID     string
	HTTPClient httpDoer
	Logger     *slog.Logger
}

// NewRemoteCart creates an adapter for the given user. Call Refetch to load
// the server cart before first use. When no HTTP client is supplied, a
// retrying client behind a circuit breaker is used.
func NewRemoteCart(cfg RemoteConfig) *RemoteCart {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		base := httpclient.New(httpclient.DefaultConfig())
		httpClient = httpclient.NewCircuitBreakerClient(
			base,
			httpclient.DefaultCircuitBreakerConfig("cart-api"),
			cfg.Logger,
		)
	}
	return &RemoteCart{
		client:  httpClient,
		baseURL: cfg.BaseURL,
		userID:  cfg.UserID,
		logger:  cfg.Logger,
	}
}

// SetOnChange registers a callback invoked after every visible state change.
// The callback runs while the cart lock is held and must not call back into
// the cart.
func (r *RemoteCart) SetOnChange(fn func()) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Refetch replaces local state with the server cart. Used on startup and to
// pick up changes made from another tab or device.
func (r *RemoteCart) Refetch(ctx context.Context) error {
	resp, err := r.send(ctx, http.MethodGet, "/api/v1/cart", nil)
	if err != nil {
		return err
	}

	cart, err := decodeCart(resp)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.applySnapshotLocked(cart.Items)
	r.mu.Unlock()
	return nil
}

// addItemRequest matches the cart API's add-item body.
type addItemRequest struct {
	ItemType string `json:"item_type"`
	ItemID   int64  `json:"item_id"`
	Title    string `json:"title"`
	Price    string `json:"price"`
	Quantity int    `json:"quantity"`
	Details  string `json:"details,omitempty"`
}

// AddItem optimistically adds the item, then confirms with the server.
func (r *RemoteCart) AddItem(ctx context.Context, input ItemInput) error {
	if !input.ItemType.Valid() {
		return apperrors.InvalidInput(fmt.Sprintf("unknown item type %q", input.ItemType))
	}

	quantity := input.Quantity
	if quantity < 1 {
		quantity = 1
	}

	r.mu.Lock()
	r.applyOptimisticAddLocked(input, quantity)
	r.inFlight++
	r.notifyLocked()
	r.mu.Unlock()

	resp, err := r.send(ctx, http.MethodPost, "/api/v1/cart/items", addItemRequest{
		ItemType: string(input.ItemType),
		ItemID:   input.ItemID,
		Title:    input.Title,
		Price:    input.Price,
		Quantity: quantity,
		Details:  input.Details,
	})
	return r.settleCartResponse(resp, err)
}

// UpdateQuantity optimistically sets the quantity for the identity pair, then
// confirms with the server. A quantity of zero or less removes the line: the
// API accepts zero as remove but rejects negatives, so negatives are clamped
// to zero before the request is issued.
func (r *RemoteCart) UpdateQuantity(ctx context.Context, itemType domain.ItemType, itemID int64, quantity int) error {
	if quantity < 0 {
		quantity = 0
	}

	r.mu.Lock()
	if idx := findItem(r.items, itemType, itemID); idx >= 0 {
		if quantity == 0 {
			r.items = append(r.items[:idx], r.items[idx+1:]...)
		} else {
			r.items[idx].Quantity = quantity
		}
	}
	r.inFlight++
	r.notifyLocked()
	r.mu.Unlock()

	path := fmt.Sprintf("/api/v1/cart/items/%s/%d", itemType, itemID)
	resp, err := r.send(ctx, http.MethodPut, path, map[string]int{"quantity": quantity})
	return r.settleCartResponse(resp, err)
}

// RemoveItem optimistically removes the line, then confirms with the server.
func (r *RemoteCart) RemoveItem(ctx context.Context, itemType domain.ItemType, itemID int64) error {
	r.mu.Lock()
	if idx := findItem(r.items, itemType, itemID); idx >= 0 {
		r.items = append(r.items[:idx], r.items[idx+1:]...)
	}
	r.inFlight++
	r.notifyLocked()
	r.mu.Unlock()

	path := fmt.Sprintf("/api/v1/cart/items/%s/%d", itemType, itemID)
	resp, err := r.send(ctx, http.MethodDelete, path, nil)
	return r.settleCartResponse(resp, err)
}

// Clear empties the cart optimistically, then confirms with the server.
func (r *RemoteCart) Clear(ctx context.Context) error {
	r.mu.Lock()
	r.items = nil
	r.inFlight++
	r.notifyLocked()
	r.mu.Unlock()

	resp, err := r.send(ctx, http.MethodDelete, "/api/v1/cart", nil)
	if err == nil && resp.StatusCode == http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		r.mu.Lock()
		r.inFlight--
		r.applySnapshotLocked(nil)
		r.mu.Unlock()
		return nil
	}
	return r.settleFailure(resp, err)
}

// Items returns a copy of the visible cart lines, including any optimistic
// changes not yet confirmed by the server.
func (r *RemoteCart) Items() []domain.CartItem {
	r.mu.Lock()
	defer r.mu.Unlock()
	return snapshotItems(r.items)
}

// Total returns the summed effective price across visible lines.
func (r *RemoteCart) Total() decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return totalOf(r.items)
}

// ItemCount returns the summed quantity across visible lines.
func (r *RemoteCart) ItemCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return countOf(r.items)
}

// Loading reports whether any mutation is awaiting server confirmation.
func (r *RemoteCart) Loading() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inFlight > 0
}

func (r *RemoteCart) notifyLocked() {
	if r.onChange != nil {
		r.onChange()
	}
}

// applyOptimisticAddLocked mirrors the server's dedup-increment semantics on
// the visible state so the UI reacts instantly.
func (r *RemoteCart) applyOptimisticAddLocked(input ItemInput, quantity int) {
	price, err := domain.ParsePrice(input.Price)
	if err != nil {
		price = decimal.Zero
	}
	var details *decimal.Decimal
	if input.Details != "" {
		if d, err := domain.ParsePrice(input.Details); err == nil {
			details = &d
		}
	}

	if idx := findItem(r.items, input.ItemType, input.ItemID); idx >= 0 {
		r.items[idx].Quantity += quantity
		r.items[idx].Title = input.Title
		r.items[idx].Price = price
		r.items[idx].Details = details
		return
	}
	r.items = append(r.items, domain.CartItem{
		ItemType: input.ItemType,
		ItemID:   input.ItemID,
		Title:    input.Title,
		Price:    price,
		Quantity: quantity,
		Details:  details,
	})
}

// applySnapshotLocked installs a server snapshot as both the confirmed and
// visible state. Snapshots are applied in arrival order, so when two
// responses race the later arrival wins.
func (r *RemoteCart) applySnapshotLocked(items []domain.CartItem) {
	r.confirmed = snapshotItems(items)
	r.items = snapshotItems(items)
	r.notifyLocked()
}

// settleCartResponse finishes a mutation whose success body is the full cart.
func (r *RemoteCart) settleCartResponse(resp *http.Response, err error) error {
	if err != nil || resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return r.settleFailure(resp, err)
	}

	cart, decodeErr := decodeCart(resp)
	if decodeErr != nil {
		return r.settleFailure(nil, decodeErr)
	}

	r.mu.Lock()
	r.inFlight--
	r.applySnapshotLocked(cart.Items)
	r.mu.Unlock()
	return nil
}

// settleFailure rolls the visible state back to the last confirmed snapshot
// and returns a typed error describing the failure.
func (r *RemoteCart) settleFailure(resp *http.Response, err error) error {
	if err == nil {
		err = httpclient.ParseResponseError(resp, "cart")
	} else {
		err = &apperrors.AppError{
			Code:    "SERVICE_UNAVAILABLE",
			Message: fmt.Sprintf("cart API unreachable: %v", err),
			Status:  http.StatusServiceUnavailable,
			Err:     apperrors.ErrServiceUnavail,
		}
	}

	r.mu.Lock()
	r.inFlight--
	r.items = snapshotItems(r.confirmed)
	r.notifyLocked()
	r.mu.Unlock()

	r.logger.Warn("cart mutation failed, rolled back",
		slog.String("user_id", r.userID),
		slog.String("error", err.Error()),
	)
	return err
}

// send issues an authenticated JSON request against the cart API.
func (r *RemoteCart) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader = http.NoBody
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("X-User-ID", r.userID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return r.client.Do(ctx, req)
}

// decodeCart reads a success response carrying the standard envelope with a
// full cart payload.
func decodeCart(resp *http.Response) (*domain.Cart, error) {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, httpclient.ParseResponseError(resp, "cart")
	}

	var envelope struct {
		Data *domain.Cart `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode cart response: %w", err)
	}
	if envelope.Data == nil {
		return nil, fmt.Errorf("cart response missing data")
	}
	return envelope.Data, nil
}
