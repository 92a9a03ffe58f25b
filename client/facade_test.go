package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jolabdan-Technology-Solutions/dance-realmx-cart/internal/domain"
)

// fakeAuth is a switchable auth state for driving login/logout transitions.
type fakeAuth struct {
	mu     sync.Mutex
	userID string
}

func (a *fakeAuth) UserID() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.userID, a.userID != ""
}

func (a *fakeAuth) login(userID string) {
	a.mu.Lock()
	a.userID = userID
	a.mu.Unlock()
}

func (a *fakeAuth) logout() {
	a.mu.Lock()
	a.userID = ""
	a.mu.Unlock()
}

// fakeCartServer is an in-memory stand-in for the cart API implementing the
// same dedup-increment and quantity-floor semantics.
type fakeCartServer struct {
	mu       sync.Mutex
	items    []domain.CartItem
	nextID   int64
	addCalls int
	// failAdds rejects add requests for these catalog item IDs.
	failAdds map[int64]bool
}

func newFakeCartServer() *fakeCartServer {
	return &fakeCartServer{nextID: 1, failAdds: map[int64]bool{}}
}

func (f *fakeCartServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.Header.Get("X-User-ID") == "" {
		writeErrorEnvelope(w, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required")
		return
	}

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/v1/cart":
		f.writeCart(w)
	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/cart/items":
		f.handleAdd(w, r)
	case r.Method == http.MethodPut && strings.HasPrefix(r.URL.Path, "/api/v1/cart/items/"):
		f.handleUpdate(w, r)
	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/api/v1/cart/items/"):
		f.handleRemove(w, r)
	case r.Method == http.MethodDelete && r.URL.Path == "/api/v1/cart":
		f.items = nil
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"data": map[string]string{"status": "cleared"}})
	default:
		writeErrorEnvelope(w, http.StatusNotFound, "NOT_FOUND", "no route")
	}
}

func (f *fakeCartServer) handleAdd(w http.ResponseWriter, r *http.Request) {
	f.addCalls++

	var body addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErrorEnvelope(w, http.StatusBadRequest, "VALIDATION_ERROR", "bad body")
		return
	}
	if f.failAdds[body.ItemID] {
		writeErrorEnvelope(w, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "try again later")
		return
	}

	itemType := domain.ItemType(body.ItemType)
	if idx := findItem(f.items, itemType, body.ItemID); idx >= 0 {
		f.items[idx].Quantity += body.Quantity
	} else {
		f.items = append(f.items, domain.CartItem{
			ID:       f.nextID,
			ItemType: itemType,
			ItemID:   body.ItemID,
			Title:    body.Title,
			Price:    decimal.RequireFromString(body.Price),
			Quantity: body.Quantity,
		})
		f.nextID++
	}
	f.writeCart(w)
}

func (f *fakeCartServer) handleUpdate(w http.ResponseWriter, r *http.Request) {
	itemType, itemID := f.identityFromPath(r.URL.Path)
	idx := findItem(f.items, itemType, itemID)
	if idx < 0 {
		writeErrorEnvelope(w, http.StatusNotFound, "NOT_FOUND", "item not in cart")
		return
	}

	var body struct {
		Quantity int `json:"quantity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeErrorEnvelope(w, http.StatusBadRequest, "VALIDATION_ERROR", "bad body")
		return
	}
	// Same contract as the real handler: zero removes, negatives are invalid.
	if body.Quantity < 0 {
		writeErrorEnvelope(w, http.StatusBadRequest, "VALIDATION_ERROR", "quantity must be greater than or equal to 0")
		return
	}

	if body.Quantity == 0 {
		f.items = append(f.items[:idx], f.items[idx+1:]...)
	} else {
		f.items[idx].Quantity = body.Quantity
	}
	f.writeCart(w)
}

func (f *fakeCartServer) handleRemove(w http.ResponseWriter, r *http.Request) {
	itemType, itemID := f.identityFromPath(r.URL.Path)
	idx := findItem(f.items, itemType, itemID)
	if idx < 0 {
		writeErrorEnvelope(w, http.StatusNotFound, "NOT_FOUND", "item not in cart")
		return
	}
	f.items = append(f.items[:idx], f.items[idx+1:]...)
	f.writeCart(w)
}

func (f *fakeCartServer) identityFromPath(path string) (domain.ItemType, int64) {
	rest := strings.TrimPrefix(path, "/api/v1/cart/items/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 {
		return "", 0
	}
	id, _ := strconv.ParseInt(parts[1], 10, 64)
	return domain.ItemType(parts[0]), id
}

func (f *fakeCartServer) writeCart(w http.ResponseWriter) {
	writeCartEnvelope(w, f.items)
}

// --- Test wiring ---

type facadeFixture struct {
	cart   *Cart
	auth   *fakeAuth
	guest  *GuestCart
	server *fakeCartServer
}

func newFacadeFixture(t *testing.T) *facadeFixture {
	t.Helper()

	server := newFakeCartServer()
	srv := httptest.NewServer(server)
	t.Cleanup(srv.Close)

	auth := &fakeAuth{}
	guest := NewGuestCart(newTestStore(t), discardLogger())
	cart := NewCart(auth, guest, func(userID string) *RemoteCart {
		return NewRemoteCart(RemoteConfig{
			BaseURL:    srv.URL,
			UserID:     userID,
			HTTPClient: fastHTTPClient(),
			Logger:     discardLogger(),
		})
	}, discardLogger())

	return &facadeFixture{cart: cart, auth: auth, guest: guest, server: server}
}

func TestFacade_GuestOperations(t *testing.T) {
	fx := newFacadeFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.cart.AddItem(ctx, courseInput(7, "25.00")))
	require.NoError(t, fx.cart.AddItem(ctx, courseInput(7, "25.00")))

	assert.Equal(t, 2, fx.cart.ItemCount(ctx))
	assert.Equal(t, "50.00", fx.cart.Total(ctx).StringFixed(2))
	assert.False(t, fx.cart.Loading())
	assert.Equal(t, 0, fx.server.addCalls)
}

func TestFacade_GuestToLoginMerge(t *testing.T) {
	fx := newFacadeFixture(t)
	ctx := context.Background()

	// Guest adds the same course twice, collapsing to one line of two.
	require.NoError(t, fx.cart.AddItem(ctx, courseInput(7, "25.00")))
	require.NoError(t, fx.cart.AddItem(ctx, courseInput(7, "25.00")))

	fx.auth.login("user-1")
	result, err := fx.cart.SyncAuth(ctx)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 1, result.Merged)
	assert.Equal(t, 0, result.Failed)

	// Server cart carries the merged line; guest storage is empty.
	items := fx.cart.Items(ctx)
	require.Len(t, items, 1)
	assert.Equal(t, "Intro to Ballet", items[0].Title)
	assert.Equal(t, 2, items[0].Quantity)
	assert.Equal(t, "50.00", fx.cart.Total(ctx).StringFixed(2))
	assert.Empty(t, fx.guest.Items())
}

func TestFacade_MergeDedupsAgainstExistingServerLines(t *testing.T) {
	fx := newFacadeFixture(t)
	ctx := context.Background()

	// The server cart already has the same course from another device.
	fx.server.items = []domain.CartItem{{
		ID:       1,
		ItemType: domain.ItemTypeCourse,
		ItemID:   7,
		Title:    "Intro to Ballet",
		Price:    decimal.RequireFromString("25.00"),
		Quantity: 1,
	}}
	fx.server.nextID = 2

	require.NoError(t, fx.cart.AddItem(ctx, courseInput(7, "25.00")))

	fx.auth.login("user-1")
	_, err := fx.cart.SyncAuth(ctx)
	require.NoError(t, err)

	items := fx.cart.Items(ctx)
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Quantity)
}

func TestFacade_DoubleSyncDoesNotMergeTwice(t *testing.T) {
	fx := newFacadeFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.cart.AddItem(ctx, courseInput(7, "25.00")))

	fx.auth.login("user-1")
	first, err := fx.cart.SyncAuth(ctx)
	require.NoError(t, err)
	require.NotNil(t, first)
	addsAfterFirst := fx.server.addCalls

	second, err := fx.cart.SyncAuth(ctx)
	require.NoError(t, err)
	assert.Nil(t, second)
	assert.Equal(t, addsAfterFirst, fx.server.addCalls)
	assert.Equal(t, 1, fx.cart.ItemCount(ctx))
}

func TestFacade_PartialMergeFailureReported(t *testing.T) {
	fx := newFacadeFixture(t)
	ctx := context.Background()

	require.NoError(t, fx.cart.AddItem(ctx, courseInput(7, "25.00")))
	require.NoError(t, fx.cart.AddItem(ctx, ItemInput{
		ItemType: domain.ItemTypeResource,
		ItemID:   3,
		Title:    "Jazz Curriculum Pack",
		Price:    "9.99",
		Quantity: 1,
	}))
	fx.server.failAdds[3] = true

	fx.auth.login("user-1")
	result, err := fx.cart.SyncAuth(ctx)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 1, result.Merged)
	assert.Equal(t, 1, result.Failed)

	// Guest storage is cleared once every merge call has settled.
	assert.Empty(t, fx.guest.Items())
	assert.Equal(t, 1, fx.cart.ItemCount(ctx))
}

func TestFacade_AuthenticatedMutationsHitServer(t *testing.T) {
	fx := newFacadeFixture(t)
	ctx := context.Background()

	fx.auth.login("user-1")
	_, err := fx.cart.SyncAuth(ctx)
	require.NoError(t, err)

	require.NoError(t, fx.cart.AddItem(ctx, courseInput(7, "25.00")))
	require.NoError(t, fx.cart.UpdateQuantity(ctx, domain.ItemTypeCourse, 7, 3))

	assert.Equal(t, 3, fx.cart.ItemCount(ctx))
	assert.Equal(t, "75.00", fx.cart.Total(ctx).StringFixed(2))

	require.NoError(t, fx.cart.RemoveItem(ctx, domain.ItemTypeCourse, 7))
	assert.Equal(t, 0, fx.cart.ItemCount(ctx))
	assert.Equal(t, "0.00", fx.cart.Total(ctx).StringFixed(2))
}

func TestFacade_NegativeQuantityRemovesWhileAuthenticated(t *testing.T) {
	fx := newFacadeFixture(t)
	ctx := context.Background()

	fx.auth.login("user-1")
	_, err := fx.cart.SyncAuth(ctx)
	require.NoError(t, err)
	require.NoError(t, fx.cart.AddItem(ctx, courseInput(7, "25.00")))

	require.NoError(t, fx.cart.UpdateQuantity(ctx, domain.ItemTypeCourse, 7, -5))

	assert.Equal(t, 0, fx.cart.ItemCount(ctx))
	assert.Equal(t, "0.00", fx.cart.Total(ctx).StringFixed(2))
	fx.server.mu.Lock()
	assert.Empty(t, fx.server.items)
	fx.server.mu.Unlock()
}

func TestFacade_LogoutFallsBackToGuest(t *testing.T) {
	fx := newFacadeFixture(t)
	ctx := context.Background()

	fx.auth.login("user-1")
	_, err := fx.cart.SyncAuth(ctx)
	require.NoError(t, err)
	require.NoError(t, fx.cart.AddItem(ctx, courseInput(7, "25.00")))

	fx.auth.logout()
	_, err = fx.cart.SyncAuth(ctx)
	require.NoError(t, err)

	// Back on the guest cart, which is empty after the earlier merge clear.
	assert.Equal(t, 0, fx.cart.ItemCount(ctx))

	require.NoError(t, fx.cart.AddItem(ctx, courseInput(9, "12.50")))
	assert.Equal(t, 1, len(fx.guest.Items()))
}

func TestFacade_ReloginMergesAgain(t *testing.T) {
	fx := newFacadeFixture(t)
	ctx := context.Background()

	fx.auth.login("user-1")
	_, err := fx.cart.SyncAuth(ctx)
	require.NoError(t, err)

	fx.auth.logout()
	_, err = fx.cart.SyncAuth(ctx)
	require.NoError(t, err)

	// Guest picks up a new item while logged out.
	require.NoError(t, fx.cart.AddItem(ctx, courseInput(9, "12.50")))

	fx.auth.login("user-1")
	result, err := fx.cart.SyncAuth(ctx)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 1, result.Merged)

	assert.Equal(t, "12.50", fx.cart.Total(ctx).StringFixed(2))
	assert.Empty(t, fx.guest.Items())
}

func TestFacade_OnChangeFollowsActiveAdapter(t *testing.T) {
	fx := newFacadeFixture(t)
	ctx := context.Background()

	var fired int
	fx.cart.SetOnChange(func() { fired++ })

	require.NoError(t, fx.cart.AddItem(ctx, courseInput(7, "25.00")))
	guestFires := fired
	assert.Positive(t, guestFires)

	fx.auth.login("user-1")
	_, err := fx.cart.SyncAuth(ctx)
	require.NoError(t, err)

	require.NoError(t, fx.cart.AddItem(ctx, courseInput(9, "12.50")))
	assert.Greater(t, fired, guestFires)
}

func TestFacade_ClearAuthenticated(t *testing.T) {
	fx := newFacadeFixture(t)
	ctx := context.Background()

	fx.auth.login("user-1")
	_, err := fx.cart.SyncAuth(ctx)
	require.NoError(t, err)
	require.NoError(t, fx.cart.AddItem(ctx, courseInput(7, "25.00")))

	require.NoError(t, fx.cart.Clear(ctx))

	assert.Equal(t, 0, fx.cart.ItemCount(ctx))
	fx.server.mu.Lock()
	assert.Empty(t, fx.server.items)
	fx.server.mu.Unlock()
}
