package http

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/Jolabdan-Technology-Solutions/dance-realmx-cart/internal/service"
	apperrors "github.com/Jolabdan-Technology-Solutions/dance-realmx-cart/pkg/errors"
	"github.com/Jolabdan-Technology-Solutions/dance-realmx-cart/pkg/httputil"
	"github.com/Jolabdan-Technology-Solutions/dance-realmx-cart/pkg/validator"
)

// CartHandler handles HTTP requests for cart endpoints.
type CartHandler struct {
	service *service.CartService
	logger  *slog.Logger
}

// NewCartHandler creates a cart HTTP handler.
func NewCartHandler(svc *service.CartService, logger *slog.Logger) *CartHandler {
	return &CartHandler{
		service: svc,
		logger:  logger,
	}
}

// AddItemRequest is the JSON body for adding an item to the cart.
type AddItemRequest struct {
	ItemType string `json:"item_type" validate:"required,oneof=course resource"`
	ItemID   int64  `json:"item_id" validate:"required,gt=0"`
	Title    string `json:"title" validate:"required,max=500"`
	Price    string `json:"price" validate:"required"`
	Quantity int    `json:"quantity" validate:"required,gte=1"`
	Details  string `json:"details,omitempty"`
}

// UpdateQuantityRequest is the JSON body for updating a line's quantity.
type UpdateQuantityRequest struct {
	Quantity int `json:"quantity" validate:"gte=0"`
}

// GetCart handles GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, r, apperrors.Unauthorized("authentication required"), h.logger)
		return
	}

	cart, err := h.service.GetCart(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: cart})
}

// AddItem handles POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, r, apperrors.Unauthorized("authentication required"), h.logger)
		return
	}

	var req AddItemRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	cart, err := h.service.AddItem(r.Context(), userID, service.AddItemInput{
		ItemType: req.ItemType,
		ItemID:   req.ItemID,
		Title:    req.Title,
		Price:    req.Price,
		Quantity: req.Quantity,
		Details:  req.Details,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: cart})
}

// UpdateItemQuantity handles PUT /api/v1/cart/items/{itemType}/{itemID}
func (h *CartHandler) UpdateItemQuantity(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, r, apperrors.Unauthorized("authentication required"), h.logger)
		return
	}

	itemType, itemID, err := itemIdentityFromURL(r)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	var req UpdateQuantityRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	cart, err := h.service.UpdateItemQuantity(r.Context(), userID, itemType, itemID, req.Quantity)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: cart})
}

// RemoveItem handles DELETE /api/v1/cart/items/{itemType}/{itemID}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, r, apperrors.Unauthorized("authentication required"), h.logger)
		return
	}

	itemType, itemID, err := itemIdentityFromURL(r)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	cart, err := h.service.RemoveItem(r.Context(), userID, itemType, itemID)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: cart})
}

// ClearCart handles DELETE /api/v1/cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	userID, ok := userIDFromContext(r.Context())
	if !ok {
		httputil.WriteError(w, r, apperrors.Unauthorized("authentication required"), h.logger)
		return
	}

	if err := h.service.ClearCart(r.Context(), userID); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: map[string]string{"status": "cleared"}})
}

// itemIdentityFromURL extracts the identity pair from the route parameters.
func itemIdentityFromURL(r *http.Request) (string, int64, error) {
	itemType := chi.URLParam(r, "itemType")
	rawID := chi.URLParam(r, "itemID")
	if itemType == "" || rawID == "" {
		return "", 0, apperrors.InvalidInput("itemType and itemID are required")
	}

	itemID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil || itemID <= 0 {
		return "", 0, apperrors.InvalidInput("itemID must be a positive integer")
	}

	return itemType, itemID, nil
}
