package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Jolabdan-Technology-Solutions/dance-realmx-cart/internal/domain"
	"github.com/Jolabdan-Technology-Solutions/dance-realmx-cart/internal/event"
	"github.com/Jolabdan-Technology-Solutions/dance-realmx-cart/internal/repository"
	apperrors "github.com/Jolabdan-Technology-Solutions/dance-realmx-cart/pkg/errors"
)

// Cart operation upper-bound limits to prevent abuse.
const (
	// MaxQuantityPerItem is the maximum quantity allowed for a single line.
	MaxQuantityPerItem = 100
	// MaxItemsPerCart is the maximum number of distinct lines in a cart.
	MaxItemsPerCart = 50
)

// MaxPrice is the maximum denormalized price accepted per item.
var MaxPrice = decimal.NewFromInt(100_000)

// AddItemInput holds the parameters for adding an item to the cart. Price and
// Details arrive as decimal strings, denormalized by the caller at add-time.
type AddItemInput struct {
	ItemType string `json:"item_type" validate:"required,oneof=course resource"`
	ItemID   int64  `json:"item_id" validate:"required,gt=0"`
	Title    string `json:"title" validate:"required,max=500"`
	Price    string `json:"price" validate:"required"`
	Quantity int    `json:"quantity" validate:"required,gte=1"`
	Details  string `json:"details,omitempty"`
}

// CartService implements the business logic for cart operations.
type CartService struct {
	repo     repository.CartRepository
	producer *event.Producer
	logger   *slog.Logger
	cartTTL  time.Duration
}

// NewCartService creates a cart service.
func NewCartService(repo repository.CartRepository, producer *event.Producer, logger *slog.Logger, cartTTL time.Duration) *CartService {
	return &CartService{
		repo:     repo,
		producer: producer,
		logger:   logger,
		cartTTL:  cartTTL,
	}
}

// GetCart retrieves the cart for a user, returning an empty cart when none
// exists yet. Server-side carts are created lazily on first add.
func (s *CartService) GetCart(ctx context.Context, userID string) (*domain.Cart, error) {
	if userID == "" {
		return nil, apperrors.InvalidInput("user id is required")
	}

	cart, err := s.repo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return s.newEmptyCart(userID), nil
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}

	return cart, nil
}

// AddItem adds an item to the user's cart. When a line with the same identity
// pair (item type, item ID) already exists its quantity is increased instead
// of appending a duplicate. Optimistic locking guards against concurrent
// modifications from other devices or tabs.
func (s *CartService) AddItem(ctx context.Context, userID string, input AddItemInput) (*domain.Cart, error) {
	if userID == "" {
		return nil, apperrors.InvalidInput("user id is required")
	}

	itemType, err := domain.ParseItemType(input.ItemType)
	if err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}
	if input.ItemID <= 0 {
		return nil, apperrors.InvalidInput("item id must be a positive integer")
	}
	if input.Title == "" {
		return nil, apperrors.InvalidInput("title is required")
	}
	if input.Quantity <= 0 {
		return nil, apperrors.InvalidInput("quantity must be greater than 0")
	}
	if input.Quantity > MaxQuantityPerItem {
		return nil, apperrors.InvalidInput(fmt.Sprintf("quantity must not exceed %d", MaxQuantityPerItem))
	}

	price, err := domain.ParsePrice(input.Price)
	if err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}
	if price.GreaterThan(MaxPrice) {
		return nil, apperrors.InvalidInput(fmt.Sprintf("price must not exceed %s", MaxPrice.StringFixed(2)))
	}

	var details *decimal.Decimal
	if input.Details != "" {
		parsed, err := domain.ParsePrice(input.Details)
		if err != nil {
			return nil, apperrors.InvalidInput(err.Error())
		}
		details = &parsed
	}

	cart, err := s.getOrCreateCart(ctx, userID)
	if err != nil {
		return nil, err
	}

	expectedVersion := cart.Version

	if idx := cart.FindItemIndex(itemType, input.ItemID); idx >= 0 {
		newQty := cart.Items[idx].Quantity + input.Quantity
		if newQty > MaxQuantityPerItem {
			return nil, apperrors.InvalidInput(fmt.Sprintf("combined quantity must not exceed %d", MaxQuantityPerItem))
		}
		cart.Items[idx].Quantity = newQty
		// Refresh the denormalized fields in case the catalog price changed.
		cart.Items[idx].Title = input.Title
		cart.Items[idx].Price = price
		cart.Items[idx].Details = details
	} else {
		if len(cart.Items) >= MaxItemsPerCart {
			return nil, apperrors.InvalidInput(fmt.Sprintf("cart must not contain more than %d items", MaxItemsPerCart))
		}
		cart.Items = append(cart.Items, domain.CartItem{
			ID:       cart.NextItemID,
			ItemType: itemType,
			ItemID:   input.ItemID,
			Title:    input.Title,
			Price:    price,
			Quantity: input.Quantity,
			Details:  details,
		})
		cart.NextItemID++
	}

	if err := s.saveCart(ctx, cart, expectedVersion); err != nil {
		return nil, err
	}

	s.publishUpdated(ctx, cart)

	s.logger.InfoContext(ctx, "item added to cart",
		slog.String("user_id", userID),
		slog.String("item_type", input.ItemType),
		slog.Int64("item_id", input.ItemID),
		slog.Int("quantity", input.Quantity),
	)

	return cart, nil
}

// UpdateItemQuantity sets the quantity of a line identified by its identity
// pair. Quantity 0 removes the line; the stored quantity never drops below 1.
func (s *CartService) UpdateItemQuantity(ctx context.Context, userID, rawItemType string, itemID int64, quantity int) (*domain.Cart, error) {
	if userID == "" {
		return nil, apperrors.InvalidInput("user id is required")
	}

	itemType, err := domain.ParseItemType(rawItemType)
	if err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}
	if quantity < 0 {
		return nil, apperrors.InvalidInput("quantity must not be negative")
	}
	if quantity > MaxQuantityPerItem {
		return nil, apperrors.InvalidInput(fmt.Sprintf("quantity must not exceed %d", MaxQuantityPerItem))
	}

	cart, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get cart for update: %w", err)
	}

	expectedVersion := cart.Version

	idx := cart.FindItemIndex(itemType, itemID)
	if idx < 0 {
		return nil, apperrors.NotFound("cart item", fmt.Sprintf("%s/%d", itemType, itemID))
	}

	if quantity == 0 {
		cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
	} else {
		cart.Items[idx].Quantity = quantity
	}

	if err := s.saveCart(ctx, cart, expectedVersion); err != nil {
		return nil, err
	}

	s.publishUpdated(ctx, cart)

	s.logger.InfoContext(ctx, "cart item quantity updated",
		slog.String("user_id", userID),
		slog.String("item_type", rawItemType),
		slog.Int64("item_id", itemID),
		slog.Int("quantity", quantity),
	)

	return cart, nil
}

// RemoveItem removes the line identified by the identity pair.
func (s *CartService) RemoveItem(ctx context.Context, userID, rawItemType string, itemID int64) (*domain.Cart, error) {
	if userID == "" {
		return nil, apperrors.InvalidInput("user id is required")
	}

	itemType, err := domain.ParseItemType(rawItemType)
	if err != nil {
		return nil, apperrors.InvalidInput(err.Error())
	}

	cart, err := s.repo.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("get cart for remove: %w", err)
	}

	expectedVersion := cart.Version

	idx := cart.FindItemIndex(itemType, itemID)
	if idx < 0 {
		return nil, apperrors.NotFound("cart item", fmt.Sprintf("%s/%d", itemType, itemID))
	}
	cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)

	if err := s.saveCart(ctx, cart, expectedVersion); err != nil {
		return nil, err
	}

	s.publishUpdated(ctx, cart)

	s.logger.InfoContext(ctx, "item removed from cart",
		slog.String("user_id", userID),
		slog.String("item_type", rawItemType),
		slog.Int64("item_id", itemID),
	)

	return cart, nil
}

// ClearCart removes all items from the user's cart.
func (s *CartService) ClearCart(ctx context.Context, userID string) error {
	if userID == "" {
		return apperrors.InvalidInput("user id is required")
	}

	if err := s.repo.Delete(ctx, userID); err != nil {
		return fmt.Errorf("delete cart: %w", err)
	}

	if err := s.producer.PublishCartCleared(ctx, userID); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish cart.cleared event",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "cart cleared",
		slog.String("user_id", userID),
	)

	return nil
}

// saveCart persists the cart with optimistic locking and refreshed timestamps.
func (s *CartService) saveCart(ctx context.Context, cart *domain.Cart, expectedVersion int) error {
	now := time.Now().UTC()
	cart.UpdatedAt = now
	cart.ExpiresAt = now.Add(s.cartTTL)

	ok, err := s.repo.SaveIfVersion(ctx, cart, expectedVersion)
	if err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	if !ok {
		return apperrors.Conflict("cart was modified concurrently, please retry")
	}
	return nil
}

// publishUpdated emits a cart.updated event; publish failures are logged and
// never fail the operation.
func (s *CartService) publishUpdated(ctx context.Context, cart *domain.Cart) {
	if err := s.producer.PublishCartUpdated(ctx, cart); err != nil {
		s.logger.ErrorContext(ctx, "failed to publish cart.updated event",
			slog.String("user_id", cart.UserID),
			slog.String("error", err.Error()),
		)
	}
}

func (s *CartService) getOrCreateCart(ctx context.Context, userID string) (*domain.Cart, error) {
	cart, err := s.repo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return s.newEmptyCart(userID), nil
		}
		return nil, fmt.Errorf("get cart: %w", err)
	}
	return cart, nil
}

func (s *CartService) newEmptyCart(userID string) *domain.Cart {
	now := time.Now().UTC()
	return &domain.Cart{
		ID:         uuid.New().String(),
		UserID:     userID,
		Items:      []domain.CartItem{},
		Currency:   "USD",
		Version:    0,
		NextItemID: 1,
		CreatedAt:  now,
		UpdatedAt:  now,
		ExpiresAt:  now.Add(s.cartTTL),
	}
}
