package event

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Jolabdan-Technology-Solutions/dance-realmx-cart/internal/domain"
	pkgkafka "github.com/Jolabdan-Technology-Solutions/dance-realmx-cart/pkg/kafka"
)

// Kafka topics for cart domain events.
const (
	TopicCartUpdated = "dancerealmx.cart.updated"
	TopicCartCleared = "dancerealmx.cart.cleared"
)

const (
	AggregateTypeCart = "cart"
	SourceCartService = "cart-service"
)

// CartUpdatedData is the payload for a cart.updated event.
type CartUpdatedData struct {
	UserID    string         `json:"user_id"`
	Items     []CartItemData `json:"items"`
	ItemCount int            `json:"item_count"`
	Total     string         `json:"total"`
	Currency  string         `json:"currency"`
}

// CartItemData is the item payload within cart events.
type CartItemData struct {
	ID       int64  `json:"id"`
	ItemType string `json:"item_type"`
	ItemID   int64  `json:"item_id"`
	Title    string `json:"title"`
	Price    string `json:"price"`
	Quantity int    `json:"quantity"`
}

// CartClearedData is the payload for a cart.cleared event.
type CartClearedData struct {
	UserID string `json:"user_id"`
}

// Producer publishes cart domain events to Kafka.
type Producer struct {
	kafka  *pkgkafka.Producer
	logger *slog.Logger
}

// NewProducer creates an event producer for the cart service.
func NewProducer(kafka *pkgkafka.Producer, logger *slog.Logger) *Producer {
	return &Producer{
		kafka:  kafka,
		logger: logger,
	}
}

// PublishCartUpdated publishes a cart.updated event.
func (p *Producer) PublishCartUpdated(ctx context.Context, cart *domain.Cart) error {
	items := make([]CartItemData, len(cart.Items))
	for i, item := range cart.Items {
		items[i] = CartItemData{
			ID:       item.ID,
			ItemType: string(item.ItemType),
			ItemID:   item.ItemID,
			Title:    item.Title,
			Price:    item.Price.StringFixed(2),
			Quantity: item.Quantity,
		}
	}

	data := CartUpdatedData{
		UserID:    cart.UserID,
		Items:     items,
		ItemCount: cart.ItemCount(),
		Total:     cart.Total().StringFixed(2),
		Currency:  cart.Currency,
	}

	event, err := pkgkafka.NewEvent(TopicCartUpdated, cart.UserID, AggregateTypeCart, SourceCartService, data)
	if err != nil {
		return fmt.Errorf("create cart.updated event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicCartUpdated, event); err != nil {
		return fmt.Errorf("publish cart.updated event: %w", err)
	}

	p.logger.DebugContext(ctx, "published cart.updated event",
		slog.String("user_id", cart.UserID),
		slog.Int("item_count", cart.ItemCount()),
	)

	return nil
}

// PublishCartCleared publishes a cart.cleared event.
func (p *Producer) PublishCartCleared(ctx context.Context, userID string) error {
	event, err := pkgkafka.NewEvent(TopicCartCleared, userID, AggregateTypeCart, SourceCartService, CartClearedData{UserID: userID})
	if err != nil {
		return fmt.Errorf("create cart.cleared event: %w", err)
	}

	if err := p.kafka.Publish(ctx, TopicCartCleared, event); err != nil {
		return fmt.Errorf("publish cart.cleared event: %w", err)
	}

	p.logger.DebugContext(ctx, "published cart.cleared event",
		slog.String("user_id", userID),
	)

	return nil
}
