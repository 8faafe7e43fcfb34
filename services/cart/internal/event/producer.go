package event

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	pkgkafka "github.com/Aayuv360/Moha-sub001/pkg/kafka"
	"github.com/Aayuv360/Moha-sub001/pkg/logger"
)

// Kafka topic constants for cart domain events.
const (
	TopicCartUpdated = "ecommerce.cart.updated"
	TopicCartMerged  = "ecommerce.cart.merged"
)

// Aggregate type constant.
const AggregateTypeCart = "cart"

// Source identifier for events originating from the cart service.
const SourceCartService = "cart-service"

// Action names the mutation carried by a cart.updated event.
type Action string

const (
	ActionItemAdded   Action = "item_added"
	ActionItemUpdated Action = "item_updated"
	ActionItemRemoved Action = "item_removed"
)

// CartUpdatedData is the payload for a cart.updated event.
type CartUpdatedData struct {
	OwnerKey  string `json:"owner_key"`
	Action    Action `json:"action"`
	ItemID    string `json:"item_id"`
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// CartMergedData is the payload for a cart.merged event.
type CartMergedData struct {
	SessionOwner string `json:"session_owner"`
	UserOwner    string `json:"user_owner"`
	Moved        int    `json:"moved"`
	Combined     int    `json:"combined"`
	ItemCount    int    `json:"item_count"`
}

// Publisher sends an envelope to a topic. *pkgkafka.Producer satisfies it.
type Publisher interface {
	Publish(ctx context.Context, topic string, event *pkgkafka.Event) error
}

// Producer publishes cart domain events to Kafka.
type Producer struct {
	publisher Publisher
	logger    *slog.Logger
}

// NewProducer creates a new event producer for the cart service.
func NewProducer(publisher Publisher, logger *slog.Logger) *Producer {
	return &Producer{
		publisher: publisher,
		logger:    logger,
	}
}

// PublishCartUpdated publishes a cart.updated event keyed by owner.
func (p *Producer) PublishCartUpdated(ctx context.Context, data CartUpdatedData) error {
	if err := p.publish(ctx, TopicCartUpdated, data.OwnerKey, data); err != nil {
		return err
	}

	p.logger.DebugContext(ctx, "published cart.updated event",
		slog.String("owner_key", data.OwnerKey),
		slog.String("action", string(data.Action)),
	)
	return nil
}

// PublishCartMerged publishes a cart.merged event keyed by the user owner.
func (p *Producer) PublishCartMerged(ctx context.Context, data CartMergedData) error {
	if err := p.publish(ctx, TopicCartMerged, data.UserOwner, data); err != nil {
		return err
	}

	p.logger.DebugContext(ctx, "published cart.merged event",
		slog.String("user_owner", data.UserOwner),
		slog.Int("moved", data.Moved),
		slog.Int("combined", data.Combined),
	)
	return nil
}

func (p *Producer) publish(ctx context.Context, topic, aggregateID string, data any) error {
	event, err := pkgkafka.NewEvent(topic, aggregateID, AggregateTypeCart, SourceCartService, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", topic, err)
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		event.WithCorrelationID(id)
	}
	if kind, _, ok := strings.Cut(aggregateID, ":"); ok {
		event.WithMetadata("owner_kind", kind)
	}

	if err := p.publisher.Publish(ctx, topic, event); err != nil {
		return fmt.Errorf("publish %s event: %w", topic, err)
	}
	return nil
}

// Nop discards events. It is used when Kafka is disabled.
type Nop struct{}

func (Nop) PublishCartUpdated(context.Context, CartUpdatedData) error { return nil }

func (Nop) PublishCartMerged(context.Context, CartMergedData) error { return nil }
