package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"smarteen-shop/internal/models"

	"github.com/segmentio/kafka-go"
)

// EventPublisher handles publishing order lifecycle events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishOrderConfirmed publishes OrderConfirmed event
func (ep *EventPublisher) PublishOrderConfirmed(ctx context.Context, event *models.OrderConfirmedEvent) error {
	return ep.producer.PublishEvent(ctx, fmt.Sprintf("order-%s", event.OrderID), event)
}

// PublishBatchReady publishes BatchReady event
func (ep *EventPublisher) PublishBatchReady(ctx context.Context, event *models.BatchReadyEvent) error {
	return ep.producer.PublishEvent(ctx, fmt.Sprintf("batch-%s", event.BatchID), event)
}

// PublishBatchShipped publishes BatchShipped event
func (ep *EventPublisher) PublishBatchShipped(ctx context.Context, event *models.BatchShippedEvent) error {
	return ep.producer.PublishEvent(ctx, fmt.Sprintf("batch-%s", event.BatchID), event)
}

// PublishSubscriptionActivated publishes SubscriptionActivated event
func (ep *EventPublisher) PublishSubscriptionActivated(ctx context.Context, event *models.SubscriptionActivatedEvent) error {
	return ep.producer.PublishEvent(ctx, fmt.Sprintf("order-%s", event.OrderID), event)
}

// PublishSubscriptionCancelled publishes SubscriptionCancelled event
func (ep *EventPublisher) PublishSubscriptionCancelled(ctx context.Context, event *models.SubscriptionCancelledEvent) error {
	return ep.producer.PublishEvent(ctx, fmt.Sprintf("order-%s", event.OrderID), event)
}

// EventHandler routes consumed lifecycle events to registered callbacks
type EventHandler struct {
	onBatchReady            func(context.Context, *models.BatchReadyEvent) error
	onBatchShipped          func(context.Context, *models.BatchShippedEvent) error
	onOrderConfirmed        func(context.Context, *models.OrderConfirmedEvent) error
	onSubscriptionActivated func(context.Context, *models.SubscriptionActivatedEvent) error
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{}
}

// OnBatchReady registers a handler for BatchReady events
func (eh *EventHandler) OnBatchReady(handler func(context.Context, *models.BatchReadyEvent) error) {
	eh.onBatchReady = handler
}

// OnBatchShipped registers a handler for BatchShipped events
func (eh *EventHandler) OnBatchShipped(handler func(context.Context, *models.BatchShippedEvent) error) {
	eh.onBatchShipped = handler
}

// OnOrderConfirmed registers a handler for OrderConfirmed events
func (eh *EventHandler) OnOrderConfirmed(handler func(context.Context, *models.OrderConfirmedEvent) error) {
	eh.onOrderConfirmed = handler
}

// OnSubscriptionActivated registers a handler for SubscriptionActivated events
func (eh *EventHandler) OnSubscriptionActivated(handler func(context.Context, *models.SubscriptionActivatedEvent) error) {
	eh.onSubscriptionActivated = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	log.Printf("Handling event: type=%s, id=%s", baseEvent.EventType, baseEvent.EventID)

	switch baseEvent.EventType {
	case models.EventTypeBatchReady:
		if eh.onBatchReady != nil {
			var event models.BatchReadyEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal BatchReady event: %w", err)
			}
			return eh.onBatchReady(ctx, &event)
		}

	case models.EventTypeBatchShipped:
		if eh.onBatchShipped != nil {
			var event models.BatchShippedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal BatchShipped event: %w", err)
			}
			return eh.onBatchShipped(ctx, &event)
		}

	case models.EventTypeOrderConfirmed:
		if eh.onOrderConfirmed != nil {
			var event models.OrderConfirmedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal OrderConfirmed event: %w", err)
			}
			return eh.onOrderConfirmed(ctx, &event)
		}

	case models.EventTypeSubscriptionActivated:
		if eh.onSubscriptionActivated != nil {
			var event models.SubscriptionActivatedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal SubscriptionActivated event: %w", err)
			}
			return eh.onSubscriptionActivated(ctx, &event)
		}

	default:
		log.Printf("Unhandled event type: %s", baseEvent.EventType)
	}

	return nil
}
