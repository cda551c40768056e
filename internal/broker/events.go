package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"grocery-order-service/internal/models"
	"grocery-order-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// Publisher is the subset of Producer the event publisher needs
type Publisher interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
}

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer Publisher
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer Publisher) *EventPublisher {
	return &EventPublisher{producer: producer}
}

func orderKey(orderID int64) string {
	return fmt.Sprintf("order-%d", orderID)
}

// PublishOrderCreated publishes OrderCreated event
func (ep *EventPublisher) PublishOrderCreated(ctx context.Context, event *models.OrderCreatedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishStatusChanged publishes OrderStatusChanged event
func (ep *EventPublisher) PublishStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishPoints publishes PointsAwarded and PointsReversed events
func (ep *EventPublisher) PublishPoints(ctx context.Context, event *models.PointsEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// PublishPaymentResult publishes PaymentConfirmed and PaymentFailed events
func (ep *EventPublisher) PublishPaymentResult(ctx context.Context, event *models.PaymentResultEvent) error {
	return ep.producer.PublishEvent(ctx, orderKey(event.OrderID), event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onPaymentOutcome func(context.Context, *models.PaymentOutcomeEvent) error
	logger           *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnPaymentOutcome registers a handler for PaymentOutcome events
func (eh *EventHandler) OnPaymentOutcome(handler func(context.Context, *models.PaymentOutcomeEvent) error) {
	eh.onPaymentOutcome = handler
}

// HandleMessage routes messages to appropriate handlers. Undecodable
// payloads are reported as ErrSkipMessage so they do not block the partition.
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("%w: unmarshal base event: %v", ErrSkipMessage, err)
	}

	eh.logger.Debug("Handling event",
		zap.String("event_type", baseEvent.EventType),
		zap.String("event_id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypePaymentOutcome:
		if eh.onPaymentOutcome != nil {
			var event models.PaymentOutcomeEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("%w: unmarshal PaymentOutcome event: %v", ErrSkipMessage, err)
			}
			return eh.onPaymentOutcome(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("event_type", baseEvent.EventType))
	}

	return nil
}
