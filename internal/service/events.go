package service

import (
	"context"
	"time"

	"grocery-order-service/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// events publishes after commit. Failures are logged and never undo the
// unit of work that produced the event.
type events struct {
	publisher EventPublisher
	logger    *zap.Logger
}

func newBaseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

func (e events) send(eventType string, publish func() error) {
	if e.publisher == nil {
		return
	}
	if err := publish(); err != nil {
		e.logger.Error("Failed to publish event",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

func (e events) orderCreated(ctx context.Context, order *models.Order) {
	items := make([]models.OrderItemData, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, models.OrderItemData{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.Price.StringFixed(2),
		})
	}

	event := &models.OrderCreatedEvent{
		BaseEvent:       newBaseEvent(models.EventTypeOrderCreated),
		OrderID:         order.ID,
		CustomerID:      order.CustomerID,
		Amount:          order.Amount.StringFixed(2),
		Status:          order.Status,
		PaymentMethod:   order.PaymentMethod,
		DiscountApplied: order.DiscountApplied,
		Items:           items,
	}
	e.send(event.EventType, func() error { return e.publisher.PublishOrderCreated(ctx, event) })
}

func (e events) statusChanged(ctx context.Context, order *models.Order, from models.OrderStatus) {
	event := &models.OrderStatusChangedEvent{
		BaseEvent:  newBaseEvent(models.EventTypeOrderStatusChanged),
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		From:       from,
		To:         order.Status,
	}
	e.send(event.EventType, func() error { return e.publisher.PublishStatusChanged(ctx, event) })
}

func (e events) points(ctx context.Context, eventType string, order *models.Order, delta, balance int) {
	event := &models.PointsEvent{
		BaseEvent:  newBaseEvent(eventType),
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Delta:      delta,
		Balance:    balance,
	}
	e.send(event.EventType, func() error { return e.publisher.PublishPoints(ctx, event) })
}

func (e events) paymentResult(ctx context.Context, eventType string, order *models.Order, reason string) {
	event := &models.PaymentResultEvent{
		BaseEvent: newBaseEvent(eventType),
		OrderID:   order.ID,
		Reason:    reason,
	}
	if order.TransactionID != nil {
		event.TransactionID = *order.TransactionID
	}
	e.send(event.EventType, func() error { return e.publisher.PublishPaymentResult(ctx, event) })
}
