package models

import "time"

// Event types
const (
	EventTypeOrderCreated       = "ORDER_CREATED"
	EventTypeOrderStatusChanged = "ORDER_STATUS_CHANGED"
	EventTypePointsAwarded      = "POINTS_AWARDED"
	EventTypePointsReversed     = "POINTS_REVERSED"
	EventTypePaymentConfirmed   = "PAYMENT_CONFIRMED"
	EventTypePaymentFailed      = "PAYMENT_FAILED"
	EventTypePaymentOutcome     = "PAYMENT_OUTCOME"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderCreatedEvent published when an order is persisted
type OrderCreatedEvent struct {
	BaseEvent
	OrderID         int64           `json:"order_id"`
	CustomerID      int64           `json:"customer_id"`
	Amount          string          `json:"amount"`
	Status          OrderStatus     `json:"status"`
	PaymentMethod   PaymentMethod   `json:"payment_method"`
	DiscountApplied bool            `json:"discount_applied"`
	Items           []OrderItemData `json:"items"`
}

// OrderStatusChangedEvent published after a committed status transition
type OrderStatusChangedEvent struct {
	BaseEvent
	OrderID    int64       `json:"order_id"`
	CustomerID int64       `json:"customer_id"`
	From       OrderStatus `json:"from"`
	To         OrderStatus `json:"to"`
}

// PointsEvent published when loyalty points are awarded or reversed
type PointsEvent struct {
	BaseEvent
	OrderID    int64 `json:"order_id"`
	CustomerID int64 `json:"customer_id"`
	Delta      int   `json:"delta"`
	Balance    int   `json:"balance"`
}

// PaymentResultEvent published by the confirmation bridge
type PaymentResultEvent struct {
	BaseEvent
	OrderID       int64  `json:"order_id"`
	TransactionID string `json:"transaction_id"`
	Reason        string `json:"reason,omitempty"`
}

// PaymentOutcomeEvent is consumed from the gateway adapter topic
type PaymentOutcomeEvent struct {
	BaseEvent
	TransactionID  string `json:"transaction_id"`
	ReportedAmount int64  `json:"reported_amount"`
	GatewayStatus  string `json:"gateway_status"`
}

// OrderItemData represents item data in events
type OrderItemData struct {
	ProductID int64  `json:"product_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unit_price"`
}
