package models

import (
	"database/sql/driver"
	"errors"
	"fmt"
)

// OrderStatus is the lifecycle state of an order
type OrderStatus string

// Order statuses
const (
	OrderStatusAwaitingPayment OrderStatus = "AwaitingPayment"
	OrderStatusPending         OrderStatus = "Pending"
	OrderStatusShipped         OrderStatus = "Shipped"
	OrderStatusDelivered       OrderStatus = "Delivered"
	OrderStatusCancelled       OrderStatus = "Cancelled"
)

// ErrUnknownStatus is returned when a status string is not one of the known states
var ErrUnknownStatus = errors.New("unknown order status")

var allStatuses = []OrderStatus{
	OrderStatusAwaitingPayment,
	OrderStatusPending,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

// ParseOrderStatus converts s into an OrderStatus
func ParseOrderStatus(s string) (OrderStatus, error) {
	for _, st := range allStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownStatus, s)
}

// Actor distinguishes who is driving a transition. Some edges are reserved
// for the payment bridge and may not be taken by an administrator.
type Actor int

const (
	ActorAdmin Actor = iota
	ActorPayment
)

// transitions lists the allowed edges and which actor may take them.
var transitions = map[OrderStatus]map[OrderStatus]Actor{
	OrderStatusAwaitingPayment: {
		OrderStatusPending:   ActorPayment,
		OrderStatusCancelled: ActorPayment,
	},
	OrderStatusPending: {
		OrderStatusShipped:   ActorAdmin,
		OrderStatusDelivered: ActorAdmin,
		OrderStatusCancelled: ActorAdmin,
	},
	OrderStatusShipped: {
		OrderStatusDelivered: ActorAdmin,
		OrderStatusCancelled: ActorAdmin,
	},
	OrderStatusDelivered: {
		OrderStatusCancelled: ActorAdmin,
	},
}

// CanTransition reports whether actor may move an order from s to next.
func (s OrderStatus) CanTransition(next OrderStatus, actor Actor) bool {
	edges, ok := transitions[s]
	if !ok {
		return false
	}
	owner, ok := edges[next]
	return ok && owner == actor
}

// IsTerminal reports whether no further transitions leave s
func (s OrderStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// Scan implements sql.Scanner
func (s *OrderStatus) Scan(src interface{}) error {
	var raw string
	switch v := src.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	default:
		return fmt.Errorf("cannot scan %T into OrderStatus", src)
	}
	parsed, err := ParseOrderStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Value implements driver.Valuer
func (s OrderStatus) Value() (driver.Value, error) {
	return string(s), nil
}
