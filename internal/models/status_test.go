package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from  OrderStatus
		to    OrderStatus
		actor Actor
		want  bool
	}{
		{OrderStatusAwaitingPayment, OrderStatusPending, ActorPayment, true},
		{OrderStatusAwaitingPayment, OrderStatusPending, ActorAdmin, false},
		{OrderStatusAwaitingPayment, OrderStatusCancelled, ActorAdmin, false},
		{OrderStatusPending, OrderStatusShipped, ActorAdmin, true},
		{OrderStatusPending, OrderStatusDelivered, ActorAdmin, true},
		{OrderStatusPending, OrderStatusCancelled, ActorAdmin, true},
		{OrderStatusPending, OrderStatusAwaitingPayment, ActorAdmin, false},
		{OrderStatusShipped, OrderStatusPending, ActorAdmin, false},
		{OrderStatusShipped, OrderStatusDelivered, ActorAdmin, true},
		{OrderStatusDelivered, OrderStatusCancelled, ActorAdmin, true},
		{OrderStatusDelivered, OrderStatusShipped, ActorAdmin, false},
		{OrderStatusCancelled, OrderStatusPending, ActorAdmin, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransition(tt.to, tt.actor))
		})
	}
}

func TestIsTerminal(t *testing.T) {
	assert.True(t, OrderStatusCancelled.IsTerminal())
	assert.False(t, OrderStatusDelivered.IsTerminal())
	assert.False(t, OrderStatusPending.IsTerminal())
}

func TestParseOrderStatus(t *testing.T) {
	st, err := ParseOrderStatus("Shipped")
	require.NoError(t, err)
	assert.Equal(t, OrderStatusShipped, st)

	_, err = ParseOrderStatus("shipped")
	assert.ErrorIs(t, err, ErrUnknownStatus)
}

func TestOrderStatusScan(t *testing.T) {
	var st OrderStatus
	require.NoError(t, st.Scan([]byte("Delivered")))
	assert.Equal(t, OrderStatusDelivered, st)

	assert.Error(t, st.Scan(42))
	assert.Error(t, st.Scan("Lost"))
}

func TestItemsSubtotal(t *testing.T) {
	order := &Order{Items: []OrderItem{
		{Price: decimal.NewFromInt(100), Quantity: 2},
		{Price: decimal.RequireFromString("12.50"), Quantity: 4},
	}}

	assert.True(t, decimal.NewFromInt(250).Equal(order.ItemsSubtotal()))
}
