package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderStatusCanAdvanceTo(t *testing.T) {
	tests := []struct {
		from OrderStatus
		to   OrderStatus
		ok   bool
	}{
		{OrderStatusPending, OrderStatusConfirmed, true},
		{OrderStatusConfirmed, OrderStatusPreparingShipment, true},
		{OrderStatusConfirmed, OrderStatusDelivered, true}, // skipping stages forward is allowed
		{OrderStatusDelivered, OrderStatusActivated, true},
		{OrderStatusActivated, OrderStatusDelivered, false},
		{OrderStatusShipped, OrderStatusConfirmed, false},
		{OrderStatusConfirmed, OrderStatusConfirmed, false},
		{OrderStatusPending, OrderStatus("lost"), false},
		{OrderStatus("lost"), OrderStatusConfirmed, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.ok, tt.from.CanAdvanceTo(tt.to), "%s -> %s", tt.from, tt.to)
	}
}

func TestOrderStatusAtLeast(t *testing.T) {
	assert.True(t, OrderStatusDelivered.AtLeast(OrderStatusDelivered))
	assert.True(t, OrderStatusActivated.AtLeast(OrderStatusDelivered))
	assert.False(t, OrderStatusShipped.AtLeast(OrderStatusDelivered))
	assert.False(t, OrderStatus("lost").AtLeast(OrderStatusDelivered))
}

func TestOrderStatusValid(t *testing.T) {
	for _, s := range []OrderStatus{
		OrderStatusPending, OrderStatusConfirmed, OrderStatusPreparingShipment,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusActivated,
	} {
		assert.True(t, s.Valid(), string(s))
	}
	assert.False(t, OrderStatus("").Valid())
	assert.False(t, OrderStatus("cancelled").Valid())
}
