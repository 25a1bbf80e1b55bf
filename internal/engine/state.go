package engine

import (
	"fmt"

	"github.com/buntythecoder/trademaster-trading-service-sub002/pkg/types"
)

// transitions is the order state machine. Absence means the move is illegal.
var transitions = map[types.OrderStatus][]types.OrderStatus{
	types.OrderStatusNew: {
		types.OrderStatusPending,
		types.OrderStatusRejected,
		types.OrderStatusCancelled,
	},
	types.OrderStatusPending: {
		types.OrderStatusAcknowledged,
		types.OrderStatusRejected,
		types.OrderStatusCancelPending,
		types.OrderStatusCancelled,
		types.OrderStatusExpired,
	},
	types.OrderStatusAcknowledged: {
		types.OrderStatusPartiallyFilled,
		types.OrderStatusFilled,
		types.OrderStatusCancelPending,
		types.OrderStatusCancelled,
		types.OrderStatusExpired,
	},
	types.OrderStatusPartiallyFilled: {
		types.OrderStatusPartiallyFilled,
		types.OrderStatusFilled,
		types.OrderStatusCancelPending,
		types.OrderStatusCancelled,
		types.OrderStatusExpired,
	},
	types.OrderStatusCancelPending: {
		types.OrderStatusCancelPending,
		types.OrderStatusCancelled,
		types.OrderStatusFilled,
	},
}

// CanTransition reports whether from -> to is a legal state machine move
func CanTransition(from, to types.OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// transition mutates the order's status after checking the state machine
func transition(order *types.Order, to types.OrderStatus) error {
	if !CanTransition(order.Status, to) {
		return &types.OrderRejectedError{
			OrderID: order.OrderID,
			Reason:  fmt.Sprintf("illegal transition %s -> %s", order.Status, to),
		}
	}
	order.Status = to
	return nil
}
