package store

import (
	"context"

	"github.com/buntythecoder/trademaster-trading-service-sub002/pkg/types"
)

// Repository is the durable order store. Implementations must return deep
// copies: callers never observe each other's mutations through shared
// pointers.
type Repository interface {
	// Save persists a new order. The stored version starts at 1.
	Save(ctx context.Context, order *types.Order) (*types.Order, error)

	// FindByOrderID returns the order or a NotFoundError.
	FindByOrderID(ctx context.Context, orderID string) (*types.Order, error)

	// FindByUserID returns the user's orders, newest first, paged.
	FindByUserID(ctx context.Context, userID int64, page types.Page) ([]*types.Order, error)

	// FindByStatusIn returns every order whose status is in the given set.
	FindByStatusIn(ctx context.Context, statuses []types.OrderStatus) ([]*types.Order, error)

	// UpdateIfVersion applies the update only when the stored version equals
	// expectedVersion, bumping the version by one. A mismatch returns
	// ConflictError; a missing order returns NotFoundError.
	UpdateIfVersion(ctx context.Context, order *types.Order, expectedVersion int64) (*types.Order, error)

	// CountActive returns the number of non-terminal orders, used by the
	// active-orders gauge.
	CountActive(ctx context.Context) int64

	// CountActiveByUser returns the user's non-terminal order count, used by
	// the risk gate's open-order limit.
	CountActiveByUser(ctx context.Context, userID int64) int64
}
