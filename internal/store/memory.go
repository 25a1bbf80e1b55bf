package store

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/buntythecoder/trademaster-trading-service-sub002/pkg/types"
)

// MemoryStore is the in-process Repository implementation. Orders are kept
// by external order id with secondary indexes per user; every read and write
// clones so the map never leaks mutable state.
type MemoryStore struct {
	mu     sync.RWMutex
	orders map[string]*types.Order
	byUser map[int64][]string

	nextID atomic.Int64
}

// NewMemoryStore creates an empty in-memory order store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders: make(map[string]*types.Order),
		byUser: make(map[int64][]string),
	}
}

// Save persists a new order with version 1 and a fresh internal id
func (s *MemoryStore) Save(ctx context.Context, order *types.Order) (*types.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, &types.StorageError{Op: "save", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.orders[order.OrderID]; exists {
		return nil, &types.StorageError{Op: "save", Err: errDuplicateOrderID(order.OrderID)}
	}

	stored := order.Clone()
	stored.ID = s.nextID.Add(1)
	stored.Version = 1

	s.orders[stored.OrderID] = stored
	s.byUser[stored.UserID] = append(s.byUser[stored.UserID], stored.OrderID)

	return stored.Clone(), nil
}

// FindByOrderID looks up a single order
func (s *MemoryStore) FindByOrderID(ctx context.Context, orderID string) (*types.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, &types.StorageError{Op: "find", Err: err}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	order, exists := s.orders[orderID]
	if !exists {
		return nil, &types.NotFoundError{OrderID: orderID}
	}
	return order.Clone(), nil
}

// FindByUserID returns the user's orders, newest first
func (s *MemoryStore) FindByUserID(ctx context.Context, userID int64, page types.Page) ([]*types.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, &types.StorageError{Op: "find", Err: err}
	}
	if page.Size <= 0 {
		page = types.DefaultPage()
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.byUser[userID]
	orders := make([]*types.Order, 0, len(ids))
	for _, id := range ids {
		if o, ok := s.orders[id]; ok {
			orders = append(orders, o)
		}
	}

	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID > orders[j].ID
		}
		return orders[i].CreatedAt.After(orders[j].CreatedAt)
	})

	start := page.Number * page.Size
	if start >= len(orders) {
		return []*types.Order{}, nil
	}
	end := start + page.Size
	if end > len(orders) {
		end = len(orders)
	}

	result := make([]*types.Order, 0, end-start)
	for _, o := range orders[start:end] {
		result = append(result, o.Clone())
	}
	return result, nil
}

// FindByStatusIn scans for orders in any of the given statuses
func (s *MemoryStore) FindByStatusIn(ctx context.Context, statuses []types.OrderStatus) ([]*types.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, &types.StorageError{Op: "find", Err: err}
	}

	wanted := make(map[types.OrderStatus]struct{}, len(statuses))
	for _, st := range statuses {
		wanted[st] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*types.Order
	for _, o := range s.orders {
		if _, ok := wanted[o.Status]; ok {
			result = append(result, o.Clone())
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// UpdateIfVersion is the optimistic-concurrency write path. The stored
// version must match expectedVersion; the update lands with version+1.
func (s *MemoryStore) UpdateIfVersion(ctx context.Context, order *types.Order, expectedVersion int64) (*types.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, &types.StorageError{Op: "update", Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, exists := s.orders[order.OrderID]
	if !exists {
		return nil, &types.NotFoundError{OrderID: order.OrderID}
	}
	if current.Version != expectedVersion {
		return nil, &types.ConflictError{OrderID: order.OrderID}
	}

	stored := order.Clone()
	stored.ID = current.ID
	stored.UserID = current.UserID
	stored.Version = expectedVersion + 1

	s.orders[stored.OrderID] = stored
	return stored.Clone(), nil
}

// CountActive counts non-terminal orders
func (s *MemoryStore) CountActive(ctx context.Context) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, o := range s.orders {
		if !o.IsTerminal() {
			n++
		}
	}
	return n
}

// CountActiveByUser counts the user's non-terminal orders
func (s *MemoryStore) CountActiveByUser(ctx context.Context, userID int64) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, id := range s.byUser[userID] {
		if o, ok := s.orders[id]; ok && !o.IsTerminal() {
			n++
		}
	}
	return n
}

type errDuplicateOrderID string

func (e errDuplicateOrderID) Error() string {
	return "duplicate order id " + string(e)
}
