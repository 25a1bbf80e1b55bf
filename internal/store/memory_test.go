package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buntythecoder/trademaster-trading-service-sub002/pkg/types"
)

func newOrder(orderID string, userID int64) *types.Order {
	now := time.Now()
	return &types.Order{
		OrderID:     orderID,
		UserID:      userID,
		Symbol:      "RELIANCE",
		Exchange:    types.ExchangeNSE,
		Side:        types.OrderSideBuy,
		Type:        types.OrderTypeLimit,
		Status:      types.OrderStatusNew,
		Quantity:    100,
		TimeInForce: types.TimeInForceDay,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestSaveAssignsIDAndVersion(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	saved, err := s.Save(ctx, newOrder("ORD-1", 7))
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Version)
	assert.NotZero(t, saved.ID)

	_, err = s.Save(ctx, newOrder("ORD-1", 7))
	require.Error(t, err)
	var storageErr *types.StorageError
	assert.ErrorAs(t, err, &storageErr)
}

func TestFindByOrderIDReturnsCopy(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.Save(ctx, newOrder("ORD-1", 7))
	require.NoError(t, err)

	first, err := s.FindByOrderID(ctx, "ORD-1")
	require.NoError(t, err)
	first.Status = types.OrderStatusFilled

	second, err := s.FindByOrderID(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusNew, second.Status)
}

func TestFindByOrderIDMissing(t *testing.T) {
	s := NewMemoryStore()

	_, err := s.FindByOrderID(context.Background(), "ORD-MISSING")
	var notFound *types.NotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "ORD-MISSING", notFound.OrderID)
}

func TestUpdateIfVersionConflict(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	saved, err := s.Save(ctx, newOrder("ORD-1", 7))
	require.NoError(t, err)

	saved.Status = types.OrderStatusPending
	updated, err := s.UpdateIfVersion(ctx, saved, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), updated.Version)

	// Stale writer still holds version 1
	saved.Status = types.OrderStatusCancelled
	_, err = s.UpdateIfVersion(ctx, saved, 1)
	var conflict *types.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "ORD-1", conflict.OrderID)

	current, err := s.FindByOrderID(ctx, "ORD-1")
	require.NoError(t, err)
	assert.Equal(t, types.OrderStatusPending, current.Status)
}

func TestUpdateIfVersionPreservesIdentity(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	saved, err := s.Save(ctx, newOrder("ORD-1", 7))
	require.NoError(t, err)

	saved.ID = 999
	saved.UserID = 42
	updated, err := s.UpdateIfVersion(ctx, saved, 1)
	require.NoError(t, err)

	assert.NotEqual(t, int64(999), updated.ID)
	assert.Equal(t, int64(7), updated.UserID)
}

func TestFindByUserIDNewestFirstPaged(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	base := time.Now()
	for i := 0; i < 5; i++ {
		o := newOrder(fmt.Sprintf("ORD-%d", i), 7)
		o.CreatedAt = base.Add(time.Duration(i) * time.Second)
		_, err := s.Save(ctx, o)
		require.NoError(t, err)
	}

	page, err := s.FindByUserID(ctx, 7, types.Page{Number: 0, Size: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "ORD-4", page[0].OrderID)
	assert.Equal(t, "ORD-3", page[1].OrderID)

	last, err := s.FindByUserID(ctx, 7, types.Page{Number: 2, Size: 2})
	require.NoError(t, err)
	require.Len(t, last, 1)
	assert.Equal(t, "ORD-0", last[0].OrderID)

	empty, err := s.FindByUserID(ctx, 7, types.Page{Number: 9, Size: 2})
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestFindByStatusIn(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a := newOrder("ORD-A", 1)
	a.Status = types.OrderStatusAcknowledged
	b := newOrder("ORD-B", 2)
	b.Status = types.OrderStatusFilled
	c := newOrder("ORD-C", 3)
	c.Status = types.OrderStatusPartiallyFilled

	for _, o := range []*types.Order{a, b, c} {
		_, err := s.Save(ctx, o)
		require.NoError(t, err)
	}

	active, err := s.FindByStatusIn(ctx, []types.OrderStatus{
		types.OrderStatusAcknowledged, types.OrderStatusPartiallyFilled,
	})
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "ORD-A", active[0].OrderID)
	assert.Equal(t, "ORD-C", active[1].OrderID)
}

func TestCountActive(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	a := newOrder("ORD-A", 1)
	b := newOrder("ORD-B", 1)
	b.Status = types.OrderStatusFilled
	c := newOrder("ORD-C", 2)

	for _, o := range []*types.Order{a, b, c} {
		_, err := s.Save(ctx, o)
		require.NoError(t, err)
	}

	assert.Equal(t, int64(2), s.CountActive(ctx))
	assert.Equal(t, int64(1), s.CountActiveByUser(ctx, 1))
	assert.Equal(t, int64(1), s.CountActiveByUser(ctx, 2))
	assert.Equal(t, int64(0), s.CountActiveByUser(ctx, 3))
}

func TestConcurrentUpdatesSingleWinner(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	_, err := s.Save(ctx, newOrder("ORD-1", 7))
	require.NoError(t, err)

	const writers = 50
	var wg sync.WaitGroup
	wins := make(chan struct{}, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, err := s.FindByOrderID(ctx, "ORD-1")
			if err != nil {
				return
			}
			o.Status = types.OrderStatusPending
			if _, err := s.UpdateIfVersion(ctx, o, 1); err == nil {
				wins <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(wins)

	var count int
	for range wins {
		count++
	}
	assert.Equal(t, 1, count, "exactly one writer should win at version 1")
}
