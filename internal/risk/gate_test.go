package risk

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buntythecoder/trademaster-trading-service-sub002/internal/store"
	"github.com/buntythecoder/trademaster-trading-service-sub002/pkg/types"
)

func limitReq(qty int64, price float64) *types.OrderRequest {
	return &types.OrderRequest{
		Symbol:      "RELIANCE",
		Exchange:    types.ExchangeNSE,
		Side:        types.OrderSideBuy,
		Type:        types.OrderTypeLimit,
		Quantity:    qty,
		LimitPrice:  decimal.NewFromFloat(price),
		TimeInForce: types.TimeInForceDay,
	}
}

func TestAssessNotionalCap(t *testing.T) {
	gate := NewLimitGate(10_000_000, 0, store.NewMemoryStore())
	ctx := context.Background()

	// 100 * 2500 = 250,000, well under the cap
	approval, err := gate.Assess(ctx, limitReq(100, 2500), 7)
	require.NoError(t, err)
	assert.Equal(t, RiskLevelLow, approval.RiskLevel)

	// 1,000 * 2500 = 2,500,000, a quarter of the cap
	approval, err = gate.Assess(ctx, limitReq(1_000, 2500), 7)
	require.NoError(t, err)
	assert.Equal(t, RiskLevelMedium, approval.RiskLevel)

	// 3,000 * 2500 = 7,500,000, over half the cap
	approval, err = gate.Assess(ctx, limitReq(3_000, 2500), 7)
	require.NoError(t, err)
	assert.Equal(t, RiskLevelHigh, approval.RiskLevel)

	// 5,000 * 2500 = 12,500,000, declined
	_, err = gate.Assess(ctx, limitReq(5_000, 2500), 7)
	var riskErr *types.RiskError
	require.ErrorAs(t, err, &riskErr)
	assert.Equal(t, RiskLevelHigh, riskErr.RiskLevel)
}

func TestAssessMarketOrderUnbounded(t *testing.T) {
	gate := NewLimitGate(10_000_000, 0, store.NewMemoryStore())

	req := limitReq(100, 0)
	req.Type = types.OrderTypeMarket
	req.LimitPrice = decimal.Zero

	approval, err := gate.Assess(context.Background(), req, 7)
	require.NoError(t, err)
	assert.Equal(t, RiskLevelMedium, approval.RiskLevel)
	assert.NotEmpty(t, approval.Reasons)
}

func TestAssessStopOrderUsesStopPrice(t *testing.T) {
	gate := NewLimitGate(10_000_000, 0, store.NewMemoryStore())

	req := &types.OrderRequest{
		Symbol:      "RELIANCE",
		Exchange:    types.ExchangeNSE,
		Side:        types.OrderSideSell,
		Type:        types.OrderTypeStopLoss,
		Quantity:    5_000,
		StopPrice:   decimal.NewFromInt(2500),
		TimeInForce: types.TimeInForceDay,
	}

	_, err := gate.Assess(context.Background(), req, 7)
	var riskErr *types.RiskError
	require.ErrorAs(t, err, &riskErr)
}

func TestAssessActiveOrderLimit(t *testing.T) {
	repo := store.NewMemoryStore()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		now := time.Now()
		_, err := repo.Save(ctx, &types.Order{
			OrderID:   types.FormatTimestamp(now) + string(rune('A'+i)),
			UserID:    7,
			Symbol:    "RELIANCE",
			Exchange:  types.ExchangeNSE,
			Side:      types.OrderSideBuy,
			Type:      types.OrderTypeLimit,
			Status:    types.OrderStatusAcknowledged,
			Quantity:  10,
			CreatedAt: now,
			UpdatedAt: now,
		})
		require.NoError(t, err)
	}

	gate := NewLimitGate(10_000_000, 2, repo)

	_, err := gate.Assess(ctx, limitReq(100, 2500), 7)
	var riskErr *types.RiskError
	require.ErrorAs(t, err, &riskErr)

	// Another user is unaffected
	_, err = gate.Assess(ctx, limitReq(100, 2500), 8)
	assert.NoError(t, err)
}
