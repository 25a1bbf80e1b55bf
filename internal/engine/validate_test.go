package engine

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/buntythecoder/trademaster-trading-service-sub002/internal/config"
	"github.com/buntythecoder/trademaster-trading-service-sub002/pkg/types"
)

func validLimitRequest() *types.OrderRequest {
	return &types.OrderRequest{
		Symbol:      "RELIANCE",
		Exchange:    types.ExchangeNSE,
		Side:        types.OrderSideBuy,
		Type:        types.OrderTypeLimit,
		Quantity:    100,
		LimitPrice:  decimal.NewFromFloat(2500.50),
		TimeInForce: types.TimeInForceDay,
	}
}

func TestValidatePlace(t *testing.T) {
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	future := now.Add(48 * time.Hour)
	past := now.Add(-time.Hour)

	tests := []struct {
		name    string
		mutate  func(*types.OrderRequest)
		wantErr string // offending field, empty means valid
	}{
		{"valid limit order", func(r *types.OrderRequest) {}, ""},
		{"valid market order", func(r *types.OrderRequest) {
			r.Type = types.OrderTypeMarket
			r.LimitPrice = decimal.Zero
		}, ""},
		{"lowercase symbol", func(r *types.OrderRequest) { r.Symbol = "reliance" }, "symbol"},
		{"empty symbol", func(r *types.OrderRequest) { r.Symbol = "" }, "symbol"},
		{"symbol too long", func(r *types.OrderRequest) { r.Symbol = "ABCDEFGHIJKLMNOPQRSTU" }, "symbol"},
		{"symbol with underscore ok", func(r *types.OrderRequest) { r.Symbol = "NIFTY_50" }, ""},
		{"unknown exchange", func(r *types.OrderRequest) { r.Exchange = "NYSE" }, "exchange"},
		{"bad side", func(r *types.OrderRequest) { r.Side = "HOLD" }, "side"},
		{"bad type", func(r *types.OrderRequest) { r.Type = "TRAILING" }, "order_type"},
		{"zero quantity", func(r *types.OrderRequest) { r.Quantity = 0 }, "quantity"},
		{"quantity above cap", func(r *types.OrderRequest) { r.Quantity = 1_000_001 }, "quantity"},
		{"quantity at cap ok", func(r *types.OrderRequest) { r.Quantity = 1_000_000 }, ""},
		{"limit price missing", func(r *types.OrderRequest) { r.LimitPrice = decimal.Zero }, "limit_price"},
		{"limit price too small", func(r *types.OrderRequest) { r.LimitPrice = decimal.NewFromFloat(0.001) }, "limit_price"},
		{"limit price at exclusive floor", func(r *types.OrderRequest) { r.LimitPrice = decimal.NewFromFloat(0.01) }, "limit_price"},
		{"limit price just above floor ok", func(r *types.OrderRequest) {
			r.LimitPrice = decimal.NewFromFloat(0.02)
		}, ""},
		{"limit price too large", func(r *types.OrderRequest) { r.LimitPrice = decimal.NewFromInt(100_001) }, "limit_price"},
		{"limit price too precise", func(r *types.OrderRequest) {
			r.LimitPrice = decimal.RequireFromString("10.12345")
		}, "limit_price"},
		{"market order with limit price", func(r *types.OrderRequest) {
			r.Type = types.OrderTypeMarket
		}, "limit_price"},
		{"limit order with stop price", func(r *types.OrderRequest) {
			r.StopPrice = decimal.NewFromInt(2400)
		}, "stop_price"},
		{"stop loss needs stop price", func(r *types.OrderRequest) {
			r.Type = types.OrderTypeStopLoss
			r.LimitPrice = decimal.Zero
		}, "stop_price"},
		{"valid stop loss", func(r *types.OrderRequest) {
			r.Type = types.OrderTypeStopLoss
			r.LimitPrice = decimal.Zero
			r.StopPrice = decimal.NewFromInt(2400)
		}, ""},
		{"buy stop limit, stop below limit", func(r *types.OrderRequest) {
			r.Type = types.OrderTypeStopLimit
			r.StopPrice = decimal.NewFromInt(2400)
		}, "stop_price"},
		{"buy stop limit ordered", func(r *types.OrderRequest) {
			r.Type = types.OrderTypeStopLimit
			r.StopPrice = decimal.NewFromInt(2600)
		}, ""},
		{"sell stop limit, stop above limit", func(r *types.OrderRequest) {
			r.Side = types.OrderSideSell
			r.Type = types.OrderTypeStopLimit
			r.StopPrice = decimal.NewFromInt(2600)
		}, "stop_price"},
		{"sell stop limit ordered", func(r *types.OrderRequest) {
			r.Side = types.OrderSideSell
			r.Type = types.OrderTypeStopLimit
			r.StopPrice = decimal.NewFromInt(2400)
		}, ""},
		{"notional above cap", func(r *types.OrderRequest) {
			r.Quantity = 10_000
			r.LimitPrice = decimal.NewFromInt(2_000)
		}, "quantity"},
		{"notional at cap ok", func(r *types.OrderRequest) {
			r.Quantity = 10_000
			r.LimitPrice = decimal.NewFromInt(1_000)
		}, ""},
		{"stop loss notional above cap", func(r *types.OrderRequest) {
			r.Type = types.OrderTypeStopLoss
			r.LimitPrice = decimal.Zero
			r.StopPrice = decimal.NewFromInt(2_000)
			r.Quantity = 10_000
		}, "quantity"},
		{"bad time in force", func(r *types.OrderRequest) { r.TimeInForce = "GFD" }, "time_in_force"},
		{"day order with expiry", func(r *types.OrderRequest) { r.ExpiryDate = &future }, "expiry_date"},
		{"gtd without expiry", func(r *types.OrderRequest) { r.TimeInForce = types.TimeInForceGTD }, "expiry_date"},
		{"gtd with past expiry", func(r *types.OrderRequest) {
			r.TimeInForce = types.TimeInForceGTD
			r.ExpiryDate = &past
		}, "expiry_date"},
		{"valid gtd", func(r *types.OrderRequest) {
			r.TimeInForce = types.TimeInForceGTD
			r.ExpiryDate = &future
		}, ""},
		{"strategy hint without feature flag", func(r *types.OrderRequest) {
			r.StrategyHint = types.StrategyVWAP
		}, "strategy_hint"},
		{"display quantity without feature flag", func(r *types.OrderRequest) {
			r.DisplayQuantity = 10
		}, "display_quantity"},
	}

	v := NewValidator(config.Default())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := validLimitRequest()
			tt.mutate(req)

			err := v.ValidatePlace(req, now)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			var validation *types.ValidationError
			require.ErrorAs(t, err, &validation)
			assert.Equal(t, tt.wantErr, validation.Field)
		})
	}
}

func TestValidatePlaceAdvancedEnabled(t *testing.T) {
	cfg := config.Default()
	cfg.Features.AdvancedOrders = true
	v := NewValidator(cfg)
	now := time.Now()

	req := validLimitRequest()
	req.StrategyHint = types.StrategyIceberg
	req.DisplayQuantity = 10
	assert.NoError(t, v.ValidatePlace(req, now))

	req.DisplayQuantity = req.Quantity + 1
	err := v.ValidatePlace(req, now)
	var validation *types.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "display_quantity", validation.Field)
}

func TestValidateModify(t *testing.T) {
	v := NewValidator(config.Default())

	req := validLimitRequest()
	req.Quantity = 50
	err := v.ValidateModify(req, 80)
	var validation *types.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "quantity", validation.Field)

	req.Quantity = 80
	assert.NoError(t, v.ValidateModify(req, 80))
}
