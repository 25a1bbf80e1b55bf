package types

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatTimestamp(t *testing.T) {
	ts := time.Date(2026, 8, 24, 9, 15, 30, 123_000_000, time.FixedZone("IST", 19800))
	assert.Equal(t, "2026-08-24T03:45:30.123Z", FormatTimestamp(ts))
}

func TestOrderStateHelpers(t *testing.T) {
	o := &Order{Status: OrderStatusAcknowledged, Quantity: 100, FilledQuantity: 40}

	assert.Equal(t, int64(60), o.RemainingQuantity())
	assert.False(t, o.IsTerminal())
	assert.True(t, o.IsModifiable())
	assert.True(t, o.IsCancellable())

	o.Status = OrderStatusCancelPending
	assert.False(t, o.IsModifiable())
	assert.True(t, o.IsCancellable(), "repeated cancels stay idempotent")

	for _, st := range []OrderStatus{OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired} {
		o.Status = st
		assert.True(t, o.IsTerminal(), st)
		assert.False(t, o.IsCancellable(), st)
	}
}

func TestEffectivePrice(t *testing.T) {
	limit := &Order{Type: OrderTypeLimit, LimitPrice: decimal.NewFromInt(100), StopPrice: decimal.NewFromInt(90)}
	price, ok := limit.EffectivePrice()
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.NewFromInt(100)))

	stop := &Order{Type: OrderTypeStopLoss, StopPrice: decimal.NewFromInt(90)}
	price, ok = stop.EffectivePrice()
	require.True(t, ok)
	assert.True(t, price.Equal(decimal.NewFromInt(90)))

	market := &Order{Type: OrderTypeMarket}
	_, ok = market.EffectivePrice()
	assert.False(t, ok)
}

func TestCloneIsDeep(t *testing.T) {
	expiry := time.Now()
	o := &Order{OrderID: "ORD-1", ExpiryDate: &expiry}

	c := o.Clone()
	*c.ExpiryDate = expiry.Add(time.Hour)

	assert.True(t, o.ExpiryDate.Equal(expiry))
}

func TestNewOrderResponse(t *testing.T) {
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	o := &Order{
		OrderID:        "ORD-1",
		UserID:         7,
		Symbol:         "RELIANCE",
		Exchange:       ExchangeNSE,
		Side:           OrderSideBuy,
		Type:           OrderTypeLimit,
		Status:         OrderStatusPartiallyFilled,
		Quantity:       100,
		FilledQuantity: 40,
		LimitPrice:     decimal.NewFromFloat(2500.50),
		AveragePrice:   decimal.NewFromFloat(2500.1234),
		TimeInForce:    TimeInForceDay,
		BrokerName:     BrokerZerodha,
		CreatedAt:      now,
		UpdatedAt:      now,
		Version:        4,
	}

	r := NewOrderResponse(o)
	assert.Equal(t, int64(60), r.RemainingQty)
	assert.Equal(t, "2500.5", r.LimitPrice)
	assert.Equal(t, "2500.1234", r.AveragePrice)
	assert.Empty(t, r.StopPrice)
	assert.Equal(t, "ZERODHA", r.BrokerName)
	assert.Equal(t, "2026-08-24T10:00:00.000Z", r.CreatedAt)
}

func TestErrorCodesAndHTTPStatus(t *testing.T) {
	tests := []struct {
		err    error
		code   string
		status int
	}{
		{&ValidationError{Field: "symbol"}, CodeValidationFailed, 400},
		{&RiskError{Reason: "cap"}, CodeRiskDeclined, 403},
		{&OrderRejectedError{OrderID: "ORD-1"}, CodeOrderRejected, 409},
		{&ConflictError{OrderID: "ORD-1"}, CodeConflict, 409},
		{&NotFoundError{OrderID: "ORD-1"}, CodeNotFound, 404},
		{&ServiceUnavailableError{Broker: BrokerZerodha}, CodeServiceUnavailable, 503},
		{&BrokerError{Broker: BrokerZerodha, Kind: BrokerErrTimeout}, CodeBrokerTimeout, 502},
		{&StorageError{Op: "save"}, CodeStorageFailure, 500},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.code, ErrorCode(tt.err))
		assert.Equal(t, tt.status, HTTPStatus(tt.err))
	}
}

func TestErrorResponseMasksStorage(t *testing.T) {
	now := time.Now()

	resp := NewErrorResponse(&StorageError{Op: "save"}, "/api/v1/orders", "corr-1", now)
	assert.Equal(t, CodeInternal, resp.ErrorCode)
	assert.Equal(t, "internal error", resp.Message)

	v := NewErrorResponse(&ValidationError{Field: "symbol", Constraint: "bad"}, "/api/v1/orders", "corr-2", now)
	assert.Equal(t, CodeValidationFailed, v.ErrorCode)
	require.Len(t, v.ValidationErrors, 1)
	assert.Equal(t, "symbol", v.ValidationErrors[0].Field)
}
