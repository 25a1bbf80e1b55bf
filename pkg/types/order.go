package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order sides
const (
	OrderSideBuy  = "BUY"
	OrderSideSell = "SELL"
)

// Order types
const (
	OrderTypeMarket    = "MARKET"
	OrderTypeLimit     = "LIMIT"
	OrderTypeStopLoss  = "STOP_LOSS"
	OrderTypeStopLimit = "STOP_LIMIT"
)

// Order status
const (
	OrderStatusNew             = "NEW"
	OrderStatusPending         = "PENDING"
	OrderStatusAcknowledged    = "ACKNOWLEDGED"
	OrderStatusPartiallyFilled = "PARTIALLY_FILLED"
	OrderStatusFilled          = "FILLED"
	OrderStatusCancelPending   = "CANCEL_PENDING"
	OrderStatusCancelled       = "CANCELLED"
	OrderStatusRejected        = "REJECTED"
	OrderStatusExpired         = "EXPIRED"
)

// Time in force
const (
	TimeInForceDay = "DAY" // Good for the trading day
	TimeInForceGTC = "GTC" // Good Till Cancel
	TimeInForceIOC = "IOC" // Immediate or Cancel
	TimeInForceFOK = "FOK" // Fill or Kill
	TimeInForceGTD = "GTD" // Good Till Date, requires expiry date
)

// Type aliases for readability at call sites
type OrderSide = string
type OrderType = string
type OrderStatus = string
type TimeInForce = string

// Exchange identifies a trading venue
type Exchange string

const (
	ExchangeNSE Exchange = "NSE"
	ExchangeBSE Exchange = "BSE"
	ExchangeMCX Exchange = "MCX"
)

// Exchanges lists every supported exchange
func Exchanges() []Exchange {
	return []Exchange{ExchangeNSE, ExchangeBSE, ExchangeMCX}
}

// Broker identifies an external broker
type Broker string

const (
	BrokerZerodha  Broker = "ZERODHA"
	BrokerUpstox   Broker = "UPSTOX"
	BrokerAngelOne Broker = "ANGEL_ONE"
)

// Order is the central persisted entity of the lifecycle engine.
// All mutation goes through the order store with version-guarded updates.
type Order struct {
	ID             int64           `json:"id"`
	OrderID        string          `json:"order_id"`
	UserID         int64           `json:"user_id"`
	Symbol         string          `json:"symbol"`
	Exchange       Exchange        `json:"exchange"`
	Side           OrderSide       `json:"side"`
	Type           OrderType       `json:"type"`
	Status         OrderStatus     `json:"status"`
	Quantity       int64           `json:"quantity"`
	FilledQuantity int64           `json:"filled_quantity"`
	LimitPrice     decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice      decimal.Decimal `json:"stop_price,omitempty"`
	AveragePrice   decimal.Decimal `json:"average_price,omitempty"`
	TimeInForce    TimeInForce     `json:"time_in_force"`
	ExpiryDate     *time.Time      `json:"expiry_date,omitempty"`

	BrokerName      Broker `json:"broker_name,omitempty"`
	BrokerOrderID   string `json:"broker_order_id,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`

	// AppliedFillSeqs records the broker fill sequences already applied to
	// this order; a redelivered sequence must be dropped. Brokers may deliver
	// distinct sequences out of order, so this is a set, not a high-water mark.
	AppliedFillSeqs []int64 `json:"applied_fill_seqs,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
	ExecutedAt  *time.Time `json:"executed_at,omitempty"`

	// Version is a monotonic counter for optimistic concurrency.
	Version int64 `json:"version"`
}

// RemainingQuantity returns the unfilled part of the order
func (o *Order) RemainingQuantity() int64 {
	return o.Quantity - o.FilledQuantity
}

// IsTerminal reports whether the order reached a final state
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	}
	return false
}

// IsModifiable reports whether modify requests are accepted in the current state
func (o *Order) IsModifiable() bool {
	switch o.Status {
	case OrderStatusPending, OrderStatusAcknowledged, OrderStatusPartiallyFilled:
		return true
	}
	return false
}

// IsCancellable reports whether cancel requests are accepted in the current
// state. CANCEL_PENDING is included so repeated cancels stay idempotent.
func (o *Order) IsCancellable() bool {
	return o.IsModifiable() || o.Status == OrderStatusCancelPending
}

// EffectivePrice returns the price used for notional checks per order type.
// Market orders have no effective price; ok is false in that case.
func (o *Order) EffectivePrice() (decimal.Decimal, bool) {
	switch o.Type {
	case OrderTypeLimit, OrderTypeStopLimit:
		return o.LimitPrice, true
	case OrderTypeStopLoss:
		return o.StopPrice, true
	}
	return decimal.Zero, false
}

// HasFillSeq reports whether a broker fill sequence was already applied
func (o *Order) HasFillSeq(seq int64) bool {
	for _, s := range o.AppliedFillSeqs {
		if s == seq {
			return true
		}
	}
	return false
}

// MarkFillSeq records an applied broker fill sequence
func (o *Order) MarkFillSeq(seq int64) {
	o.AppliedFillSeqs = append(o.AppliedFillSeqs, seq)
}

// Clone returns a deep copy so callers never share mutable state with the store
func (o *Order) Clone() *Order {
	c := *o
	if o.AppliedFillSeqs != nil {
		c.AppliedFillSeqs = append([]int64(nil), o.AppliedFillSeqs...)
	}
	if o.ExpiryDate != nil {
		t := *o.ExpiryDate
		c.ExpiryDate = &t
	}
	if o.SubmittedAt != nil {
		t := *o.SubmittedAt
		c.SubmittedAt = &t
	}
	if o.ExecutedAt != nil {
		t := *o.ExecutedAt
		c.ExecutedAt = &t
	}
	return &c
}

// OrderRequest is a client order as it arrives at the engine, before
// validation. Prices are zero when absent.
type OrderRequest struct {
	Symbol      string          `json:"symbol"`
	Exchange    Exchange        `json:"exchange"`
	Side        OrderSide       `json:"side"`
	Type        OrderType       `json:"order_type"`
	Quantity    int64           `json:"quantity"`
	LimitPrice  decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice   decimal.Decimal `json:"stop_price,omitempty"`
	TimeInForce TimeInForce     `json:"time_in_force"`
	ExpiryDate  *time.Time      `json:"expiry_date,omitempty"`

	// Advanced execution fields, honoured only when the advanced-orders
	// feature flag is enabled.
	StrategyHint    Strategy `json:"strategy_hint,omitempty"`
	DisplayQuantity int64    `json:"display_quantity,omitempty"`
}

// EffectivePrice returns the price used for notional checks per order type.
// Market orders have no effective price; ok is false in that case.
func (r *OrderRequest) EffectivePrice() (decimal.Decimal, bool) {
	switch r.Type {
	case OrderTypeLimit, OrderTypeStopLimit:
		return r.LimitPrice, true
	case OrderTypeStopLoss:
		return r.StopPrice, true
	}
	return decimal.Zero, false
}

// OrderResponse is the flattened order view returned by the public API
type OrderResponse struct {
	OrderID         string `json:"order_id"`
	UserID          int64  `json:"user_id"`
	Symbol          string `json:"symbol"`
	Exchange        string `json:"exchange"`
	Side            string `json:"side"`
	Type            string `json:"order_type"`
	Status          string `json:"status"`
	Quantity        int64  `json:"quantity"`
	FilledQuantity  int64  `json:"filled_quantity"`
	RemainingQty    int64  `json:"remaining_quantity"`
	LimitPrice      string `json:"limit_price,omitempty"`
	StopPrice       string `json:"stop_price,omitempty"`
	AveragePrice    string `json:"average_price,omitempty"`
	TimeInForce     string `json:"time_in_force"`
	ExpiryDate      string `json:"expiry_date,omitempty"`
	BrokerName      string `json:"broker_name,omitempty"`
	BrokerOrderID   string `json:"broker_order_id,omitempty"`
	RejectionReason string `json:"rejection_reason,omitempty"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
	Version         int64  `json:"version"`
}

// NewOrderResponse converts a persisted order to its API shape
func NewOrderResponse(o *Order) *OrderResponse {
	r := &OrderResponse{
		OrderID:         o.OrderID,
		UserID:          o.UserID,
		Symbol:          o.Symbol,
		Exchange:        string(o.Exchange),
		Side:            o.Side,
		Type:            o.Type,
		Status:          o.Status,
		Quantity:        o.Quantity,
		FilledQuantity:  o.FilledQuantity,
		RemainingQty:    o.RemainingQuantity(),
		TimeInForce:     o.TimeInForce,
		BrokerName:      string(o.BrokerName),
		BrokerOrderID:   o.BrokerOrderID,
		RejectionReason: o.RejectionReason,
		CreatedAt:       FormatTimestamp(o.CreatedAt),
		UpdatedAt:       FormatTimestamp(o.UpdatedAt),
		Version:         o.Version,
	}
	if !o.LimitPrice.IsZero() {
		r.LimitPrice = o.LimitPrice.String()
	}
	if !o.StopPrice.IsZero() {
		r.StopPrice = o.StopPrice.String()
	}
	if !o.AveragePrice.IsZero() {
		r.AveragePrice = o.AveragePrice.String()
	}
	if o.ExpiryDate != nil {
		r.ExpiryDate = FormatTimestamp(*o.ExpiryDate)
	}
	return r
}

// FormatTimestamp renders a time in ISO-8601 with millisecond precision
// and a trailing Z, the wire format used across the API.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// Page describes pagination for list queries
type Page struct {
	Number int
	Size   int
}

// DefaultPage caps list queries at 100 orders
func DefaultPage() Page {
	return Page{Number: 0, Size: 100}
}
