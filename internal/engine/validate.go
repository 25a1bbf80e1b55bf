package engine

import (
	"fmt"
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"github.com/buntythecoder/trademaster-trading-service-sub002/internal/config"
	"github.com/buntythecoder/trademaster-trading-service-sub002/pkg/types"
)

// Quantity and price bounds enforced on every request
var (
	symbolPattern = regexp.MustCompile(`^[A-Z0-9_]{1,20}$`)

	minQuantity int64 = 1
	maxQuantity int64 = 1_000_000

	minPrice = decimal.NewFromFloat(0.01)
	maxPrice = decimal.NewFromInt(100_000)
)

// Validator enforces the request contract before any state is created
type Validator struct {
	cfg *config.Config
}

// NewValidator creates a validator bound to the service configuration
func NewValidator(cfg *config.Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidatePlace checks a new order request field by field, failing on the
// first violation.
func (v *Validator) ValidatePlace(req *types.OrderRequest, now time.Time) error {
	if !symbolPattern.MatchString(req.Symbol) {
		return &types.ValidationError{
			Field:         "symbol",
			Constraint:    "must be 1-20 uppercase alphanumeric or underscore characters",
			RejectedValue: req.Symbol,
		}
	}

	if !validExchange(req.Exchange) {
		return &types.ValidationError{
			Field:         "exchange",
			Constraint:    "must be one of NSE, BSE, MCX",
			RejectedValue: string(req.Exchange),
		}
	}

	if req.Side != types.OrderSideBuy && req.Side != types.OrderSideSell {
		return &types.ValidationError{
			Field:         "side",
			Constraint:    "must be BUY or SELL",
			RejectedValue: req.Side,
		}
	}

	switch req.Type {
	case types.OrderTypeMarket, types.OrderTypeLimit, types.OrderTypeStopLoss, types.OrderTypeStopLimit:
	default:
		return &types.ValidationError{
			Field:         "order_type",
			Constraint:    "must be one of MARKET, LIMIT, STOP_LOSS, STOP_LIMIT",
			RejectedValue: req.Type,
		}
	}

	if err := v.validateQuantity(req.Quantity); err != nil {
		return err
	}
	if err := v.validatePrices(req); err != nil {
		return err
	}
	if err := v.validateNotional(req); err != nil {
		return err
	}
	if err := v.validateTimeInForce(req, now); err != nil {
		return err
	}
	return v.validateAdvanced(req)
}

// ValidateModify checks the fields a modification is allowed to touch. The
// quantity floor is the already-filled quantity, supplied by the caller.
func (v *Validator) ValidateModify(req *types.OrderRequest, filledQuantity int64) error {
	if err := v.validateQuantity(req.Quantity); err != nil {
		return err
	}
	if req.Quantity < filledQuantity {
		return &types.ValidationError{
			Field:      "quantity",
			Constraint: fmt.Sprintf("cannot reduce below filled quantity %d", filledQuantity),
		}
	}
	return v.validatePrices(req)
}

func (v *Validator) validateQuantity(quantity int64) error {
	if quantity < minQuantity || quantity > maxQuantity {
		return &types.ValidationError{
			Field:         "quantity",
			Constraint:    fmt.Sprintf("must be between %d and %d", minQuantity, maxQuantity),
			RejectedValue: fmt.Sprintf("%d", quantity),
		}
	}
	return nil
}

// validatePrices enforces the per-type price matrix and bounds
func (v *Validator) validatePrices(req *types.OrderRequest) error {
	needsLimit := req.Type == types.OrderTypeLimit || req.Type == types.OrderTypeStopLimit
	needsStop := req.Type == types.OrderTypeStopLoss || req.Type == types.OrderTypeStopLimit

	if needsLimit {
		if err := validatePrice("limit_price", req.LimitPrice); err != nil {
			return err
		}
	} else if !req.LimitPrice.IsZero() {
		return &types.ValidationError{
			Field:      "limit_price",
			Constraint: fmt.Sprintf("not allowed for %s orders", req.Type),
		}
	}

	if needsStop {
		if err := validatePrice("stop_price", req.StopPrice); err != nil {
			return err
		}
	} else if !req.StopPrice.IsZero() {
		return &types.ValidationError{
			Field:      "stop_price",
			Constraint: fmt.Sprintf("not allowed for %s orders", req.Type),
		}
	}

	// Stop-limit ordering is side dependent: a buy keeps the stop at or
	// above the limit, a sell at or below.
	if req.Type == types.OrderTypeStopLimit {
		switch req.Side {
		case types.OrderSideBuy:
			if req.StopPrice.LessThan(req.LimitPrice) {
				return &types.ValidationError{
					Field:      "stop_price",
					Constraint: "must not be below limit_price on a BUY stop-limit",
				}
			}
		case types.OrderSideSell:
			if req.StopPrice.GreaterThan(req.LimitPrice) {
				return &types.ValidationError{
					Field:      "stop_price",
					Constraint: "must not exceed limit_price on a SELL stop-limit",
				}
			}
		}
	}
	return nil
}

// validateNotional caps the estimated order value for every priced order type
func (v *Validator) validateNotional(req *types.OrderRequest) error {
	price, ok := req.EffectivePrice()
	if !ok {
		return nil
	}
	notional := price.Mul(decimal.NewFromInt(req.Quantity))
	limit := decimal.NewFromInt(v.cfg.MaxNotionalINR)
	if notional.GreaterThan(limit) {
		return &types.ValidationError{
			Field:         "quantity",
			Constraint:    fmt.Sprintf("order notional must not exceed %s", limit.String()),
			RejectedValue: notional.String(),
		}
	}
	return nil
}

func validatePrice(field string, price decimal.Decimal) error {
	// The floor is exclusive, the ceiling inclusive
	if price.LessThanOrEqual(minPrice) || price.GreaterThan(maxPrice) {
		return &types.ValidationError{
			Field:         field,
			Constraint:    fmt.Sprintf("must be greater than %s and at most %s", minPrice.String(), maxPrice.String()),
			RejectedValue: price.String(),
		}
	}
	if price.Exponent() < -4 {
		return &types.ValidationError{
			Field:         field,
			Constraint:    "at most 4 decimal places",
			RejectedValue: price.String(),
		}
	}
	return nil
}

func (v *Validator) validateTimeInForce(req *types.OrderRequest, now time.Time) error {
	switch req.TimeInForce {
	case types.TimeInForceDay, types.TimeInForceGTC, types.TimeInForceIOC, types.TimeInForceFOK:
		if req.ExpiryDate != nil {
			return &types.ValidationError{
				Field:      "expiry_date",
				Constraint: fmt.Sprintf("not allowed for %s orders", req.TimeInForce),
			}
		}
	case types.TimeInForceGTD:
		if req.ExpiryDate == nil {
			return &types.ValidationError{
				Field:      "expiry_date",
				Constraint: "required for GTD orders",
			}
		}
		if !req.ExpiryDate.After(now) {
			return &types.ValidationError{
				Field:         "expiry_date",
				Constraint:    "must be in the future",
				RejectedValue: types.FormatTimestamp(*req.ExpiryDate),
			}
		}
	default:
		return &types.ValidationError{
			Field:         "time_in_force",
			Constraint:    "must be one of DAY, GTC, IOC, FOK, GTD",
			RejectedValue: req.TimeInForce,
		}
	}
	return nil
}

// validateAdvanced gates the optional execution fields behind the feature flag
func (v *Validator) validateAdvanced(req *types.OrderRequest) error {
	if !v.cfg.Features.AdvancedOrders {
		if req.StrategyHint != "" {
			return &types.ValidationError{
				Field:      "strategy_hint",
				Constraint: "advanced orders are not enabled",
			}
		}
		if req.DisplayQuantity != 0 {
			return &types.ValidationError{
				Field:      "display_quantity",
				Constraint: "advanced orders are not enabled",
			}
		}
		return nil
	}

	if req.DisplayQuantity < 0 || req.DisplayQuantity > req.Quantity {
		return &types.ValidationError{
			Field:      "display_quantity",
			Constraint: "must be between 0 and quantity",
		}
	}
	return nil
}

func validExchange(ex types.Exchange) bool {
	for _, e := range types.Exchanges() {
		if e == ex {
			return true
		}
	}
	return false
}
