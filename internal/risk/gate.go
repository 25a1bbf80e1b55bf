package risk

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/buntythecoder/trademaster-trading-service-sub002/internal/store"
	"github.com/buntythecoder/trademaster-trading-service-sub002/pkg/types"
)

// Risk levels attached to an approval
const (
	RiskLevelLow    = "LOW"
	RiskLevelMedium = "MEDIUM"
	RiskLevelHigh   = "HIGH"
)

// Approval is the result of a passed risk assessment
type Approval struct {
	RiskLevel string
	Reasons   []string
}

// Gate is the pre-trade risk check invoked before any order reaches the
// router. A returned error of type RiskError is a decline; any other error
// means the check itself could not run.
type Gate interface {
	Assess(ctx context.Context, req *types.OrderRequest, userID int64) (*Approval, error)
}

// LimitGate enforces local notional and open-order limits. It is
// deliberately conservative: when the notional cannot be computed (market
// orders carry no price) the order passes with an elevated risk level
// instead of being declined.
type LimitGate struct {
	maxNotional     decimal.Decimal
	maxActivePerUsr int64
	repo            store.Repository
	logger          *logrus.Entry
}

// NewLimitGate creates a gate with the given notional cap in INR.
// maxActivePerUser <= 0 disables the open-order limit.
func NewLimitGate(maxNotionalINR int64, maxActivePerUser int64, repo store.Repository) *LimitGate {
	return &LimitGate{
		maxNotional:     decimal.NewFromInt(maxNotionalINR),
		maxActivePerUsr: maxActivePerUser,
		repo:            repo,
		logger:          logrus.WithField("component", "risk-gate"),
	}
}

// Assess runs every limit check and grades the order's risk level
func (g *LimitGate) Assess(ctx context.Context, req *types.OrderRequest, userID int64) (*Approval, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	approval := &Approval{RiskLevel: RiskLevelLow}

	price, priced := req.EffectivePrice()
	if priced {
		notional := price.Mul(decimal.NewFromInt(req.Quantity))
		if notional.GreaterThan(g.maxNotional) {
			g.logger.WithFields(logrus.Fields{
				"user_id":  userID,
				"symbol":   req.Symbol,
				"notional": notional.String(),
			}).Warn("order declined, notional cap exceeded")
			return nil, &types.RiskError{
				Reason:    fmt.Sprintf("order notional %s exceeds limit %s", notional.String(), g.maxNotional.String()),
				RiskLevel: RiskLevelHigh,
			}
		}
		approval.RiskLevel = gradeNotional(notional, g.maxNotional)
	} else {
		// No reference price to bound exposure with
		approval.RiskLevel = RiskLevelMedium
		approval.Reasons = append(approval.Reasons, "market order, notional unbounded")
	}

	if g.maxActivePerUsr > 0 {
		active := g.repo.CountActiveByUser(ctx, userID)
		if active >= g.maxActivePerUsr {
			return nil, &types.RiskError{
				Reason:    fmt.Sprintf("user has %d active orders, limit is %d", active, g.maxActivePerUsr),
				RiskLevel: RiskLevelHigh,
			}
		}
	}

	return approval, nil
}

// gradeNotional maps order notional to a risk level relative to the cap
func gradeNotional(notional, cap decimal.Decimal) string {
	ratio := notional.Div(cap)
	switch {
	case ratio.GreaterThanOrEqual(decimal.NewFromFloat(0.5)):
		return RiskLevelHigh
	case ratio.GreaterThanOrEqual(decimal.NewFromFloat(0.1)):
		return RiskLevelMedium
	}
	return RiskLevelLow
}
