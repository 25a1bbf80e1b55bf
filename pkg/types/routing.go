package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Strategy is the execution strategy attached to a routing decision
type Strategy string

const (
	StrategyImmediate Strategy = "IMMEDIATE"
	StrategySliced    Strategy = "SLICED"
	StrategyIceberg   Strategy = "ICEBERG"
	StrategyScheduled Strategy = "SCHEDULED"
	StrategySmart     Strategy = "SMART"
	StrategyVWAP      Strategy = "VWAP"
	StrategyTWAP      Strategy = "TWAP"
	StrategyDarkPool  Strategy = "DARK_POOL"
	StrategyReject    Strategy = "REJECT"
)

// SizeClass buckets order quantity for routing score factors
type SizeClass string

const (
	SizeSmall  SizeClass = "SMALL"
	SizeMedium SizeClass = "MEDIUM"
	SizeLarge  SizeClass = "LARGE"
)

// RoutingDecision is the outcome of one routing pass. It lives for the
// duration of a single placement and is never persisted.
type RoutingDecision struct {
	BrokerName             Broker          `json:"broker_name"`
	Venue                  string          `json:"venue"`
	Strategy               Strategy        `json:"strategy"`
	ImmediateExecution     bool            `json:"immediate_execution"`
	EstimatedExecutionTime time.Duration   `json:"estimated_execution_time"`
	Confidence             float64         `json:"confidence"`
	Reason                 string          `json:"reason"`
	RouterName             string          `json:"router_name"`
	ProcessingTimeMs       int64           `json:"processing_time_ms"`
	EstimatedFee           decimal.Decimal `json:"estimated_fee,omitempty"`
	Fallback               bool            `json:"fallback,omitempty"`
}

// Rejected reports whether the router declined to route the order
func (d *RoutingDecision) Rejected() bool {
	return d.Strategy == StrategyReject
}
