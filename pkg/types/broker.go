package types

import "time"

// ConnectionState is the live connection state of a broker
type ConnectionState string

const (
	ConnectionConnected    ConnectionState = "CONNECTED"
	ConnectionDegraded     ConnectionState = "DEGRADED"
	ConnectionDisconnected ConnectionState = "DISCONNECTED"
	ConnectionMaintenance  ConnectionState = "MAINTENANCE"
)

// BrokerStatus is the runtime health view of a single broker. The broker
// registry owns it; the router and broker client read snapshots.
type BrokerStatus struct {
	Broker              Broker          `json:"broker"`
	State               ConnectionState `json:"state"`
	HealthScore         float64         `json:"health_score"` // 0..100
	ConsecutiveFailures int             `json:"consecutive_failures"`
	LastHeartbeat       time.Time       `json:"last_heartbeat"`
}

// Usable reports whether the broker can accept new orders right now
func (s *BrokerStatus) Usable() bool {
	return s.State == ConnectionConnected || s.State == ConnectionDegraded
}

// BrokerAck is a broker acknowledgment of a submit or modify
type BrokerAck struct {
	BrokerOrderID string    `json:"broker_order_id"`
	AcceptedAt    time.Time `json:"accepted_at"`
}

// CancelAck is a broker acknowledgment of a cancel. Degraded marks a cancel
// accepted locally while the broker circuit is open; the reconciler finishes
// it once the broker is reachable again.
type CancelAck struct {
	BrokerOrderID string    `json:"broker_order_id,omitempty"`
	Degraded      bool      `json:"degraded"`
	AcceptedAt    time.Time `json:"accepted_at"`
}

// Fill is a broker-delivered execution event for an order
type Fill struct {
	ExecutionID string    `json:"execution_id"`
	OrderID     string    `json:"order_id"`
	Sequence    int64     `json:"sequence"`
	Quantity    int64     `json:"quantity"`
	Price       string    `json:"price"`
	Timestamp   time.Time `json:"timestamp"`
}
