package bus

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"

	"github.com/buntythecoder/trademaster-trading-service-sub002/pkg/types"
)

// Event kinds published on the bus
const (
	EventPlaced          = "placed"
	EventAcknowledged    = "acknowledged"
	EventPartiallyFilled = "partially_filled"
	EventFilled          = "filled"
	EventCancelRequested = "cancel_requested"
	EventCancelled       = "cancelled"
	EventRejected        = "rejected"
	EventExpired         = "expired"
	EventModified        = "modified"
)

// OrderEvent is the lifecycle notification published for every state change
type OrderEvent struct {
	Event          string `json:"event"`
	OrderID        string `json:"order_id"`
	UserID         int64  `json:"user_id"`
	Symbol         string `json:"symbol"`
	Exchange       string `json:"exchange"`
	Status         string `json:"status"`
	FilledQuantity int64  `json:"filled_quantity"`
	Quantity       int64  `json:"quantity"`
	AveragePrice   string `json:"average_price,omitempty"`
	Broker         string `json:"broker,omitempty"`
	Reason         string `json:"reason,omitempty"`
	Timestamp      string `json:"timestamp"`
	CorrelationID  string `json:"correlation_id,omitempty"`
}

// FillHandler consumes broker fill events delivered over the bus
type FillHandler func(fill *types.Fill)

// Bus publishes order lifecycle events and delivers broker fills.
// Publishing is fire-and-forget: a bus outage never fails an order
// operation.
type Bus interface {
	PublishOrderEvent(event *OrderEvent)
	SubscribeFills(handler FillHandler) error
	Close()
}

// NATSBus is the production Bus on a NATS connection
type NATSBus struct {
	conn   *nats.Conn
	logger *logrus.Entry

	mu   sync.Mutex
	subs []*nats.Subscription
}

// Connect dials NATS with reconnect handling and returns the bus
func Connect(url string) (*NATSBus, error) {
	logger := logrus.WithField("component", "event-bus")

	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.WithError(err).Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.WithField("url", nc.ConnectedUrl()).Info("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}

	return &NATSBus{conn: conn, logger: logger}, nil
}

// PublishOrderEvent emits the event on orders.<event>.<exchange>.<symbol>
func (b *NATSBus) PublishOrderEvent(event *OrderEvent) {
	subject := orderSubject(event)

	data, err := json.Marshal(event)
	if err != nil {
		b.logger.WithError(err).Error("failed to marshal order event")
		return
	}
	if err := b.conn.Publish(subject, data); err != nil {
		b.logger.WithError(err).WithField("subject", subject).Warn("failed to publish order event")
	}
}

// SubscribeFills delivers every fill published under fills.>
func (b *NATSBus) SubscribeFills(handler FillHandler) error {
	sub, err := b.conn.Subscribe("fills.>", func(msg *nats.Msg) {
		var fill types.Fill
		if err := json.Unmarshal(msg.Data, &fill); err != nil {
			b.logger.WithError(err).WithField("subject", msg.Subject).Warn("dropping malformed fill")
			return
		}
		handler(&fill)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to fills: %w", err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return nil
}

// Close drains subscriptions and closes the connection
func (b *NATSBus) Close() {
	b.mu.Lock()
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.subs = nil
	b.mu.Unlock()

	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}

func orderSubject(event *OrderEvent) string {
	exchange := strings.ToLower(event.Exchange)
	symbol := strings.ToLower(event.Symbol)
	if exchange == "" {
		exchange = "unknown"
	}
	if symbol == "" {
		symbol = "unknown"
	}
	return fmt.Sprintf("orders.%s.%s.%s", event.Event, exchange, symbol)
}

// MemoryBus is an in-process Bus for tests and for running without NATS
type MemoryBus struct {
	mu       sync.Mutex
	events   []*OrderEvent
	handlers []FillHandler
}

// NewMemoryBus creates an empty in-process bus
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{}
}

func (b *MemoryBus) PublishOrderEvent(event *OrderEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *MemoryBus) SubscribeFills(handler FillHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
	return nil
}

// DeliverFill pushes a fill to every subscriber, simulating the broker feed
func (b *MemoryBus) DeliverFill(fill *types.Fill) {
	b.mu.Lock()
	handlers := make([]FillHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.Unlock()

	for _, h := range handlers {
		h(fill)
	}
}

// Events returns every published event so far
func (b *MemoryBus) Events() []*OrderEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*OrderEvent, len(b.events))
	copy(out, b.events)
	return out
}

// EventsOfKind filters published events by kind
func (b *MemoryBus) EventsOfKind(kind string) []*OrderEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []*OrderEvent
	for _, e := range b.events {
		if e.Event == kind {
			out = append(out, e)
		}
	}
	return out
}

func (b *MemoryBus) Close() {}
