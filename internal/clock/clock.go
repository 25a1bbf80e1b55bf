package clock

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Clock is the time source for the engine. Injected everywhere a timestamp
// or deadline is taken so tests can drive time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FakeClock is a manually advanced clock for tests
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

// NewFakeClock starts a fake clock at the given instant
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the fake clock forward
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set jumps the fake clock to an absolute instant
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// IDGen produces the externally visible identifiers
type IDGen interface {
	NewOrderID() string
	NewExecutionID() string
	NewCorrelationID() string
}

// UUIDGen generates prefixed UUID identifiers
type UUIDGen struct{}

func (UUIDGen) NewOrderID() string {
	return "ORD-" + strings.ToUpper(uuid.New().String())
}

func (UUIDGen) NewExecutionID() string {
	return "EXE-" + strings.ToUpper(uuid.New().String())
}

func (UUIDGen) NewCorrelationID() string {
	return uuid.New().String()
}
