package raffle

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"lottery/shared"
)

// Event is a raffle log entry. Kind is one of shared.EventEntered,
// shared.EventCalculationRequested or shared.EventWinnerPicked.
type Event struct {
	Kind      string
	Raffle    common.Address
	Player    common.Address // Entered
	Winner    common.Address // WinnerPicked
	RequestID *big.Int       // CalculationRequested
	Amount    *big.Int       // entry payment or prize
	Block     uint64
	Timestamp time.Time
}

// Message converts the event to its JSON wire form
func (e Event) Message() shared.EventMessage {
	msg := shared.EventMessage{
		Kind:      e.Kind,
		Raffle:    e.Raffle.Hex(),
		Timestamp: e.Timestamp.Unix(),
	}
	if e.Player != (common.Address{}) {
		msg.Player = e.Player.Hex()
	}
	if e.Winner != (common.Address{}) {
		msg.Winner = e.Winner.Hex()
	}
	if e.RequestID != nil {
		msg.RequestID = e.RequestID.String()
	}
	if e.Amount != nil {
		msg.AmountWei = e.Amount.String()
	}
	return msg
}

// EventSink receives raffle events in emission order. Emit is called with the
// raffle lock held; implementations must not call back into the Raffle.
type EventSink interface {
	Emit(ctx context.Context, e Event)
}

// EventSinkFunc adapts a function to EventSink
type EventSinkFunc func(ctx context.Context, e Event)

func (f EventSinkFunc) Emit(ctx context.Context, e Event) { f(ctx, e) }

// MultiSink fans an event out to several sinks
type MultiSink []EventSink

func (m MultiSink) Emit(ctx context.Context, e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, e)
		}
	}
}

type nopSink struct{}

func (nopSink) Emit(context.Context, Event) {}

// ChannelSink buffers events for subscribers that wait on a specific kind,
// like a test waiting for WinnerPicked. Events beyond the buffer are dropped.
type ChannelSink struct {
	mu      sync.Mutex
	waiters map[string][]chan Event
	events  chan Event
}

// NewChannelSink creates a sink whose Events channel holds up to size events
func NewChannelSink(size int) *ChannelSink {
	return &ChannelSink{
		waiters: make(map[string][]chan Event),
		events:  make(chan Event, size),
	}
}

func (c *ChannelSink) Emit(_ context.Context, e Event) {
	c.mu.Lock()
	waiting := c.waiters[e.Kind]
	delete(c.waiters, e.Kind)
	c.mu.Unlock()

	for _, ch := range waiting {
		ch <- e
	}

	select {
	case c.events <- e:
	default:
	}
}

// Events returns the buffered stream of all events
func (c *ChannelSink) Events() <-chan Event {
	return c.events
}

// Once returns a channel that receives the next event of the given kind
func (c *ChannelSink) Once(kind string) <-chan Event {
	ch := make(chan Event, 1)
	c.mu.Lock()
	c.waiters[kind] = append(c.waiters[kind], ch)
	c.mu.Unlock()
	return ch
}

// Wait blocks until the next event of the given kind or ctx is done
func (c *ChannelSink) Wait(ctx context.Context, kind string) (Event, error) {
	select {
	case e := <-c.Once(kind):
		return e, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}
