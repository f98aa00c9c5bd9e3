package signaling

import (
	"context"
	"errors"
	"time"

	"github.com/watchroom/watchroom/pkg/model"
)

// ErrNotConnected is returned by Send while the channel is down. Outbound
// events are never queued; the caller decides whether the loss matters.
var ErrNotConnected = errors.New("signaling: not connected")

// Handler receives one inbound envelope. Handlers run synchronously on the
// read loop, in registration order, so envelope handling keeps arrival order.
type Handler func(ev *model.Event)

// Params address the channel: the server scopes the connection to a room
// and announces the device to its members.
type Params struct {
	DeviceID   string
	DeviceType model.DeviceType
	RoomID     string
}

// Transport is a duplex signaling channel for one device. Implementations
// must deliver envelopes in arrival order and must not replay outbound
// events across reconnects.
type Transport interface {
	// Connect opens the channel; it fails if the channel reports an error
	// before becoming ready.
	Connect(ctx context.Context) error
	// Disconnect closes the channel and stops any pending reconnection.
	Disconnect()
	// Send writes one envelope, or returns ErrNotConnected.
	Send(ev *model.Event) error
	// On registers a handler for an event type, or for every event when
	// called with model.EventTypeAny.
	On(t model.EventType, h Handler)
	IsConnected() bool
}

// RetryPolicy bounds automatic reconnection after an unexpected closure.
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
	Cap      time.Duration
}

// DefaultRetryPolicy retries three times: 1s, 2s, 4s.
var DefaultRetryPolicy = RetryPolicy{
	Attempts: 3,
	Base:     time.Second,
	Cap:      30 * time.Second,
}

// Delay returns the backoff before the given attempt (counted from zero):
// min(base * 2^attempt, cap).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	d := p.Base << uint(attempt)
	if d > p.Cap || d <= 0 {
		return p.Cap
	}
	return d
}
