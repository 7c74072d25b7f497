// ABOUTME: Represents one attached worker client and its outbound envelope queue.
// ABOUTME: A dedicated send loop drains the queue to the transport in FIFO order.

package relay

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/2389/agent-relay/internal/wire"
)

// ErrConnectionClosed is returned when enqueueing onto a closed connection.
var ErrConnectionClosed = errors.New("connection closed")

// ErrQueueFull is returned under the reject overflow policy when the outbound
// queue is at capacity.
var ErrQueueFull = errors.New("outbound queue full")

// Sender delivers an envelope to the transport. In production this is the
// gRPC stream; tests substitute a recording mock.
type Sender interface {
	Send(*wire.Envelope) error
}

// OverflowPolicy selects what Enqueue does when the outbound queue is full.
type OverflowPolicy string

const (
	// OverflowBlock makes Enqueue wait for space.
	OverflowBlock OverflowPolicy = "block"
	// OverflowDropOldest evicts the oldest queued envelope to make room.
	OverflowDropOldest OverflowPolicy = "drop_oldest"
	// OverflowReject makes Enqueue fail with ErrQueueFull.
	OverflowReject OverflowPolicy = "reject"
)

// Connection is one attached client. Envelopes enqueued onto it are sent to
// the client by the send loop, strictly in FIFO order.
type Connection struct {
	ClientID string

	out     chan *wire.Envelope
	policy  OverflowPolicy
	sender  Sender
	logger  *slog.Logger

	closeOnce sync.Once
	closed    chan struct{}

	errOnce sync.Once
	errCh   chan error
}

// NewConnection creates a connection with the given queue capacity and
// overflow policy. The send loop is not started; call Run in a goroutine.
func NewConnection(clientID string, sender Sender, queueSize int, policy OverflowPolicy, logger *slog.Logger) *Connection {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if policy == "" {
		policy = OverflowBlock
	}
	return &Connection{
		ClientID: clientID,
		out:      make(chan *wire.Envelope, queueSize),
		policy:   policy,
		sender:   sender,
		logger:   logger,
		closed:   make(chan struct{}),
		errCh:    make(chan error, 1),
	}
}

const defaultQueueSize = 256

// Enqueue places an envelope on the outbound queue, honoring the overflow
// policy. It never blocks under OverflowDropOldest or OverflowReject.
func (c *Connection) Enqueue(env *wire.Envelope) error {
	select {
	case <-c.closed:
		return ErrConnectionClosed
	default:
	}

	switch c.policy {
	case OverflowDropOldest:
		for {
			select {
			case c.out <- env:
				return nil
			case <-c.closed:
				return ErrConnectionClosed
			default:
			}
			select {
			case dropped := <-c.out:
				c.logger.Warn("outbound queue full, dropping oldest envelope",
					"client_id", c.ClientID,
					"dropped_kind", dropped.Kind(),
				)
			default:
			}
		}
	case OverflowReject:
		select {
		case c.out <- env:
			return nil
		case <-c.closed:
			return ErrConnectionClosed
		default:
			return ErrQueueFull
		}
	default: // OverflowBlock
		select {
		case c.out <- env:
			return nil
		case <-c.closed:
			return ErrConnectionClosed
		}
	}
}

// Run drains the outbound queue to the sender until the connection closes or
// a send fails. A send failure is reported on Err and closes the connection.
func (c *Connection) Run() {
	for {
		select {
		case <-c.closed:
			return
		case env := <-c.out:
			if err := c.sender.Send(env); err != nil {
				c.reportError(err)
				c.Close()
				return
			}
		}
	}
}

// Close stops the send loop and fails all future enqueues. Idempotent.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
}

// Done is closed once the connection has been closed.
func (c *Connection) Done() <-chan struct{} {
	return c.closed
}

// Err yields the first send-loop failure, if any. The supervising stream
// handler selects on it to tear the channel down instead of losing the
// failure inside a detached goroutine.
func (c *Connection) Err() <-chan error {
	return c.errCh
}

func (c *Connection) reportError(err error) {
	c.errOnce.Do(func() {
		c.errCh <- err
	})
}
