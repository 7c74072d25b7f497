// ABOUTME: Exchange is the broker's single coherent state object behind one mutex.
// ABOUTME: Owns connections, the agent type registry, subscriptions, and pending requests.

package relay

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/agent-relay/internal/wire"
)

// ErrMissingClientID indicates a channel open without a client identifier.
var ErrMissingClientID = errors.New("client id is required")

// ErrClientAlreadyConnected indicates a second channel open for a client id
// whose previous channel is still attached.
var ErrClientAlreadyConnected = errors.New("client already connected")

// ErrClientNotConnected indicates a control operation for a client with no
// open channel.
var ErrClientNotConnected = errors.New("client not connected")

// Options tunes Exchange queueing and request handling.
type Options struct {
	// QueueSize bounds each connection's outbound queue. Zero means the
	// default (256).
	QueueSize int
	// OverflowPolicy selects behavior when an outbound queue is full.
	// Empty means OverflowBlock.
	OverflowPolicy OverflowPolicy
	// RequestTimeout bounds how long a routed request may stay pending.
	// Zero disables timeouts.
	RequestTimeout time.Duration
}

type pendingKey struct {
	targetClientID string
	requestID      string
}

type pendingRequest struct {
	originClientID string
	timer          *time.Timer
}

// Exchange coordinates all attached clients and routes envelopes between
// them. Every table it owns is guarded by one mutex so that multi-table
// operations, disconnect cleanup above all, are atomic to observers.
type Exchange struct {
	mu      sync.Mutex
	conns   map[string]*Connection
	types   *registry
	subs    *subscriptionTable
	pending map[pendingKey]*pendingRequest

	opts   Options
	logger *slog.Logger
}

// NewExchange creates an empty Exchange.
func NewExchange(opts Options, logger *slog.Logger) *Exchange {
	return &Exchange{
		conns:   make(map[string]*Connection),
		types:   newRegistry(),
		subs:    newSubscriptionTable(),
		pending: make(map[pendingKey]*pendingRequest),
		opts:    opts,
		logger:  logger,
	}
}

// Open attaches a client and starts its send loop. Fails on an empty client
// id or a client id that is already attached.
func (x *Exchange) Open(clientID string, sender Sender) (*Connection, error) {
	if clientID == "" {
		return nil, ErrMissingClientID
	}

	conn := NewConnection(clientID, sender, x.opts.QueueSize, x.opts.OverflowPolicy, x.logger)

	x.mu.Lock()
	if _, exists := x.conns[clientID]; exists {
		x.mu.Unlock()
		return nil, ErrClientAlreadyConnected
	}
	x.conns[clientID] = conn
	total := len(x.conns)
	x.mu.Unlock()

	go conn.Run()

	x.logger.Info("client connected", "client_id", clientID, "total_clients", total)
	return conn, nil
}

// Close detaches a client, atomically purging its agent type registrations,
// its subscriptions, and every pending request targeting it. Originators of
// cancelled requests receive a Cancelled error response. Idempotent.
func (x *Exchange) Close(clientID string) {
	type cancellation struct {
		origin    *Connection
		requestID string
	}

	x.mu.Lock()
	conn, exists := x.conns[clientID]
	if !exists {
		x.mu.Unlock()
		return
	}
	delete(x.conns, clientID)

	removedTypes := x.types.removeOwner(clientID)
	x.subs.removeOwner(clientID)

	var cancelled []cancellation
	for key, p := range x.pending {
		switch {
		case key.targetClientID == clientID:
			delete(x.pending, key)
			if p.timer != nil {
				p.timer.Stop()
			}
			if origin, ok := x.conns[p.originClientID]; ok {
				cancelled = append(cancelled, cancellation{origin: origin, requestID: key.requestID})
			}
		case p.originClientID == clientID:
			// The originator is gone; its eventual response has nowhere
			// to go.
			delete(x.pending, key)
			if p.timer != nil {
				p.timer.Stop()
			}
		}
	}
	total := len(x.conns)
	x.mu.Unlock()

	conn.Close()

	for _, c := range cancelled {
		x.deliverError(c.origin, c.requestID, wire.ErrorCodeCancelled, "target client disconnected before answering")
	}

	x.logger.Info("client disconnected",
		"client_id", clientID,
		"agent_types_removed", removedTypes,
		"requests_cancelled", len(cancelled),
		"total_clients", total,
	)
}

// RegisterAgentType records the calling client as the sole owner of
// agentType. Exactly one of two concurrent registrations of the same name
// succeeds; the loser sees AlreadyRegisteredError naming the winner.
func (x *Exchange) RegisterAgentType(clientID, agentType string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if _, connected := x.conns[clientID]; !connected {
		return ErrClientNotConnected
	}
	if err := x.types.register(clientID, agentType); err != nil {
		return err
	}
	x.logger.Info("agent type registered", "agent_type", agentType, "client_id", clientID)
	return nil
}

// ResolveAgentType returns the client currently hosting agentType.
func (x *Exchange) ResolveAgentType(agentType string) (string, bool) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.types.resolve(agentType)
}

// AddSubscription installs a subscription owned by the calling client.
func (x *Exchange) AddSubscription(clientID string, sub wire.Subscription) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if _, connected := x.conns[clientID]; !connected {
		return ErrClientNotConnected
	}
	if err := x.subs.add(clientID, sub); err != nil {
		return err
	}
	x.logger.Info("subscription added",
		"subscription_id", sub.ID,
		"kind", sub.Kind,
		"agent_type", sub.AgentType,
		"client_id", clientID,
	)
	return nil
}

// RemoveSubscription removes a subscription by id.
func (x *Exchange) RemoveSubscription(id string) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if err := x.subs.remove(id); err != nil {
		return err
	}
	x.logger.Info("subscription removed", "subscription_id", id)
	return nil
}

// ListSubscriptions returns a snapshot of all installed subscriptions.
func (x *Exchange) ListSubscriptions() []wire.Subscription {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.subs.list()
}

// ConnectedClients returns the number of attached clients.
func (x *Exchange) ConnectedClients() int {
	x.mu.Lock()
	defer x.mu.Unlock()
	return len(x.conns)
}

// deliverError enqueues a broker-generated error response onto origin. A
// failed enqueue is logged and dropped; the originator is disconnecting or
// overloaded, and there is no one left to tell.
func (x *Exchange) deliverError(origin *Connection, requestID, code, msg string) {
	env := &wire.Envelope{Response: &wire.Response{
		RequestID: requestID,
		Error:     msg,
		ErrorCode: code,
	}}
	if err := origin.Enqueue(env); err != nil {
		x.logger.Warn("failed to deliver error response",
			"client_id", origin.ClientID,
			"request_id", requestID,
			"error_code", code,
			"error", err,
		)
	}
}
