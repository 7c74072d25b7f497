// ABOUTME: Worker-side client for the relay host, used by worker binaries and tests.
// ABOUTME: Manages the channel stream, per-type request handlers, and response correlation.

package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/2389/agent-relay/internal/wire"
)

// ErrChannelClosed is returned by in-flight calls when the channel stream
// ends before an outcome arrives.
var ErrChannelClosed = errors.New("channel closed")

// RequestError is a broker- or peer-generated error outcome for a request.
type RequestError struct {
	Code    string
	Message string
}

func (e *RequestError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Handler processes one request addressed to an agent type this worker
// hosts and returns the response payload.
type Handler func(ctx context.Context, req *wire.Request) ([]byte, error)

// EventHandler consumes one delivered event.
type EventHandler func(ctx context.Context, ev *wire.Event)

// Worker hosts agent types on behalf of one client id. It owns the channel
// stream to the relay and correlates request/response traffic over it.
type Worker struct {
	rpc    *wire.Client
	logger *slog.Logger

	stream wire.ChannelClientStream
	sendMu sync.Mutex // serializes stream sends

	mu       sync.Mutex
	handlers map[string]Handler
	onEvent  EventHandler
	pending  map[string]chan *wire.Response
}

// NewWorker wraps an established wire client. Call Connect before Run.
func NewWorker(rpc *wire.Client, logger *slog.Logger) *Worker {
	return &Worker{
		rpc:      rpc,
		logger:   logger.With("component", "worker", "client_id", rpc.ClientID()),
		handlers: make(map[string]Handler),
		pending:  make(map[string]chan *wire.Response),
	}
}

// Connect opens the channel stream. The stream stays open until ctx is
// cancelled or Close is called.
func (w *Worker) Connect(ctx context.Context) error {
	stream, err := w.rpc.Channel(ctx)
	if err != nil {
		return err
	}
	w.stream = stream
	w.logger.Info("channel open")
	return nil
}

// Close half-closes the channel stream; Run then drains and returns.
func (w *Worker) Close() error {
	if w.stream == nil {
		return nil
	}
	return w.stream.CloseSend()
}

// RegisterAgentType claims agentType on the relay and installs handler for
// requests addressed to it.
func (w *Worker) RegisterAgentType(ctx context.Context, agentType string, handler Handler) error {
	if handler == nil {
		return errors.New("handler is required")
	}
	if err := w.rpc.RegisterAgentType(ctx, agentType); err != nil {
		return err
	}

	w.mu.Lock()
	w.handlers[agentType] = handler
	w.mu.Unlock()

	w.logger.Info("agent type registered", "agent_type", agentType)
	return nil
}

// OnEvent installs the handler invoked for every delivered event.
func (w *Worker) OnEvent(handler EventHandler) {
	w.mu.Lock()
	w.onEvent = handler
	w.mu.Unlock()
}

// SubscribeExact installs an exact-match subscription routing topicType
// events to agentType. Returns the generated subscription id.
func (w *Worker) SubscribeExact(ctx context.Context, topicType, agentType string) (string, error) {
	sub := wire.Subscription{
		ID:        uuid.NewString(),
		Kind:      wire.SubscriptionExact,
		TopicType: topicType,
		AgentType: agentType,
	}
	if err := w.rpc.AddSubscription(ctx, sub); err != nil {
		return "", err
	}
	return sub.ID, nil
}

// SubscribePrefix installs a prefix-match subscription routing events whose
// topic type starts with prefix to agentType. Returns the subscription id.
func (w *Worker) SubscribePrefix(ctx context.Context, prefix, agentType string) (string, error) {
	sub := wire.Subscription{
		ID:              uuid.NewString(),
		Kind:            wire.SubscriptionPrefix,
		TopicTypePrefix: prefix,
		AgentType:       agentType,
	}
	if err := w.rpc.AddSubscription(ctx, sub); err != nil {
		return "", err
	}
	return sub.ID, nil
}

// SendRequest sends a request to the agent type named by target and waits
// for its outcome. Broker- and peer-generated failures come back as a
// RequestError; cancellation of ctx abandons the wait.
func (w *Worker) SendRequest(ctx context.Context, target string, payload []byte) ([]byte, error) {
	requestID := uuid.NewString()
	replyCh := make(chan *wire.Response, 1)

	w.mu.Lock()
	w.pending[requestID] = replyCh
	w.mu.Unlock()

	env := &wire.Envelope{Request: &wire.Request{
		RequestID: requestID,
		Target:    target,
		Payload:   payload,
	}}
	if err := w.send(env); err != nil {
		w.removePending(requestID)
		return nil, err
	}

	select {
	case <-ctx.Done():
		w.removePending(requestID)
		return nil, ctx.Err()
	case resp, ok := <-replyCh:
		if !ok {
			return nil, ErrChannelClosed
		}
		if resp.IsError() {
			return nil, &RequestError{Code: resp.ErrorCode, Message: resp.Error}
		}
		return resp.Payload, nil
	}
}

// Publish broadcasts an event through the relay.
func (w *Worker) Publish(topicType, topicSource string, payload []byte) error {
	return w.send(&wire.Envelope{Event: &wire.Event{
		TopicType:   topicType,
		TopicSource: topicSource,
		Payload:     payload,
	}})
}

// Run consumes the channel stream until it ends, dispatching requests to
// their handlers and correlating responses back to waiting SendRequest
// calls. Returns nil on a clean close.
func (w *Worker) Run(ctx context.Context) error {
	defer w.failPending()

	for {
		env, err := w.stream.Recv()
		if err != nil {
			if err == io.EOF || status.Code(err) == codes.Canceled || ctx.Err() != nil {
				w.logger.Info("channel closed")
				return nil
			}
			return fmt.Errorf("receiving envelope: %w", err)
		}

		switch env.Kind() {
		case wire.KindRequest:
			go w.handleRequest(ctx, env.Request)
		case wire.KindResponse:
			w.resolvePending(env.Response)
		case wire.KindEvent:
			w.handleEvent(ctx, env.Event)
		default:
			w.logger.Warn("received malformed envelope")
		}
	}
}

func (w *Worker) handleRequest(ctx context.Context, req *wire.Request) {
	w.mu.Lock()
	handler := w.handlers[req.Target]
	w.mu.Unlock()

	resp := &wire.Response{RequestID: req.RequestID}
	if handler == nil {
		resp.Error = fmt.Sprintf("no handler for agent type %q", req.Target)
	} else if payload, err := handler(ctx, req); err != nil {
		resp.Error = err.Error()
	} else {
		resp.Payload = payload
	}

	if err := w.send(&wire.Envelope{Response: resp}); err != nil {
		w.logger.Warn("failed to send response", "request_id", req.RequestID, "error", err)
	}
}

func (w *Worker) handleEvent(ctx context.Context, ev *wire.Event) {
	w.mu.Lock()
	handler := w.onEvent
	w.mu.Unlock()

	if handler == nil {
		w.logger.Debug("event dropped, no handler installed", "topic_type", ev.TopicType)
		return
	}
	handler(ctx, ev)
}

func (w *Worker) resolvePending(resp *wire.Response) {
	w.mu.Lock()
	replyCh, found := w.pending[resp.RequestID]
	if found {
		delete(w.pending, resp.RequestID)
	}
	w.mu.Unlock()

	if !found {
		w.logger.Warn("response for unknown request", "request_id", resp.RequestID)
		return
	}
	replyCh <- resp
}

// failPending closes every outstanding reply channel so waiting SendRequest
// calls return ErrChannelClosed instead of hanging.
func (w *Worker) failPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for requestID, replyCh := range w.pending {
		close(replyCh)
		delete(w.pending, requestID)
	}
}

func (w *Worker) removePending(requestID string) {
	w.mu.Lock()
	delete(w.pending, requestID)
	w.mu.Unlock()
}

func (w *Worker) send(env *wire.Envelope) error {
	w.sendMu.Lock()
	defer w.sendMu.Unlock()
	return w.stream.Send(env)
}
