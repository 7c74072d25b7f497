// ABOUTME: AgentHost gRPC service implementation for worker communication.
// ABOUTME: Handles the bidirectional channel stream and the unary control operations.

package host

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/2389/agent-relay/internal/relay"
	"github.com/2389/agent-relay/internal/store"
	"github.com/2389/agent-relay/internal/wire"
)

// agentHostService implements the wire.AgentHostServer interface.
type agentHostService struct {
	exchange *relay.Exchange
	states   store.Store // nil when no state store is configured
	logger   *slog.Logger
}

func newAgentHostService(exchange *relay.Exchange, states store.Store, logger *slog.Logger) *agentHostService {
	return &agentHostService{
		exchange: exchange,
		states:   states,
		logger:   logger,
	}
}

// clientIDFromContext extracts the trusted client identifier supplied by the
// prior layer in channel metadata. Its absence aborts the call.
func clientIDFromContext(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", status.Errorf(codes.InvalidArgument, "%s metadata is required", wire.ClientIDHeader)
	}
	values := md.Get(wire.ClientIDHeader)
	if len(values) == 0 || values[0] == "" {
		return "", status.Errorf(codes.InvalidArgument, "%s metadata is required", wire.ClientIDHeader)
	}
	return values[0], nil
}

// Channel handles the persistent bidirectional stream with a worker client.
// Protocol flow:
//  1. Client opens the stream with a client-id metadata header
//  2. The exchange attaches the client and starts its send loop
//  3. Inbound envelopes dispatch to the router or the event dispatcher
//  4. Stream end or a send failure detaches the client and purges its state
func (s *agentHostService) Channel(stream wire.ChannelServerStream) error {
	ctx := stream.Context()

	clientID, err := clientIDFromContext(ctx)
	if err != nil {
		return err
	}

	conn, err := s.exchange.Open(clientID, stream)
	if err != nil {
		if errors.Is(err, relay.ErrClientAlreadyConnected) {
			return status.Errorf(codes.AlreadyExists, "client %s already has an open channel", clientID)
		}
		if errors.Is(err, relay.ErrMissingClientID) {
			return status.Error(codes.InvalidArgument, "client id is required")
		}
		return status.Errorf(codes.Internal, "attaching client: %v", err)
	}
	defer s.exchange.Close(clientID)

	recvCh := make(chan *wire.Envelope)
	recvErrCh := make(chan error, 1)
	go func() {
		for {
			env, err := stream.Recv()
			if err != nil {
				recvErrCh <- err
				return
			}
			select {
			case recvCh <- env:
			case <-conn.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("channel context done", "client_id", clientID)
			return nil

		case <-conn.Done():
			return nil

		case sendErr := <-conn.Err():
			s.logger.Error("send loop failed", "client_id", clientID, "error", sendErr)
			return status.Errorf(codes.Internal, "sending to client: %v", sendErr)

		case recvErr := <-recvErrCh:
			if recvErr == io.EOF {
				s.logger.Info("client closed channel", "client_id", clientID)
				return nil
			}
			if status.Code(recvErr) == codes.Canceled {
				s.logger.Info("channel cancelled", "client_id", clientID)
				return nil
			}
			s.logger.Error("receiving envelope", "client_id", clientID, "error", recvErr)
			return status.Errorf(codes.Internal, "receiving envelope: %v", recvErr)

		case env := <-recvCh:
			s.dispatch(clientID, env)
		}
	}
}

// dispatch hands an inbound envelope to the right exchange operation.
func (s *agentHostService) dispatch(clientID string, env *wire.Envelope) {
	switch env.Kind() {
	case wire.KindRequest:
		s.exchange.Route(clientID, env.Request)
	case wire.KindResponse:
		s.exchange.Respond(clientID, env.Response)
	case wire.KindEvent:
		s.exchange.Publish(clientID, env.Event)
	default:
		s.logger.Warn("received malformed envelope", "client_id", clientID)
	}
}

// RegisterAgentType claims an agent type for the calling client.
func (s *agentHostService) RegisterAgentType(ctx context.Context, in *wire.RegisterAgentTypeRequest) (*wire.RegisterAgentTypeResponse, error) {
	clientID, err := clientIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	err = s.exchange.RegisterAgentType(clientID, in.AgentType)
	var already *relay.AlreadyRegisteredError
	switch {
	case errors.As(err, &already):
		return nil, status.Errorf(codes.AlreadyExists, "agent type %q already registered by client %q", already.AgentType, already.Owner)
	case errors.Is(err, relay.ErrInvalidAgentType):
		return nil, status.Error(codes.InvalidArgument, "agent type is required")
	case errors.Is(err, relay.ErrClientNotConnected):
		return nil, status.Errorf(codes.FailedPrecondition, "client %s has no open channel", clientID)
	case err != nil:
		return nil, status.Errorf(codes.Internal, "registering agent type: %v", err)
	}
	return &wire.RegisterAgentTypeResponse{}, nil
}

// AddSubscription installs a subscription for the calling client.
func (s *agentHostService) AddSubscription(ctx context.Context, in *wire.AddSubscriptionRequest) (*wire.AddSubscriptionResponse, error) {
	clientID, err := clientIDFromContext(ctx)
	if err != nil {
		return nil, err
	}

	err = s.exchange.AddSubscription(clientID, in.Subscription)
	switch {
	case errors.Is(err, relay.ErrClientNotConnected):
		return nil, status.Errorf(codes.FailedPrecondition, "client %s has no open channel", clientID)
	case err != nil:
		return nil, status.Errorf(codes.InvalidArgument, "adding subscription: %v", err)
	}
	return &wire.AddSubscriptionResponse{}, nil
}

// RemoveSubscription removes a subscription by id.
func (s *agentHostService) RemoveSubscription(ctx context.Context, in *wire.RemoveSubscriptionRequest) (*wire.RemoveSubscriptionResponse, error) {
	if _, err := clientIDFromContext(ctx); err != nil {
		return nil, err
	}

	if err := s.exchange.RemoveSubscription(in.ID); err != nil {
		if errors.Is(err, relay.ErrSubscriptionNotFound) {
			return nil, status.Errorf(codes.NotFound, "subscription %q not found", in.ID)
		}
		return nil, status.Errorf(codes.Internal, "removing subscription: %v", err)
	}
	return &wire.RemoveSubscriptionResponse{}, nil
}

// GetSubscriptions returns a snapshot of all installed subscriptions.
func (s *agentHostService) GetSubscriptions(ctx context.Context, in *wire.GetSubscriptionsRequest) (*wire.GetSubscriptionsResponse, error) {
	if _, err := clientIDFromContext(ctx); err != nil {
		return nil, err
	}
	return &wire.GetSubscriptionsResponse{Subscriptions: s.exchange.ListSubscriptions()}, nil
}

// GetState passes a state read through to the store collaborator.
func (s *agentHostService) GetState(ctx context.Context, in *wire.GetStateRequest) (*wire.GetStateResponse, error) {
	if _, err := clientIDFromContext(ctx); err != nil {
		return nil, err
	}
	if s.states == nil {
		return nil, status.Error(codes.Unimplemented, "no state store configured")
	}
	if in.AgentID == "" {
		return nil, status.Error(codes.InvalidArgument, "agent id is required")
	}

	state, err := s.states.GetState(ctx, in.AgentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, status.Errorf(codes.NotFound, "no state for agent %q", in.AgentID)
		}
		return nil, status.Errorf(codes.Internal, "reading state: %v", err)
	}
	return &wire.GetStateResponse{State: state}, nil
}

// SaveState passes a state write through to the store collaborator.
func (s *agentHostService) SaveState(ctx context.Context, in *wire.SaveStateRequest) (*wire.SaveStateResponse, error) {
	if _, err := clientIDFromContext(ctx); err != nil {
		return nil, err
	}
	if s.states == nil {
		return nil, status.Error(codes.Unimplemented, "no state store configured")
	}
	if in.AgentID == "" {
		return nil, status.Error(codes.InvalidArgument, "agent id is required")
	}

	if err := s.states.SaveState(ctx, in.AgentID, in.State); err != nil {
		return nil, status.Errorf(codes.Internal, "saving state: %v", err)
	}
	return &wire.SaveStateResponse{}, nil
}
