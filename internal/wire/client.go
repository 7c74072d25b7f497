// ABOUTME: Thin gRPC client for the relay.AgentHost service.
// ABOUTME: Attaches the client-id metadata header and exposes typed stream and unary calls.

package wire

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
)

// Client is a low-level AgentHost client bound to one client id. Every call
// carries the id in the ClientIDHeader metadata entry.
type Client struct {
	cc       *grpc.ClientConn
	clientID string
}

// Dial connects to the relay host at target. Extra dial options are appended
// after the defaults (insecure transport, JSON content subtype).
func Dial(target, clientID string, opts ...grpc.DialOption) (*Client, error) {
	if clientID == "" {
		return nil, fmt.Errorf("client id is required")
	}
	dialOpts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	}, opts...)

	cc, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("dialing relay host: %w", err)
	}
	return &Client{cc: cc, clientID: clientID}, nil
}

// ClientID returns the client id the connection was opened with.
func (c *Client) ClientID() string {
	return c.clientID
}

// Close tears down the underlying gRPC connection.
func (c *Client) Close() error {
	return c.cc.Close()
}

func (c *Client) withClientID(ctx context.Context) context.Context {
	return metadata.AppendToOutgoingContext(ctx, ClientIDHeader, c.clientID)
}

var channelStreamDesc = grpc.StreamDesc{
	StreamName:    "Channel",
	ServerStreams: true,
	ClientStreams: true,
}

// ChannelClientStream is the worker side of the envelope stream.
type ChannelClientStream interface {
	Send(*Envelope) error
	Recv() (*Envelope, error)
	CloseSend() error
	Context() context.Context
}

type channelClientStream struct {
	grpc.ClientStream
}

func (s *channelClientStream) Send(e *Envelope) error {
	return s.ClientStream.SendMsg(e)
}

func (s *channelClientStream) Recv() (*Envelope, error) {
	e := new(Envelope)
	if err := s.ClientStream.RecvMsg(e); err != nil {
		return nil, err
	}
	return e, nil
}

// Channel opens the persistent envelope stream. The stream stays open until
// ctx is cancelled, CloseSend is called, or the host closes it.
func (c *Client) Channel(ctx context.Context) (ChannelClientStream, error) {
	cs, err := c.cc.NewStream(c.withClientID(ctx), &channelStreamDesc, MethodChannel)
	if err != nil {
		return nil, fmt.Errorf("opening channel: %w", err)
	}
	return &channelClientStream{ClientStream: cs}, nil
}

// RegisterAgentType claims ownership of agentType for this client.
func (c *Client) RegisterAgentType(ctx context.Context, agentType string) error {
	in := &RegisterAgentTypeRequest{AgentType: agentType}
	out := new(RegisterAgentTypeResponse)
	return c.cc.Invoke(c.withClientID(ctx), MethodRegisterAgentType, in, out)
}

// AddSubscription installs a subscription owned by this client.
func (c *Client) AddSubscription(ctx context.Context, sub Subscription) error {
	in := &AddSubscriptionRequest{Subscription: sub}
	out := new(AddSubscriptionResponse)
	return c.cc.Invoke(c.withClientID(ctx), MethodAddSubscription, in, out)
}

// RemoveSubscription removes a subscription by id.
func (c *Client) RemoveSubscription(ctx context.Context, id string) error {
	in := &RemoveSubscriptionRequest{ID: id}
	out := new(RemoveSubscriptionResponse)
	return c.cc.Invoke(c.withClientID(ctx), MethodRemoveSubscription, in, out)
}

// GetSubscriptions returns a snapshot of the host's installed subscriptions.
func (c *Client) GetSubscriptions(ctx context.Context) ([]Subscription, error) {
	out := new(GetSubscriptionsResponse)
	if err := c.cc.Invoke(c.withClientID(ctx), MethodGetSubscriptions, new(GetSubscriptionsRequest), out); err != nil {
		return nil, err
	}
	return out.Subscriptions, nil
}

// GetState fetches the persisted state blob for an agent id.
func (c *Client) GetState(ctx context.Context, agentID string) ([]byte, error) {
	in := &GetStateRequest{AgentID: agentID}
	out := new(GetStateResponse)
	if err := c.cc.Invoke(c.withClientID(ctx), MethodGetState, in, out); err != nil {
		return nil, err
	}
	return out.State, nil
}

// SaveState persists a state blob for an agent id.
func (c *Client) SaveState(ctx context.Context, agentID string, state []byte) error {
	in := &SaveStateRequest{AgentID: agentID, State: state}
	out := new(SaveStateResponse)
	return c.cc.Invoke(c.withClientID(ctx), MethodSaveState, in, out)
}
