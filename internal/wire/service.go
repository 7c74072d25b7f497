// ABOUTME: Hand-written gRPC service descriptor for the relay.AgentHost service.
// ABOUTME: Wires the bidirectional Channel stream and unary control methods to a server.

package wire

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "relay.AgentHost"

// Full method names, as they appear on the wire and in interceptor info.
const (
	MethodChannel            = "/" + ServiceName + "/Channel"
	MethodRegisterAgentType  = "/" + ServiceName + "/RegisterAgentType"
	MethodAddSubscription    = "/" + ServiceName + "/AddSubscription"
	MethodRemoveSubscription = "/" + ServiceName + "/RemoveSubscription"
	MethodGetSubscriptions   = "/" + ServiceName + "/GetSubscriptions"
	MethodGetState           = "/" + ServiceName + "/GetState"
	MethodSaveState          = "/" + ServiceName + "/SaveState"
)

// AgentHostServer is implemented by the relay host.
type AgentHostServer interface {
	// Channel is the persistent bidirectional envelope stream, one per client.
	Channel(ChannelServerStream) error

	RegisterAgentType(context.Context, *RegisterAgentTypeRequest) (*RegisterAgentTypeResponse, error)
	AddSubscription(context.Context, *AddSubscriptionRequest) (*AddSubscriptionResponse, error)
	RemoveSubscription(context.Context, *RemoveSubscriptionRequest) (*RemoveSubscriptionResponse, error)
	GetSubscriptions(context.Context, *GetSubscriptionsRequest) (*GetSubscriptionsResponse, error)
	GetState(context.Context, *GetStateRequest) (*GetStateResponse, error)
	SaveState(context.Context, *SaveStateRequest) (*SaveStateResponse, error)
}

// ChannelServerStream is the server side of the envelope stream.
type ChannelServerStream interface {
	Send(*Envelope) error
	Recv() (*Envelope, error)
	Context() context.Context
}

// RegisterAgentHostServer registers srv on s under the AgentHost service name.
func RegisterAgentHostServer(s grpc.ServiceRegistrar, srv AgentHostServer) {
	s.RegisterService(&agentHostServiceDesc, srv)
}

type channelServerStream struct {
	grpc.ServerStream
}

func (s *channelServerStream) Send(e *Envelope) error {
	return s.ServerStream.SendMsg(e)
}

func (s *channelServerStream) Recv() (*Envelope, error) {
	e := new(Envelope)
	if err := s.ServerStream.RecvMsg(e); err != nil {
		return nil, err
	}
	return e, nil
}

func channelHandler(srv any, stream grpc.ServerStream) error {
	return srv.(AgentHostServer).Channel(&channelServerStream{ServerStream: stream})
}

func registerAgentTypeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RegisterAgentTypeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentHostServer).RegisterAgentType(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodRegisterAgentType}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AgentHostServer).RegisterAgentType(ctx, req.(*RegisterAgentTypeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func addSubscriptionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AddSubscriptionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentHostServer).AddSubscription(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodAddSubscription}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AgentHostServer).AddSubscription(ctx, req.(*AddSubscriptionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func removeSubscriptionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RemoveSubscriptionRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentHostServer).RemoveSubscription(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodRemoveSubscription}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AgentHostServer).RemoveSubscription(ctx, req.(*RemoveSubscriptionRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getSubscriptionsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetSubscriptionsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentHostServer).GetSubscriptions(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodGetSubscriptions}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AgentHostServer).GetSubscriptions(ctx, req.(*GetSubscriptionsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func getStateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(GetStateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentHostServer).GetState(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodGetState}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AgentHostServer).GetState(ctx, req.(*GetStateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func saveStateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(SaveStateRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AgentHostServer).SaveState(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodSaveState}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AgentHostServer).SaveState(ctx, req.(*SaveStateRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var agentHostServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AgentHostServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RegisterAgentType", Handler: registerAgentTypeHandler},
		{MethodName: "AddSubscription", Handler: addSubscriptionHandler},
		{MethodName: "RemoveSubscription", Handler: removeSubscriptionHandler},
		{MethodName: "GetSubscriptions", Handler: getSubscriptionsHandler},
		{MethodName: "GetState", Handler: getStateHandler},
		{MethodName: "SaveState", Handler: saveStateHandler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Channel",
			Handler:       channelHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "relay/agent_host",
}
