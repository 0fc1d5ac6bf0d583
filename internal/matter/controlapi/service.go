package controlapi

import (
	"context"

	"google.golang.org/grpc"
)

const serviceName = "matterctl.controlapi.v1.ControlAPI"

// Server is the control-plane RPC surface a daemon implements. It mirrors
// what protoc-gen-go-grpc would generate as the "*Server" interface for
// controlapi.proto's service definition.
type Server interface {
	ListNodes(context.Context, *ListNodesRequest) (*ListNodesResponse, error)
	TriggerDiscovery(context.Context, *TriggerDiscoveryRequest) (*TriggerDiscoveryResponse, error)
	RemoveNode(context.Context, *RemoveNodeRequest) (*RemoveNodeResponse, error)
	DecommissionNode(context.Context, *DecommissionNodeRequest) (*DecommissionNodeResponse, error)
	OpenCommissioningWindow(context.Context, *OpenCommissioningWindowRequest) (*OpenCommissioningWindowResponse, error)
	StreamEvents(*StreamEventsRequest, EventsStream) error
}

// EventsStream is the server-streaming handle StreamEvents sends NodeEvents
// through, mirroring the generated "*_Server" stream interface.
type EventsStream interface {
	Send(*NodeEvent) error
	grpc.ServerStream
}

type eventsStream struct {
	grpc.ServerStream
}

func (s *eventsStream) Send(e *NodeEvent) error {
	return s.ServerStream.SendMsg(e)
}

// RegisterServer attaches impl's methods to a *grpc.Server under
// controlapi's service descriptor.
func RegisterServer(s *grpc.Server, impl Server) {
	s.RegisterService(&serviceDesc, impl)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*Server)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListNodes", Handler: listNodesHandler},
		{MethodName: "TriggerDiscovery", Handler: triggerDiscoveryHandler},
		{MethodName: "RemoveNode", Handler: removeNodeHandler},
		{MethodName: "DecommissionNode", Handler: decommissionNodeHandler},
		{MethodName: "OpenCommissioningWindow", Handler: openCommissioningWindowHandler},
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamEvents",
			Handler:       streamEventsHandler,
			ServerStreams: true,
		},
	},
	Metadata: "controlapi.proto",
}

func listNodesHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(ListNodesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).ListNodes(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/ListNodes"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).ListNodes(ctx, req.(*ListNodesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func triggerDiscoveryHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(TriggerDiscoveryRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).TriggerDiscovery(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/TriggerDiscovery"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).TriggerDiscovery(ctx, req.(*TriggerDiscoveryRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func removeNodeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(RemoveNodeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).RemoveNode(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/RemoveNode"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).RemoveNode(ctx, req.(*RemoveNodeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func decommissionNodeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(DecommissionNodeRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).DecommissionNode(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/DecommissionNode"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).DecommissionNode(ctx, req.(*DecommissionNodeRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func openCommissioningWindowHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(OpenCommissioningWindowRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Server).OpenCommissioningWindow(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/OpenCommissioningWindow"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(Server).OpenCommissioningWindow(ctx, req.(*OpenCommissioningWindowRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func streamEventsHandler(srv any, stream grpc.ServerStream) error {
	in := new(StreamEventsRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(Server).StreamEvents(in, &eventsStream{ServerStream: stream})
}
