package controlapi

import (
	"context"

	"google.golang.org/grpc"
)

// Client is a thin generated-stub-style wrapper over a *grpc.ClientConn,
// forcing every call onto the JSON codec since the server doesn't carry a
// protoc-generated "proto" codec to negotiate against.
type Client struct {
	cc *grpc.ClientConn
}

// NewClient wraps an already-dialed connection (typically dialed against
// a "unix:///path/to/socket" target).
func NewClient(cc *grpc.ClientConn) *Client {
	return &Client{cc: cc}
}

func (c *Client) callOpts(opts []grpc.CallOption) []grpc.CallOption {
	return append([]grpc.CallOption{grpc.CallContentSubtype(codecName)}, opts...)
}

func (c *Client) ListNodes(ctx context.Context, in *ListNodesRequest, opts ...grpc.CallOption) (*ListNodesResponse, error) {
	out := new(ListNodesResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/ListNodes", in, out, c.callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) TriggerDiscovery(ctx context.Context, in *TriggerDiscoveryRequest, opts ...grpc.CallOption) (*TriggerDiscoveryResponse, error) {
	out := new(TriggerDiscoveryResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/TriggerDiscovery", in, out, c.callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) RemoveNode(ctx context.Context, in *RemoveNodeRequest, opts ...grpc.CallOption) (*RemoveNodeResponse, error) {
	out := new(RemoveNodeResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/RemoveNode", in, out, c.callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) DecommissionNode(ctx context.Context, in *DecommissionNodeRequest, opts ...grpc.CallOption) (*DecommissionNodeResponse, error) {
	out := new(DecommissionNodeResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/DecommissionNode", in, out, c.callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) OpenCommissioningWindow(ctx context.Context, in *OpenCommissioningWindowRequest, opts ...grpc.CallOption) (*OpenCommissioningWindowResponse, error) {
	out := new(OpenCommissioningWindowResponse)
	if err := c.cc.Invoke(ctx, "/"+serviceName+"/OpenCommissioningWindow", in, out, c.callOpts(opts)...); err != nil {
		return nil, err
	}
	return out, nil
}

// EventsClientStream is the client-side handle StreamEvents returns.
type EventsClientStream interface {
	Recv() (*NodeEvent, error)
	grpc.ClientStream
}

type eventsClientStream struct {
	grpc.ClientStream
}

func (s *eventsClientStream) Recv() (*NodeEvent, error) {
	e := new(NodeEvent)
	if err := s.ClientStream.RecvMsg(e); err != nil {
		return nil, err
	}
	return e, nil
}

func (c *Client) StreamEvents(ctx context.Context, in *StreamEventsRequest, opts ...grpc.CallOption) (EventsClientStream, error) {
	stream, err := c.cc.NewStream(ctx, &serviceDesc.Streams[0], "/"+serviceName+"/StreamEvents", c.callOpts(opts)...)
	if err != nil {
		return nil, err
	}
	cs := &eventsClientStream{ClientStream: stream}
	if err := cs.SendMsg(in); err != nil {
		return nil, err
	}
	if err := cs.CloseSend(); err != nil {
		return nil, err
	}
	return cs, nil
}
