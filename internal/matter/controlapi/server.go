package controlapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"matterctl/internal/matter/addr"
	"matterctl/internal/matter/defaults"
	"matterctl/internal/matter/mdns"
	"matterctl/internal/matter/node"
	"matterctl/internal/matter/pairing"
	"matterctl/internal/matter/ports"
)

// daemon implements Server, wiring the control-plane RPCs to a node.Controller,
// an mdns.Engine and the pairing package. Grounded on the teacher's
// internal/daemon/server.Server, which plays the identical role of adapting
// one process's core collaborators onto gRPC method bodies.
type daemon struct {
	log        *slog.Logger
	controller *node.Controller
	engine     *mdns.Engine
	crypto     ports.Crypto
	vendorID   uint16
	productID  uint16

	broker *broker
}

// Config collects daemon's fixed collaborators.
type Config struct {
	Log        *slog.Logger
	Controller *node.Controller
	Engine     *mdns.Engine
	Crypto     ports.Crypto
	VendorID   uint16
	ProductID  uint16
}

// NewServer builds the Server implementation backing matterctld. The
// closure returned by its EventsFactory method should be passed to
// node.ControllerConfig.Events before any node is Added, so every node's
// callbacks reach StreamEvents subscribers from the moment it is registered.
func NewServer(cfg Config) *daemon {
	return &daemon{
		log:        cfg.Log,
		controller: cfg.Controller,
		engine:     cfg.Engine,
		crypto:     cfg.Crypto,
		vendorID:   cfg.VendorID,
		productID:  cfg.ProductID,
		broker:     newBroker(),
	}
}

// SetController attaches the controller whose nodes this daemon will
// serve. Callers that need EventsFactory's closure to build the
// controller in the first place (the normal wiring order: the daemon's
// broker must exist before any node is Added) call NewServer with a zero
// Config.Controller and set it here once node.NewController returns.
func (d *daemon) SetController(c *node.Controller) {
	d.controller = c
}

// EventsFactory returns a node.EventsFactory that republishes every node's
// callbacks as NodeEvents on the broker, for node.ControllerConfig.Events.
func (d *daemon) EventsFactory() node.EventsFactory {
	return func(target addr.PeerAddress) node.Events {
		key := target.String()
		publish := func(kind string, state string, endpointID uint32) {
			d.broker.publish(&NodeEvent{
				Target:     key,
				Kind:       kind,
				State:      state,
				EndpointID: endpointID,
			})
		}
		return node.Events{
			Initialized: func(details node.InitDetails) {
				publish(EventInitialized, "", 0)
			},
			InitializedFromRemote: func(details node.InitDetails) {
				publish(EventInitFromRemote, "", 0)
			},
			StateChanged: func(state node.State) {
				publish(EventStateChanged, state.String(), 0)
			},
			EndpointAdded: func(endpointID uint16) {
				publish(EventEndpointAdded, "", uint32(endpointID))
			},
			EndpointRemoved: func(endpointID uint16) {
				publish(EventEndpointRemoved, "", uint32(endpointID))
			},
			EndpointChanged: func(endpointID uint16) {
				publish(EventEndpointChanged, "", uint32(endpointID))
			},
			StructureChanged: func() {
				publish(EventStructureChanged, "", 0)
			},
			Decommissioned: func() {
				publish(EventDecommissioned, "", 0)
			},
			ConnectionAlive: func() {
				publish(EventConnectionAlive, "", 0)
			},
		}
	}
}

func (d *daemon) ListNodes(ctx context.Context, in *ListNodesRequest) (*ListNodesResponse, error) {
	targets := d.controller.All()
	out := make([]NodeSummary, 0, len(targets))
	for _, target := range targets {
		n, ok := d.controller.Lookup(target)
		if !ok {
			continue
		}
		out = append(out, NodeSummary{
			Target:    target.String(),
			State:     n.State().String(),
			Endpoints: n.EndpointCount(),
		})
	}
	return &ListNodesResponse{Nodes: out}, nil
}

func (d *daemon) TriggerDiscovery(ctx context.Context, in *TriggerDiscoveryRequest) (*TriggerDiscoveryResponse, error) {
	id := mdns.CommissionableIdentifier{AnyCommissioningMode: true}
	if in.Identifier != "" {
		id = mdns.CommissionableIdentifier{Instance: in.Identifier}
	}
	if _, err := d.engine.FindCommissionable(ctx, id, defaults.DiscoveryTimeout); err != nil {
		return nil, toGRPCError(err)
	}
	return &TriggerDiscoveryResponse{}, nil
}

func (d *daemon) RemoveNode(ctx context.Context, in *RemoveNodeRequest) (*RemoveNodeResponse, error) {
	target, err := addr.ParsePeerAddress(in.Target)
	if err != nil {
		return nil, toGRPCError(err)
	}
	d.controller.Remove(target)
	return &RemoveNodeResponse{}, nil
}

func (d *daemon) DecommissionNode(ctx context.Context, in *DecommissionNodeRequest) (*DecommissionNodeResponse, error) {
	target, err := addr.ParsePeerAddress(in.Target)
	if err != nil {
		return nil, toGRPCError(err)
	}
	d.controller.Decommission(target)
	return &DecommissionNodeResponse{}, nil
}

func (d *daemon) OpenCommissioningWindow(ctx context.Context, in *OpenCommissioningWindowRequest) (*OpenCommissioningWindowResponse, error) {
	creds, err := pairing.GenerateCredentials(d.crypto)
	if err != nil {
		return nil, toGRPCError(err)
	}
	vendorID := d.vendorID
	if in.VendorID != 0 {
		vendorID = uint16(in.VendorID)
	}
	productID := d.productID
	if in.ProductID != 0 {
		productID = uint16(in.ProductID)
	}
	codes, err := pairing.Generate(creds, vendorID, productID)
	if err != nil {
		return nil, toGRPCError(err)
	}
	return &OpenCommissioningWindowResponse{
		ManualPairingCode: codes.ManualPairingCode,
		QRPairingCode:     codes.QRPairingCode,
	}, nil
}

func (d *daemon) StreamEvents(in *StreamEventsRequest, stream EventsStream) error {
	ch, unsubscribe := d.broker.subscribe()
	defer unsubscribe()

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			if in.Target != "" && e.Target != in.Target {
				continue
			}
			if err := stream.Send(e); err != nil {
				return err
			}
		}
	}
}

// ListenAndServe opens socketPath and serves the control API until ctx is
// canceled, following the shape of the teacher's listenUnix + Server.ListenAndServe
// (internal/daemon/server/server.go) without its TCP/proxy forwarding layer:
// matterctld has no multi-machine mesh to forward RPCs across.
func (d *daemon) ListenAndServe(ctx context.Context, socketPath string) error {
	ln, err := listenUnix(socketPath)
	if err != nil {
		return err
	}
	defer ln.Close()

	srv := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	RegisterServer(srv, d)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		srv.GracefulStop()
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func listenUnix(socketPath string) (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(socketPath), 0o755); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}
	if err := os.Remove(socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix: %w", err)
	}
	if err := os.Chmod(socketPath, 0o660); err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("set socket permissions: %w", err)
	}
	return ln, nil
}
