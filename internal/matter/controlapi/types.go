// Package controlapi is the daemon's local control-plane surface: a gRPC
// service over a Unix socket exposing the paired-node registry, on-demand
// discovery, and commissioning-window management to a CLI or UI sitting on
// top of it. Grounded on the teacher's internal/daemon/api + internal/daemon/server
// gRPC-over-Unix-socket pattern (same Unix-socket listen/serve/cleanup
// shape, same toGRPCError error-mapping convention), minus the teacher's
// multi-machine proxy/TCP-forwarding layer -- that exists in the teacher
// to let a CLI reach any machine in a mesh, a concern with no analogue for
// a single local smart-home daemon.
//
// protoc isn't invokable in this build environment, so the wire messages
// below are hand-written Go structs carried over grpc's pluggable codec
// interface with a JSON codec (codec.go) instead of protoc-gen-go output.
// google.golang.org/grpc itself -- the teacher's actual transport pick --
// is wired for real: genuine Unix-socket listener, genuine
// grpc.ServiceDesc/server-streaming RPC, genuine client stub.
package controlapi

// NodeSummary is one paired node's observable state, keyed by its
// fabric-scoped address rendered as a string (addr.PeerAddress.String()).
type NodeSummary struct {
	Target    string `json:"target"`
	State     string `json:"state"`
	Endpoints int    `json:"endpoints"`
}

type ListNodesRequest struct{}

type ListNodesResponse struct {
	Nodes []NodeSummary `json:"nodes"`
}

type TriggerDiscoveryRequest struct {
	// Identifier, if set, narrows discovery to the commissionable device
	// with that DNS-SD instance name; empty means "any commissioning-mode
	// device". Discriminator and vendor/product identifiers are not
	// accepted here.
	Identifier string `json:"identifier,omitempty"`
}

type TriggerDiscoveryResponse struct{}

type RemoveNodeRequest struct {
	Target string `json:"target"`
}

type RemoveNodeResponse struct{}

type DecommissionNodeRequest struct {
	Target string `json:"target"`
}

type DecommissionNodeResponse struct{}

// OpenCommissioningWindowRequest asks the daemon for freshly generated
// commissioning credentials and their manual and QR pairing codes. The
// daemon sends no command to any node: Target and TimeoutSeconds are not
// used, and VendorID/ProductID only override the daemon's defaults when
// non-zero.
type OpenCommissioningWindowRequest struct {
	Target         string `json:"target"`
	VendorID       uint32 `json:"vendor_id"`
	ProductID      uint32 `json:"product_id"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

type OpenCommissioningWindowResponse struct {
	ManualPairingCode string `json:"manual_pairing_code"`
	QRPairingCode     string `json:"qr_pairing_code"`
}

type StreamEventsRequest struct {
	// Target, if set, filters the stream to one node; empty means every
	// paired node.
	Target string `json:"target,omitempty"`
}

// NodeEvent mirrors one of PairedNode's Events callbacks (spec §6), so a
// remote caller can watch connection/structure changes without polling.
type NodeEvent struct {
	Target     string `json:"target"`
	Kind       string `json:"kind"`
	State      string `json:"state,omitempty"`
	EndpointID uint32 `json:"endpoint_id,omitempty"`
}

const (
	EventStateChanged      = "state_changed"
	EventInitialized       = "initialized"
	EventInitFromRemote    = "initialized_from_remote"
	EventEndpointAdded     = "endpoint_added"
	EventEndpointRemoved   = "endpoint_removed"
	EventEndpointChanged   = "endpoint_changed"
	EventStructureChanged  = "structure_changed"
	EventDecommissioned    = "decommissioned"
	EventConnectionAlive   = "connection_alive"
)
