// Package ports declares the external collaborators this module consumes
// rather than implements (spec §1): the interaction client, peer set,
// mDNS socket, persistent store, and crypto primitives. Each interface
// documents its production and test implementations, following the
// teacher's internal/network/ports.go hexagonal convention.
package ports

import (
	"context"
	"time"

	"matterctl/internal/matter/addr"
)

// AttributePath identifies one attribute on a node's endpoint/cluster tree.
type AttributePath struct {
	Endpoint    uint16
	Cluster     uint32
	Attribute   uint32
	HasAttr     bool // false selects a wildcard read of the whole cluster
}

// EventPath identifies one event source.
type EventPath struct {
	Endpoint uint16
	Cluster  uint32
	Event    uint32
}

// AttributeReport is one attribute value delivered by a read or
// subscription response (spec §6 report contract).
type AttributeReport struct {
	Endpoint    uint16
	Cluster     uint32
	Attribute   uint32
	Value       any
	DataVersion uint32
}

// EventReport is one event delivered by a subscription.
type EventReport struct {
	Endpoint    uint16
	Cluster     uint32
	Event       uint32
	EventNumber uint64
	Data        any
}

// ReadResult is the outcome of a one-shot attribute/event read.
type ReadResult struct {
	Attributes []AttributeReport
	Events     []EventReport
}

// SubscribeOptions parameterizes subscribe_all (spec §4.F).
type SubscribeOptions struct {
	MinIntervalFloor time.Duration
	MaxIntervalCeil  time.Duration
	AttributePaths   []AttributePath
	EventPaths       []EventPath
	// DataVersionFilters seeds the initial read so the device returns only
	// clusters whose data version has changed since the cached value.
	DataVersionFilters map[uint32]uint32 // cluster -> last known data version, per endpoint handled by caller keying
}

// SubscriptionUpdate is one message delivered on a live subscription's
// update channel: exactly one of Attribute/Event/Timeout/Alive is set.
type SubscriptionUpdate struct {
	Attribute *AttributeReport
	Event     *EventReport
	Timeout   bool
	Alive     bool
}

// Subscription is a live subscription handle.
type Subscription interface {
	Updates() <-chan SubscriptionUpdate
	MaxInterval() time.Duration
	Close()
}

// InteractionClient sends attribute/event read, write, subscribe, and
// invoke requests over a reliable exchange to one peer.
//
// Production: an exchange-layer client over a secure (CASE) session.
// Testing: internal/matter/matterfake.InteractionClient.
type InteractionClient interface {
	ReadAll(ctx context.Context, target addr.PeerAddress, filters map[uint32]uint32) (ReadResult, error)
	Write(ctx context.Context, target addr.PeerAddress, path AttributePath, value any) error
	Invoke(ctx context.Context, target addr.PeerAddress, endpoint uint16, cluster, command uint32, fields any) (any, error)
	SubscribeAll(ctx context.Context, target addr.PeerAddress, opts SubscribeOptions) (Subscription, error)
	Close(target addr.PeerAddress)
}

// InboundPacket is one datagram read off a multicast socket.
type InboundPacket struct {
	Interface string
	Data      []byte
	From      addr.ServerAddress
}

// MDNSSocket sends and receives multicast DNS messages, one instance per
// network interface the engine has joined.
//
// Production: internal/matter/adapter/udpsocket.Socket.
// Testing: internal/matter/matterfake.Socket.
type MDNSSocket interface {
	Interfaces() []string
	Send(ctx context.Context, iface string, data []byte) error
	Packets() <-chan InboundPacket
	Close() error
}

// PeerSet resolves a fabric-scoped peer address to a transport channel,
// triggering CASE establishment if no session is current.
//
// Production: the secure-session manager's channel pool.
// Testing: internal/matter/matterfake.PeerSet.
type PeerSet interface {
	Channel(ctx context.Context, target addr.PeerAddress) (ChannelHandle, error)
}

// ChannelHandle is an opaque reference to an established exchange
// channel; its lifecycle events feed the PairedNode state machine.
type ChannelHandle interface {
	Closed() <-chan struct{}
	NewSessions() <-chan struct{} // fires on an inbound session from the peer
}

// PersistentStore persists cached attribute values and discovered-device
// records across restarts.
//
// Production: internal/matter/adapter/sqlite.Store.
// Testing: internal/matter/matterfake.Store.
type PersistentStore interface {
	LoadAttributes(ctx context.Context, target addr.PeerAddress) ([]AttributeReport, error)
	SaveAttributes(ctx context.Context, target addr.PeerAddress, reports []AttributeReport) error
	LoadDiscoveryRecord(ctx context.Context, instanceName string) ([]byte, error)
	SaveDiscoveryRecord(ctx context.Context, instanceName string, data []byte) error
}

// Crypto provides random bytes and key derivation for commissioning
// window operations (manual/QR pairing code generation).
//
// Production: internal/matter/adapter crypto/rand + golang.org/x/crypto/pbkdf2.
// Testing: internal/matter/matterfake.Crypto (deterministic PRNG).
type Crypto interface {
	RandomBytes(n int) ([]byte, error)
	DeriveKey(passcode uint32, salt []byte, iterations int, keyLen int) ([]byte, error)
}
