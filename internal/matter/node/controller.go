package node

import (
	"log/slog"
	"sync"

	"matterctl/internal/matter/addr"
	"matterctl/internal/matter/clock"
	"matterctl/internal/matter/mdnscache"
	"matterctl/internal/matter/ports"
	"matterctl/internal/matter/subscription"
)

// EventsFactory builds the Events callbacks for one node, letting the
// caller close over the node's address for routing (e.g. into a gRPC
// stream keyed by target). Controller calls it exactly once, at Add.
type EventsFactory func(target addr.PeerAddress) Events

// Controller is the top-level aggregate managing every paired node on this
// fabric (spec §4.G): a keyed registry, not a state machine itself. Add/
// Remove are the only mutating operations; everything else is delegated to
// the individual PairedNode.
type Controller struct {
	clk           clock.Clock
	log           *slog.Logger
	peers         ports.PeerSet
	store         ports.PersistentStore
	newClient     ClientFactory
	autoSubscribe bool
	events        EventsFactory

	mu    sync.RWMutex
	nodes map[addr.PeerAddress]*PairedNode
}

// ControllerConfig collects Controller's fixed collaborators.
type ControllerConfig struct {
	Clock         clock.Clock
	Log           *slog.Logger
	Peers         ports.PeerSet
	Store         ports.PersistentStore
	NewClient     ClientFactory
	AutoSubscribe bool
	Events        EventsFactory
}

// NewController creates an empty Controller.
func NewController(cfg ControllerConfig) *Controller {
	return &Controller{
		clk:           cfg.Clock,
		log:           cfg.Log,
		peers:         cfg.Peers,
		store:         cfg.Store,
		newClient:     cfg.NewClient,
		autoSubscribe: cfg.AutoSubscribe,
		events:        cfg.Events,
		nodes:         make(map[addr.PeerAddress]*PairedNode),
	}
}

// Add creates and registers a PairedNode for target, immediately triggering
// a background connect. Returns the existing node unchanged if target is
// already registered.
func (c *Controller) Add(target addr.PeerAddress) *PairedNode {
	c.mu.Lock()
	if existing, ok := c.nodes[target]; ok {
		c.mu.Unlock()
		return existing
	}

	var events Events
	if c.events != nil {
		events = c.events(target)
	}
	deps := Deps{
		Clock:         c.clk,
		Log:           c.log.With("target", target),
		Peers:         c.peers,
		Store:         c.store,
		NewClient:     c.newClient,
		AutoSubscribe: c.autoSubscribe,
	}
	n := New(target, deps, events)
	c.nodes[target] = n
	c.mu.Unlock()

	n.TriggerReconnect()
	return n
}

// Lookup returns the PairedNode for target, if registered.
func (c *Controller) Lookup(target addr.PeerAddress) (*PairedNode, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n, ok := c.nodes[target]
	return n, ok
}

// Remove disconnects and unregisters target. It is a no-op if target isn't
// registered.
func (c *Controller) Remove(target addr.PeerAddress) {
	c.mu.Lock()
	n, ok := c.nodes[target]
	if ok {
		delete(c.nodes, target)
	}
	c.mu.Unlock()
	if ok {
		n.Disconnect()
	}
}

// Decommission removes target and emits its decommissioned() event,
// distinguishing a permanent removal from a routine disconnect.
func (c *Controller) Decommission(target addr.PeerAddress) {
	c.mu.Lock()
	n, ok := c.nodes[target]
	if ok {
		delete(c.nodes, target)
	}
	c.mu.Unlock()
	if ok {
		n.Decommission()
	}
}

// All returns a snapshot of every registered node's address.
func (c *Controller) All() []addr.PeerAddress {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]addr.PeerAddress, 0, len(c.nodes))
	for target := range c.nodes {
		out = append(out, target)
	}
	return out
}

// Close disconnects every registered node.
func (c *Controller) Close() {
	c.mu.Lock()
	nodes := make([]*PairedNode, 0, len(c.nodes))
	for _, n := range c.nodes {
		nodes = append(nodes, n)
	}
	c.nodes = make(map[addr.PeerAddress]*PairedNode)
	c.mu.Unlock()
	for _, n := range nodes {
		n.Disconnect()
	}
}

// DeviceMetadataFromTXT maps mdnscache's parsed TXT record fields onto the
// subscription coordinator's interval-derivation inputs (spec §4.F).
func DeviceMetadataFromTXT(fields mdnscache.TXTFields) subscription.DeviceMetadata {
	return subscription.DeviceMetadata{
		ICD:                   fields.ICD,
		SessionIdleInterval:   fields.SII,
		SessionActiveInterval: fields.SAI,
	}
}

// ApplyDiscoveredMetadata updates target's device metadata from a resolved
// operational TXT record, used right before a (re)connect so the next
// SubscribeAll call derives correct intervals. No-op if target isn't
// registered.
func (c *Controller) ApplyDiscoveredMetadata(target addr.PeerAddress, fields mdnscache.TXTFields) {
	n, ok := c.Lookup(target)
	if !ok {
		return
	}
	n.SetDeviceMetadata(DeviceMetadataFromTXT(fields))
}
