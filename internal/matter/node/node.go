// Package node implements the PairedNode state machine (spec §4.G): the
// per-node connection lifecycle that owns a fresh InteractionClient across
// reconnects, drives the Subscription Coordinator and Endpoint Tree Builder,
// and reports every observable transition through Events. Grounded on the
// teacher's convergence.Machine (internal/daemon/convergence/machine.go) for
// the coalescing future cache, and on
// internal/network/phase.go's Phase/Transition idiom for State itself.
package node

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"matterctl/internal/matter/addr"
	"matterctl/internal/matter/clock"
	"matterctl/internal/matter/endpoint"
	"matterctl/internal/matter/merr"
	"matterctl/internal/matter/ports"
	"matterctl/internal/matter/subscription"
)

const (
	baseBackoff              = 15 * time.Second
	maxBackoff               = 10 * time.Minute
	explicitShutdownDelay    = 30 * time.Second
	newSessionStabilizeDelay = 5 * time.Second
)

// Events is the set of observable callbacks a PairedNode drives (spec §6).
// Every field is optional.
type Events struct {
	Initialized           func(details InitDetails)
	InitializedFromRemote func(details InitDetails)
	StateChanged          func(state State)
	AttributeChanged      func(report ports.AttributeReport)
	EventTriggered        func(report ports.EventReport)
	EndpointAdded         func(endpointID uint16)
	EndpointRemoved       func(endpointID uint16)
	EndpointChanged       func(endpointID uint16)
	StructureChanged      func()
	Decommissioned        func()
	ConnectionAlive       func()
}

// InitDetails accompanies the initialized/initialized_from_remote events.
type InitDetails struct {
	Target    addr.PeerAddress
	Endpoints int
}

// ClientFactory builds a fresh InteractionClient for one connect attempt
// (spec §5: "the Interaction Client is owned by the PairedNode but is
// re-created on reconnect").
type ClientFactory func() ports.InteractionClient

// Deps collects PairedNode's collaborators, assembled by Controller.
type Deps struct {
	Clock         clock.Clock
	Log           *slog.Logger
	Peers         ports.PeerSet
	Store         ports.PersistentStore
	NewClient     ClientFactory
	AutoSubscribe bool
}

// PairedNode is one commissioned node's connection lifecycle (spec §4.G).
type PairedNode struct {
	target addr.PeerAddress
	deps   Deps
	events Events

	// treeMu guards tree: a subscription handler's callback goroutine and a
	// reconnect's own cache-rebuild path can call into it concurrently.
	treeMu sync.Mutex
	tree   *endpoint.Tree

	mu                 sync.Mutex
	state              State
	errorCount         int
	initializedOnce    bool
	client             ports.InteractionClient
	channel            ports.ChannelHandle
	subscriber         *subscription.Coordinator
	deviceMeta         subscription.DeviceMetadata
	cachedVersions     map[uint32]uint32
	reconnectTimer     clock.Timer
	reconnectTimerStop chan struct{}
	future             *reconnectFuture
}

// reconnectFuture is the single-slot future cache for Reconnect (spec §9
// redesign note: "calling reconnect returns the active future if any;
// otherwise installs a new one").
type reconnectFuture struct {
	done chan struct{}
	err  error
}

// New creates a PairedNode in the Disconnected state. It does not attempt a
// connection; call TriggerReconnect or Reconnect to start one.
func New(target addr.PeerAddress, deps Deps, events Events) *PairedNode {
	return &PairedNode{
		target: target,
		deps:   deps,
		events: events,
		tree:   endpoint.New(deps.Log),
		state:  Disconnected,
	}
}

// State returns the node's current lifecycle state.
func (n *PairedNode) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Target returns the peer address this node represents.
func (n *PairedNode) Target() addr.PeerAddress {
	return n.target
}

// EndpointCount returns the number of endpoints currently in this node's
// tree.
func (n *PairedNode) EndpointCount() int {
	n.treeMu.Lock()
	defer n.treeMu.Unlock()
	return len(n.tree.Endpoints())
}

// SetDeviceMetadata records the SII/SAI/ICD hints the mDNS cache resolved
// for this peer, used to derive subscription intervals on the next
// SubscribeAll call.
func (n *PairedNode) SetDeviceMetadata(meta subscription.DeviceMetadata) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deviceMeta = meta
}

// TriggerReconnect is the non-blocking form (spec §5): it coalesces with
// any reconnect already running and does not wait for the result.
func (n *PairedNode) TriggerReconnect() {
	go func() { _ = n.Reconnect(context.Background()) }()
}

// Reconnect blocks until the connect attempt resolves (spec §5). A second
// concurrent call shares the first call's future instead of starting a
// fresh attempt.
func (n *PairedNode) Reconnect(ctx context.Context) error {
	n.mu.Lock()
	if n.future != nil {
		f := n.future
		n.mu.Unlock()
		select {
		case <-f.done:
			return f.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f := &reconnectFuture{done: make(chan struct{})}
	n.future = f
	n.mu.Unlock()

	err := n.doReconnect(ctx, false)

	n.mu.Lock()
	f.err = err
	n.future = nil
	n.mu.Unlock()
	close(f.done)
	return err
}

// backgroundReconnect is used by timer/event-driven triggers (scheduled
// backoff, channel-closed, new-session-while-waiting): failures here are
// logged and rescheduled rather than surfaced to a caller (spec §4.G
// failure semantics).
func (n *PairedNode) backgroundReconnect() {
	n.mu.Lock()
	if n.future != nil {
		n.mu.Unlock()
		return
	}
	f := &reconnectFuture{done: make(chan struct{})}
	n.future = f
	n.mu.Unlock()

	err := n.doReconnect(context.Background(), true)

	n.mu.Lock()
	f.err = err
	n.future = nil
	n.mu.Unlock()
	close(f.done)
}

// doReconnect implements the "Initialization order on connect" sequence
// (spec §4.G, 5 steps).
func (n *PairedNode) doReconnect(ctx context.Context, background bool) error {
	n.transitionTo(Reconnecting)
	n.cancelReconnectTimer()

	// Step 1: build from cache if it already has a usable tree.
	n.initializeFromCache(ctx)

	// Step 2: a fresh exchange channel and Interaction Client.
	ch, err := n.deps.Peers.Channel(ctx, n.target)
	if err != nil {
		return n.handleChannelEstablishError(err, background)
	}
	client := n.deps.NewClient()
	subscriber := subscription.New(n.deps.Clock, client)

	n.mu.Lock()
	if n.subscriber != nil {
		n.subscriber.Close()
	}
	n.client = client
	n.channel = ch
	n.subscriber = subscriber
	cachedVersions := n.cachedVersions
	meta := n.deviceMeta
	n.mu.Unlock()
	n.watchChannel(ch)

	// Step 3: auto-subscribe, or a one-shot read-all.
	if err := n.establishSubscriptionOrRead(ctx, subscriber, client, meta, cachedVersions); err != nil {
		return n.handleConnectError(err, background)
	}

	// Step 4: fabric label validation is best-effort (spec §4.G: "log but
	// don't fail on error").
	n.validateFabricLabel(ctx, client)

	// Step 5: successful connect resets backoff and emits terminal events.
	n.mu.Lock()
	n.errorCount = 0
	n.mu.Unlock()
	n.treeMu.Lock()
	flushed := n.tree.SetConnected(true)
	n.treeMu.Unlock()
	n.applyChanges(flushed, len(flushed) > 0)
	n.transitionTo(Connected)
	n.emitInitializedFromRemote()
	return nil
}

func (n *PairedNode) initializeFromCache(ctx context.Context) {
	reports, err := n.deps.Store.LoadAttributes(ctx, n.target)
	if err != nil || len(reports) == 0 {
		return
	}

	n.treeMu.Lock()
	changes, structural, err := n.tree.Build(reports)
	rooted := n.hasRootedTreeLocked()
	endpoints := len(n.tree.Endpoints())
	n.treeMu.Unlock()
	if err != nil {
		n.deps.Log.Debug("build tree from cache failed", "target", n.target, "err", err)
		return
	}
	n.applyChanges(changes, structural)

	n.mu.Lock()
	already := n.initializedOnce
	if !already && rooted {
		n.initializedOnce = true
	}
	shouldEmit := !already && n.initializedOnce
	n.mu.Unlock()

	if shouldEmit && n.events.Initialized != nil {
		n.events.Initialized(InitDetails{Target: n.target, Endpoints: endpoints})
	}
}

// hasRootedTreeLocked reports whether the cached tree includes endpoint 0
// plus at least one other endpoint (spec §4.G step 1). Caller must hold
// treeMu.
func (n *PairedNode) hasRootedTreeLocked() bool {
	eps := n.tree.Endpoints()
	if _, ok := eps[0]; !ok {
		return false
	}
	return len(eps) > 1
}

func (n *PairedNode) establishSubscriptionOrRead(ctx context.Context, subscriber *subscription.Coordinator, client ports.InteractionClient, meta subscription.DeviceMetadata, cachedVersions map[uint32]uint32) error {
	if n.deps.AutoSubscribe {
		_, err := subscriber.SubscribeAll(ctx, n.target, meta, cachedVersions, 0, n.subscriptionCallbacks())
		return err
	}
	result, err := client.ReadAll(ctx, n.target, cachedVersions)
	if err != nil {
		return err
	}
	n.applyReport(result.Attributes)
	for _, e := range result.Events {
		if n.events.EventTriggered != nil {
			n.events.EventTriggered(e)
		}
	}
	return nil
}

func (n *PairedNode) subscriptionCallbacks() subscription.Callbacks {
	return subscription.Callbacks{
		AttributeChanged: func(a ports.AttributeReport) {
			if n.events.AttributeChanged != nil {
				n.events.AttributeChanged(a)
			}
			n.applyReport([]ports.AttributeReport{a})
		},
		EventObserved: func(e ports.EventReport) {
			if n.events.EventTriggered != nil {
				n.events.EventTriggered(e)
			}
		},
		ScheduleReconnect: func(d time.Duration) { n.armReconnectTimer(d) },
		CancelReconnect:   func() { n.cancelReconnectTimer(); n.emitConnectionAlive() },
		RebuildTree:       func(ctx context.Context) { n.rebuildFromRemote(ctx) },
		SubscriptionTimeout: func(ctx context.Context) {
			n.mu.Lock()
			state := n.state
			n.mu.Unlock()
			if state != Connected {
				return
			}
			n.backgroundReconnect()
		},
	}
}

func (n *PairedNode) rebuildFromRemote(ctx context.Context) {
	n.mu.Lock()
	client := n.client
	cachedVersions := n.cachedVersions
	n.mu.Unlock()
	if client == nil {
		return
	}
	result, err := client.ReadAll(ctx, n.target, cachedVersions)
	if err != nil {
		n.deps.Log.Debug("structure rebuild read failed", "target", n.target, "err", err)
		return
	}
	n.applyReport(result.Attributes)
}

// applyReport runs the reports through the endpoint tree builder, persists
// the cache, and emits per-endpoint/structure events.
func (n *PairedNode) applyReport(reports []ports.AttributeReport) {
	n.treeMu.Lock()
	changes, structural, err := n.tree.Build(reports)
	n.treeMu.Unlock()
	if err != nil {
		n.deps.Log.Debug("endpoint tree build failed", "target", n.target, "err", err)
		return
	}
	n.applyChanges(changes, structural)
	n.recordDataVersions(reports)
	if err := n.deps.Store.SaveAttributes(context.Background(), n.target, reports); err != nil {
		n.deps.Log.Debug("cache attributes failed", "target", n.target, "err", err)
	}
}

// recordDataVersions tracks each cluster's latest data version so the next
// read/subscribe seeds its filters and the device can skip unchanged
// clusters in its reply.
func (n *PairedNode) recordDataVersions(reports []ports.AttributeReport) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.cachedVersions == nil {
		n.cachedVersions = make(map[uint32]uint32)
	}
	for _, r := range reports {
		if r.DataVersion != 0 {
			n.cachedVersions[r.Cluster] = r.DataVersion
		}
	}
}

func (n *PairedNode) applyChanges(changes []endpoint.Change, structural bool) {
	for _, c := range changes {
		switch c.Kind {
		case endpoint.Added:
			if n.events.EndpointAdded != nil {
				n.events.EndpointAdded(c.Endpoint)
			}
		case endpoint.Removed:
			if n.events.EndpointRemoved != nil {
				n.events.EndpointRemoved(c.Endpoint)
			}
		case endpoint.Changed:
			if n.events.EndpointChanged != nil {
				n.events.EndpointChanged(c.Endpoint)
			}
		}
	}
	if structural && n.events.StructureChanged != nil {
		n.events.StructureChanged()
	}
}

// OperationalCredentials cluster (0x003E), Fabrics attribute (0x0001):
// carries this fabric's label, among other per-fabric metadata.
const (
	operationalCredentialsClusterID uint32 = 0x003E
	attrFabrics                     uint32 = 0x0001
)

// validateFabricLabel implements spec §4.G step 4: best-effort, a failure
// here is logged and never fails the connect attempt.
func (n *PairedNode) validateFabricLabel(ctx context.Context, client ports.InteractionClient) {
	result, err := client.ReadAll(ctx, n.target, nil)
	if err != nil {
		n.deps.Log.Debug("fabric label validation read failed", "target", n.target, "err", err)
		return
	}
	for _, a := range result.Attributes {
		if a.Cluster == operationalCredentialsClusterID && a.Attribute == attrFabrics {
			return
		}
	}
	n.deps.Log.Debug("fabric label validation: no Fabrics attribute in response", "target", n.target)
}

// handleConnectError implements spec §4.G's failure semantics: a terminal
// UnknownNode drops straight to Disconnected; anything else increments
// error_count and schedules the backoff retry. The error is surfaced to
// the caller only on the foreground (Reconnect-invoked) path; a background
// attempt logs it and returns nil.
func (n *PairedNode) handleConnectError(err error, background bool) error {
	if merr.Is(err, merr.KindUnknownPeer) {
		n.transitionTo(Disconnected)
		return err
	}

	n.mu.Lock()
	n.errorCount++
	count := n.errorCount
	n.mu.Unlock()
	n.armReconnectTimer(backoffDelay(count))

	if background {
		n.deps.Log.Warn("background reconnect failed, retry scheduled", "target", n.target, "err", err)
		return nil
	}
	return err
}

// handleChannelEstablishError implements spec §4.G's "Reconnecting ->
// WaitingForDeviceDiscovery: direct-address reconnect failed" transition.
// Failing to open a fresh exchange channel at the node's known address
// (step 2) means there is no live transport left to retry against
// directly; the node waits in WaitingForDeviceDiscovery for either the
// backoff timer or an inbound session reported via mDNS re-announcement
// (handleNewSession's 5s-restabilize path) to trigger the next attempt.
func (n *PairedNode) handleChannelEstablishError(err error, background bool) error {
	if merr.Is(err, merr.KindUnknownPeer) {
		n.transitionTo(Disconnected)
		return err
	}

	n.mu.Lock()
	n.errorCount++
	count := n.errorCount
	n.mu.Unlock()
	n.transitionTo(WaitingForDeviceDiscovery)
	n.armReconnectTimer(backoffDelay(count))

	if background {
		n.deps.Log.Warn("direct-address reconnect failed, waiting for device discovery", "target", n.target, "err", err)
		return nil
	}
	return err
}

// backoffDelay implements spec §5's reconnect backoff formula.
func backoffDelay(errorCount int) time.Duration {
	d := baseBackoff
	for i := 0; i < errorCount && d < maxBackoff; i++ {
		d *= 2
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

func (n *PairedNode) armReconnectTimer(delay time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopReconnectTimerLocked()

	stop := make(chan struct{})
	n.reconnectTimerStop = stop
	n.reconnectTimer = n.deps.Clock.NewTimer(delay)
	timer := n.reconnectTimer
	go func() {
		select {
		case <-timer.C():
			n.backgroundReconnect()
		case <-stop:
		}
	}()
}

func (n *PairedNode) cancelReconnectTimer() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopReconnectTimerLocked()
}

// stopReconnectTimerLocked must be called with mu held.
func (n *PairedNode) stopReconnectTimerLocked() {
	if n.reconnectTimer != nil {
		n.reconnectTimer.Stop()
		n.reconnectTimer = nil
	}
	if n.reconnectTimerStop != nil {
		close(n.reconnectTimerStop)
		n.reconnectTimerStop = nil
	}
}

// watchChannel follows one exchange channel's lifecycle (spec §4.G: "any ->
// Reconnecting on channel closed while Connected"; "WaitingForDeviceDiscovery
// -> Reconnecting on a new inbound session, with a 5s stabilization delay").
func (n *PairedNode) watchChannel(ch ports.ChannelHandle) {
	go func() {
		for {
			select {
			case <-ch.Closed():
				// Closed is a done-channel: it only ever unblocks by being
				// closed, never by a send, so reaching this case at all is
				// the close signal.
				n.handleChannelClosed()
				return
			case <-ch.NewSessions():
				n.handleNewSession()
			}
		}
	}()
}

func (n *PairedNode) handleChannelClosed() {
	n.mu.Lock()
	believedConnected := n.state == Connected
	n.mu.Unlock()
	if !believedConnected {
		return
	}
	n.treeMu.Lock()
	n.tree.SetConnected(false)
	n.treeMu.Unlock()
	n.transitionTo(Reconnecting)
	n.backgroundReconnect()
}

func (n *PairedNode) handleNewSession() {
	n.mu.Lock()
	if n.state != WaitingForDeviceDiscovery {
		n.mu.Unlock()
		return
	}
	n.mu.Unlock()
	n.transitionTo(Reconnecting)
	n.armReconnectTimer(newSessionStabilizeDelay)
}

// Shutdown is the explicit-shutdown reconnect trigger (spec §4.F/§5: a flat
// 30s delay regardless of error_count).
func (n *PairedNode) Shutdown() {
	n.armReconnectTimer(explicitShutdownDelay)
}

// Disconnect implements spec §5's disconnect(): cancels all timers, drops
// the current subscription handler, and moves to Disconnected. It does not
// remove the node from its Controller; the caller does that.
func (n *PairedNode) Disconnect() {
	n.cancelReconnectTimer()
	n.mu.Lock()
	client := n.client
	subscriber := n.subscriber
	n.client = nil
	n.channel = nil
	n.subscriber = nil
	n.mu.Unlock()
	if subscriber != nil {
		subscriber.Close()
	}
	if client != nil {
		client.Close(n.target)
	}
	n.treeMu.Lock()
	n.tree.SetConnected(false)
	n.treeMu.Unlock()
	n.transitionTo(Disconnected)
}

// Decommission implements spec §6's decommissioned() event: the node is
// being permanently removed from the fabric, not merely disconnected.
func (n *PairedNode) Decommission() {
	n.Disconnect()
	if n.events.Decommissioned != nil {
		n.events.Decommissioned()
	}
}

// MarkUnknownPeer implements spec §4.G's "any -> Disconnected on remote
// UnknownNode": a terminal condition, no further reconnect is scheduled.
func (n *PairedNode) MarkUnknownPeer() {
	n.cancelReconnectTimer()
	n.transitionTo(Disconnected)
}

func (n *PairedNode) transitionTo(to State) {
	n.mu.Lock()
	n.state = n.state.Transition(to)
	state := n.state
	n.mu.Unlock()
	if n.events.StateChanged != nil {
		n.events.StateChanged(state)
	}
}

func (n *PairedNode) emitInitializedFromRemote() {
	if n.events.InitializedFromRemote == nil {
		return
	}
	n.treeMu.Lock()
	endpoints := len(n.tree.Endpoints())
	n.treeMu.Unlock()
	n.events.InitializedFromRemote(InitDetails{Target: n.target, Endpoints: endpoints})
}

func (n *PairedNode) emitConnectionAlive() {
	if n.events.ConnectionAlive != nil {
		n.events.ConnectionAlive()
	}
}
