// Package subscription implements the Subscription Coordinator (spec
// §4.F): one active subscription per node, seeded with cached data-version
// filters, routing attribute/event/alive/timeout updates to the owning
// PairedNode. Grounded on the teacher's Broker replace-and-invalidate
// pattern (internal/daemon/convergence/broker.go's unsubscribe path),
// adapted from "many subscribers per topic" to "one live handler per node,
// the previous one rewired to no-ops on replace".
package subscription

import (
	"context"
	"time"

	"matterctl/internal/matter/addr"
	"matterctl/internal/matter/clock"
	"matterctl/internal/matter/merr"
	"matterctl/internal/matter/ports"
)

// Descriptor cluster and attribute IDs (spec §4.E): an attribute delta here
// implies the endpoint tree may need to be rebuilt.
const (
	descriptorClusterID uint32 = 0x001D
	attrDeviceTypeList  uint32 = 0x0000
	attrServerList      uint32 = 0x0001
	attrClientList      uint32 = 0x0002
	attrPartsList       uint32 = 0x0003
)

// BasicInformation.ShutDown (spec §4.F: "on BasicInformation.shutDown,
// schedule reconnect after a longer delay because the device will restart").
const (
	basicInformationClusterID uint32 = 0x0028
	eventShutDown             uint32 = 0x01
)

const (
	defaultMinIntervalFloor = time.Second
	shutdownReconnectDelay  = 30 * time.Second
	structureChangeDebounce = 5 * time.Second
	defaultCeilingFallback  = 60 * time.Second
)

// DeviceMetadata is the subset of the operational device record the
// coordinator needs to derive subscription intervals (spec §4.F).
type DeviceMetadata struct {
	ICD                   bool
	SessionIdleInterval   time.Duration
	SessionActiveInterval time.Duration
}

// Callbacks are the PairedNode hooks a handler drives as updates arrive.
// All are optional; a nil hook is simply skipped. None of these run once
// the handler that registered them has been superseded by a later
// SubscribeAll call on the same Coordinator.
type Callbacks struct {
	AttributeChanged    func(ports.AttributeReport)
	EventObserved       func(ports.EventReport)
	ScheduleReconnect   func(delay time.Duration)
	CancelReconnect     func()
	RebuildTree         func(ctx context.Context)
	SubscriptionTimeout func(ctx context.Context)
}

// Coordinator manages the single active subscription for one PairedNode
// (spec §4.F: "one active subscription per node"). Not safe for concurrent
// use from multiple goroutines beyond the Updates() routing loop it starts
// internally; callers drive it from the node's own single-threaded state
// machine, matching spec §5's cooperative concurrency model.
type Coordinator struct {
	clk     clock.Clock
	client  ports.InteractionClient
	current *handler
}

// New creates a Coordinator with no active subscription.
func New(clk clock.Clock, client ports.InteractionClient) *Coordinator {
	return &Coordinator{clk: clk, client: client}
}

// Close tears down any active subscription and stops routing updates.
func (c *Coordinator) Close() {
	if c.current != nil {
		c.current.sub.Close()
	}
	c.invalidateCurrent()
}

// SubscribeAll implements subscribe_all (spec §4.F). Any earlier handler on
// this Coordinator is rewired to no-ops (its update-routing goroutine may
// still be draining in-flight messages, but none reach its callbacks or
// mutate its timers after this call returns). The seeded initial read's
// attributes are delivered to cb.AttributeChanged exactly like a live
// update, so a fresh endpoint tree can be built from the reply the same way
// a later incremental update would drive it.
func (c *Coordinator) SubscribeAll(ctx context.Context, target addr.PeerAddress, meta DeviceMetadata, cachedVersions map[uint32]uint32, maxIntervalCeiling time.Duration, cb Callbacks) (time.Duration, error) {
	c.invalidateCurrent()

	read, err := c.client.ReadAll(ctx, target, cachedVersions)
	if err != nil {
		return 0, merr.New(merr.KindTransient, "subscription.SubscribeAll", err)
	}

	floor := defaultMinIntervalFloor
	if meta.ICD {
		floor = 0
	}
	ceiling := maxIntervalCeiling
	if ceiling <= 0 {
		ceiling = deriveCeiling(meta)
	}

	sub, err := c.client.SubscribeAll(ctx, target, ports.SubscribeOptions{
		MinIntervalFloor: floor,
		MaxIntervalCeil:  ceiling,
	})
	if err != nil {
		return 0, merr.New(merr.KindTransient, "subscription.SubscribeAll", err)
	}

	h := &handler{
		coordinator: c,
		cb:          cb,
		sub:         sub,
	}
	h.valid.Store(true)
	c.current = h

	for _, a := range read.Attributes {
		h.deliverAttribute(a)
	}
	for _, e := range read.Events {
		h.deliverEvent(e)
	}

	go h.run()

	return sub.MaxInterval(), nil
}

// deriveCeiling implements spec §4.F's "ceiling is derived from SII/SAI or
// caller input" for the no-caller-input case: the active interval is the
// more conservative (shorter) signal when both are known, falling back to
// whichever is set, and finally to a fixed default when the device
// advertised neither.
func deriveCeiling(meta DeviceMetadata) time.Duration {
	switch {
	case meta.SessionActiveInterval > 0:
		return meta.SessionActiveInterval
	case meta.SessionIdleInterval > 0:
		return meta.SessionIdleInterval
	default:
		return defaultCeilingFallback
	}
}

func (c *Coordinator) invalidateCurrent() {
	if c.current == nil {
		return
	}
	c.current.valid.Store(false)
	c.current = nil
}

func isStructuralAttribute(cluster, attribute uint32) bool {
	if cluster != descriptorClusterID {
		return false
	}
	switch attribute {
	case attrDeviceTypeList, attrServerList, attrClientList, attrPartsList:
		return true
	default:
		return false
	}
}

func isShutdownEvent(cluster, event uint32) bool {
	return cluster == basicInformationClusterID && event == eventShutDown
}
