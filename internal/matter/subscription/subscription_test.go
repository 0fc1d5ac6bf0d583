package subscription

import (
	"context"
	"sync"
	"testing"
	"time"

	"matterctl/internal/matter/addr"
	"matterctl/internal/matter/clock"
	"matterctl/internal/matter/matterfake"
	"matterctl/internal/matter/ports"
)

type recorder struct {
	mu         sync.Mutex
	attributes []ports.AttributeReport
	events     []ports.EventReport
	reconnects []time.Duration
	cancels    int
	rebuilds   int
	timeouts   int
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		AttributeChanged: func(a ports.AttributeReport) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.attributes = append(r.attributes, a)
		},
		EventObserved: func(e ports.EventReport) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, e)
		},
		ScheduleReconnect: func(d time.Duration) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.reconnects = append(r.reconnects, d)
		},
		CancelReconnect: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.cancels++
		},
		RebuildTree: func(ctx context.Context) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.rebuilds++
		},
		SubscriptionTimeout: func(ctx context.Context) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.timeouts++
		},
	}
}

func (r *recorder) snapshot() (attrs int, events int, reconnects []time.Duration, cancels, rebuilds, timeouts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.attributes), len(r.events), append([]time.Duration(nil), r.reconnects...), r.cancels, r.rebuilds, r.timeouts
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestSubscribeAllSeedsInitialReportAndDerivesIntervals(t *testing.T) {
	fc := clock.NewFakeClock(time.Unix(0, 0))
	client := matterfake.NewInteractionClient()
	target := addr.PeerAddress{FabricID: 1, NodeID: 1}
	client.ReadResults[target] = ports.ReadResult{
		Attributes: []ports.AttributeReport{{Endpoint: 1, Cluster: 0x0006, Attribute: 0x0000, Value: true}},
	}

	c := New(fc, client)
	rec := &recorder{}

	maxInterval, err := c.SubscribeAll(context.Background(), target, DeviceMetadata{SessionActiveInterval: 30 * time.Second}, nil, 0, rec.callbacks())
	if err != nil {
		t.Fatalf("SubscribeAll: %v", err)
	}
	if maxInterval != 30*time.Second {
		t.Fatalf("expected the subscription's max interval to echo the derived ceiling, got %v", maxInterval)
	}

	attrs, _, _, _, _, _ := rec.snapshot()
	if attrs != 1 {
		t.Fatalf("expected the seeded initial attribute delivered to the callback, got %d", attrs)
	}

	calls := client.Calls("SubscribeAll")
	sawOpts := calls[len(calls)-1].Args[1].(ports.SubscribeOptions)
	if sawOpts.MinIntervalFloor != defaultMinIntervalFloor {
		t.Fatalf("expected default 1s floor for a non-ICD device, got %v", sawOpts.MinIntervalFloor)
	}
	if sawOpts.MaxIntervalCeil != 30*time.Second {
		t.Fatalf("expected the ceiling derived from SessionActiveInterval, got %v", sawOpts.MaxIntervalCeil)
	}
}

func TestSubscribeAllICDForcesZeroFloor(t *testing.T) {
	fc := clock.NewFakeClock(time.Unix(0, 0))
	client := matterfake.NewInteractionClient()
	target := addr.PeerAddress{FabricID: 1, NodeID: 2}

	c := New(fc, client)
	if _, err := c.SubscribeAll(context.Background(), target, DeviceMetadata{ICD: true}, nil, 0, Callbacks{}); err != nil {
		t.Fatalf("SubscribeAll: %v", err)
	}

	calls := client.Calls("SubscribeAll")
	opts := calls[len(calls)-1].Args[1].(ports.SubscribeOptions)
	if opts.MinIntervalFloor != 0 {
		t.Fatalf("expected a 0s floor for an ICD device, got %v", opts.MinIntervalFloor)
	}
}

func TestAttributeUpdateRoutesToCallbackAndStructuralDeltaArmsDebounceOnAlive(t *testing.T) {
	fc := clock.NewFakeClock(time.Unix(0, 0))
	client := matterfake.NewInteractionClient()
	target := addr.PeerAddress{FabricID: 1, NodeID: 3}

	c := New(fc, client)
	rec := &recorder{}
	if _, err := c.SubscribeAll(context.Background(), target, DeviceMetadata{}, nil, 0, rec.callbacks()); err != nil {
		t.Fatalf("SubscribeAll: %v", err)
	}

	sub := client.SubscriptionFor(target)
	sub.Push(ports.SubscriptionUpdate{Attribute: &ports.AttributeReport{Endpoint: 0, Cluster: descriptorClusterID, Attribute: attrPartsList, Value: []uint16{1, 3}}})

	waitFor(t, func() bool {
		attrs, _, _, _, _, _ := rec.snapshot()
		return attrs == 1
	})

	// structural delta alone doesn't trigger a rebuild; only alive does,
	// once there's something pending.
	sub.Push(ports.SubscriptionUpdate{Alive: true})
	waitFor(t, func() bool {
		_, _, _, cancels, _, _ := rec.snapshot()
		return cancels == 1
	})

	// Advance repeatedly: the debounce timer is armed asynchronously inside
	// fireAlive, so a single Advance call could race ahead of its creation.
	waitFor(t, func() bool {
		fc.Advance(structureChangeDebounce)
		_, _, _, _, rebuilds, _ := rec.snapshot()
		return rebuilds == 1
	})
}

func TestShutdownEventSchedulesReconnectAndAliveCancelsIt(t *testing.T) {
	fc := clock.NewFakeClock(time.Unix(0, 0))
	client := matterfake.NewInteractionClient()
	target := addr.PeerAddress{FabricID: 1, NodeID: 4}

	c := New(fc, client)
	rec := &recorder{}
	if _, err := c.SubscribeAll(context.Background(), target, DeviceMetadata{}, nil, 0, rec.callbacks()); err != nil {
		t.Fatalf("SubscribeAll: %v", err)
	}

	sub := client.SubscriptionFor(target)
	sub.Push(ports.SubscriptionUpdate{Event: &ports.EventReport{Endpoint: 0, Cluster: basicInformationClusterID, Event: eventShutDown}})

	waitFor(t, func() bool {
		_, _, reconnects, _, _, _ := rec.snapshot()
		return len(reconnects) == 1 && reconnects[0] == shutdownReconnectDelay
	})

	sub.Push(ports.SubscriptionUpdate{Alive: true})
	waitFor(t, func() bool {
		_, _, _, cancels, _, _ := rec.snapshot()
		return cancels == 1
	})
}

func TestTimeoutUpdateNotifiesCallback(t *testing.T) {
	fc := clock.NewFakeClock(time.Unix(0, 0))
	client := matterfake.NewInteractionClient()
	target := addr.PeerAddress{FabricID: 1, NodeID: 5}

	c := New(fc, client)
	rec := &recorder{}
	if _, err := c.SubscribeAll(context.Background(), target, DeviceMetadata{}, nil, 0, rec.callbacks()); err != nil {
		t.Fatalf("SubscribeAll: %v", err)
	}

	sub := client.SubscriptionFor(target)
	sub.Push(ports.SubscriptionUpdate{Timeout: true})

	waitFor(t, func() bool {
		_, _, _, _, _, timeouts := rec.snapshot()
		return timeouts == 1
	})
}

func TestSubscribeAllReplacesAndInvalidatesPreviousHandler(t *testing.T) {
	fc := clock.NewFakeClock(time.Unix(0, 0))
	client := matterfake.NewInteractionClient()
	target := addr.PeerAddress{FabricID: 1, NodeID: 6}

	c := New(fc, client)
	firstRec := &recorder{}
	if _, err := c.SubscribeAll(context.Background(), target, DeviceMetadata{}, nil, 0, firstRec.callbacks()); err != nil {
		t.Fatalf("first SubscribeAll: %v", err)
	}
	firstSub := client.SubscriptionFor(target)

	secondRec := &recorder{}
	if _, err := c.SubscribeAll(context.Background(), target, DeviceMetadata{}, nil, 0, secondRec.callbacks()); err != nil {
		t.Fatalf("second SubscribeAll: %v", err)
	}

	// A late update delivered on the superseded subscription must not
	// reach the first recorder's callbacks.
	firstSub.Push(ports.SubscriptionUpdate{Attribute: &ports.AttributeReport{Endpoint: 1, Cluster: 0x0006, Attribute: 0x0000, Value: false}})
	time.Sleep(20 * time.Millisecond)

	attrs, _, _, _, _, _ := firstRec.snapshot()
	if attrs != 0 {
		t.Fatalf("expected the superseded handler to have dropped the update, got %d delivered", attrs)
	}
}
