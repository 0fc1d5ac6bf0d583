package subscription

import (
	"context"
	"sync/atomic"
	"time"

	"matterctl/internal/matter/clock"
	"matterctl/internal/matter/ports"
)

// handler owns one live subscription's update routing. It runs its own
// single goroutine (run), so none of its fields need locking -- the same
// single-owner shape as the mDNS engine's event loop, just scoped to one
// node's subscription instead of the whole engine.
type handler struct {
	coordinator *Coordinator
	cb          Callbacks
	sub         ports.Subscription

	// valid is cleared by Coordinator.invalidateCurrent when a later
	// SubscribeAll call supersedes this handler (spec §4.F: "rewire its
	// callbacks to no-ops"). SubscribeAll may run on a different goroutine
	// than this handler's own run loop, so it is an atomic rather than a
	// plain bool.
	valid atomic.Bool

	debounceTimer    clock.Timer
	structurePending bool
}

// run drains the subscription's update channel until it closes (Close was
// called), running fireDebounce whenever the debounce timer fires along
// the way. Invalidated handlers keep draining
// the channel -- so the underlying Subscription doesn't block trying to
// send -- but every routed update becomes a no-op.
func (h *handler) run() {
	for {
		var timerC <-chan time.Time
		if h.debounceTimer != nil {
			timerC = h.debounceTimer.C()
		}

		select {
		case u, ok := <-h.sub.Updates():
			if !ok {
				return
			}
			h.route(u)
		case <-timerC:
			h.fireDebounce()
		}
	}
}

func (h *handler) route(u ports.SubscriptionUpdate) {
	switch {
	case u.Attribute != nil:
		h.deliverAttribute(*u.Attribute)
	case u.Event != nil:
		h.deliverEvent(*u.Event)
	case u.Timeout:
		h.fireTimeout()
	case u.Alive:
		h.fireAlive()
	}
}

// deliverAttribute implements spec §4.F's attribute routing rule: publish
// the value, then record (but do not immediately act on) a structural
// implication.
func (h *handler) deliverAttribute(a ports.AttributeReport) {
	if !h.valid.Load() {
		return
	}
	if h.cb.AttributeChanged != nil {
		h.cb.AttributeChanged(a)
	}
	if isStructuralAttribute(a.Cluster, a.Attribute) {
		h.structurePending = true
		if h.debounceTimer != nil {
			// "debounce to the last update within a 5-second window"
			// (spec §9 open question): extend rather than let an
			// already-running timer fire mid-burst.
			h.debounceTimer.Reset(structureChangeDebounce)
		}
	}
}

// deliverEvent implements spec §4.F's event routing rule.
func (h *handler) deliverEvent(e ports.EventReport) {
	if !h.valid.Load() {
		return
	}
	if h.cb.EventObserved != nil {
		h.cb.EventObserved(e)
	}
	if isShutdownEvent(e.Cluster, e.Event) && h.cb.ScheduleReconnect != nil {
		h.cb.ScheduleReconnect(shutdownReconnectDelay)
	}
}

// fireAlive implements spec §4.F's alive routing rule: clear any pending
// reconnect the node had scheduled, then arm the structure debounce if
// there is anything pending from an earlier attribute delta.
func (h *handler) fireAlive() {
	if !h.valid.Load() {
		return
	}
	if h.cb.CancelReconnect != nil {
		h.cb.CancelReconnect()
	}
	if h.structurePending && h.debounceTimer == nil {
		h.debounceTimer = h.coordinator.clk.NewTimer(structureChangeDebounce)
	}
}

// fireDebounce runs when the structure-change debounce timer expires
// (spec §4.F: "trigger a full read-all and re-run the Endpoint Tree
// Builder").
func (h *handler) fireDebounce() {
	h.debounceTimer = nil
	h.structurePending = false
	if !h.valid.Load() {
		return
	}
	if h.cb.RebuildTree != nil {
		h.cb.RebuildTree(context.Background())
	}
}

// fireTimeout implements spec §4.F's timeout routing rule. The actual
// re-subscribe attempt and reconnect-backoff fallback belong to the
// PairedNode state machine (spec §4.G owns error_count and backoff), so
// this only hands control back via the callback.
func (h *handler) fireTimeout() {
	if !h.valid.Load() {
		return
	}
	if h.cb.SubscriptionTimeout != nil {
		h.cb.SubscriptionTimeout(context.Background())
	}
}
