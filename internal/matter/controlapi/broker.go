package controlapi

import "sync"

// eventSubscriberBufferCap bounds how far a slow StreamEvents consumer can
// lag before newly published events are dropped for it rather than blocking
// the node that published them.
const eventSubscriberBufferCap = 128

// broker fans NodeEvents out to every active StreamEvents subscriber.
// Grounded on the teacher's convergence.Broker (internal/daemon/convergence/broker.go),
// simplified: there is no upstream "source" to subscribe/resubscribe to here,
// since node.Controller pushes events directly as they happen rather than a
// change feed a broker would need to (re)open.
type broker struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uint64]chan *NodeEvent
}

func newBroker() *broker {
	return &broker{subs: make(map[uint64]chan *NodeEvent)}
}

// subscribe registers a new subscriber and returns its channel and an
// unsubscribe function the caller must invoke exactly once when done.
func (b *broker) subscribe() (<-chan *NodeEvent, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan *NodeEvent, eventSubscriberBufferCap)
	b.subs[id] = ch
	b.mu.Unlock()

	return ch, func() { b.unsubscribe(id) }
}

func (b *broker) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// publish delivers an event to every current subscriber, dropping it for any
// subscriber whose buffer is full rather than blocking the publisher.
func (b *broker) publish(e *NodeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
