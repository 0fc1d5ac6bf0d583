package controlapi

import "testing"

func TestBrokerFansOutToEverySubscriber(t *testing.T) {
	b := newBroker()
	ch1, unsub1 := b.subscribe()
	defer unsub1()
	ch2, unsub2 := b.subscribe()
	defer unsub2()

	b.publish(&NodeEvent{Target: "x", Kind: EventStateChanged})

	for _, ch := range []<-chan *NodeEvent{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Target != "x" {
				t.Fatalf("got target %q, want x", e.Target)
			}
		default:
			t.Fatal("expected event to be delivered to every subscriber")
		}
	}
}

func TestBrokerUnsubscribeStopsDelivery(t *testing.T) {
	b := newBroker()
	ch, unsubscribe := b.subscribe()
	unsubscribe()

	b.publish(&NodeEvent{Target: "x"})

	if _, ok := <-ch; ok {
		t.Fatal("expected channel to be closed after unsubscribe")
	}
}

func TestBrokerDropsRatherThanBlocksWhenSubscriberFull(t *testing.T) {
	b := newBroker()
	_, unsubscribe := b.subscribe()
	defer unsubscribe()

	for i := 0; i < eventSubscriberBufferCap+10; i++ {
		b.publish(&NodeEvent{Target: "x"})
	}
}
