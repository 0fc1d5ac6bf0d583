package matterfake

import (
	"context"
	"sync"
	"time"

	"matterctl/internal/matter/addr"
	"matterctl/internal/matter/ports"
)

var _ ports.InteractionClient = (*InteractionClient)(nil)

// InteractionClient is an in-memory ports.InteractionClient: reads return
// canned ReadResults per peer, writes/invokes are recorded, and
// subscriptions are driven by the test pushing into the returned
// Subscription's update channel.
type InteractionClient struct {
	CallRecorder
	mu sync.Mutex

	ReadResults map[addr.PeerAddress]ports.ReadResult
	ReadErr     map[addr.PeerAddress]error
	InvokeErr   map[addr.PeerAddress]error
	WriteErr    map[addr.PeerAddress]error

	subs map[addr.PeerAddress]*FakeSubscription
}

// NewInteractionClient creates an empty InteractionClient.
func NewInteractionClient() *InteractionClient {
	return &InteractionClient{
		ReadResults: make(map[addr.PeerAddress]ports.ReadResult),
		ReadErr:     make(map[addr.PeerAddress]error),
		InvokeErr:   make(map[addr.PeerAddress]error),
		WriteErr:    make(map[addr.PeerAddress]error),
		subs:        make(map[addr.PeerAddress]*FakeSubscription),
	}
}

func (c *InteractionClient) ReadAll(ctx context.Context, target addr.PeerAddress, filters map[uint32]uint32) (ports.ReadResult, error) {
	c.record("ReadAll", target, filters)
	if err := c.ReadErr[target]; err != nil {
		return ports.ReadResult{}, err
	}
	return c.ReadResults[target], nil
}

func (c *InteractionClient) Write(ctx context.Context, target addr.PeerAddress, path ports.AttributePath, value any) error {
	c.record("Write", target, path, value)
	return c.WriteErr[target]
}

func (c *InteractionClient) Invoke(ctx context.Context, target addr.PeerAddress, endpoint uint16, cluster, command uint32, fields any) (any, error) {
	c.record("Invoke", target, endpoint, cluster, command, fields)
	return nil, c.InvokeErr[target]
}

func (c *InteractionClient) SubscribeAll(ctx context.Context, target addr.PeerAddress, opts ports.SubscribeOptions) (ports.Subscription, error) {
	c.record("SubscribeAll", target, opts)
	c.mu.Lock()
	defer c.mu.Unlock()

	maxInterval := opts.MaxIntervalCeil
	if maxInterval == 0 {
		maxInterval = defaultMaxInterval
	}
	sub := &FakeSubscription{updates: make(chan ports.SubscriptionUpdate, 64), maxInterval: maxInterval}
	c.subs[target] = sub
	return sub, nil
}

func (c *InteractionClient) Close(target addr.PeerAddress) {
	c.record("Close", target)
}

// SubscriptionFor returns the live FakeSubscription for target, if any, so
// a test can push updates into it.
func (c *InteractionClient) SubscriptionFor(target addr.PeerAddress) *FakeSubscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[target]
}

const defaultMaxInterval = 60 * time.Second

// FakeSubscription is a test-controlled ports.Subscription.
type FakeSubscription struct {
	mu          sync.Mutex
	updates     chan ports.SubscriptionUpdate
	maxInterval time.Duration
	closed      bool
}

func (s *FakeSubscription) Updates() <-chan ports.SubscriptionUpdate { return s.updates }

func (s *FakeSubscription) MaxInterval() time.Duration { return s.maxInterval }

func (s *FakeSubscription) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.updates)
	}
}

// Push delivers update to the subscription, as the device would.
func (s *FakeSubscription) Push(update ports.SubscriptionUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.updates <- update
}
