package matterfake

import (
	"context"
	"fmt"
	"sync"

	"matterctl/internal/matter/addr"
	"matterctl/internal/matter/ports"
)

var _ ports.PeerSet = (*PeerSet)(nil)

// PeerSet is an in-memory ports.PeerSet: each peer's ChannelHandle is
// whatever a test installs via Put.
type PeerSet struct {
	CallRecorder
	mu       sync.Mutex
	channels map[addr.PeerAddress]ports.ChannelHandle

	ChannelErr map[addr.PeerAddress]error
}

// NewPeerSet creates an empty PeerSet.
func NewPeerSet() *PeerSet {
	return &PeerSet{
		channels:   make(map[addr.PeerAddress]ports.ChannelHandle),
		ChannelErr: make(map[addr.PeerAddress]error),
	}
}

// Put installs the channel handle a PeerSet.Channel call for target should
// return.
func (p *PeerSet) Put(target addr.PeerAddress, ch ports.ChannelHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels[target] = ch
}

func (p *PeerSet) Channel(ctx context.Context, target addr.PeerAddress) (ports.ChannelHandle, error) {
	p.record("Channel", target)
	if err := p.ChannelErr[target]; err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.channels[target]
	if !ok {
		return nil, fmt.Errorf("matterfake.PeerSet: no channel installed for %s", target)
	}
	return ch, nil
}

// Channel is a test-controlled ports.ChannelHandle.
type Channel struct {
	closed      chan struct{}
	newSessions chan struct{}
}

// NewChannel creates an open Channel.
func NewChannel() *Channel {
	return &Channel{closed: make(chan struct{}), newSessions: make(chan struct{}, 1)}
}

func (c *Channel) Closed() <-chan struct{}      { return c.closed }
func (c *Channel) NewSessions() <-chan struct{} { return c.newSessions }

// Close simulates the exchange channel closing (e.g. the peer disconnected).
func (c *Channel) Close() { close(c.closed) }

// SignalNewSession simulates an inbound session arriving from the peer.
func (c *Channel) SignalNewSession() {
	select {
	case c.newSessions <- struct{}{}:
	default:
	}
}
