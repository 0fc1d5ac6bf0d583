// Package session is the control boundary where CASE session establishment
// and the interaction-model wire client plug in. Both are explicit
// non-goals of this module (SPEC_FULL.md §1): the secure-session handshake,
// TLV codec, and retransmission layer belong to a separate exchange-layer
// component this package does not implement.
//
// PeerSet and ClientFactory report every attempt as ports.Crypto-free,
// Kind-tagged transient failures rather than panicking or blocking forever,
// so the rest of the controller (discovery, the PairedNode state machine,
// the control API) runs end to end against a real mDNS network with no
// interaction client wired in yet.
package session

import (
	"context"

	"matterctl/internal/matter/addr"
	"matterctl/internal/matter/merr"
	"matterctl/internal/matter/node"
	"matterctl/internal/matter/ports"
)

var _ ports.PeerSet = (*NotConfigured)(nil)

// NotConfigured is the production ports.PeerSet until a CASE session
// manager is wired in. Every Channel call fails with KindTransient, which
// PairedNode's reconnect loop already treats as a normal backoff-and-retry
// condition rather than a fatal error.
type NotConfigured struct{}

func (NotConfigured) Channel(ctx context.Context, target addr.PeerAddress) (ports.ChannelHandle, error) {
	return nil, merr.New(merr.KindTransient, "session.Channel", errNoSessionManager)
}

var errNoSessionManager = &notConfiguredError{}

type notConfiguredError struct{}

func (*notConfiguredError) Error() string {
	return "no CASE session manager configured"
}

// NewClientFactory returns a node.ClientFactory that fails every interaction
// client call the same way Channel does, until a real exchange-layer client
// is wired in.
func NewClientFactory() node.ClientFactory {
	return func() ports.InteractionClient { return unavailableClient{} }
}

type unavailableClient struct{}

func (unavailableClient) ReadAll(ctx context.Context, target addr.PeerAddress, filters map[uint32]uint32) (ports.ReadResult, error) {
	return ports.ReadResult{}, merr.New(merr.KindTransient, "session.ReadAll", errNoSessionManager)
}

func (unavailableClient) Write(ctx context.Context, target addr.PeerAddress, path ports.AttributePath, value any) error {
	return merr.New(merr.KindTransient, "session.Write", errNoSessionManager)
}

func (unavailableClient) Invoke(ctx context.Context, target addr.PeerAddress, endpoint uint16, cluster, command uint32, fields any) (any, error) {
	return nil, merr.New(merr.KindTransient, "session.Invoke", errNoSessionManager)
}

func (unavailableClient) SubscribeAll(ctx context.Context, target addr.PeerAddress, opts ports.SubscribeOptions) (ports.Subscription, error) {
	return nil, merr.New(merr.KindTransient, "session.SubscribeAll", errNoSessionManager)
}

func (unavailableClient) Close(target addr.PeerAddress) {}
