// Package addr holds the stable identifiers and network-address types
// shared by the mDNS engine and the PairedNode state machine: the
// fabric-scoped peer identity, and the sortable server address list
// Matter prefers to dial link-local-first.
package addr

import (
	"fmt"
	"net/netip"
	"time"
)

// PeerAddress is a stable, immutable fabric-scoped node identifier.
type PeerAddress struct {
	FabricID uint64
	NodeID   uint64
}

func (p PeerAddress) String() string {
	return fmt.Sprintf("%016X-%016X", p.FabricID, p.NodeID)
}

// ParsePeerAddress reverses PeerAddress.String().
func ParsePeerAddress(s string) (PeerAddress, error) {
	var p PeerAddress
	if _, err := fmt.Sscanf(s, "%016X-%016X", &p.FabricID, &p.NodeID); err != nil {
		return PeerAddress{}, fmt.Errorf("parse peer address %q: %w", s, err)
	}
	return p, nil
}

// OperationalInstanceName returns the DNS-SD instance name
// "<OPID>-<NODEID>._matter._tcp.local" for this peer under the given
// fabric's compressed operational ID.
func OperationalInstanceName(compressedFabricID uint64, nodeID uint64) string {
	return fmt.Sprintf("%016X-%016X._matter._tcp.local.", compressedFabricID, nodeID)
}

// Transport is the L4 protocol a ServerAddress was advertised over.
type Transport uint8

const (
	TransportUDP Transport = iota
	TransportTCP
)

// ServerAddress is one resolved network endpoint for a device, tagged
// with when it was learned and its DNS TTL.
type ServerAddress struct {
	IP           netip.Addr
	Port         uint16
	Transport    Transport
	Interface    string // zone / interface name for link-local scoping
	DiscoveredAt time.Time
	TTL          time.Duration
}

// AddrPort renders the address as a dialable netip.AddrPort, applying the
// interface zone to link-local IPv6 addresses.
func (s ServerAddress) AddrPort() netip.AddrPort {
	ip := s.IP
	if ip.Is6() && ip.IsLinkLocalUnicast() && s.Interface != "" {
		ip = ip.WithZone(s.Interface)
	}
	return netip.AddrPortFrom(ip, s.Port)
}

// addressRank orders addresses per Matter's locality preference
// (spec Property P2): link-local IPv6 first, then IPv6 ULA (fc00::/7),
// then other IPv6, then IPv4 last.
func addressRank(ip netip.Addr) int {
	switch {
	case ip.Is6() && ip.IsLinkLocalUnicast():
		return 0
	case ip.Is6() && isULA(ip):
		return 1
	case ip.Is6():
		return 2
	default:
		return 3
	}
}

func isULA(ip netip.Addr) bool {
	if !ip.Is6() {
		return false
	}
	b := ip.As16()
	return b[0]&0xfe == 0xfc // fc00::/7 — unique local address range
}

// SortAddresses orders addresses by locality preference (link-local IPv6,
// ULA IPv6, other IPv6, IPv4), stable within each rank. It mutates and
// returns the input slice.
func SortAddresses(addrs []ServerAddress) []ServerAddress {
	rank := make([]int, len(addrs))
	for i, a := range addrs {
		rank[i] = addressRank(a.IP)
	}
	// Insertion sort: address lists are tiny (a handful of interfaces),
	// and stability matters more than asymptotic complexity here.
	for i := 1; i < len(addrs); i++ {
		j := i
		for j > 0 && rank[j] < rank[j-1] {
			addrs[j], addrs[j-1] = addrs[j-1], addrs[j]
			rank[j], rank[j-1] = rank[j-1], rank[j]
			j--
		}
	}
	return addrs
}
