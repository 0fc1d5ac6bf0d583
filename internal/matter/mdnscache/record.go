// Package mdnscache implements the Record Cache (spec §4.A): a
// TTL-indexed store of DNS answers, operational and commissionable device
// records, and per-interface address tables. Grounded on the teacher's
// Broker/topic pattern (internal/daemon/convergence/broker.go) for the
// single-owner-goroutine, no-lock-needed-outside-the-owner shape, adapted
// here from "subscribe to a changefeed" to "answer TTL-aware lookups".
package mdnscache

import (
	"time"

	"matterctl/internal/matter/addr"
)

// graceMultiplier is the 1.05x multiplier spec §3 mandates when checking
// expiry, to absorb clock jitter between the advertiser's TTL clock and
// ours.
const graceMultiplier = 1.05

func effectiveExpiry(discoveredAt time.Time, ttl time.Duration) time.Time {
	return discoveredAt.Add(time.Duration(float64(ttl) * graceMultiplier))
}

// TXTFields is the parsed content of a Matter operational or
// commissionable TXT record (spec §4.D.3-5).
type TXTFields struct {
	// Operational + commissionable shared fields.
	SII time.Duration // session-idle interval
	SAI time.Duration // session-active interval
	SAT time.Duration // session-active threshold
	T   uint32         // TCP support flags
	DT  uint32         // device type
	PH  uint8          // pairing hint
	ICD bool           // intermittently-connected device

	// Commissionable-only fields.
	D  uint16 // long discriminator
	SD uint8  // short discriminator
	CM uint8  // commissioning mode
	V  uint16 // vendor id
	P  uint16 // product id
	VP string // combined "V+P" token
	DN string // friendly device name
	RI string // rotating identifier
	PI string // pairing identifier
}

// deriveShortDiscriminator computes SD = (D >> 8) & 0x0F when the
// advertiser omitted it (spec §4.D.5).
func (f *TXTFields) deriveShortDiscriminator() {
	if f.SD == 0 && f.D != 0 {
		f.SD = uint8((f.D >> 8) & 0x0F)
	}
}

// OperationalRecord is keyed by its DNS-SD instance name
// "<OPID>-<NODEID>._matter._tcp.local" (spec §3).
type OperationalRecord struct {
	InstanceName string
	Fields       TXTFields
	Target       string // SRV target hostname
	Port         uint16

	txtDiscoveredAt time.Time
	txtTTL          time.Duration
	haveTXT         bool

	srvDiscoveredAt time.Time
	srvTTL          time.Duration
	haveSRV         bool
}

// RemainingSRVTTL returns the time left before this record's cached SRV
// answer needs refreshing, clamped to zero, or zero if no SRV is cached.
// Used to build a known-answer TTL hint when re-querying (spec §4.B).
func (r *OperationalRecord) RemainingSRVTTL(now time.Time) time.Duration {
	if !r.haveSRV {
		return 0
	}
	if d := effectiveExpiry(r.srvDiscoveredAt, r.srvTTL).Sub(now); d > 0 {
		return d
	}
	return 0
}

func (r *OperationalRecord) expired(now time.Time) bool {
	if r.haveTXT && !now.After(effectiveExpiry(r.txtDiscoveredAt, r.txtTTL)) {
		return false
	}
	if r.haveSRV && !now.After(effectiveExpiry(r.srvDiscoveredAt, r.srvTTL)) {
		return false
	}
	return true
}

// CommissionableRecord is keyed by its DNS-SD instance name under
// "_matterc._udp.local" (spec §3).
type CommissionableRecord struct {
	InstanceName string
	Fields       TXTFields
	Target       string
	Port         uint16

	txtDiscoveredAt time.Time
	txtTTL          time.Duration
	haveTXT         bool

	srvDiscoveredAt time.Time
	srvTTL          time.Duration
	haveSRV         bool
}

func (r *CommissionableRecord) expired(now time.Time) bool {
	if r.haveTXT && !now.After(effectiveExpiry(r.txtDiscoveredAt, r.txtTTL)) {
		return false
	}
	if r.haveSRV && !now.After(effectiveExpiry(r.srvDiscoveredAt, r.srvTTL)) {
		return false
	}
	return true
}

// addressRecord is one A/AAAA answer learned for a hostname on a given
// interface.
type addressRecord struct {
	addr         addr.ServerAddress
	discoveredAt time.Time
	ttl          time.Duration
}

func (a addressRecord) expired(now time.Time) bool {
	return now.After(effectiveExpiry(a.discoveredAt, a.ttl))
}
