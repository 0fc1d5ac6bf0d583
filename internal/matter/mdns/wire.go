// Package mdns implements the mDNS Engine (spec §4.D): it owns the Record
// Cache, Query Scheduler, and Waiter Registry, parses inbound DNS-SD
// messages, and exposes the find_operational/find_commissionable discovery
// APIs. Wire parsing is grounded on the pack's mDNS scanner
// (other_examples/..._pkg-discovery-scanners-mdns-mdns.go.go), which uses
// golang.org/x/net/dns/dnsmessage the same way: Message.Unpack, then a type
// switch over each Resource's Body.
package mdns

import (
	"encoding/binary"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"golang.org/x/net/dns/dnsmessage"

	"matterctl/internal/matter/mdnscache"
	"matterctl/internal/matter/mdnsquery"
)

// ServiceOperational and ServiceCommissionable are the two Matter DNS-SD
// service types (spec §6).
const (
	ServiceOperational    = "_matter._tcp.local."
	ServiceCommissionable = "_matterc._udp.local."
)

// ParsedMessage buckets one inbound DNS message's answers the way spec
// §4.D.1 requires: operational, commissionable, and address answers, each
// timestamped at receipt.
type ParsedMessage struct {
	ReceivedAt      time.Time
	OperationalTXT  []ParsedTXT
	OperationalSRV  []ParsedSRV
	CommissionableTXT []ParsedTXT
	CommissionableSRV []ParsedSRV
	Addresses       []ParsedAddress
	PTR             []ParsedPTR
}

// ParsedTXT is one TXT answer, still keyed by instance name; field parsing
// into mdnscache.TXTFields happens in txt.go.
type ParsedTXT struct {
	InstanceName string
	Strings      []string
	TTL          time.Duration
}

// ParsedSRV is one SRV answer.
type ParsedSRV struct {
	InstanceName string
	Target       string
	Port         uint16
	TTL          time.Duration
}

// ParsedAddress is one A/AAAA answer.
type ParsedAddress struct {
	Hostname string
	IP       netip.Addr
	TTL      time.Duration
}

// ParsedPTR is one PTR answer (service-type enumeration or sub-service
// query response pointing at an instance name).
type ParsedPTR struct {
	QName string
	Value string
	TTL   time.Duration
}

// ParseMessage unpacks data and buckets every answer/additional record by
// kind, per spec §4.D.1. Malformed packets return an error; the caller
// (Engine.HandlePacket) drops them with a debug log rather than
// propagating further, per spec §7's "the mDNS engine never surfaces
// parse failures" policy.
func ParseMessage(data []byte, receivedAt time.Time) (*ParsedMessage, error) {
	var msg dnsmessage.Message
	if err := msg.Unpack(data); err != nil {
		return nil, fmt.Errorf("unpack dns message: %w", err)
	}
	if !msg.Response {
		return nil, nil
	}

	out := &ParsedMessage{ReceivedAt: receivedAt}
	records := append(append([]dnsmessage.Resource{}, msg.Answers...), msg.Additionals...)
	for _, rr := range records {
		name := rr.Header.Name.String()
		ttl := time.Duration(rr.Header.TTL) * time.Second

		switch body := rr.Body.(type) {
		case *dnsmessage.TXTResource:
			txt := ParsedTXT{InstanceName: name, Strings: body.TXT, TTL: ttl}
			if isOperationalInstance(name) {
				out.OperationalTXT = append(out.OperationalTXT, txt)
			} else if isCommissionableInstance(name) {
				out.CommissionableTXT = append(out.CommissionableTXT, txt)
			}
		case *dnsmessage.SRVResource:
			srv := ParsedSRV{InstanceName: name, Target: body.Target.String(), Port: body.Port, TTL: ttl}
			if isOperationalInstance(name) {
				out.OperationalSRV = append(out.OperationalSRV, srv)
			} else if isCommissionableInstance(name) {
				out.CommissionableSRV = append(out.CommissionableSRV, srv)
			}
		case *dnsmessage.AResource:
			ip, ok := netip.AddrFromSlice(body.A[:])
			if ok {
				out.Addresses = append(out.Addresses, ParsedAddress{Hostname: name, IP: ip, TTL: ttl})
			}
		case *dnsmessage.AAAAResource:
			ip, ok := netip.AddrFromSlice(body.AAAA[:])
			if ok {
				out.Addresses = append(out.Addresses, ParsedAddress{Hostname: name, IP: ip, TTL: ttl})
			}
		case *dnsmessage.PTRResource:
			out.PTR = append(out.PTR, ParsedPTR{QName: name, Value: body.PTR.String(), TTL: ttl})
		}
	}
	return out, nil
}

func isOperationalInstance(name string) bool {
	return len(name) > len(ServiceOperational) && hasSuffixFold(name, ServiceOperational)
}

func isCommissionableInstance(name string) bool {
	return len(name) > len(ServiceCommissionable) && hasSuffixFold(name, ServiceCommissionable)
}

func hasSuffixFold(s, suffix string) bool {
	if len(s) < len(suffix) {
		return false
	}
	return s[len(s)-len(suffix):] == suffix
}

// BuildQuery packs questions plus known-answer suppression hints into one
// or more mDNS query messages (spec §4.B/§6). knownAnswerPackets is the
// output of mdnsquery.PackKnownAnswers, already split to fit the
// 1500-byte packet budget. With no known answers, a single question-only
// packet goes out. Otherwise the questions ride in the first packet and
// every packet but the last sets the Truncated flag, so a responder (RFC
// 6762 §7.2) knows to hold its reply until the continuation packets
// finish arriving.
func BuildQuery(questions []dnsmessage.Question, knownAnswerPackets [][]mdnsquery.KnownAnswer) ([][]byte, error) {
	if len(knownAnswerPackets) == 0 {
		data, err := (&dnsmessage.Message{
			Header:    dnsmessage.Header{ID: 0, Response: false},
			Questions: questions,
		}).Pack()
		if err != nil {
			return nil, err
		}
		return [][]byte{data}, nil
	}

	out := make([][]byte, 0, len(knownAnswerPackets))
	for i, packet := range knownAnswerPackets {
		answers, err := knownAnswerResources(packet)
		if err != nil {
			return nil, err
		}
		msg := dnsmessage.Message{
			Header:  dnsmessage.Header{ID: 0, Response: false, Truncated: i < len(knownAnswerPackets)-1},
			Answers: answers,
		}
		if i == 0 {
			msg.Questions = questions
		}
		data, err := msg.Pack()
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

func knownAnswerResources(known []mdnsquery.KnownAnswer) ([]dnsmessage.Resource, error) {
	out := make([]dnsmessage.Resource, 0, len(known))
	for _, ka := range known {
		name, err := dnsmessage.NewName(ka.Name)
		if err != nil {
			return nil, fmt.Errorf("known-answer name %q: %w", ka.Name, err)
		}
		out = append(out, dnsmessage.Resource{
			Header: dnsmessage.ResourceHeader{
				Name:  name,
				Type:  dnsmessage.Type(ka.Type),
				Class: dnsmessage.Class(ka.Class),
				TTL:   uint32(ka.TTLRemaining / time.Second),
			},
			Body: &dnsmessage.UnknownResource{Type: dnsmessage.Type(ka.Type), Data: ka.RData},
		})
	}
	return out, nil
}

// encodeDNSName writes name as an uncompressed sequence of length-prefixed
// labels terminated by a zero byte — a valid, if larger than necessary,
// RDATA encoding that needs no compression-pointer bookkeeping.
func encodeDNSName(name string) ([]byte, error) {
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return []byte{0}, nil
	}
	var out []byte
	for _, label := range strings.Split(name, ".") {
		if len(label) == 0 || len(label) > 63 {
			return nil, fmt.Errorf("invalid dns label %q in %q", label, name)
		}
		out = append(out, byte(len(label)))
		out = append(out, label...)
	}
	return append(out, 0), nil
}

// srvRData encodes an SRV record's RDATA (priority/weight fixed at zero —
// Matter's own operational SRV records always use zero for both).
func srvRData(target string, port uint16) ([]byte, error) {
	name, err := encodeDNSName(target)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 6, 6+len(name))
	binary.BigEndian.PutUint16(out[4:6], port)
	return append(out, name...), nil
}

// applyAddresses translates a ParsedMessage's address
// records into mdnscache upsert calls, used by Engine.HandlePacket for
// step 2 of spec §4.D ("update the per-interface address table").
func applyAddresses(cache *mdnscache.Cache, iface string, msg *ParsedMessage, now time.Time) {
	for _, a := range msg.Addresses {
		cache.UpsertAddress(iface, a.Hostname, a.IP, a.TTL, now)
	}
}
