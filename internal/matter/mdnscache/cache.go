package mdnscache

import (
	"net/netip"
	"time"

	"matterctl/internal/matter/addr"
)

// Cache is the Record Cache (component A). It is owned by exactly one
// goroutine (the mDNS engine's event loop) and needs no internal
// synchronization, mirroring the single-cooperative-owner model spec §5
// mandates for all engine state.
type Cache struct {
	operational   map[string]*OperationalRecord   // instance name -> record
	commissionable map[string]*CommissionableRecord // instance name -> record

	// addresses[interface][hostname][ip] — split by interface so
	// link-local scoping stays correct per spec §3 ("Address Map").
	addresses map[string]map[string]map[netip.Addr]*addressRecord
}

// New creates an empty Record Cache.
func New() *Cache {
	return &Cache{
		operational:    make(map[string]*OperationalRecord),
		commissionable: make(map[string]*CommissionableRecord),
		addresses:      make(map[string]map[string]map[netip.Addr]*addressRecord),
	}
}

// UpsertOperationalTXT records/refreshes an operational TXT answer. A
// ttl of zero marks the TXT info for immediate expiry on the next sweep
// (spec invariant: "a record with ttl==0 deletes ... never widening").
func (c *Cache) UpsertOperationalTXT(instanceName string, fields TXTFields, ttl time.Duration, now time.Time) *OperationalRecord {
	r := c.operational[instanceName]
	if r == nil {
		r = &OperationalRecord{InstanceName: instanceName}
		c.operational[instanceName] = r
	}
	r.Fields = fields
	r.txtDiscoveredAt = now
	r.txtTTL = ttl
	r.haveTXT = true
	return r
}

// UpsertOperationalSRV records/refreshes an operational SRV answer.
func (c *Cache) UpsertOperationalSRV(instanceName, target string, port uint16, ttl time.Duration, now time.Time) *OperationalRecord {
	r := c.operational[instanceName]
	if r == nil {
		r = &OperationalRecord{InstanceName: instanceName}
		c.operational[instanceName] = r
	}
	r.Target = target
	r.Port = port
	r.srvDiscoveredAt = now
	r.srvTTL = ttl
	r.haveSRV = true
	return r
}

// LookupOperational returns the cached operational record, if any. Its
// addresses are resolved separately via AddressesFor(iface, rec.Target).
func (c *Cache) LookupOperational(instanceName string) (*OperationalRecord, bool) {
	r, ok := c.operational[instanceName]
	return r, ok
}

// UpsertCommissionableTXT records/refreshes a commissionable TXT answer,
// deriving SD from D when absent and splitting VP into V/P (spec §4.D.5).
func (c *Cache) UpsertCommissionableTXT(instanceName string, fields TXTFields, ttl time.Duration, now time.Time) *CommissionableRecord {
	fields.deriveShortDiscriminator()
	r := c.commissionable[instanceName]
	if r == nil {
		r = &CommissionableRecord{InstanceName: instanceName}
		c.commissionable[instanceName] = r
	}
	r.Fields = fields
	r.txtDiscoveredAt = now
	r.txtTTL = ttl
	r.haveTXT = true
	return r
}

// UpsertCommissionableSRV records/refreshes a commissionable SRV answer.
func (c *Cache) UpsertCommissionableSRV(instanceName, target string, port uint16, ttl time.Duration, now time.Time) *CommissionableRecord {
	r := c.commissionable[instanceName]
	if r == nil {
		r = &CommissionableRecord{InstanceName: instanceName}
		c.commissionable[instanceName] = r
	}
	r.Target = target
	r.Port = port
	r.srvDiscoveredAt = now
	r.srvTTL = ttl
	r.haveSRV = true
	return r
}

func (c *Cache) LookupCommissionable(instanceName string) (*CommissionableRecord, bool) {
	r, ok := c.commissionable[instanceName]
	return r, ok
}

// AllOperational returns every cached operational record matching predicate.
func (c *Cache) AllOperational(predicate func(*OperationalRecord) bool) []*OperationalRecord {
	var out []*OperationalRecord
	for _, r := range c.operational {
		if predicate == nil || predicate(r) {
			out = append(out, r)
		}
	}
	return out
}

// AllCommissionable returns every cached commissionable record matching
// predicate.
func (c *Cache) AllCommissionable(predicate func(*CommissionableRecord) bool) []*CommissionableRecord {
	var out []*CommissionableRecord
	for _, r := range c.commissionable {
		if predicate == nil || predicate(r) {
			out = append(out, r)
		}
	}
	return out
}

// UpsertAddress records/refreshes an A/AAAA answer for hostname on iface.
// A ttl of zero removes that exact (hostname, ip) tuple immediately,
// never touching other addresses for the same hostname (spec invariant).
func (c *Cache) UpsertAddress(iface, hostname string, ip netip.Addr, ttl time.Duration, now time.Time) {
	if ttl <= 0 {
		c.removeAddress(iface, hostname, ip)
		return
	}
	byHost, ok := c.addresses[iface]
	if !ok {
		byHost = make(map[string]map[netip.Addr]*addressRecord)
		c.addresses[iface] = byHost
	}
	byIP, ok := byHost[hostname]
	if !ok {
		byIP = make(map[netip.Addr]*addressRecord)
		byHost[hostname] = byIP
	}
	byIP[ip] = &addressRecord{
		addr: addr.ServerAddress{
			IP:           ip,
			Interface:    iface,
			DiscoveredAt: now,
			TTL:          ttl,
		},
		discoveredAt: now,
		ttl:          ttl,
	}
}

func (c *Cache) removeAddress(iface, hostname string, ip netip.Addr) {
	byHost, ok := c.addresses[iface]
	if !ok {
		return
	}
	byIP, ok := byHost[hostname]
	if !ok {
		return
	}
	delete(byIP, ip)
	if len(byIP) == 0 {
		delete(byHost, hostname)
	}
}

// AddressesFor returns the sorted address list known for hostname on
// iface (spec Property P2: link-local IPv6 first). If iface is "",
// addresses across all interfaces are merged.
func (c *Cache) AddressesFor(iface, hostname string, port uint16, transport addr.Transport) []addr.ServerAddress {
	var out []addr.ServerAddress
	collect := func(byHost map[string]map[netip.Addr]*addressRecord) {
		byIP, ok := byHost[hostname]
		if !ok {
			return
		}
		for _, rec := range byIP {
			a := rec.addr
			a.Port = port
			a.Transport = transport
			out = append(out, a)
		}
	}
	if iface != "" {
		if byHost, ok := c.addresses[iface]; ok {
			collect(byHost)
		}
	} else {
		for _, byHost := range c.addresses {
			collect(byHost)
		}
	}
	return addr.SortAddresses(out)
}

// HasAnyAddress reports whether any address is cached for hostname on
// any interface — used by Sweep to decide whether a device record with
// an expired TXT/SRV window can actually be removed (spec §4.A: "removed
// only once both its TXT/SRV grace window has passed and its address set
// is empty").
func (c *Cache) HasAnyAddress(hostname string) bool {
	for _, byHost := range c.addresses {
		if byIP, ok := byHost[hostname]; ok && len(byIP) > 0 {
			return true
		}
	}
	return false
}

// Sweep expires addresses and device records whose TTL grace window has
// elapsed. Run once per minute by the engine (spec §4.A). It returns the
// instance names of operational and commissionable records removed.
func (c *Cache) Sweep(now time.Time) (removedOperational, removedCommissionable []string) {
	for iface, byHost := range c.addresses {
		for hostname, byIP := range byHost {
			for ip, rec := range byIP {
				if rec.expired(now) {
					delete(byIP, ip)
				}
			}
			if len(byIP) == 0 {
				delete(byHost, hostname)
			}
		}
		if len(byHost) == 0 {
			delete(c.addresses, iface)
		}
	}

	for name, r := range c.operational {
		if r.expired(now) && !c.HasAnyAddress(r.Target) {
			delete(c.operational, name)
			removedOperational = append(removedOperational, name)
		}
	}
	for name, r := range c.commissionable {
		if r.expired(now) && !c.HasAnyAddress(r.Target) {
			delete(c.commissionable, name)
			removedCommissionable = append(removedCommissionable, name)
		}
	}
	return removedOperational, removedCommissionable
}
