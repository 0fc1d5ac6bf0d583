package mdns

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/net/dns/dnsmessage"

	"matterctl/internal/matter/addr"
	"matterctl/internal/matter/mdnscache"
	"matterctl/internal/matter/mdnsquery"
)

// OperationalDevice is the result of find_operational (spec §4.D).
type OperationalDevice struct {
	Peer      addr.PeerAddress
	Addresses []addr.ServerAddress
}

// CommissionableDevice is one result of find_commissionable (spec §4.D).
type CommissionableDevice struct {
	InstanceName string
	Fields       mdnscache.TXTFields
	Addresses    []addr.ServerAddress
}

// CommissionableIdentifier selects which commissionable devices match a
// find_commissionable call (spec §4.D: "identifier variants map to
// concrete DNS-SD PTR queries"). Exactly one field should normally be set,
// but VendorID+ProductID may be combined for a "V+P" match.
type CommissionableIdentifier struct {
	Instance             string
	LongDiscriminator    *uint16
	ShortDiscriminator   *uint8
	VendorID             *uint16
	ProductID            *uint16
	DeviceType           *uint32
	AnyCommissioningMode bool
}

// queryNames returns the sub-service PTR query name(s) for this identifier
// (spec §6): "_L<D>", "_S<SD>", "_V<V>", "_T<DT>", or "_CM" wildcard.
func (id CommissionableIdentifier) queryNames() []string {
	const sub = "._sub." + ServiceCommissionable
	switch {
	case id.Instance != "":
		return []string{id.Instance}
	case id.LongDiscriminator != nil:
		return []string{fmt.Sprintf("_L%d%s", *id.LongDiscriminator, sub)}
	case id.ShortDiscriminator != nil:
		return []string{fmt.Sprintf("_S%d%s", *id.ShortDiscriminator, sub)}
	case id.VendorID != nil && id.ProductID != nil:
		return []string{fmt.Sprintf("_V%d%s", *id.VendorID, sub)}
	case id.VendorID != nil:
		return []string{fmt.Sprintf("_V%d%s", *id.VendorID, sub)}
	case id.DeviceType != nil:
		return []string{fmt.Sprintf("_T%d%s", *id.DeviceType, sub)}
	default:
		return []string{fmt.Sprintf("_CM%s", sub)}
	}
}

// matches implements the identifier-to-record match rules of spec §4.D.5.
func (id CommissionableIdentifier) matches(rec *mdnscache.CommissionableRecord) bool {
	switch {
	case id.Instance != "":
		return rec.InstanceName == id.Instance
	case id.LongDiscriminator != nil:
		return rec.Fields.D == *id.LongDiscriminator
	case id.ShortDiscriminator != nil:
		return rec.Fields.SD == *id.ShortDiscriminator
	case id.VendorID != nil && id.ProductID != nil:
		return rec.Fields.V == *id.VendorID && rec.Fields.P == *id.ProductID
	case id.VendorID != nil:
		return rec.Fields.V == *id.VendorID
	case id.ProductID != nil:
		return rec.Fields.P == *id.ProductID
	case id.DeviceType != nil:
		return rec.Fields.DT == *id.DeviceType
	case id.AnyCommissioningMode:
		return rec.Fields.CM != 0
	default:
		return false
	}
}

// FindOperational implements spec §4.D's find_operational: returns a
// cached entry with addresses if present, otherwise registers a waiter and
// issues an SRV query for the Matter instance name.
func (e *Engine) FindOperational(ctx context.Context, fabric addr.PeerAddress, timeout time.Duration, ignoreCache bool) (OperationalDevice, error) {
	instanceName := operationalInstanceName(fabric)
	resultCh := make(chan operationalResult, 1)

	e.enqueue(func() {
		e.doFindOperational(fabric, instanceName, timeout, ignoreCache, resultCh)
	})

	select {
	case res := <-resultCh:
		return res.device, res.err
	case <-ctx.Done():
		return OperationalDevice{}, ctx.Err()
	}
}

type operationalResult struct {
	device OperationalDevice
	err    error
}

func (e *Engine) doFindOperational(fabric addr.PeerAddress, instanceName string, timeout time.Duration, ignoreCache bool, resultCh chan<- operationalResult) {
	var rec *mdnscache.OperationalRecord
	if !ignoreCache {
		var ok bool
		if rec, ok = e.cache.LookupOperational(instanceName); ok {
			if addrs := e.cache.AddressesFor("", rec.Target, rec.Port, addr.TransportUDP); len(addrs) > 0 {
				resultCh <- operationalResult{device: OperationalDevice{Peer: fabric, Addresses: addrs}}
				return
			}
		}
	}

	e.operationalTargets[instanceName] = true
	e.waiters.Register(instanceName, false, timeout, func() {
		rec, ok := e.cache.LookupOperational(instanceName)
		if !ok {
			resultCh <- operationalResult{err: fmt.Errorf("operational record %s vanished before resolve", instanceName)}
			return
		}
		addrs := e.cache.AddressesFor("", rec.Target, rec.Port, addr.TransportUDP)
		resultCh <- operationalResult{device: OperationalDevice{Peer: fabric, Addresses: addrs}}
	}, false, func() {
		resultCh <- operationalResult{err: fmt.Errorf("find_operational %s: cancelled", instanceName)}
	})
	if timeout > 0 {
		e.onTimeout[instanceName] = func() {
			delete(e.operationalTargets, instanceName)
			e.sched.Remove("op:" + instanceName)
			resultCh <- operationalResult{err: fmt.Errorf("find_operational %s: timed out", instanceName)}
		}
	}
	e.updateDormancy()

	e.sched.Set("op:"+instanceName, []mdnsquery.DNSQuery{
		{Name: instanceName, Type: uint16(dnsmessage.TypeSRV), Class: uint16(dnsmessage.ClassINET)},
	}, operationalSRVKnownAnswer(rec, instanceName, e.clock.Now()))
}

// operationalSRVKnownAnswer builds a known-answer suppression hint from an
// already-cached SRV record (spec §4.B), so re-querying an instance whose
// SRV we already hold but whose address is still missing doesn't make the
// responder resend a record we already have. Returns nil if nothing is
// cached yet.
func operationalSRVKnownAnswer(rec *mdnscache.OperationalRecord, instanceName string, now time.Time) map[mdnsquery.AnswerKey][]mdnsquery.KnownAnswer {
	if rec == nil || rec.Target == "" {
		return nil
	}
	rdata, err := srvRData(rec.Target, rec.Port)
	if err != nil {
		return nil
	}
	key := mdnsquery.AnswerKey{Name: instanceName, Type: uint16(dnsmessage.TypeSRV)}
	return map[mdnsquery.AnswerKey][]mdnsquery.KnownAnswer{
		key: {{
			Name:         instanceName,
			Type:         uint16(dnsmessage.TypeSRV),
			Class:        uint16(dnsmessage.ClassINET),
			TTLRemaining: rec.RemainingSRVTTL(now),
			RDataLen:     len(rdata),
			RData:        rdata,
		}},
	}
}

// FindCommissionable implements spec §4.D's find_commissionable: collects
// every currently (and newly discovered, within timeout) matching
// commissionable device.
func (e *Engine) FindCommissionable(ctx context.Context, id CommissionableIdentifier, timeout time.Duration) ([]CommissionableDevice, error) {
	key := fmt.Sprintf("commissionable:%p:%v", &id, id)
	resultCh := make(chan []CommissionableDevice, 1)

	e.enqueue(func() {
		var matched []CommissionableDevice
		for _, rec := range e.cache.AllCommissionable(func(r *mdnscache.CommissionableRecord) bool { return id.matches(r) }) {
			if addrs := e.cache.AddressesFor("", rec.Target, rec.Port, addr.TransportUDP); len(addrs) > 0 {
				matched = append(matched, CommissionableDevice{InstanceName: rec.InstanceName, Fields: rec.Fields, Addresses: addrs})
			}
		}
		if len(matched) > 0 || timeout <= 0 {
			resultCh <- matched
			return
		}

		e.commissionableWanters++
		e.commissionableWaiters[key] = id
		e.waiters.Register(key, true, timeout, func() {
			resultCh <- e.collectCommissionable(id)
		}, false, func() {
			resultCh <- nil
		})
		e.onTimeout[key] = func() {
			e.commissionableWanters--
			e.sched.Remove(key)
			resultCh <- e.collectCommissionable(id)
		}
		e.updateDormancy()
		e.sched.Set(key, []mdnsquery.DNSQuery{
			{Name: id.queryNames()[0], Type: uint16(dnsmessage.TypePTR), Class: uint16(dnsmessage.ClassINET)},
		}, nil)
	})

	select {
	case devices := <-resultCh:
		return devices, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (e *Engine) collectCommissionable(id CommissionableIdentifier) []CommissionableDevice {
	var matched []CommissionableDevice
	for _, rec := range e.cache.AllCommissionable(func(r *mdnscache.CommissionableRecord) bool { return id.matches(r) }) {
		if addrs := e.cache.AddressesFor("", rec.Target, rec.Port, addr.TransportUDP); len(addrs) > 0 {
			matched = append(matched, CommissionableDevice{InstanceName: rec.InstanceName, Fields: rec.Fields, Addresses: addrs})
		}
	}
	return matched
}

// FindCommissionableContinuous implements spec §4.D's
// find_commissionable_continuous: callback fires for each newly discovered
// matching device; the loop re-arms until cancelled or timed out.
func (e *Engine) FindCommissionableContinuous(ctx context.Context, id CommissionableIdentifier, callback func(CommissionableDevice), timeout time.Duration) {
	key := fmt.Sprintf("continuous:%p:%v", &id, id)
	done := make(chan struct{})

	var register func()
	register = func() {
		e.commissionableWanters++
		e.commissionableWaiters[key] = id
		e.waiters.Register(key, true, timeout, func() {
			for _, d := range e.collectCommissionable(id) {
				callback(d)
			}
			register()
		}, true, func() {
			close(done)
		})
		e.updateDormancy()
		e.sched.Set(key, []mdnsquery.DNSQuery{
			{Name: id.queryNames()[0], Type: uint16(dnsmessage.TypePTR), Class: uint16(dnsmessage.ClassINET)},
		}, nil)
	}

	e.enqueue(register)

	go func() {
		select {
		case <-ctx.Done():
			e.enqueue(func() {
				e.commissionableWanters--
				delete(e.commissionableWaiters, key)
				e.sched.Remove(key)
				e.waiters.Cancel(key)
				e.updateDormancy()
			})
		case <-done:
		}
	}()
}

func operationalInstanceName(p addr.PeerAddress) string {
	return addr.OperationalInstanceName(p.FabricID, p.NodeID)
}
