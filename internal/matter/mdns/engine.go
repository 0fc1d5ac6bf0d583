package mdns

import (
	"context"
	"log/slog"
	"reflect"
	"time"

	"golang.org/x/net/dns/dnsmessage"

	"matterctl/internal/matter/addr"
	"matterctl/internal/matter/clock"
	"matterctl/internal/matter/mdnscache"
	"matterctl/internal/matter/mdnsquery"
	"matterctl/internal/matter/ports"
	"matterctl/internal/matter/waiter"
)

// sweepInterval is 1 minute, the Record Cache expiry sweep cadence (spec §4.A).
const sweepInterval = time.Minute

// Engine is the mDNS Engine (component D). All exported methods except
// Run and the Find* methods are for use only from
// the engine's single owning goroutine (Run's select loop, or a test
// exercising the engine synchronously on one goroutine) — the same
// single-cooperative-owner model spec §5 mandates for all engine state.
type Engine struct {
	log        *slog.Logger
	clock      clock.Clock
	socket     ports.MDNSSocket
	enableIPv4 bool

	cache   *mdnscache.Cache
	sched   *mdnsquery.Scheduler
	waiters *waiter.Registry

	commands chan func()

	// interest tracks outstanding demand so the engine knows when it can
	// go dormant (spec §4.D: "when no provider wants commissionable
	// devices and no operational targets are registered and no waiters
	// exist, the engine enters a dormant mode").
	operationalTargets    map[string]bool // instance name -> wanted
	commissionableWanters int
	dormant               bool

	// commissionableWaiters mirrors waiter.Registry's key space for
	// commissionable finds, letting matchCommissionableWaiters re-derive
	// each waiter's identifier without encoding it into the registry key.
	commissionableWaiters map[string]CommissionableIdentifier

	// onTimeout holds the Find* caller's timeout notification, invoked by
	// expireWaiter after waiter.Registry.Expire (which never calls the
	// waiter's own responder on a timeout, by design).
	onTimeout map[string]func()
}

// New constructs an Engine. socket is the concrete or fake ports.MDNSSocket
// this engine sends/receives multicast DNS traffic through. enableIPv4
// controls whether an unresolved SRV target is re-queried for an A record
// alongside AAAA (spec §4.D.4).
func New(log *slog.Logger, c clock.Clock, socket ports.MDNSSocket, enableIPv4 bool) *Engine {
	e := &Engine{
		log:                   log,
		clock:                 c,
		socket:                socket,
		enableIPv4:            enableIPv4,
		waiters:               waiter.New(c),
		cache:                 mdnscache.New(),
		operationalTargets:    make(map[string]bool),
		commissionableWaiters: make(map[string]CommissionableIdentifier),
		onTimeout:             make(map[string]func()),
		commands:              make(chan func(), 32),
	}
	e.sched = mdnsquery.New(c, e.emitQuery)
	return e
}

func (e *Engine) emitQuery(queries []mdnsquery.DNSQuery, answers map[mdnsquery.AnswerKey][]mdnsquery.KnownAnswer) {
	if len(queries) == 0 || e.socket == nil {
		return
	}
	questions := make([]dnsmessage.Question, 0, len(queries))
	for _, q := range queries {
		name, err := dnsmessage.NewName(q.Name)
		if err != nil {
			e.log.Debug("build mdns query name failed", "name", q.Name, "err", err)
			continue
		}
		questions = append(questions, dnsmessage.Question{
			Name:  name,
			Type:  dnsmessage.Type(q.Type),
			Class: dnsmessage.Class(q.Class),
		})
	}
	if len(questions) == 0 {
		return
	}

	packets, err := BuildQuery(questions, mdnsquery.PackKnownAnswers(answers))
	if err != nil {
		e.log.Debug("build mdns query failed", "err", err)
		return
	}
	ctx := context.Background()
	for _, data := range packets {
		for _, iface := range e.socket.Interfaces() {
			if err := e.socket.Send(ctx, iface, data); err != nil {
				e.log.Debug("send mdns query failed", "iface", iface, "err", err)
			}
		}
	}
}

// Run drives the engine's event loop until ctx is cancelled or the socket
// closes. It is the only goroutine that ever mutates engine state.
func (e *Engine) Run(ctx context.Context) error {
	sweepTicker := e.clock.NewTicker(sweepInterval)
	defer sweepTicker.Stop()

	for {
		cases := []reflect.SelectCase{
			{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())},
			{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(e.commands)},
			{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(e.socket.Packets())},
			{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(sweepTicker.C())},
		}
		const (
			idxDone = iota
			idxCommand
			idxPacket
			idxSweep
			idxFixedCount
		)
		if t := e.sched.Timer(); t != nil {
			cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(t.C())})
		} else {
			cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf((<-chan time.Time)(nil))})
		}
		idxSchedTimer := idxFixedCount

		waiterTimers := e.waiters.Timers()
		keys := make([]string, 0, len(waiterTimers))
		for k, t := range waiterTimers {
			keys = append(keys, k)
			cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(t.C())})
		}

		chosen, recv, _ := reflect.Select(cases)
		switch chosen {
		case idxDone:
			return ctx.Err()
		case idxCommand:
			if fn, ok := recv.Interface().(func()); ok {
				fn()
			}
		case idxPacket:
			if pkt, ok := recv.Interface().(ports.InboundPacket); ok {
				e.HandlePacket(pkt.Interface, pkt.Data, e.clock.Now())
			}
		case idxSweep:
			e.Sweep()
		case idxSchedTimer:
			e.sched.Tick()
		default:
			key := keys[chosen-idxFixedCount-1]
			e.expireWaiter(key)
		}
	}
}

// enqueue hands fn to the owning goroutine. Used by the Find* API, which
// may be called from any goroutine.
func (e *Engine) enqueue(fn func()) {
	e.commands <- fn
}

// Sweep runs the Record Cache expiry pass (spec §4.A, once per minute).
func (e *Engine) Sweep() {
	removedOp, removedCom := e.cache.Sweep(e.clock.Now())
	for _, name := range removedOp {
		e.log.Debug("operational record expired", "instance", name)
	}
	for _, name := range removedCom {
		e.log.Debug("commissionable record expired", "instance", name)
	}
}

// Tick forwards the scheduler's backoff tick (exported for direct test use).
func (e *Engine) Tick() {
	e.sched.Tick()
}

// expireWaiter is the single place a waiter's timeout is processed: it
// removes the entry from the registry (never invoking its responder, per
// spec §4.C) and then runs the Find* call's own timeout notification, if
// one is registered.
func (e *Engine) expireWaiter(key string) {
	e.waiters.Expire(key)
	if fn, ok := e.onTimeout[key]; ok {
		delete(e.onTimeout, key)
		fn()
	}
	delete(e.commissionableWaiters, key)
	e.updateDormancy()
}

// HandlePacket implements spec §4.D's per-message dispatch (steps 1-5).
func (e *Engine) HandlePacket(iface string, data []byte, now time.Time) {
	if e.dormant {
		return
	}
	msg, err := ParseMessage(data, now)
	if err != nil {
		e.log.Debug("malformed mdns packet dropped", "iface", iface, "err", err)
		return
	}
	if msg == nil {
		return
	}

	applyAddresses(e.cache, iface, msg, now)

	for _, txt := range msg.OperationalTXT {
		e.handleOperationalTXT(txt, now)
	}
	for _, srv := range msg.OperationalSRV {
		e.handleOperationalSRV(iface, srv, now)
	}
	for _, txt := range msg.CommissionableTXT {
		e.handleCommissionableTXT(txt, now)
	}
	for _, srv := range msg.CommissionableSRV {
		e.handleCommissionableSRV(iface, srv, now)
	}

	for _, hostname := range addressHostnamesOf(msg) {
		e.resolveWaitersFor(iface, hostname, now)
	}
}

func addressHostnamesOf(msg *ParsedMessage) []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range msg.Addresses {
		if !seen[a.Hostname] {
			seen[a.Hostname] = true
			out = append(out, a.Hostname)
		}
	}
	return out
}

// handleOperationalTXT implements spec §4.D.3: ignore TXT for a name that
// is neither already cached nor a scan target.
func (e *Engine) handleOperationalTXT(txt ParsedTXT, now time.Time) {
	_, cached := e.cache.LookupOperational(txt.InstanceName)
	if !cached && !e.operationalTargets[txt.InstanceName] {
		return
	}
	fields := ParseTXTFields(txt.Strings)
	e.cache.UpsertOperationalTXT(txt.InstanceName, fields, txt.TTL, now)
}

// handleOperationalSRV implements spec §4.D.4.
func (e *Engine) handleOperationalSRV(iface string, srv ParsedSRV, now time.Time) {
	e.cache.UpsertOperationalSRV(srv.InstanceName, srv.Target, srv.Port, srv.TTL, now)
	addrs := e.cache.AddressesFor(iface, srv.Target, srv.Port, addr.TransportUDP)
	if len(addrs) == 0 {
		queries := []mdnsquery.DNSQuery{
			{Name: srv.Target, Type: uint16(dnsmessage.TypeAAAA), Class: uint16(dnsmessage.ClassINET)},
		}
		if e.enableIPv4 {
			queries = append(queries, mdnsquery.DNSQuery{
				Name: srv.Target, Type: uint16(dnsmessage.TypeA), Class: uint16(dnsmessage.ClassINET),
			})
		}
		e.sched.Set("addr:"+srv.Target, queries, nil)
		return
	}
	e.waiters.Finish(srv.InstanceName, true, false)
}

// handleCommissionableTXT implements spec §4.D.5.
func (e *Engine) handleCommissionableTXT(txt ParsedTXT, now time.Time) {
	fields := ParseTXTFields(txt.Strings)
	e.cache.UpsertCommissionableTXT(txt.InstanceName, fields, txt.TTL, now)
	e.matchCommissionableWaiters(txt.InstanceName, false, now)
}

func (e *Engine) handleCommissionableSRV(iface string, srv ParsedSRV, now time.Time) {
	e.cache.UpsertCommissionableSRV(srv.InstanceName, srv.Target, srv.Port, srv.TTL, now)
	e.matchCommissionableWaiters(srv.InstanceName, false, now)
}

// resolveWaitersFor re-checks waiters that were blocked only on an address
// for hostname, now that one has arrived (spec §4.D.4: "if none are yet
// known, re-query... else finish the waiter"). A waiter completing because
// its address finally resolved is its first real completion, not a replay
// of an already-delivered record, so isUpdatedRecord is false here too.
func (e *Engine) resolveWaitersFor(iface, hostname string, now time.Time) {
	for _, rec := range e.cache.AllOperational(func(r *mdnscache.OperationalRecord) bool { return r.Target == hostname }) {
		if len(e.cache.AddressesFor(iface, hostname, rec.Port, addr.TransportUDP)) > 0 {
			e.waiters.Finish(rec.InstanceName, true, false)
		}
	}
	for _, rec := range e.cache.AllCommissionable(func(r *mdnscache.CommissionableRecord) bool { return r.Target == hostname }) {
		e.matchCommissionableWaiters(rec.InstanceName, false, now)
	}
}

// matchCommissionableWaiters finishes every registered commissionable
// waiter whose identifier matches rec, once its address has resolved
// (spec §4.D.5).
func (e *Engine) matchCommissionableWaiters(instanceName string, isUpdate bool, now time.Time) {
	rec, ok := e.cache.LookupCommissionable(instanceName)
	if !ok {
		return
	}
	if len(e.cache.AddressesFor("", rec.Target, rec.Port, addr.TransportUDP)) == 0 {
		return
	}
	for key, id := range e.commissionableWaiters {
		if id.matches(rec) {
			e.waiters.Finish(key, true, isUpdate)
		}
	}
}

// updateDormancy recomputes dormant mode per spec §4.D: dormant when no
// commissionable wanters, no operational targets, and no live waiters.
// Entering dormancy drops all caches.
func (e *Engine) updateDormancy() {
	wantActive := e.commissionableWanters > 0 || len(e.operationalTargets) > 0 || e.waiters.Len() > 0
	if wantActive {
		e.dormant = false
		return
	}
	if !e.dormant {
		e.dormant = true
		e.cache = mdnscache.New()
		e.log.Debug("mdns engine entering dormant mode")
	}
}

