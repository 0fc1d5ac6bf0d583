package mdns

import (
	"context"
	"log/slog"
	"net/netip"
	"testing"
	"time"

	"golang.org/x/net/dns/dnsmessage"

	"matterctl/internal/matter/addr"
	"matterctl/internal/matter/clock"
	"matterctl/internal/matter/matterfake"
	"matterctl/internal/matter/mdnscache"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func mustName(t *testing.T, s string) dnsmessage.Name {
	t.Helper()
	n, err := dnsmessage.NewName(s)
	if err != nil {
		t.Fatalf("name %q: %v", s, err)
	}
	return n
}

func buildResponse(t *testing.T, answers ...dnsmessage.Resource) []byte {
	t.Helper()
	msg := dnsmessage.Message{
		Header:  dnsmessage.Header{Response: true},
		Answers: answers,
	}
	data, err := msg.Pack()
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	return data
}

func srvResource(t *testing.T, instance, target string, port uint16) dnsmessage.Resource {
	return dnsmessage.Resource{
		Header: dnsmessage.ResourceHeader{Name: mustName(t, instance), Type: dnsmessage.TypeSRV, Class: dnsmessage.ClassINET, TTL: 120},
		Body:   &dnsmessage.SRVResource{Target: mustName(t, target), Port: port},
	}
}

func aaaaResource(t *testing.T, hostname string, ip [16]byte) dnsmessage.Resource {
	return dnsmessage.Resource{
		Header: dnsmessage.ResourceHeader{Name: mustName(t, hostname), Type: dnsmessage.TypeAAAA, Class: dnsmessage.ClassINET, TTL: 120},
		Body:   &dnsmessage.AAAAResource{AAAA: ip},
	}
}

// TestDiscoveryHappyPath reproduces spec.md's concrete scenario 1: an SRV
// answer followed by an AAAA answer resolves find_operational to a single
// link-local address.
func TestDiscoveryHappyPath(t *testing.T) {
	fc := clock.NewFakeClock(time.Unix(0, 0))
	socket := matterfake.NewSocket("eth0")
	e := New(discardLogger(), fc, socket, true)

	fabric := addr.PeerAddress{FabricID: 0xA1B2000000000000 | 0xC3D4, NodeID: 1}
	instanceName := addr.OperationalInstanceName(fabric.FabricID, fabric.NodeID)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resultCh := make(chan struct {
		dev OperationalDevice
		err error
	}, 1)
	go func() {
		dev, err := e.FindOperational(ctx, fabric, 5*time.Second, false)
		resultCh <- struct {
			dev OperationalDevice
			err error
		}{dev, err}
	}()

	// Drain the command the Find call enqueues, synchronously, as Run would.
	drainOne(t, e)

	srv := srvResource(t, instanceName, "foo.local.", 5540)
	e.HandlePacket("eth0", buildResponse(t, srv), fc.Now())

	ip := netip.MustParseAddr("fe80::1")
	aaaa := aaaaResource(t, "foo.local.", ip.As16())
	e.HandlePacket("eth0", buildResponse(t, aaaa), fc.Now())

	select {
	case res := <-resultCh:
		if res.err != nil {
			t.Fatalf("find_operational failed: %v", res.err)
		}
		if len(res.dev.Addresses) != 1 {
			t.Fatalf("expected exactly one address, got %v", res.dev.Addresses)
		}
		if res.dev.Addresses[0].IP.String() != "fe80::1" {
			t.Fatalf("wrong address resolved: %v", res.dev.Addresses[0].IP)
		}
	case <-time.After(time.Second):
		t.Fatal("find_operational did not resolve")
	}
}

func drainOne(t *testing.T, e *Engine) {
	t.Helper()
	select {
	case fn := <-e.commands:
		fn()
	case <-time.After(time.Second):
		t.Fatal("expected a pending command")
	}
}

// TestFindOperationalCacheHit covers the ignoreCache=false shortcut: a
// fully-resolved record already in the cache answers without any query.
func TestFindOperationalCacheHit(t *testing.T) {
	fc := clock.NewFakeClock(time.Unix(0, 0))
	socket := matterfake.NewSocket("eth0")
	e := New(discardLogger(), fc, socket, true)

	fabric := addr.PeerAddress{FabricID: 1, NodeID: 2}
	instanceName := addr.OperationalInstanceName(fabric.FabricID, fabric.NodeID)

	srv := srvResource(t, instanceName, "bar.local.", 5540)
	e.HandlePacket("eth0", buildResponse(t, srv), fc.Now())
	ip := netip.MustParseAddr("fd00::9")
	aaaa := aaaaResource(t, "bar.local.", ip.As16())
	e.HandlePacket("eth0", buildResponse(t, aaaa), fc.Now())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	done := make(chan operationalResult, 1)
	go func() {
		dev, err := e.FindOperational(ctx, fabric, 5*time.Second, false)
		done <- operationalResult{device: dev, err: err}
	}()
	drainOne(t, e)

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("find_operational failed: %v", res.err)
		}
		if len(res.device.Addresses) != 1 || res.device.Addresses[0].IP != ip {
			t.Fatalf("expected cached address %v, got %v", ip, res.device.Addresses)
		}
		if len(socket.Sent()) != 0 {
			t.Fatalf("expected no query sent on cache hit, got %v", socket.Sent())
		}
	case <-time.After(time.Second):
		t.Fatal("find_operational did not resolve from cache")
	}
}

// TestFindOperationalTimesOut drives the waiter's own timer to confirm the
// Find* caller is notified via onTimeout rather than hanging forever, and
// that the registry never invokes the waiter's resolve responder on expiry.
func TestFindOperationalTimesOut(t *testing.T) {
	fc := clock.NewFakeClock(time.Unix(0, 0))
	socket := matterfake.NewSocket("eth0")
	e := New(discardLogger(), fc, socket, true)

	fabric := addr.PeerAddress{FabricID: 3, NodeID: 4}
	instanceName := addr.OperationalInstanceName(fabric.FabricID, fabric.NodeID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	done := make(chan operationalResult, 1)
	go func() {
		dev, err := e.FindOperational(ctx, fabric, time.Second, false)
		done <- operationalResult{device: dev, err: err}
	}()
	drainOne(t, e)

	timers := e.waiters.Timers()
	timer, ok := timers[instanceName]
	if !ok {
		t.Fatalf("expected a waiter timer registered for %s", instanceName)
	}

	fc.Advance(2 * time.Second)
	select {
	case <-timer.C():
	default:
		t.Fatal("expected the waiter timer to have fired")
	}
	e.expireWaiter(instanceName)

	select {
	case res := <-done:
		if res.err == nil {
			t.Fatal("expected a timeout error, got nil")
		}
	case <-time.After(time.Second):
		t.Fatal("find_operational never observed the timeout")
	}

	if e.waiters.Active(instanceName) {
		t.Fatal("expected the waiter to be removed after expiry")
	}
	if e.operationalTargets[instanceName] {
		t.Fatal("expected the operational target to be cleared after timeout")
	}
	if e.sched.Timer() != nil {
		t.Fatal("expected the SRV query to be removed from the scheduler after timeout")
	}
}

// TestUpdateDormancyDropsCacheWhenIdle confirms the engine clears its cache
// on entering dormant mode once every waiter/target/wanter count drops
// to zero.
func TestUpdateDormancyDropsCacheWhenIdle(t *testing.T) {
	fc := clock.NewFakeClock(time.Unix(0, 0))
	socket := matterfake.NewSocket("eth0")
	e := New(discardLogger(), fc, socket, true)

	instanceName := "0000000000000001-0000000000000002._matter._tcp.local."
	e.cache.UpsertOperationalTXT(instanceName, mdnscache.TXTFields{}, time.Minute, fc.Now())
	if _, ok := e.cache.LookupOperational(instanceName); !ok {
		t.Fatal("expected operational record to be cached")
	}

	e.updateDormancy()
	if !e.dormant {
		t.Fatal("expected the engine to enter dormant mode with no demand")
	}
	if _, ok := e.cache.LookupOperational(instanceName); ok {
		t.Fatal("expected dormancy to drop the cache")
	}
}

// TestFindOperationalReQuerySuppressesKnownSRV covers the known-answer
// suppression path: a find_operational while the SRV is already
// cached (but unresolved to an address) re-queries with that SRV record
// carried as a known answer, not a bare question.
func TestFindOperationalReQuerySuppressesKnownSRV(t *testing.T) {
	fc := clock.NewFakeClock(time.Unix(0, 0))
	socket := matterfake.NewSocket("eth0")
	e := New(discardLogger(), fc, socket, true)

	fabric := addr.PeerAddress{FabricID: 5, NodeID: 6}
	instanceName := addr.OperationalInstanceName(fabric.FabricID, fabric.NodeID)
	e.cache.UpsertOperationalSRV(instanceName, "baz.local.", 5540, time.Minute, fc.Now())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go func() { _, _ = e.FindOperational(ctx, fabric, 5*time.Second, false) }()
	drainOne(t, e)

	sent := socket.Sent()
	if len(sent) == 0 {
		t.Fatal("expected a re-query to be sent")
	}
	var msg dnsmessage.Message
	if err := msg.Unpack(sent[len(sent)-1].Data); err != nil {
		t.Fatalf("unpack: %v", err)
	}
	if len(msg.Answers) != 1 {
		t.Fatalf("expected one known-answer resource suppressing the cached SRV, got %d", len(msg.Answers))
	}
	srv, ok := msg.Answers[0].Body.(*dnsmessage.SRVResource)
	if !ok || srv.Port != 5540 || srv.Target.String() != "baz.local." {
		t.Fatalf("unexpected known-answer body: %+v", msg.Answers[0].Body)
	}
}

// TestHandleOperationalSRVRequeriesAWhenIPv4Enabled covers spec §4.D.4's
// "re-query AAAA (and A when IPv4 is enabled)".
func TestHandleOperationalSRVRequeriesAWhenIPv4Enabled(t *testing.T) {
	fc := clock.NewFakeClock(time.Unix(0, 0))
	socket := matterfake.NewSocket("eth0")
	e := New(discardLogger(), fc, socket, true)

	e.handleOperationalSRV("eth0", ParsedSRV{InstanceName: "inst._matter._tcp.local.", Target: "qux.local.", Port: 5540, TTL: time.Minute}, fc.Now())

	sent := socket.Sent()
	if len(sent) == 0 {
		t.Fatal("expected a re-query to be sent")
	}
	var msg dnsmessage.Message
	if err := msg.Unpack(sent[len(sent)-1].Data); err != nil {
		t.Fatalf("unpack: %v", err)
	}
	types := make(map[dnsmessage.Type]bool)
	for _, q := range msg.Questions {
		types[q.Type] = true
	}
	if !types[dnsmessage.TypeAAAA] || !types[dnsmessage.TypeA] {
		t.Fatalf("expected both AAAA and A queried with IPv4 enabled, got %+v", msg.Questions)
	}
}

// TestHandleOperationalSRVSkipsAWhenIPv4Disabled confirms the A query is
// omitted when the engine was built with enableIPv4 false.
func TestHandleOperationalSRVSkipsAWhenIPv4Disabled(t *testing.T) {
	fc := clock.NewFakeClock(time.Unix(0, 0))
	socket := matterfake.NewSocket("eth0")
	e := New(discardLogger(), fc, socket, false)

	e.handleOperationalSRV("eth0", ParsedSRV{InstanceName: "inst._matter._tcp.local.", Target: "qux.local.", Port: 5540, TTL: time.Minute}, fc.Now())

	sent := socket.Sent()
	if len(sent) == 0 {
		t.Fatal("expected a re-query to be sent")
	}
	var msg dnsmessage.Message
	if err := msg.Unpack(sent[len(sent)-1].Data); err != nil {
		t.Fatalf("unpack: %v", err)
	}
	for _, q := range msg.Questions {
		if q.Type == dnsmessage.TypeA {
			t.Fatalf("expected no A query with IPv4 disabled, got %+v", msg.Questions)
		}
	}
}
