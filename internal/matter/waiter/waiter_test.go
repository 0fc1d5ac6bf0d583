package waiter

import (
	"testing"
	"time"

	"matterctl/internal/matter/clock"
)

func TestFinishInvokesResponderOnlyWhenResolved(t *testing.T) {
	fc := clock.NewFakeClock(time.Unix(0, 0))
	r := New(fc)
	var called bool
	r.Register("key", false, time.Second, func() { called = true }, false, nil)

	r.Finish("key", false, false)
	if called {
		t.Fatal("responder must not run when resolveValue is false")
	}
	if r.Active("key") {
		t.Fatal("waiter should be removed after Finish")
	}
}

func TestFinishInvokesResponderWhenResolved(t *testing.T) {
	fc := clock.NewFakeClock(time.Unix(0, 0))
	r := New(fc)
	var called bool
	r.Register("key", false, time.Second, func() { called = true }, false, nil)

	r.Finish("key", true, false)
	if !called {
		t.Fatal("responder must run when resolveValue is true")
	}
}

func TestFinishIgnoresUpdatedRecordUnlessOptedIn(t *testing.T) {
	fc := clock.NewFakeClock(time.Unix(0, 0))
	r := New(fc)
	var calls int
	r.Register("key", true, time.Second, func() { calls++ }, false, nil)

	r.Finish("key", true, true) // isUpdatedRecord=true, resolveOnUpdated=false
	if calls != 0 {
		t.Fatal("finish on an updated record must be a no-op without resolveOnUpdated")
	}
	if !r.Active("key") {
		t.Fatal("waiter must remain registered")
	}

	r.Finish("key", true, false)
	if calls != 1 {
		t.Fatalf("expected final non-update finish to resolve, got %d calls", calls)
	}
}

func TestFinishIgnoresUpdatedRecordWhenOptedIn(t *testing.T) {
	fc := clock.NewFakeClock(time.Unix(0, 0))
	r := New(fc)
	var calls int
	r.Register("key", true, time.Second, func() { calls++ }, true, nil)

	r.Finish("key", true, true)
	if calls != 1 {
		t.Fatalf("expected update to resolve immediately when opted in, got %d", calls)
	}
}

func TestCancelInvokesCancelResolver(t *testing.T) {
	fc := clock.NewFakeClock(time.Unix(0, 0))
	r := New(fc)
	var cancelled bool
	r.Register("key", true, 0, nil, false, func() { cancelled = true })

	r.Cancel("key")
	if !cancelled {
		t.Fatal("expected cancel resolver to run")
	}
	if r.Active("key") {
		t.Fatal("waiter should be removed after cancel")
	}
}

func TestRegisterSupersedesPreviousWaiter(t *testing.T) {
	fc := clock.NewFakeClock(time.Unix(0, 0))
	r := New(fc)
	var firstCancelled bool
	r.Register("key", false, time.Second, nil, false, func() { firstCancelled = true })
	r.Register("key", false, time.Second, nil, false, nil)

	if !firstCancelled {
		t.Fatal("expected the superseded waiter's cancel resolver to fire")
	}
}

func TestExpireDoesNotInvokeResponder(t *testing.T) {
	fc := clock.NewFakeClock(time.Unix(0, 0))
	r := New(fc)
	var called bool
	r.Register("key", false, time.Second, func() { called = true }, false, nil)

	r.Expire("key")
	if called {
		t.Fatal("a timeout expiry must never invoke the responder")
	}
	if r.Active("key") {
		t.Fatal("waiter should be removed after expiry")
	}
}
