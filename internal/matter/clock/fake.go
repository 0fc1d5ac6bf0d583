package clock

import (
	"sync"
	"time"
)

// FakeClock is a deterministic Clock for tests: it only moves forward when
// Advance is called, and firing any due timer/ticker is synchronous with
// that call. No example repo in the retrieval pack ships a virtual-timer
// clock library (the teacher's own adapter/fake.Clock only fakes Now()),
// so this is built directly on time.Time/time.Duration arithmetic.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	waiters []*fakeWaiter
}

type fakeWaiter struct {
	deadline time.Time
	interval time.Duration // zero for a one-shot timer
	c        chan time.Time
	active   bool
}

// NewFakeClock creates a FakeClock starting at the given time.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (f *FakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Set moves the clock to an absolute time, firing any due waiters.
func (f *FakeClock) Set(t time.Time) {
	f.mu.Lock()
	if !t.After(f.now) {
		f.now = t
		f.mu.Unlock()
		return
	}
	f.now = t
	f.fireDueLocked()
	f.mu.Unlock()
}

// Advance moves the clock forward by d, firing any timers/tickers whose
// deadline has been reached, in deadline order.
func (f *FakeClock) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.fireDueLocked()
	f.mu.Unlock()
}

// fireDueLocked must be called with mu held.
func (f *FakeClock) fireDueLocked() {
	for {
		due := -1
		for i, w := range f.waiters {
			if !w.active || w.deadline.After(f.now) {
				continue
			}
			if due == -1 || w.deadline.Before(f.waiters[due].deadline) {
				due = i
			}
		}
		if due == -1 {
			return
		}
		w := f.waiters[due]
		select {
		case w.c <- f.now:
		default:
		}
		if w.interval > 0 {
			w.deadline = w.deadline.Add(w.interval)
			if !w.deadline.After(f.now) {
				w.deadline = f.now.Add(w.interval)
			}
		} else {
			w.active = false
		}
	}
}

func (f *FakeClock) After(d time.Duration) <-chan time.Time {
	return f.NewTimer(d).C()
}

func (f *FakeClock) NewTimer(d time.Duration) Timer {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &fakeWaiter{deadline: f.now.Add(d), c: make(chan time.Time, 1), active: true}
	f.waiters = append(f.waiters, w)
	return &fakeTimer{clock: f, w: w}
}

func (f *FakeClock) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &fakeWaiter{deadline: f.now.Add(d), interval: d, c: make(chan time.Time, 1), active: true}
	f.waiters = append(f.waiters, w)
	return &fakeTicker{clock: f, w: w}
}

// PendingCount reports the number of still-active timers/tickers, useful
// for assertions that a reconnect timer was armed or cancelled.
func (f *FakeClock) PendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, w := range f.waiters {
		if w.active {
			n++
		}
	}
	return n
}

type fakeTimer struct {
	clock *FakeClock
	w     *fakeWaiter
}

func (t *fakeTimer) C() <-chan time.Time { return t.w.c }

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	was := t.w.active
	t.w.active = false
	t.clock.mu.Unlock()
	return was
}

func (t *fakeTimer) Reset(d time.Duration) bool {
	t.clock.mu.Lock()
	was := t.w.active
	t.w.active = true
	t.w.deadline = t.clock.now.Add(d)
	t.clock.mu.Unlock()
	return was
}

type fakeTicker struct {
	clock *FakeClock
	w     *fakeWaiter
}

func (t *fakeTicker) C() <-chan time.Time { return t.w.c }

func (t *fakeTicker) Stop() {
	t.clock.mu.Lock()
	t.w.active = false
	t.clock.mu.Unlock()
}
