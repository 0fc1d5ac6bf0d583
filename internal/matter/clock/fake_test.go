package clock

import (
	"testing"
	"time"
)

func TestFakeClockTimerFiresOnAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)

	timer := c.NewTimer(5 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("timer fired before deadline")
	default:
	}

	c.Advance(4 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("timer fired early")
	default:
	}

	c.Advance(1 * time.Second)
	select {
	case got := <-timer.C():
		if !got.Equal(start.Add(5 * time.Second)) {
			t.Fatalf("fired at %v, want %v", got, start.Add(5*time.Second))
		}
	default:
		t.Fatal("timer did not fire at deadline")
	}
}

func TestFakeClockTickerRepeats(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFakeClock(start)
	ticker := c.NewTicker(1 * time.Second)

	fires := 0
	for i := 0; i < 3; i++ {
		c.Advance(1 * time.Second)
		select {
		case <-ticker.C():
			fires++
		default:
			t.Fatalf("tick %d did not fire", i)
		}
	}
	if fires != 3 {
		t.Fatalf("got %d fires, want 3", fires)
	}

	ticker.Stop()
	c.Advance(5 * time.Second)
	select {
	case <-ticker.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestFakeClockStopPreventsTimer(t *testing.T) {
	c := NewFakeClock(time.Now())
	timer := c.NewTimer(1 * time.Second)
	if !timer.Stop() {
		t.Fatal("Stop on active timer should return true")
	}
	c.Advance(2 * time.Second)
	select {
	case <-timer.C():
		t.Fatal("stopped timer fired")
	default:
	}
}
