package node

import "testing"

func TestStateTransitionTable(t *testing.T) {
	cases := []struct {
		from, to, want State
	}{
		{Disconnected, Reconnecting, Reconnecting},
		{Connected, Reconnecting, Reconnecting},
		{Reconnecting, Connected, Connected},
		{Reconnecting, WaitingForDeviceDiscovery, WaitingForDeviceDiscovery},
		{WaitingForDeviceDiscovery, Reconnecting, Reconnecting}, // new inbound session
		{Connected, Disconnected, Disconnected},
		{WaitingForDeviceDiscovery, Disconnected, Disconnected}, // remote UnknownNode
	}
	for _, c := range cases {
		got := c.from.Transition(c.to)
		if got != c.want {
			t.Errorf("%s -> %s: got %s, want %s", c.from, c.to, got, c.want)
		}
	}
}

func TestStateTransitionRejectsDisconnectedToConnected(t *testing.T) {
	got := Disconnected.Transition(Connected)
	if got != Disconnected {
		t.Fatalf("Disconnected -> Connected should be rejected (no active Reconnecting attempt), got %s", got)
	}
}

func TestStateTransitionRejectsDisconnectedToWaiting(t *testing.T) {
	got := Disconnected.Transition(WaitingForDeviceDiscovery)
	if got != Disconnected {
		t.Fatalf("Disconnected -> WaitingForDeviceDiscovery should be rejected, got %s", got)
	}
}

func TestStateString(t *testing.T) {
	want := map[State]string{
		Disconnected:              "disconnected",
		Connected:                 "connected",
		Reconnecting:              "reconnecting",
		WaitingForDeviceDiscovery: "waiting_for_device_discovery",
	}
	for s, str := range want {
		if s.String() != str {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), str)
		}
	}
}
