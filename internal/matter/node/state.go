package node

import "matterctl/internal/check"

// State is PairedNode's connection-lifecycle phase (spec §4.G).
type State uint8

const (
	Disconnected State = iota + 1
	Connected
	Reconnecting
	WaitingForDeviceDiscovery
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Reconnecting:
		return "reconnecting"
	case WaitingForDeviceDiscovery:
		return "waiting_for_device_discovery"
	default:
		return "unknown"
	}
}

// Transition implements spec §4.G's bare transition table: every row it
// lists is legal at this layer, including WaitingForDeviceDiscovery ->
// Reconnecting (a new inbound session from the peer). "Transition to
// Reconnecting is blocked when already in WaitingForDeviceDiscovery" (spec
// §4.G) does not mean this row is illegal -- it means the two *generic*
// triggers that drive any -> Reconnecting (a channel closing while we
// believed we were Connected, or a subscription timeout) cannot fire while
// in the deeper waiting state, because neither a channel nor a
// subscription exists there to close or time out. That guard belongs to
// the caller (PairedNode's event handlers), which only calls this
// transition from contexts where the generic triggers are even possible;
// it is not expressed as a rule in the table itself.
func (s State) Transition(to State) State {
	ok := false
	switch to {
	case Reconnecting:
		ok = true // any -> Reconnecting
	case Connected:
		ok = s == Reconnecting
	case WaitingForDeviceDiscovery:
		ok = s == Reconnecting
	case Disconnected:
		ok = true // Connected -> Disconnected (explicit disconnect/decommission); any -> Disconnected (UnknownNode)
	}

	check.Assertf(ok, "node state transition: %s -> %s", s, to)
	if !ok {
		return s
	}
	return to
}
