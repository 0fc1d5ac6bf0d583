// Package defaults centralizes the controller's default network ports and
// timing intervals, the same "named constant + one-line rationale" style
// as the teacher's pkg/sdk/defaults, adapted from network-offset port
// derivation to Matter's fixed, spec-defined ports and timeouts.
package defaults

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

const (
	// MDNSPort is the standard multicast DNS port every Matter device and
	// controller listens on.
	MDNSPort = 5353
	// MulticastIPv4 is the standard mDNS IPv4 multicast group.
	MulticastIPv4 = "224.0.0.251"
	// MulticastIPv6 is the standard mDNS IPv6 multicast group (link-local).
	MulticastIPv6 = "ff02::fb"

	// OperationalPort is the conventional port Matter accessories advertise
	// in their SRV record; the engine always dials whatever port the SRV
	// record actually carries; this is only a documentation default.
	OperationalPort = 5540

	// DiscoveryTimeout is used by find_operational/find_commissionable
	// callers that don't specify their own timeout.
	DiscoveryTimeout = 5 * time.Second

	// CommissioningWindowTimeout is open_enhanced_commissioning_window's
	// default timeout (spec §8 scenario 6: "timeout=600").
	CommissioningWindowTimeout = 600 * time.Second

	// SubscriptionMinIntervalFloor is the default minimum subscription
	// interval for always-on devices (spec §4.F: "otherwise default floor
	// is 1s").
	SubscriptionMinIntervalFloor = 1 * time.Second
	// ICDMinIntervalFloor is the minimum subscription interval floor for
	// intermittently-connected devices (spec §4.F: "intermittently-
	// connected devices force a floor of 0s (Matter spec)").
	ICDMinIntervalFloor = 0 * time.Second

	defaultLinuxDataRoot  = "/var/lib/matterctl"
	defaultDarwinDataRoot = "Library/Application Support/matterctl"
)

// DataRoot returns the default directory the daemon stores its SQLite
// store and cached attributes under, the same GOOS-branch the teacher's
// defaults.DataRoot uses for its own data directory.
func DataRoot() string {
	if runtime.GOOS == "darwin" {
		home, err := os.UserHomeDir()
		if err != nil {
			return defaultLinuxDataRoot
		}
		return filepath.Join(home, defaultDarwinDataRoot)
	}
	return defaultLinuxDataRoot
}

// EnsureDataRoot creates dataRoot (or DataRoot() if empty) if it doesn't
// already exist.
func EnsureDataRoot(dataRoot string) error {
	if dataRoot == "" {
		dataRoot = DataRoot()
	}
	if err := os.MkdirAll(dataRoot, 0o755); err != nil {
		return fmt.Errorf("create data root: %w", err)
	}
	return nil
}

// SocketPath returns the default control-plane Unix socket path under
// dataRoot.
func SocketPath(dataRoot string) string {
	if dataRoot == "" {
		dataRoot = DataRoot()
	}
	return filepath.Join(dataRoot, "matterctld.sock")
}

// StateDBPath returns the default SQLite state database path under
// dataRoot.
func StateDBPath(dataRoot string) string {
	if dataRoot == "" {
		dataRoot = DataRoot()
	}
	return filepath.Join(dataRoot, "state.db")
}
