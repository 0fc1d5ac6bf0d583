//go:build debug

// Package check provides cheap internal-invariant assertions used by the
// mDNS engine and node state machine. They panic in debug builds and
// compile to no-ops otherwise: invariant breaks (e.g. an unresolved
// endpoint-tree cycle) are loud in development but, per the engine's
// Internal error kind, only logged in production — the process keeps
// running rather than crashing a long-lived daemon.
package check

import "fmt"

// Assert panics if cond is false. Only active in debug builds.
func Assert(cond bool, msg string) {
	if !cond {
		panic("invariant violated: " + msg)
	}
}

// Assertf panics if cond is false with a formatted message. Only active in debug builds.
func Assertf(cond bool, format string, args ...any) {
	if !cond {
		panic("invariant violated: " + fmt.Sprintf(format, args...))
	}
}
