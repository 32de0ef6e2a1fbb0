// Package dlmerr collects the handful of error kinds shared across
// package boundaries, plus an assertion helper for invariants that
// must never fail in a correctly wired daemon.
package dlmerr

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownResource is returned when an operation names a
	// resource or lock id the local node has no record of.
	ErrUnknownResource = errors.New("dlmd: unknown resource or lock id")

	// ErrMalformedMessage is returned by the codec and the Listener
	// when a received datagram fails validation.
	ErrMalformedMessage = errors.New("dlmd: malformed message")

	// ErrPeerUnreachable marks a send that failed at the transport
	// layer; it is logged, never propagated to the Client API, since
	// the transport is assumed unreliable by design.
	ErrPeerUnreachable = errors.New("dlmd: peer unreachable")
)

// Assertf panics with a formatted message if cond is false. Reserved
// for invariants whose violation means the daemon's internal state
// has already diverged from the algorithm's guarantees (a corrupted
// lock table ordering, for instance); never for recoverable,
// caller-facing errors.
func Assertf(cond bool, format string, args ...interface{}) {
	if !cond {
		panic(fmt.Sprintf("dlmd: assertion failed: "+format, args...))
	}
}
