// Package locktable implements the ordered pending/held lock sequence
// and the Lamport mutual-exclusion state machine driving it.
//
// A Mode describes which lock modes may be held concurrently on the
// same resource, and the coalescing rule for compatible concurrent
// holders.
package locktable

import "fmt"

// Mode is a lock mode, one of six: null, concurrent-read,
// concurrent-write, protected-read, protected-write, exclusive.
// Values are distinct bit positions so a captured wire message's
// `flags` field is directly interpretable against this package
// without translation.
type Mode uint32

const (
	ModeNull            Mode = 1 << 0 // LKM_NLMODE
	ModeConcurrentRead  Mode = 1 << 1 // LKM_CRMODE
	ModeConcurrentWrite Mode = 1 << 2 // LKM_CWMODE
	ModeProtectedRead   Mode = 1 << 3 // LKM_PRMODE
	ModeProtectedWrite  Mode = 1 << 4 // LKM_PWMODE
	ModeExclusive       Mode = 1 << 5 // LKM_EXMODE
)

func (m Mode) String() string {
	switch m {
	case ModeNull:
		return "null"
	case ModeConcurrentRead:
		return "concurrent-read"
	case ModeConcurrentWrite:
		return "concurrent-write"
	case ModeProtectedRead:
		return "protected-read"
	case ModeProtectedWrite:
		return "protected-write"
	case ModeExclusive:
		return "exclusive"
	default:
		return fmt.Sprintf("mode(%d)", uint32(m))
	}
}

// Coalesces reports whether two same-resource records in these modes
// may share a single record's holder set instead of serializing.
//
// Only concurrent-read/concurrent-read coalesces. Every other pair,
// including protected-read/protected-read, is conservatively treated
// as incompatible. Extending this matrix later is a one-line change
// here, not a re-derivation of the insertion algorithm.
func Coalesces(a, b Mode) bool {
	return a == ModeConcurrentRead && b == ModeConcurrentRead
}

// Kind is a bitset describing why a record exists: because the local
// peer originated it, because a remote peer's request produced it, or
// because it has coalesced holders from a compatible mode. Matches
// the DLMD_LOCK_LOCAL/DLMD_LOCK_REMOTE/DLMD_LOCK_CR bits in dlmd.h.
type Kind uint32

const (
	KindLocal      Kind = 1 << 0
	KindRemote     Kind = 1 << 1
	KindCompatible Kind = 1 << 2
)

func (k Kind) Has(flag Kind) bool { return k&flag != 0 }
