package locktable

import "sync"

// Record is one pending or granted entry in the lock table: either a
// request originated locally (Kind has KindLocal) or one mirrored
// from a peer's request (Kind has KindRemote). Field names follow
// dlmd_lock_t in dlmd.h directly.
type Record struct {
	// Resource is the name of the locked resource.
	Resource string

	// LockID is locally unique and monotonically assigned; it is
	// meaningful only to the node that created the record (matches
	// dlmd.h's lck_id/atomic_inc_64_nv scheme; it is never compared
	// across nodes).
	LockID uint64

	// Timestamp is the Lamport value at origination.
	Timestamp uint64

	// OriginID is the numeric id of the node that originated the
	// request this record represents.
	OriginID uint32

	Mode Mode
	Kind Kind

	// Holders is the set of peer ids currently sharing this record's
	// grant. A purely exclusive record has exactly one holder; a
	// coalesced concurrent-read record accumulates one holder per
	// contributing peer.
	Holders map[uint32]struct{}

	// PendingReplies is the count of peer replies still required
	// before this record may be considered for the critical section.
	// Meaningful only for local records; remote records leave it at 0.
	PendingReplies int

	cond *sync.Cond
}

func newRecord(mu *sync.Mutex, resource string, lockID, timestamp uint64, originID uint32, mode Mode, kind Kind, pending int) *Record {
	return &Record{
		Resource:       resource,
		LockID:         lockID,
		Timestamp:      timestamp,
		OriginID:       originID,
		Mode:           mode,
		Kind:           kind,
		Holders:        map[uint32]struct{}{originID: {}},
		PendingReplies: pending,
		cond:           sync.NewCond(mu),
	}
}

// granted reports whether this record currently satisfies the
// "pending-replies == 0" half of the entry condition. Tail position
// is checked separately by the table, since it depends on every
// other record.
func (r *Record) granted() bool {
	return r.PendingReplies == 0
}
