package locktable

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/jabolina/dlmd/internal/clock"
	"github.com/jabolina/dlmd/internal/dlmerr"
	"github.com/jabolina/dlmd/internal/logging"
)

// ErrNotFound is returned by Release for an unknown lock id, and used
// internally (logged, not propagated) when an incoming reply/unlock
// references a resource/timestamp with no matching record. It wraps
// dlmerr.ErrUnknownResource so callers outside this package can match
// on the shared not-found taxonomy without depending on this
// package's own sentinel.
var ErrNotFound = fmt.Errorf("locktable: no matching record: %w", dlmerr.ErrUnknownResource)

// LiveCounter supplies the number of currently-live remote peers,
// captured once at acquire time to seed a new record's
// pending-replies count. Satisfied by *registry.Registry.
type LiveCounter interface {
	LiveRemoteCount() int
}

// Announcer is the narrow egress surface the table needs: emitting
// the three message kinds the algorithm originates. It deliberately
// knows nothing about peers, transport, or encoding; those concerns
// belong to whatever implements it (internal/daemon), keeping this
// package free of any dependency on codec or transport concrete
// types.
type Announcer interface {
	Request(resource string, timestamp uint64, mode Mode, originID uint32)
	Reply(toPeerID uint32, resource string, timestamp uint64, mode Mode)
	Unlock(resource string, timestamp uint64, mode Mode)
}

// Table is the ordered pending/held lock sequence and the state
// machine operating on it. One Table exists per daemon process.
//
// The granted-position gate (see isTailLocked) is global across every
// resource in the table, not per-resource: a pending request for one
// resource can sit behind an older request for a wholly unrelated
// resource. This is a deliberate fidelity choice, not an oversight;
// see DESIGN.md.
type Table struct {
	mu      sync.Mutex
	records []*Record // kept sorted ascending by less(); records[0] is eligible to be granted.

	nextLockID uint64 // atomic

	clock    *clock.Clock
	live     LiveCounter
	announce Announcer
	localID  uint32
	log      logging.Logger
}

// New builds an empty lock table for the local peer identified by
// localID (the numeric form of its own address).
func New(clk *clock.Clock, live LiveCounter, announce Announcer, localID uint32, log logging.Logger) *Table {
	return &Table{
		clock:    clk,
		live:     live,
		announce: announce,
		localID:  localID,
		log:      log,
	}
}

// less defines the total order every peer applies identically:
// ascending by timestamp, and for ties, the record with the *lower*
// origin id sorts first (is placed nearer the front, i.e. is
// prioritized to be granted sooner). This direction is the one that
// reproduces spec.md §8 scenario S2 literally (A, id=10, is granted
// before B, id=20, on a timestamp tie) — see DESIGN.md for the
// request.c simulation this is grounded on.
func less(a, b *Record) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	if a.OriginID != b.OriginID {
		return a.OriginID < b.OriginID
	}
	return a.LockID < b.LockID
}

// insertLocked finds a coalescing target or an insertion point for
// rec and mutates t.records accordingly. Caller must hold t.mu.
// Returns the record that now represents rec's request: either rec
// itself, or an existing record rec was coalesced into.
func (t *Table) insertLocked(rec *Record) *Record {
	if Coalesces(rec.Mode, rec.Mode) {
		for _, existing := range t.records {
			if existing.Resource == rec.Resource && Coalesces(existing.Mode, rec.Mode) {
				for id := range rec.Holders {
					existing.Holders[id] = struct{}{}
				}
				existing.Kind |= KindCompatible
				return existing
			}
		}
	}

	idx := sort.Search(len(t.records), func(i int) bool {
		return less(rec, t.records[i])
	})
	t.records = append(t.records, nil)
	copy(t.records[idx+1:], t.records[idx:])
	t.records[idx] = rec
	return rec
}

// removeLocked deletes rec from the table. Caller must hold t.mu.
func (t *Table) removeLocked(rec *Record) {
	for i, r := range t.records {
		if r == rec {
			t.records = append(t.records[:i], t.records[i+1:]...)
			return
		}
	}
}

// isTailLocked reports whether rec occupies the single eligible
// position in the table. Caller must hold t.mu.
func (t *Table) isTailLocked(rec *Record) bool {
	return len(t.records) > 0 && t.records[0] == rec
}

// wakeAllLocked broadcasts every record's condition variable. Cheap
// and simple: only locally-originated records ever have a waiter
// blocked in Acquire, and any structural change to the table can
// shift which record (if any) is newly eligible. Caller must hold
// t.mu.
func (t *Table) wakeAllLocked() {
	for _, r := range t.records {
		r.cond.Broadcast()
	}
}

func (t *Table) findByResourceTimestampLocked(resource string, timestamp uint64, want Kind) *Record {
	for _, r := range t.records {
		if r.Resource == resource && r.Timestamp == timestamp && r.Kind.Has(want) {
			return r
		}
	}
	return nil
}

func (t *Table) findByResourceOriginLocked(resource string, originID uint32, want Kind) *Record {
	for _, r := range t.records {
		if r.Resource == resource && r.Kind.Has(want) {
			if _, ok := r.Holders[originID]; ok {
				return r
			}
		}
	}
	return nil
}

func (t *Table) findByIDLocked(lockID uint64) *Record {
	for _, r := range t.records {
		if r.LockID == lockID {
			return r
		}
	}
	return nil
}

// Acquire blocks until a grant for resource in mode is obtained: tick
// the clock, build and insert a local record, broadcast a request,
// then wait for the conjunction of "all replies received" and "at the
// table's eligible position."
func (t *Table) Acquire(resource string, mode Mode) uint64 {
	ts := t.clock.Tick()
	lockID := atomic.AddUint64(&t.nextLockID, 1)
	// TODO: pending is captured once here and never reconciled against
	// a peer dying mid-wait; a peer that goes dead after this point
	// leaves its reply permanently outstanding and the acquirer blocks
	// forever. Fixing this means having Heartbeat's liveness decrement
	// also walk the table decrementing any record waiting on a peer
	// that just died.
	pending := t.live.LiveRemoteCount()

	t.mu.Lock()
	rec := newRecord(&t.mu, resource, lockID, ts, t.localID, mode, KindLocal, pending)
	rec = t.insertLocked(rec)
	t.wakeAllLocked()
	t.mu.Unlock()

	// The broadcast happens with the table mutex released, since it
	// takes the Peer Registry mutex in turn: lock acquisition order is
	// always Clock, then Registry, then Table.
	t.announce.Request(resource, ts, mode, t.localID)

	t.mu.Lock()
	for !(rec.granted() && t.isTailLocked(rec)) {
		rec.cond.Wait()
	}
	id := rec.LockID
	t.mu.Unlock()

	return id
}

// Release releases a locally held lock identified by lockID.
func (t *Table) Release(lockID uint64) error {
	t.mu.Lock()
	rec := t.findByIDLocked(lockID)
	if rec == nil {
		t.mu.Unlock()
		return ErrNotFound
	}

	delete(rec.Holders, t.localID)
	emptied := len(rec.Holders) == 0
	if emptied {
		t.removeLocked(rec)
	}
	t.wakeAllLocked()
	resource, mode := rec.Resource, rec.Mode
	t.mu.Unlock()

	if rec.Kind.Has(KindLocal) {
		ts := t.clock.Tick()
		t.announce.Unlock(resource, ts, mode)
	}

	return nil
}

// OnRequest handles a request message received from a peer: insert a
// remote record (coalescing into an existing compatible-read record
// when possible) and unconditionally reply. The caller (the Listener)
// is responsible for having already merged the clock via
// clock.Observe before dispatching here.
func (t *Table) OnRequest(fromPeerID uint32, resource string, timestamp uint64, mode Mode, originID uint32) {
	t.mu.Lock()
	rec := newRecord(&t.mu, resource, 0, timestamp, originID, mode, KindRemote, 0)
	t.insertLocked(rec)
	t.wakeAllLocked()
	t.mu.Unlock()

	t.announce.Reply(fromPeerID, resource, timestamp, mode)
}

// OnReply handles a reply from a peer: decrement the matching local
// record's pending-replies (floored at zero, so a duplicate reply
// cannot drive it negative) and wake waiters if the grant condition
// now holds.
func (t *Table) OnReply(resource string, timestamp uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.findByResourceTimestampLocked(resource, timestamp, KindLocal)
	if rec == nil {
		t.log.Warnf("reply for unknown record resource=%s timestamp=%d", resource, timestamp)
		return
	}
	if rec.PendingReplies > 0 {
		rec.PendingReplies--
	}
	if rec.granted() && t.isTailLocked(rec) {
		rec.cond.Broadcast()
	}
}

// OnUnlock handles an unlock notification from a peer: remove that
// peer from the matching remote record's holders, destroying the
// record once empty, and wake whatever record becomes newly eligible.
func (t *Table) OnUnlock(fromPeerID uint32, resource string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec := t.findByResourceOriginLocked(resource, fromPeerID, KindRemote)
	if rec == nil {
		t.log.Warnf("unlock for unknown record resource=%s origin=%d", resource, fromPeerID)
		return
	}
	delete(rec.Holders, fromPeerID)
	if len(rec.Holders) == 0 {
		t.removeLocked(rec)
	}
	t.wakeAllLocked()
}

// Depth returns the number of records currently in the table, for the
// dlmd_lock_table_depth metric.
func (t *Table) Depth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}
