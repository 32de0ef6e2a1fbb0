// Package registry implements the Peer Registry: the fixed,
// startup-populated set of cluster members, their liveness counters,
// and the broadcast/unicast primitives built on top of them.
//
// The peer set is a flat, address-keyed node list with per-peer
// liveness aging, rather than a hierarchical membership structure;
// a cluster of this size has no need for one.
package registry

import (
	"encoding/binary"
	"fmt"
	"net"
	"sync"

	"github.com/jabolina/dlmd/internal/dlmerr"
	"github.com/jabolina/dlmd/internal/logging"
)

// Kind distinguishes the single local peer from every remote peer.
type Kind int

const (
	// Remote is a cluster member reached over the network.
	Remote Kind = iota
	// Local is the peer running in this process.
	Local
)

func (k Kind) String() string {
	if k == Local {
		return "local"
	}
	return "remote"
}

// LivenessCeiling is the liveness counter value a peer is refreshed
// to whenever a message arrives from it; it is also the maximum
// number of missed heartbeat ticks tolerated before the peer is
// considered dead. Matches MAX_ALIVE_CHECKS in dlmd.h.
const LivenessCeiling = 3

// Sender delivers a single datagram to one peer. Implemented by
// internal/transport; kept as a narrow interface here so the registry
// never imports the transport package.
type Sender interface {
	SendTo(addr *net.UDPAddr, payload []byte) error
}

// Peer is one member of the cluster: immutable identity plus a
// mutable liveness counter.
type Peer struct {
	// Name is the display name, bounded the way MAX_NAME_LEN bounds
	// node_name in dlmd.h (128 bytes); enforced by Add.
	Name string

	// Addr is the peer's UDP transport endpoint.
	Addr *net.UDPAddr

	// ID is the numeric tiebreaker: the big-endian uint32 form of the
	// IPv4 address, matching node_id = node_address.sin_addr.s_addr in
	// request.c.
	ID uint32

	// Kind is Local for exactly one peer, Remote for all others.
	Kind Kind

	mu       sync.Mutex
	liveness int
}

// addressToID derives the numeric tiebreaker id from an IPv4 address,
// matching dlmd's use of the raw sin_addr.s_addr as node_id.
func addressToID(addr *net.UDPAddr) (uint32, error) {
	ip4 := addr.IP.To4()
	if ip4 == nil {
		return 0, fmt.Errorf("registry: address %s is not IPv4", addr)
	}
	return binary.BigEndian.Uint32(ip4), nil
}

// newPeer constructs a peer with the initial liveness of -1: dead
// until the first keepalive/refresh arrives, exactly as
// dlmd_node_add sets `node->alive_flag = -1`.
func newPeer(name string, addr *net.UDPAddr, kind Kind) (*Peer, error) {
	if len(name) == 0 || len(name) > 128 {
		return nil, fmt.Errorf("registry: peer name %q exceeds 128 bytes or is empty", name)
	}
	id, err := addressToID(addr)
	if err != nil {
		return nil, err
	}
	return &Peer{
		Name:     name,
		Addr:     addr,
		ID:       id,
		Kind:     kind,
		liveness: -1,
	}, nil
}

// Liveness returns the current liveness counter.
func (p *Peer) Liveness() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.liveness
}

// Alive reports whether the peer is currently considered live.
func (p *Peer) Alive() bool {
	return p.Liveness() > 0
}

func (p *Peer) refresh() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.liveness = LivenessCeiling
}

func (p *Peer) decrement() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.liveness > 0 {
		p.liveness--
		dlmerr.Assertf(p.liveness >= 0, "peer %s liveness decremented below zero", p.Name)
	}
}

// Registry holds every known peer, protected by a single mutex.
// The peer set is fixed at startup: Add is only ever called during
// bootstrap, so lookups never race with membership changes.
type Registry struct {
	mu      sync.Mutex
	byID    map[uint32]*Peer
	byName  map[string]*Peer
	ordered []*Peer
	local   *Peer
	sender  Sender
	log     logging.Logger
}

// New creates an empty registry. SetSender must be called once the
// transport is constructed, before any Broadcast/Unicast call.
func New(log logging.Logger) *Registry {
	return &Registry{
		byID:   make(map[uint32]*Peer),
		byName: make(map[string]*Peer),
		log:    log,
	}
}

// SetSender wires the transport used by Broadcast/Unicast. Kept
// separate from New because the transport's listening socket is
// often constructed after the peer set is known (it needs the local
// peer's address).
func (r *Registry) SetSender(sender Sender) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sender = sender
}

// Add registers a peer at startup. Exactly one peer in the registry
// must be added with kind Local.
func (r *Registry) Add(name string, addr *net.UDPAddr, kind Kind) (*Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if kind == Local && r.local != nil {
		return nil, fmt.Errorf("registry: a local peer is already registered (%s)", r.local.Name)
	}

	p, err := newPeer(name, addr, kind)
	if err != nil {
		return nil, err
	}
	if _, exists := r.byID[p.ID]; exists {
		return nil, fmt.Errorf("registry: peer id %d (%s) already registered", p.ID, name)
	}

	r.byID[p.ID] = p
	r.byName[p.Name] = p
	r.ordered = append(r.ordered, p)
	if kind == Local {
		r.local = p
	}
	return p, nil
}

// Local returns the single local peer, or nil if none has been
// registered yet.
func (r *Registry) Local() *Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.local
}

// FindByID looks a peer up by its numeric tiebreaker id.
func (r *Registry) FindByID(id uint32) *Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id]
}

// FindByName looks a peer up by its display name.
func (r *Registry) FindByName(name string) *Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byName[name]
}

// FindByAddr looks a peer up by its transport endpoint.
func (r *Registry) FindByAddr(addr *net.UDPAddr) *Peer {
	id, err := addressToID(addr)
	if err != nil {
		return nil
	}
	p := r.FindByID(id)
	if p == nil || p.Addr.Port != addr.Port {
		return nil
	}
	return p
}

// liveRemotes returns the currently-live remote peers. Caller must
// hold r.mu.
func (r *Registry) liveRemotes() []*Peer {
	var live []*Peer
	for _, p := range r.ordered {
		if p.Kind != Local && p.Alive() {
			live = append(live, p)
		}
	}
	return live
}

// LiveRemoteCount returns the number of remote peers currently
// considered alive, used to seed a new request's pending-replies
// count.
func (r *Registry) LiveRemoteCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.liveRemotes())
}

// Broadcast sends payload to every remote peer whose liveness is
// positive, mirroring dlmd_node_broadcast_msg's predicate
// (alive_flag > 0 && type != DLMD_NODE_TYPE_LOCAL). Send failures are
// logged and otherwise ignored: transport is assumed unreliable.
func (r *Registry) Broadcast(payload []byte) {
	r.mu.Lock()
	live := r.liveRemotes()
	sender := r.sender
	r.mu.Unlock()

	for _, p := range live {
		if sender == nil {
			continue
		}
		if err := sender.SendTo(p.Addr, payload); err != nil {
			r.log.Errorf("broadcast to %s (%s): %v: %v", p.Name, p.Addr, dlmerr.ErrPeerUnreachable, err)
		}
	}
}

// Unicast sends payload to a single peer, subject to the same
// liveness/kind predicate as Broadcast.
func (r *Registry) Unicast(p *Peer, payload []byte) {
	if p == nil || !p.Alive() || p.Kind == Local {
		return
	}
	r.mu.Lock()
	sender := r.sender
	r.mu.Unlock()
	if sender == nil {
		return
	}
	if err := sender.SendTo(p.Addr, payload); err != nil {
		r.log.Errorf("unicast to %s (%s): %v: %v", p.Name, p.Addr, dlmerr.ErrPeerUnreachable, err)
	}
}

// DecrementAllLiveness ages every remote peer whose liveness counter
// is positive by one, called once per heartbeat tick; counters at zero
// or below are left unchanged. Matches
// dlmd_node_alive_decrement.
func (r *Registry) DecrementAllLiveness() {
	r.mu.Lock()
	peers := append([]*Peer(nil), r.ordered...)
	r.mu.Unlock()

	for _, p := range peers {
		if p.Kind != Local {
			p.decrement()
		}
	}
}

// Refresh resets a peer's liveness to the ceiling, called when any
// message (keepalive or otherwise) is received from it.
func (r *Registry) Refresh(p *Peer) {
	if p == nil {
		return
	}
	p.refresh()
}
