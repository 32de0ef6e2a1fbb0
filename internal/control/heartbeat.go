// Package control implements two of the long-running activities a
// dlmd process runs, Heartbeat and Listener, which internal/daemon
// assembles into a running cluster member alongside its own Client API
// (Acquire/Release).
//
// The poll-until-cancelled shape of each activity is grounded on the
// teacher's Peer.poll (pkg/mcast/core/peer.go): a context.Context plus
// its CancelFunc owned by the activity, a single goroutine reading
// from a ticker or channel until ctx.Done() fires.
package control

import (
	"context"
	"time"

	"github.com/jabolina/dlmd/internal/codec"
	"github.com/jabolina/dlmd/internal/logging"
)

// KeepaliveSender is the narrow surface Heartbeat needs to announce
// itself and age the registry; satisfied by *registry.Registry.
type KeepaliveSender interface {
	Broadcast(payload []byte)
	DecrementAllLiveness()
}

// Heartbeat periodically broadcasts a keepalive and ages every peer's
// liveness counter, matching dlmd's heartbeat thread: one tick period
// drives both the outbound announcement and the decrement of every
// other node's alive_flag (node.c's dlmd_node_alive_decrement).
type Heartbeat struct {
	nodeName string
	interval time.Duration
	registry KeepaliveSender
	log      logging.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewHeartbeat builds a Heartbeat activity. It does not start running
// until Run is called.
func NewHeartbeat(nodeName string, interval time.Duration, reg KeepaliveSender, log logging.Logger) *Heartbeat {
	return &Heartbeat{
		nodeName: nodeName,
		interval: interval,
		registry: reg,
		log:      log.With("component", "heartbeat"),
		done:     make(chan struct{}),
	}
}

// Run starts the heartbeat loop in a new goroutine and returns
// immediately. Stop cancels it.
func (h *Heartbeat) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	go h.loop(ctx)
}

// Stop cancels the heartbeat loop and blocks until it has exited.
func (h *Heartbeat) Stop() {
	if h.cancel != nil {
		h.cancel()
	}
	<-h.done
}

func (h *Heartbeat) loop(ctx context.Context) {
	defer close(h.done)
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.tick()
		}
	}
}

func (h *Heartbeat) tick() {
	msg := codec.NewKeepalive(h.nodeName)
	payload, err := codec.Encode(msg)
	if err != nil {
		h.log.Errorf("heartbeat: failed to encode keepalive: %v", err)
		return
	}
	h.registry.Broadcast(payload)
	h.registry.DecrementAllLiveness()
}
