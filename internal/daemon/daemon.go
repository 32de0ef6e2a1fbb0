// Package daemon assembles one running dlmd cluster member: the
// Clock, Peer Registry, Lock Table, UDP transport, and the Heartbeat
// and Listener control activities, plus the Client API
// (Acquire/Release).
//
// One struct owns every collaborator, with a single
// context.Context/CancelFunc pair governing the lifecycle of the
// goroutines spawned from its constructor.
package daemon

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/jabolina/dlmd/internal/clock"
	"github.com/jabolina/dlmd/internal/codec"
	"github.com/jabolina/dlmd/internal/config"
	"github.com/jabolina/dlmd/internal/control"
	"github.com/jabolina/dlmd/internal/locktable"
	"github.com/jabolina/dlmd/internal/logging"
	"github.com/jabolina/dlmd/internal/metrics"
	"github.com/jabolina/dlmd/internal/registry"
	"github.com/jabolina/dlmd/internal/transport"
)

// Daemon is one running cluster member.
type Daemon struct {
	name string

	clock    *clock.Clock
	registry *registry.Registry
	table    *locktable.Table
	conn     *transport.UDPTransport

	heartbeat *control.Heartbeat
	listener  *control.Listener

	metrics *metrics.Metrics
	log     logging.Logger

	cancel context.CancelFunc
}

// New builds and binds a Daemon from a decoded descriptor. It does
// not start any goroutine; call Run for that. A construction failure
// here is either a bad descriptor or a transport bind failure; the
// caller (cmd/dlmd) maps either to the corresponding fatal exit code.
func New(cfg *config.Descriptor, log logging.Logger, m *metrics.Metrics) (*Daemon, error) {
	reg := registry.New(log)

	var localAddr *net.UDPAddr
	for _, n := range cfg.Nodes {
		addr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", n.Address, n.Port))
		if err != nil {
			return nil, fmt.Errorf("daemon: resolving node %s: %w", n.Name, err)
		}
		kind := registry.Remote
		if n.Name == cfg.LocalName {
			kind = registry.Local
			localAddr = addr
		}
		if _, err := reg.Add(n.Name, addr, kind); err != nil {
			return nil, fmt.Errorf("daemon: registering node %s: %w", n.Name, err)
		}
	}
	if localAddr == nil {
		return nil, fmt.Errorf("daemon: local_name %q does not match any entry in nodes", cfg.LocalName)
	}

	conn, err := transport.Listen(localAddr, log)
	if err != nil {
		return nil, fmt.Errorf("daemon: %w", err)
	}
	reg.SetSender(conn)

	clk := clock.New()
	d := &Daemon{
		name:     cfg.LocalName,
		clock:    clk,
		registry: reg,
		conn:     conn,
		metrics:  m,
		log:      log,
	}
	d.table = locktable.New(clk, reg, d, reg.Local().ID, log)
	d.heartbeat = control.NewHeartbeat(cfg.LocalName, time.Duration(cfg.HeartbeatIntervalMS)*time.Millisecond, reg, log)
	d.listener = control.NewListener(conn, reg, clk, d.table, log)
	if m != nil {
		d.listener.WithRecorder(m)
	}

	return d, nil
}

// Run starts the Heartbeat and Listener activities. Call Shutdown to
// stop them and release the transport.
func (d *Daemon) Run(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.heartbeat.Run(ctx)
	d.listener.Run(ctx)
}

// Shutdown stops every control activity and closes the transport.
func (d *Daemon) Shutdown() {
	if d.cancel != nil {
		d.cancel()
	}
	d.heartbeat.Stop()
	<-d.listener.Done()
	if err := d.conn.Close(); err != nil {
		d.log.Warnf("daemon: error closing transport: %v", err)
	}
}

// Acquire is the Client API's blocking lock request. It returns once
// the local node has the resource granted in mode, with an opaque
// lock id Release later consumes.
func (d *Daemon) Acquire(resource string, mode locktable.Mode) uint64 {
	start := time.Now()
	id := d.table.Acquire(resource, mode)
	if d.metrics != nil {
		d.metrics.AcquireDuration.Observe(time.Since(start).Seconds())
	}
	return id
}

// Release is the Client API's unlock call.
func (d *Daemon) Release(lockID uint64) error {
	return d.table.Release(lockID)
}

// RefreshMetrics samples the gauges that reflect live state (clock
// value, live peer count, table depth). Called on a short interval by
// cmd/dlmd, since these are push-on-read values rather than
// counters incremented at the point of change.
func (d *Daemon) RefreshMetrics() {
	if d.metrics == nil {
		return
	}
	d.metrics.ClockValue.Set(float64(d.clock.Get()))
	d.metrics.LivePeers.Set(float64(d.registry.LiveRemoteCount()))
	d.metrics.LockTableDepth.Set(float64(d.table.Depth()))
}

// Request implements locktable.Announcer: broadcast a lock request to
// every live remote peer.
func (d *Daemon) Request(resource string, timestamp uint64, mode locktable.Mode, originID uint32) {
	msg := codec.NewRequest(d.name, resource, timestamp, mode, originID)
	d.send(codec.KindRequest, msg, func(payload []byte) { d.registry.Broadcast(payload) })
}

// Reply implements locktable.Announcer: unicast a reply back to the
// peer that sent the request being answered.
func (d *Daemon) Reply(toPeerID uint32, resource string, timestamp uint64, mode locktable.Mode) {
	msg := codec.NewReply(d.name, resource, timestamp, mode)
	peer := d.registry.FindByID(toPeerID)
	d.send(codec.KindReply, msg, func(payload []byte) { d.registry.Unicast(peer, payload) })
}

// Unlock implements locktable.Announcer: broadcast an unlock
// notification to every live remote peer.
func (d *Daemon) Unlock(resource string, timestamp uint64, mode locktable.Mode) {
	msg := codec.NewUnlock(d.name, resource, timestamp, mode)
	d.send(codec.KindUnlock, msg, func(payload []byte) { d.registry.Broadcast(payload) })
}

func (d *Daemon) send(kind codec.Kind, msg codec.Message, emit func(payload []byte)) {
	payload, err := codec.Encode(msg)
	if err != nil {
		d.log.Errorf("daemon: failed to encode %s message: %v", kind, err)
		return
	}
	if d.metrics != nil {
		d.metrics.MessagesTotal.WithLabelValues(string(kind), "sent").Inc()
	}
	emit(payload)
}
