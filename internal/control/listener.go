package control

import (
	"context"

	"github.com/jabolina/dlmd/internal/clock"
	"github.com/jabolina/dlmd/internal/codec"
	"github.com/jabolina/dlmd/internal/locktable"
	"github.com/jabolina/dlmd/internal/logging"
	"github.com/jabolina/dlmd/internal/registry"
	"github.com/jabolina/dlmd/internal/transport"
)

// Source is the receive side of whatever transport is wired in.
type Source interface {
	Datagrams() <-chan transport.Datagram
}

// TableHandler is the narrow surface Listener drives on the lock
// table for each message kind. Satisfied by *locktable.Table.
type TableHandler interface {
	OnRequest(fromPeerID uint32, resource string, timestamp uint64, mode locktable.Mode, originID uint32)
	OnReply(resource string, timestamp uint64)
	OnUnlock(fromPeerID uint32, resource string)
}

// MessageRecorder counts received messages by kind, for the
// dlmd_messages_total{kind,direction} metric. Optional: a Listener
// built without one simply skips the accounting.
type MessageRecorder interface {
	RecordReceived(kind string)
}

// Listener is the activity that receives datagrams, merges the
// Lamport clock, refreshes the sender's liveness, and dispatches each
// message to the lock table, in that order, for every received
// message.
type Listener struct {
	source   Source
	registry *registry.Registry
	clock    *clock.Clock
	table    TableHandler
	recorder MessageRecorder
	log      logging.Logger
	done     chan struct{}
}

// NewListener builds a Listener activity bound to source.
func NewListener(source Source, reg *registry.Registry, clk *clock.Clock, table TableHandler, log logging.Logger) *Listener {
	return &Listener{
		source:   source,
		registry: reg,
		clock:    clk,
		table:    table,
		log:      log.With("component", "listener"),
		done:     make(chan struct{}),
	}
}

// WithRecorder wires a MessageRecorder to count received messages by
// kind. Returns the Listener for chaining at construction time.
func (l *Listener) WithRecorder(recorder MessageRecorder) *Listener {
	l.recorder = recorder
	return l
}

// Run starts the receive loop in a new goroutine. It exits once the
// datagram source's channel is closed (the transport was shut down)
// or ctx is cancelled.
func (l *Listener) Run(ctx context.Context) {
	go l.loop(ctx)
}

// Done returns a channel closed once the receive loop has exited, for
// callers that need to wait for a clean shutdown.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

func (l *Listener) loop(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case <-ctx.Done():
			return
		case dg, ok := <-l.source.Datagrams():
			if !ok {
				return
			}
			l.handle(dg)
		}
	}
}

func (l *Listener) handle(dg transport.Datagram) {
	msg, err := codec.Decode(dg.Payload)
	if err != nil {
		l.log.Warnf("listener: dropping malformed datagram from %s: %v", dg.From, err)
		return
	}

	peer := l.registry.FindByAddr(dg.From)
	if peer == nil {
		l.log.Warnf("listener: dropping message from unregistered address %s", dg.From)
		return
	}
	if msg.Event > 0 {
		l.clock.Observe(msg.Event)
	}
	l.registry.Refresh(peer)
	if l.recorder != nil {
		l.recorder.RecordReceived(string(msg.Type))
	}

	switch msg.Type {
	case codec.KindKeepalive:
		// liveness already refreshed above; nothing further to do.
	case codec.KindRequest:
		l.table.OnRequest(peer.ID, msg.Resource, msg.Event, msg.Flags, msg.ID)
	case codec.KindReply:
		l.table.OnReply(msg.Resource, msg.Event)
	case codec.KindUnlock:
		l.table.OnUnlock(peer.ID, msg.Resource)
	default:
		l.log.Warnf("listener: unhandled message type %q from %s", msg.Type, dg.From)
	}
}
