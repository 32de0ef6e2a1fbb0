// Package loadgen implements the optional synthetic load generator: a
// loop that repeatedly acquires a configured resource in
// concurrent-read mode, holds it briefly, then releases it, to
// exercise the rest of the system end-to-end without an interactive
// operator.
//
// The resource name is fixed at construction rather than read
// interactively; see DESIGN.md for why an interactive stdin prompt has
// no place in a daemon started by cmd/dlmd's -t flag.
package loadgen

import (
	"context"
	"time"

	"github.com/jabolina/dlmd/internal/locktable"
	"github.com/jabolina/dlmd/internal/logging"
)

// Client is the narrow Client API surface the generator drives.
// Satisfied by *daemon.Daemon.
type Client interface {
	Acquire(resource string, mode locktable.Mode) uint64
	Release(lockID uint64) error
}

// Generator repeatedly acquires and releases its resource in
// concurrent-read mode, sleeping for its hold duration between the two.
type Generator struct {
	client   Client
	resource string
	hold     time.Duration
	log      logging.Logger
	done     chan struct{}
}

// New builds a Generator targeting resource, holding each grant for
// hold before releasing.
func New(client Client, resource string, hold time.Duration, log logging.Logger) *Generator {
	return &Generator{
		client:   client,
		resource: resource,
		hold:     hold,
		log:      log,
		done:     make(chan struct{}),
	}
}

// Run starts the acquire/hold/release loop in a new goroutine. It
// stops once ctx is cancelled: an Acquire already in progress runs to
// its grant, and a hold in progress is cut short and its lock released
// before the loop exits.
func (g *Generator) Run(ctx context.Context) {
	go g.loop(ctx)
}

// Done returns a channel closed once the loop goroutine has exited.
func (g *Generator) Done() <-chan struct{} {
	return g.done
}

func (g *Generator) loop(ctx context.Context) {
	defer close(g.done)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		g.log.Debugf("loadgen: acquiring %s", g.resource)
		id := g.client.Acquire(g.resource, locktable.ModeConcurrentRead)
		g.log.Infof("loadgen: entered critical section for %s", g.resource)

		select {
		case <-time.After(g.hold):
		case <-ctx.Done():
			_ = g.client.Release(id)
			return
		}

		g.log.Infof("loadgen: leaving critical section for %s", g.resource)
		if err := g.client.Release(id); err != nil {
			g.log.Errorf("loadgen: release failed: %v", err)
		}
	}
}
