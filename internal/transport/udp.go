// Package transport implements the concrete unreliable UDP datagram
// transport the cluster runs over.
//
// Peers exchange per-peer unreliable unicast datagrams with no
// delivery or ordering guarantee, so the backend is a plain
// net.UDPConn rather than a reliable group transport. See DESIGN.md
// for the full justification.
package transport

import (
	"context"
	"fmt"
	"net"

	"github.com/jabolina/dlmd/internal/logging"
)

// maxDatagramSize mirrors the codec package's ceiling; kept as an
// independent constant so transport never needs to import codec.
const maxDatagramSize = 65507

// Datagram is a received payload paired with the address it arrived
// from, since the Listener must resolve that address back to a known
// peer before dispatching.
type Datagram struct {
	From    *net.UDPAddr
	Payload []byte
}

// UDPTransport is a single bound UDP socket used for both sending and
// receiving. One instance exists per daemon process, wired into the
// Peer Registry as its Sender.
type UDPTransport struct {
	conn   *net.UDPConn
	log    logging.Logger
	out    chan Datagram
	cancel context.CancelFunc
}

// Listen binds a UDP socket at addr and starts the background receive
// loop. The returned transport satisfies registry.Sender via SendTo.
func Listen(addr *net.UDPAddr, log logging.Logger) (*UDPTransport, error) {
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen on %s: %w", addr, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &UDPTransport{
		conn:   conn,
		log:    log,
		out:    make(chan Datagram, 256),
		cancel: cancel,
	}
	go t.poll(ctx)
	return t, nil
}

// SendTo implements registry.Sender: a single best-effort unicast
// write. dlmd's own transport layer never retries a failed send,
// matching dlmd_node_unicast_msg's single sendto(2) call.
func (t *UDPTransport) SendTo(addr *net.UDPAddr, payload []byte) error {
	if len(payload) > maxDatagramSize {
		return fmt.Errorf("transport: payload of %d bytes exceeds %d byte datagram ceiling", len(payload), maxDatagramSize)
	}
	_, err := t.conn.WriteToUDP(payload, addr)
	return err
}

// Datagrams exposes the channel of received payloads, each tagged
// with its sender's address, for the Listener activity to consume.
func (t *UDPTransport) Datagrams() <-chan Datagram {
	return t.out
}

// LocalAddr returns the bound local address, used to derive the local
// peer's numeric id.
func (t *UDPTransport) LocalAddr() *net.UDPAddr {
	return t.conn.LocalAddr().(*net.UDPAddr)
}

// Close stops the receive loop and releases the socket.
func (t *UDPTransport) Close() error {
	t.cancel()
	return t.conn.Close()
}

// poll reads datagrams until the transport is closed, publishing each
// one (address plus a copy of its payload, since ReadFromUDP reuses
// its buffer) to the out channel.
func (t *UDPTransport) poll(ctx context.Context) {
	buf := make([]byte, maxDatagramSize)
	for {
		select {
		case <-ctx.Done():
			close(t.out)
			return
		default:
		}

		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				close(t.out)
				return
			default:
				t.log.Errorf("transport: read failed: %v", err)
				continue
			}
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])

		select {
		case t.out <- Datagram{From: from, Payload: payload}:
		case <-ctx.Done():
			close(t.out)
			return
		}
	}
}
