package transport

import (
	"net"
	"testing"
	"time"

	"github.com/jabolina/dlmd/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func localAddr(t *testing.T) *net.UDPAddr {
	t.Helper()
	addr, err := net.ResolveUDPAddr("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	return addr
}

func TestUDPTransport_SendAndReceiveRoundTrip(t *testing.T) {
	log := logging.New(false)

	a, err := Listen(localAddr(t), log)
	require.NoError(t, err)
	defer a.Close()

	b, err := Listen(localAddr(t), log)
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.SendTo(b.LocalAddr(), []byte("hello")))

	select {
	case dg := <-b.Datagrams():
		assert.Equal(t, "hello", string(dg.Payload))
		assert.Equal(t, a.LocalAddr().Port, dg.From.Port)
	case <-time.After(2 * time.Second):
		t.Fatal("expected datagram was never received")
	}
}

func TestUDPTransport_SendRejectsOversizedPayload(t *testing.T) {
	log := logging.New(false)
	a, err := Listen(localAddr(t), log)
	require.NoError(t, err)
	defer a.Close()

	oversized := make([]byte, maxDatagramSize+1)
	err = a.SendTo(a.LocalAddr(), oversized)
	assert.Error(t, err)
}

func TestUDPTransport_CloseStopsDatagramChannel(t *testing.T) {
	log := logging.New(false)
	a, err := Listen(localAddr(t), log)
	require.NoError(t, err)

	require.NoError(t, a.Close())

	select {
	case _, ok := <-a.Datagrams():
		assert.False(t, ok, "datagram channel should be closed after Close")
	case <-time.After(2 * time.Second):
		t.Fatal("datagram channel should close promptly after Close")
	}
}
