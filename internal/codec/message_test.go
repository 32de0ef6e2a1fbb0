package codec

import (
	"testing"

	"github.com/jabolina/dlmd/internal/locktable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_RoundTripKeepalive(t *testing.T) {
	m := NewKeepalive("node-a")
	buf, err := Encode(m)
	require.NoError(t, err)

	got, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestCodec_RoundTripRequest(t *testing.T) {
	m := NewRequest("node-a", "resource-1", 42, locktable.ModeExclusive, 167772161)
	buf, err := Encode(m)
	require.NoError(t, err)

	got, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestCodec_RoundTripReply(t *testing.T) {
	m := NewReply("node-b", "resource-1", 42, locktable.ModeExclusive)
	buf, err := Encode(m)
	require.NoError(t, err)

	got, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestCodec_RoundTripUnlock(t *testing.T) {
	m := NewUnlock("node-a", "resource-1", 43, locktable.ModeExclusive)
	buf, err := Encode(m)
	require.NoError(t, err)

	got, err := Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestCodec_EncodeRejectsMissingType(t *testing.T) {
	_, err := Encode(Message{NodeName: "node-a"})
	assert.Error(t, err)
}

func TestCodec_DecodeRejectsMissingNodeName(t *testing.T) {
	_, err := Decode([]byte(`{"type":"keepalive"}`))
	assert.Error(t, err)
}

func TestCodec_DecodeRejectsRequestMissingResource(t *testing.T) {
	_, err := Decode([]byte(`{"type":"request","node_name":"node-a","id":1}`))
	assert.Error(t, err)
}

func TestCodec_DecodeRejectsRequestMissingID(t *testing.T) {
	_, err := Decode([]byte(`{"type":"request","node_name":"node-a","resource":"r1"}`))
	assert.Error(t, err)
}

func TestCodec_DecodeRejectsUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"bogus","node_name":"node-a"}`))
	assert.Error(t, err)
}

func TestCodec_DecodeRejectsMalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	assert.Error(t, err)
}
