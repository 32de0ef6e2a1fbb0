package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
local_name: node-a
local_address: 127.0.0.1
local_port: 9000
heartbeat_interval_ms: 500
nodes:
  - name: node-a
    address: 127.0.0.1
    port: 9000
  - name: node-b
    address: 127.0.0.1
    port: 9001
`

func writeTemp(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "dlmd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestConfig_LoadValidDescriptor(t *testing.T) {
	path := writeTemp(t, validYAML)
	d, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "node-a", d.LocalName)
	assert.Equal(t, 9000, d.LocalPort)
	assert.Len(t, d.Nodes, 2)
	assert.Equal(t, 500, d.HeartbeatIntervalMS)
}

func TestConfig_DefaultsHeartbeatIntervalWhenUnset(t *testing.T) {
	path := writeTemp(t, `
local_name: node-a
local_address: 127.0.0.1
local_port: 9000
nodes:
  - name: node-a
    address: 127.0.0.1
    port: 9000
`)
	d, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1000, d.HeartbeatIntervalMS)
}

func TestConfig_RejectsMissingLocalName(t *testing.T) {
	path := writeTemp(t, `
local_address: 127.0.0.1
local_port: 9000
nodes:
  - name: node-a
    address: 127.0.0.1
    port: 9000
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestConfig_RejectsInvalidAddress(t *testing.T) {
	path := writeTemp(t, `
local_name: node-a
local_address: not-an-ip
local_port: 9000
nodes:
  - name: node-a
    address: 127.0.0.1
    port: 9000
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestConfig_RejectsEmptyNodeList(t *testing.T) {
	path := writeTemp(t, `
local_name: node-a
local_address: 127.0.0.1
local_port: 9000
nodes: []
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestConfig_RejectsMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/dlmd.yaml")
	assert.Error(t, err)
}
