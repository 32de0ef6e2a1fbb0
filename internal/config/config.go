// Package config loads the on-disk cluster descriptor: the local
// node's own identity plus the full static peer list, read once at
// startup and never reloaded.
//
// Field names keep the traditional dlmd.conf directive names
// (local_name, local_address, ...) rather than adopting
// Go-casing-only tags, so an operator migrating an existing
// descriptor file can reuse its key names verbatim.
package config

import (
	"fmt"
	"net"

	"github.com/spf13/viper"
)

// NodeDescriptor describes one member of the cluster as listed in the
// descriptor file's `nodes` array.
type NodeDescriptor struct {
	Name    string `mapstructure:"name"`
	Address string `mapstructure:"address"`
	Port    int    `mapstructure:"port"`
	Netmask string `mapstructure:"netmask"`
}

// Descriptor is the full decoded configuration file.
type Descriptor struct {
	LocalName    string           `mapstructure:"local_name"`
	LocalAddress string           `mapstructure:"local_address"`
	LocalPort    int              `mapstructure:"local_port"`
	Nodes        []NodeDescriptor `mapstructure:"nodes"`

	// HeartbeatIntervalMS is the period, in milliseconds, between
	// keepalive broadcasts. Defaults to 1000 when unset or zero.
	HeartbeatIntervalMS int `mapstructure:"heartbeat_interval_ms"`

	// MetricsAddress, if set, is the address the Prometheus HTTP
	// handler binds to (an ambient concern the original descriptor
	// format has no equivalent directive for).
	MetricsAddress string `mapstructure:"metrics_address"`
}

// Load reads and validates the descriptor at path. Any failure here
// is fatal at startup; there is no partial or default configuration
// to fall back to.
func Load(path string) (*Descriptor, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	var d Descriptor
	if err := v.Unmarshal(&d); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	if d.HeartbeatIntervalMS == 0 {
		d.HeartbeatIntervalMS = 1000
	}
	if err := d.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &d, nil
}

func (d *Descriptor) validate() error {
	if d.LocalName == "" {
		return fmt.Errorf("missing local_name")
	}
	if net.ParseIP(d.LocalAddress) == nil {
		return fmt.Errorf("local_address %q is not a valid IP", d.LocalAddress)
	}
	if d.LocalPort <= 0 || d.LocalPort > 65535 {
		return fmt.Errorf("local_port %d out of range", d.LocalPort)
	}
	if len(d.Nodes) == 0 {
		return fmt.Errorf("nodes list is empty")
	}
	for _, n := range d.Nodes {
		if n.Name == "" {
			return fmt.Errorf("a node entry is missing name")
		}
		if net.ParseIP(n.Address) == nil {
			return fmt.Errorf("node %s: address %q is not a valid IP", n.Name, n.Address)
		}
		if n.Port <= 0 || n.Port > 65535 {
			return fmt.Errorf("node %s: port %d out of range", n.Name, n.Port)
		}
	}
	return nil
}
