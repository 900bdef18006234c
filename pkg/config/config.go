// Package config parses the YAML node/cluster configuration file a
// raftd process starts from: read the file, unmarshal with
// gopkg.in/yaml.v3, validate, done.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Peer is one other server in the cluster, as seen from this node's
// config file.
type Peer struct {
	ID      string `yaml:"id"`
	Address string `yaml:"address"`
	Role    string `yaml:"role,omitempty"` // "voter" (default), "standby", "spare"
}

// Config is the on-disk shape of a raftd node's configuration file.
type Config struct {
	NodeID   string `yaml:"nodeId"`
	BindAddr string `yaml:"bindAddr"`
	DataDir  string `yaml:"dataDir"`

	Peers []Peer `yaml:"peers,omitempty"`

	// Bootstrap marks this node as the one that originates a brand
	// new single-node cluster; every other node joins it later via
	// a CHANGE request.
	Bootstrap bool `yaml:"bootstrap,omitempty"`

	ElectionTimeoutMS  int `yaml:"electionTimeoutMs,omitempty"`
	HeartbeatTimeoutMS int `yaml:"heartbeatTimeoutMs,omitempty"`
	TransferTimeoutMS  int `yaml:"transferTimeoutMs,omitempty"`
	TickIntervalMS     int `yaml:"tickIntervalMs,omitempty"`
	TrailingEntries    int `yaml:"trailingEntries,omitempty"`
	PreVote            bool `yaml:"preVote,omitempty"`

	MetricsAddr string `yaml:"metricsAddr,omitempty"`
	APIAddr     string `yaml:"apiAddr,omitempty"`

	// ClusterID seeds the shared AES key every node derives to encrypt
	// its copy of the cluster CA's root key at rest
	// (pkg/security.DeriveKeyFromClusterID).
	ClusterID string `yaml:"clusterId,omitempty"`

	// InsecureDisableMTLS skips the mTLS CA machinery entirely, for
	// loopback development and the scenario tests; production configs
	// should never set this.
	InsecureDisableMTLS bool `yaml:"insecureDisableMTLS,omitempty"`

	LogLevel string `yaml:"logLevel,omitempty"`
	LogJSON  bool   `yaml:"logJson,omitempty"`
}

// Defaults for the clock collaborator's tick granularity, commonly
// around 100ms, and the tick-count knobs raft.Config is derived from.
const (
	DefaultTickIntervalMS     = 100
	DefaultElectionTimeoutMS  = 1000
	DefaultHeartbeatTimeoutMS = 100
	DefaultTransferTimeoutMS  = 2000
	DefaultTrailingEntries    = 8192
)

// Load reads and validates a node configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.TickIntervalMS == 0 {
		c.TickIntervalMS = DefaultTickIntervalMS
	}
	if c.ElectionTimeoutMS == 0 {
		c.ElectionTimeoutMS = DefaultElectionTimeoutMS
	}
	if c.HeartbeatTimeoutMS == 0 {
		c.HeartbeatTimeoutMS = DefaultHeartbeatTimeoutMS
	}
	if c.TransferTimeoutMS == 0 {
		c.TransferTimeoutMS = DefaultTransferTimeoutMS
	}
	if c.TrailingEntries == 0 {
		c.TrailingEntries = DefaultTrailingEntries
	}
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = "127.0.0.1:9090"
	}
	if c.APIAddr == "" {
		c.APIAddr = "127.0.0.1:9091"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ClusterID == "" {
		c.ClusterID = "raftcore-default-cluster"
	}
}

// Validate rejects configs that can never start a node.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("nodeId is required")
	}
	if c.BindAddr == "" {
		return fmt.Errorf("bindAddr is required")
	}
	if c.ElectionTimeoutMS <= c.HeartbeatTimeoutMS {
		return fmt.Errorf("electionTimeoutMs (%d) must exceed heartbeatTimeoutMs (%d)", c.ElectionTimeoutMS, c.HeartbeatTimeoutMS)
	}
	seen := make(map[string]bool, len(c.Peers))
	for _, p := range c.Peers {
		if p.ID == "" || p.Address == "" {
			return fmt.Errorf("peer entries require id and address")
		}
		if seen[p.ID] {
			return fmt.Errorf("duplicate peer id %q", p.ID)
		}
		seen[p.ID] = true
	}
	return nil
}

// ElectionTicks converts the millisecond timeout into the tick count
// raft.Config expects, given this config's tick granularity.
func (c *Config) ElectionTicks() int { return ticks(c.ElectionTimeoutMS, c.TickIntervalMS) }

// HeartbeatTicks is the heartbeat analogue of ElectionTicks.
func (c *Config) HeartbeatTicks() int { return ticks(c.HeartbeatTimeoutMS, c.TickIntervalMS) }

// TransferTicks is the leadership-transfer analogue of ElectionTicks.
func (c *Config) TransferTicks() int { return ticks(c.TransferTimeoutMS, c.TickIntervalMS) }

// TickInterval is the clock collaborator's granularity as a
// time.Duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.TickIntervalMS) * time.Millisecond
}

func ticks(timeoutMS, intervalMS int) int {
	if intervalMS <= 0 {
		intervalMS = DefaultTickIntervalMS
	}
	n := timeoutMS / intervalMS
	if n < 1 {
		n = 1
	}
	return n
}
