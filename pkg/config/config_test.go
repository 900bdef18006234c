package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "raftd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
nodeId: node-1
bindAddr: 127.0.0.1:7000
`))
	require.NoError(t, err)

	assert.Equal(t, "node-1", cfg.NodeID)
	assert.Equal(t, DefaultTickIntervalMS, cfg.TickIntervalMS)
	assert.Equal(t, DefaultElectionTimeoutMS, cfg.ElectionTimeoutMS)
	assert.Equal(t, DefaultHeartbeatTimeoutMS, cfg.HeartbeatTimeoutMS)
	assert.Equal(t, DefaultTrailingEntries, cfg.TrailingEntries)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.NotEmpty(t, cfg.ClusterID)
}

func TestLoadFullConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
nodeId: node-1
bindAddr: 127.0.0.1:7000
dataDir: /var/lib/raftd
bootstrap: true
electionTimeoutMs: 2000
heartbeatTimeoutMs: 200
tickIntervalMs: 50
trailingEntries: 1024
preVote: true
peers:
  - id: node-2
    address: 127.0.0.1:7001
  - id: node-3
    address: 127.0.0.1:7002
    role: standby
`))
	require.NoError(t, err)

	assert.True(t, cfg.Bootstrap)
	assert.True(t, cfg.PreVote)
	require.Len(t, cfg.Peers, 2)
	assert.Equal(t, "standby", cfg.Peers[1].Role)

	assert.Equal(t, 40, cfg.ElectionTicks())
	assert.Equal(t, 4, cfg.HeartbeatTicks())
	assert.Equal(t, 50*time.Millisecond, cfg.TickInterval())
}

func TestLoadRejectsMissingNodeID(t *testing.T) {
	_, err := Load(writeConfig(t, `
bindAddr: 127.0.0.1:7000
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nodeId")
}

func TestLoadRejectsElectionNotExceedingHeartbeat(t *testing.T) {
	_, err := Load(writeConfig(t, `
nodeId: node-1
bindAddr: 127.0.0.1:7000
electionTimeoutMs: 100
heartbeatTimeoutMs: 100
`))
	require.Error(t, err)
}

func TestLoadRejectsDuplicatePeers(t *testing.T) {
	_, err := Load(writeConfig(t, `
nodeId: node-1
bindAddr: 127.0.0.1:7000
peers:
  - id: node-2
    address: 127.0.0.1:7001
  - id: node-2
    address: 127.0.0.1:7002
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestTicksNeverBelowOne(t *testing.T) {
	c := &Config{TickIntervalMS: 100, ElectionTimeoutMS: 30}
	assert.Equal(t, 1, c.ElectionTicks())
}
