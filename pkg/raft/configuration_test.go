package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threeVoterConfig() Configuration {
	return NewConfiguration([]Server{
		{ID: "a", Address: "a:1", Role: RoleVoter},
		{ID: "b", Address: "b:1", Role: RoleVoter},
		{ID: "c", Address: "c:1", Role: RoleVoter},
	})
}

func TestConfigurationQuorum(t *testing.T) {
	cfg := threeVoterConfig()
	assert.False(t, cfg.HasQuorum(map[string]bool{"a": true}))
	assert.True(t, cfg.HasQuorum(map[string]bool{"a": true, "b": true}))
}

func TestConfigurationJointQuorumNeedsBothHalves(t *testing.T) {
	cfg := Configuration{
		Servers: []Server{
			{ID: "a", Role: RoleVoter},
			{ID: "b", Role: RoleVoter},
			{ID: "d", Role: RoleVoter},
			{ID: "e", Role: RoleVoter},
		},
		Joint: true,
		Old: []Server{
			{ID: "a", Role: RoleVoter},
			{ID: "b", Role: RoleVoter},
			{ID: "c", Role: RoleVoter},
		},
	}
	// Two of the four new voters (d, e) is a quorum of neither half.
	assert.False(t, cfg.HasQuorum(map[string]bool{"d": true, "e": true}))
	// Quorum of the new half, but not the old half (only "a" out of a/b/c).
	assert.False(t, cfg.HasQuorum(map[string]bool{"a": true, "d": true, "e": true}))
	// Quorum of both halves satisfies joint consensus.
	assert.True(t, cfg.HasQuorum(map[string]bool{"a": true, "b": true, "d": true, "e": true}))
}

func TestConfigurationVotersExcludesNonVoters(t *testing.T) {
	cfg := NewConfiguration([]Server{
		{ID: "a", Role: RoleVoter},
		{ID: "b", Role: RoleStandby},
		{ID: "c", Role: RoleSpare},
	})
	assert.ElementsMatch(t, []string{"a"}, cfg.Voters())
}

func TestEncodeDecodeConfigurationRoundTrips(t *testing.T) {
	cfg := threeVoterConfig()
	payload := EncodeConfiguration(cfg)

	decoded, err := DecodeConfiguration(payload)
	require.NoError(t, err)
	assert.Equal(t, cfg.Servers, decoded.Servers)
	assert.Equal(t, cfg.Joint, decoded.Joint)
}

func TestDecodeConfigurationRejectsGarbage(t *testing.T) {
	_, err := DecodeConfiguration([]byte("not json"))
	assert.Error(t, err)
}
