package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestElectionTrackerWinsOnQuorum(t *testing.T) {
	cfg := threeVoterConfig()
	e := NewElectionTracker(1, false)
	e.Record("a", true)
	e.Record("b", true)

	won, lost := e.Outcome(cfg)
	assert.True(t, won)
	assert.False(t, lost)
}

func TestElectionTrackerStillWaitingWithVotesOutstanding(t *testing.T) {
	cfg := threeVoterConfig()
	e := NewElectionTracker(1, false)
	e.Record("a", true)
	// b and c haven't responded yet: quorum still reachable.
	won, lost := e.Outcome(cfg)
	assert.False(t, won)
	assert.False(t, lost)
}

func TestElectionTrackerLosesWhenQuorumUnreachable(t *testing.T) {
	cfg := threeVoterConfig()
	e := NewElectionTracker(1, false)
	e.Record("a", true)
	e.Record("b", false)
	e.Record("c", false)

	won, lost := e.Outcome(cfg)
	assert.False(t, won)
	assert.True(t, lost)
}

func TestElectionTrackerLosesEarlyOnceMajorityRejects(t *testing.T) {
	// 5-voter cluster: self grants, two reject. Two voters haven't
	// responded yet; if both still granted, that's 3 of 5, so quorum
	// remains reachable at this point.
	cfg := NewConfiguration([]Server{
		{ID: "a", Role: RoleVoter}, {ID: "b", Role: RoleVoter}, {ID: "c", Role: RoleVoter},
		{ID: "d", Role: RoleVoter}, {ID: "e", Role: RoleVoter},
	})
	e := NewElectionTracker(1, false)
	e.Record("a", true)
	e.Record("b", false)
	e.Record("c", false)
	won, lost := e.Outcome(cfg)
	assert.False(t, won)
	assert.False(t, lost)

	// Once d also rejects, only e remains and a+e is 2 of 5: quorum
	// (3) is no longer reachable.
	e.Record("d", false)
	won, lost = e.Outcome(cfg)
	assert.False(t, won)
	assert.True(t, lost)
}
