package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

type stubStats struct {
	leader   bool
	peers    int
	lastLog  uint64
	commit   uint64
	applied  uint64
	snapshot uint64
	term     uint64
}

func (s stubStats) IsLeader() bool        { return s.leader }
func (s stubStats) PeerCount() int        { return s.peers }
func (s stubStats) LastLogIndex() uint64  { return s.lastLog }
func (s stubStats) CommitIndex() uint64   { return s.commit }
func (s stubStats) AppliedIndex() uint64  { return s.applied }
func (s stubStats) SnapshotIndex() uint64 { return s.snapshot }
func (s stubStats) Term() uint64          { return s.term }

func TestCollectorSamplesStats(t *testing.T) {
	c := NewCollector(stubStats{
		leader: true, peers: 3, lastLog: 12, commit: 10, applied: 9, snapshot: 5, term: 4,
	})
	c.collect()

	assert.Equal(t, float64(2), testutil.ToFloat64(RaftRole))
	assert.Equal(t, float64(4), testutil.ToFloat64(RaftTerm))
	assert.Equal(t, float64(3), testutil.ToFloat64(RaftPeers))
	assert.Equal(t, float64(12), testutil.ToFloat64(RaftLogIndex))
	assert.Equal(t, float64(10), testutil.ToFloat64(RaftCommitIndex))
	assert.Equal(t, float64(9), testutil.ToFloat64(RaftAppliedIndex))
	assert.Equal(t, float64(5), testutil.ToFloat64(RaftSnapshotIndex))
}

func TestCollectorStartStop(t *testing.T) {
	c := NewCollector(stubStats{term: 7})
	c.Start(10 * time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	c.Stop()
	assert.Equal(t, float64(7), testutil.ToFloat64(RaftTerm))
}
