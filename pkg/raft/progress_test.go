package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProgressOnAppendSuccessPromotesToPipeline(t *testing.T) {
	p := NewProgress(10)
	assert.Equal(t, StateProbe, p.State)

	p.OnAppendSuccess(5)
	assert.Equal(t, Index(5), p.MatchIndex)
	assert.Equal(t, Index(6), p.NextIndex)
	assert.Equal(t, StatePipeline, p.State)
}

func TestProgressOnAppendRejectBacksOffOneTerm(t *testing.T) {
	l := NewLog()
	l.Append(Entry{Term: 1, Index: 1})
	l.Append(Entry{Term: 1, Index: 2})
	l.Append(Entry{Term: 2, Index: 3})

	p := NewProgress(3)
	p.NextIndex = 4
	p.State = StatePipeline

	p.OnAppendReject(3, 2, l)
	assert.Equal(t, StateProbe, p.State)
	// The follower conflicts at term 2; our own last term-2 entry is at
	// index 3, so retry one past it.
	assert.Equal(t, Index(4), p.NextIndex)
}

func TestProgressOnAppendRejectNoConflictTermBacksOffToHint(t *testing.T) {
	p := NewProgress(10)
	p.NextIndex = 8
	l := NewLog()
	p.OnAppendReject(4, 0, l)
	assert.Equal(t, Index(4), p.NextIndex)
}

func TestProgressMaybeBecomeSnapshot(t *testing.T) {
	p := NewProgress(10)
	p.NextIndex = 3
	p.MaybeBecomeSnapshot(5, 8)
	assert.Equal(t, StateSnapshot, p.State)
	assert.Equal(t, Index(8), p.SnapshotIndex)
	assert.False(t, p.AwaitingChunk)
}

func TestProgressMaybeBecomeSnapshotServedFromTrailingTail(t *testing.T) {
	// NextIndex sits past the compaction point: the retained tail can
	// still serve this peer, no snapshot needed.
	p := NewProgress(10)
	p.NextIndex = 6
	p.MaybeBecomeSnapshot(5, 8)
	assert.Equal(t, StateProbe, p.State)
}

func TestProgressOnSnapshotAckReturnsToProbe(t *testing.T) {
	p := NewProgress(10)
	p.MaybeBecomeSnapshot(5, 5)
	p.AwaitingChunk = true

	p.OnSnapshotAck(5)
	assert.Equal(t, StateProbe, p.State)
	assert.Equal(t, Index(6), p.NextIndex)
	assert.Equal(t, Index(5), p.MatchIndex)
	assert.False(t, p.AwaitingChunk)
}

func TestProgressTrackerResetPreservesExistingPeers(t *testing.T) {
	tr := NewProgressTracker()
	p := tr.Ensure("a", 10)
	p.MatchIndex = 7

	tr.Reset([]string{"a", "b"}, 10)
	assert.Equal(t, Index(7), tr.Get("a").MatchIndex)
	assert.Equal(t, Index(0), tr.Get("b").MatchIndex)
	assert.Equal(t, Index(11), tr.Get("b").NextIndex)
}

func TestProgressTrackerMatchIndexesIncludesSelf(t *testing.T) {
	tr := NewProgressTracker()
	tr.Ensure("a", 0).MatchIndex = 3
	matches := tr.MatchIndexes("self", 9)
	assert.Equal(t, Index(9), matches["self"])
	assert.Equal(t, Index(3), matches["a"])
}
