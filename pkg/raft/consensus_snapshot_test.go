package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// submitAndCommit pushes one command through the reachable part of the
// cluster and returns the completions drive observed.
func submitAndCommit(nodes map[string]*Consensus, leader, id string, payload []byte) []Task {
	initial := nodes[leader].Step(Event{Kind: EventSubmit, Submit: &ClientRequest{
		Kind: RequestApply, ID: id, Payload: payload,
	}})
	return drive(nodes, map[string][]Task{leader: initial})
}

func TestSnapshotTakenCompactsButKeepsTrailingWindow(t *testing.T) {
	nodes := map[string]*Consensus{}
	full := newTestCluster([]string{"a", "b", "c"}, 5, 3)
	// Only a and b are reachable; c lags at index 0 throughout.
	nodes["a"], nodes["b"] = full["a"], full["b"]
	electTestLeader(t, nodes, "a", 5)

	// Index 1 is the election no-op, the five commands land at 2..6.
	for i := 0; i < 5; i++ {
		submitAndCommit(nodes, "a", "req", []byte{byte(i)})
	}
	require.Equal(t, Index(6), nodes["a"].LastApplied())
	nodes["a"].cfg.TrailingEntries = 2

	// The tick path notices lastApplied has outrun the trailing window
	// and asks the FSM for a snapshot, exactly once while in flight.
	tasks := nodes["a"].Step(Event{Kind: EventTick, ElapsedMS: 10})
	var take *Task
	for i := range tasks {
		if tasks[i].Kind == TaskTakeSnapshot {
			take = &tasks[i]
		}
	}
	require.NotNil(t, take)
	assert.Equal(t, Index(6), take.SnapshotIndex)

	again := nodes["a"].Step(Event{Kind: EventTick, ElapsedMS: 10})
	for _, tk := range again {
		assert.NotEqual(t, TaskTakeSnapshot, tk.Kind)
	}

	out := nodes["a"].Step(Event{Kind: EventSnapshotTaken, TakenIndex: 6, TakenTerm: 1, TakenStatus: StatusOK})
	var release *Task
	for i := range out {
		if out[i].Kind == TaskReleaseEntries {
			release = &out[i]
		}
	}
	require.NotNil(t, release)
	assert.Equal(t, Index(1), release.FirstIndex)
	assert.Equal(t, Index(4), release.LastIndex)

	// The window compacts to 4, keeping entries 5 and 6 so a peer at
	// next_index 5 or 6 is still served from the log.
	assert.Equal(t, Index(4), nodes["a"].log.SnapshotLastIndex())
	_, ok := nodes["a"].log.Get(5)
	assert.True(t, ok)
	_, ok = nodes["a"].log.Get(6)
	assert.True(t, ok)
}

func TestLaggingFollowerIsCaughtUpViaSnapshotStream(t *testing.T) {
	full := newTestCluster([]string{"a", "b", "c"}, 5, 3)
	nodes := map[string]*Consensus{"a": full["a"], "b": full["b"]}
	electTestLeader(t, nodes, "a", 5)

	for i := 0; i < 5; i++ {
		submitAndCommit(nodes, "a", "req", []byte{byte(i)})
	}
	nodes["a"].cfg.TrailingEntries = 2
	nodes["a"].Step(Event{Kind: EventTick, ElapsedMS: 10})
	nodes["a"].Step(Event{Kind: EventSnapshotTaken, TakenIndex: 6, TakenTerm: 1, TakenStatus: StatusOK})

	// c comes back. Its next_index (1) is below the leader's compaction
	// point (4), so the next heartbeat flips it to SNAPSHOT and asks
	// storage for the first chunk of the snapshot at index 6.
	nodes["c"] = full["c"]
	var load *Task
	for i := 0; i < 3 && load == nil; i++ {
		for _, tk := range nodes["a"].Step(Event{Kind: EventTick, ElapsedMS: 10}) {
			if tk.Kind == TaskLoadSnapshot {
				load = &Task{Kind: tk.Kind, SnapshotIndex: tk.SnapshotIndex, Offset: tk.Offset}
			}
		}
	}
	require.NotNil(t, load)
	assert.Equal(t, Index(6), load.SnapshotIndex)
	assert.Equal(t, uint64(0), load.Offset)

	// Chunk 0 loads; the leader streams it to c, which hands it to its
	// own storage.
	out := nodes["a"].Step(Event{Kind: EventLoadedSnapshot, LoadedIndex: 6, LoadedOffset: 0, LoadedChunk: []byte("chunk0"), LoadedStatus: StatusOK})
	require.Len(t, out, 1)
	require.Equal(t, TaskSendMessage, out[0].Kind)
	require.Equal(t, "c", out[0].To)
	inst := out[0].Message.InstallSnapshot
	require.NotNil(t, inst)
	assert.Equal(t, Index(6), inst.LastIndex)
	assert.Equal(t, Term(1), inst.LastTerm)
	assert.False(t, inst.IsLast)

	// c has never heard from the term-1 leader, so the first chunk also
	// moves it to term 1 and the term/vote write comes first.
	cOut := nodes["c"].Step(Event{Kind: EventReceive, From: "a", Message: out[0].Message})
	require.Len(t, cOut, 2)
	assert.Equal(t, TaskPersistTermAndVote, cOut[0].Kind)
	assert.Equal(t, TaskPersistSnapshot, cOut[1].Kind)
	nodes["c"].Step(Event{Kind: EventPersistedSnapshot, PersistedSnapshotIndex: 6, PersistedSnapshotStatus: StatusOK})

	// The next heartbeat requests chunk 1; it is the final one.
	var load2 *Task
	for i := 0; i < 3 && load2 == nil; i++ {
		for _, tk := range nodes["a"].Step(Event{Kind: EventTick, ElapsedMS: 10}) {
			if tk.Kind == TaskLoadSnapshot {
				load2 = &Task{Kind: tk.Kind, Offset: tk.Offset}
			}
		}
	}
	require.NotNil(t, load2)
	assert.Equal(t, uint64(1), load2.Offset)

	out = nodes["a"].Step(Event{Kind: EventLoadedSnapshot, LoadedIndex: 6, LoadedOffset: 1, LoadedChunk: []byte("chunk1"), LoadedLast: true, LoadedStatus: StatusOK})
	require.Len(t, out, 1)
	cOut = nodes["c"].Step(Event{Kind: EventReceive, From: "a", Message: out[0].Message})
	require.Len(t, cOut, 1)
	require.Equal(t, TaskPersistSnapshot, cOut[0].Kind)

	// Final chunk durable: c discards its log, restores the FSM, and
	// acknowledges back to the leader.
	cOut = nodes["c"].Step(Event{Kind: EventPersistedSnapshot, PersistedSnapshotIndex: 6, PersistedSnapshotStatus: StatusOK})
	var restore, ack *Task
	for i := range cOut {
		switch cOut[i].Kind {
		case TaskRestoreSnapshot:
			restore = &cOut[i]
		case TaskSendMessage:
			ack = &cOut[i]
		}
	}
	require.NotNil(t, restore)
	assert.Equal(t, Index(6), restore.SnapshotIndex)
	assert.Equal(t, Index(6), nodes["c"].CommitIndex())
	assert.Equal(t, Index(6), nodes["c"].LastApplied())
	assert.Equal(t, Index(6), nodes["c"].log.SnapshotLastIndex())

	require.NotNil(t, ack)
	require.NotNil(t, ack.Message.InstallSnapshotResult)
	nodes["a"].Step(Event{Kind: EventReceive, From: "c", Message: ack.Message})
	p := nodes["a"].progress.Get("c")
	require.NotNil(t, p)
	assert.Equal(t, StateProbe, p.State)
	assert.Equal(t, Index(7), p.NextIndex)
	assert.Equal(t, Index(6), p.MatchIndex)

	// Replication resumes at 101-analog: the next command lands on c as
	// a normal AppendEntries after the snapshot boundary.
	for i := 0; i < 3; i++ {
		heartbeat := nodes["a"].Step(Event{Kind: EventTick, ElapsedMS: 10})
		drive(nodes, map[string][]Task{"a": heartbeat})
	}
	submitAndCommit(nodes, "a", "after-snapshot", []byte("y"))
	assert.Equal(t, Index(7), nodes["c"].log.LastIndex())
}
