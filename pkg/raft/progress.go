package raft

import "sort"

// Progress tracks one peer's replication state on the leader: what to
// send next, what's known durable on the peer, and the pipeline mode
// it's currently in.
type Progress struct {
	NextIndex  Index
	MatchIndex Index
	State      ProgressState

	// LastSendTime / LastRecvTime are clock-collaborator timestamps
	// (milliseconds since some host-chosen epoch), not wall-clock
	// reads taken by the core itself.
	LastSendTime int64
	LastRecvTime int64

	// SnapshotIndex/SnapshotOffset are meaningful only in StateSnapshot.
	// SnapshotOffset is an opaque, monotonically increasing chunk
	// counter, not a byte offset; the storage collaborator defines
	// what a "chunk" is.
	SnapshotIndex  Index
	SnapshotOffset uint64
	AwaitingChunk  bool
}

// NewProgress returns the initial progress for a freshly (re)elected
// leader's view of a peer: optimistic next-index, starting in PROBE.
func NewProgress(lastIndex Index) Progress {
	return Progress{
		NextIndex: lastIndex + 1,
		State:     StateProbe,
	}
}

// ProgressTracker owns one Progress per peer, keyed by server id. The
// leader (consensus state) owns this by value; peers are addressed by
// id, never by back-pointer, to avoid a cyclic-ownership problem.
type ProgressTracker struct {
	peers map[string]*Progress
}

// NewProgressTracker returns an empty tracker.
func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{peers: make(map[string]*Progress)}
}

// Reset replaces the tracked peer set, e.g. on election win or
// configuration change. Peers already tracked keep their state;
// peers newly added start fresh at lastIndex+1.
func (t *ProgressTracker) Reset(ids []string, lastIndex Index) {
	next := make(map[string]*Progress, len(ids))
	for _, id := range ids {
		if p, ok := t.peers[id]; ok {
			next[id] = p
			continue
		}
		p := NewProgress(lastIndex)
		next[id] = &p
	}
	t.peers = next
}

// Get returns the progress for a peer, or nil if untracked.
func (t *ProgressTracker) Get(id string) *Progress { return t.peers[id] }

// Ensure returns the progress for a peer, creating it if absent.
func (t *ProgressTracker) Ensure(id string, lastIndex Index) *Progress {
	if p, ok := t.peers[id]; ok {
		return p
	}
	p := NewProgress(lastIndex)
	t.peers[id] = &p
	return t.peers[id]
}

// Remove drops a peer, e.g. once it leaves the configuration.
func (t *ProgressTracker) Remove(id string) { delete(t.peers, id) }

// IDs returns the tracked peer ids in sorted order, so callers that
// fan a task out per peer (SEND_MESSAGE in particular) emit it in a
// stable order rather than Go's randomized map iteration order.
func (t *ProgressTracker) IDs() []string {
	ids := make([]string, 0, len(t.peers))
	for id := range t.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MatchIndexes returns the id→match_index map, used by the commit rule.
func (t *ProgressTracker) MatchIndexes(self string, selfMatch Index) map[string]Index {
	out := make(map[string]Index, len(t.peers)+1)
	out[self] = selfMatch
	for id, p := range t.peers {
		out[id] = p.MatchIndex
	}
	return out
}

// OnAppendSuccess records a successful AppendEntriesResult: advances
// match/next-index and promotes PROBE→PIPELINE.
func (p *Progress) OnAppendSuccess(matchIndex Index) {
	if matchIndex > p.MatchIndex {
		p.MatchIndex = matchIndex
	}
	if p.NextIndex < matchIndex+1 {
		p.NextIndex = matchIndex + 1
	}
	if p.State == StateProbe {
		p.State = StatePipeline
	}
}

// OnAppendReject records a rejected AppendEntriesResult, using the
// follower's conflict hint to decrement NextIndex in one step per
// conflicting term ("Log matching on followers"), and
// demotes PIPELINE→PROBE.
func (p *Progress) OnAppendReject(conflictIndex Index, conflictTerm Term, log *Log) {
	p.State = StateProbe
	if conflictTerm == 0 {
		if conflictIndex > 0 {
			p.NextIndex = conflictIndex
		}
		return
	}
	// Find the last entry in our own log with term == conflictTerm;
	// if we have none, back off to the follower's conflict_index.
	next := conflictIndex
	for idx := p.NextIndex - 1; idx > 0; idx-- {
		t := log.TermOf(idx)
		if t == conflictTerm {
			next = idx + 1
			break
		}
		if t < conflictTerm {
			break
		}
	}
	if next == 0 {
		next = 1
	}
	p.NextIndex = next
}

// MaybeBecomeSnapshot transitions PROBE→SNAPSHOT once the leader can
// no longer satisfy NextIndex from its retained log tail.
// compactedThrough is the window's compaction point; snapshotIndex is
// the durable snapshot the peer will be sent, which may sit further
// ahead when a trailing tail is retained.
func (p *Progress) MaybeBecomeSnapshot(compactedThrough, snapshotIndex Index) {
	if p.State != StateSnapshot && p.NextIndex <= compactedThrough {
		p.State = StateSnapshot
		p.SnapshotIndex = snapshotIndex
		p.SnapshotOffset = 0
		p.AwaitingChunk = false
	}
}

// OnSnapshotAck records the follower's acknowledgement of the final
// snapshot chunk: it returns to PROBE with MatchIndex at the snapshot
// and NextIndex just past it. SnapshotOffset is not touched here.
func (p *Progress) OnSnapshotAck(lastIndex Index) {
	p.State = StateProbe
	p.NextIndex = lastIndex + 1
	p.MatchIndex = lastIndex
	p.AwaitingChunk = false
}
