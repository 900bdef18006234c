// Package storage persists everything a raftcore node needs to survive
// a restart: the replicated log, the current term and vote, snapshot
// chunks, and the cluster CA used for peer mTLS.
package storage

import "github.com/cuemby/raftcore/pkg/raft"

// SnapshotMeta describes a stored snapshot's boundary and membership,
// independent of its (possibly chunked) payload.
type SnapshotMeta struct {
	LastIndex     raft.Index
	LastTerm      raft.Term
	Configuration raft.Configuration
}

// Store is the durability collaborator behind every TaskPersist*,
// TaskLoadSnapshot, and TaskReleaseEntries a Consensus instance emits.
// Writes are serialized by the node's single storage worker, but reads
// may also arrive from other goroutines (health probes, startup
// recovery), so implementations must be safe for concurrent readers.
type Store interface {
	// AppendEntries durably stores entries, which are dense and start
	// immediately after whatever was last appended.
	AppendEntries(entries []raft.Entry) error

	// GetEntries returns the stored entries in [from, to].
	GetEntries(from, to raft.Index) ([]raft.Entry, error)

	// ReleaseEntries drops stored entries in [first, last] now that
	// they're covered by a snapshot and no longer needed for
	// replication or crash recovery.
	ReleaseEntries(first, last raft.Index) error

	// SaveTermAndVote durably records the current term and vote.
	SaveTermAndVote(term raft.Term, votedFor string) error

	// LoadTermAndVote returns the last durably saved term and vote.
	LoadTermAndVote() (raft.Term, string, error)

	// SaveSnapshotChunk durably stores one chunk of a snapshot's byte
	// stream. meta is only meaningful on the last chunk, where it
	// finalizes the snapshot's boundary and membership.
	SaveSnapshotChunk(offset uint64, data []byte, isLast bool, meta SnapshotMeta) error

	// LoadSnapshotChunk returns the chunk at offset, or ok=false if no
	// snapshot (or no such chunk) is stored.
	LoadSnapshotChunk(offset uint64) (data []byte, isLast bool, ok bool, err error)

	// LoadSnapshotMeta returns the most recently finalized snapshot's
	// metadata, or ok=false if none has been stored yet.
	LoadSnapshotMeta() (meta SnapshotMeta, ok bool, err error)

	// SaveCA persists the cluster certificate authority's serialized
	// state (security.CAData, JSON-encoded).
	SaveCA(data []byte) error

	// GetCA returns the previously saved CA state.
	GetCA() ([]byte, error)

	// Close releases any underlying resources (file handles, etc).
	Close() error
}
