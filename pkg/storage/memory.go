package storage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/raftcore/pkg/raft"
)

// MemoryStore is an in-memory Store, used by tests and by single-node
// experimentation where durability across restarts doesn't matter.
type MemoryStore struct {
	mu sync.Mutex

	entries  map[raft.Index]raft.Entry
	term     raft.Term
	votedFor string

	chunks   map[uint64][]byte
	lastMeta SnapshotMeta
	hasMeta  bool

	ca []byte
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[raft.Index]raft.Entry),
		chunks:  make(map[uint64][]byte),
	}
}

func (s *MemoryStore) AppendEntries(entries []raft.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range entries {
		s.entries[e.Index] = e
	}
	return nil
}

func (s *MemoryStore) GetEntries(from, to raft.Index) ([]raft.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Iterate what's stored rather than the requested range: callers
	// pass an unbounded upper index to mean "everything after from".
	var out []raft.Entry
	for idx, e := range s.entries {
		if idx >= from && idx <= to {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

func (s *MemoryStore) ReleaseEntries(first, last raft.Index) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for idx := first; idx <= last; idx++ {
		delete(s.entries, idx)
	}
	return nil
}

func (s *MemoryStore) SaveTermAndVote(term raft.Term, votedFor string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.term = term
	s.votedFor = votedFor
	return nil
}

func (s *MemoryStore) LoadTermAndVote() (raft.Term, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.term, s.votedFor, nil
}

func (s *MemoryStore) SaveSnapshotChunk(offset uint64, data []byte, isLast bool, meta SnapshotMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	chunk := make([]byte, len(data))
	copy(chunk, data)
	s.chunks[offset] = chunk
	if isLast {
		s.lastMeta = meta
		s.hasMeta = true
	}
	return nil
}

func (s *MemoryStore) LoadSnapshotChunk(offset uint64) ([]byte, bool, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.chunks[offset]
	if !ok {
		return nil, false, false, nil
	}
	var maxOffset uint64
	for off := range s.chunks {
		if off > maxOffset {
			maxOffset = off
		}
	}
	return data, offset == maxOffset, true, nil
}

func (s *MemoryStore) LoadSnapshotMeta() (SnapshotMeta, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastMeta, s.hasMeta, nil
}

func (s *MemoryStore) SaveCA(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ca = append([]byte(nil), data...)
	return nil
}

func (s *MemoryStore) GetCA() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ca == nil {
		return nil, fmt.Errorf("CA not found")
	}
	return s.ca, nil
}

func (s *MemoryStore) Close() error { return nil }
