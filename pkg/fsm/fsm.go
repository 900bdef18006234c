// Package fsm is the reference application state machine raftd
// applies committed commands to: an in-memory, ordered key/value
// store. It is the FSM collaborator the consensus core deliberately
// keeps outside itself: the core never interprets a command payload,
// it only hands APPLY_COMMAND/TAKE_SNAPSHOT/RESTORE_SNAPSHOT tasks to
// whatever is wired in here.
package fsm

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sort"
	"sync"
)

// OpKind is the kind of mutation a Command encodes.
type OpKind int

const (
	OpSet OpKind = iota
	OpDelete
)

// Command is the gob-encoded payload carried by a raft.EntryCommand
// log entry (command interpretation, is entirely a
// matter for this package, never the consensus core).
type Command struct {
	Op    OpKind
	Key   string
	Value []byte
}

// Encode serializes a Command for use as a log entry payload.
func Encode(c Command) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(c); err != nil {
		return nil, fmt.Errorf("fsm: encode command: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses a log entry payload back into a Command.
func Decode(payload []byte) (Command, error) {
	var c Command
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&c); err != nil {
		return Command{}, fmt.Errorf("fsm: decode command: %w", err)
	}
	return c, nil
}

// Result is returned from Apply and becomes an APPLY_COMMAND task's
// result, eventually delivered back to the originating client request.
type Result struct {
	PreviousValue []byte
	Existed       bool
}

// Store is an in-memory, mutex-protected key/value FSM. It has no
// knowledge of Raft; raftd's node package is the only caller.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New returns an empty Store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

// Apply interprets and applies one committed command. This is the
// APPLY_COMMAND collaborator operation.
func (s *Store) Apply(payload []byte) (Result, error) {
	cmd, err := Decode(payload)
	if err != nil {
		return Result{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, existed := s.data[cmd.Key]
	switch cmd.Op {
	case OpSet:
		s.data[cmd.Key] = append([]byte(nil), cmd.Value...)
	case OpDelete:
		delete(s.data, cmd.Key)
	default:
		return Result{}, fmt.Errorf("fsm: unknown op %d", cmd.Op)
	}
	return Result{PreviousValue: prev, Existed: existed}, nil
}

// Get reads a key directly, for the node's read-index (BARRIER)
// linearizable read path.
func (s *Store) Get(key string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok
}

// snapshotEntry is one key/value pair in wire order in a snapshot
// stream.
type snapshotEntry struct {
	Key   string
	Value []byte
}

// Snapshot serializes the entire store as a single byte stream. The
// node package is responsible for splitting this into the
// offset-addressed chunks the PERSIST_SNAPSHOT task expects;
// this package only knows how to encode/decode its own state.
func (s *Store) Snapshot() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	entries := make([]snapshotEntry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, snapshotEntry{Key: k, Value: s.data[k]})
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entries); err != nil {
		return nil, fmt.Errorf("fsm: encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// Restore replaces the store's entire contents from a snapshot byte
// stream previously produced by Snapshot, the RESTORE_SNAPSHOT
// collaborator operation behind snapshot installation.
func (s *Store) Restore(data []byte) error {
	var entries []snapshotEntry
	if len(data) > 0 {
		if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&entries); err != nil {
			return fmt.Errorf("fsm: decode snapshot: %w", err)
		}
	}
	next := make(map[string][]byte, len(entries))
	for _, e := range entries {
		next[e.Key] = e.Value
	}
	s.mu.Lock()
	s.data = next
	s.mu.Unlock()
	return nil
}

// Len reports the number of live keys, used by status reporting.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
