package raft

// Log is the in-memory window over the durable replicated log: the
// entries with index > snapshotLastIndex that might still be needed
// for replication, plus a snapshot boundary. It never performs I/O;
// durability is the storage collaborator's job, driven by tasks the
// Consensus emits around Log mutations.
type Log struct {
	snapshotLastIndex Index
	snapshotLastTerm  Term

	// entries[i] holds the entry at index snapshotLastIndex+1+i.
	entries []Entry
}

// NewLog returns an empty log with no snapshot boundary.
func NewLog() *Log {
	return &Log{}
}

// SnapshotLastIndex returns the highest index folded into the snapshot.
func (l *Log) SnapshotLastIndex() Index { return l.snapshotLastIndex }

// SnapshotLastTerm returns the term of SnapshotLastIndex.
func (l *Log) SnapshotLastTerm() Term { return l.snapshotLastTerm }

// LastIndex returns the highest index held, snapshot or entry.
func (l *Log) LastIndex() Index {
	if n := len(l.entries); n > 0 {
		return l.entries[n-1].Index
	}
	return l.snapshotLastIndex
}

// LastTerm returns the term at LastIndex.
func (l *Log) LastTerm() Term {
	if n := len(l.entries); n > 0 {
		return l.entries[n-1].Term
	}
	return l.snapshotLastTerm
}

// offsetOf maps an absolute index to a slice offset, or -1 if the
// index falls at or before the snapshot boundary or past the tail.
func (l *Log) offsetOf(index Index) int {
	if index <= l.snapshotLastIndex {
		return -1
	}
	off := int(index - l.snapshotLastIndex - 1)
	if off >= len(l.entries) {
		return -1
	}
	return off
}

// Get returns the entry at index, or false if it isn't held (either
// compacted into the snapshot or beyond the tail).
func (l *Log) Get(index Index) (Entry, bool) {
	off := l.offsetOf(index)
	if off < 0 {
		return Entry{}, false
	}
	return l.entries[off], true
}

// TermOf returns the term at index, or 0 if unknown. It also answers
// for the snapshot boundary itself.
func (l *Log) TermOf(index Index) Term {
	if index == 0 {
		return 0
	}
	if index == l.snapshotLastIndex {
		return l.snapshotLastTerm
	}
	if e, ok := l.Get(index); ok {
		return e.Term
	}
	return 0
}

// Append adds entries to the tail. The caller guarantees entries are
// dense and start at LastIndex()+1; this is a programmer invariant,
// not a runtime-recoverable condition.
func (l *Log) Append(entries ...Entry) {
	if len(entries) == 0 {
		return
	}
	if entries[0].Index != l.LastIndex()+1 {
		panic("raft: Log.Append requires dense, contiguous indices")
	}
	l.entries = append(l.entries, entries...)
}

// Truncate discards every entry at or after fromIndex. This may only
// be invoked on a follower or candidate log; Consensus enforces that,
// not Log.
func (l *Log) Truncate(fromIndex Index) {
	off := l.offsetOf(fromIndex)
	if off < 0 {
		if fromIndex > l.LastIndex() {
			return
		}
		// fromIndex <= snapshotLastIndex: nothing left to keep.
		l.entries = l.entries[:0]
		return
	}
	l.entries = l.entries[:off]
}

// Range returns a copy of the entries in [from, to].
func (l *Log) Range(from, to Index) []Entry {
	if from > to {
		return nil
	}
	var out []Entry
	for idx := from; idx <= to; idx++ {
		e, ok := l.Get(idx)
		if !ok {
			continue
		}
		out = append(out, e)
	}
	return out
}

// SetSnapshot installs a new snapshot boundary, discarding entries at
// or before lastIndex. Used both when the leader compacts and when a
// follower finishes installing a snapshot from the leader.
func (l *Log) SetSnapshot(lastIndex Index, lastTerm Term) {
	if lastIndex <= l.snapshotLastIndex {
		return
	}
	off := l.offsetOf(lastIndex)
	if off >= 0 {
		// lastIndex is still within our tail and its term matches:
		// keep everything after it.
		if l.entries[off].Term == lastTerm {
			l.entries = l.entries[off+1:]
		} else {
			l.entries = l.entries[:0]
		}
	} else {
		l.entries = l.entries[:0]
	}
	l.snapshotLastIndex = lastIndex
	l.snapshotLastTerm = lastTerm
}
