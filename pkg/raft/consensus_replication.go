package raft

// appendEntry appends one entry at last_index+1 with term=currentTerm
// on the leader, enqueues its own durability task, and returns the
// assigned index ("Append replication (leader)").
func (c *Consensus) appendEntry(kind EntryKind, payload []byte) Index {
	idx := c.log.LastIndex() + 1
	e := Entry{Term: c.currentTerm, Index: idx, Kind: kind, Payload: payload}
	c.log.Append(e)
	c.onEntryAppended(e)
	c.queue.push(Task{Kind: TaskPersistEntries, FirstIndex: idx, LastIndex: idx, Entries: []Entry{e}})
	return idx
}

// sendAppendsToAll replicates to every tracked peer. New entries are
// sent either way; heartbeatOnly only controls whether a PROBE or
// PIPELINE peer with nothing new to send still gets an empty
// AppendEntries.
func (c *Consensus) sendAppendsToAll(heartbeatOnly bool) {
	for _, id := range c.progress.IDs() {
		c.replicateTo(id, heartbeatOnly)
	}
}

func (c *Consensus) replicateTo(peerID string, heartbeat bool) {
	p := c.progress.Get(peerID)
	if p == nil {
		return
	}
	p.MaybeBecomeSnapshot(c.log.SnapshotLastIndex(), c.snapshotIndex)
	switch p.State {
	case StateSnapshot:
		c.maybeLoadSnapshotChunk(peerID, p)
		return
	case StateProbe:
		prevIndex := p.NextIndex - 1
		prevTerm := c.log.TermOf(prevIndex)
		var entries []Entry
		if c.log.LastIndex() >= p.NextIndex {
			if e, ok := c.log.Get(p.NextIndex); ok {
				entries = []Entry{e}
			}
		} else if !heartbeat {
			return
		}
		c.sendAppendEntries(peerID, prevIndex, prevTerm, entries)
	case StatePipeline:
		prevIndex := p.NextIndex - 1
		prevTerm := c.log.TermOf(prevIndex)
		var entries []Entry
		if c.log.LastIndex() >= p.NextIndex {
			entries = c.log.Range(p.NextIndex, c.log.LastIndex())
		} else if !heartbeat {
			return
		}
		c.sendAppendEntries(peerID, prevIndex, prevTerm, entries)
	}
}

func (c *Consensus) sendAppendEntries(peerID string, prevIndex Index, prevTerm Term, entries []Entry) {
	p := c.progress.Get(peerID)
	if p != nil {
		p.LastSendTime = c.clockMS
	}
	c.sendTo(peerID, Message{
		Type: MsgAppendEntries,
		Term: c.currentTerm,
		AppendEntries: &AppendEntriesMessage{
			Term:         c.currentTerm,
			LeaderID:     c.cfg.ID,
			PrevIndex:    prevIndex,
			PrevTerm:     prevTerm,
			Entries:      entries,
			LeaderCommit: c.commitIndex,
		},
	})
}

// handleAppendEntries is the follower/candidate side of log matching
// ("Log matching on followers").
func (c *Consensus) handleAppendEntries(from string, m *AppendEntriesMessage) {
	if m.Term < c.currentTerm {
		c.sendTo(from, Message{Type: MsgAppendEntriesResult, Term: c.currentTerm, AppendEntriesResult: &AppendEntriesResultMessage{Term: c.currentTerm, Success: false, LastLogIndex: c.log.LastIndex()}})
		return
	}
	// A valid AppendEntries from the current term's leader forces any
	// role back to FOLLOWER.
	c.role = Follower
	c.leaderID = m.LeaderID
	c.prevoting = false
	c.resetElectionTimeout()

	ok, conflictIndex, conflictTerm := c.matchPrev(m.PrevIndex, m.PrevTerm)
	if !ok {
		c.sendTo(from, Message{Type: MsgAppendEntriesResult, Term: c.currentTerm, AppendEntriesResult: &AppendEntriesResultMessage{
			Term: c.currentTerm, Success: false, LastLogIndex: c.log.LastIndex(),
			ConflictIndex: conflictIndex, ConflictTerm: conflictTerm,
		}})
		return
	}

	lastMatched := m.PrevIndex
	for _, e := range m.Entries {
		// A duplicated or reordered message can carry entries already
		// folded into our snapshot, or (if malformed) leave a gap;
		// neither may reach Log.Append.
		if e.Index <= c.log.SnapshotLastIndex() {
			lastMatched = e.Index
			continue
		}
		if e.Index > c.log.LastIndex()+1 {
			break
		}
		lastMatched = e.Index
		if existing, has := c.log.Get(e.Index); has {
			if existing.Term == e.Term {
				continue
			}
			// Conflicting entry: truncate from here and everything
			// after, then append the leader's version (the log-matching
			// property; truncation only on follower or candidate).
			c.log.Truncate(e.Index)
			for _, t := range c.requests.Truncated(e.Index) {
				c.queue.push(t)
			}
			c.recomputeEffectiveConfiguration()
			c.log.Append(e)
			c.onEntryAppended(e)
		} else {
			c.log.Append(e)
			c.onEntryAppended(e)
		}
	}
	if len(m.Entries) > 0 {
		first, last := m.Entries[0].Index, m.Entries[len(m.Entries)-1].Index
		c.queue.push(Task{Kind: TaskPersistEntries, FirstIndex: first, LastIndex: last, Entries: m.Entries})
	}

	if m.LeaderCommit > c.commitIndex {
		newCommit := m.LeaderCommit
		if newCommit > lastMatched {
			newCommit = lastMatched
		}
		c.advanceCommitIndexTo(newCommit)
	}

	// Report the last index known to match the leader's log, not our
	// raw last index: a stale tail beyond lastMatched may diverge and
	// must not inflate the leader's match_index.
	c.sendTo(from, Message{Type: MsgAppendEntriesResult, Term: c.currentTerm, AppendEntriesResult: &AppendEntriesResultMessage{
		Term: c.currentTerm, Success: true, LastLogIndex: lastMatched,
	}})
}

// matchPrev checks the log-matching precondition and, on failure,
// computes a conflict hint the leader can use to back up faster than
// one index at a time.
func (c *Consensus) matchPrev(prevIndex Index, prevTerm Term) (ok bool, conflictIndex Index, conflictTerm Term) {
	if prevIndex == 0 {
		return true, 0, 0
	}
	if prevIndex <= c.log.SnapshotLastIndex() {
		if prevIndex == c.log.SnapshotLastIndex() && prevTerm == c.log.SnapshotLastTerm() {
			return true, 0, 0
		}
		// We've compacted past this point; ask the leader to send
		// from just after our snapshot.
		return false, c.log.SnapshotLastIndex() + 1, 0
	}
	myTerm := c.log.TermOf(prevIndex)
	if prevIndex > c.log.LastIndex() {
		return false, c.log.LastIndex() + 1, 0
	}
	if myTerm != prevTerm {
		conflictTerm = myTerm
		conflictIndex = prevIndex
		for idx := prevIndex; idx > c.log.SnapshotLastIndex(); idx-- {
			if c.log.TermOf(idx) != myTerm {
				break
			}
			conflictIndex = idx
		}
		return false, conflictIndex, conflictTerm
	}
	return true, 0, 0
}

func (c *Consensus) handleAppendEntriesResult(from string, m *AppendEntriesResultMessage) {
	if c.role != Leader || m.Term < c.currentTerm {
		return
	}
	p := c.progress.Get(from)
	if p == nil {
		return
	}
	p.LastRecvTime = c.clockMS
	if !m.Success {
		p.OnAppendReject(m.ConflictIndex, m.ConflictTerm, c.log)
		c.replicateTo(from, false)
		return
	}
	p.OnAppendSuccess(m.LastLogIndex)
	c.advanceCommitIndex()
	c.checkTransferProgress(from, p)
	if c.log.LastIndex() >= p.NextIndex {
		c.replicateTo(from, false)
	}
}
