package raft

// handlePersistedEntries reacts to the storage collaborator durably
// writing a batch of log entries. An IO error is fatal to this
// instance: it can no longer guarantee its persisted state matches
// its in-memory state; a leader's own persisted entries also advance
// its match index for the commit rule.
func (c *Consensus) handlePersistedEntries(ev Event) {
	if ev.PersistedStatus != StatusOK {
		c.terminal = true
		for _, t := range c.requests.FlushShutdown() {
			c.queue.push(t)
		}
		return
	}
	if c.role != Leader {
		return
	}
	if ev.PersistedLast > c.selfMatch {
		c.selfMatch = ev.PersistedLast
	}
	c.advanceCommitIndex()
	c.maybeTakeSnapshot()
}

// handlePersistedTermVote reacts to the storage collaborator durably
// writing (term, votedFor). An IO error here is likewise fatal: the
// instance may already have replied to a RequestVote or AppendEntries
// on the assumption this write would succeed.
func (c *Consensus) handlePersistedTermVote(ev Event) {
	if ev.TermVoteStatus != StatusOK {
		c.terminal = true
		for _, t := range c.requests.FlushShutdown() {
			c.queue.push(t)
		}
	}
}
