package raft

import "sort"

// advanceCommitIndex implements the leader's commit rule: the
// highest N > commitIndex with a quorum of match_index >= N (both
// halves, if joint) and term(N) == currentTerm.
func (c *Consensus) advanceCommitIndex() {
	if c.role != Leader {
		return
	}
	matches := c.progress.MatchIndexes(c.cfg.ID, c.selfMatch)
	candidates := make([]Index, 0, len(matches))
	for _, idx := range matches {
		if idx > c.commitIndex {
			candidates = append(candidates, idx)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] > candidates[j] })
	for _, n := range candidates {
		if c.log.TermOf(n) != c.currentTerm {
			continue
		}
		granted := make(map[string]bool, len(matches))
		for id, idx := range matches {
			if idx >= n {
				granted[id] = true
			}
		}
		if c.configuration.HasQuorum(granted) {
			c.advanceCommitIndexTo(n)
			return
		}
	}
}

// advanceCommitIndexTo sets commitIndex (monotonically) and begins
// dispatching newly committed entries to the FSM collaborator.
func (c *Consensus) advanceCommitIndexTo(n Index) {
	if n <= c.commitIndex {
		return
	}
	c.commitIndex = n
	c.applyCommitted()
}

// applyCommitted walks lastApplied+1..commitIndex in order, calling
// the FSM collaborator for COMMAND entries (one at a time, waiting for
// COMMAND_APPLIED before moving on so last_applied stays a true
// watermark) and resolving CONFIGURATION/BARRIER entries locally,
// since they need no FSM round-trip ("last-applied index").
func (c *Consensus) applyCommitted() {
	for {
		idx := c.lastApplied + 1
		if idx > c.commitIndex {
			return
		}
		e, ok := c.log.Get(idx)
		if !ok {
			return
		}
		switch e.Kind {
		case EntryCommand:
			if c.dispatchedApply < idx {
				c.queue.push(Task{Kind: TaskApplyCommand, ApplyIndex: idx, ApplyPayload: e.Payload})
				c.dispatchedApply = idx
			}
			return // wait for EventCommandApplied before continuing
		case EntryConfiguration:
			c.lastApplied = idx
			if c.configurationUncommittedIndex != 0 && c.configurationUncommittedIndex <= idx {
				c.configurationUncommittedIndex = 0
			}
			c.finalizeConfigurationIfJoint(idx, e)
			for _, t := range c.requests.ResolveUpTo(idx, c.log, nil) {
				c.queue.push(t)
			}
		case EntryBarrier:
			c.lastApplied = idx
			for _, t := range c.requests.ResolveUpTo(idx, c.log, nil) {
				c.queue.push(t)
			}
		}
	}
}

func (c *Consensus) handleCommandApplied(ev Event) {
	if ev.AppliedIndex != c.lastApplied+1 {
		return
	}
	c.lastApplied = ev.AppliedIndex
	result := func(Index) ([]byte, error) { return ev.AppliedResult, ev.AppliedError }
	for _, t := range c.requests.ResolveUpTo(ev.AppliedIndex, c.log, result) {
		c.queue.push(t)
	}
	c.applyCommitted()
}
