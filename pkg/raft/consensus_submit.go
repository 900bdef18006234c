package raft

// handleSubmit accepts a locally submitted client operation: append
// replication, a membership change, or a leadership transfer.
func (c *Consensus) handleSubmit(ev Event) {
	req := ev.Submit
	if req == nil {
		return
	}
	if c.role != Leader {
		c.queue.push(Task{Kind: TaskCompleteRequest, RequestID: req.ID, RequestKind: req.Kind, Err: newErr(ErrNotLeader)})
		return
	}
	switch req.Kind {
	case RequestApply:
		idx := c.appendEntry(EntryCommand, req.Payload)
		c.requests.Anchor(*req, idx, c.currentTerm)
		c.replicateNewEntry()
	case RequestBarrier:
		idx := c.appendEntry(EntryBarrier, nil)
		c.requests.Anchor(*req, idx, c.currentTerm)
		c.replicateNewEntry()
	case RequestChange:
		c.handleChangeRequest(*req)
	case RequestTransfer:
		c.handleTransferRequest(*req)
	}
}

// replicateNewEntry pushes the just-appended tail entry out to every
// PIPELINE peer immediately; PROBE peers catch up one entry at a time
// as their outstanding probe succeeds.
func (c *Consensus) replicateNewEntry() {
	for _, id := range c.progress.IDs() {
		p := c.progress.Get(id)
		if p != nil && p.State == StatePipeline {
			c.replicateTo(id, false)
		}
	}
}
