package raft

// handleTransferRequest starts a leadership transfer to req.Target
// ("Leadership transfer"). A transfer in flight does not block new
// commands: handleSubmit still appends APPLY/BARRIER/CHANGE entries
// normally. The only request refused while a transfer is pending is a
// second TRANSFER.
func (c *Consensus) handleTransferRequest(req ClientRequest) {
	if c.transferTarget != "" {
		c.queue.push(Task{Kind: TaskCompleteRequest, RequestID: req.ID, RequestKind: req.Kind, Err: newErr(ErrTransferFailed)})
		return
	}
	if req.Target == c.cfg.ID {
		c.queue.push(Task{Kind: TaskCompleteRequest, RequestID: req.ID, RequestKind: req.Kind, Err: newErr(ErrConfigurationInvalid)})
		return
	}
	if !c.configuration.IsVoter(req.Target) {
		c.queue.push(Task{Kind: TaskCompleteRequest, RequestID: req.ID, RequestKind: req.Kind, Err: newErr(ErrConfigurationInvalid)})
		return
	}
	c.transferTarget = req.Target
	c.transferElapsed = 0
	c.requests.Anchor(req, 0, 0)

	if p := c.progress.Get(req.Target); p != nil && p.MatchIndex >= c.log.LastIndex() {
		c.sendTimeoutNow(req.Target)
		return
	}
	c.replicateTo(req.Target, false)
}

func (c *Consensus) checkTransferProgress(peerID string, p *Progress) {
	if c.transferTarget == "" || peerID != c.transferTarget {
		return
	}
	if p.MatchIndex >= c.log.LastIndex() {
		c.sendTimeoutNow(peerID)
	}
}

// sendTimeoutNow hands control to target and completes the pending
// TRANSFER request. What happens next is up to target: the transfer's
// purpose is served the moment TimeoutNow is sent, so there's nothing
// left for the timeout-abort timer to guard.
func (c *Consensus) sendTimeoutNow(target string) {
	c.sendTo(target, Message{Type: MsgTimeoutNow, Term: c.currentTerm, TimeoutNow: &TimeoutNowMessage{Term: c.currentTerm}})
	if req, ok := c.requests.Transfer(); ok && req.Target == target {
		c.queue.push(Task{Kind: TaskCompleteRequest, RequestID: req.ID, RequestKind: RequestTransfer})
		c.requests.ClearTransfer()
	}
	c.transferTarget = ""
	c.transferElapsed = 0
}

// abortTransfer ends an in-flight transfer, failing it with kind if a
// completion hasn't already been sent. It runs when the transfer
// timeout elapses (TRANSFER_FAILED) and when this leader steps down
// (LEADERSHIP_LOST); the number of catch-up attempts is not bounded
// separately.
func (c *Consensus) abortTransfer(kind ErrorKind) {
	if c.transferTarget == "" {
		return
	}
	c.transferTarget = ""
	c.transferElapsed = 0
	if req, ok := c.requests.Transfer(); ok {
		c.queue.push(Task{Kind: TaskCompleteRequest, RequestID: req.ID, RequestKind: RequestTransfer, Err: newErr(kind)})
		c.requests.ClearTransfer()
	}
}

// handleTimeoutNow makes this server immediately start an election
// with a bumped term, bypassing its normal timeout and any pre-vote
// phase ("T immediately starts an election with a bumped
// term").
func (c *Consensus) handleTimeoutNow(from string, m *TimeoutNowMessage) {
	// A duplicated TimeoutNow from a deposed leader's term must not
	// keep kicking off elections.
	if m.Term < c.currentTerm {
		return
	}
	if !c.configuration.IsVoter(c.cfg.ID) {
		return
	}
	c.prevoting = false
	c.currentTerm++
	c.votedFor = c.cfg.ID
	c.role = Candidate
	c.leaderID = ""
	c.election = NewElectionTracker(c.currentTerm, false)
	c.election.Record(c.cfg.ID, true)
	c.resetElectionTimeout()
	c.queue.push(Task{Kind: TaskPersistTermAndVote, Term: c.currentTerm, VotedFor: c.votedFor})
	c.broadcastRequestVote(false)
	c.maybeWinElection()
}
