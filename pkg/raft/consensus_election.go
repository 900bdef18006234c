package raft

// stepDown moves to FOLLOWER upon observing a higher term from any
// role. Returns true if a transition actually happened.
func (c *Consensus) stepDown(term Term) bool {
	if term <= c.currentTerm {
		return false
	}
	wasLeader := c.role == Leader
	c.currentTerm = term
	c.votedFor = ""
	c.role = Follower
	c.leaderID = ""
	c.election = nil
	c.prevoting = false
	c.progress = NewProgressTracker()
	c.resetElectionTimeout()
	c.queue.push(Task{Kind: TaskPersistTermAndVote, Term: c.currentTerm, VotedFor: ""})
	if wasLeader {
		c.abortTransfer(ErrLeadershipLost)
		for _, t := range c.requests.FlushLeadershipLost() {
			c.queue.push(t)
		}
	}
	return true
}

// becomeCandidate starts an election attempt. With PreVote enabled
// and not already mid pre-vote, it runs the non-mutating pre-vote
// phase first.
func (c *Consensus) becomeCandidate() {
	if c.cfg.PreVote && !c.prevoting {
		c.startPreVote()
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

func (c *Consensus) startPreVote() {
	c.prevoting = true
	prospective := c.currentTerm + 1
	c.election = NewElectionTracker(prospective, true)
	c.election.Record(c.cfg.ID, true)
	c.resetElectionTimeout()
	c.broadcastRequestVote(true)
	if won, _ := c.election.Outcome(c.configuration); won {
		c.becomeCandidate()
	}
}

func (c *Consensus) broadcastRequestVote(preVote bool) {
	term := c.currentTerm
	if preVote {
		term = c.currentTerm + 1
	}
	// VotingMembers covers both halves during joint consensus; an
	// old-half voter's grant still counts toward its quorum.
	for _, id := range c.configuration.VotingMembers() {
		if id == c.cfg.ID {
			continue
		}
		addr := ""
		if s, ok := c.configuration.find(id); ok {
			addr = s.Address
		}
		c.queue.push(Task{
			Kind:    TaskSendMessage,
			To:      id,
			Address: addr,
			Message: Message{
				Type: MsgRequestVote,
				Term: term,
				RequestVote: &RequestVoteMessage{
					Term:         term,
					CandidateID:  c.cfg.ID,
					LastLogIndex: c.log.LastIndex(),
					LastLogTerm:  c.log.LastTerm(),
					PreVote:      preVote,
				},
			},
		})
	}
}

// becomeLeader transitions CANDIDATE → LEADER upon a quorum of grants
// in currentTerm. It resets per-peer progress, appends a no-op entry
// in the new term, and emits an initial round of appends.
func (c *Consensus) becomeLeader() {
	c.role = Leader
	c.leaderID = c.cfg.ID
	c.election = nil
	c.heartbeatElapsed = 0
	c.progress = NewProgressTracker()
	c.progress.Reset(c.replicationTargets(), c.log.LastIndex())
	// The commit rule only counts entries from the leader's own term,
	// so a fresh leader cannot commit a predecessor's tail by replica
	// count alone. Committing this no-op drags everything before it
	// over the threshold, including a prior term's still-uncommitted
	// CONFIGURATION entry that finalization waits on.
	c.appendEntry(EntryBarrier, nil)
	c.sendAppendsToAll(true)
}

func (c *Consensus) maybeWinElection() {
	if c.role != Candidate || c.election == nil {
		return
	}
	won, lost := c.election.Outcome(c.configuration)
	if won {
		c.becomeLeader()
	} else if lost {
		c.resetElectionTimeout()
	}
}

func (c *Consensus) handleRequestVote(from string, m *RequestVoteMessage) {
	grant := false
	switch {
	case m.Term < c.currentTerm:
		grant = false
	case m.PreVote:
		// Pre-vote never mutates durable state; grant iff the peer's
		// log is at least as up to date and we haven't heard from a
		// leader recently enough to still trust our own timeout.
		grant = c.logUpToDate(m.LastLogIndex, m.LastLogTerm) && c.electionElapsed >= c.cfg.ElectionTicks
	default:
		if m.Term > c.currentTerm {
			c.stepDown(m.Term)
		}
		canVote := c.votedFor == "" || c.votedFor == m.CandidateID
		if canVote && c.logUpToDate(m.LastLogIndex, m.LastLogTerm) {
			c.votedFor = m.CandidateID
			c.resetElectionTimeout()
			c.queue.push(Task{Kind: TaskPersistTermAndVote, Term: c.currentTerm, VotedFor: c.votedFor})
			grant = true
		}
	}
	replyTerm := c.currentTerm
	if m.PreVote {
		replyTerm = m.Term
	}
	c.sendTo(from, Message{
		Type: MsgRequestVoteResult,
		Term: replyTerm,
		RequestVoteResult: &RequestVoteResultMessage{
			Term:    replyTerm,
			Granted: grant,
			PreVote: m.PreVote,
		},
	})
}

// logUpToDate implements the standard Raft up-to-date check: higher
// last-log term wins; equal term, higher (or equal) last index wins.
func (c *Consensus) logUpToDate(lastIndex Index, lastTerm Term) bool {
	myTerm := c.log.LastTerm()
	if lastTerm != myTerm {
		return lastTerm > myTerm
	}
	return lastIndex >= c.log.LastIndex()
}

func (c *Consensus) handleRequestVoteResult(from string, m *RequestVoteResultMessage) {
	if m.Term > c.currentTerm && !m.PreVote {
		c.stepDown(m.Term)
		return
	}
	if m.PreVote {
		if !c.prevoting || c.election == nil || !c.election.PreVote() || c.election.Term() != m.Term {
			return
		}
		c.election.Record(from, m.Granted)
		if won, lost := c.election.Outcome(c.configuration); won {
			c.becomeCandidate()
		} else if lost {
			c.prevoting = false
			c.election = nil
		}
		return
	}
	if c.role != Candidate || c.election == nil || c.election.PreVote() || c.election.Term() != c.currentTerm {
		return
	}
	c.election.Record(from, m.Granted)
	c.maybeWinElection()
}
