package raft

// handleReceive dispatches one inbound Message. Messages may be
// dropped, reordered, or duplicated by the transport collaborator
//; every handler here tolerates all three by being a pure
// function of current state plus the message, never assuming
// anything about what else has or hasn't arrived.
func (c *Consensus) handleReceive(ev Event) {
	m := ev.Message
	if m.Term > c.currentTerm {
		switch m.Type {
		case MsgRequestVote:
			if m.RequestVote != nil && m.RequestVote.PreVote {
				break // pre-vote requests never bump our term
			}
			c.stepDown(m.Term)
		case MsgRequestVoteResult:
			if m.RequestVoteResult != nil && m.RequestVoteResult.PreVote {
				break
			}
			c.stepDown(m.Term)
		default:
			c.stepDown(m.Term)
		}
	}
	switch m.Type {
	case MsgRequestVote:
		c.handleRequestVote(ev.From, m.RequestVote)
	case MsgRequestVoteResult:
		c.handleRequestVoteResult(ev.From, m.RequestVoteResult)
	case MsgAppendEntries:
		c.handleAppendEntries(ev.From, m.AppendEntries)
	case MsgAppendEntriesResult:
		c.handleAppendEntriesResult(ev.From, m.AppendEntriesResult)
	case MsgInstallSnapshot:
		c.handleInstallSnapshot(ev.From, m.InstallSnapshot)
	case MsgInstallSnapshotResult:
		c.handleInstallSnapshotResult(ev.From, m.InstallSnapshotResult)
	case MsgTimeoutNow:
		c.handleTimeoutNow(ev.From, m.TimeoutNow)
	}
}

func (c *Consensus) sendTo(to string, msg Message) {
	addr := ""
	if s, ok := c.configuration.find(to); ok {
		addr = s.Address
	}
	c.queue.push(Task{Kind: TaskSendMessage, To: to, Address: addr, Message: msg})
}
