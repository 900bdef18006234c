package raft

func (c *Consensus) resetElectionTimeout() {
	c.electionElapsed = 0
	jitter := 0
	if c.cfg.ElectionTicks > 0 {
		jitter = c.cfg.rand() % c.cfg.ElectionTicks
	}
	c.electionTimeout = c.cfg.ElectionTicks + jitter
}

// handleTick advances timers by one TICK and triggers the role
// transitions and periodic work tied to elapsed time: the
// follower→candidate timeout, the leader's heartbeat cadence, and the
// leadership-transfer abort timer.
func (c *Consensus) handleTick(ev Event) {
	c.clockMS += ev.ElapsedMS
	switch c.role {
	case Follower, Candidate:
		c.electionElapsed++
		if c.electionElapsed >= c.electionTimeout && c.configuration.IsVoter(c.cfg.ID) {
			c.becomeCandidate()
		}
	case Leader:
		c.heartbeatElapsed++
		if c.heartbeatElapsed >= c.cfg.HeartbeatTicks {
			c.heartbeatElapsed = 0
			c.sendAppendsToAll(true)
		}
		if c.transferTarget != "" {
			c.transferElapsed++
			if c.cfg.TransferTimeoutTicks > 0 && c.transferElapsed >= c.cfg.TransferTimeoutTicks {
				c.abortTransfer(ErrTransferFailed)
			}
		}
	}
	c.maybeTakeSnapshot()
}
