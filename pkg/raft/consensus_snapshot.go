package raft

// snapshotInstall is the follower-side bookkeeping for one in-progress
// InstallSnapshot sequence, carried across chunks until IsLast.
type snapshotInstall struct {
	leaderID      string
	lastIndex     Index
	lastTerm      Term
	configuration Configuration
	isLast        bool
}

// maybeLoadSnapshotChunk asks the storage collaborator for the next
// chunk a peer in STATE_SNAPSHOT needs. Several peers can
// end up waiting on the identical (index, offset) chunk; only the
// first such request actually emits a task, the rest are satisfied
// when its LOADED_SNAPSHOT event fans out via snapshotWaiters.
func (c *Consensus) maybeLoadSnapshotChunk(peerID string, p *Progress) {
	if p.AwaitingChunk {
		return
	}
	waiters := c.snapshotWaiters[p.SnapshotIndex]
	if waiters == nil {
		waiters = make(map[uint64][]string)
		c.snapshotWaiters[p.SnapshotIndex] = waiters
	}
	alreadyRequested := len(waiters[p.SnapshotOffset]) > 0
	waiters[p.SnapshotOffset] = append(waiters[p.SnapshotOffset], peerID)
	p.AwaitingChunk = true
	if !alreadyRequested {
		c.queue.push(Task{Kind: TaskLoadSnapshot, SnapshotIndex: p.SnapshotIndex, Offset: p.SnapshotOffset})
	}
}

// handleLoadedSnapshot fans a loaded chunk out to every peer awaiting
// that exact (index, offset) and advances each one's offset.
func (c *Consensus) handleLoadedSnapshot(ev Event) {
	waiters := c.snapshotWaiters[ev.LoadedIndex]
	peers := waiters[ev.LoadedOffset]
	delete(waiters, ev.LoadedOffset)
	if len(waiters) == 0 {
		delete(c.snapshotWaiters, ev.LoadedIndex)
	}
	for _, peerID := range peers {
		p := c.progress.Get(peerID)
		if p == nil || p.State != StateSnapshot {
			continue
		}
		p.AwaitingChunk = false
		if ev.LoadedStatus != StatusOK {
			continue // replicateTo will ask again on the next tick
		}
		lastTerm := c.log.TermOf(ev.LoadedIndex)
		if ev.LoadedIndex == c.snapshotIndex {
			lastTerm = c.snapshotTerm
		}
		c.sendTo(peerID, Message{
			Type: MsgInstallSnapshot,
			Term: c.currentTerm,
			InstallSnapshot: &InstallSnapshotMessage{
				Term:          c.currentTerm,
				LeaderID:      c.cfg.ID,
				LastIndex:     ev.LoadedIndex,
				LastTerm:      lastTerm,
				Configuration: c.snapshotConfiguration,
				Offset:        ev.LoadedOffset,
				Data:          ev.LoadedChunk,
				IsLast:        ev.LoadedLast,
			},
		})
		p.SnapshotOffset++
	}
}

// handleInstallSnapshot is the follower side of snapshot installation.
// Each chunk is handed to the storage collaborator as it arrives; the
// follower only swaps in the new snapshot boundary and acknowledges
// once the final chunk is durable.
func (c *Consensus) handleInstallSnapshot(from string, m *InstallSnapshotMessage) {
	if m.Term < c.currentTerm {
		c.sendTo(from, Message{Type: MsgInstallSnapshotResult, Term: c.currentTerm, InstallSnapshotResult: &InstallSnapshotResultMessage{
			Term: c.currentTerm, LastIndex: c.log.LastIndex(),
		}})
		return
	}
	c.role = Follower
	c.leaderID = m.LeaderID
	c.prevoting = false
	c.resetElectionTimeout()

	c.install = &snapshotInstall{
		leaderID:      from,
		lastIndex:     m.LastIndex,
		lastTerm:      m.LastTerm,
		configuration: m.Configuration,
		isLast:        m.IsLast,
	}
	c.queue.push(Task{
		Kind: TaskPersistSnapshot, SnapshotIndex: m.LastIndex, SnapshotTerm: m.LastTerm,
		Offset: m.Offset, Data: m.Data, IsLast: m.IsLast, Configuration: m.Configuration,
	})
}

func (c *Consensus) handleInstallSnapshotResult(from string, m *InstallSnapshotResultMessage) {
	if c.role != Leader || m.Term < c.currentTerm {
		return
	}
	p := c.progress.Get(from)
	if p == nil {
		return
	}
	p.LastRecvTime = c.clockMS
	p.OnSnapshotAck(m.LastIndex)
	c.checkTransferProgress(from, p)
	c.replicateTo(from, false)
}

// handlePersistedSnapshot reacts to the storage collaborator durably
// writing one chunk. An IO error here is fatal to the instance, same
// as any other durability failure. Only the final chunk
// triggers swapping the log's snapshot boundary and restoring the FSM.
func (c *Consensus) handlePersistedSnapshot(ev Event) {
	if ev.PersistedSnapshotStatus != StatusOK {
		c.terminal = true
		for _, t := range c.requests.FlushShutdown() {
			c.queue.push(t)
		}
		return
	}
	if c.install == nil || !c.install.isLast {
		return
	}
	inst := c.install
	c.install = nil

	c.log = NewLog()
	c.log.SetSnapshot(inst.lastIndex, inst.lastTerm)
	c.snapshotIndex = inst.lastIndex
	c.snapshotTerm = inst.lastTerm
	c.commitIndex = inst.lastIndex
	c.lastApplied = inst.lastIndex
	c.dispatchedApply = inst.lastIndex
	c.baseConfiguration = inst.configuration
	c.snapshotConfiguration = inst.configuration
	c.applyConfiguration(inst.configuration)
	c.configurationUncommittedIndex = 0
	for idx := range c.snapshotWaiters {
		delete(c.snapshotWaiters, idx)
	}

	c.queue.push(Task{Kind: TaskRestoreSnapshot, SnapshotIndex: inst.lastIndex, SnapshotTerm: inst.lastTerm, Configuration: inst.configuration})
	c.sendTo(inst.leaderID, Message{Type: MsgInstallSnapshotResult, Term: c.currentTerm, InstallSnapshotResult: &InstallSnapshotResultMessage{
		Term: c.currentTerm, LastIndex: inst.lastIndex,
	}})
}

// maybeTakeSnapshot asks the host to snapshot the FSM once enough
// applied entries have accumulated past the retained trailing window
// (the configurable trailing-entries knob, part of log compaction).
func (c *Consensus) maybeTakeSnapshot() {
	if c.snapshotInFlight || c.cfg.TrailingEntries <= 0 {
		return
	}
	if c.lastApplied <= c.snapshotIndex+c.cfg.TrailingEntries {
		return
	}
	c.snapshotInFlight = true
	c.takingConfiguration = c.configuration
	c.queue.push(Task{Kind: TaskTakeSnapshot, SnapshotIndex: c.lastApplied, SnapshotTerm: c.log.TermOf(c.lastApplied), Configuration: c.configuration})
}

// handleSnapshotTaken installs the boundary the host reports once it's
// finished snapshotting the FSM. The log window compacts only up to
// TakenIndex minus the trailing window, so a peer that's a little
// behind still catches up from entries rather than a full snapshot;
// entries below the new compaction point are released from durable
// storage.
func (c *Consensus) handleSnapshotTaken(ev Event) {
	if !c.snapshotInFlight {
		return
	}
	c.snapshotInFlight = false
	if ev.TakenStatus != StatusOK {
		return
	}
	if ev.TakenIndex <= c.snapshotIndex {
		return
	}
	c.snapshotIndex = ev.TakenIndex
	c.snapshotTerm = ev.TakenTerm
	c.snapshotConfiguration = c.takingConfiguration

	var compactTo Index
	if ev.TakenIndex > c.cfg.TrailingEntries {
		compactTo = ev.TakenIndex - c.cfg.TrailingEntries
	}
	prevBoundary := c.log.SnapshotLastIndex()
	if compactTo <= prevBoundary {
		return
	}
	// CONFIGURATION entries about to be compacted away must survive as
	// the fallback recomputeEffectiveConfiguration falls back to.
	for idx := prevBoundary + 1; idx <= compactTo; idx++ {
		e, ok := c.log.Get(idx)
		if !ok || e.Kind != EntryConfiguration {
			continue
		}
		if cfg, err := DecodeConfiguration(e.Payload); err == nil {
			c.baseConfiguration = cfg
		}
	}
	c.log.SetSnapshot(compactTo, c.log.TermOf(compactTo))
	c.queue.push(Task{Kind: TaskReleaseEntries, FirstIndex: prevBoundary + 1, LastIndex: compactTo})
}
