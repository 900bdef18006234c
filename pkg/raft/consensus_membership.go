package raft

// onEntryAppended updates the effective configuration the instant a
// CONFIGURATION entry lands in the log, committed or not: the
// effective configuration always tracks the latest configuration
// entry in the log, committed or not. Called for every entry
// appended, by both the leader's own appendEntry and a
// follower/candidate's AppendEntries handling.
func (c *Consensus) onEntryAppended(e Entry) {
	if e.Kind != EntryConfiguration {
		return
	}
	cfg, err := DecodeConfiguration(e.Payload)
	if err != nil {
		return
	}
	c.applyConfiguration(cfg)
	c.configurationUncommittedIndex = e.Index
}

func (c *Consensus) applyConfiguration(cfg Configuration) {
	c.configuration = cfg
	if c.role != Leader {
		return
	}
	c.progress.Reset(c.replicationTargets(), c.log.LastIndex())
}

// replicationTargets returns the peer ids a leader replicates to:
// every voter and standby in the effective configuration (spares are
// neither quorate nor replicated), plus the old half's voters while a
// joint change is in flight.
func (c *Consensus) replicationTargets() []string {
	cfg := c.configuration
	ids := make([]string, 0, len(cfg.Servers))
	seen := map[string]bool{c.cfg.ID: true}
	for _, s := range cfg.Servers {
		if seen[s.ID] || s.Role == RoleSpare {
			continue
		}
		seen[s.ID] = true
		ids = append(ids, s.ID)
	}
	for _, id := range cfg.OldVoters() {
		if seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// recomputeEffectiveConfiguration rescans the retained log tail,
// newest to oldest, for the latest CONFIGURATION entry after a
// truncation discards entries; falls back to baseConfiguration (the
// configuration as of the snapshot boundary) if none remain.
func (c *Consensus) recomputeEffectiveConfiguration() {
	for idx := c.log.LastIndex(); idx > c.log.SnapshotLastIndex(); idx-- {
		e, ok := c.log.Get(idx)
		if !ok {
			continue
		}
		if e.Kind == EntryConfiguration {
			if cfg, err := DecodeConfiguration(e.Payload); err == nil {
				c.applyConfiguration(cfg)
				c.configurationUncommittedIndex = 0
				if idx > c.commitIndex {
					c.configurationUncommittedIndex = idx
				}
				return
			}
		}
	}
	c.applyConfiguration(c.baseConfiguration)
	c.configurationUncommittedIndex = 0
}

// handleChangeRequest validates and appends a joint-consensus
// CONFIGURATION entry for a membership change ("Membership
// change"). Rejection cases: not leader (already handled by caller),
// a change already in flight, or the change would leave no voter.
func (c *Consensus) handleChangeRequest(req ClientRequest) {
	if c.configurationUncommittedIndex != 0 || c.requests.HasConfigurationChange() {
		c.queue.push(Task{Kind: TaskCompleteRequest, RequestID: req.ID, RequestKind: req.Kind, Err: newErr(ErrConfigurationBusy)})
		return
	}
	newCfg, err := DecodeConfiguration(req.Payload)
	if err != nil {
		c.queue.push(Task{Kind: TaskCompleteRequest, RequestID: req.ID, RequestKind: req.Kind, Err: wrapErr(ErrConfigurationInvalid, err)})
		return
	}
	if len(newCfg.Voters()) == 0 {
		c.queue.push(Task{Kind: TaskCompleteRequest, RequestID: req.ID, RequestKind: req.Kind, Err: newErr(ErrConfigurationInvalid)})
		return
	}

	joint := Configuration{
		Servers: newCfg.Servers,
		Joint:   true,
		Old:     c.configuration.Servers,
	}
	idx := c.appendEntry(EntryConfiguration, EncodeConfiguration(joint))
	c.requests.Anchor(req, idx, c.currentTerm)
	c.replicateNewEntry()
}

// finalizeConfigurationIfJoint is called once a joint CONFIGURATION
// entry is applied; the leader follows up with a plain CONFIGURATION
// entry containing only the new server set, ending joint consensus.
func (c *Consensus) finalizeConfigurationIfJoint(idx Index, e Entry) {
	if c.role != Leader {
		return
	}
	cfg, err := DecodeConfiguration(e.Payload)
	if err != nil || !cfg.Joint {
		return
	}
	// A later CONFIGURATION entry (a previous leader's finalization)
	// already supersedes this joint entry; don't finalize twice.
	if !c.configuration.Joint {
		return
	}
	final := Configuration{Servers: cfg.Servers}
	c.appendEntry(EntryConfiguration, EncodeConfiguration(final))
	c.replicateNewEntry()
}
