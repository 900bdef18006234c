package raft

// Config bundles the host-chosen tuning knobs for one Consensus
// instance. None of these are read from anywhere but this struct: the
// core never consults a clock, environment, or file on its own.
type Config struct {
	ID string

	// ElectionTicks is the minimum number of TICK-accumulated ticks
	// before a follower may become a candidate; the effective
	// timeout for each term is ElectionTicks + Rand()%ElectionTicks,
	// the random jitter that avoids split votes.
	ElectionTicks int
	// HeartbeatTicks is how often a leader re-sends AppendEntries
	// with no new entries to idle peers.
	HeartbeatTicks int
	// TransferTimeoutTicks bounds a leadership transfer attempt.
	TransferTimeoutTicks int
	// TrailingEntries is how many applied-but-compacted-eligible
	// entries to retain past the snapshot boundary, to shorten
	// recovery for a peer that's only slightly behind.
	TrailingEntries Index
	// PreVote enables the two-phase pre-vote extension.
	PreVote bool
	// Rand returns a non-negative jitter value; it is the instance's
	// only source of randomness, supplied explicitly by the host so
	// that determinism is preserved given a fixed seed.
	Rand func() int
}

func (c Config) rand() int {
	if c.Rand == nil {
		return 0
	}
	return c.Rand()
}

// Consensus is the central Raft transducer. One instance represents
// one server's view of the cluster. The zero value is not usable;
// construct with New.
type Consensus struct {
	cfg Config

	currentTerm Term
	votedFor    string
	role        Role
	leaderID    string
	commitIndex Index
	lastApplied Index

	// snapshotIndex/snapshotTerm is the durable snapshot boundary. It
	// can run ahead of the log window's compaction point: a trailing
	// tail of already-snapshotted entries stays in the window so a
	// slightly-behind peer can catch up from entries instead of a full
	// snapshot transfer.
	snapshotIndex Index
	snapshotTerm  Term
	// snapshotConfiguration is the membership effective at
	// snapshotIndex, streamed inside InstallSnapshot so a follower that
	// restores from this snapshot also adopts the right configuration.
	snapshotConfiguration Configuration
	// takingConfiguration holds the membership captured when the
	// in-flight TaskTakeSnapshot was emitted; promoted to
	// snapshotConfiguration once the FSM reports success.
	takingConfiguration Configuration

	electionElapsed  int
	electionTimeout  int
	heartbeatElapsed int

	log           *Log
	configuration Configuration
	// baseConfiguration is the configuration effective as of the
	// snapshot/log-start boundary, the fallback once a truncation
	// removes every CONFIGURATION entry still in the tail.
	baseConfiguration Configuration
	progress          *ProgressTracker
	election          *ElectionTracker
	requests          *RequestRegistry

	// configurationUncommittedIndex gates "only one uncommitted
	// configuration entry may exist at a time".
	configurationUncommittedIndex Index
	dispatchedApply                Index
	selfMatch                      Index

	prevoting bool

	transferTarget  string
	transferElapsed int

	terminal bool
	clockMS  int64

	// snapshotWaiters tracks peers awaiting a specific (index, offset)
	// chunk from the storage collaborator so a single LOADED_SNAPSHOT
	// event (which carries no peer identity) can fan
	// out to everyone who asked for it.
	snapshotWaiters map[Index]map[uint64][]string

	// install tracks an in-progress InstallSnapshot sequence on the
	// follower side, across however many chunks arrive before IsLast.
	install *snapshotInstall
	// snapshotInFlight gates a single outstanding TaskTakeSnapshot at a
	// time, so a slow FSM snapshot doesn't get asked for twice.
	snapshotInFlight bool

	queue taskQueue
}

// New constructs a Consensus starting as a follower in term 0 with
// the given initial configuration. Callers restoring from durable
// state should use Restore instead.
func New(cfg Config, initial Configuration) *Consensus {
	c := &Consensus{
		cfg:                   cfg,
		role:                  Follower,
		log:                   NewLog(),
		configuration:         initial,
		baseConfiguration:     initial,
		snapshotConfiguration: initial,
		progress:              NewProgressTracker(),
		requests:              NewRequestRegistry(),
		snapshotWaiters:       make(map[Index]map[uint64][]string),
	}
	c.resetElectionTimeout()
	return c
}

// Restore rebuilds a Consensus from durably persisted (term, votedFor)
// and a log already reconstructed by the storage collaborator at
// startup. It performs no I/O itself.
func Restore(cfg Config, term Term, votedFor string, log *Log, cfgEntry Configuration) *Consensus {
	c := New(cfg, cfgEntry)
	c.currentTerm = term
	c.votedFor = votedFor
	c.log = log
	c.snapshotIndex = log.SnapshotLastIndex()
	c.snapshotTerm = log.SnapshotLastTerm()
	c.commitIndex = log.SnapshotLastIndex()
	c.lastApplied = log.SnapshotLastIndex()
	// The restored tail may hold CONFIGURATION entries newer than the
	// one the caller reconstructed; the effective configuration is
	// always the latest one in the log.
	c.recomputeEffectiveConfiguration()
	return c
}

// --- read-only observers, used by the host and by tests ---

func (c *Consensus) Role() Role                   { return c.role }
func (c *Consensus) Term() Term                   { return c.currentTerm }
func (c *Consensus) LeaderID() string             { return c.leaderID }
func (c *Consensus) CommitIndex() Index           { return c.commitIndex }
func (c *Consensus) LastApplied() Index           { return c.lastApplied }
func (c *Consensus) LastLogIndex() Index          { return c.log.LastIndex() }
func (c *Consensus) SnapshotIndex() Index         { return c.snapshotIndex }
func (c *Consensus) Configuration() Configuration { return c.configuration }
func (c *Consensus) IsLeader() bool               { return c.role == Leader }
func (c *Consensus) Terminal() bool               { return c.terminal }

// Step is the sole entry point: consume one Event, return the Tasks
// it produced. It never blocks and never performs I/O.
func (c *Consensus) Step(ev Event) []Task {
	if c.terminal {
		if ev.Kind == EventSubmit && ev.Submit != nil {
			c.queue.push(Task{Kind: TaskCompleteRequest, RequestID: ev.Submit.ID, RequestKind: ev.Submit.Kind, Err: newErr(ErrShutdown)})
		}
		return c.queue.drain()
	}

	switch ev.Kind {
	case EventTick:
		c.handleTick(ev)
	case EventReceive:
		c.handleReceive(ev)
	case EventPersistedEntries:
		c.handlePersistedEntries(ev)
	case EventPersistedTermVote:
		c.handlePersistedTermVote(ev)
	case EventPersistedSnapshot:
		c.handlePersistedSnapshot(ev)
	case EventLoadedSnapshot:
		c.handleLoadedSnapshot(ev)
	case EventCommandApplied:
		c.handleCommandApplied(ev)
	case EventSnapshotTaken:
		c.handleSnapshotTaken(ev)
	case EventSubmit:
		c.handleSubmit(ev)
	}
	return c.queue.drain()
}
