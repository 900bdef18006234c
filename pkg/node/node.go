// Package node is the host loop that the consensus core deliberately
// keeps outside itself: it owns the single goroutine that calls
// Consensus.Step, the clock collaborator (a time.Ticker), and the
// glue that turns every emitted raft.Task into a call against the
// storage, transport, or fsm collaborator, feeding completions back
// in as the next raft.Event.
package node

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/raftcore/pkg/config"
	"github.com/cuemby/raftcore/pkg/fsm"
	"github.com/cuemby/raftcore/pkg/log"
	"github.com/cuemby/raftcore/pkg/metrics"
	"github.com/cuemby/raftcore/pkg/raft"
	"github.com/cuemby/raftcore/pkg/storage"
	"github.com/cuemby/raftcore/pkg/transport"
	"github.com/google/uuid"
)

// snapshotChunkSize bounds how many FSM snapshot bytes are persisted
// and streamed per chunk; keeps a single TaskTakeSnapshot/InstallSnapshot
// round from blocking the event loop behind one giant I/O call.
const snapshotChunkSize = 32 * 1024

// Node wires one Consensus instance to its collaborators and runs the
// single-threaded cooperative event loop the core requires: exactly
// one Step call in flight at a time, every I/O externalized as a task
// whose completion is re-delivered as an event.
type Node struct {
	id  string
	cfg *config.Config

	consensus *raft.Consensus
	store     storage.Store
	transport *transport.Transport
	fsm       *fsm.Store

	internal chan raft.Event
	submit   chan *raft.ClientRequest
	// storageQ feeds the single task worker goroutine. Store methods
	// are never called concurrently, completion events for persistence
	// tasks reach the core in the same order the tasks were emitted,
	// and a message task is only started once every persistence task
	// emitted before it has completed, so no peer ever observes a
	// term, vote, or entry this node hasn't made durable yet.
	storageQ chan raft.Task

	// stateMu guards reads of consensus state (Status) against the Run
	// goroutine's Step calls. Step is still strictly serialized; the
	// lock only exists so observers get a torn-free view.
	stateMu sync.RWMutex

	pendingMu sync.Mutex
	pending   map[string]chan Completion

	closeCh chan struct{}
	doneCh  chan struct{}
}

// Completion is delivered to whoever called Submit once the
// corresponding TaskCompleteRequest task is observed.
type Completion struct {
	CommitIndex raft.Index
	Result      []byte
	Err         error
}

// peerAddresses maps a peer id to its network address, as returned by
// Addresses. TaskSendMessage is executed with the task's own Address
// field, not this map.
type peerAddresses = map[string]string

// New constructs a Node around an already-built consensus instance;
// the starting cluster configuration is whatever that instance was
// created or restored with.
func New(cfg *config.Config, store storage.Store, tr *transport.Transport, fsmStore *fsm.Store, consensus *raft.Consensus) *Node {
	return &Node{
		id:        cfg.NodeID,
		cfg:       cfg,
		consensus: consensus,
		store:     store,
		transport: tr,
		fsm:       fsmStore,
		internal:  make(chan raft.Event, 1024),
		submit:    make(chan *raft.ClientRequest, 64),
		storageQ:  make(chan raft.Task, 1024),
		pending:   make(map[string]chan Completion),
		closeCh:   make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// NewConsensus builds the raft.Consensus this node should start with,
// translating the YAML config's millisecond timeouts into tick
// counts at the configured tick granularity.
func NewConsensus(cfg *config.Config, initial raft.Configuration) *raft.Consensus {
	return raft.New(RaftConfig(cfg), initial)
}

// RaftConfig translates a node's on-disk configuration into the
// tick-based knobs raft.Consensus expects. Exported so cmd/raftd can
// build the same raft.Config for raft.Restore on a real restart.
func RaftConfig(cfg *config.Config) raft.Config {
	return raft.Config{
		ID:                   cfg.NodeID,
		ElectionTicks:        cfg.ElectionTicks(),
		HeartbeatTicks:       cfg.HeartbeatTicks(),
		TransferTimeoutTicks: cfg.TransferTicks(),
		TrailingEntries:      raft.Index(cfg.TrailingEntries),
		PreVote:              cfg.PreVote,
		Rand:                 func() int { return int(time.Now().UnixNano() % 7) },
	}
}

// Run drives the event loop until ctx is cancelled or Close is
// called. It is the only goroutine allowed to call n.consensus.Step.
func (n *Node) Run(ctx context.Context) {
	defer close(n.doneCh)

	ticker := time.NewTicker(n.cfg.TickInterval())
	defer ticker.Stop()
	tickMS := int64(n.cfg.TickIntervalMS)

	logger := log.WithNodeID(n.id)
	logger.Info().Msg("node event loop starting")

	go n.storageWorker()

	for {
		select {
		case <-ctx.Done():
			return
		case <-n.closeCh:
			return
		case <-ticker.C:
			n.step(raft.Event{Kind: raft.EventTick, ElapsedMS: tickMS})
		case r := <-n.transport.Recv():
			n.step(raft.Event{Kind: raft.EventReceive, From: r.From, Message: r.Message})
		case ev := <-n.internal:
			n.step(ev)
		case req := <-n.submit:
			n.step(raft.Event{Kind: raft.EventSubmit, Submit: req})
		}
	}
}

// Close stops the event loop and fails every still-pending Submit
// caller with SHUTDOWN.
func (n *Node) Close() error {
	close(n.closeCh)
	<-n.doneCh
	n.pendingMu.Lock()
	defer n.pendingMu.Unlock()
	for id, ch := range n.pending {
		ch <- Completion{Err: &raft.Error{Kind: raft.ErrShutdown}}
		delete(n.pending, id)
	}
	return n.transport.Close()
}

// step calls Consensus.Step exactly once and executes every resulting
// task. It must only ever be called from Run's goroutine.
func (n *Node) step(ev raft.Event) {
	n.stateMu.Lock()
	before := n.consensus.Role()
	tasks := n.consensus.Step(ev)
	after := n.consensus.Role()
	term := uint64(n.consensus.Term())
	n.stateMu.Unlock()
	if after != before {
		log.WithRole(after.String()).Info().Str("node_id", n.id).Uint64("term", term).Msg("role transition")
		if after == raft.Candidate {
			metrics.RaftElectionsTotal.Inc()
			log.WithTerm(term).Debug().Str("node_id", n.id).Msg("election started")
		}
	}
	for _, task := range tasks {
		n.dispatch(task)
	}
}

// --- metrics.ClusterStats, sampled periodically by metrics.Collector ---

func (n *Node) IsLeader() bool {
	n.stateMu.RLock()
	defer n.stateMu.RUnlock()
	return n.consensus.IsLeader()
}

func (n *Node) PeerCount() int {
	n.stateMu.RLock()
	defer n.stateMu.RUnlock()
	return len(n.consensus.Configuration().Voters())
}

func (n *Node) LastLogIndex() uint64 {
	n.stateMu.RLock()
	defer n.stateMu.RUnlock()
	return uint64(n.consensus.LastLogIndex())
}

func (n *Node) CommitIndex() uint64 {
	n.stateMu.RLock()
	defer n.stateMu.RUnlock()
	return uint64(n.consensus.CommitIndex())
}

func (n *Node) AppliedIndex() uint64 {
	n.stateMu.RLock()
	defer n.stateMu.RUnlock()
	return uint64(n.consensus.LastApplied())
}

func (n *Node) SnapshotIndex() uint64 {
	n.stateMu.RLock()
	defer n.stateMu.RUnlock()
	return uint64(n.consensus.SnapshotIndex())
}

func (n *Node) Term() uint64 {
	n.stateMu.RLock()
	defer n.stateMu.RUnlock()
	return uint64(n.consensus.Term())
}

// dispatch executes one task, asynchronously where the task implies
// I/O, feeding any completion back through n.internal so Run's
// goroutine is the only one that ever calls Step.
func (n *Node) dispatch(task raft.Task) {
	switch task.Kind {
	case raft.TaskCompleteRequest:
		n.complete(task)
	default:
		// Everything else goes through the storage worker in emission
		// order. Sends and FSM applies run on their own goroutines once
		// popped, but popping them only after the persistence tasks
		// emitted ahead of them have completed is what upholds the
		// durability contract: a term/vote or entry write is on disk
		// before any message reflecting it leaves this node.
		n.storageQ <- task
	}
}

// deliver feeds a completion event back to the Run goroutine, giving
// up if the node is shutting down so workers never block on a loop
// that already exited.
func (n *Node) deliver(ev raft.Event) {
	select {
	case n.internal <- ev:
	case <-n.closeCh:
	}
}

// storageWorker drains storageQ until the node shuts down. It is the
// only goroutine that calls Store methods after Run starts; send and
// apply tasks are popped here for ordering but run on their own
// goroutines so a slow peer or FSM can't stall durability.
func (n *Node) storageWorker() {
	for {
		select {
		case <-n.closeCh:
			return
		case task := <-n.storageQ:
			switch task.Kind {
			case raft.TaskSendMessage:
				go n.doSend(task)
			case raft.TaskApplyCommand:
				go n.doApplyCommand(task)
			case raft.TaskPersistEntries:
				n.doPersistEntries(task)
			case raft.TaskPersistTermAndVote:
				n.doPersistTermAndVote(task)
			case raft.TaskPersistSnapshot:
				n.doPersistSnapshot(task)
			case raft.TaskLoadSnapshot:
				n.doLoadSnapshot(task)
			case raft.TaskTakeSnapshot:
				n.doTakeSnapshot(task)
			case raft.TaskRestoreSnapshot:
				n.doRestoreSnapshot(task)
			case raft.TaskReleaseEntries:
				n.doReleaseEntries(task)
			}
		}
	}
}

func (n *Node) doSend(task raft.Task) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := n.transport.Send(ctx, task.To, task.Address, task.Message); err != nil {
		metrics.RaftTransportErrorsTotal.WithLabelValues(task.To).Inc()
		log.WithPeerID(task.To).Debug().Err(err).Msg("send failed, dropping")
	}
}

func (n *Node) doPersistEntries(task raft.Task) {
	status := raft.StatusOK
	if err := n.store.AppendEntries(task.Entries); err != nil {
		status = raft.StatusIOError
		log.WithComponent("node").Error().Err(err).Msg("persist entries failed")
	}
	n.deliver(raft.Event{Kind: raft.EventPersistedEntries, PersistedFirst: task.FirstIndex, PersistedLast: task.LastIndex, PersistedStatus: status})
}

func (n *Node) doPersistTermAndVote(task raft.Task) {
	status := raft.StatusOK
	if err := n.store.SaveTermAndVote(task.Term, task.VotedFor); err != nil {
		status = raft.StatusIOError
		log.WithComponent("node").Error().Err(err).Msg("persist term/vote failed")
	}
	n.deliver(raft.Event{Kind: raft.EventPersistedTermVote, TermVoteStatus: status})
}

func (n *Node) doPersistSnapshot(task raft.Task) {
	status := raft.StatusOK
	meta := storage.SnapshotMeta{LastIndex: task.SnapshotIndex, LastTerm: task.SnapshotTerm, Configuration: task.Configuration}
	if err := n.store.SaveSnapshotChunk(task.Offset, task.Data, task.IsLast, meta); err != nil {
		status = raft.StatusIOError
		log.WithComponent("node").Error().Err(err).Msg("persist snapshot chunk failed")
	}
	n.deliver(raft.Event{Kind: raft.EventPersistedSnapshot, PersistedSnapshotIndex: task.SnapshotIndex, PersistedSnapshotStatus: status})
}

func (n *Node) doLoadSnapshot(task raft.Task) {
	data, isLast, ok, err := n.store.LoadSnapshotChunk(task.Offset)
	status := raft.StatusOK
	if err != nil || !ok {
		status = raft.StatusIOError
	}
	n.deliver(raft.Event{
		Kind: raft.EventLoadedSnapshot, LoadedIndex: task.SnapshotIndex, LoadedOffset: task.Offset,
		LoadedChunk: data, LoadedLast: isLast, LoadedStatus: status,
	})
}

func (n *Node) doApplyCommand(task raft.Task) {
	timer := metrics.NewTimer()
	result, err := n.fsm.Apply(task.ApplyPayload)
	timer.ObserveDuration(metrics.RaftApplyDuration)
	var payload []byte
	if err == nil {
		payload = result.PreviousValue
	}
	n.deliver(raft.Event{Kind: raft.EventCommandApplied, AppliedIndex: task.ApplyIndex, AppliedResult: payload, AppliedError: err})
}

func (n *Node) doTakeSnapshot(task raft.Task) {
	data, err := n.fsm.Snapshot()
	status := raft.StatusOK
	if err != nil {
		status = raft.StatusIOError
		log.WithComponent("node").Error().Err(err).Msg("fsm snapshot failed")
	} else if err := n.persistChunked(data, task.SnapshotIndex, task.SnapshotTerm, task.Configuration); err != nil {
		status = raft.StatusIOError
	}
	if status == raft.StatusOK {
		metrics.RaftSnapshotsTotal.WithLabelValues("taken").Inc()
	}
	n.deliver(raft.Event{Kind: raft.EventSnapshotTaken, TakenIndex: task.SnapshotIndex, TakenTerm: task.SnapshotTerm, TakenStatus: status})
}

// persistChunked splits an FSM snapshot payload into bounded chunks
// and durably stores them directly (outside the Raft replication
// path; this is the leader's own snapshot, not one installed from a
// peer), finalizing metadata on the last chunk.
func (n *Node) persistChunked(data []byte, index raft.Index, term raft.Term, cfg raft.Configuration) error {
	meta := storage.SnapshotMeta{LastIndex: index, LastTerm: term, Configuration: cfg}
	if len(data) == 0 {
		return n.store.SaveSnapshotChunk(0, nil, true, meta)
	}
	var offset uint64
	for off := 0; off < len(data); off += snapshotChunkSize {
		end := off + snapshotChunkSize
		if end > len(data) {
			end = len(data)
		}
		isLast := end == len(data)
		if err := n.store.SaveSnapshotChunk(offset, data[off:end], isLast, meta); err != nil {
			return err
		}
		offset++
	}
	return nil
}

func (n *Node) doRestoreSnapshot(task raft.Task) {
	data, err := n.assembleSnapshot()
	if err != nil {
		log.WithComponent("node").Error().Err(err).Msg("assemble snapshot for restore failed")
		return
	}
	if err := n.fsm.Restore(data); err != nil {
		log.WithComponent("node").Error().Err(err).Msg("fsm restore failed")
		return
	}
	metrics.RaftSnapshotsTotal.WithLabelValues("installed").Inc()
}

func (n *Node) assembleSnapshot() ([]byte, error) {
	var out []byte
	for offset := uint64(0); ; offset++ {
		chunk, isLast, ok, err := n.store.LoadSnapshotChunk(offset)
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		out = append(out, chunk...)
		if isLast {
			break
		}
	}
	return out, nil
}

func (n *Node) doReleaseEntries(task raft.Task) {
	if err := n.store.ReleaseEntries(task.FirstIndex, task.LastIndex); err != nil {
		log.WithComponent("node").Warn().Err(err).Msg("release entries failed")
	}
}

func (n *Node) complete(task raft.Task) {
	n.pendingMu.Lock()
	ch, ok := n.pending[task.RequestID]
	if ok {
		delete(n.pending, task.RequestID)
	}
	n.pendingMu.Unlock()
	if !ok {
		return
	}
	var err error
	if task.Err != nil {
		err = task.Err
	}
	if task.RequestKind == raft.RequestChange && err == nil {
		metrics.RaftMembershipChangesTotal.Inc()
	}
	ch <- Completion{CommitIndex: task.CommitIndex, Result: task.ApplyPayload, Err: err}
}

// Submit enqueues a client request and blocks until it resolves or ctx
// is cancelled. This is the boundary between the gRPC-facing client
// API and the internal event loop.
func (n *Node) Submit(ctx context.Context, kind raft.RequestKind, payload []byte, target string) (Completion, error) {
	req := &raft.ClientRequest{Kind: kind, ID: uuid.NewString(), Payload: payload, Target: target}
	timer := metrics.NewTimer()
	ch := make(chan Completion, 1)
	n.pendingMu.Lock()
	n.pending[req.ID] = ch
	n.pendingMu.Unlock()

	select {
	case n.submit <- req:
	case <-ctx.Done():
		n.pendingMu.Lock()
		delete(n.pending, req.ID)
		n.pendingMu.Unlock()
		return Completion{}, ctx.Err()
	}

	select {
	case c := <-ch:
		if c.Err == nil && (kind == raft.RequestApply || kind == raft.RequestBarrier) {
			timer.ObserveDuration(metrics.RaftCommitDuration)
		}
		return c, nil
	case <-ctx.Done():
		return Completion{}, ctx.Err()
	}
}

// --- convenience wrappers over Submit for the CLI/clientapi layer ---

// Apply proposes a command be replicated and applied.
func (n *Node) Apply(ctx context.Context, payload []byte) (Completion, error) {
	return n.Submit(ctx, raft.RequestApply, payload, "")
}

// Barrier proposes a no-op barrier entry, resolving once the entry is
// applied: a linearizable read fence.
func (n *Node) Barrier(ctx context.Context) (Completion, error) {
	return n.Submit(ctx, raft.RequestBarrier, nil, "")
}

// ChangeConfiguration proposes a membership change.
func (n *Node) ChangeConfiguration(ctx context.Context, newCfg raft.Configuration) (Completion, error) {
	return n.Submit(ctx, raft.RequestChange, raft.EncodeConfiguration(newCfg), "")
}

// TransferLeadership proposes handing leadership to target.
func (n *Node) TransferLeadership(ctx context.Context, target string) (Completion, error) {
	return n.Submit(ctx, raft.RequestTransfer, nil, target)
}

// Status is a point-in-time read of this node's consensus state, used
// by the CLI's status command and the client API.
type Status struct {
	ID          string
	Role        string
	Term        raft.Term
	LeaderID    string
	CommitIndex raft.Index
	LastApplied raft.Index
	Voters      []string
	Servers     []raft.Server
	Terminal    bool
}

// Status reports the current consensus state: a point-in-time read
// between Step calls, not a linearizable one. Callers needing a
// linearizable read should call Barrier first and only read after it
// resolves.
func (n *Node) Status() Status {
	n.stateMu.RLock()
	defer n.stateMu.RUnlock()
	cfg := n.consensus.Configuration()
	return Status{
		ID:          n.id,
		Role:        n.consensus.Role().String(),
		Term:        n.consensus.Term(),
		LeaderID:    n.consensus.LeaderID(),
		CommitIndex: n.consensus.CommitIndex(),
		LastApplied: n.consensus.LastApplied(),
		Voters:      cfg.Voters(),
		Servers:     cfg.Servers,
		Terminal:    n.consensus.Terminal(),
	}
}

// Get performs a direct (non-linearizable) read of the FSM key/value
// store. Callers wanting a linearizable read should call Barrier
// first and only read after it resolves.
func (n *Node) Get(key string) ([]byte, bool) {
	return n.fsm.Get(key)
}

// ID returns this node's id.
func (n *Node) ID() string { return n.id }

// Bootstrap returns the single-server initial configuration a brand
// new cluster starts from: just this node, as a voter.
func Bootstrap(cfg *config.Config) raft.Configuration {
	return raft.NewConfiguration([]raft.Server{{ID: cfg.NodeID, Address: cfg.BindAddr, Role: raft.RoleVoter}})
}

// JoinConfiguration builds the full-cluster configuration described by
// a node's config file, used to seed Consensus on a node that starts
// already knowing its peers (rather than bootstrapping and growing via
// CHANGE requests).
func JoinConfiguration(cfg *config.Config) raft.Configuration {
	servers := []raft.Server{{ID: cfg.NodeID, Address: cfg.BindAddr, Role: raft.RoleVoter}}
	for _, p := range cfg.Peers {
		role := raft.RoleVoter
		switch p.Role {
		case "standby":
			role = raft.RoleStandby
		case "spare":
			role = raft.RoleSpare
		}
		servers = append(servers, raft.Server{ID: p.ID, Address: p.Address, Role: role})
	}
	return raft.NewConfiguration(servers)
}

// Addresses returns this node's peers' addresses, keyed by id, drawn
// from a Configuration. Exposed for CLI/status use.
func Addresses(cfg raft.Configuration) peerAddresses {
	out := make(peerAddresses, len(cfg.Servers))
	for _, s := range cfg.Servers {
		out[s.ID] = s.Address
	}
	return out
}
