package raft

// TaskKind enumerates the side-effect descriptors Consensus.Step can
// emit. The host executes these outside Step and
// reports completion as a later Event.
type TaskKind int

const (
	TaskSendMessage TaskKind = iota
	TaskPersistEntries
	TaskPersistTermAndVote
	TaskPersistSnapshot
	TaskLoadSnapshot
	TaskApplyCommand
	TaskTakeSnapshot
	TaskRestoreSnapshot
	TaskReleaseEntries
	TaskCompleteRequest
)

// Task is one ordered output of a single Step call. Tasks within one
// step are independent of each other's outcome but are emitted in a
// defined order: persistence before any message that depends on it.
type Task struct {
	Kind TaskKind

	// TaskSendMessage
	To      string
	Address string
	Message Message

	// TaskPersistEntries / TaskReleaseEntries
	FirstIndex Index
	LastIndex  Index
	Entries    []Entry

	// TaskPersistTermAndVote
	Term     Term
	VotedFor string

	// TaskPersistSnapshot / TaskLoadSnapshot / TaskRestoreSnapshot /
	// TaskTakeSnapshot
	SnapshotIndex Index
	SnapshotTerm  Term
	Offset        uint64
	Data          []byte
	IsLast        bool
	Configuration Configuration

	// TaskApplyCommand
	ApplyIndex   Index
	ApplyPayload []byte

	// TaskCompleteRequest: a client request's outcome is ready for the
	// host to deliver back to the caller. Err is nil on success.
	RequestID    string
	RequestKind  RequestKind
	Err          *Error
	CommitIndex  Index
}

// taskQueue is the ordered output buffer a single Step call writes
// into.
type taskQueue struct {
	tasks []Task
}

func (q *taskQueue) push(t Task) { q.tasks = append(q.tasks, t) }

func (q *taskQueue) drain() []Task {
	out := q.tasks
	q.tasks = nil
	return out
}
