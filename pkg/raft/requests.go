package raft

import "sort"

// ClientRequest is a locally submitted operation awaiting resolution.
type ClientRequest struct {
	Kind RequestKind
	ID   string

	// Command payload for APPLY; Configuration-encoded payload for
	// CHANGE; unused for BARRIER; target server id for TRANSFER.
	Payload []byte
	Target  string
}

// pendingRequest is the registry's bookkeeping for one outstanding
// request: which log index anchors it and at what term it was
// proposed, so a later truncation that drops that term's entry can be
// told apart from a legitimate re-proposal at the same index.
type pendingRequest struct {
	req         ClientRequest
	anchorIndex Index
	anchorTerm  Term
}

// RequestRegistry is keyed by anchoring log index for APPLY/CHANGE/
// BARRIER, plus a single slot for an in-flight TRANSFER.
type RequestRegistry struct {
	byIndex  map[Index]*pendingRequest
	transfer *pendingRequest
}

// NewRequestRegistry returns an empty registry.
func NewRequestRegistry() *RequestRegistry {
	return &RequestRegistry{byIndex: make(map[Index]*pendingRequest)}
}

// Anchor records req as anchored at (index, term), the point at which
// it becomes resolvable.
func (r *RequestRegistry) Anchor(req ClientRequest, index Index, term Term) {
	p := &pendingRequest{req: req, anchorIndex: index, anchorTerm: term}
	if req.Kind == RequestTransfer {
		r.transfer = p
		return
	}
	r.byIndex[index] = p
}

// Transfer returns the in-flight transfer request, if any.
func (r *RequestRegistry) Transfer() (ClientRequest, bool) {
	if r.transfer == nil {
		return ClientRequest{}, false
	}
	return r.transfer.req, true
}

// ClearTransfer drops the in-flight transfer slot.
func (r *RequestRegistry) ClearTransfer() { r.transfer = nil }

// sortedIndexes returns the registry's pending indexes in ascending
// order, so every method below emits TaskCompleteRequest tasks in a
// stable order instead of Go's randomized map iteration order.
func (r *RequestRegistry) sortedIndexes() []Index {
	idxs := make([]Index, 0, len(r.byIndex))
	for idx := range r.byIndex {
		idxs = append(idxs, idx)
	}
	sort.Slice(idxs, func(i, j int) bool { return idxs[i] < idxs[j] })
	return idxs
}

// HasConfigurationChange reports whether a CHANGE request is anchored
// and not yet resolved, part of the configuration_uncommitted_index
// gate.
func (r *RequestRegistry) HasConfigurationChange() bool {
	for _, p := range r.byIndex {
		if p.req.Kind == RequestChange {
			return true
		}
	}
	return false
}

// ResolveUpTo resolves every APPLY/BARRIER/CHANGE request anchored at
// an index <= lastApplied whose anchor term still matches the log
// (i.e. it wasn't silently overwritten by a later truncation at the
// same index; Truncated already would have removed it from the
// registry). results supplies the FSM's COMMAND_APPLIED payload for
// the matching APPLY index, if any.
func (r *RequestRegistry) ResolveUpTo(lastApplied Index, log *Log, result func(Index) ([]byte, error)) []Task {
	var out []Task
	for _, idx := range r.sortedIndexes() {
		p := r.byIndex[idx]
		if idx > lastApplied {
			continue
		}
		if t := log.TermOf(idx); t != p.anchorTerm {
			// Entry at this index belongs to a different term than
			// when we anchored: Truncated should already have purged
			// this, but guard defensively rather than complete wrongly.
			delete(r.byIndex, idx)
			continue
		}
		task := Task{
			Kind:        TaskCompleteRequest,
			RequestID:   p.req.ID,
			RequestKind: p.req.Kind,
			CommitIndex: idx,
		}
		if p.req.Kind == RequestApply && result != nil {
			payload, err := result(idx)
			task.ApplyPayload = payload
			if err != nil {
				task.Err = wrapErr(ErrIO, err)
			}
		}
		out = append(out, task)
		delete(r.byIndex, idx)
	}
	return out
}

// Truncated fails every request anchored at an index >= fromIndex,
// since truncation means the entry it was waiting on is gone.
func (r *RequestRegistry) Truncated(fromIndex Index) []Task {
	var out []Task
	for _, idx := range r.sortedIndexes() {
		if idx < fromIndex {
			continue
		}
		p := r.byIndex[idx]
		out = append(out, Task{
			Kind:        TaskCompleteRequest,
			RequestID:   p.req.ID,
			RequestKind: p.req.Kind,
			Err:         newErr(ErrLeadershipLost),
		})
		delete(r.byIndex, idx)
	}
	return out
}

// FlushLeadershipLost fails every pending request (APPLY/BARRIER/
// CHANGE and any in-flight TRANSFER) with LEADERSHIP_LOST, used when
// this server steps down.
func (r *RequestRegistry) FlushLeadershipLost() []Task {
	var out []Task
	for _, idx := range r.sortedIndexes() {
		p := r.byIndex[idx]
		out = append(out, Task{Kind: TaskCompleteRequest, RequestID: p.req.ID, RequestKind: p.req.Kind, Err: newErr(ErrLeadershipLost)})
		delete(r.byIndex, idx)
	}
	if r.transfer != nil {
		out = append(out, Task{Kind: TaskCompleteRequest, RequestID: r.transfer.req.ID, RequestKind: RequestTransfer, Err: newErr(ErrLeadershipLost)})
		r.transfer = nil
	}
	return out
}

// FlushShutdown fails every pending request with SHUTDOWN.
func (r *RequestRegistry) FlushShutdown() []Task {
	var out []Task
	for _, idx := range r.sortedIndexes() {
		p := r.byIndex[idx]
		out = append(out, Task{Kind: TaskCompleteRequest, RequestID: p.req.ID, RequestKind: p.req.Kind, Err: newErr(ErrShutdown)})
		delete(r.byIndex, idx)
	}
	if r.transfer != nil {
		out = append(out, Task{Kind: TaskCompleteRequest, RequestID: r.transfer.req.ID, RequestKind: RequestTransfer, Err: newErr(ErrShutdown)})
		r.transfer = nil
	}
	return out
}
