package raft

// ElectionTracker tallies RequestVote grants/rejections for one
// candidacy, separately per joint-consensus half.
type ElectionTracker struct {
	granted map[string]bool
	term    Term
	preVote bool
}

// NewElectionTracker starts a fresh tally for term.
func NewElectionTracker(term Term, preVote bool) *ElectionTracker {
	return &ElectionTracker{granted: make(map[string]bool), term: term, preVote: preVote}
}

// Term reports which term (or prospective term, for pre-vote) this
// tracker is tallying.
func (e *ElectionTracker) Term() Term { return e.term }

// PreVote reports whether this tally is for the non-durable pre-vote
// phase.
func (e *ElectionTracker) PreVote() bool { return e.preVote }

// Record stores a peer's vote decision.
func (e *ElectionTracker) Record(peer string, granted bool) {
	e.granted[peer] = granted
}

// Outcome reports whether cfg's quorum rule is satisfied by the votes
// recorded so far, and whether a majority has instead rejected (so
// the candidate can stop waiting).
func (e *ElectionTracker) Outcome(cfg Configuration) (won bool, lost bool) {
	if cfg.HasQuorum(e.granted) {
		return true, false
	}
	// A quorum that can never be reached, because every voter not yet
	// counted as a grant has either already rejected or has no chance
	// left to respond in our favor, counts as lost, letting a
	// candidate give up early rather than wait out the full election
	// timeout.
	possible := make(map[string]bool, len(e.granted))
	for id, ok := range e.granted {
		if ok {
			possible[id] = true
		}
	}
	for _, id := range cfg.VotingMembers() {
		if _, responded := e.granted[id]; !responded {
			possible[id] = true
		}
	}
	if !cfg.HasQuorum(possible) {
		return false, true
	}
	return false, false
}
